package netutil

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// maxPortRetries bounds how often a single allocation asks the kernel for a
// port that is not already reserved.
const maxPortRetries = 20

// PortRegistry tracks ports reserved by this process. A port handed out by
// the kernel is free again as soon as its probe listener closes, so without
// the registry two instances starting together could both receive it.
//
// The Manager owns one registry and shares it with every host stack.
type PortRegistry struct {
	mu    sync.Mutex
	ports map[int]struct{}
	log   *slog.Logger
}

// NewPortRegistry creates an empty registry. A nil logger falls back to
// slog.Default().
func NewPortRegistry(logger *slog.Logger) *PortRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &PortRegistry{
		ports: make(map[int]struct{}),
		log:   logger,
	}
}

// reserve registers port and reports whether it was free.
func (r *PortRegistry) reserve(port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ports[port]; ok {
		return false
	}
	r.ports[port] = struct{}{}
	return true
}

// Release removes ports from the registry. Zero values are ignored so callers
// can release partially populated slices. Releasing a port that is not held
// is logged at debug level.
func (r *PortRegistry) Release(ports ...int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range ports {
		if p == 0 {
			continue
		}
		if _, ok := r.ports[p]; !ok {
			r.log.Debug("released port was not reserved", "port", p)
			continue
		}
		delete(r.ports, p)
	}
}

// Reserved reports how many ports are currently held.
func (r *PortRegistry) Reserved() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ports)
}

// listenFree asks the kernel for a port that is not in the registry. The
// returned listener keeps the port bound until the caller closes it; the
// registry entry stays until Release.
func (r *PortRegistry) listenFree() (*net.TCPListener, int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, 0, fmt.Errorf("resolve tcp address: %w", err)
	}

	for range maxPortRetries {
		l, err := net.ListenTCP("tcp", addr)
		if err != nil {
			return nil, 0, fmt.Errorf("listen on tcp address: %w", err)
		}
		tcpAddr, ok := l.Addr().(*net.TCPAddr)
		if !ok {
			_ = l.Close()
			return nil, 0, fmt.Errorf("unexpected address type: %T", l.Addr())
		}
		if r.reserve(tcpAddr.Port) {
			return l, tcpAddr.Port, nil
		}
		r.log.Debug("port already in registry, retrying", "port", tcpAddr.Port)
		_ = l.Close()
	}
	return nil, 0, fmt.Errorf("allocate unique port: exhausted %d attempts", maxPortRetries)
}

// AllocatePorts reserves n distinct free ports. All probe listeners are held
// open until the last one is bound. On failure every port reserved so far is
// released again. Callers must Release the ports once the processes using
// them have stopped.
func (r *PortRegistry) AllocatePorts(n int) ([]int, error) {
	if n <= 0 {
		return nil, fmt.Errorf("port count must be positive, got %d", n)
	}

	listeners := make([]*net.TCPListener, 0, n)
	ports := make([]int, 0, n)
	closeAll := func() error {
		var errs []error
		for i, l := range listeners {
			if err := l.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close listener on port %d: %w", ports[i], err))
			}
		}
		return errors.Join(errs...)
	}

	for i := range n {
		l, p, err := r.listenFree()
		if err != nil {
			// Close before releasing so no other caller can be handed a
			// port that is still bound here.
			if closeErr := closeAll(); closeErr != nil {
				r.log.Warn("close listeners after failed allocation", "error", closeErr)
			}
			r.Release(ports...)
			return nil, fmt.Errorf("allocate port %d of %d: %w", i+1, n, err)
		}
		listeners = append(listeners, l)
		ports = append(ports, p)
	}

	if err := closeAll(); err != nil {
		r.log.Warn("close listeners after port allocation", "error", err)
	}
	return ports, nil
}

// AllocatePort reserves a single free port.
func (r *PortRegistry) AllocatePort() (int, error) {
	ports, err := r.AllocatePorts(1)
	if err != nil {
		return 0, err
	}
	return ports[0], nil
}
