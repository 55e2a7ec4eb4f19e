// Package testhost is a fake host binary for tests.
//
// A test package re-executes its own test binary as the host:
//
//	func TestHelperHost(t *testing.T) {
//		if !testhost.Enabled() {
//			t.Skip("helper process")
//		}
//		os.Exit(testhost.Run(testhost.Args(os.Args)))
//	}
//
// and points the framework at Binary() with Command() as leading arguments
// and Env() as extra environment. The host reads its behavior from the file
// named BehaviorFile in its base dir.
package testhost

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// EnvVar switches a test binary into host mode.
const EnvVar = "APPMOCK_TEST_HOST"

// BehaviorFile is read from the base dir to select a behavior.
const BehaviorFile = "behavior"

// Behaviors.
const (
	// BehaviorOK serves until terminated.
	BehaviorOK = "ok"

	// BehaviorLoadFail makes the app and workers exit at once with "load error".
	BehaviorLoadFail = "load-fail"

	// BehaviorLoadingFail makes the app and workers answer 503 for a while,
	// then exit with "loading error".
	BehaviorLoadingFail = "loading-fail"

	// BehaviorAgentFail makes the agent become ready, then exit with
	// "agent load error".
	BehaviorAgentFail = "agent-fail"

	// BehaviorCloseFail makes the app and workers exit with status 3 and
	// "app close error" on SIGTERM.
	BehaviorCloseFail = "close-fail"
)

// ContextPath accepts POSTed JSON objects merged into the mock context.
const ContextPath = "/__appmock/context"

// AgentFailDelay is how long a failing agent stays ready.
const AgentFailDelay = 300 * time.Millisecond

// Enabled reports whether this process runs as the fake host.
func Enabled() bool {
	return os.Getenv(EnvVar) == "1"
}

// Binary returns the path of the running test binary.
func Binary() string {
	return os.Args[0]
}

// Command returns the leading arguments that route the test binary to
// TestHelperHost.
func Command() []string {
	return []string{"-test.run=^TestHelperHost$", "--"}
}

// Env returns the environment that enables host mode.
func Env() []string {
	return []string{EnvVar + "=1"}
}

// Args returns the host arguments after the "--" separator.
func Args(osArgs []string) []string {
	for i, a := range osArgs {
		if a == "--" {
			return osArgs[i+1:]
		}
	}
	return nil
}

// WriteBehavior selects the behavior of hosts started in baseDir.
func WriteBehavior(baseDir, behavior string) error {
	return os.WriteFile(filepath.Join(baseDir, BehaviorFile), []byte(behavior+"\n"), 0o600)
}

// ArgsFile returns where a host with the given name records its arguments
// and environment, one per line.
func ArgsFile(baseDir, name string) string {
	return filepath.Join(baseDir, "run", name+".args")
}

type options struct {
	role      string
	port      int
	baseDir   string
	framework string
	config    string
	worker    int
}

func (o options) name() string {
	if o.role == "worker" {
		return "worker-" + strconv.Itoa(o.worker)
	}
	return o.role
}

// Run runs the fake host and returns its exit code.
func Run(args []string) int {
	fs := flag.NewFlagSet("testhost", flag.ContinueOnError)
	var o options
	fs.StringVar(&o.role, "role", "", "")
	fs.IntVar(&o.port, "port", 0, "")
	fs.StringVar(&o.baseDir, "base-dir", "", "")
	fs.StringVar(&o.framework, "framework", "", "")
	fs.StringVar(&o.config, "config", "", "")
	fs.IntVar(&o.worker, "worker", 0, "")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if err := record(o, args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	behavior := readBehavior(o.baseDir)
	isMain := o.role == "app" || o.role == "worker"

	switch {
	case behavior == BehaviorLoadFail && isMain:
		fmt.Fprintln(os.Stderr, "load error")
		return 1
	case behavior == BehaviorCloseFail && isMain:
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGTERM)
		go func() {
			<-sigs
			fmt.Fprintln(os.Stderr, "app close error")
			os.Exit(3)
		}()
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(o.port)))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ready := behavior != BehaviorLoadingFail || !isMain
	srv := &http.Server{Handler: newHandler(o, ready), ReadHeaderTimeout: time.Second}
	go func() { _ = srv.Serve(ln) }()

	switch {
	case behavior == BehaviorLoadingFail && isMain:
		time.Sleep(200 * time.Millisecond)
		fmt.Fprintln(os.Stderr, "loading error")
		return 1
	case behavior == BehaviorAgentFail && o.role == "agent":
		time.Sleep(AgentFailDelay)
		fmt.Fprintln(os.Stderr, "agent load error")
		return 1
	}

	select {}
}

func readBehavior(baseDir string) string {
	data, err := os.ReadFile(filepath.Join(baseDir, BehaviorFile))
	if err != nil {
		return BehaviorOK
	}
	return strings.TrimSpace(string(data))
}

func record(o options, args []string) error {
	path := ArgsFile(o.baseDir, o.name())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	lines := append([]string(nil), args...)
	if dir := os.Getenv("GOCOVERDIR"); dir != "" {
		lines = append(lines, "GOCOVERDIR="+dir)
	}
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600)
}

func newHandler(o options, ready bool) http.Handler {
	var (
		mu     sync.Mutex
		mocked = map[string]any{}
	)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "ok")
	})
	mux.HandleFunc("POST "+ContextPath, func(w http.ResponseWriter, r *http.Request) {
		var data map[string]any
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		for k, v := range data {
			mocked[k] = v
		}
		out, err := json.Marshal(mocked)
		mu.Unlock()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(out)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, "%s %s %s", o.name(), r.Method, r.URL.Path)
	})
	return mux
}
