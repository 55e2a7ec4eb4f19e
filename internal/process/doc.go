// Package process runs the external host processes behind an instance.
//
// BaseProcess owns one exec.Cmd: it wires stdout/stderr into log files,
// makes exactly one cmd.Wait call, publishes the exit through ExitStatus, and
// stops the process with SIGTERM followed by SIGKILL. WaitReady polls a
// readiness check and gives up as soon as the process exits. LastLine pulls
// the final diagnostic out of a stderr log so a host's own failure message
// can be reported verbatim.
package process
