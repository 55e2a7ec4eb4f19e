// Package hoststack is the process-backed Framework. Each instance runs one
// agent next to either one app process or a set of worker processes, all
// started from the same host binary on ports taken from a shared
// netutil.PortRegistry.
package hoststack
