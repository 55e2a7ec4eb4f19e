// Package netutil allocates loopback ports for host processes.
// PortRegistry binds every requested listener at once so the kernel hands out
// distinct ports, and remembers reserved ports so concurrent instances never
// receive the same one between allocation and process start.
package netutil
