// Package hostproc runs one host process of an instance: the app, the agent
// or a cluster worker. It builds the host command line, waits for the host's
// /readyz endpoint and turns an unexpected exit into an error carrying the
// last line the host wrote to stderr.
package hostproc
