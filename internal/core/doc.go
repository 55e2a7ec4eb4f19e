// Package core implements the appmock instance lifecycle.
//
// Resolve turns a caller's Config into an EffectiveConfig and identity key.
// Instance drives one mock through Created, Loading, Ready or Failed, Closing
// and Closed, delivering every failure to exactly one of the error observers,
// the readiness wait, or the close result. Manager caches live instances by
// identity key and evicts them when they fail or close.
//
// Lock order is Manager.mu before Instance.mu. An Instance never calls into
// its Manager while holding its own lock.
package core
