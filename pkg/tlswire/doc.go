// Package tlswire defines the pluggable TLS transport contract an RPC
// runtime uses to run encrypted connections over a swappable backend.
//
// The contract is three reference-counted entities: a Plugin produces
// Policies, a Policy holds lockable trust configuration and produces
// Sessions, and a Session drives a non-blocking handshake and relays
// application bytes through caller-supplied transport callbacks. The core
// never opens a socket and never suspends the calling goroutine; blocking is
// signalled with StatusWantRead/StatusWantWrite and retried by the caller
// once the transport is ready in that direction.
package tlswire
