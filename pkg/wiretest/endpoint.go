// Package wiretest provides an in-memory byte transport for exercising
// callback-driven sessions, plus drivers that run handshakes and data
// exchanges to completion and a conformance suite for backend
// implementations.
package wiretest

import (
	"bytes"
	"sync"
)

// Endpoint is one side of an in-memory duplex byte pipe. Send queues bytes
// into the peer's inbox subject to a capacity limit, which is how tests
// force zero-byte sends and the resulting want-write paths.
type Endpoint struct {
	name string

	mu       sync.Mutex
	inbox    bytes.Buffer
	capacity int
	closed   bool
	peerDown bool
	sendErr  bool
	recvErr  bool

	peer *Endpoint
}

// DefaultCapacity bounds in-flight bytes per direction unless PairWithCapacity
// says otherwise. It is intentionally smaller than a TLS flight so handshakes
// exercise partial sends.
const DefaultCapacity = 4 * 1024

// Pair returns two connected endpoints with the default capacity.
func Pair() (*Endpoint, *Endpoint) {
	return PairWithCapacity(DefaultCapacity)
}

// PairWithCapacity returns two connected endpoints, each accepting at most
// capacity in-flight bytes. capacity <= 0 means unlimited.
func PairWithCapacity(capacity int) (*Endpoint, *Endpoint) {
	a := &Endpoint{name: "a", capacity: capacity}
	b := &Endpoint{name: "b", capacity: capacity}
	a.peer = b
	b.peer = a
	return a, b
}

// Send queues up to len(p) bytes for the peer. It returns the number of
// bytes accepted, zero when the peer's inbox is full, or -1 after a Close
// or injected fault.
func (e *Endpoint) Send(p []byte) int {
	e.mu.Lock()
	if e.closed || e.sendErr {
		e.mu.Unlock()
		return -1
	}
	e.mu.Unlock()

	peer := e.peer
	peer.mu.Lock()
	defer peer.mu.Unlock()
	if peer.closed {
		return -1
	}

	n := len(p)
	if peer.capacity > 0 {
		room := peer.capacity - peer.inbox.Len()
		if room <= 0 {
			return 0
		}
		if n > room {
			n = room
		}
	}
	peer.inbox.Write(p[:n])
	return n
}

// Recv copies queued bytes into p. It returns zero when nothing is queued,
// and -1 once the pipe is down (either side closed, or an injected fault)
// and the queue is drained.
func (e *Endpoint) Recv(p []byte) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.recvErr {
		return -1
	}
	if e.inbox.Len() > 0 {
		n, _ := e.inbox.Read(p)
		return n
	}
	if e.closed || e.peerDown {
		return -1
	}
	return 0
}

// Close tears down this side. The peer drains its queue and then sees -1.
// The two locks are taken sequentially, never nested.
func (e *Endpoint) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.peer.mu.Lock()
	e.peer.peerDown = true
	e.peer.mu.Unlock()
}

// FailSends makes every subsequent Send return -1.
func (e *Endpoint) FailSends() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sendErr = true
}

// FailRecvs makes every subsequent Recv return -1, even with bytes queued.
func (e *Endpoint) FailRecvs() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recvErr = true
}

// Queued reports the bytes waiting to be received on this side.
func (e *Endpoint) Queued() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inbox.Len()
}

// Send is a transport send callback whose ctx is the *Endpoint to send on.
func Send(ctx any, p []byte) int {
	return ctx.(*Endpoint).Send(p)
}

// Recv is a transport receive callback whose ctx is the *Endpoint to
// receive from.
func Recv(ctx any, p []byte) int {
	return ctx.(*Endpoint).Recv(p)
}
