package minttls

import (
	"bytes"
	"io"
	"net"
	"sync"
	"time"
)

// bufferConn adapts the callback transport to the net.Conn surface the TLS
// engine expects. It is a pair of locked byte buffers: the engine reads
// plaintext-in ciphertext from in and writes ciphertext into out. The
// session pumps bytes between these buffers and the transport callbacks on
// the caller's goroutine; the engine's internal goroutines only ever touch
// the buffers, never the callbacks.
type bufferConn struct {
	mu     sync.Mutex
	in     bytes.Buffer
	out    bytes.Buffer
	inEOF  bool
	closed bool
}

// Read drains buffered inbound bytes. With the buffer empty it reports
// io.EOF after the transport signalled closure and (0, nil) otherwise,
// which the engine's non-blocking record layer treats as starvation.
func (c *bufferConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.in.Len() > 0 {
		return c.in.Read(p)
	}
	if c.closed || c.inEOF {
		return 0, io.EOF
	}
	return 0, nil
}

func (c *bufferConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, net.ErrClosed
	}
	return c.out.Write(p)
}

func (c *bufferConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// feed appends transport bytes for the engine to consume.
func (c *bufferConn) feed(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.in.Write(p)
}

// markInEOF records that the transport will deliver no further bytes.
// Buffered bytes are still readable; the engine sees io.EOF after them.
func (c *bufferConn) markInEOF() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inEOF = true
}

func (c *bufferConn) inLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.in.Len()
}

func (c *bufferConn) outLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Len()
}

// peekOut copies up to max outbound bytes without consuming them. The copy
// matters: the transport callback may retain the slice only for the call,
// but the engine can append to out concurrently.
func (c *bufferConn) peekOut(max int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.out.Len()
	if n == 0 {
		return nil
	}
	if n > max {
		n = max
	}
	p := make([]byte, n)
	copy(p, c.out.Bytes()[:n])
	return p
}

func (c *bufferConn) discardOut(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out.Next(n)
}

type bufferAddr struct{}

func (bufferAddr) Network() string { return "callback" }
func (bufferAddr) String() string  { return "callback" }

func (c *bufferConn) LocalAddr() net.Addr  { return bufferAddr{} }
func (c *bufferConn) RemoteAddr() net.Addr { return bufferAddr{} }

func (c *bufferConn) SetDeadline(time.Time) error      { return nil }
func (c *bufferConn) SetReadDeadline(time.Time) error  { return nil }
func (c *bufferConn) SetWriteDeadline(time.Time) error { return nil }
