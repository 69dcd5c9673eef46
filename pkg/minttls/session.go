package minttls

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bifurcation/mint"

	"github.com/meshguard/tlswire/pkg/tlswire"
)

const (
	// writeChunk bounds how much plaintext one Write hands to the engine.
	// Callers resubmit the remainder, so large buffers surface as partial
	// transfers instead of unbounded ciphertext queues.
	writeChunk = 16 * 1024
	// sendChunk bounds one transport send callback invocation.
	sendChunk = 32 * 1024
	// recvChunk is the transport pull size.
	recvChunk = 16 * 1024

	// The engine decrypts inbound records on an internal goroutine that
	// polls about once a millisecond. settleWait bounds how long a session
	// method waits for queued ciphertext to surface before reporting a
	// Want status.
	settleWait = 200 * time.Millisecond
	settleStep = time.Millisecond
)

var (
	errNotEstablished = errors.New("session is not established")
	errPeerClosed     = errors.New("transport closed by peer")
	errSendFailed     = errors.New("transport send callback failed")
)

type session struct {
	ref  *tlswire.RefCount
	logf tlswire.LogFunc
	uid  any
	role string

	send    tlswire.SendFunc
	sendCtx any
	recv    tlswire.RecvFunc
	recvCtx any

	mu          sync.Mutex
	conn        *bufferConn
	tc          *mint.Conn
	established bool
	failed      bool
	recvEOF     bool
	created     time.Time
	metrics     *sessionMetrics
}

func newSession(cfg *mint.Config, isClient bool,
	send tlswire.SendFunc, sendCtx any,
	recv tlswire.RecvFunc, recvCtx any,
	uid any, logf tlswire.LogFunc) *session {

	conn := &bufferConn{}
	var tc *mint.Conn
	role := "server"
	if isClient {
		tc = mint.Client(conn, cfg)
		role = "client"
	} else {
		tc = mint.Server(conn, cfg)
	}

	s := &session{
		logf:    logf,
		uid:     uid,
		role:    role,
		send:    send,
		sendCtx: sendCtx,
		recv:    recv,
		recvCtx: recvCtx,
		conn:    conn,
		tc:      tc,
		created: time.Now(),
		metrics: getSessionMetrics(),
	}
	s.ref = tlswire.NewRefCount(s.teardown)
	s.metrics.recordSessionStart(role)
	return s
}

func (s *session) AddRef()  { s.ref.AddRef() }
func (s *session) Release() { s.ref.Release() }

func (s *session) teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.failed {
		_ = s.tc.Close()
	}
	_ = s.conn.Close()
	s.metrics.recordSessionEnd(s.role)
}

// fail latches the terminal state. Transport callbacks are never invoked
// again afterwards.
func (s *session) fail(event string, err error) tlswire.Status {
	if !s.failed {
		s.failed = true
		var attrs []tlswire.Attr
		if err != nil {
			attrs = append(attrs, tlswire.Attr{Name: "Reason", Value: err.Error()})
		}
		s.logf(event, s.uid, true, attrs...)
		if !s.established {
			s.metrics.recordHandshake(s.role, "failure", time.Since(s.created))
		}
		_ = s.conn.Close()
	}
	return tlswire.StatusFailed
}

// flushOut pushes queued ciphertext through the send callback. It returns
// true when the transport reported a fatal error; a zero-byte send simply
// leaves the remainder queued for a later attempt.
func (s *session) flushOut() (fatal bool) {
	for {
		p := s.conn.peekOut(sendChunk)
		if len(p) == 0 {
			return false
		}
		n := s.send(s.sendCtx, p)
		if n < 0 {
			s.fail("TLSConnectionSendError", errSendFailed)
			return true
		}
		if n == 0 {
			return false
		}
		if n > len(p) {
			n = len(p)
		}
		s.conn.discardOut(n)
	}
}

// fillIn pulls whatever the transport has buffered into the engine's inbound
// queue. eof reports that the transport signalled error or closure. The recv
// callback is never invoked again once it has returned -1.
func (s *session) fillIn() (progressed, eof bool) {
	if s.recvEOF {
		return false, true
	}
	buf := make([]byte, recvChunk)
	for {
		n := s.recv(s.recvCtx, buf)
		if n > 0 {
			s.conn.feed(buf[:n])
			progressed = true
			if n < len(buf) {
				return progressed, false
			}
			continue
		}
		if n < 0 {
			s.recvEOF = true
			s.conn.markInEOF()
			return progressed, true
		}
		return progressed, false
	}
}

func (s *session) connected() bool {
	state := s.tc.GetHsState()
	return state == mint.StateClientConnected || state == mint.StateServerConnected
}

func (s *session) Handshake() tlswire.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failed {
		return tlswire.StatusFailed
	}
	if s.established {
		// Idempotent once established; only the final flight may still
		// need flushing.
		if s.flushOut() {
			return tlswire.StatusFailed
		}
		if s.conn.outLen() > 0 {
			return tlswire.StatusWantWrite
		}
		return tlswire.StatusSuccess
	}

	for {
		alert := s.tc.Handshake()
		switch alert {
		case mint.AlertNoAlert, mint.AlertWouldBlock, mint.AlertStatelessRetry:
		default:
			s.flushOut() // best effort to deliver our alert record
			return s.fail("TLSConnectionHandshakeError",
				fmt.Errorf("handshake alert: %v", alert))
		}

		if s.flushOut() {
			return tlswire.StatusFailed
		}

		if s.connected() {
			s.established = true
			s.metrics.recordHandshake(s.role, "success", time.Since(s.created))
			s.logf("TLSConnectionHandshakeOK", s.uid, false,
				tlswire.Attr{Name: "Role", Value: s.role})
			if s.conn.outLen() > 0 {
				return tlswire.StatusWantWrite
			}
			return tlswire.StatusSuccess
		}

		if alert == mint.AlertWouldBlock || alert == mint.AlertStatelessRetry {
			progressed, eof := s.fillIn()
			if progressed {
				continue
			}
			if eof {
				return s.fail("TLSConnectionHandshakeEOF", errPeerClosed)
			}
			if s.conn.outLen() > 0 {
				return tlswire.StatusWantWrite
			}
			return tlswire.StatusWantRead
		}
	}
}

func (s *session) Read(p []byte) (int, tlswire.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failed {
		return 0, tlswire.StatusFailed
	}
	if !s.established {
		return 0, s.fail("TLSConnectionReadNotEstablished", errNotEstablished)
	}
	if s.flushOut() {
		return 0, tlswire.StatusFailed
	}
	if len(p) == 0 {
		return 0, tlswire.StatusWantRead
	}

	_, eof := s.fillIn()

	deadline := time.Now().Add(settleWait)
	for {
		n, err := s.tc.Read(p)
		if n > 0 {
			s.metrics.recordBytes(s.role, "rx", n)
			return n, tlswire.StatusSuccess
		}
		switch err {
		case nil, mint.AlertWouldBlock:
		case io.EOF:
			return 0, s.fail("TLSConnectionReadEOF", errPeerClosed)
		default:
			return 0, s.fail("TLSConnectionReadError", err)
		}
		// Ciphertext we just fed may still be queued behind the engine's
		// record pump; give it a bounded moment to surface.
		if s.conn.inLen() == 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(settleStep)
	}

	if eof && s.conn.inLen() == 0 {
		return 0, s.fail("TLSConnectionReadEOF", errPeerClosed)
	}
	return 0, tlswire.StatusWantRead
}

func (s *session) Write(p []byte) (int, tlswire.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failed {
		return 0, tlswire.StatusFailed
	}
	if !s.established {
		return 0, s.fail("TLSConnectionWriteNotEstablished", errNotEstablished)
	}
	if s.flushOut() {
		return 0, tlswire.StatusFailed
	}
	if s.conn.outLen() > 0 {
		// Ciphertext from an earlier call is still queued; accepting more
		// plaintext would grow the queue without bound.
		return 0, tlswire.StatusWantWrite
	}
	if len(p) == 0 {
		return 0, tlswire.StatusWantWrite
	}

	chunk := p
	if len(chunk) > writeChunk {
		chunk = chunk[:writeChunk]
	}
	// The engine retains the slice beyond this call.
	buf := make([]byte, len(chunk))
	copy(buf, chunk)

	deadline := time.Now().Add(settleWait)
	for {
		_, err := s.tc.Write(buf)
		if err == nil {
			break
		}
		switch err {
		case mint.AlertWouldBlock:
			if time.Now().After(deadline) {
				return 0, tlswire.StatusWantWrite
			}
			time.Sleep(settleStep)
		case io.EOF:
			return 0, s.fail("TLSConnectionWriteEOF", errPeerClosed)
		default:
			return 0, s.fail("TLSConnectionWriteError", err)
		}
	}

	// The engine encrypts asynchronously; wait briefly for the record to
	// land so this call can usually deliver it too.
	for s.conn.outLen() == 0 && time.Now().Before(deadline) {
		time.Sleep(settleStep)
	}
	if s.flushOut() {
		return 0, tlswire.StatusFailed
	}

	s.metrics.recordBytes(s.role, "tx", len(chunk))
	return len(chunk), tlswire.StatusSuccess
}
