package wiretest

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEndpointRoundTrip(t *testing.T) {
	a, b := Pair()

	n := a.Send([]byte("hello"))
	require.Equal(t, 5, n)
	assert.Equal(t, 5, b.Queued())

	buf := make([]byte, 16)
	n = b.Recv(buf)
	require.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf[:5]))

	// Empty pipe reports no progress, not an error.
	assert.Zero(t, b.Recv(buf))
}

func TestEndpointCapacity(t *testing.T) {
	a, b := PairWithCapacity(4)

	assert.Equal(t, 4, a.Send([]byte("abcdef")))
	// Full inbox accepts nothing.
	assert.Zero(t, a.Send([]byte("gh")))

	buf := make([]byte, 2)
	assert.Equal(t, 2, b.Recv(buf))
	// Draining frees capacity.
	assert.Equal(t, 2, a.Send([]byte("ef")))
}

func TestEndpointClose(t *testing.T) {
	a, b := Pair()
	require.Equal(t, 3, a.Send([]byte("end")))
	a.Close()

	// The peer drains queued bytes before seeing the close.
	buf := make([]byte, 8)
	assert.Equal(t, 3, b.Recv(buf))
	assert.Equal(t, -1, b.Recv(buf))

	// Sending toward a closed peer fails.
	assert.Equal(t, -1, b.Send([]byte("x")))
	// So does anything on the closed side.
	assert.Equal(t, -1, a.Send([]byte("x")))
	assert.Equal(t, -1, a.Recv(buf))
}

func TestEndpointFaultInjection(t *testing.T) {
	a, b := Pair()

	a.FailSends()
	assert.Equal(t, -1, a.Send([]byte("x")))

	require.Equal(t, 1, b.Send([]byte("y")))
	a.FailRecvs()
	// Recv faults win even with bytes queued.
	assert.Equal(t, -1, a.Recv(make([]byte, 4)))
}

func TestEndpointCallbacks(t *testing.T) {
	a, b := Pair()
	assert.Equal(t, 2, Send(a, []byte("ok")))
	buf := make([]byte, 4)
	assert.Equal(t, 2, Recv(b, buf))
}

func TestEndpointConservation_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		capacity := rapid.IntRange(1, 1024).Draw(rt, "capacity")
		a, b := PairWithCapacity(capacity)

		var sent, received bytes.Buffer
		ops := rapid.IntRange(1, 200).Draw(rt, "ops")
		for i := 0; i < ops; i++ {
			if rapid.Bool().Draw(rt, "sendOp") {
				p := rapid.SliceOfN(rapid.Byte(), 1, 256).Draw(rt, "payload")
				n := a.Send(p)
				if n < 0 {
					rt.Fatalf("send failed on open pipe")
				}
				if n > len(p) {
					rt.Fatalf("send overcounted: %d > %d", n, len(p))
				}
				sent.Write(p[:n])
			} else {
				buf := make([]byte, rapid.IntRange(1, 256).Draw(rt, "readSize"))
				n := b.Recv(buf)
				if n < 0 {
					rt.Fatalf("recv failed on open pipe")
				}
				received.Write(buf[:n])
			}
			if b.Queued() > capacity {
				rt.Fatalf("capacity exceeded: %d > %d", b.Queued(), capacity)
			}
		}

		// Everything received so far is a prefix of everything sent.
		if !bytes.HasPrefix(sent.Bytes(), received.Bytes()) {
			rt.Fatalf("stream reordered or corrupted")
		}
	})
}
