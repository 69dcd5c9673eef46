package wiretest

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshguard/tlswire/pkg/tlswire"
)

// Material is the certificate material a conformance run configures both
// policies with. The leaf must be valid for ServerName, chain to CAPEM and
// be usable for both client and server authentication, since the default
// verification rules make the loopback mutually authenticated.
type Material struct {
	CAPEM         []byte
	CertPEM       []byte
	KeyPEM        []byte
	KeyPassphrase string
	ServerName    string
}

// Loopback is a pair of sessions from the same plugin wired back to back
// over in-memory endpoints.
type Loopback struct {
	Client    tlswire.Session
	Server    tlswire.Session
	ClientEnd *Endpoint
	ServerEnd *Endpoint
}

// NewLoopback builds two fully configured policies from plugin and connects
// a client and a server session over a fresh endpoint pair. Sessions and
// policies are released on test cleanup.
func NewLoopback(t *testing.T, plugin tlswire.Plugin, m Material) *Loopback {
	t.Helper()

	clientEnd, serverEnd := Pair()
	logf := testLogFunc(t)

	configure := func() tlswire.Policy {
		pol := plugin.CreatePolicy(logf)
		require.NotNil(t, pol)
		t.Cleanup(pol.Release)
		require.True(t, pol.SetCAData(m.CAPEM))
		require.True(t, pol.SetCertData(m.CertPEM))
		require.True(t, pol.SetKeyData(m.KeyPEM, m.KeyPassphrase))
		return pol
	}

	client := configure().CreateSession(true, m.ServerName,
		Send, clientEnd, Recv, clientEnd, "client-"+uuid.NewString())
	require.NotNil(t, client)
	t.Cleanup(client.Release)

	server := configure().CreateSession(false, "",
		Send, serverEnd, Recv, serverEnd, "server-"+uuid.NewString())
	require.NotNil(t, server)
	t.Cleanup(server.Release)

	return &Loopback{
		Client:    client,
		Server:    server,
		ClientEnd: clientEnd,
		ServerEnd: serverEnd,
	}
}

// Establish drives the loopback handshake and requires success on both
// sides.
func (lb *Loopback) Establish(t *testing.T) {
	t.Helper()
	cs, ss := Drive(lb.Client, lb.Server, DefaultTimeout)
	require.Equal(t, tlswire.StatusSuccess, cs, "client handshake")
	require.Equal(t, tlswire.StatusSuccess, ss, "server handshake")
}

func testLogFunc(t *testing.T) tlswire.LogFunc {
	return func(event string, uid any, isError bool, attrs ...tlswire.Attr) {
		kv := make([]any, 0, 2*len(attrs))
		for _, a := range attrs {
			kv = append(kv, a.Name+"="+a.Value)
		}
		t.Logf("event=%s uid=%v error=%v %v", event, uid, isError, kv)
	}
}

// RunConformance exercises the behavioral contract every backend must
// satisfy: policy locking, the handshake protocol, want-status semantics,
// failure latching and transport fault handling.
func RunConformance(t *testing.T, plugin tlswire.Plugin, m Material) {
	t.Run("TypeNameAndVersion", func(t *testing.T) {
		assert.NotEmpty(t, plugin.TypeNameAndVersion())
	})

	t.Run("PolicyRejectsGarbage", func(t *testing.T) {
		pol := plugin.CreatePolicy(testLogFunc(t))
		t.Cleanup(pol.Release)
		assert.False(t, pol.SetCAData([]byte("not pem")))
		assert.False(t, pol.SetCertData([]byte("not pem")))
		assert.False(t, pol.SetKeyData([]byte("not pem"), ""))
		// Garbage must not have displaced anything.
		assert.True(t, pol.SetCAData(m.CAPEM))
	})

	t.Run("PolicyLocksAfterCreateSession", func(t *testing.T) {
		end, _ := Pair()
		pol := plugin.CreatePolicy(testLogFunc(t))
		t.Cleanup(pol.Release)
		require.True(t, pol.SetCAData(m.CAPEM))
		require.True(t, pol.SetCertData(m.CertPEM))
		require.True(t, pol.SetKeyData(m.KeyPEM, m.KeyPassphrase))

		sess := pol.CreateSession(false, "", Send, end, Recv, end, uuid.NewString())
		require.NotNil(t, sess)
		t.Cleanup(sess.Release)

		assert.False(t, pol.SetCAData(m.CAPEM))
		assert.False(t, pol.SetCertData(m.CertPEM))
		assert.False(t, pol.SetKeyData(m.KeyPEM, m.KeyPassphrase))
		assert.False(t, pol.SetVerifyPeers([][]byte{[]byte("Check.Valid=0")}))
	})

	t.Run("HandshakeAndEcho", func(t *testing.T) {
		lb := NewLoopback(t, plugin, m)
		lb.Establish(t)

		// Handshake stays Success once established.
		assert.Equal(t, tlswire.StatusSuccess, lb.Client.Handshake())
		assert.Equal(t, tlswire.StatusSuccess, lb.Server.Handshake())

		ping := []byte("ping")
		n, status := AwaitWrite(lb.Client, ping, DefaultTimeout)
		require.Equal(t, tlswire.StatusSuccess, status)
		require.Equal(t, len(ping), n)

		buf := make([]byte, 64)
		n, status = AwaitRead(lb.Server, buf, DefaultTimeout)
		require.Equal(t, tlswire.StatusSuccess, status)
		require.Positive(t, n)
		assert.Equal(t, ping, buf[:n])

		pong := []byte("pong")
		n, status = AwaitWrite(lb.Server, pong, DefaultTimeout)
		require.Equal(t, tlswire.StatusSuccess, status)
		require.Equal(t, len(pong), n)

		n, status = AwaitRead(lb.Client, buf, DefaultTimeout)
		require.Equal(t, tlswire.StatusSuccess, status)
		assert.Equal(t, pong, buf[:n])
	})

	t.Run("EmptyBuffersReportWantStatus", func(t *testing.T) {
		lb := NewLoopback(t, plugin, m)
		lb.Establish(t)

		n, status := lb.Client.Read(nil)
		assert.Zero(t, n)
		assert.Equal(t, tlswire.StatusWantRead, status)

		n, status = lb.Client.Write(nil)
		assert.Zero(t, n)
		assert.Equal(t, tlswire.StatusWantWrite, status)
	})

	t.Run("ReadBeforeEstablishedFails", func(t *testing.T) {
		lb := NewLoopback(t, plugin, m)
		n, status := lb.Client.Read(make([]byte, 16))
		assert.Zero(t, n)
		assert.Equal(t, tlswire.StatusFailed, status)
		// The failure latches.
		assert.Equal(t, tlswire.StatusFailed, lb.Client.Handshake())
		_, status = lb.Client.Write([]byte("x"))
		assert.Equal(t, tlswire.StatusFailed, status)
	})

	t.Run("WriteBeforeEstablishedFails", func(t *testing.T) {
		lb := NewLoopback(t, plugin, m)
		n, status := lb.Server.Write([]byte("early"))
		assert.Zero(t, n)
		assert.Equal(t, tlswire.StatusFailed, status)
		assert.Equal(t, tlswire.StatusFailed, lb.Server.Handshake())
	})

	t.Run("LargeTransfer", func(t *testing.T) {
		lb := NewLoopback(t, plugin, m)
		lb.Establish(t)

		payload := make([]byte, 64*1024)
		_, err := rand.Read(payload)
		require.NoError(t, err)

		done := make(chan struct{})
		go func() {
			defer close(done)
			n, status := AwaitWrite(lb.Client, payload, DefaultTimeout)
			assert.Equal(t, tlswire.StatusSuccess, status)
			assert.Equal(t, len(payload), n)
		}()

		got := make([]byte, len(payload))
		n, status := ReadFull(lb.Server, got, DefaultTimeout)
		<-done
		require.Equal(t, tlswire.StatusSuccess, status)
		require.Equal(t, len(payload), n)
		assert.True(t, bytes.Equal(payload, got))
	})

	t.Run("PeerCloseFailsReads", func(t *testing.T) {
		lb := NewLoopback(t, plugin, m)
		lb.Establish(t)

		lb.ServerEnd.Close()

		buf := make([]byte, 16)
		_, status := AwaitRead(lb.Client, buf, DefaultTimeout)
		assert.Equal(t, tlswire.StatusFailed, status)
		// Terminal state is sticky.
		_, status = lb.Client.Read(buf)
		assert.Equal(t, tlswire.StatusFailed, status)
	})

	t.Run("SendFaultFailsSession", func(t *testing.T) {
		lb := NewLoopback(t, plugin, m)
		lb.Establish(t)

		lb.ClientEnd.FailSends()
		_, status := AwaitWrite(lb.Client, []byte("doomed"), DefaultTimeout)
		assert.Equal(t, tlswire.StatusFailed, status)
		assert.Equal(t, tlswire.StatusFailed, lb.Client.Handshake())
	})

	t.Run("HandshakeAgainstClosedPeerFails", func(t *testing.T) {
		lb := NewLoopback(t, plugin, m)
		lb.ServerEnd.Close()
		status := tlswire.StatusWantRead
		for i := 0; i < 1000 && status.Retryable(); i++ {
			status = lb.Client.Handshake()
		}
		assert.Equal(t, tlswire.StatusFailed, status)
	})
}
