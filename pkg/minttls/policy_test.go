package minttls_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshguard/tlswire/internal/certtest"
	"github.com/meshguard/tlswire/pkg/minttls"
	"github.com/meshguard/tlswire/pkg/tlswire"
	"github.com/meshguard/tlswire/pkg/wiretest"
)

func testLogf(t *testing.T) tlswire.LogFunc {
	return func(event string, uid any, isError bool, attrs ...tlswire.Attr) {
		t.Logf("event=%s uid=%v error=%v attrs=%v", event, uid, isError, attrs)
	}
}

func newPolicy(t *testing.T) tlswire.Policy {
	t.Helper()
	plugin := minttls.New()
	t.Cleanup(plugin.Release)
	pol := plugin.CreatePolicy(testLogf(t))
	require.NotNil(t, pol)
	t.Cleanup(pol.Release)
	return pol
}

// connect wires sessions from the two policies back to back and drives the
// handshake.
func connect(t *testing.T, clientPol, serverPol tlswire.Policy, serverName string) (tlswire.Status, tlswire.Status) {
	t.Helper()
	clientEnd, serverEnd := wiretest.Pair()

	client := clientPol.CreateSession(true, serverName,
		wiretest.Send, clientEnd, wiretest.Recv, clientEnd, "client")
	require.NotNil(t, client)
	t.Cleanup(client.Release)

	server := serverPol.CreateSession(false, "",
		wiretest.Send, serverEnd, wiretest.Recv, serverEnd, "server")
	require.NotNil(t, server)
	t.Cleanup(server.Release)

	return wiretest.Drive(client, server, wiretest.DefaultTimeout)
}

func TestSetCADataReplacesBundle(t *testing.T) {
	m := newMaterial(t)

	otherCA, err := certtest.NewCA("unrelated CA")
	require.NoError(t, err)

	serverPol := newPolicy(t)
	require.True(t, serverPol.SetCAData(m.CAPEM))
	require.True(t, serverPol.SetCertData(m.CertPEM))
	require.True(t, serverPol.SetKeyData(m.KeyPEM, ""))
	// The server does not demand a client certificate in this test.
	require.True(t, serverPol.SetVerifyPeers([][]byte{[]byte("Check.Valid=0,Check.Unexpired=0")}))

	// A client trusting the right CA connects.
	clientPol := newPolicy(t)
	require.True(t, clientPol.SetCAData(m.CAPEM))
	cs, ss := connect(t, clientPol, serverPol, m.ServerName)
	assert.Equal(t, tlswire.StatusSuccess, cs)
	assert.Equal(t, tlswire.StatusSuccess, ss)

	// Replacing the bundle is a full replacement, not a merge: a client
	// that trusted the right CA and then replaced it with an unrelated one
	// must reject the server.
	replaced := newPolicy(t)
	require.True(t, replaced.SetCAData(m.CAPEM))
	require.True(t, replaced.SetCAData(otherCA.CertPEM))
	cs, _ = connect(t, replaced, serverPol, m.ServerName)
	assert.Equal(t, tlswire.StatusFailed, cs)
}

func TestSetKeyDataFailureKeepsPriorKey(t *testing.T) {
	m := newMaterial(t)

	encrypted, err := certtest.EncryptKey(m.KeyPEM, "open sesame")
	require.NoError(t, err)

	serverPol := newPolicy(t)
	require.True(t, serverPol.SetCAData(m.CAPEM))
	require.True(t, serverPol.SetCertData(m.CertPEM))
	require.True(t, serverPol.SetKeyData(m.KeyPEM, ""))
	require.True(t, serverPol.SetVerifyPeers([][]byte{[]byte("Check.Valid=0,Check.Unexpired=0")}))

	// A wrong passphrase is rejected and leaves the working key in force.
	assert.False(t, serverPol.SetKeyData(encrypted, "wrong"))
	assert.False(t, serverPol.SetKeyData(encrypted, ""))

	clientPol := newPolicy(t)
	require.True(t, clientPol.SetCAData(m.CAPEM))
	cs, ss := connect(t, clientPol, serverPol, m.ServerName)
	assert.Equal(t, tlswire.StatusSuccess, cs)
	assert.Equal(t, tlswire.StatusSuccess, ss)
}

func TestSetKeyDataEncrypted(t *testing.T) {
	m := newMaterial(t)

	encrypted, err := certtest.EncryptKey(m.KeyPEM, "open sesame")
	require.NoError(t, err)

	serverPol := newPolicy(t)
	require.True(t, serverPol.SetCAData(m.CAPEM))
	require.True(t, serverPol.SetCertData(m.CertPEM))
	require.True(t, serverPol.SetKeyData(encrypted, "open sesame"))
	require.True(t, serverPol.SetVerifyPeers([][]byte{[]byte("Check.Valid=0,Check.Unexpired=0")}))

	clientPol := newPolicy(t)
	require.True(t, clientPol.SetCAData(m.CAPEM))
	cs, ss := connect(t, clientPol, serverPol, m.ServerName)
	assert.Equal(t, tlswire.StatusSuccess, cs)
	assert.Equal(t, tlswire.StatusSuccess, ss)
}

func TestVerifyPeersPinsSubject(t *testing.T) {
	m := newMaterial(t)

	serverPol := newPolicy(t)
	require.True(t, serverPol.SetCAData(m.CAPEM))
	require.True(t, serverPol.SetCertData(m.CertPEM))
	require.True(t, serverPol.SetKeyData(m.KeyPEM, ""))
	require.True(t, serverPol.SetVerifyPeers([][]byte{[]byte("Check.Valid=0,Check.Unexpired=0")}))

	// Pin matching the leaf subject.
	matching := newPolicy(t)
	require.True(t, matching.SetCAData(m.CAPEM))
	require.True(t, matching.SetVerifyPeers([][]byte{[]byte("Check.Valid=1,S.CN=localhost")}))
	cs, _ := connect(t, matching, serverPol, m.ServerName)
	assert.Equal(t, tlswire.StatusSuccess, cs)

	// Pin that cannot match.
	mismatched := newPolicy(t)
	require.True(t, mismatched.SetCAData(m.CAPEM))
	require.True(t, mismatched.SetVerifyPeers([][]byte{[]byte("Check.Valid=1,S.CN=somewhere.else")}))
	cs, _ = connect(t, mismatched, serverPol, m.ServerName)
	assert.Equal(t, tlswire.StatusFailed, cs)

	// A malformed rule set is rejected atomically; the matching pin from
	// before must still be in force on a fresh policy that set both.
	both := newPolicy(t)
	require.True(t, both.SetCAData(m.CAPEM))
	require.True(t, both.SetVerifyPeers([][]byte{[]byte("Check.Valid=1,S.CN=localhost")}))
	assert.False(t, both.SetVerifyPeers([][]byte{[]byte("Bogus.Key=1")}))
	cs, _ = connect(t, both, serverPol, m.ServerName)
	assert.Equal(t, tlswire.StatusSuccess, cs)
}

func TestMutualAuthentication(t *testing.T) {
	m := newMaterial(t)

	// Default verification rules require a valid peer certificate on both
	// sides.
	serverPol := newPolicy(t)
	require.True(t, serverPol.SetCAData(m.CAPEM))
	require.True(t, serverPol.SetCertData(m.CertPEM))
	require.True(t, serverPol.SetKeyData(m.KeyPEM, ""))

	clientPol := newPolicy(t)
	require.True(t, clientPol.SetCAData(m.CAPEM))
	require.True(t, clientPol.SetCertData(m.CertPEM))
	require.True(t, clientPol.SetKeyData(m.KeyPEM, ""))

	cs, ss := connect(t, clientPol, serverPol, m.ServerName)
	assert.Equal(t, tlswire.StatusSuccess, cs)
	assert.Equal(t, tlswire.StatusSuccess, ss)
}

func TestServerRejectsUntrustedClient(t *testing.T) {
	m := newMaterial(t)

	otherCA, err := certtest.NewCA("rogue CA")
	require.NoError(t, err)
	rogueCert, rogueKey, err := otherCA.Issue(certtest.LeafOptions{
		CommonName: "rogue-client",
		Client:     true,
	})
	require.NoError(t, err)

	serverPol := newPolicy(t)
	require.True(t, serverPol.SetCAData(m.CAPEM))
	require.True(t, serverPol.SetCertData(m.CertPEM))
	require.True(t, serverPol.SetKeyData(m.KeyPEM, ""))

	cheat := newPolicy(t)
	require.True(t, cheat.SetCAData(m.CAPEM))
	require.True(t, cheat.SetCertData(rogueCert))
	require.True(t, cheat.SetKeyData(rogueKey, ""))

	_, ss := connect(t, cheat, serverPol, m.ServerName)
	assert.Equal(t, tlswire.StatusFailed, ss)
}
