package pemutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshguard/tlswire/internal/certtest"
)

func testMaterial(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()
	ca, err := certtest.NewCA("pemutil test CA")
	require.NoError(t, err)
	certPEM, keyPEM, err = ca.Issue(certtest.LeafOptions{CommonName: "pemutil.test"})
	require.NoError(t, err)
	return certPEM, keyPEM
}

func TestCertificates(t *testing.T) {
	certPEM, keyPEM := testMaterial(t)

	certs, err := Certificates(certPEM)
	require.NoError(t, err)
	require.Len(t, certs, 1)
	assert.Equal(t, "pemutil.test", certs[0].Subject.CommonName)

	// Key material mixed into the buffer is ignored.
	combined := append(append([]byte{}, certPEM...), keyPEM...)
	certs, err = Certificates(combined)
	require.NoError(t, err)
	assert.Len(t, certs, 1)
}

func TestCertificates_NoCerts(t *testing.T) {
	_, keyPEM := testMaterial(t)

	_, err := Certificates(keyPEM)
	assert.ErrorIs(t, err, ErrNoCertificates)

	_, err = Certificates([]byte("not pem at all"))
	assert.ErrorIs(t, err, ErrNoCertificates)
}

func TestPrivateKey(t *testing.T) {
	certPEM, keyPEM := testMaterial(t)

	key, err := PrivateKey(keyPEM, "")
	require.NoError(t, err)
	assert.NotNil(t, key.Public())

	// Certificate material mixed into the buffer is ignored.
	combined := append(append([]byte{}, certPEM...), keyPEM...)
	key, err = PrivateKey(combined, "")
	require.NoError(t, err)
	assert.NotNil(t, key)
}

func TestPrivateKey_Missing(t *testing.T) {
	certPEM, _ := testMaterial(t)
	_, err := PrivateKey(certPEM, "")
	assert.ErrorIs(t, err, ErrNoPrivateKey)
}

func TestPrivateKey_Encrypted(t *testing.T) {
	_, keyPEM := testMaterial(t)
	encrypted, err := certtest.EncryptKey(keyPEM, "correct horse")
	require.NoError(t, err)

	key, err := PrivateKey(encrypted, "correct horse")
	require.NoError(t, err)
	assert.NotNil(t, key)

	_, err = PrivateKey(encrypted, "wrong")
	assert.ErrorIs(t, err, ErrBadPassphrase)

	_, err = PrivateKey(encrypted, "")
	assert.ErrorIs(t, err, ErrPassphraseRequired)
}
