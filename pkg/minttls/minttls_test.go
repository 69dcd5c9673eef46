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

func newMaterial(t *testing.T) wiretest.Material {
	t.Helper()
	ca, err := certtest.NewCA("minttls test CA")
	require.NoError(t, err)
	certPEM, keyPEM, err := ca.Issue(certtest.LeafOptions{
		CommonName: "localhost",
		DNSNames:   []string{"localhost"},
	})
	require.NoError(t, err)
	return wiretest.Material{
		CAPEM:      ca.CertPEM,
		CertPEM:    certPEM,
		KeyPEM:     keyPEM,
		ServerName: "localhost",
	}
}

func TestRegistered(t *testing.T) {
	plugin, err := tlswire.Lookup(minttls.BackendName)
	require.NoError(t, err)
	assert.Equal(t, "mint-tls13/1.0", plugin.TypeNameAndVersion())
	assert.Contains(t, tlswire.Backends(), minttls.BackendName)
}

func TestConformance(t *testing.T) {
	plugin := minttls.New()
	t.Cleanup(plugin.Release)
	wiretest.RunConformance(t, plugin, newMaterial(t))
}
