package config

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshguard/tlswire/internal/certtest"
	"github.com/meshguard/tlswire/pkg/minttls"
	"github.com/meshguard/tlswire/pkg/tlswire"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	yamlPath := writeFile(t, "config.yaml", []byte(`
ca:
  inline: "placeholder"
`))

	cfg, err := Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "mint", cfg.Backend)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFull(t *testing.T) {
	yamlPath := writeFile(t, "config.yaml", []byte(`
backend: mint
server_name: db.example.com
ca:
  path: /etc/tls/ca.pem
cert:
  path: /etc/tls/cert.pem
key:
  path: /etc/tls/key.pem
verify_peers:
  - Check.Valid=1,S.CN=db.example.com
  - Check.Valid=1,S.O=Example Corp
telemetry:
  otlp_endpoint: localhost:4317
  metrics_addr: :9102
logging:
  level: debug
`))

	cfg, err := Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "db.example.com", cfg.ServerName)
	assert.Equal(t, "/etc/tls/ca.pem", cfg.CA.Path)
	assert.Len(t, cfg.VerifyRules(), 2)
	assert.Equal(t, "localhost:4317", cfg.Telemetry.OTLPEndpoint)
	assert.Equal(t, ":9102", cfg.Telemetry.MetricsAddr)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TLSWIRE_BACKEND", "mint")
	t.Setenv("TLSWIRE_CA_FILE", "/override/ca.pem")
	t.Setenv("TLSWIRE_VERIFY_PEERS", "Check.Valid=1|Check.Valid=0")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/override/ca.pem", cfg.CA.Path)
	assert.Len(t, cfg.VerifyPeers, 2)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{Backend: "mint", CA: Bundle{Path: "/ca.pem"}}
	}

	cfg := base()
	assert.NoError(t, cfg.Validate())

	cfg = base()
	cfg.Backend = ""
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.CA = Bundle{}
	assert.Error(t, cfg.Validate())

	// Cert without key and vice versa.
	cfg = base()
	cfg.Cert = Bundle{Path: "/cert.pem"}
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Cert = Bundle{Path: "/cert.pem"}
	cfg.Key = Bundle{Path: "/key.pem"}
	assert.NoError(t, cfg.Validate())

	// Watch cannot follow inline bundles.
	cfg = base()
	cfg.Watch = true
	cfg.CA = Bundle{Inline: "pem"}
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Logging.Level = "verbose"
	assert.Error(t, cfg.Validate())
}

func TestBundleMaterialise(t *testing.T) {
	data := []byte("-----BEGIN CERTIFICATE-----\nstub\n-----END CERTIFICATE-----\n")
	path := writeFile(t, "ca.pem", data)

	fromFile := Bundle{Path: path}
	got, err := fromFile.Materialise()
	require.NoError(t, err)
	assert.Equal(t, data, got)

	fromInline := Bundle{Inline: string(data)}
	got, err = fromInline.Materialise()
	require.NoError(t, err)
	assert.Equal(t, data, got)

	empty := Bundle{}
	_, err = empty.Materialise()
	assert.Error(t, err)
}

func TestBundleChecksum(t *testing.T) {
	data := []byte("checksummed contents")
	digest := sha256.Sum256(data)

	ok := Bundle{Inline: string(data), SHA256: "sha256:" + hex.EncodeToString(digest[:])}
	_, err := ok.Materialise()
	assert.NoError(t, err)

	bad := Bundle{Inline: string(data), SHA256: "sha256:" + hex.EncodeToString(make([]byte, 32))}
	_, err = bad.Materialise()
	assert.Error(t, err)
}

func TestBuildPolicy(t *testing.T) {
	ca, err := certtest.NewCA("config test CA")
	require.NoError(t, err)
	certPEM, keyPEM, err := ca.Issue(certtest.LeafOptions{CommonName: "localhost"})
	require.NoError(t, err)

	plugin := minttls.New()
	t.Cleanup(plugin.Release)

	cfg := &Config{
		Backend:     "mint",
		CA:          Bundle{Inline: string(ca.CertPEM)},
		Cert:        Bundle{Inline: string(certPEM)},
		Key:         Bundle{Inline: string(keyPEM)},
		VerifyPeers: []string{"Check.Valid=1,S.CN=localhost"},
	}

	pol, err := cfg.BuildPolicy(plugin, tlswire.NopLog)
	require.NoError(t, err)
	pol.Release()

	// A bad key surfaces as a build error, not a panic.
	cfg.Key = Bundle{Inline: "not a key"}
	_, err = cfg.BuildPolicy(plugin, tlswire.NopLog)
	assert.Error(t, err)
}
