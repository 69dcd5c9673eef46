// Package config provides configuration structures and loading logic for
// tools embedding the transport contract.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/meshguard/tlswire/pkg/tlswire"
)

// Config holds the configuration a tool needs to build a policy and open
// sessions.
type Config struct {
	// Backend selects the registered plugin.
	Backend string `yaml:"backend"`

	// ServerName is the name clients request from the server.
	ServerName string `yaml:"server_name"`

	CA   Bundle `yaml:"ca"`
	Cert Bundle `yaml:"cert"`
	Key  Bundle `yaml:"key"`

	// KeyPassphrase decrypts an encrypted private key bundle.
	KeyPassphrase string `yaml:"key_passphrase"`

	// VerifyPeers holds backend-defined peer verification rules, one rule
	// per entry, alternatives OR'd together.
	VerifyPeers []string `yaml:"verify_peers"`

	// Watch enables rebuilding the policy when file-backed bundles change.
	Watch bool `yaml:"watch"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// TelemetryConfig holds configuration for OpenTelemetry and the metrics
// endpoint.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	MetricsAddr  string `yaml:"metrics_addr"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load reads configuration from a file and applies environment variable
// overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Backend: "mint",
		Logging: LoggingConfig{Level: "info"},
	}

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("TLSWIRE_BACKEND"); val != "" {
		cfg.Backend = val
	}
	if val := os.Getenv("TLSWIRE_SERVER_NAME"); val != "" {
		cfg.ServerName = val
	}
	if val := os.Getenv("TLSWIRE_CA_FILE"); val != "" {
		cfg.CA = Bundle{Path: val}
	}
	if val := os.Getenv("TLSWIRE_CERT_FILE"); val != "" {
		cfg.Cert = Bundle{Path: val}
	}
	if val := os.Getenv("TLSWIRE_KEY_FILE"); val != "" {
		cfg.Key = Bundle{Path: val}
	}
	if val := os.Getenv("TLSWIRE_KEY_PASSPHRASE"); val != "" {
		cfg.KeyPassphrase = val
	}
	if val := os.Getenv("TLSWIRE_VERIFY_PEERS"); val != "" {
		cfg.VerifyPeers = strings.Split(val, "|")
	}
	if val := os.Getenv("TLSWIRE_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("TLSWIRE_METRICS_ADDR"); val != "" {
		cfg.Telemetry.MetricsAddr = val
	}
	if val := os.Getenv("TLSWIRE_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
}

// Validate checks the configuration for structural problems. Bundle
// contents are validated later, by the policy they are fed into.
func (c *Config) Validate() error {
	if c.Backend == "" {
		return fmt.Errorf("backend must not be empty")
	}
	if c.CA.Empty() {
		return fmt.Errorf("a CA bundle is required")
	}
	if c.Cert.Empty() != c.Key.Empty() {
		return fmt.Errorf("cert and key bundles must be configured together")
	}
	if c.Watch {
		for name, b := range map[string]Bundle{"ca": c.CA, "cert": c.Cert, "key": c.Key} {
			if b.Inline != "" {
				return fmt.Errorf("watch requires file-backed bundles, %s is inline", name)
			}
		}
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}

// VerifyRules converts the configured rules to the byte-buffer form the
// policy surface takes.
func (c *Config) VerifyRules() [][]byte {
	if len(c.VerifyPeers) == 0 {
		return nil
	}
	rules := make([][]byte, len(c.VerifyPeers))
	for i, r := range c.VerifyPeers {
		rules[i] = []byte(r)
	}
	return rules
}

// BuildPolicy materialises the bundles and configures a fresh policy from
// plugin. The returned policy carries one reference owned by the caller.
func (c *Config) BuildPolicy(plugin tlswire.Plugin, logf tlswire.LogFunc) (tlswire.Policy, error) {
	caPEM, err := c.CA.Materialise()
	if err != nil {
		return nil, fmt.Errorf("ca bundle: %w", err)
	}

	pol := plugin.CreatePolicy(logf)
	if !pol.SetCAData(caPEM) {
		pol.Release()
		return nil, fmt.Errorf("ca bundle rejected by backend")
	}

	if !c.Cert.Empty() {
		certPEM, err := c.Cert.Materialise()
		if err != nil {
			pol.Release()
			return nil, fmt.Errorf("cert bundle: %w", err)
		}
		if !pol.SetCertData(certPEM) {
			pol.Release()
			return nil, fmt.Errorf("cert bundle rejected by backend")
		}

		keyPEM, err := c.Key.Materialise()
		if err != nil {
			pol.Release()
			return nil, fmt.Errorf("key bundle: %w", err)
		}
		if !pol.SetKeyData(keyPEM, c.KeyPassphrase) {
			pol.Release()
			return nil, fmt.Errorf("key bundle rejected by backend")
		}
	}

	if rules := c.VerifyRules(); rules != nil {
		if !pol.SetVerifyPeers(rules) {
			pol.Release()
			return nil, fmt.Errorf("verify_peers rules rejected by backend")
		}
	}

	return pol, nil
}
