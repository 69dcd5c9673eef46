package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Bundle holds PEM material configured either by file path or inline, with
// an optional integrity checksum.
type Bundle struct {
	Path   string `yaml:"path"`
	Inline string `yaml:"inline"`
	SHA256 string `yaml:"sha256"`

	cached []byte
}

// Empty reports whether the bundle carries no material at all.
func (b *Bundle) Empty() bool {
	return strings.TrimSpace(b.Path) == "" && strings.TrimSpace(b.Inline) == ""
}

// Materialise returns the PEM-encoded contents of the bundle.
func (b *Bundle) Materialise() ([]byte, error) {
	if len(b.cached) > 0 {
		return append([]byte(nil), b.cached...), nil
	}

	var data []byte
	var err error
	switch {
	case strings.TrimSpace(b.Inline) != "":
		data = []byte(b.Inline)
	case strings.TrimSpace(b.Path) != "":
		path := filepath.Clean(b.Path)
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("bundle: read: %w", err)
		}
	default:
		return nil, fmt.Errorf("bundle: no path or inline data provided")
	}

	if err := b.verifyChecksum(data); err != nil {
		return nil, err
	}

	b.cached = append([]byte(nil), data...)
	return append([]byte(nil), data...), nil
}

func (b *Bundle) verifyChecksum(data []byte) error {
	if b.SHA256 == "" {
		return nil
	}

	expected := strings.TrimSpace(strings.ToLower(b.SHA256))
	expected = strings.TrimPrefix(expected, "sha256:")
	digest := sha256.Sum256(data)
	actual := hex.EncodeToString(digest[:])
	if actual != expected {
		return fmt.Errorf("bundle: checksum mismatch")
	}
	return nil
}
