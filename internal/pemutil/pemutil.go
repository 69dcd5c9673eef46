// Package pemutil parses the PEM material handed across the policy
// configuration surface. Buffers arriving there are frequently combined
// cert+key files, so certificate parsing skips key blocks and key parsing
// skips certificate blocks.
package pemutil

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

var (
	// ErrNoCertificates means the buffer held no CERTIFICATE block.
	ErrNoCertificates = errors.New("pemutil: no certificates in PEM data")
	// ErrNoPrivateKey means the buffer held no private key block.
	ErrNoPrivateKey = errors.New("pemutil: no private key in PEM data")
	// ErrPassphraseRequired means the key is encrypted and no passphrase was given.
	ErrPassphraseRequired = errors.New("pemutil: encrypted key requires a passphrase")
	// ErrBadPassphrase means decryption with the supplied passphrase failed.
	ErrBadPassphrase = errors.New("pemutil: wrong passphrase for encrypted key")
)

// Certificates parses every CERTIFICATE block in pemData, in order. Other
// block types (keys in particular) are ignored. A buffer containing no
// certificate, or a certificate that does not parse, is an error.
func Certificates(pemData []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := pemData
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("pemutil: parse certificate %d: %w", len(certs), err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, ErrNoCertificates
	}
	return certs, nil
}

// PrivateKey parses the first private key block in pemData, decrypting
// RFC 1423 encrypted blocks with passphrase. Certificate blocks in the same
// buffer are ignored. The returned key always implements crypto.Signer.
func PrivateKey(pemData []byte, passphrase string) (crypto.Signer, error) {
	rest := pemData
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, ErrNoPrivateKey
		}
		switch block.Type {
		case "PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY":
			return parseKeyBlock(block, passphrase)
		case "ENCRYPTED PRIVATE KEY":
			return nil, errors.New("pemutil: PKCS#8 encrypted keys are not supported; use a traditional encrypted PEM block")
		}
	}
}

func parseKeyBlock(block *pem.Block, passphrase string) (crypto.Signer, error) {
	der := block.Bytes
	if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck // legacy PEM encryption is the contract's wire format
		if passphrase == "" {
			return nil, ErrPassphraseRequired
		}
		decrypted, err := x509.DecryptPEMBlock(block, []byte(passphrase)) //nolint:staticcheck
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPassphrase, err)
		}
		der = decrypted
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(der)
		if err != nil {
			// RFC 1423 decryption cannot always distinguish a wrong
			// passphrase from garbage DER; surface it as a passphrase
			// problem when the block was encrypted.
			if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
				return nil, fmt.Errorf("%w: %v", ErrBadPassphrase, err)
			}
			return nil, fmt.Errorf("pemutil: parse PKCS#1 key: %w", err)
		}
		return key, nil
	case "EC PRIVATE KEY":
		key, err := x509.ParseECPrivateKey(der)
		if err != nil {
			if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
				return nil, fmt.Errorf("%w: %v", ErrBadPassphrase, err)
			}
			return nil, fmt.Errorf("pemutil: parse EC key: %w", err)
		}
		return key, nil
	default: // "PRIVATE KEY"
		key, err := x509.ParsePKCS8PrivateKey(der)
		if err != nil {
			return nil, fmt.Errorf("pemutil: parse PKCS#8 key: %w", err)
		}
		signer, err := asSigner(key)
		if err != nil {
			return nil, err
		}
		return signer, nil
	}
}

func asSigner(key any) (crypto.Signer, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return k, nil
	case *ecdsa.PrivateKey:
		return k, nil
	case ed25519.PrivateKey:
		return k, nil
	default:
		return nil, fmt.Errorf("pemutil: unsupported private key type %T", key)
	}
}
