// Package verify implements the peer-verification rule encoding accepted by
// the reference backend.
//
// A rule buffer is a comma-separated list of constraints:
//
//	Check.Valid=1,Check.Unexpired=1,S.CN=db.example.com,I.O=Example Corp
//
// Check.Valid toggles chain verification against the policy's trust roots,
// Check.Unexpired toggles validity-period enforcement, and S.* / I.* pin
// fields of the peer leaf's subject and issuer distinguished names. When a
// policy carries several rule buffers they are alternatives: the peer is
// accepted if any single rule is satisfied in full.
package verify

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"strings"
	"time"
)

// nameSide selects which distinguished name a field constraint applies to.
type nameSide int

const (
	sideSubject nameSide = iota
	sideIssuer
)

type fieldConstraint struct {
	side  nameSide
	field string // CN, O, OU, C, L, ST
	value string
}

// Rule is one parsed verification alternative.
type Rule struct {
	raw            string
	checkValid     bool
	checkUnexpired bool
	fields         []fieldConstraint
}

// RuleSet is an atomically replaceable group of alternatives.
type RuleSet struct {
	rules []Rule
}

// Default is the rule set in force when a policy never calls
// SetVerifyPeers: full chain verification, validity period enforced.
func Default() *RuleSet {
	return &RuleSet{rules: []Rule{{raw: "Check.Valid=1", checkValid: true, checkUnexpired: true}}}
}

// Parse decodes every rule buffer or fails as a whole; a failed Parse must
// leave the caller's previous rule set untouched.
func Parse(bufs [][]byte) (*RuleSet, error) {
	if len(bufs) == 0 {
		return nil, errors.New("verify: empty rule set")
	}
	rules := make([]Rule, 0, len(bufs))
	for i, buf := range bufs {
		rule, err := parseRule(string(buf))
		if err != nil {
			return nil, fmt.Errorf("verify: rule %d: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return &RuleSet{rules: rules}, nil
}

func parseRule(s string) (Rule, error) {
	rule := Rule{raw: s, checkValid: true, checkUnexpired: true}
	if strings.TrimSpace(s) == "" {
		return Rule{}, errors.New("empty rule")
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		key, value, found := strings.Cut(part, "=")
		if !found {
			return Rule{}, fmt.Errorf("constraint %q is not key=value", part)
		}
		key = strings.TrimSpace(key)
		switch key {
		case "Check.Valid":
			b, err := parseBit(value)
			if err != nil {
				return Rule{}, fmt.Errorf("Check.Valid: %w", err)
			}
			rule.checkValid = b
		case "Check.Unexpired":
			b, err := parseBit(value)
			if err != nil {
				return Rule{}, fmt.Errorf("Check.Unexpired: %w", err)
			}
			rule.checkUnexpired = b
		default:
			fc, err := parseField(key, value)
			if err != nil {
				return Rule{}, err
			}
			rule.fields = append(rule.fields, fc)
		}
	}
	return rule, nil
}

func parseBit(s string) (bool, error) {
	switch strings.TrimSpace(s) {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, fmt.Errorf("want 0 or 1, got %q", s)
	}
}

func parseField(key, value string) (fieldConstraint, error) {
	prefix, field, found := strings.Cut(key, ".")
	if !found {
		return fieldConstraint{}, fmt.Errorf("unknown constraint %q", key)
	}
	var side nameSide
	switch prefix {
	case "S":
		side = sideSubject
	case "I":
		side = sideIssuer
	default:
		return fieldConstraint{}, fmt.Errorf("unknown constraint prefix %q", prefix)
	}
	switch field {
	case "CN", "O", "OU", "C", "L", "ST":
	default:
		return fieldConstraint{}, fmt.Errorf("unknown name field %q", field)
	}
	return fieldConstraint{side: side, field: field, value: value}, nil
}

// NeedPeerCert reports whether any rule can only be satisfied by a peer
// that presents a certificate. A server uses this to decide whether to
// request client certificates.
func (rs *RuleSet) NeedPeerCert() bool {
	for _, r := range rs.rules {
		if r.checkValid || len(r.fields) > 0 {
			return true
		}
	}
	return false
}

// Verify checks the peer chain (leaf first) against the alternatives.
// roots may be nil, in which case any rule requiring chain validation
// fails.
func (rs *RuleSet) Verify(chain []*x509.Certificate, roots *x509.CertPool, now time.Time) error {
	if len(chain) == 0 {
		if rs.NeedPeerCert() {
			return errors.New("verify: peer presented no certificate")
		}
		return nil
	}

	var firstErr error
	for _, rule := range rs.rules {
		err := rule.verify(chain, roots, now)
		if err == nil {
			return nil
		}
		if firstErr == nil {
			firstErr = fmt.Errorf("verify: rule %q: %w", rule.raw, err)
		}
	}
	return firstErr
}

func (r Rule) verify(chain []*x509.Certificate, roots *x509.CertPool, now time.Time) error {
	leaf := chain[0]

	if r.checkValid {
		if roots == nil {
			return errors.New("no trust roots configured")
		}
		intermediates := x509.NewCertPool()
		for _, cert := range chain[1:] {
			intermediates.AddCert(cert)
		}
		opts := x509.VerifyOptions{
			Roots:         roots,
			Intermediates: intermediates,
			CurrentTime:   now,
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		}
		if !r.checkUnexpired {
			// Clamp the verification clock into the leaf's validity window
			// so only the chain-of-trust portion is checked.
			opts.CurrentTime = clampTime(now, leaf.NotBefore, leaf.NotAfter)
		}
		if _, err := leaf.Verify(opts); err != nil {
			return fmt.Errorf("chain verification: %w", err)
		}
	} else if r.checkUnexpired {
		if now.Before(leaf.NotBefore) || now.After(leaf.NotAfter) {
			return fmt.Errorf("leaf expired or not yet valid (window %s to %s)",
				leaf.NotBefore.Format(time.RFC3339), leaf.NotAfter.Format(time.RFC3339))
		}
	}

	for _, fc := range r.fields {
		name := leaf.Subject
		if fc.side == sideIssuer {
			name = leaf.Issuer
		}
		if !matchField(name, fc.field, fc.value) {
			return fmt.Errorf("%s mismatch (want %q)", fc.describe(), fc.value)
		}
	}
	return nil
}

func (fc fieldConstraint) describe() string {
	prefix := "S"
	if fc.side == sideIssuer {
		prefix = "I"
	}
	return prefix + "." + fc.field
}

func matchField(name pkix.Name, field, want string) bool {
	switch field {
	case "CN":
		return name.CommonName == want
	case "O":
		return containsString(name.Organization, want)
	case "OU":
		return containsString(name.OrganizationalUnit, want)
	case "C":
		return containsString(name.Country, want)
	case "L":
		return containsString(name.Locality, want)
	case "ST":
		return containsString(name.Province, want)
	default:
		return false
	}
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func clampTime(t, lo, hi time.Time) time.Time {
	if t.Before(lo) {
		return lo.Add(time.Second)
	}
	if t.After(hi) {
		return hi.Add(-time.Second)
	}
	return t
}
