package minttls

import (
	"crypto"
	"crypto/x509"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bifurcation/mint"

	"github.com/meshguard/tlswire/internal/pemutil"
	"github.com/meshguard/tlswire/internal/verify"
	"github.com/meshguard/tlswire/pkg/tlswire"
)

// policy accumulates connection configuration until the first session is
// created, then locks. Sessions snapshot the configuration at creation, so
// a policy that produced sessions can be released independently of them.
type policy struct {
	ref  *tlswire.RefCount
	logf tlswire.LogFunc

	mu     sync.Mutex
	locked bool
	roots  *x509.CertPool
	chain  []*x509.Certificate
	key    crypto.Signer
	rules  *verify.RuleSet
}

func newPolicy(logf tlswire.LogFunc) *policy {
	p := &policy{
		logf:  logf,
		rules: verify.Default(),
	}
	p.ref = tlswire.NewRefCount(func() {})
	return p
}

func (p *policy) AddRef()  { p.ref.AddRef() }
func (p *policy) Release() { p.ref.Release() }

// rejectIfLocked must be called with p.mu held.
func (p *policy) rejectIfLocked(op string) bool {
	if p.locked {
		p.logf("TLSPolicyLocked", nil, true,
			tlswire.Attr{Name: "Operation", Value: op})
		return true
	}
	return false
}

func (p *policy) SetCAData(pemData []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rejectIfLocked("SetCAData") {
		return false
	}

	certs, err := pemutil.Certificates(pemData)
	if err != nil {
		p.logf("TLSPolicyCAError", nil, true,
			tlswire.Attr{Name: "Reason", Value: err.Error()})
		return false
	}

	pool := x509.NewCertPool()
	for _, cert := range certs {
		pool.AddCert(cert)
	}
	p.roots = pool

	p.logf("TLSPolicySetCA", nil, false,
		tlswire.Attr{Name: "Roots", Value: strconv.Itoa(len(certs))})
	return true
}

func (p *policy) SetCertData(pemData []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rejectIfLocked("SetCertData") {
		return false
	}

	chain, err := pemutil.Certificates(pemData)
	if err != nil {
		p.logf("TLSPolicyCertError", nil, true,
			tlswire.Attr{Name: "Reason", Value: err.Error()})
		return false
	}
	p.chain = chain

	p.logf("TLSPolicySetCert", nil, false,
		tlswire.Attr{Name: "Subject", Value: chain[0].Subject.String()},
		tlswire.Attr{Name: "ChainLength", Value: strconv.Itoa(len(chain))})
	return true
}

func (p *policy) SetKeyData(pemData []byte, passphrase string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rejectIfLocked("SetKeyData") {
		return false
	}

	key, err := pemutil.PrivateKey(pemData, passphrase)
	if err != nil {
		p.logf("TLSPolicyKeyError", nil, true,
			tlswire.Attr{Name: "Reason", Value: err.Error()})
		return false
	}
	p.key = key

	p.logf("TLSPolicySetKey", nil, false)
	return true
}

func (p *policy) SetVerifyPeers(rules [][]byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rejectIfLocked("SetVerifyPeers") {
		return false
	}

	rs, err := verify.Parse(rules)
	if err != nil {
		p.logf("TLSPolicyVerifyPeersError", nil, true,
			tlswire.Attr{Name: "Reason", Value: err.Error()})
		return false
	}
	p.rules = rs

	p.logf("TLSPolicySetVerifyPeers", nil, false,
		tlswire.Attr{Name: "Rules", Value: strconv.Itoa(len(rules))})
	return true
}

func (p *policy) CreateSession(isClient bool, serverName string,
	send tlswire.SendFunc, sendCtx any,
	recv tlswire.RecvFunc, recvCtx any,
	uid any) tlswire.Session {

	p.mu.Lock()
	p.locked = true

	rules := p.rules
	roots := p.roots

	cfg := &mint.Config{
		ServerName:         serverName,
		NonBlocking:        true,
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			chain := make([]*x509.Certificate, 0, len(rawCerts))
			for i, raw := range rawCerts {
				cert, err := x509.ParseCertificate(raw)
				if err != nil {
					return fmt.Errorf("parse peer certificate %d: %w", i, err)
				}
				chain = append(chain, cert)
			}
			return rules.Verify(chain, roots, time.Now())
		},
	}
	if len(p.chain) > 0 && p.key != nil {
		cfg.Certificates = []*mint.Certificate{{Chain: p.chain, PrivateKey: p.key}}
	}
	if !isClient && rules.NeedPeerCert() {
		cfg.RequireClientAuth = true
	}
	p.mu.Unlock()

	s := newSession(cfg, isClient, send, sendCtx, recv, recvCtx, uid, p.logf)

	role := "server"
	if isClient {
		role = "client"
	}
	p.logf("TLSSessionCreated", uid, false,
		tlswire.Attr{Name: "Role", Value: role},
		tlswire.Attr{Name: "ServerName", Value: serverName})
	return s
}
