// Package minttls is the reference backend: a TLS 1.3 implementation of the
// pluggable transport contract built on the mint stack in non-blocking mode.
// Sessions never open sockets; all bytes move through the send and receive
// callbacks bound at session creation, invoked only on the calling
// goroutine.
package minttls

import (
	"github.com/meshguard/tlswire/pkg/tlswire"
)

// BackendName is the registry key the package registers itself under.
const BackendName = "mint"

const typeNameAndVersion = "mint-tls13/1.0"

type plugin struct {
	ref *tlswire.RefCount
}

// New returns a plugin handle with one reference held by the caller.
func New() tlswire.Plugin {
	p := &plugin{}
	p.ref = tlswire.NewRefCount(func() {})
	return p
}

func (p *plugin) AddRef()  { p.ref.AddRef() }
func (p *plugin) Release() { p.ref.Release() }

func (p *plugin) TypeNameAndVersion() string { return typeNameAndVersion }

func (p *plugin) CreatePolicy(logf tlswire.LogFunc) tlswire.Policy {
	return newPolicy(tlswire.Checked(logf))
}

func init() {
	tlswire.Register(BackendName, New())
}
