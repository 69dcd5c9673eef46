package tlswire

// SendFunc pushes bytes toward the peer. It returns the number of bytes
// accepted (possibly zero when the transport cannot make progress) or -1 on
// transport error or closure. ctx is the opaque value bound at session
// creation, passed back verbatim on every invocation.
type SendFunc func(ctx any, p []byte) int

// RecvFunc pulls bytes from the peer. It returns the number of bytes read
// (possibly zero when none are available) or -1 on transport error or
// closure, including an orderly close. ctx is the opaque value bound at
// session creation.
type RecvFunc func(ctx any, p []byte) int

// Referenced is the explicit shared-ownership contract every entity
// implements. The final Release synchronously tears the entity down; no
// method, and no transport callback, may run after that.
type Referenced interface {
	AddRef()
	Release()
}

// Plugin is the process-wide factory for a TLS backend.
type Plugin interface {
	Referenced

	// TypeNameAndVersion identifies the backend for diagnostics and
	// compatibility checks.
	TypeNameAndVersion() string

	// CreatePolicy returns a new Policy that logs through logf for its own
	// lifetime and the lifetime of every Session it spawns. The callback is
	// stored by reference, never copied, and never invoked after the Policy
	// and its Sessions have been released. CreatePolicy never returns nil.
	CreatePolicy(logf LogFunc) Policy
}

// Policy holds connection configuration and produces Sessions. Every Set*
// method may be called repeatedly until the first CreateSession, at which
// point the Policy locks: further Set* calls return false and leave the
// existing configuration untouched.
type Policy interface {
	Referenced

	// SetCAData imports a PEM-encoded bundle of trust roots, fully replacing
	// any bundle set earlier.
	SetCAData(pem []byte) bool

	// SetCertData imports a PEM-encoded certificate chain ordered leaf
	// first, each entry certifying the one before it. Key material embedded
	// in the buffer is ignored.
	SetCertData(pem []byte) bool

	// SetKeyData imports a PEM-encoded private key. passphrase is empty when
	// the key is unencrypted. Certificate material embedded in the buffer is
	// ignored. A failure (including a wrong passphrase) leaves any
	// previously configured key in force.
	SetKeyData(pem []byte, passphrase string) bool

	// SetVerifyPeers replaces the peer-verification rule set. The encoding
	// of each rule buffer is backend-defined. The replacement is atomic:
	// on failure the previous rules remain in force.
	SetVerifyPeers(rules [][]byte) bool

	// CreateSession locks the Policy and returns a Session bound to the
	// given role and transport callbacks. Clients initiate the handshake
	// using serverName for name-based server selection; servers ignore it.
	// uid is threaded through every log event the Session emits.
	CreateSession(isClient bool, serverName string,
		send SendFunc, sendCtx any,
		recv RecvFunc, recvCtx any,
		uid any) Session
}

// Session is a per-connection state machine moving from Handshaking to
// Established and finally to Failed or closed. All methods must be
// serialized by the caller; distinct Sessions are fully independent.
type Session interface {
	Referenced

	// Handshake attempts forward progress on the handshake. It may be
	// called repeatedly while it returns a Want status; once it returns
	// StatusSuccess the session is Established. StatusFailed is terminal.
	// Handshake never reports a transfer count.
	Handshake() Status

	// Read copies decrypted application bytes into p. Valid only once
	// Established; calling it earlier is a defined failure that moves the
	// session to Failed. A returned count is always non-zero and
	// accompanied by StatusSuccess; zero progress is reported as a Want
	// status instead.
	Read(p []byte) (int, Status)

	// Write encrypts and relays bytes from p. Semantics mirror Read;
	// partial writes are expected and the caller resubmits the remainder.
	Write(p []byte) (int, Status)
}
