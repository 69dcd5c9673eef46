package tlswire

// Status is the closed result taxonomy shared by Handshake, Read and Write.
// Want codes carry no state change and are always retryable once the
// transport is ready in the indicated direction; StatusFailed is terminal
// for the Session that returned it.
type Status int

const (
	// StatusSuccess reports a completed handshake or a non-zero transfer.
	StatusSuccess Status = iota
	// StatusWantRead means the operation is blocked until the transport
	// becomes readable.
	StatusWantRead
	// StatusWantWrite means the operation is blocked until the transport
	// becomes writable.
	StatusWantWrite
	// StatusFailed means the session is unusable and must be released.
	StatusFailed
)

// Retryable reports whether the same operation may be reattempted.
func (s Status) Retryable() bool {
	return s == StatusWantRead || s == StatusWantWrite
}

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusWantRead:
		return "want_read"
	case StatusWantWrite:
		return "want_write"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}
