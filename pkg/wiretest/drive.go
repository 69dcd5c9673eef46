package wiretest

import (
	"time"

	"github.com/meshguard/tlswire/pkg/tlswire"
)

// DefaultTimeout bounds the helpers below. Backends decrypt on internal
// goroutines, so individual calls can legitimately report a Want status for
// a few milliseconds after bytes arrive.
const DefaultTimeout = 5 * time.Second

const pollStep = time.Millisecond

// Drive alternates Handshake on both sessions until each reports Success or
// Failed, or the timeout passes. It returns the final status pair.
func Drive(client, server tlswire.Session, timeout time.Duration) (clientStatus, serverStatus tlswire.Status) {
	clientStatus = tlswire.StatusWantRead
	serverStatus = tlswire.StatusWantRead

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if clientStatus.Retryable() {
			clientStatus = client.Handshake()
		}
		if serverStatus.Retryable() {
			serverStatus = server.Handshake()
		}
		if !clientStatus.Retryable() && !serverStatus.Retryable() {
			return clientStatus, serverStatus
		}
		time.Sleep(pollStep)
	}
	return clientStatus, serverStatus
}

// AwaitRead retries Read until it makes progress, fails, or the timeout
// passes, yielding between attempts. The last status is returned either way.
func AwaitRead(s tlswire.Session, p []byte, timeout time.Duration) (int, tlswire.Status) {
	deadline := time.Now().Add(timeout)
	for {
		n, status := s.Read(p)
		if !status.Retryable() || time.Now().After(deadline) {
			return n, status
		}
		time.Sleep(pollStep)
	}
}

// AwaitWrite retries Write on the unwritten remainder of p until everything
// is accepted, the session fails, or the timeout passes. It returns the
// total bytes accepted and the last status.
func AwaitWrite(s tlswire.Session, p []byte, timeout time.Duration) (int, tlswire.Status) {
	deadline := time.Now().Add(timeout)
	total := 0
	for total < len(p) {
		n, status := s.Write(p[total:])
		total += n
		if status == tlswire.StatusFailed {
			return total, status
		}
		if total == len(p) {
			return total, tlswire.StatusSuccess
		}
		if time.Now().After(deadline) {
			return total, status
		}
		time.Sleep(pollStep)
	}
	return total, tlswire.StatusSuccess
}

// ReadFull retries Read until exactly len(p) bytes have arrived, the
// session fails, or the timeout passes.
func ReadFull(s tlswire.Session, p []byte, timeout time.Duration) (int, tlswire.Status) {
	deadline := time.Now().Add(timeout)
	total := 0
	for total < len(p) {
		n, status := s.Read(p[total:])
		total += n
		if status == tlswire.StatusFailed {
			return total, status
		}
		if total == len(p) {
			return total, tlswire.StatusSuccess
		}
		if time.Now().After(deadline) {
			return total, status
		}
		time.Sleep(pollStep)
	}
	return total, tlswire.StatusSuccess
}
