package tlswire

import (
	"context"
	"log/slog"
	"unicode"
	"unicode/utf8"
)

// Attr is one structured attribute on a log event. Names and values must be
// XML-attribute-safe: the embedding runtime writes events into an XML trace
// log verbatim, so the constraint is validated at the call site rather than
// parsed by the receiver.
type Attr struct {
	Name  string
	Value string
}

// LogFunc receives a log event emitted synchronously during a Plugin, Policy
// or Session operation. uid is the opaque correlation identifier supplied to
// CreateSession (nil for Policy-level events); isError distinguishes errors
// from informational events. Implementations must treat the call as
// fire-and-forget: the event and its attributes are not retained by the
// core.
type LogFunc func(event string, uid any, isError bool, attrs ...Attr)

// NopLog discards every event. Backends substitute it for a nil LogFunc so
// logging call sites never nil-check.
func NopLog(string, any, bool, ...Attr) {}

// ValidName reports whether s is usable as an XML attribute name: non-empty,
// starting with a letter or underscore, continuing with letters, digits,
// '-', '_' or '.'.
func ValidName(s string) bool {
	if s == "" || !utf8.ValidString(s) {
		return false
	}
	for i, r := range s {
		if unicode.IsLetter(r) || r == '_' {
			continue
		}
		if i > 0 && (unicode.IsDigit(r) || r == '-' || r == '.') {
			continue
		}
		return false
	}
	return true
}

// ValidValue reports whether s can be embedded as an XML attribute value
// without escaping: well-formed UTF-8 with no control characters and none of
// '<', '&' or '"'.
func ValidValue(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		if r < 0x20 || r == '<' || r == '&' || r == '"' {
			return false
		}
	}
	return true
}

// Checked wraps logf with call-site validation of the XML-safety contract.
// Events with an invalid name are dropped; invalid attributes are replaced
// by a marker attribute naming the offender so the event itself survives.
func Checked(logf LogFunc) LogFunc {
	if logf == nil {
		return NopLog
	}
	return func(event string, uid any, isError bool, attrs ...Attr) {
		if !ValidName(event) {
			return
		}
		safe := attrs
		for i, a := range attrs {
			if ValidName(a.Name) && ValidValue(a.Value) {
				continue
			}
			// Copy on first offender only.
			safe = make([]Attr, 0, len(attrs))
			safe = append(safe, attrs[:i]...)
			for _, b := range attrs[i:] {
				if ValidName(b.Name) && ValidValue(b.Value) {
					safe = append(safe, b)
				} else {
					safe = append(safe, Attr{Name: "InvalidAttribute", Value: "dropped"})
				}
			}
			break
		}
		logf(event, uid, isError, safe...)
	}
}

// SlogLogFunc bridges the contract's logging callback onto a slog.Logger,
// mapping isError to the level and uid to a correlation attribute.
func SlogLogFunc(logger *slog.Logger) LogFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(event string, uid any, isError bool, attrs ...Attr) {
		level := slog.LevelInfo
		if isError {
			level = slog.LevelError
		}
		out := make([]slog.Attr, 0, len(attrs)+1)
		if uid != nil {
			out = append(out, slog.Any("uid", uid))
		}
		for _, a := range attrs {
			out = append(out, slog.String(a.Name, a.Value))
		}
		logger.LogAttrs(context.Background(), level, event, out...)
	}
}
