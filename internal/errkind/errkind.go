// Package errkind classifies errors into the node's recovery-policy
// categories without replacing Go's ordinary error values — it is a label
// attached to an existing sentinel/wrapped error, not an exception type.
package errkind

import "errors"

// Kind is one of the recovery-policy buckets.
type Kind uint8

const (
	Unknown Kind = iota
	Config
	Crypto
	ProtocolViolation
	NotFound
	Conflict
	Overflow
	Transient
	Corruption
)

func (k Kind) String() string {
	switch k {
	case Config:
		return "config"
	case Crypto:
		return "crypto"
	case ProtocolViolation:
		return "protocol_violation"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case Overflow:
		return "overflow"
	case Transient:
		return "transient"
	case Corruption:
		return "corruption"
	default:
		return "unknown"
	}
}

// kindError pairs an underlying error with its recovery kind. errors.Unwrap
// exposes the original so errors.Is/errors.As keep working against
// package-level sentinels.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// Wrap attaches a Kind to err. Returns nil if err is nil.
func Wrap(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// KindOf extracts the Kind attached via Wrap, or Unknown if none was attached.
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return Unknown
}

// Retryable reports whether the recovery policy calls for a local retry.
func Retryable(err error) bool {
	return KindOf(err) == Transient
}
