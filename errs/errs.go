// Package errs defines the error-kind taxonomy from spec.md §7: every
// fallible operation in the core returns (or wraps) one of these kinds so
// callers can dispatch on severity without string-matching messages.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by its propagation rule (spec.md §7).
type Kind int

const (
	// Validation: malformed input, wrong size, bad hex. Reject at the
	// boundary; never propagate past the first handler.
	Validation Kind = iota
	// Signature: bad single or aggregate signature. Reject the containing
	// vote/transaction; log once; do not retry.
	Signature
	// Economic: fee below floor, insufficient balance, nonce mismatch,
	// UTxO imbalance.
	Economic
	// Consensus: out-of-phase message, vote for an already-finalized slot,
	// QC with stake below threshold. Discard; do not disconnect the peer
	// unless repeated.
	Consensus
	// Crypto: library-reported error on verify. Treated identically to
	// Signature.
	Crypto
	// Storage: I/O failure, corrupted bytes. Fatal for the owning task.
	Storage
	// Invariant: an internal assertion failure. Fatal; the node halts
	// rather than continue with potentially unsafe state.
	Invariant
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Signature:
		return "signature"
	case Economic:
		return "economic"
	case Consensus:
		return "consensus"
	case Crypto:
		return "crypto"
	case Storage:
		return "storage"
	case Invariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Error wraps a cause with a Kind so callers can branch on severity via
// errors.As without parsing messages.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a Kind-tagged error from a message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Cause: errors.New(msg)}
}

// Wrap tags an existing error with a Kind, preserving it for errors.Is/As.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Cause: err}
}

// Wrapf tags a formatted error with a Kind.
func Wrapf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Cause: fmt.Errorf(format, args...)}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Fatal reports whether a Kind must halt the owning task (Storage,
// Invariant) rather than degrade gracefully.
func (k Kind) Fatal() bool {
	return k == Storage || k == Invariant
}

// Sentinel errors referenced across packages with errors.Is.
var (
	ErrInvalidLength      = errors.New("invalid byte length")
	ErrMalformedInput     = errors.New("malformed input")
	ErrSignatureMismatch  = errors.New("signature verification failed")
	ErrEmptyInput         = errors.New("empty input")
	ErrFeeBelowFloor      = errors.New("fee below protocol floor")
	ErrNonceMismatch      = errors.New("nonce mismatch")
	ErrInsufficientFunds  = errors.New("insufficient balance")
	ErrUTXONotFound       = errors.New("utxo not found")
	ErrUTXOImbalance      = errors.New("input/output value imbalance")
	ErrOverflow           = errors.New("arithmetic overflow")
	ErrOutOfPhase         = errors.New("message out of phase")
	ErrAlreadyFinalized   = errors.New("slot already finalized")
	ErrQuorumBelowThresh  = errors.New("quorum certificate below stake threshold")
	ErrNotFound           = errors.New("not found")
	ErrCorrupted          = errors.New("corrupted data")
	ErrStorageCorruption  = errors.New("critical state corruption detected")
	ErrDuplicateUTXOSpend = errors.New("utxo already spent")
)
