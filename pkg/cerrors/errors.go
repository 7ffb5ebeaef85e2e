package cerrors

import (
	"errors"
	"fmt"
)

// Kind is one of a closed set of error kinds. Every Kind maps
// to a fixed handling policy decided at the call site that observes it,
// not by this package.
type Kind int

const (
	// Unknown is the zero value: an error nobody tagged with a Kind.
	// KindOf returns this for any error that isn't a *Error.
	Unknown Kind = iota
	// TransientIO covers object-store 5xxs and RPC disconnects. Policy:
	// retry with capped exponential backoff at the call site.
	TransientIO
	// Corruption covers an SST checksum mismatch or decode failure.
	// Policy: mark the object poisoned, surface to the operator, trigger
	// recovery if the object cannot be skipped.
	Corruption
	// BarrierFailure covers a collection timeout or an actor panic.
	// Policy: enter recovery (pkg/meta/recovery).
	BarrierFailure
	// ComputationError covers a row-level fault: overflow, divide by
	// zero, a bad type cast. Policy: produce NULL for the row, log once
	// per actor+identity, and keep going — this is the one kind that
	// does not abort the operation that hit it.
	ComputationError
	// SchemaConflict covers a duplicate name or a missing catalog
	// reference. Policy: reject the DDL statement with a structured
	// error; no state changes.
	SchemaConflict
	// ClusterError covers meta-store quorum loss. Policy: meta halts;
	// compute nodes observe the loss and enter a quiescent state.
	ClusterError
)

func (k Kind) String() string {
	switch k {
	case TransientIO:
		return "transient_io"
	case Corruption:
		return "corruption"
	case BarrierFailure:
		return "barrier_failure"
	case ComputationError:
		return "computation_error"
	case SchemaConflict:
		return "schema_conflict"
	case ClusterError:
		return "cluster_error"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with the Kind and operation name that
// produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New tags err with kind and the operation name that observed it. op is
// typically a dotted "component.action" string (e.g. "hummock.commit_epoch").
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind the nearest *Error in err's chain was tagged
// with, or Unknown if none of them were.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return Unknown
}

// Is reports whether err's chain carries a *Error tagged with kind.
func Is(err error, kind Kind) bool { return KindOf(err) == kind }

// Retryable reports whether kind's policy is "retry with capped
// exponential backoff at the call site" — true only for TransientIO.
func Retryable(kind Kind) bool { return kind == TransientIO }
