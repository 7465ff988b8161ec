// Package apperr defines the error kinds surfaced by the promotion and config
// sync services. Callers branch on Kind instead of matching messages.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindBusy
	KindTransient
	KindRollbackFailed
	KindStale
	KindNotFound
	KindRemote
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindBusy:
		return "remote_busy"
	case KindTransient:
		return "transient"
	case KindRollbackFailed:
		return "rollback_failed"
	case KindStale:
		return "stale"
	case KindNotFound:
		return "not_found"
	case KindRemote:
		return "remote"
	default:
		return "internal"
	}
}

// Error carries enough context to reconstruct what was attempted: the
// operation, the entity, the target environment and the remote system.
type Error struct {
	Kind   Kind
	Op     string
	System string
	Entity string
	Env    string
	Msg    string
	Status int
	// Tag overrides the machine-checkable code derived from Kind.
	Tag string
	Err error

	// RollbackErr is set for KindRollbackFailed; Err then holds the failure
	// that triggered the rollback, when there was one.
	RollbackErr error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.message())
	if e.Entity != "" {
		fmt.Fprintf(&b, " (entity=%s", e.Entity)
		if e.Env != "" {
			fmt.Fprintf(&b, " env=%s", e.Env)
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.RollbackErr != nil {
		b.WriteString("; rollback: ")
		b.WriteString(e.RollbackErr.Error())
	}
	return b.String()
}

func (e *Error) message() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.System != "" {
		return e.System + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus returns the status code the error should be rendered with.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindBusy:
		return http.StatusLocked
	case KindTransient:
		return http.StatusServiceUnavailable
	case KindStale:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the stable machine-checkable code for the error.
func (e *Error) Code() string {
	if e.Tag != "" {
		return e.Tag
	}
	switch e.Kind {
	case KindValidation:
		if e.Status == http.StatusNotAcceptable {
			return "PROMOTION_INVALID_STATUS"
		}
		return "BAD_REQUEST"
	case KindBusy:
		return "REMOTE_BUSY"
	case KindTransient:
		return "REMOTE_UNAVAILABLE"
	case KindRollbackFailed:
		return "ROLLBACK_FAILED"
	case KindStale:
		return "STALE_STATE"
	case KindNotFound:
		return "NOT_FOUND"
	case KindRemote:
		return "REMOTE_FAILED"
	default:
		return "INTERNAL"
	}
}

// RequiresOperator reports whether the failure left state that needs manual
// intervention.
func (e *Error) RequiresOperator() bool { return e.Kind == KindRollbackFailed }

func Validation(op, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: msg}
}

// InvalidStatus is the 406 rejection for a transition the entity's current
// status does not allow.
func InvalidStatus(op, entity, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, Entity: entity, Msg: msg, Status: http.StatusNotAcceptable}
}

// InProgress rejects a duplicate of an operation that is still running.
func InProgress(op, entity, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, Entity: entity, Msg: msg, Status: http.StatusConflict, Tag: "ALREADY_IN_PROGRESS"}
}

func Exists(op, entity string) *Error {
	return &Error{Kind: KindValidation, Op: op, Entity: entity, Msg: "already exists", Status: http.StatusConflict, Tag: "ALREADY_EXISTS"}
}

func NotFound(op, msg string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Msg: msg}
}

func Busy(op, system, env string) *Error {
	return &Error{Kind: KindBusy, Op: op, System: system, Env: env, Msg: "remote system busy, try again shortly"}
}

func Stale(op, msg string) *Error {
	return &Error{Kind: KindStale, Op: op, Msg: msg}
}

func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Op: op, Msg: "unexpected failure", Err: err}
}

// Remote wraps a failure returned by a remote collaborator. Transient
// failures keep their own kind so the caller can tell exhaustion apart from a
// definite rejection.
func Remote(op, system string, err error) *Error {
	kind := KindRemote
	var inner *Error
	if errors.As(err, &inner) {
		if inner.Kind == KindBusy || inner.Kind == KindStale || inner.Kind == KindTransient {
			kind = inner.Kind
		}
	}
	if IsTransient(err) {
		kind = KindTransient
	}
	return &Error{Kind: kind, Op: op, System: system, Msg: "remote call failed", Err: err}
}

func RollbackFailed(op, system string, original, rollbackErr error) *Error {
	return &Error{
		Kind:        KindRollbackFailed,
		Op:          op,
		System:      system,
		Msg:         "rollback failed, operator attention required",
		Err:         original,
		RollbackErr: rollbackErr,
	}
}

// transient is implemented by errors the retry layer gave up on.
type transient interface{ Transient() bool }

// IsTransient reports whether err, or anything it wraps, is a transient
// transport failure.
func IsTransient(err error) bool {
	var t transient
	return errors.As(err, &t) && t.Transient()
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// WithEntity annotates err with entity and environment context when it is an
// *Error that does not carry them yet.
func WithEntity(err error, entity, env string) error {
	var e *Error
	if errors.As(err, &e) {
		if e.Entity == "" {
			e.Entity = entity
		}
		if e.Env == "" {
			e.Env = env
		}
	}
	return err
}
