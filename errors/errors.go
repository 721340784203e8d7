// Package errors implements the error taxonomy shared by the wallet client,
// the multisig coordinator and the escrow core.
//
// Every error produced by this module wraps one of the root errors declared
// below. Callers classify failures with the standard library errors.Is or
// with KindOf, regardless of how many layers of context were added on the
// way up.
package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// Kind is the category of a root error.
type Kind uint32

const (
	KindUnknown Kind = iota
	KindConfig
	KindValidation
	KindRpcUnreachable
	KindNetwork
	KindAuthorization
	KindStateConflict
	KindWallet
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "ConfigError"
	case KindValidation:
		return "ValidationError"
	case KindRpcUnreachable:
		return "RpcUnreachable"
	case KindNetwork:
		return "NetworkError"
	case KindAuthorization:
		return "AuthorizationError"
	case KindStateConflict:
		return "StateConflict"
	case KindWallet:
		return "WalletError"
	case KindNotFound:
		return "NotFound"
	default:
		return "Unknown"
	}
}

var (
	// ErrConfig is returned for an endpoint or setting that is not
	// permitted, such as a wallet daemon that is neither loopback nor an
	// anonymity-network address.
	ErrConfig = Register(1, KindConfig, "config error")

	// ErrValidation is returned when input or daemon output is malformed.
	// It is always raised before any network call is made.
	ErrValidation = Register(2, KindValidation, "validation error")

	// ErrRpcUnreachable is returned when the wallet daemon refused the
	// connection. It is never retried by the client.
	ErrRpcUnreachable = Register(3, KindRpcUnreachable, "wallet rpc unreachable")

	// ErrNetwork is returned for transient transport failures that outlived
	// the client's retry budget.
	ErrNetwork = Register(4, KindNetwork, "network error")

	// ErrAuthorization is returned when the caller does not hold the role
	// required by the escrow row.
	ErrAuthorization = Register(5, KindAuthorization, "not authorized")

	// ErrStateConflict is returned when an escrow or multisig session is not
	// in a state that permits the requested transition.
	ErrStateConflict = Register(6, KindStateConflict, "state conflict")

	// ErrWallet is returned when the daemon rejected an otherwise well formed
	// request.
	ErrWallet = Register(7, KindWallet, "wallet error")

	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = Register(8, KindNotFound, "not found")
)

// usedCodes tracks registered codes so that no two root errors share one.
var usedCodes = map[uint32]*Error{}

// Register returns a root error that runtime errors should wrap. Reusing a
// code panics, so call it only during package initialization.
func Register(code uint32, kind Kind, description string) *Error {
	if e, ok := usedCodes[code]; ok {
		panic(fmt.Sprintf("error with code %d is already registered: %q", code, e.desc))
	}
	err := &Error{
		code: code,
		kind: kind,
		desc: description,
	}
	usedCodes[code] = err
	return err
}

// Error is a root error. Derived root errors (for example the daemon's
// "wallet locked" refusal) may share a Kind with their parent while keeping
// their own code.
type Error struct {
	code uint32
	kind Kind
	desc string
}

func (e *Error) Error() string {
	return e.desc
}

// Code returns the registered code.
func (e *Error) Code() uint32 {
	return e.code
}

// Kind returns the category of the error.
func (e *Error) Kind() Kind {
	return e.kind
}

// New returns a new error wrapping e with the given description.
func (e *Error) New(description string) error {
	return Wrap(e, description)
}

// Newf is New with formatting.
func (e *Error) Newf(format string, args ...interface{}) error {
	return e.New(fmt.Sprintf(format, args...))
}

// Is reports whether target is e or a root error of the same kind that
// was registered as the generic root for that kind. This lets
// errors.Is(ErrWalletLocked, ErrWallet) hold.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t == e {
		return true
	}
	return t.kind == e.kind && rootOf(e.kind) == t
}

func rootOf(k Kind) *Error {
	for _, e := range []*Error{ErrConfig, ErrValidation, ErrRpcUnreachable, ErrNetwork,
		ErrAuthorization, ErrStateConflict, ErrWallet, ErrNotFound} {
		if e.kind == k {
			return e
		}
	}
	return nil
}

// Wrap annotates err with description. A stack trace is attached at the
// innermost wrap only. Wrapping nil returns nil.
func Wrap(err error, description string) error {
	if err == nil {
		return nil
	}
	if !hasStack(err) {
		err = errors.WithStack(err)
	}
	return errors.WithMessage(err, description)
}

// Wrapf is Wrap with formatting.
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func hasStack(err error) bool {
	for err != nil {
		if _, ok := err.(stackTracer); ok {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// Is is a shortcut for the standard library errors.Is.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As is a shortcut for the standard library errors.As.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// KindOf returns the kind of the root error wrapped by err, or KindUnknown
// if err does not wrap any registered root error.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.kind
	}
	return KindUnknown
}

// Temporary reports whether the failure is worth retrying later without
// any change to the request.
func Temporary(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindRpcUnreachable:
		return true
	}
	return false
}
