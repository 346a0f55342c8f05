package chat

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for the caller.
type Kind string

const (
	KindConfig      Kind = "config"
	KindNetwork     Kind = "network"
	KindStreamParse Kind = "stream_parse"
	KindPersistence Kind = "persistence"
	KindBusy        Kind = "busy"
	KindCanceled    Kind = "canceled"
	KindValidation  Kind = "validation"
)

// Sentinels usable with errors.Is against any *Error of the same kind.
var (
	ErrConfig      = &Error{Kind: KindConfig}
	ErrNetwork     = &Error{Kind: KindNetwork}
	ErrStreamParse = &Error{Kind: KindStreamParse}
	ErrPersistence = &Error{Kind: KindPersistence}
	ErrBusy        = &Error{Kind: KindBusy, Err: errors.New("a response is already streaming")}
	ErrCanceled    = &Error{Kind: KindCanceled}
	ErrValidation  = &Error{Kind: KindValidation}
)

// ErrMissingCredential is returned by credential sources when no key is
// configured for a provider.
var ErrMissingCredential = errors.New("no API key configured")

// ErrNotFound is returned by stores for unknown conversations.
var ErrNotFound = errors.New("conversation not found")

// Error is the typed failure surfaced by the session engine.
type Error struct {
	Kind     Kind
	Op       string
	Provider Provider
	// Status is the HTTP status code for network failures, 0 otherwise.
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind) + " error"
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Provider != "" {
		msg += fmt.Sprintf(" (%s)", e.Provider)
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" status %d", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind, so the package sentinels work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ConfigError reports a missing or invalid credential or model selection.
func ConfigError(op string, p Provider, err error) *Error {
	return &Error{Kind: KindConfig, Op: op, Provider: p, Err: err}
}

// NetworkError reports a failed connection, non-2xx status or broken stream.
func NetworkError(op string, p Provider, status int, err error) *Error {
	return &Error{Kind: KindNetwork, Op: op, Provider: p, Status: status, Err: err}
}

// PersistenceError reports a failed store or blob write.
func PersistenceError(op string, err error) *Error {
	return &Error{Kind: KindPersistence, Op: op, Err: err}
}

// StreamParseError reports a single malformed stream event.
func StreamParseError(op string, err error) *Error {
	return &Error{Kind: KindStreamParse, Op: op, Err: err}
}

// ValidationError reports rejected input.
func ValidationError(op string, err error) *Error {
	return &Error{Kind: KindValidation, Op: op, Err: err}
}
