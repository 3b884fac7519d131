package broker

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrMissingSessionSecret is returned by the challenge flow when no session
// secret is configured. No network call is made.
var ErrMissingSessionSecret = errors.New("session secret is not configured")

// ErrBodyTooLarge is returned when an upstream body exceeds the read limit
var ErrBodyTooLarge = errors.New("upstream body exceeds size limit")

// Kind classifies a failed mint
type Kind int

const (
	// KindConfig is a deployment problem; retrying will not help
	KindConfig Kind = iota
	// KindUnreachable is a transport failure reaching the upstream
	KindUnreachable
	// KindRejected is a non-success status returned by the upstream
	KindRejected
	// KindMalformed is an upstream success whose body could not be used
	KindMalformed
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindUnreachable:
		return "unreachable"
	case KindRejected:
		return "rejected"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error is a classified mint failure. For KindRejected, Status, ContentType
// and Body hold the upstream response exactly as received.
type Error struct {
	Kind        Kind
	Status      int
	ContentType string
	Body        []byte
	Err         error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Kind == KindRejected:
		return fmt.Sprintf("upstream rejected request with status %d", e.Status)
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String() + " error"
	}
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// StatusCode maps the error to the HTTP status returned to the caller.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindUnreachable:
		return http.StatusBadGateway
	case KindRejected:
		if e.Status > 0 {
			return e.Status
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func configError(err error) error {
	return &Error{Kind: KindConfig, Err: err}
}

func unreachable(err error) error {
	return &Error{Kind: KindUnreachable, Err: err}
}

func malformed(err error) error {
	return &Error{Kind: KindMalformed, Err: err}
}

func rejected(status int, contentType string, body []byte) error {
	return &Error{Kind: KindRejected, Status: status, ContentType: contentType, Body: body}
}

// AsError extracts a classified error, treating anything else as malformed
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindMalformed, Err: err}
}
