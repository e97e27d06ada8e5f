package feed

import (
	"errors"
	"net/http"
	"strings"
)

// Store sentinels. Store implementations return these so the service can
// tell expected absences from infrastructure failures.
var (
	ErrNotFound       = errors.New("feed: not found")
	ErrDuplicateEmail = errors.New("feed: email already registered")
	ErrBadOffset      = errors.New("feed: negative page offset")
)

// Kind classifies every failure the service reports.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindStoreUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_failed"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindStoreUnavailable:
		return "store_unavailable"
	default:
		return "unknown"
	}
}

// Status returns the HTTP status equivalent of k.
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// FieldError is one violated input rule.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the typed failure returned by Service.
type Error struct {
	Kind   Kind
	Msg    string
	Fields []FieldError
	Err    error
}

// Kind sentinels for errors.Is checks.
var (
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated}
	ErrForbidden       = &Error{Kind: KindForbidden}
	ErrUnavailable     = &Error{Kind: KindStoreUnavailable}
)

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("feed: ")
	if e.Msg != "" {
		b.WriteString(e.Msg)
	} else {
		b.WriteString(strings.ReplaceAll(e.Kind.String(), "_", " "))
	}
	if len(e.Fields) > 0 {
		b.WriteString(": ")
		for i, f := range e.Fields {
			if i > 0 {
				b.WriteString("; ")
			}
			b.WriteString(f.Field + " " + f.Message)
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches kind sentinels, and ErrNotFound for KindNotFound.
func (e *Error) Is(target error) bool {
	if target == ErrNotFound {
		return e.Kind == KindNotFound
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Fields == nil && t.Err == nil && t.Kind == e.Kind
}

// KindOf classifies err. Errors that did not come from the service are
// treated as store failures.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	return KindStoreUnavailable
}

// FieldsOf returns the field violations carried by err, if any.
func FieldsOf(err error) []FieldError {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Fields
	}
	return nil
}

func validationFailed(fields []FieldError) error {
	return &Error{Kind: KindValidation, Msg: "invalid input", Fields: fields}
}

func unauthenticated(msg string) error {
	return &Error{Kind: KindUnauthenticated, Msg: msg}
}

func forbidden(msg string) error {
	return &Error{Kind: KindForbidden, Msg: msg}
}

func notFound(msg string, err error) error {
	return &Error{Kind: KindNotFound, Msg: msg, Err: err}
}

func unavailable(msg string, err error) error {
	return &Error{Kind: KindStoreUnavailable, Msg: msg, Err: err}
}

// storeErr maps a store failure: ErrNotFound becomes KindNotFound with
// notFoundMsg, anything else is a store outage.
func storeErr(op, notFoundMsg string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return notFound(notFoundMsg, err)
	}
	return unavailable(op, err)
}
