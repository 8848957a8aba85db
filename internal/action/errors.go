// Package action defines the exhaustive error-kind vocabulary shared by the
// query orchestrator, the identity layer, and the HTTP transport, plus the
// URL-segment <-> ActionType mapping used to resolve one action path segment.
package action

import "fmt"

// ErrorKind is the exhaustive list of error kinds the engine can produce.
type ErrorKind string

const (
	InvalidInput               ErrorKind = "InvalidInput"
	KeysUnallowed              ErrorKind = "KeysUnallowed"
	WrongInputType             ErrorKind = "WrongInputType"
	MissingInputSection        ErrorKind = "MissingInputSection"
	ValueRequired              ErrorKind = "ValueRequired"
	ObjectNotFound             ErrorKind = "ObjectNotFound"
	SaveCallingError           ErrorKind = "SaveCallingError"
	InvalidAuthorizationFormat ErrorKind = "InvalidAuthorizationFormat"
	InvalidJwtToken            ErrorKind = "InvalidJwtToken"
	IdentityIsNotFound         ErrorKind = "IdentityIsNotFound"
	MissingCredentials         ErrorKind = "MissingCredentials"
	MissingAuthIdentity        ErrorKind = "MissingAuthIdentity"
	MissingAuthChecker         ErrorKind = "MissingAuthChecker"
	MultipleAuthIdentityProvided ErrorKind = "MultipleAuthIdentityProvided"
	MultipleAuthCheckerProvided  ErrorKind = "MultipleAuthCheckerProvided"
	AuthenticationFailed       ErrorKind = "AuthenticationFailed"
	WrongIdentityModel         ErrorKind = "WrongIdentityModel"
	NewObjectCannotDisconnect  ErrorKind = "NewObjectCannotDisconnect"
	WrongJsonFormat            ErrorKind = "WrongJsonFormat"
	NotFound                   ErrorKind = "NotFound"
	InternalServerError        ErrorKind = "InternalServerError"
	ConnectorError             ErrorKind = "ConnectorError"
)

// Error is the one error type that flows from every layer of the engine up
// to the HTTP transport, carrying a Kind, a message, and, where a field is
// implicated, a key-path -> reason map.
type Error struct {
	Kind    ErrorKind
	Message string
	Errors  map[string]string
	cause   error
}

func New(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches an inner cause so callers can still errors.As/errors.Is
// through this Error.
func Wrap(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, Message: cause.Error(), cause: cause}
}

// WithField attaches a single field -> reason entry to Errors.
func (e *Error) WithField(field, reason string) *Error {
	if e.Errors == nil {
		e.Errors = map[string]string{}
	}
	e.Errors[field] = reason
	return e
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// StatusCode maps an ErrorKind to its HTTP status code.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case ObjectNotFound, NotFound:
		return 404
	case InvalidAuthorizationFormat, InvalidJwtToken, IdentityIsNotFound, WrongIdentityModel:
		return 401
	case InternalServerError, ConnectorError:
		return 500
	default:
		return 400
	}
}
