// Package apperr is the error taxonomy shared by the escrow, order, ledger
// and webhook packages. Domain packages declare sentinel errors with New and
// handlers turn any error into an HTTP response with Respond.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wiredan/wiredan/internal/logging"
)

// Kind classifies an error for status mapping and retry decisions.
type Kind int

const (
	Storage Kind = iota // zero value: unknown errors are treated as storage failures
	Validation
	NotFound
	Precondition
	Auth
	Forbidden
	Gateway
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Precondition:
		return "precondition"
	case Auth:
		return "auth"
	case Forbidden:
		return "forbidden"
	case Gateway:
		return "gateway"
	default:
		return "storage"
	}
}

// HTTPStatus returns the response status for the kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case Validation:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Precondition:
		return http.StatusConflict
	case Auth:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case Gateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Code    string // machine-readable, e.g. "not_held"
	Message string
	Err     error
}

// New declares a sentinel error. Compare with errors.Is.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap classifies err under kind without losing it.
func Wrap(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: err.Error(), Err: err}
}

// Validationf builds an ad-hoc validation error.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: Validation, Code: "validation_error", Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Kinder is implemented by errors from other packages that carry their own
// classification (the gateway adapter's GatewayError).
type Kinder interface {
	AppKind() Kind
}

// KindOf classifies err. Unclassified errors are Storage.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	var k Kinder
	if errors.As(err, &k) {
		return k.AppKind()
	}
	return Storage
}

// CodeOf returns the machine-readable code for err.
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	var k Kinder
	if errors.As(err, &k) {
		return k.AppKind().String() + "_error"
	}
	return "internal_error"
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Respond writes err as {"error": code, "message": msg}. Storage failures are
// logged and their message is not exposed.
func Respond(c *gin.Context, err error) {
	kind := KindOf(err)
	msg := err.Error()
	if kind == Storage {
		logging.L(c.Request.Context()).Error("request failed",
			"path", c.FullPath(), "error", err)
		msg = "internal error"
	}
	c.JSON(kind.HTTPStatus(), gin.H{
		"error":   CodeOf(err),
		"message": msg,
	})
}
