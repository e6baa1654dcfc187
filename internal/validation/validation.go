// Package validation provides input validation helpers for the escrow API.
package validation

import (
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/wiredan/wiredan/internal/apperr"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxReasonLength caps free-text fields such as dispute reasons.
const MaxReasonLength = 2000

var (
	// idRegex matches identifiers minted by idgen ("ord_" + 32 hex) as well
	// as the external ids of users and listings.
	idRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	// referenceRegex matches provider transaction references.
	referenceRegex = regexp.MustCompile(`^[A-Za-z0-9_.=-]{1,100}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidID checks an entity identifier.
func IsValidID(id string) bool {
	return idRegex.MatchString(id)
}

// IsValidReference checks a payment reference.
func IsValidReference(ref string) bool {
	return referenceRegex.MatchString(ref)
}

// SanitizeString trims s, drops control characters other than newline and
// tab, and cuts it to maxLen runes.
func SanitizeString(s string, maxLen int) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			return r
		}
		return -1
	}, strings.TrimSpace(s))
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen])
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Field + " " + fe.Message
	}
	return strings.Join(parts, "; ")
}

// AppKind classifies validation failures as 400s.
func (e ValidationErrors) AppKind() apperr.Kind { return apperr.Validation }

// Validate runs validators and returns the failures, or nil.
func Validate(validators ...func() *ValidationError) error {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidID checks an identifier field. Empty values pass; use Required.
func ValidID(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value != "" && !IsValidID(value) {
			return &ValidationError{Field: field, Message: "must be 1-64 letters, digits, '_' or '-'"}
		}
		return nil
	}
}

// ValidReference checks a payment reference field.
func ValidReference(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value != "" && !IsValidReference(value) {
			return &ValidationError{Field: field, Message: "is not a valid payment reference"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if utf8.RuneCountInString(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// Email checks a bare address such as "ada@example.com". Empty values pass.
func Email(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		addr, err := mail.ParseAddress(value)
		if err != nil || addr.Address != value || addr.Name != "" {
			return &ValidationError{Field: field, Message: "must be an email address"}
		}
		return nil
	}
}

// OneOf checks that value is one of allowed.
func OneOf(field, value string, allowed ...string) func() *ValidationError {
	return func() *ValidationError {
		for _, a := range allowed {
			if value == a {
				return nil
			}
		}
		return &ValidationError{Field: field, Message: "must be one of " + strings.Join(allowed, ", ")}
	}
}

// IDParamMiddleware rejects malformed :id URL parameters early.
func IDParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.Param("id"); id != "" && !IsValidID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_id",
				"message": "id must be 1-64 letters, digits, '_' or '-'",
			})
			return
		}
		c.Next()
	}
}
