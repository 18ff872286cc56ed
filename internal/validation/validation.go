// Package validation provides input validation helpers for the TrustVerify API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

var (
	// idRegex validates prefixed resource IDs (app_..., chk_..., dsp_..., etc.)
	idRegex = regexp.MustCompile(`^[a-z]{2,8}_[a-f0-9]{8,64}$`)
	// emailRegex is a loose shape check, not an RFC validator
	emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	// countryRegex validates ISO-3166 alpha-2 codes
	countryRegex = regexp.MustCompile(`^[A-Z]{2}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidID checks if a string is a well-formed prefixed resource ID.
func IsValidID(id string) bool {
	return idRegex.MatchString(id)
}

// IsValidEmail checks if a string looks like an email address.
func IsValidEmail(s string) bool {
	return emailRegex.MatchString(s)
}

// IsValidCountry checks if a string is an ISO alpha-2 country code.
func IsValidCountry(s string) bool {
	return countryRegex.MatchString(s)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	s = strings.ReplaceAll(s, "\x00", "")
	return s
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
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
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

// ValidEmail checks if a field is a well-formed email address
func ValidEmail(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidEmail(value) {
			return &ValidationError{Field: field, Message: "must be a valid email address"}
		}
		return nil
	}
}

// ValidCountry checks if a field is an ISO alpha-2 country code
func ValidCountry(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidCountry(value) {
			return &ValidationError{Field: field, Message: "must be an ISO alpha-2 country code"}
		}
		return nil
	}
}

// OneOf checks if a field matches one of the allowed values
func OneOf(field, value string, allowed ...string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		for _, a := range allowed {
			if value == a {
				return nil
			}
		}
		return &ValidationError{Field: field, Message: "must be one of: " + strings.Join(allowed, ", ")}
	}
}

// PositiveAmount checks if a value is a positive monetary amount
func PositiveAmount(field string, value float64) func() *ValidationError {
	return func() *ValidationError {
		if value <= 0 {
			return &ValidationError{Field: field, Message: "must be a positive amount"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// IDParamMiddleware validates the :id URL parameter on routes that use it.
// Apply to route groups with :id params to reject malformed IDs early.
func IDParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if id != "" && !IsValidID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_id",
				"message": "id must be a prefixed resource identifier",
			})
			return
		}
		c.Next()
	}
}
