// Package security holds the stateless validation and sanitization rules
// applied to everything the chat accepts from the network. Validation can
// reject; sanitization only transforms. Keeping the two apart avoids
// double-escaping and makes the reject/transform boundary auditable.
package security

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Violation identifies why a value was rejected.
type Violation string

const (
	ViolationEmpty          Violation = "empty_content"
	ViolationTooShort       Violation = "content_too_short"
	ViolationTooLong        Violation = "content_too_long"
	ViolationDangerous      Violation = "dangerous_content"
	ViolationBadSessionID   Violation = "invalid_session_id"
	ViolationPayloadTooBig  Violation = "payload_too_large"
	ViolationTooDeep        Violation = "payload_too_deep"
	ViolationBadKey         Violation = "invalid_key"
	ViolationBadRating      Violation = "invalid_rating"
	ViolationFeedbackLength Violation = "feedback_too_long"
)

// ValidationError carries the violation kind plus a client-safe reason.
type ValidationError struct {
	Kind   Violation
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func violation(kind Violation, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Limits bounds the accepted input shapes. Zero values fall back to the
// package defaults.
type Limits struct {
	MinContentLen  int
	MaxContentLen  int
	MaxContextSize int
	MaxFeedbackLen int
	MaxDepth       int
}

// DefaultLimits mirrors the widget's production settings.
func DefaultLimits() Limits {
	return Limits{
		MinContentLen:  1,
		MaxContentLen:  2000,
		MaxContextSize: 10 * 1024,
		MaxFeedbackLen: 1000,
		MaxDepth:       5,
	}
}

// dangerousPatterns match markup that must never reach persistence or be
// echoed back: script tags, inline event handlers and script-protocol links.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<\s*script\b`),
	regexp.MustCompile(`(?is)<\s*/\s*script\s*>`),
	regexp.MustCompile(`(?is)<\s*(iframe|object|embed|form|link|meta)\b`),
	regexp.MustCompile(`(?i)\bon[a-z]+\s*=`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)data\s*:\s*text/html`),
	regexp.MustCompile(`(?i)vbscript\s*:`),
}

// contextKeyPattern is the allowlist for keys in free-form payloads.
var contextKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,64}$`)

// ValidateContent checks a chat message body against the configured length
// bounds and the dangerous-markup patterns. It does not transform; call
// Sanitize on the accepted value before persisting or echoing it.
func ValidateContent(content string, limits Limits) *ValidationError {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return violation(ViolationEmpty, "message content is required")
	}

	length := utf8.RuneCountInString(trimmed)
	minLen := limits.MinContentLen
	if minLen <= 0 {
		minLen = 1
	}
	maxLen := limits.MaxContentLen
	if maxLen <= 0 {
		maxLen = 2000
	}
	if length < minLen {
		return violation(ViolationTooShort, "message must be at least %d characters", minLen)
	}
	if length > maxLen {
		return violation(ViolationTooLong, "message exceeds %d characters", maxLen)
	}

	for _, pattern := range dangerousPatterns {
		if pattern.MatchString(trimmed) {
			return violation(ViolationDangerous, "message contains disallowed markup")
		}
	}
	return nil
}

// Sanitize HTML-escapes content for safe display. It never rejects.
func Sanitize(content string) string {
	return html.EscapeString(strings.TrimSpace(content))
}

// ValidateSessionID requires the canonical UUID shape.
func ValidateSessionID(id string) *ValidationError {
	if _, err := uuid.Parse(id); err != nil || len(id) != 36 {
		return violation(ViolationBadSessionID, "session id must be a UUID")
	}
	return nil
}

// ValidateRating accepts the 1-5 satisfaction scale.
func ValidateRating(rating int) *ValidationError {
	if rating < 1 || rating > 5 {
		return violation(ViolationBadRating, "rating must be between 1 and 5")
	}
	return nil
}

// ValidateFeedback bounds the free-text feedback accompanying a rating.
func ValidateFeedback(feedback string, limits Limits) *ValidationError {
	maxLen := limits.MaxFeedbackLen
	if maxLen <= 0 {
		maxLen = 1000
	}
	if utf8.RuneCountInString(feedback) > maxLen {
		return violation(ViolationFeedbackLength, "feedback exceeds %d characters", maxLen)
	}
	return nil
}

// ValidateContext bounds a free-form context payload: total serialized size,
// nesting depth, and a key charset allowlist at every level.
func ValidateContext(payload map[string]any, limits Limits) *ValidationError {
	maxSize := limits.MaxContextSize
	if maxSize <= 0 {
		maxSize = 10 * 1024
	}
	maxDepth := limits.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 5
	}

	if size := approximateSize(payload); size > maxSize {
		return violation(ViolationPayloadTooBig, "context payload exceeds %d bytes", maxSize)
	}
	return walkPayload(payload, 1, maxDepth)
}

func walkPayload(value any, depth, maxDepth int) *ValidationError {
	if depth > maxDepth {
		return violation(ViolationTooDeep, "payload nesting exceeds depth %d", maxDepth)
	}

	switch typed := value.(type) {
	case map[string]any:
		for key, nested := range typed {
			if !contextKeyPattern.MatchString(key) {
				return violation(ViolationBadKey, "key %q contains disallowed characters", key)
			}
			if err := walkPayload(nested, depth+1, maxDepth); err != nil {
				return err
			}
		}
	case []any:
		for _, item := range typed {
			if err := walkPayload(item, depth+1, maxDepth); err != nil {
				return err
			}
		}
	}
	return nil
}

// approximateSize estimates serialized size without a second marshal pass.
func approximateSize(value any) int {
	switch typed := value.(type) {
	case nil:
		return 4
	case bool:
		return 5
	case float64, int, int64:
		return 16
	case string:
		return len(typed) + 2
	case map[string]any:
		total := 2
		for key, nested := range typed {
			total += len(key) + 4 + approximateSize(nested)
		}
		return total
	case []any:
		total := 2
		for _, item := range typed {
			total += approximateSize(item) + 1
		}
		return total
	default:
		return 16
	}
}
