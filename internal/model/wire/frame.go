// Package wire defines the framed JSON protocol spoken over the chat
// websocket. Every frame carries a "type" discriminator; unknown types are
// rejected at the boundary instead of leaking into the pipeline.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Inbound frame types.
const (
	TypeSessionInit  = "session_init"
	TypeMessage      = "message"
	TypeTyping       = "typing"
	TypeSessionClose = "session_close"
	TypeSatisfaction = "satisfaction_rating"
)

// Outbound frame types.
const (
	TypeSessionReady    = "session_ready"
	TypeRateLimitError  = "rate_limit_error"
	TypeValidationError = "validation_error"
	TypeEscalation      = "escalation"
	TypeSessionClosed   = "session_closed"
)

// Close codes used when a connection is rejected or torn down. They sit in
// the 4000-4999 range reserved for application use so clients can branch on
// the cause.
const (
	CloseUnauthorizedOrigin = 4001
	CloseConnectionLimit    = 4002
	CloseFrameTooLarge      = 4009
)

// Inbound is the decoded form of one client frame: the discriminator plus
// exactly one populated payload variant matching it.
type Inbound struct {
	Type         string
	SessionInit  *SessionInitPayload
	Message      *MessagePayload
	Typing       *TypingPayload
	Satisfaction *SatisfactionPayload
}

// SessionInitPayload opens or resumes a session.
type SessionInitPayload struct {
	SessionID string         `json:"session_id,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// MessagePayload carries one user utterance.
type MessagePayload struct {
	Content string `json:"content"`
}

// TypingPayload signals typing state; relayed, never persisted.
type TypingPayload struct {
	IsTyping bool `json:"is_typing"`
}

// SatisfactionPayload records a 1-5 rating at the end of a conversation.
type SatisfactionPayload struct {
	Rating   int    `json:"rating"`
	Feedback string `json:"feedback,omitempty"`
}

type envelope struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsTyping  *bool          `json:"is_typing,omitempty"`
	Rating    *int           `json:"rating,omitempty"`
	Feedback  string         `json:"feedback,omitempty"`
	Timestamp int64          `json:"timestamp,omitempty"`
}

// Decode parses one raw frame into its typed variant. The envelope must be
// a flat JSON object with a known "type"; anything else is an error.
func Decode(raw []byte) (Inbound, error) {
	var env envelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return Inbound{}, fmt.Errorf("malformed frame: %w", err)
	}

	switch env.Type {
	case TypeSessionInit:
		return Inbound{Type: env.Type, SessionInit: &SessionInitPayload{
			SessionID: env.SessionID,
			Context:   env.Context,
		}}, nil
	case TypeMessage:
		return Inbound{Type: env.Type, Message: &MessagePayload{Content: env.Content}}, nil
	case TypeTyping:
		typing := TypingPayload{}
		if env.IsTyping != nil {
			typing.IsTyping = *env.IsTyping
		}
		return Inbound{Type: env.Type, Typing: &typing}, nil
	case TypeSessionClose:
		return Inbound{Type: env.Type}, nil
	case TypeSatisfaction:
		sat := SatisfactionPayload{Feedback: env.Feedback}
		if env.Rating != nil {
			sat.Rating = *env.Rating
		}
		return Inbound{Type: env.Type, Satisfaction: &sat}, nil
	case "":
		return Inbound{}, fmt.Errorf("frame missing type field")
	default:
		return Inbound{}, fmt.Errorf("unknown frame type %q", env.Type)
	}
}

// ChatMessage is the outbound reply frame.
type ChatMessage struct {
	Type       string         `json:"type"`
	SenderType string         `json:"sender_type"`
	Content    string         `json:"content"`
	CreatedAt  time.Time      `json:"created_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewChatMessage builds a reply frame from the assistant or system.
func NewChatMessage(senderType, content string, createdAt time.Time, metadata map[string]any) ChatMessage {
	return ChatMessage{
		Type:       TypeMessage,
		SenderType: senderType,
		Content:    content,
		CreatedAt:  createdAt,
		Metadata:   metadata,
	}
}

// SessionReady acknowledges session_init with the resolved session id.
type SessionReady struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Resumed   bool   `json:"resumed"`
}

// NewSessionReady builds the session_init acknowledgement.
func NewSessionReady(sessionID string, resumed bool) SessionReady {
	return SessionReady{Type: TypeSessionReady, SessionID: sessionID, Resumed: resumed}
}

// Typing is the outbound typing indicator.
type Typing struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"is_typing"`
}

// NewTyping builds an outbound typing frame.
func NewTyping(isTyping bool) Typing {
	return Typing{Type: TypeTyping, IsTyping: isTyping}
}

// RateLimitError tells the client to back off for retry_after seconds.
type RateLimitError struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// NewRateLimitError builds a rate_limit_error frame.
func NewRateLimitError(retryAfter int) RateLimitError {
	return RateLimitError{Type: TypeRateLimitError, RetryAfter: retryAfter}
}

// ValidationError reports a recoverable input problem.
type ValidationError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// NewValidationError builds a validation_error frame.
func NewValidationError(reason string) ValidationError {
	return ValidationError{Type: TypeValidationError, Reason: reason}
}

// Escalation hands the conversation off to human support.
type Escalation struct {
	Type        string            `json:"type"`
	Content     string            `json:"content"`
	Actions     []string          `json:"actions"`
	ContactInfo map[string]string `json:"contact_info"`
}

// NewEscalation builds an escalation frame from the configured playbook.
func NewEscalation(content string, actions []string, contactInfo map[string]string) Escalation {
	return Escalation{Type: TypeEscalation, Content: content, Actions: actions, ContactInfo: contactInfo}
}

// SessionClosed confirms a session_close request.
type SessionClosed struct {
	Type string `json:"type"`
}

// NewSessionClosed builds a session_closed frame.
func NewSessionClosed() SessionClosed {
	return SessionClosed{Type: TypeSessionClosed}
}
