// Package assistant wraps the completion backend behind a small interface.
// The backend is slow and fallible: every call carries a timeout and the
// pipeline degrades to a canned reply instead of hanging the connection.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/guiIerme/JobFinder-sub002/internal/config"
	"github.com/guiIerme/JobFinder-sub002/internal/model/chat"
)

// Typed failures for the error taxonomy; both recover to the fallback reply.
var (
	ErrTimeout  = errors.New("completion backend timed out")
	ErrUpstream = errors.New("completion backend failed")
	ErrDisabled = errors.New("completion backend not configured")
)

// DefaultFallback is sent when the backend cannot answer in time.
const DefaultFallback = "Desculpe, estou com dificuldade para responder agora. " +
	"Tente novamente em instantes ou fale com nosso suporte."

// Completer produces one assistant reply for a user turn given the session
// transcript. The gateway depends on this seam, not on the concrete chain.
type Completer interface {
	Reply(ctx context.Context, history []chat.Message, userText string) (string, error)
}

// Service runs the prompt-template plus chat-model chain.
type Service struct {
	chain    compose.Runnable[map[string]any, *schema.Message]
	system   string
	fallback string
	timeout  time.Duration
}

// NewService compiles the chain from the configured model. Callers should
// check config.AIConfig.Enabled first and fall back to NewDisabled.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile chat chain: %w", err)
	}

	return &Service{
		chain:    runnable,
		system:   cfg.SystemPrompt,
		fallback: fallbackOrDefault(cfg.FallbackReply),
		timeout:  cfg.Timeout,
	}, nil
}

// Reply invokes the chain with the configured timeout. On timeout or backend
// error it returns the canned fallback together with the typed error so the
// caller can log the cause; the reply itself is always usable.
func (s *Service) Reply(ctx context.Context, history []chat.Message, userText string) (string, error) {
	timeout := s.timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	response, err := s.chain.Invoke(callCtx, map[string]any{
		"system":  s.system,
		"history": buildHistory(history),
		"query":   userText,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return s.fallback, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return s.fallback, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	content := strings.TrimSpace(response.Content)
	if content == "" {
		slog.Warn("completion backend returned empty reply")
		return s.fallback, ErrUpstream
	}
	return content, nil
}

// buildHistory converts the persisted transcript into model messages,
// keeping only the most recent turns.
func buildHistory(messages []chat.Message) []*schema.Message {
	const historyLimit = 10

	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > historyLimit {
		startIdx = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Sender {
		case chat.SenderUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.SenderAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}

// Disabled is the Completer used when no model credentials are configured.
// It answers every turn with the fallback so the widget stays functional.
type Disabled struct {
	fallback string
}

// NewDisabled builds the credential-less completer.
func NewDisabled(fallback string) *Disabled {
	return &Disabled{fallback: fallbackOrDefault(fallback)}
}

// Reply implements Completer.
func (d *Disabled) Reply(context.Context, []chat.Message, string) (string, error) {
	return d.fallback, ErrDisabled
}

func fallbackOrDefault(fallback string) string {
	if strings.TrimSpace(fallback) == "" {
		return DefaultFallback
	}
	return fallback
}
