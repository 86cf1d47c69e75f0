package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/guiIerme/JobFinder-sub002/internal/analysis/frustration"
	"github.com/guiIerme/JobFinder-sub002/internal/cache"
	"github.com/guiIerme/JobFinder-sub002/internal/config"
	"github.com/guiIerme/JobFinder-sub002/internal/connlimit"
	"github.com/guiIerme/JobFinder-sub002/internal/kv"
	"github.com/guiIerme/JobFinder-sub002/internal/model/chat"
	"github.com/guiIerme/JobFinder-sub002/internal/ratelimit"
	"github.com/guiIerme/JobFinder-sub002/internal/service/session"
	"github.com/guiIerme/JobFinder-sub002/internal/store"
)

// fakeCompleter is a deterministic completion backend that counts calls.
type fakeCompleter struct {
	calls atomic.Int64
	reply string
	err   error
}

func (f *fakeCompleter) Reply(_ context.Context, _ []chat.Message, _ string) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "desculpe, tivemos um problema", f.err
	}
	return f.reply, nil
}

// testHarness holds the server and the in-memory backends so tests can
// inspect persisted state after driving the socket.
type testHarness struct {
	server    *httptest.Server
	durable   *store.MemoryStore
	completer *fakeCompleter
}

type harnessOptions struct {
	allowedOrigins []string
	rate           ratelimit.Config
	conns          connlimit.Config
	maxFrameBytes  int64
}

func newHarness(t *testing.T, opts harnessOptions) *testHarness {
	t.Helper()

	if opts.rate.Window == 0 {
		opts.rate = ratelimit.DefaultConfig()
	}
	if opts.conns.PerIdentity == 0 {
		opts.conns = connlimit.DefaultConfig()
	}
	if opts.maxFrameBytes == 0 {
		opts.maxFrameBytes = 64 * 1024
	}

	cacheKV := kv.NewMemoryStore()
	durable := store.NewMemoryStore()
	completer := &fakeCompleter{reply: "Posso ajudar com sua vaga!"}

	sessions := session.NewService(durable, cacheKV, session.DefaultConfig())
	limiter := ratelimit.New(cacheKV, opts.rate)
	tracker := connlimit.New(cacheKV, opts.conns)
	replies := cache.New(cacheKV, time.Hour)
	classifier := frustration.NewClassifier(nil)

	cfg := config.ChatConfig{
		AllowedOrigins:  opts.allowedOrigins,
		MaxFrameBytes:   opts.maxFrameBytes,
		MinContentLen:   1,
		MaxContentLen:   2000,
		MaxContextBytes: 10 * 1024,
		MaxFeedbackLen:  1000,
		MaxContextDepth: 5,
		HistoryLimit:    50,
		ConnIdleTimeout: time.Minute,
		PingInterval:    30 * time.Second,
	}
	escalation := config.EscalationConfig{
		Message: "Vou te conectar com nossa equipe de suporte.",
		Actions: []string{"Enviar e-mail para o suporte"},
		ContactInfo: map[string]string{
			"email": "suporte@jobfinder.com.br",
		},
	}

	gateway := New(sessions, completer, limiter, tracker, replies, classifier, durable, cfg, escalation)

	router := chi.NewRouter()
	gateway.RegisterRoutes(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testHarness{server: server, durable: durable, completer: completer}
}

func (h *testHarness) dial(t *testing.T, userID string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws?user_id=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// recv reads the next data frame, skipping typing indicators.
func recv(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var frame map[string]any
		require.NoError(t, conn.ReadJSON(&frame))
		if frame["type"] == "typing" {
			continue
		}
		return frame
	}
}

func send(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	require.NoError(t, conn.WriteJSON(frame))
}

func initSession(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	send(t, conn, map[string]any{"type": "session_init"})
	ready := recv(t, conn)
	require.Equal(t, "session_ready", ready["type"])
	id, _ := ready["session_id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestSessionInitAndResume(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	first := h.dial(t, "visitor-1", nil)
	send(t, first, map[string]any{
		"type":    "session_init",
		"context": map[string]any{"page": "/vagas/dev-backend"},
	})
	ready := recv(t, first)
	require.Equal(t, "session_ready", ready["type"])
	require.Equal(t, false, ready["resumed"])
	sessionID := ready["session_id"].(string)
	first.Close()

	second := h.dial(t, "visitor-1", nil)
	send(t, second, map[string]any{
		"type":       "session_init",
		"session_id": sessionID,
	})
	resumed := recv(t, second)
	require.Equal(t, "session_ready", resumed["type"])
	require.Equal(t, sessionID, resumed["session_id"])
	require.Equal(t, true, resumed["resumed"])
}

func TestMessageRoundTrip(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	conn := h.dial(t, "visitor-1", nil)
	initSession(t, conn)

	send(t, conn, map[string]any{"type": "message", "content": "Como cadastro meu currículo?"})

	reply := recv(t, conn)
	require.Equal(t, "message", reply["type"])
	require.Equal(t, chat.SenderAssistant, reply["sender_type"])
	require.Equal(t, "Posso ajudar com sua vaga!", reply["content"])
	require.EqualValues(t, 1, h.completer.calls.Load())
}

func TestDangerousMarkupIsEscapedBeforePersisting(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	conn := h.dial(t, "visitor-1", nil)
	sessionID := initSession(t, conn)

	send(t, conn, map[string]any{"type": "message", "content": "<script>alert(1)</script>"})
	reply := recv(t, conn)
	require.Equal(t, "message", reply["type"])

	messages, err := h.durable.ListMessages(context.Background(), sessionID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, messages)
	require.Equal(t, chat.SenderUser, messages[0].Sender)
	require.Contains(t, messages[0].Content, "&lt;script&gt;")
	require.NotContains(t, messages[0].Content, "<script>")
}

func TestEmptyMessageRejected(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	conn := h.dial(t, "visitor-1", nil)
	initSession(t, conn)

	send(t, conn, map[string]any{"type": "message", "content": "   "})
	frame := recv(t, conn)
	require.Equal(t, "validation_error", frame["type"])
	require.EqualValues(t, 0, h.completer.calls.Load())
}

func TestRateLimitFrame(t *testing.T) {
	h := newHarness(t, harnessOptions{
		rate: ratelimit.Config{Window: time.Minute, Messages: 2, Burst: 1},
	})
	conn := h.dial(t, "visitor-1", nil)
	initSession(t, conn)

	// Distinct contents so the response cache never short-circuits the
	// pipeline before the limiter.
	for i, content := range []string{"primeira mensagem", "segunda mensagem", "terceira mensagem"} {
		send(t, conn, map[string]any{"type": "message", "content": content})
		reply := recv(t, conn)
		require.Equalf(t, "message", reply["type"], "message %d should pass", i+1)
	}

	send(t, conn, map[string]any{"type": "message", "content": "quarta mensagem"})
	frame := recv(t, conn)
	require.Equal(t, "rate_limit_error", frame["type"])
	require.Greater(t, frame["retry_after"].(float64), float64(0))
}

func TestResponseCacheServesSecondAsk(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	conn := h.dial(t, "visitor-1", nil)
	initSession(t, conn)

	var last map[string]any
	for range 2 {
		send(t, conn, map[string]any{"type": "message", "content": "Quanto custa anunciar uma vaga?"})
		last = recv(t, conn)
		require.Equal(t, "message", last["type"])
		require.Equal(t, "Posso ajudar com sua vaga!", last["content"])
	}

	require.EqualValues(t, 1, h.completer.calls.Load())
	metadata, ok := last["metadata"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, true, metadata["cache_hit"])
}

func TestEscalationShownOnce(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	conn := h.dial(t, "visitor-1", nil)
	initSession(t, conn)

	send(t, conn, map[string]any{"type": "message", "content": "quero falar com um atendente"})
	frame := recv(t, conn)
	require.Equal(t, "escalation", frame["type"])
	require.NotEmpty(t, frame["content"])
	contact, ok := frame["contact_info"].(map[string]any)
	require.True(t, ok)
	require.NotEmpty(t, contact)

	// A second plea routes through the normal pipeline instead of
	// repeating the hand-off.
	send(t, conn, map[string]any{"type": "message", "content": "quero falar com uma pessoa agora"})
	frame = recv(t, conn)
	require.Equal(t, "message", frame["type"])
}

func TestFrameTooLargeCloseCode(t *testing.T) {
	h := newHarness(t, harnessOptions{maxFrameBytes: 256})
	conn := h.dial(t, "visitor-1", nil)
	initSession(t, conn)

	send(t, conn, map[string]any{"type": "message", "content": strings.Repeat("a", 300)})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	require.True(t, websocket.IsCloseError(err, 4009), "want close 4009, got %v", err)
}

func TestRepeatedSessionInitUpdatesContext(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	conn := h.dial(t, "visitor-1", nil)

	send(t, conn, map[string]any{
		"type":    "session_init",
		"context": map[string]any{"page": "/vagas"},
	})
	ready := recv(t, conn)
	require.Equal(t, "session_ready", ready["type"])
	sessionID := ready["session_id"].(string)

	// The widget re-inits on navigation without reconnecting.
	send(t, conn, map[string]any{
		"type":    "session_init",
		"context": map[string]any{"page": "/perfil"},
	})
	ready = recv(t, conn)
	require.Equal(t, "session_ready", ready["type"])
	require.Equal(t, sessionID, ready["session_id"])
	require.Equal(t, true, ready["resumed"])

	session, err := h.durable.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	require.Equal(t, "/perfil", session.Context["page"])
}

func TestOversizedHandshakeRejected(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	header := http.Header{}
	header.Set("X-Padding", strings.Repeat("a", 9*1024))
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws?user_id=visitor-1"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if conn != nil {
		conn.Close()
	}
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusRequestHeaderFieldsTooLarge, resp.StatusCode)
}

func TestConnectionLimitCloseCode(t *testing.T) {
	h := newHarness(t, harnessOptions{
		conns: connlimit.Config{PerIdentity: 1, PerOrigin: 10},
	})

	first := h.dial(t, "visitor-1", nil)
	initSession(t, first)

	second := h.dial(t, "visitor-1", nil)
	second.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := second.ReadMessage()
	require.Error(t, err)
	require.True(t, websocket.IsCloseError(err, 4002), "want close 4002, got %v", err)
}

func TestUnauthorizedOriginCloseCode(t *testing.T) {
	h := newHarness(t, harnessOptions{
		allowedOrigins: []string{"https://www.jobfinder.com.br"},
	})

	header := http.Header{}
	header.Set("Origin", "https://evil.example.com")
	conn := h.dial(t, "visitor-1", header)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	require.True(t, websocket.IsCloseError(err, 4001), "want close 4001, got %v", err)
}

func TestSatisfactionMarksResolvedInAnalytics(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	conn := h.dial(t, "visitor-1", nil)
	sessionID := initSession(t, conn)

	send(t, conn, map[string]any{"type": "message", "content": "obrigado pela ajuda"})
	recv(t, conn)
	send(t, conn, map[string]any{"type": "satisfaction_rating", "rating": 5, "feedback": "excelente"})

	send(t, conn, map[string]any{"type": "session_close"})
	closed := recv(t, conn)
	require.Equal(t, "session_closed", closed["type"])
	conn.Close()

	// Analytics flush runs on teardown after the socket drops.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if record, ok := h.durable.Analytics(sessionID); ok {
			require.True(t, record.Resolved)
			require.Equal(t, 1, record.UserMessages)
			require.Equal(t, 1, record.BotMessages)
			require.Greater(t, record.Engagement, 0)
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("analytics record never flushed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
