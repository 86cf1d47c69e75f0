// Package ws is the realtime gateway: it admits websocket connections and
// drives every inbound frame through validation, rate limiting, caching, the
// completion backend and analytics, in arrival order. Connections are fully
// independent of each other; within one connection the pipeline is strictly
// sequential so replies always come back in request order.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/guiIerme/JobFinder-sub002/internal/analysis/frustration"
	"github.com/guiIerme/JobFinder-sub002/internal/cache"
	"github.com/guiIerme/JobFinder-sub002/internal/config"
	"github.com/guiIerme/JobFinder-sub002/internal/connlimit"
	"github.com/guiIerme/JobFinder-sub002/internal/model/chat"
	"github.com/guiIerme/JobFinder-sub002/internal/model/wire"
	"github.com/guiIerme/JobFinder-sub002/internal/ratelimit"
	"github.com/guiIerme/JobFinder-sub002/internal/security"
	"github.com/guiIerme/JobFinder-sub002/internal/service/analytics"
	"github.com/guiIerme/JobFinder-sub002/internal/service/assistant"
	sessionservice "github.com/guiIerme/JobFinder-sub002/internal/service/session"
	"github.com/guiIerme/JobFinder-sub002/internal/store"
)

const writeTimeout = 10 * time.Second

// maxHandshakeBytes bounds the upgrade request line plus headers. A widget
// handshake is a few hundred bytes; anything near this cap is abuse.
const maxHandshakeBytes = 8 * 1024

// Gateway owns connection admission and the per-message pipeline.
type Gateway struct {
	sessions   *sessionservice.Service
	completer  assistant.Completer
	limiter    *ratelimit.Limiter
	tracker    *connlimit.Tracker
	replies    *cache.ResponseCache
	classifier *frustration.Classifier
	durable    store.Store
	cfg        config.ChatConfig
	escalation config.EscalationConfig
	limits     security.Limits
	upgrader   websocket.Upgrader
}

// New wires the gateway. The origin allowlist is enforced after the upgrade
// so rejected clients receive a distinguishable close code instead of a bare
// HTTP 403.
func New(
	sessions *sessionservice.Service,
	completer assistant.Completer,
	limiter *ratelimit.Limiter,
	tracker *connlimit.Tracker,
	replies *cache.ResponseCache,
	classifier *frustration.Classifier,
	durable store.Store,
	cfg config.ChatConfig,
	escalation config.EscalationConfig,
) *Gateway {
	return &Gateway{
		sessions:   sessions,
		completer:  completer,
		limiter:    limiter,
		tracker:    tracker,
		replies:    replies,
		classifier: classifier,
		durable:    durable,
		cfg:        cfg,
		escalation: escalation,
		limits: security.Limits{
			MinContentLen:  cfg.MinContentLen,
			MaxContentLen:  cfg.MaxContentLen,
			MaxContextSize: cfg.MaxContextBytes,
			MaxFeedbackLen: cfg.MaxFeedbackLen,
			MaxDepth:       cfg.MaxContextDepth,
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin policy is applied post-upgrade with close codes.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoutes mounts the websocket endpoint.
func (g *Gateway) RegisterRoutes(r chi.Router) {
	r.Get("/ws", g.handleWebSocket)
}

// connection is the per-socket state owned by a single goroutine.
type connection struct {
	ws        *websocket.Conn
	identity  string
	originKey string
	sessionID string
	acc       *analytics.Accumulator
	teardown  sync.Once
}

func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if size := handshakeSize(r); size > maxHandshakeBytes {
		slog.Warn("connection rejected: oversized handshake", "size", size, "remote", r.RemoteAddr)
		http.Error(w, "handshake too large", http.StatusRequestHeaderFieldsTooLarge)
		return
	}

	identity := clientIdentity(r)
	originKey := clientIP(r)

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &connection{
		ws:        ws,
		identity:  identity,
		originKey: originKey,
		acc:       analytics.NewAccumulator(g.durable),
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if !g.admit(ctx, c, r) {
		ws.Close()
		return
	}
	defer g.finish(c)

	slog.Info("chat connection admitted", "identity", identity, "origin", originKey)

	// The frame cap is enforced below on the decoded length so the 4009
	// close is ours and reaches the client first; gorilla's read limit
	// would write its own 1009 close before ReadMessage returns. The
	// doubled limit stays on as a backstop against unbounded reads.
	ws.SetReadLimit(2 * g.cfg.MaxFrameBytes)
	ws.SetReadDeadline(time.Now().Add(g.cfg.ConnIdleTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(g.cfg.ConnIdleTimeout))
		return nil
	})

	go g.pingLoop(ctx, ws)

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				// Backstop tripped; gorilla already wrote its 1009 close.
				slog.Warn("connection closed: frame exceeded read backstop", "identity", identity)
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read error", "identity", identity, "error", err)
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(g.cfg.ConnIdleTimeout))

		if int64(len(raw)) > g.cfg.MaxFrameBytes {
			g.sendClose(c.ws, wire.CloseFrameTooLarge, "frame exceeds size limit")
			slog.Warn("connection closed: frame too large",
				"identity", identity, "size", len(raw))
			return
		}

		if !g.handleFrame(ctx, c, raw) {
			return
		}
	}
}

// admit applies the origin allowlist and both connection caps before any
// session work. A rejected connection gets its distinguishing close code and
// never reaches the tracker teardown path.
func (g *Gateway) admit(ctx context.Context, c *connection, r *http.Request) bool {
	if !g.originAllowed(r.Header.Get("Origin")) {
		g.sendClose(c.ws, wire.CloseUnauthorizedOrigin, "origin not allowed")
		slog.Warn("connection rejected: unauthorized origin",
			"origin", r.Header.Get("Origin"), "identity", c.identity)
		return false
	}

	if err := g.tracker.Acquire(ctx, c.identity, c.originKey); err != nil {
		switch {
		case errors.Is(err, connlimit.ErrIdentityLimit), errors.Is(err, connlimit.ErrOriginLimit):
			g.sendClose(c.ws, wire.CloseConnectionLimit, "too many connections")
			slog.Warn("connection rejected: limit reached",
				"identity", c.identity, "origin", c.originKey, "cause", err)
		default:
			g.sendClose(c.ws, websocket.CloseInternalServerErr, "admission failed")
			slog.Error("connection admission failed", "error", err)
		}
		return false
	}

	return true
}

// finish runs the teardown exactly once on every exit path: release the
// connection slots, flush analytics, and close the session if the client
// never did.
func (g *Gateway) finish(c *connection) {
	c.teardown.Do(func() {
		// The request context is gone by now; teardown gets its own budget.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		g.tracker.Release(ctx, c.identity, c.originKey)

		if c.sessionID != "" {
			if err := g.sessions.Close(ctx, c.sessionID, sessionservice.CloseReasonDisconnect); err != nil &&
				!errors.Is(err, sessionservice.ErrSessionNotFound) {
				slog.Warn("failed to close session on teardown", "session_id", c.sessionID, "error", err)
			}
			if err := c.acc.Flush(ctx, c.sessionID); err != nil {
				slog.Error("analytics flush failed", "session_id", c.sessionID, "error", err)
			}
		}

		c.ws.Close()
		slog.Info("chat connection closed", "identity", c.identity, "session_id", c.sessionID)
	})
}

func (g *Gateway) pingLoop(ctx context.Context, ws *websocket.Conn) {
	ticker := time.NewTicker(g.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// handleFrame dispatches one inbound frame. It returns false when the
// connection should stop reading.
func (g *Gateway) handleFrame(ctx context.Context, c *connection, raw []byte) bool {
	frame, err := wire.Decode(raw)
	if err != nil {
		g.send(c, wire.NewValidationError(err.Error()))
		return true
	}

	switch frame.Type {
	case wire.TypeSessionInit:
		g.handleSessionInit(ctx, c, frame.SessionInit)
	case wire.TypeMessage:
		g.handleMessage(ctx, c, frame.Message)
	case wire.TypeTyping:
		// Client typing state carries no server-side effect today.
	case wire.TypeSatisfaction:
		g.handleSatisfaction(ctx, c, frame.Satisfaction)
	case wire.TypeSessionClose:
		g.handleSessionClose(ctx, c)
		return false
	}
	return true
}

func (g *Gateway) handleSessionInit(ctx context.Context, c *connection, payload *wire.SessionInitPayload) {
	if payload.SessionID != "" {
		if err := security.ValidateSessionID(payload.SessionID); err != nil {
			g.send(c, wire.NewValidationError(err.Reason))
			return
		}
	}
	if payload.Context != nil {
		if err := security.ValidateContext(payload.Context, g.limits); err != nil {
			g.send(c, wire.NewValidationError(err.Reason))
			return
		}
	}

	// A repeated init on a live connection is a context update, typically
	// the widget reporting a page navigation.
	if c.sessionID != "" && (payload.SessionID == "" || payload.SessionID == c.sessionID) {
		if len(payload.Context) > 0 {
			if err := g.sessions.UpdateContext(ctx, c.sessionID, chat.ContextMap(payload.Context)); err != nil {
				slog.Error("context update failed", "session_id", c.sessionID, "error", err)
				g.send(c, wire.NewValidationError("could not update session"))
				return
			}
			if page, ok := payload.Context["page"].(string); ok {
				c.acc.RecordTopic(page)
			}
		}
		g.send(c, wire.NewSessionReady(c.sessionID, true))
		return
	}

	session, resumed, err := g.sessions.GetOrCreate(ctx, c.identity, payload.SessionID, chat.ContextMap(payload.Context))
	if err != nil {
		slog.Error("session init failed", "identity", c.identity, "error", err)
		g.send(c, wire.NewValidationError("could not start session"))
		return
	}

	c.sessionID = session.ID
	if resumed {
		c.acc.RecordAction("session_resumed")
	}
	if page, ok := session.Context["page"].(string); ok {
		c.acc.RecordTopic(page)
	}

	g.send(c, wire.NewSessionReady(session.ID, resumed))
}

// handleMessage is the message pipeline: validate, rate limit, resolve the
// session, classify for escalation, then cache-or-complete and persist both
// turns. Persistence failures never block the reply.
func (g *Gateway) handleMessage(ctx context.Context, c *connection, payload *wire.MessagePayload) {
	started := time.Now()

	if verr := security.ValidateContent(payload.Content, g.limits); verr != nil {
		// Dangerous markup is neutralized by the escaping below and the
		// message proceeds; every other violation bounces back to the
		// client.
		if verr.Kind != security.ViolationDangerous {
			g.send(c, wire.NewValidationError(verr.Reason))
			return
		}
		c.acc.RecordAction("content_sanitized")
	}

	result, err := g.limiter.Check(ctx, c.identity)
	if err != nil {
		slog.Warn("rate limit check degraded", "identity", c.identity, "error", err)
	}
	if !result.Allowed {
		g.send(c, wire.NewRateLimitError(result.RetryAfter))
		return
	}

	if c.sessionID == "" {
		// Lazy session creation for clients that skip session_init.
		session, _, err := g.sessions.GetOrCreate(ctx, c.identity, "", nil)
		if err != nil {
			slog.Error("lazy session creation failed", "identity", c.identity, "error", err)
			g.send(c, wire.NewValidationError("could not start session"))
			return
		}
		c.sessionID = session.ID
	}

	sanitized := security.Sanitize(payload.Content)
	userMsg := &chat.Message{
		SessionID: c.sessionID,
		Sender:    chat.SenderUser,
		Content:   sanitized,
	}
	if err := g.sessions.AppendMessage(ctx, userMsg); err != nil {
		slog.Error("failed to persist user message", "session_id", c.sessionID, "error", err)
	}
	c.acc.RecordUserMessage()

	classification := g.classifier.Classify(payload.Content)
	if classification.Frustrated {
		c.acc.RecordAction("frustration_detected")
		if g.escalate(ctx, c) {
			return
		}
	}

	g.send(c, wire.NewTyping(true))
	reply, cacheHit := g.resolveReply(ctx, c, payload.Content)
	g.send(c, wire.NewTyping(false))

	latency := time.Since(started)
	botMsg := &chat.Message{
		SessionID:    c.sessionID,
		Sender:       chat.SenderAssistant,
		Content:      reply,
		CacheHit:     cacheHit,
		ProcessingMS: latency.Milliseconds(),
	}
	if err := g.sessions.AppendMessage(ctx, botMsg); err != nil {
		slog.Error("failed to persist assistant message", "session_id", c.sessionID, "error", err)
	}
	c.acc.RecordBotMessage(latency)

	g.send(c, wire.NewChatMessage(chat.SenderAssistant, reply, time.Now().UTC(), map[string]any{
		"cache_hit": cacheHit,
	}))
}

// escalate emits the hand-off reply if this session has not escalated yet.
// It reports whether the model call should be skipped for this turn.
func (g *Gateway) escalate(ctx context.Context, c *connection) bool {
	transitioned, err := g.sessions.MarkEscalated(ctx, c.sessionID)
	if err != nil {
		slog.Error("failed to mark session escalated", "session_id", c.sessionID, "error", err)
		return false
	}
	if !transitioned {
		// Already escalated earlier in this session; keep classifying for
		// analytics but route the message normally.
		return false
	}

	c.acc.MarkEscalated()
	c.acc.RecordAction("escalation_shown")

	systemMsg := &chat.Message{
		SessionID: c.sessionID,
		Sender:    chat.SenderSystem,
		Content:   g.escalation.Message,
	}
	if err := g.sessions.AppendMessage(ctx, systemMsg); err != nil {
		slog.Error("failed to persist escalation message", "session_id", c.sessionID, "error", err)
	}

	g.send(c, wire.NewEscalation(g.escalation.Message, g.escalation.Actions, g.escalation.ContactInfo))
	return true
}

// resolveReply serves from the response cache when possible, otherwise asks
// the completion backend. Fallback replies from a failed backend are never
// cached.
func (g *Gateway) resolveReply(ctx context.Context, c *connection, content string) (string, bool) {
	fingerprint := cache.Fingerprint(content)
	if reply, found := g.replies.Get(ctx, fingerprint); found {
		return reply, true
	}

	history, err := g.sessions.History(ctx, c.sessionID, 0)
	if err != nil {
		slog.Warn("failed to load history for prompt", "session_id", c.sessionID, "error", err)
	}

	reply, err := g.completer.Reply(ctx, history, content)
	if err != nil {
		switch {
		case errors.Is(err, assistant.ErrTimeout):
			slog.Warn("completion backend timeout", "session_id", c.sessionID)
		case errors.Is(err, assistant.ErrDisabled):
			slog.Debug("completion backend disabled, serving fallback")
		default:
			slog.Error("completion backend error", "session_id", c.sessionID, "error", err)
		}
		return reply, false
	}

	g.replies.Put(ctx, fingerprint, reply)
	return reply, false
}

func (g *Gateway) handleSatisfaction(ctx context.Context, c *connection, payload *wire.SatisfactionPayload) {
	if verr := security.ValidateRating(payload.Rating); verr != nil {
		g.send(c, wire.NewValidationError(verr.Reason))
		return
	}
	if verr := security.ValidateFeedback(payload.Feedback, g.limits); verr != nil {
		g.send(c, wire.NewValidationError(verr.Reason))
		return
	}
	if c.sessionID == "" {
		g.send(c, wire.NewValidationError("no active session to rate"))
		return
	}

	if err := g.sessions.SetSatisfaction(ctx, c.sessionID, payload.Rating); err != nil {
		slog.Error("failed to store satisfaction rating", "session_id", c.sessionID, "error", err)
		return
	}

	c.acc.RecordAction("satisfaction_rating")
	if payload.Rating >= 4 {
		c.acc.MarkResolved()
	}
}

func (g *Gateway) handleSessionClose(ctx context.Context, c *connection) {
	if c.sessionID != "" {
		if err := g.sessions.Close(ctx, c.sessionID, sessionservice.CloseReasonClient); err != nil &&
			!errors.Is(err, sessionservice.ErrSessionNotFound) {
			slog.Warn("failed to close session", "session_id", c.sessionID, "error", err)
		}
	}
	g.send(c, wire.NewSessionClosed())
}

func (g *Gateway) send(c *connection, payload any) {
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteJSON(payload); err != nil {
		slog.Warn("websocket write failed", "identity", c.identity, "error", err)
	}
}

func (g *Gateway) sendClose(ws *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(writeTimeout)
	message := websocket.FormatCloseMessage(code, reason)
	if err := ws.WriteControl(websocket.CloseMessage, message, deadline); err != nil {
		slog.Debug("failed to write close frame", "error", err)
	}
}

func (g *Gateway) originAllowed(origin string) bool {
	if len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	if origin == "" {
		// Non-browser clients send no Origin header; the connection caps
		// still apply to them.
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range g.cfg.AllowedOrigins {
		if strings.EqualFold(origin, allowed) || strings.EqualFold(parsed.Host, allowed) {
			return true
		}
	}
	return false
}

// clientIdentity derives the rate-limit and session identity: the
// authenticated user id when present, otherwise the widget's anonymous
// token, otherwise a fresh one for this connection.
func clientIdentity(r *http.Request) string {
	if userID := strings.TrimSpace(r.URL.Query().Get("user_id")); userID != "" {
		return userID
	}
	if userID := strings.TrimSpace(r.Header.Get("X-User-ID")); userID != "" {
		return userID
	}
	if token := strings.TrimSpace(r.URL.Query().Get("anon_token")); token != "" {
		return "anon:" + token
	}
	return "anon:" + uuid.NewString()
}

// handshakeSize approximates the wire size of the upgrade request: request
// line plus every header name/value with separators.
func handshakeSize(r *http.Request) int {
	size := len(r.Method) + len(r.URL.RequestURI()) + len(r.Proto)
	for name, values := range r.Header {
		for _, value := range values {
			size += len(name) + len(value) + 4
		}
	}
	return size
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
