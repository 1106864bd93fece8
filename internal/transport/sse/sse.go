// Package sse implements the Streaming HTTP Transport (spec §4.4): an
// open-ended Server-Sent Events stream plus a companion JSON-RPC
// submission endpoint. Frames flow request -> submission endpoint,
// responses -> event stream. Grounded on the teacher's
// pkg/mcp/sse.go (NATS ChanSubscribe fanout, 30s heartbeat ticker,
// SSE header set) generalized from a per-operation NATS subject to a
// per-session one, since every session here (not every long-running
// operation) needs its own outbound fanout channel.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/fyrsmithlabs/corpusmcp/internal/logging"
	"github.com/fyrsmithlabs/corpusmcp/internal/mcpsession"
	"github.com/fyrsmithlabs/corpusmcp/internal/oauth"
	"github.com/fyrsmithlabs/corpusmcp/internal/protocol"
	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	heartbeatInterval = 30 * time.Second
	toolCallDeadline  = 30 * time.Second
	maxFrameBytes     = 4 << 20 // 4 MiB, same cap as the line transport (spec §4.3)
)

// Transport binds the protocol engine and session manager to the
// streaming HTTP surface. One Transport serves every concurrent SSE
// client; per-session state lives in the Session Manager and in the
// cancel funcs map guarding in-flight tool calls.
type Transport struct {
	engine   *protocol.Engine
	sessions *mcpsession.Manager
	nc       *nats.Conn
	log      *logging.Logger

	mu   sync.Mutex
	sess map[string]*sessionCtx
}

// sessionCtx carries the stream-scoped context in-flight tool calls for
// a session are derived from. Cancel is invoked when the SSE stream
// closes, propagating cancellation to every call still running (spec
// §5: "closing an event stream cancels all in-flight handlers for that
// session on a best-effort basis").
type sessionCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Transport. nc is an embedded or external NATS
// connection used purely as a per-session pub/sub fanout bus; no
// message durability or JetStream semantics are needed since an
// undelivered response simply means the client's stream already
// closed.
func New(engine *protocol.Engine, sessions *mcpsession.Manager, nc *nats.Conn, log *logging.Logger) *Transport {
	return &Transport{
		engine:   engine,
		sessions: sessions,
		nc:       nc,
		log:      log,
		sess:     make(map[string]*sessionCtx),
	}
}

func subjectFor(sessionID string) string {
	return fmt.Sprintf("mcp.session.%s.out", sessionID)
}

// SubmissionURL returns the absolute URL a freshly opened stream's
// "endpoint" event advertises, per spec §4.4.
func SubmissionURL(baseURL, sessionID string) string {
	return fmt.Sprintf("%s/messages?session_id=%s", baseURL, sessionID)
}

// ServeEventStream handles GET /sse: it creates a session, emits the
// endpoint event, and then relays frames published to the session's
// NATS subject until the client disconnects.
func (t *Transport) ServeEventStream(c echo.Context) error {
	sess := t.sessions.Create()

	// Deliberately rooted in context.Background rather than the
	// request's own context: the stream's lifetime is the session's
	// lifetime, which outlives this single HTTP request goroutine only
	// in the sense that Echo keeps it open until the handler returns,
	// but in-flight POST /messages goroutines must keep running even
	// though their own (short-lived) request context has already ended.
	ctx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.sess[sess.ID] = &sessionCtx{ctx: ctx, cancel: cancel}
	t.mu.Unlock()
	defer func() {
		cancel()
		t.mu.Lock()
		delete(t.sess, sess.ID)
		t.mu.Unlock()
		t.sessions.Delete(sess.ID)
	}()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.WriteHeader(http.StatusOK)

	msgChan := make(chan *nats.Msg, 16)
	sub, err := t.nc.ChanSubscribe(subjectFor(sess.ID), msgChan)
	if err != nil {
		return fmt.Errorf("sse: subscribing for session %s: %w", sess.ID, err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	baseURL := requestBaseURL(c.Request())
	if err := writeEvent(resp, "endpoint", SubmissionURL(baseURL, sess.ID)); err != nil {
		return err
	}
	resp.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgChan:
			if err := writeEvent(resp, "message", string(msg.Data)); err != nil {
				return err
			}
			resp.Flush()
		case <-ticker.C:
			fmt.Fprint(resp, ": keep-alive\n\n")
			resp.Flush()
		case <-c.Request().Context().Done():
			return nil
		}
	}
}

func writeEvent(w http.ResponseWriter, eventType, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
	return err
}

func requestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return fmt.Sprintf("%s://%s", scheme, r.Host)
}

// submitError is the JSON error body ServeSubmit returns. Per spec §4.4
// a successful submission has an empty body; this shape is used only for
// the 404 unknown-session error.
type submitError struct {
	Error string `json:"error"`
}

// ServeSubmit handles POST /messages?session_id=<id>: it decodes a
// JSON-RPC frame, routes it to the engine, and replies per spec §4.4's
// status-code contract. Notifications are processed inline since they
// produce no response to await; requests are dispatched to a goroutine
// so the HTTP response can return immediately, with the eventual
// Response published to the session's event stream.
func (t *Transport) ServeSubmit(c echo.Context) error {
	sessionID := c.QueryParam("session_id")
	if sessionID == "" {
		sessionID = c.Param("session_id")
	}

	sess, ok := t.sessions.Get(sessionID)
	if !ok {
		return c.JSON(http.StatusNotFound, submitError{Error: "unknown_session"})
	}

	logCtx := logging.WithSessionID(context.Background(), sessionID)
	if token, ok := oauth.TokenFromContext(c); ok {
		logCtx = logging.WithClientID(logCtx, token.ClientID)
	}

	body := http.MaxBytesReader(c.Response(), c.Request().Body, maxFrameBytes)
	var req protocol.Request
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		t.publishParseError(logCtx, sessionID, err)
		return c.NoContent(http.StatusBadRequest)
	}

	if req.IsNotification() {
		// No response is expected; still route it through the engine so
		// "initialized" and other notifications update session state.
		t.engine.Handle(c.Request().Context(), sess, req)
		return c.NoContent(http.StatusAccepted)
	}

	t.mu.Lock()
	sc := t.sess[sessionID]
	t.mu.Unlock()
	parentCtx := context.Background()
	if sc != nil {
		parentCtx = sc.ctx
	}

	ctx, cancel := context.WithTimeout(parentCtx, toolCallDeadline)
	go func() {
		defer cancel()
		resp := t.engine.Handle(ctx, sess, req)
		if resp == nil {
			return
		}
		t.publish(logCtx, sessionID, resp)
	}()

	return c.NoContent(http.StatusOK)
}

func (t *Transport) publish(ctx context.Context, sessionID string, resp *protocol.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		if t.log != nil {
			t.log.Error(ctx, "sse: marshaling response", zap.Error(err))
		}
		return
	}
	if err := t.nc.Publish(subjectFor(sessionID), data); err != nil {
		if t.log != nil {
			t.log.Error(ctx, "sse: publishing response", zap.Error(err))
		}
	}
}

func (t *Transport) publishParseError(ctx context.Context, sessionID string, cause error) {
	resp := protocol.NewError(nil, protocol.ErrCodeParseError, "parse error", map[string]string{"details": cause.Error()})
	t.publish(ctx, sessionID, &resp)
}
