package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"trackr/cmd/internal/auth/session"
	"trackr/cmd/internal/membership"
	"trackr/cmd/internal/metrics"
	v1 "trackr/shared/contracts/realtime/v1"
)

// Authenticator verifies the access assertion presented at the handshake.
// *session.Service satisfies it.
type Authenticator interface {
	VerifyAccess(assertion string, now time.Time) (session.AccessClaims, error)
}

type GatewayOption func(*Gateway)

func WithMetrics(m *metrics.Metrics) GatewayOption {
	return func(g *Gateway) { g.metrics = m }
}

// WithClock overrides the time source used for assertion checks and
// envelope timestamps.
func WithClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// Gateway authenticates websocket handshakes and routes workspace
// subscriptions through the hub.
type Gateway struct {
	log     *slog.Logger
	hub     *Hub
	auth    Authenticator
	members membership.Directory
	cfg     GatewayConfig
	metrics *metrics.Metrics
	now     func() time.Time

	originPatterns []string
	skipVerify     bool
	broadcaster    *hubBroadcaster

	mu      sync.Mutex
	closing bool
	conns   map[string]*connState
	wg      sync.WaitGroup
}

func NewGateway(log *slog.Logger, hub *Hub, auth Authenticator, members membership.Directory, cfg GatewayConfig, opts ...GatewayOption) (*Gateway, error) {
	if hub == nil || auth == nil || members == nil {
		return nil, errors.New("realtime: hub, authenticator and directory are required")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()

	g := &Gateway{
		log:            log,
		hub:            hub,
		auth:           auth,
		members:        members,
		cfg:            cfg,
		now:            time.Now,
		originPatterns: originPatterns(cfg.AllowedOrigins),
		skipVerify:     cfg.InsecureSkipVerify || slices.Contains(cfg.AllowedOrigins, "*"),
		conns:          make(map[string]*connState),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.broadcaster = &hubBroadcaster{hub: hub, log: log, metrics: g.metrics, now: g.now}
	return g, nil
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	d := DefaultGatewayConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = d.ReadIdleTimeout
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = d.LookupTimeout
	}
	if c.SendQueueSize < minSendQueueSize {
		c.SendQueueSize = d.SendQueueSize
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	// An idle window shorter than two pings would close healthy peers.
	if floor := 2 * c.HeartbeatInterval; c.ReadIdleTimeout < floor {
		c.ReadIdleTimeout = floor
	}
	if c.RateLimit <= 0 {
		c.RateLimit = d.RateLimit
	}
	if c.RateBurst <= 0 {
		c.RateBurst = d.RateBurst
	}
	return c
}

// Broadcaster returns the publisher bound to this gateway's hub.
func (g *Gateway) Broadcaster() Broadcaster {
	return g.broadcaster
}

// Hub exposes the subscription index, mainly for tests and diagnostics.
func (g *Gateway) Hub() *Hub {
	return g.hub
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.isClosing() {
		g.metrics.HandshakeReject("closing")
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	if err := checkOrigin(r, g.cfg.OriginRequired, g.cfg.AllowedOrigins); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		g.metrics.HandshakeReject("origin")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	// The assertion is checked before the upgrade so a refused client never
	// holds a socket.
	claims, err := g.auth.VerifyAccess(g.accessToken(r), g.now())
	if err != nil {
		g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
		g.metrics.HandshakeReject("auth")
		w.Header().Set("WWW-Authenticate", `Bearer realm="trackr"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.skipVerify,
	})
	if err != nil {
		g.log.Info("ws.accept.fail", "err", err, "remote", r.RemoteAddr)
		g.metrics.HandshakeReject("accept")
		return
	}

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		g.metrics.HandshakeReject("subprotocol")
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cs := &connState{
		g:       g,
		client:  NewClient(newConnectionID(g.now()), claims.UserID, g.cfg.SendQueueSize),
		conn:    conn,
		ctx:     ctx,
		cancel:  cancel,
		started: time.Now(),
	}
	if !g.track(cs) {
		cs.shutdown(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer g.untrack(cs)

	g.metrics.ConnOpened()
	defer g.metrics.ConnClosed()
	g.log.Info("ws.connect", "connection_id", cs.client.ID, "user_id", cs.client.UserID)

	cs.run()

	g.log.Info("ws.disconnect", "connection_id", cs.client.ID, "user_id", cs.client.UserID)
}

// Close refuses new handshakes and closes every live connection with
// StatusGoingAway. It waits for connection handlers to return or ctx to end.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	g.closing = true
	live := make([]*connState, 0, len(g.conns))
	for _, cs := range g.conns {
		live = append(live, cs)
	}
	g.mu.Unlock()

	g.log.Info("ws.gateway.closing", "connections", len(live))
	for _, cs := range live {
		go cs.shutdown(websocket.StatusGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) isClosing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closing
}

func (g *Gateway) track(cs *connState) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closing {
		return false
	}
	g.conns[cs.client.ID] = cs
	g.wg.Add(1)
	return true
}

func (g *Gateway) untrack(cs *connState) {
	g.mu.Lock()
	delete(g.conns, cs.client.ID)
	g.mu.Unlock()
	g.wg.Done()
}

func (g *Gateway) accessToken(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	if g.cfg.QueryToken {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

// connState is one accepted connection.
type connState struct {
	g      *Gateway
	client *Client
	conn   *websocket.Conn

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	// lastAlive is the offset from started of the last data frame or
	// answered ping. Zero until then.
	started   time.Time
	lastAlive atomic.Int64
}

func (cs *connState) touch() { cs.lastAlive.Store(int64(time.Since(cs.started))) }

func (cs *connState) idleFor() time.Duration {
	return time.Since(cs.started) - time.Duration(cs.lastAlive.Load())
}

// shutdown is idempotent. Room membership is dropped before the client's
// goroutines are signalled, and Send is never closed.
func (cs *connState) shutdown(code websocket.StatusCode, reason string) {
	cs.closeOnce.Do(func() {
		cs.g.hub.Disconnect(cs.client)
		_ = cs.conn.Close(code, reason)
		cs.cancel()
	})
}

func (cs *connState) run() {
	g := cs.g
	id := cs.client.ID

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-cs.ctx.Done():
				return
			case <-cs.client.Done():
				return
			case env := <-cs.client.Send:
				if err := writeEnvelope(cs.ctx, cs.conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "connection_id", id, "close_status", websocket.CloseStatus(err), "err", err)
					cs.shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-cs.ctx.Done():
				return
			case <-cs.client.Done():
				return
			case <-t.C:
				if idle := cs.idleFor(); idle > g.cfg.ReadIdleTimeout {
					g.log.Info("ws.idle", "connection_id", id, "idle", idle.String())
					cs.shutdown(websocket.StatusGoingAway, "idle timeout")
					return
				}

				hbCtx, hbCancel := context.WithTimeout(cs.ctx, g.cfg.HeartbeatTimeout)
				err := cs.conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "connection_id", id, "failures", failures, "err", err)
					if failures >= maxPingFailures {
						cs.shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
				cs.touch()
			}
		}
	}()

	limiter := rate.NewLimiter(rate.Limit(g.cfg.RateLimit), g.cfg.RateBurst)

readLoop:
	for {
		// Listen-only subscribers send nothing after joining; liveness is
		// judged by the heartbeat, so reads carry no deadline of their own.
		data, err := readFrame(cs.ctx, cs.conn)

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				cs.shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				cs.shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				cs.shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("ws.read.fail", "connection_id", id, "err", err)
				cs.shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}
		cs.touch()

		if !limiter.Allow() {
			g.log.Warn("ws.rate_limited", "connection_id", id, "user_id", cs.client.UserID)
			// Written directly: the queue may be the thing that is backed up.
			if env, err := cs.errorEnvelope("", v1.CodeRateLimited, "too many events"); err == nil {
				_ = writeEnvelope(cs.ctx, cs.conn, env, g.cfg.WriteTimeout)
			}
			cs.shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			cs.sendError("", v1.CodeBadRequest, "invalid JSON")
			continue
		}
		if err := env.Validate(); err != nil {
			cs.sendError(env.ID, v1.CodeBadRequest, err.Error())
			continue
		}

		switch env.Type {
		case v1.TypeJoinWorkspace:
			cs.onJoin(env)
		case v1.TypeLeaveWorkspace:
			cs.onLeave(env)
		default:
			cs.sendError(env.ID, v1.CodeUnsupported, fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	cs.shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

// onJoin never closes the connection: every refusal is an ack.
func (cs *connState) onJoin(env v1.Envelope) {
	g := cs.g

	var p v1.WorkspacePayload
	if err := env.Decode(&p); err != nil || !membership.ValidWorkspaceID(p.WorkspaceID) {
		g.log.Info("ws.join.forbidden", "connection_id", cs.client.ID, "user_id", cs.client.UserID, "reason", "malformed_workspace_id")
		g.metrics.Join("forbidden")
		cs.ack(env.ID, false, v1.AckForbidden)
		return
	}

	ctx, cancel := context.WithTimeout(cs.ctx, g.cfg.LookupTimeout)
	ref, err := g.members.Lookup(ctx, p.WorkspaceID, cs.client.UserID)
	cancel()

	switch {
	case errors.Is(err, membership.ErrNotMember):
		g.log.Info("ws.join.forbidden", "connection_id", cs.client.ID, "user_id", cs.client.UserID, "workspace_id", p.WorkspaceID)
		g.metrics.Join("forbidden")
		cs.ack(env.ID, false, v1.AckForbidden)
		return
	case err != nil:
		g.log.Error("ws.join.fail", "connection_id", cs.client.ID, "user_id", cs.client.UserID, "workspace_id", p.WorkspaceID, "err", err)
		g.metrics.Join("unavailable")
		cs.ack(env.ID, false, v1.AckUnavailable)
		return
	}

	if !g.hub.Join(cs.client, p.WorkspaceID) {
		return
	}
	g.log.Info("ws.join.ok", "connection_id", cs.client.ID, "user_id", cs.client.UserID, "workspace_id", p.WorkspaceID, "role", string(ref.Role))
	g.metrics.Join("ok")
	cs.ack(env.ID, true, "")
}

func (cs *connState) onLeave(env v1.Envelope) {
	var p v1.WorkspacePayload
	if err := env.Decode(&p); err == nil && p.WorkspaceID != "" {
		cs.g.hub.Leave(cs.client, p.WorkspaceID)
		cs.g.log.Debug("ws.leave", "connection_id", cs.client.ID, "workspace_id", p.WorkspaceID)
	}
	cs.ack(env.ID, true, "")
}

func (cs *connState) ack(replyTo string, ok bool, message string) {
	now := cs.g.now()
	env, err := v1.New(v1.TypeAck, newEnvelopeID(now), now, v1.AckPayload{OK: ok, Message: message})
	if err != nil {
		return
	}
	env.ReplyTo = replyTo
	cs.reply(env)
}

func (cs *connState) errorEnvelope(replyTo, code, message string) (v1.Envelope, error) {
	now := cs.g.now()
	env, err := v1.New(v1.TypeError, newEnvelopeID(now), now, v1.ErrorPayload{Code: code, Message: message})
	if err != nil {
		return v1.Envelope{}, err
	}
	env.ReplyTo = replyTo
	return env, nil
}

func (cs *connState) sendError(replyTo, code, message string) {
	if env, err := cs.errorEnvelope(replyTo, code, message); err == nil {
		cs.reply(env)
	}
}

// reply enqueues a direct response. Unlike broadcasts it waits for queue
// space, bounded by the write timeout.
func (cs *connState) reply(env v1.Envelope) bool {
	t := time.NewTimer(cs.g.cfg.WriteTimeout)
	defer t.Stop()

	select {
	case cs.client.Send <- env:
		return true
	case <-cs.client.Done():
		return false
	case <-cs.ctx.Done():
		return false
	case <-t.C:
		cs.g.log.Info("ws.reply.timeout", "connection_id", cs.client.ID, "type", env.Type)
		return false
	}
}

func readFrame(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, fmt.Errorf("unsupported message type: %v", mt)
	}
	return data, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}
