// Package rtclient is a small Go client for the realtime gateway. It is used
// by the gateway tests and by the smoke command.
package rtclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"trackr/cmd/identity/ids"
	v1 "trackr/shared/contracts/realtime/v1"
)

const (
	DefaultAckTimeout  = 5 * time.Second
	defaultEventBuffer = 64
	readLimit          = 1 << 20
)

var (
	// ErrAckTimeout means the request was written but no ack arrived in time.
	ErrAckTimeout = errors.New("rtclient: ack timeout")
	// ErrRejected matches every *AckError.
	ErrRejected = errors.New("rtclient: request rejected")
	ErrClosed   = errors.New("rtclient: connection closed")
)

// AckError is a negative acknowledgement from the server.
type AckError struct {
	Type    string
	Message string
}

func (e *AckError) Error() string {
	return fmt.Sprintf("rtclient: %s rejected: %s", e.Type, e.Message)
}

func (e *AckError) Is(target error) bool { return target == ErrRejected }

type options struct {
	ackTimeout  time.Duration
	header      http.Header
	httpClient  *http.Client
	eventBuffer int
	queryToken  bool
}

type Option func(*options)

func WithAckTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ackTimeout = d
		}
	}
}

// WithOrigin sets the Origin header sent on the upgrade request.
func WithOrigin(origin string) Option {
	return func(o *options) { o.header.Set("Origin", origin) }
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithEventBuffer sizes the Events channel. Events beyond it are dropped.
func WithEventBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.eventBuffer = n
		}
	}
}

// WithQueryToken sends the assertion as ?access_token= instead of a header.
func WithQueryToken() Option {
	return func(o *options) { o.queryToken = true }
}

// Client is one gateway connection.
type Client struct {
	conn       *websocket.Conn
	ackTimeout time.Duration
	events     chan v1.Envelope

	mu      sync.Mutex
	pending map[string]chan v1.Envelope
	err     error
	dropped int

	done      chan struct{}
	closeOnce sync.Once
}

// Dial opens a connection to rawURL authenticated with token. The HTTP
// response is returned even when the handshake is refused so callers can
// inspect the status code.
func Dial(ctx context.Context, rawURL, token string, opts ...Option) (*Client, *http.Response, error) {
	o := options{
		ackTimeout:  DefaultAckTimeout,
		header:      http.Header{},
		eventBuffer: defaultEventBuffer,
	}
	for _, opt := range opts {
		opt(&o)
	}

	target := rawURL
	if token != "" {
		if o.queryToken {
			u, err := url.Parse(rawURL)
			if err != nil {
				return nil, nil, fmt.Errorf("rtclient: parse url: %w", err)
			}
			q := u.Query()
			q.Set("access_token", token)
			u.RawQuery = q.Encode()
			target = u.String()
		} else {
			o.header.Set("Authorization", "Bearer "+token)
		}
	}

	conn, resp, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		HTTPClient:   o.httpClient,
		HTTPHeader:   o.header,
		Subprotocols: []string{v1.Subprotocol},
	})
	if err != nil {
		return nil, resp, fmt.Errorf("rtclient: dial: %w", err)
	}
	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return nil, resp, fmt.Errorf("rtclient: server negotiated subprotocol %q", sp)
	}
	conn.SetReadLimit(readLimit)

	c := &Client{
		conn:       conn,
		ackTimeout: o.ackTimeout,
		events:     make(chan v1.Envelope, o.eventBuffer),
		pending:    make(map[string]chan v1.Envelope),
		done:       make(chan struct{}),
	}
	go c.readLoop()
	return c, resp, nil
}

// Events yields every envelope that is not the answer to a pending request.
// It is closed when the connection ends.
func (c *Client) Events() <-chan v1.Envelope {
	return c.events
}

// Done is closed when the read side of the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the connection, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Dropped counts events discarded because Events was full.
func (c *Client) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

func (c *Client) JoinWorkspace(ctx context.Context, workspaceID string) error {
	return c.request(ctx, v1.TypeJoinWorkspace, workspaceID)
}

func (c *Client) LeaveWorkspace(ctx context.Context, workspaceID string) error {
	return c.request(ctx, v1.TypeLeaveWorkspace, workspaceID)
}

// Close is idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		_ = c.conn.Close(websocket.StatusNormalClosure, "bye")
	})
	return nil
}

func (c *Client) request(ctx context.Context, typ, workspaceID string) error {
	now := time.Now()
	id, err := ids.NewULID(now)
	if err != nil {
		return err
	}
	env, err := v1.New(typ, id, now, v1.WorkspacePayload{WorkspaceID: workspaceID})
	if err != nil {
		return err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}

	ch := make(chan v1.Envelope, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
		return fmt.Errorf("rtclient: write %s: %w", typ, err)
	}

	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		return replyError(typ, reply)
	case <-timer.C:
		return fmt.Errorf("%s: %w", typ, ErrAckTimeout)
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

func replyError(typ string, reply v1.Envelope) error {
	if reply.Type == v1.TypeError {
		var p v1.ErrorPayload
		if err := reply.Decode(&p); err != nil {
			return &AckError{Type: typ, Message: "malformed error"}
		}
		return &AckError{Type: typ, Message: p.Code + ": " + p.Message}
	}

	var p v1.AckPayload
	if err := reply.Decode(&p); err != nil {
		return fmt.Errorf("rtclient: decode ack: %w", err)
	}
	if !p.OK {
		return &AckError{Type: typ, Message: p.Message}
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)

	for {
		_, data, err := c.conn.Read(context.Background())
		if err != nil {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			return
		}

		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		if env.ReplyTo != "" && (env.Type == v1.TypeAck || env.Type == v1.TypeError) {
			c.mu.Lock()
			ch, ok := c.pending[env.ReplyTo]
			c.mu.Unlock()
			if ok {
				select {
				case ch <- env:
				default:
				}
				continue
			}
		}

		select {
		case c.events <- env:
		default:
			c.mu.Lock()
			c.dropped++
			c.mu.Unlock()
		}
	}
}
