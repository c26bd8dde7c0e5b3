package realtime

import (
	"sort"
	"sync"

	v1 "trackr/shared/contracts/realtime/v1"
)

// Client represents one authenticated websocket connection.
//
// Send is never closed by the server, so a broadcaster holding a stale
// pointer can still select on it safely. done signals goroutines to stop.
//
// joined and closed are guarded by mu. Once closed is set no join can
// succeed, which keeps a join racing a disconnect from re-adding the client.
type Client struct {
	ID     string
	UserID string
	Send   chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	joined map[string]struct{}
	closed bool
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(id, userID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	return &Client{
		ID:     id,
		UserID: userID,
		Send:   make(chan v1.Envelope, sendQueueSize),
		done:   make(chan struct{}),
		joined: make(map[string]struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
// It does NOT close Send.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Client) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Workspaces returns the joined workspace ids, sorted.
func (c *Client) Workspaces() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.joined))
	for ws := range c.joined {
		out = append(out, ws)
	}
	sort.Strings(out)
	return out
}
