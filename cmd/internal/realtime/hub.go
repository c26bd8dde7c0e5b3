package realtime

import (
	"log/slog"
	"sync"

	v1 "trackr/shared/contracts/realtime/v1"
)

// Hub indexes connections by workspace.
//
// Lock order is client.mu, then hub.mu, then room.mu. hub.mu is only held
// to look up, insert or retire a room, so operations on different
// workspaces never wait on each other's member sets.
type Hub struct {
	log *slog.Logger

	mu    sync.Mutex
	rooms map[string]*room
}

// room is the subscriber set of one workspace. A retired room has been
// removed from the hub; joiners that still hold it must look up a fresh one.
type room struct {
	id string

	mu      sync.RWMutex
	members map[string]*Client
	retired bool
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{log: log, rooms: make(map[string]*room)}
}

func (h *Hub) roomFor(workspaceID string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[workspaceID]
	if !ok {
		r = &room{id: workspaceID, members: make(map[string]*Client)}
		h.rooms[workspaceID] = r
	}
	return r
}

// Join subscribes c to workspaceID. It reports false when c is already
// disconnected. Joining twice is a no-op.
func (h *Hub) Join(c *Client, workspaceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	if _, ok := c.joined[workspaceID]; ok {
		return true
	}

	for {
		r := h.roomFor(workspaceID)
		r.mu.Lock()
		if r.retired {
			r.mu.Unlock()
			continue
		}
		r.members[c.ID] = c
		r.mu.Unlock()
		break
	}
	c.joined[workspaceID] = struct{}{}
	return true
}

// Leave unsubscribes c from workspaceID. Leaving a workspace that was never
// joined is a no-op.
func (h *Hub) Leave(c *Client, workspaceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.joined[workspaceID]; !ok {
		return
	}
	delete(c.joined, workspaceID)
	h.remove(c, workspaceID)
}

// Disconnect removes c from every workspace and then closes it. It is
// idempotent, and no Join can succeed afterwards.
func (h *Hub) Disconnect(c *Client) {
	c.mu.Lock()
	c.closed = true
	for ws := range c.joined {
		h.remove(c, ws)
	}
	clear(c.joined)
	c.mu.Unlock()

	c.Close()
}

func (h *Hub) remove(c *Client, workspaceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[workspaceID]
	if !ok {
		return
	}
	r.mu.Lock()
	delete(r.members, c.ID)
	if len(r.members) == 0 {
		r.retired = true
		delete(h.rooms, workspaceID)
		h.log.Debug("ws.room.retired", "workspace_id", workspaceID)
	}
	r.mu.Unlock()
}

// Publish offers env to every member of workspaceID without blocking.
// Members whose queue is full miss the event.
func (h *Hub) Publish(workspaceID string, env v1.Envelope) (delivered, dropped int) {
	h.mu.Lock()
	r := h.rooms[workspaceID]
	h.mu.Unlock()
	if r == nil {
		return 0, 0
	}

	r.mu.RLock()
	members := make([]*Client, 0, len(r.members))
	for _, c := range r.members {
		members = append(members, c)
	}
	r.mu.RUnlock()

	for _, c := range members {
		if c.isDone() {
			continue
		}
		select {
		case c.Send <- env:
			delivered++
		default:
			dropped++
		}
	}
	return delivered, dropped
}

// Members returns the number of connections joined to workspaceID.
func (h *Hub) Members(workspaceID string) int {
	h.mu.Lock()
	r := h.rooms[workspaceID]
	h.mu.Unlock()
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Rooms returns the number of workspaces with at least one member.
func (h *Hub) Rooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}
