// Package v1 defines the trackr realtime protocol v1 contract.
//
// It is shared between the gateway and clients so that the wire format has
// exactly one definition.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is embedded into every envelope.
const Version = 1

// Subprotocol is negotiated during the WebSocket handshake.
const Subprotocol = "trackr.realtime.v1"

// Type constants (wire-stable).
const (
	// TypeJoinWorkspace subscribes the connection to a workspace (client -> server).
	TypeJoinWorkspace = "join_workspace"
	// TypeLeaveWorkspace unsubscribes the connection (client -> server).
	TypeLeaveWorkspace = "leave_workspace"

	// TypeAck answers a client request; ReplyTo carries the request id.
	TypeAck = "ack"
	// TypeError reports a malformed or refused frame (server -> client).
	TypeError = "error"

	TypeIssueCreated        = "issue.created"
	TypeIssueUpdated        = "issue.updated"
	TypeCommentAdded        = "comment.added"
	TypeNotificationCreated = "notification.created"
)

// Ack messages.
const (
	AckForbidden   = "forbidden"
	AckUnavailable = "unavailable"
)

// Error codes.
const (
	CodeBadRequest  = "bad_request"
	CodeRateLimited = "rate_limited"
	CodeUnsupported = "unsupported_type"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	ReplyTo string          `json:"reply_to,omitempty"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// IsEvent reports whether t is a server-pushed domain event.
func IsEvent(t string) bool {
	switch t {
	case TypeIssueCreated, TypeIssueUpdated, TypeCommentAdded, TypeNotificationCreated:
		return true
	}
	return false
}

// Validate performs structural validation.
func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %d", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeJoinWorkspace, TypeLeaveWorkspace:
		// Requests must be correlatable with their ack.
		if strings.TrimSpace(e.ID) == "" {
			return errors.New("missing field: id")
		}
		return nil
	case TypeAck, TypeError:
		return nil
	default:
		if IsEvent(e.Type) {
			return nil
		}
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// New builds an envelope with a marshalled payload.
func New(typ, id string, ts time.Time, payload any) (Envelope, error) {
	env := Envelope{V: Version, Type: typ, ID: id, TS: ts.UTC()}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
		}
		env.Payload = b
	}
	return env, nil
}

// Decode unmarshals the payload into dst.
func (e Envelope) Decode(dst any) error {
	if len(e.Payload) == 0 {
		return errors.New("missing field: payload")
	}
	return json.Unmarshal(e.Payload, dst)
}

// ---- Payloads ----

// WorkspacePayload is the body of join_workspace and leave_workspace.
type WorkspacePayload struct {
	WorkspaceID string `json:"workspace_id"`
}

// AckPayload answers a request.
type AckPayload struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Event payloads are re-fetch hints; clients reload the resource from the API.

type IssuePayload struct {
	WorkspaceID string `json:"workspace_id"`
	IssueID     string `json:"issue_id"`
}

type CommentPayload struct {
	WorkspaceID string `json:"workspace_id"`
	IssueID     string `json:"issue_id"`
	CommentID   string `json:"comment_id"`
}

type NotificationPayload struct {
	WorkspaceID    string `json:"workspace_id"`
	NotificationID string `json:"notification_id"`
	UserID         string `json:"user_id"`
}
