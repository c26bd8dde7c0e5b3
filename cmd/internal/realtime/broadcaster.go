package realtime

import (
	"log/slog"
	"time"

	"trackr/cmd/internal/metrics"
	v1 "trackr/shared/contracts/realtime/v1"
)

// Broadcaster is handed to the CRUD layer. Publish is fire-and-forget:
// delivery is at most once, only to connections joined to workspaceID at the
// time of the call, and never blocks the caller.
type Broadcaster interface {
	Publish(workspaceID, event string, payload any)
}

type hubBroadcaster struct {
	hub     *Hub
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func (b *hubBroadcaster) Publish(workspaceID, event string, payload any) {
	if !v1.IsEvent(event) {
		b.log.Warn("ws.publish.unknown_event", "event", event, "workspace_id", workspaceID)
		return
	}

	now := b.now()
	env, err := v1.New(event, newEnvelopeID(now), now, payload)
	if err != nil {
		b.log.Error("ws.publish.encode_fail", "event", event, "workspace_id", workspaceID, "err", err)
		return
	}

	delivered, dropped := b.hub.Publish(workspaceID, env)
	b.metrics.Published(event, delivered, dropped)
	if dropped > 0 {
		b.log.Warn("ws.publish.dropped", "event", event, "workspace_id", workspaceID, "dropped", dropped)
	}
}

func PublishIssueCreated(b Broadcaster, workspaceID, issueID string) {
	b.Publish(workspaceID, v1.TypeIssueCreated, v1.IssuePayload{WorkspaceID: workspaceID, IssueID: issueID})
}

func PublishIssueUpdated(b Broadcaster, workspaceID, issueID string) {
	b.Publish(workspaceID, v1.TypeIssueUpdated, v1.IssuePayload{WorkspaceID: workspaceID, IssueID: issueID})
}

func PublishCommentAdded(b Broadcaster, workspaceID, issueID, commentID string) {
	b.Publish(workspaceID, v1.TypeCommentAdded, v1.CommentPayload{
		WorkspaceID: workspaceID,
		IssueID:     issueID,
		CommentID:   commentID,
	})
}

func PublishNotificationCreated(b Broadcaster, workspaceID, notificationID, userID string) {
	b.Publish(workspaceID, v1.TypeNotificationCreated, v1.NotificationPayload{
		WorkspaceID:    workspaceID,
		NotificationID: notificationID,
		UserID:         userID,
	})
}
