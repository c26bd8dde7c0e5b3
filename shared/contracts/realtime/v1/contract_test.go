package v1

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cases := []struct {
		name    string
		env     Envelope
		wantErr string
	}{
		{"join ok", Envelope{V: 1, Type: TypeJoinWorkspace, ID: "r1", TS: now}, ""},
		{"join without id", Envelope{V: 1, Type: TypeJoinWorkspace, TS: now}, "missing field: id"},
		{"leave ok", Envelope{V: 1, Type: TypeLeaveWorkspace, ID: "r2", TS: now}, ""},
		{"ack", Envelope{V: 1, Type: TypeAck, ReplyTo: "r1", TS: now}, ""},
		{"event", Envelope{V: 1, Type: TypeCommentAdded, TS: now}, ""},
		{"bad version", Envelope{V: 2, Type: TypeAck}, "unsupported protocol version"},
		{"blank type", Envelope{V: 1, Type: "  "}, "missing field: type"},
		{"unknown type", Envelope{V: 1, Type: "message_send", ID: "x"}, "unknown type"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.env.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestNewAndDecode(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	env, err := New(TypeIssueCreated, "e1", ts, IssuePayload{WorkspaceID: "w", IssueID: "i"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if env.V != Version || env.TS.Location() != time.UTC {
		t.Fatalf("unexpected envelope header: %+v", env)
	}

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"payload":{"workspace_id":"w","issue_id":"i"}`) {
		t.Fatalf("unexpected wire form: %s", raw)
	}
	if strings.Contains(string(raw), "reply_to") {
		t.Fatalf("empty reply_to must be omitted: %s", raw)
	}

	var p IssuePayload
	if err := env.Decode(&p); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.IssueID != "i" {
		t.Fatalf("IssueID = %q", p.IssueID)
	}

	if err := (Envelope{}).Decode(&p); err == nil {
		t.Fatal("Decode of empty payload should fail")
	}
}

func TestIsEvent(t *testing.T) {
	t.Parallel()

	for _, typ := range []string{TypeIssueCreated, TypeIssueUpdated, TypeCommentAdded, TypeNotificationCreated} {
		if !IsEvent(typ) {
			t.Fatalf("IsEvent(%q) = false", typ)
		}
	}
	if IsEvent(TypeAck) || IsEvent(TypeJoinWorkspace) {
		t.Fatal("control frames are not events")
	}
}
