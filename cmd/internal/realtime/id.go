package realtime

import (
	"time"

	"trackr/cmd/identity/ids"
)

// newConnectionID returns the ULID that identifies one websocket connection in logs.
func newConnectionID(now time.Time) string {
	return ids.MustULID(now)
}

// newEnvelopeID returns a ULID for server-originated envelopes.
func newEnvelopeID(now time.Time) string {
	return ids.MustULID(now)
}
