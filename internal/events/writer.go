package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types appended by the engine.
const (
	ContributorCreated     = "contributor.created"
	ContributorRateChanged = "contributor.rate_changed"
	EntryUpserted          = "entry.upserted"
	EntryCopied            = "entry.copied"
	EntryDeleted           = "entry.deleted"
	EntrySubmitted         = "entry.submitted"
	EntryApproved          = "entry.approved"
	EntryRejected          = "entry.rejected"
	EntryReopened          = "entry.reopened"
	BatchApproved          = "batch.approved"
	BatchRejected          = "batch.rejected"
	APIKeyCreated          = "apikey.created"
	APIKeyRevoked          = "apikey.revoked"
	RoleGranted            = "role.granted"
	RoleRevoked            = "role.revoked"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one audit row inside tx so it commits or rolls back with the change it records.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
