package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends audit events inside a caller-owned transaction so the
// event lands atomically with the state change it records.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Entry carries the optional fields of an audit event. Zero-value
// strings are stored as NULL.
type Entry struct {
	Target string
	Action string
	Note   string
	Docs   []string
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, caseID, actor string, entry Entry) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	var docsJSON any
	if len(entry.Docs) > 0 {
		data, err := json.Marshal(entry.Docs)
		if err != nil {
			return fmt.Errorf("marshal event docs: %w", err)
		}
		docsJSON = string(data)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO events(ts,type,case_id,actor,target,action,note,docs_json) VALUES (?,?,?,?,?,?,?,?)`,
		ts, evtType, nullable(caseID), actor, nullable(entry.Target), nullable(entry.Action), nullable(entry.Note), docsJSON)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
