package notify

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"caseline/internal/domain"
)

// Notification type identifiers written by the engine.
const (
	TypeCaseForwarded  = "case_forwarded"
	TypeCaseRejected   = "case_rejected"
	TypeCaseClosed     = "case_closed"
	TypeWorkSubmitted  = "work_submitted"
	TypeTaskAssigned   = "task_assigned"
	TypeTaskSubmitted  = "task_submitted"
	TypeTaskApproved   = "task_approved"
	TypeTaskSentBack   = "task_sent_back"
	TypeTaskCancelled  = "task_cancelled"
	TypeTaskEdited     = "task_edited"
	TypeTaskReassigned = "task_reassigned"
	TypeTaskReopened   = "task_reopened"
)

// Writer inserts role-scoped notifications inside a caller-owned
// transaction, alongside the state change that triggered them.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Entry describes a notification to deliver to a role's feed.
type Entry struct {
	CaseID   string
	Type     string
	Title    string
	Subtitle string
	TaskID   string
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, targetRole string, entry Entry) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT INTO notifications(id,case_id,target_role,type,title,subtitle,task_id,ts,read) VALUES (?,?,?,?,?,?,?,?,0)`,
		uuid.NewString(), nullable(entry.CaseID), targetRole, entry.Type, entry.Title, nullable(entry.Subtitle), nullable(entry.TaskID), ts)
	return err
}

// ListForRole returns a role's notifications, newest first. When
// unreadOnly is set, read entries are filtered out.
func (w Writer) ListForRole(ctx context.Context, targetRole string, unreadOnly bool) ([]domain.Notification, error) {
	q := `SELECT id,case_id,target_role,type,title,subtitle,task_id,ts,read FROM notifications WHERE target_role = ?`
	if unreadOnly {
		q += ` AND read = 0`
	}
	q += ` ORDER BY ts DESC, id DESC`
	rows, err := w.DB.QueryContext(ctx, q, targetRole)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var caseID, subtitle, taskID sql.NullString
		if err := rows.Scan(&n.ID, &caseID, &n.TargetRole, &n.Type, &n.Title, &subtitle, &taskID, &n.TS, &n.Read); err != nil {
			return nil, err
		}
		if caseID.Valid {
			n.CaseID = caseID.String
		}
		n.Subtitle = subtitle.String
		if taskID.Valid {
			n.TaskID = &taskID.String
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkRead flags a single notification as read. Unknown ids are not an
// error; the result reports whether anything changed.
func (w Writer) MarkRead(ctx context.Context, id string) (bool, error) {
	res, err := w.DB.ExecContext(ctx, `UPDATE notifications SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkAllRead flags every unread notification for a role and returns
// how many were updated.
func (w Writer) MarkAllRead(ctx context.Context, targetRole string) (int64, error) {
	res, err := w.DB.ExecContext(ctx, `UPDATE notifications SET read = 1 WHERE target_role = ? AND read = 0`, targetRole)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
