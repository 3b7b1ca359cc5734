package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"caseline/internal/domain"
)

const taskColumns = `id,case_id,title,COALESCE(instructions,'') AS instructions,priority,deadline,status,assignee,created_by,created_at,updated_at,cancelled_at,cancelled_by,cancel_reason`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var deadline, cancelledAt, cancelledBy, cancelReason sql.NullString
	err := scan(&t.ID, &t.CaseID, &t.Title, &t.Instructions, &t.Priority, &deadline, &t.Status, &t.Assignee, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt, &cancelledAt, &cancelledBy, &cancelReason)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if deadline.Valid {
		t.Deadline = &deadline.String
	}
	if cancelledAt.Valid {
		t.CancelledAt = &cancelledAt.String
	}
	if cancelledBy.Valid {
		t.CancelledBy = &cancelledBy.String
	}
	if cancelReason.Valid {
		t.CancelReason = &cancelReason.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,case_id,title,instructions,priority,deadline,status,assignee,created_by,created_at,updated_at,cancelled_at,cancelled_by,cancel_reason)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.CaseID, t.Title, nullable(t.Instructions), t.Priority, nullableStringPtr(t.Deadline), t.Status,
		t.Assignee, t.CreatedBy, t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CancelledAt), nullableStringPtr(t.CancelledBy), nullableStringPtr(t.CancelReason))
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?,instructions=?,priority=?,deadline=?,status=?,assignee=?,updated_at=?,cancelled_at=?,cancelled_by=?,cancel_reason=? WHERE id=?`,
		t.Title, nullable(t.Instructions), t.Priority, nullableStringPtr(t.Deadline), t.Status, t.Assignee,
		t.UpdatedAt, nullableStringPtr(t.CancelledAt), nullableStringPtr(t.CancelledBy), nullableStringPtr(t.CancelReason), t.ID)
	return err
}

// GetTask loads a task with its submissions, history and pending docs.
func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id).Scan)
	if err != nil {
		return t, err
	}
	if t.Submissions, err = r.ListSubmissions(ctx, id); err != nil {
		return t, err
	}
	if t.History, err = r.ListTaskHistory(ctx, id); err != nil {
		return t, err
	}
	if t.PendingDocs, err = r.ListPendingDocs(ctx, nil, id); err != nil {
		return t, err
	}
	return t, nil
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	t, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id).Scan)
	if err != nil {
		return t, err
	}
	if t.PendingDocs, err = r.ListPendingDocs(ctx, tx, id); err != nil {
		return t, err
	}
	return t, nil
}

type TaskFilters struct {
	CaseID   string
	Status   string
	Assignee string
	Limit    int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.CaseID != "" {
		clauses = append(clauses, "case_id=?")
		args = append(args, f.CaseID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Assignee != "" {
		clauses = append(clauses, "assignee=?")
		args = append(args, f.Assignee)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// AssigneesWithTasks returns the distinct assignees that hold at least
// one task on the case.
func (r Repo) AssigneesWithTasks(ctx context.Context, tx *sql.Tx, caseID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT DISTINCT assignee FROM tasks WHERE case_id=? ORDER BY assignee`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

const submissionColumns = `id,task_id,seq,submitted_by,submitted_at,COALESCE(comment,'') AS comment,docs_json,status,feedback,feedback_at`

func scanSubmission(scan func(dest ...any) error) (domain.Submission, error) {
	var s domain.Submission
	var docs, feedback, feedbackAt sql.NullString
	err := scan(&s.ID, &s.TaskID, &s.Seq, &s.SubmittedBy, &s.SubmittedAt, &s.Comment, &docs, &s.Status, &feedback, &feedbackAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if docs.Valid && docs.String != "" {
		if err := json.Unmarshal([]byte(docs.String), &s.Documents); err != nil {
			return s, err
		}
	}
	if feedback.Valid {
		s.Feedback = &feedback.String
	}
	if feedbackAt.Valid {
		s.FeedbackAt = &feedbackAt.String
	}
	return s, nil
}

func (r Repo) InsertSubmission(ctx context.Context, tx *sql.Tx, s domain.Submission) error {
	var docsJSON any
	if len(s.Documents) > 0 {
		data, err := json.Marshal(s.Documents)
		if err != nil {
			return err
		}
		docsJSON = string(data)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO submissions(id,task_id,seq,submitted_by,submitted_at,comment,docs_json,status,feedback,feedback_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.TaskID, s.Seq, s.SubmittedBy, s.SubmittedAt, nullable(s.Comment), docsJSON, s.Status,
		nullableStringPtr(s.Feedback), nullableStringPtr(s.FeedbackAt))
	return err
}

// UpdateSubmissionReview sets the review outcome on a submission.
func (r Repo) UpdateSubmissionReview(ctx context.Context, tx *sql.Tx, id, status string, feedback, feedbackAt *string) error {
	_, err := tx.ExecContext(ctx, `UPDATE submissions SET status=?,feedback=?,feedback_at=? WHERE id=?`,
		status, nullableStringPtr(feedback), nullableStringPtr(feedbackAt), id)
	return err
}

// LatestSubmissionTx returns the highest-seq submission of a task.
func (r Repo) LatestSubmissionTx(ctx context.Context, tx *sql.Tx, taskID string) (domain.Submission, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE task_id=? ORDER BY seq DESC LIMIT 1`, taskID)
	return scanSubmission(row.Scan)
}

func (r Repo) CountSubmissionsTx(ctx context.Context, tx *sql.Tx, taskID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM submissions WHERE task_id=?`, taskID).Scan(&n)
	return n, err
}

func (r Repo) ListSubmissions(ctx context.Context, taskID string) ([]domain.Submission, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE task_id=? ORDER BY seq ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Submission
	for rows.Next() {
		s, err := scanSubmission(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) InsertTaskHistory(ctx context.Context, tx *sql.Tx, h domain.TaskHistoryEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_history(task_id,type,actor,detail,changes_json,from_assignee,to_assignee,ts) VALUES (?,?,?,?,?,?,?,?)`,
		h.TaskID, h.Type, h.Actor, nullable(h.Detail), nullableStringPtr(h.ChangesJSON), nullableStringPtr(h.FromAssignee), nullableStringPtr(h.ToAssignee), h.TS)
	return err
}

func (r Repo) ListTaskHistory(ctx context.Context, taskID string) ([]domain.TaskHistoryEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,type,actor,COALESCE(detail,'') AS detail,changes_json,from_assignee,to_assignee,ts FROM task_history WHERE task_id=? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskHistoryEntry
	for rows.Next() {
		var h domain.TaskHistoryEntry
		var changes, from, to sql.NullString
		if err := rows.Scan(&h.ID, &h.TaskID, &h.Type, &h.Actor, &h.Detail, &changes, &from, &to, &h.TS); err != nil {
			return nil, err
		}
		if changes.Valid {
			h.ChangesJSON = &changes.String
		}
		if from.Valid {
			h.FromAssignee = &from.String
		}
		if to.Valid {
			h.ToAssignee = &to.String
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

func (r Repo) AddPendingDoc(ctx context.Context, tx *sql.Tx, taskID, docID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_pending_docs(task_id,doc_id) VALUES (?,?)`, taskID, docID)
	return err
}

func (r Repo) RemovePendingDoc(ctx context.Context, tx *sql.Tx, taskID, docID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM task_pending_docs WHERE task_id=? AND doc_id=?`, taskID, docID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RemovePendingDocs clears a set of doc ids from a task's pending list.
// Missing entries are ignored.
func (r Repo) RemovePendingDocs(ctx context.Context, tx *sql.Tx, taskID string, docIDs []string) error {
	for _, id := range docIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_pending_docs WHERE task_id=? AND doc_id=?`, taskID, id); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListPendingDocs(ctx context.Context, tx *sql.Tx, taskID string) ([]string, error) {
	query := `SELECT doc_id FROM task_pending_docs WHERE task_id=? ORDER BY doc_id`
	var rows *sql.Rows
	var err error
	if tx != nil {
		rows, err = tx.QueryContext(ctx, query, taskID)
	} else {
		rows, err = r.DB.QueryContext(ctx, query, taskID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}
