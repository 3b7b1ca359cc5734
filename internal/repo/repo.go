package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"caseline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const caseColumns = `id,title,COALESCE(summary,'') AS summary,priority,status,due_date,current_holder,previous_holder,pending_action,pending_from,created_at,updated_at`

func scanCase(scan func(dest ...any) error) (domain.Case, error) {
	var c domain.Case
	var dueDate, prevHolder, pendingAction, pendingFrom sql.NullString
	err := scan(&c.ID, &c.Title, &c.Summary, &c.Priority, &c.Status, &dueDate, &c.CurrentHolder, &prevHolder, &pendingAction, &pendingFrom, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if dueDate.Valid {
		c.DueDate = &dueDate.String
	}
	if prevHolder.Valid {
		c.PreviousHolder = &prevHolder.String
	}
	if pendingAction.Valid {
		c.PendingAction = &pendingAction.String
	}
	if pendingFrom.Valid {
		c.PendingFrom = &pendingFrom.String
	}
	return c, nil
}

func (r Repo) InsertCase(ctx context.Context, tx *sql.Tx, c domain.Case) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO cases(id,title,summary,priority,status,due_date,current_holder,previous_holder,pending_action,pending_from,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.Title, nullable(c.Summary), c.Priority, c.Status, nullableStringPtr(c.DueDate), c.CurrentHolder,
		nullableStringPtr(c.PreviousHolder), nullableStringPtr(c.PendingAction), nullableStringPtr(c.PendingFrom), c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetCase(ctx context.Context, id string) (domain.Case, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id=?`, id)
	return scanCase(row.Scan)
}

func (r Repo) GetCaseTx(ctx context.Context, tx *sql.Tx, id string) (domain.Case, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id=?`, id)
	return scanCase(row.Scan)
}

// UpdateCase rewrites every mutable column from the given value.
func (r Repo) UpdateCase(ctx context.Context, tx *sql.Tx, c domain.Case) error {
	_, err := tx.ExecContext(ctx, `UPDATE cases SET title=?,summary=?,priority=?,status=?,due_date=?,current_holder=?,previous_holder=?,pending_action=?,pending_from=?,updated_at=? WHERE id=?`,
		c.Title, nullable(c.Summary), c.Priority, c.Status, nullableStringPtr(c.DueDate), c.CurrentHolder,
		nullableStringPtr(c.PreviousHolder), nullableStringPtr(c.PendingAction), nullableStringPtr(c.PendingFrom), c.UpdatedAt, c.ID)
	return err
}

func (r Repo) DeleteCase(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM cases WHERE id=?`, id)
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

type CaseFilters struct {
	Status          string
	Holder          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListCases(ctx context.Context, f CaseFilters) ([]domain.Case, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Holder != "" {
		clauses = append(clauses, "current_holder=?")
		args = append(args, f.Holder)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + caseColumns + ` FROM cases ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Case
	for rows.Next() {
		c, err := scanCase(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// GetAppMeta reads the single application state row.
func (r Repo) GetAppMeta(ctx context.Context) (domain.AppMeta, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT next_case_number,current_role,active_case_id FROM app_meta WHERE id=1`)
	return scanAppMeta(row.Scan)
}

func (r Repo) GetAppMetaTx(ctx context.Context, tx *sql.Tx) (domain.AppMeta, error) {
	row := tx.QueryRowContext(ctx, `SELECT next_case_number,current_role,active_case_id FROM app_meta WHERE id=1`)
	return scanAppMeta(row.Scan)
}

func scanAppMeta(scan func(dest ...any) error) (domain.AppMeta, error) {
	var m domain.AppMeta
	var active sql.NullString
	err := scan(&m.NextCaseNumber, &m.CurrentRole, &active)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if active.Valid {
		m.ActiveCaseID = &active.String
	}
	return m, nil
}

func (r Repo) UpdateAppMeta(ctx context.Context, tx *sql.Tx, m domain.AppMeta) error {
	_, err := tx.ExecContext(ctx, `UPDATE app_meta SET next_case_number=?,current_role=?,active_case_id=? WHERE id=1`,
		m.NextCaseNumber, m.CurrentRole, nullableStringPtr(m.ActiveCaseID))
	return err
}

func (r Repo) SetCurrentRole(ctx context.Context, role string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE app_meta SET current_role=? WHERE id=1`, role)
	return err
}

func (r Repo) SetActiveCase(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE app_meta SET active_case_id=? WHERE id=1`, nullable(id))
	return err
}

type EventFilters struct {
	CaseID string
	Type   string
	Actor  string
	Cursor int64
	Limit  int
}

// LatestEvents returns the audit trail newest first. Cursor, when set,
// restricts results to ids below it.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if f.CaseID != "" {
		clauses = append(clauses, "case_id=?")
		args = append(args, f.CaseID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.Actor != "" {
		clauses = append(clauses, "actor=?")
		args = append(args, f.Actor)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := `SELECT id,ts,type,case_id,actor,target,action,note,docs_json FROM events ` + where + ` ORDER BY id DESC LIMIT ?`
	args = append(args, f.Limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns events with ids greater than the cursor in
// ascending order, for tailing the audit trail.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, caseID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if caseID != "" {
		clauses = append(clauses, "case_id=?")
		args = append(args, caseID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := `SELECT id,ts,type,case_id,actor,target,action,note,docs_json FROM events ` + where + ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func scanEvent(scan func(dest ...any) error) (domain.Event, error) {
	var e domain.Event
	var caseID, target, action, note, docs sql.NullString
	if err := scan(&e.ID, &e.TS, &e.Type, &caseID, &e.Actor, &target, &action, &note, &docs); err != nil {
		return e, err
	}
	e.CaseID = caseID.String
	if target.Valid {
		e.Target = &target.String
	}
	if action.Valid {
		e.Action = &action.String
	}
	if note.Valid {
		e.Note = &note.String
	}
	if docs.Valid {
		e.DocsJSON = &docs.String
	}
	return e, nil
}

// LatestEventID returns the most recent event id for a case, zero when
// the trail is empty.
func (r Repo) LatestEventID(ctx context.Context, caseID string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if caseID != "" {
		query += ` WHERE case_id=?`
		args = append(args, caseID)
	}
	var id int64
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
