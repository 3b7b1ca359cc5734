package repo

import (
	"context"
	"database/sql"
	"strings"

	"caseline/internal/domain"
)

const documentColumns = `id,case_id,name,doc_type,size,uploaded_by,status,uploaded_at`

func scanDocument(scan func(dest ...any) error) (domain.Document, error) {
	var d domain.Document
	err := scan(&d.ID, &d.CaseID, &d.Name, &d.DocType, &d.Size, &d.UploadedBy, &d.Status, &d.UploadedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) InsertDocument(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	var content any
	if len(d.Content) > 0 {
		content = d.Content
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO documents(id,case_id,name,doc_type,size,uploaded_by,status,uploaded_at,content) VALUES (?,?,?,?,?,?,?,?,?)`,
		d.ID, d.CaseID, d.Name, d.DocType, d.Size, d.UploadedBy, d.Status, d.UploadedAt, content)
	return err
}

func (r Repo) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=?`, id)
	return scanDocument(row.Scan)
}

func (r Repo) GetDocumentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Document, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=?`, id)
	return scanDocument(row.Scan)
}

// GetDocumentContent fetches the stored blob. Listings never carry it.
func (r Repo) GetDocumentContent(ctx context.Context, id string) ([]byte, error) {
	var content []byte
	err := r.DB.QueryRowContext(ctx, `SELECT content FROM documents WHERE id=?`, id).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return content, err
}

func (r Repo) UpdateDocumentStatus(ctx context.Context, tx *sql.Tx, id, status string) error {
	res, err := tx.ExecContext(ctx, `UPDATE documents SET status=? WHERE id=?`, status, id)
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

func (r Repo) DeleteDocument(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id=?`, id)
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

type DocumentFilters struct {
	CaseID     string
	Status     string
	UploadedBy string
}

func (r Repo) ListDocuments(ctx context.Context, f DocumentFilters) ([]domain.Document, error) {
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
	if f.UploadedBy != "" {
		clauses = append(clauses, "uploaded_by=?")
		args = append(args, f.UploadedBy)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents `+where+` ORDER BY uploaded_at ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		d, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) InsertComment(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO comments(id,case_id,author,recipient,text,linked_doc_id,ts) VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.CaseID, c.Author, c.Recipient, c.Text, nullableStringPtr(c.LinkedDocID), c.TS)
	return err
}

func (r Repo) ListComments(ctx context.Context, caseID string) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,case_id,author,recipient,text,linked_doc_id,ts FROM comments WHERE case_id=? ORDER BY ts ASC, id ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		var c domain.Comment
		var linked sql.NullString
		if err := rows.Scan(&c.ID, &c.CaseID, &c.Author, &c.Recipient, &c.Text, &linked, &c.TS); err != nil {
			return nil, err
		}
		if linked.Valid {
			c.LinkedDocID = &linked.String
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
