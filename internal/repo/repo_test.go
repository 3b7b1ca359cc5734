package repo

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"caseline/internal/domain"
)

func newMock(t *testing.T) (Repo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return Repo{DB: db}, mock
}

func caseRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "title", "summary", "priority", "status", "due_date",
		"current_holder", "previous_holder", "pending_action", "pending_from",
		"created_at", "updated_at",
	})
}

func TestGetCaseScansNullableColumns(t *testing.T) {
	r, mock := newMock(t)
	mock.ExpectQuery("FROM cases WHERE id=").WithArgs("CASE-2024-0001").
		WillReturnRows(caseRows().AddRow(
			"CASE-2024-0001", "Budget review", "", "high", "active", nil,
			"dto", nil, "triage", "dto",
			"2024-03-01T12:00:00Z", "2024-03-01T12:00:00Z"))

	c, err := r.GetCase(context.Background(), "CASE-2024-0001")
	if err != nil {
		t.Fatalf("GetCase: %v", err)
	}
	if c.DueDate != nil || c.PreviousHolder != nil {
		t.Fatalf("expected null due date and previous holder, got %v %v", c.DueDate, c.PreviousHolder)
	}
	if c.PendingAction == nil || *c.PendingAction != "triage" {
		t.Fatalf("unexpected pending action: %v", c.PendingAction)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetCaseMissingIsNotFound(t *testing.T) {
	r, mock := newMock(t)
	mock.ExpectQuery("FROM cases WHERE id=").WithArgs("CASE-2024-0099").
		WillReturnRows(caseRows())

	if _, err := r.GetCase(context.Background(), "CASE-2024-0099"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListCasesAppliesCursor(t *testing.T) {
	r, mock := newMock(t)
	mock.ExpectQuery(`FROM cases WHERE status=\? AND \(created_at < \? OR \(created_at = \? AND id < \?\)\) ORDER BY created_at DESC, id DESC LIMIT \?`).
		WithArgs("active", "2024-03-02T00:00:00Z", "2024-03-02T00:00:00Z", "CASE-2024-0005", 10).
		WillReturnRows(caseRows().AddRow(
			"CASE-2024-0004", "Older case", "", "medium", "active", nil,
			"ea", "dto", nil, nil,
			"2024-03-01T12:00:00Z", "2024-03-01T12:00:00Z"))

	res, err := r.ListCases(context.Background(), CaseFilters{
		Status:          "active",
		Limit:           10,
		CursorCreatedAt: "2024-03-02T00:00:00Z",
		CursorID:        "CASE-2024-0005",
	})
	if err != nil {
		t.Fatalf("ListCases: %v", err)
	}
	if len(res) != 1 || res[0].ID != "CASE-2024-0004" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertCaseStoresEmptyOptionalsAsNull(t *testing.T) {
	r, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO cases").
		WithArgs("CASE-2024-0001", "Budget review", nil, "high", "active", nil,
			"dto", nil, "triage", "dto", "2024-03-01T12:00:00Z", "2024-03-01T12:00:00Z").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, err := r.DB.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	pending := "triage"
	from := "dto"
	err = r.InsertCase(context.Background(), tx, domain.Case{
		ID:            "CASE-2024-0001",
		Title:         "Budget review",
		Priority:      "high",
		Status:        "active",
		CurrentHolder: "dto",
		PendingAction: &pending,
		PendingFrom:   &from,
		CreatedAt:     "2024-03-01T12:00:00Z",
		UpdatedAt:     "2024-03-01T12:00:00Z",
	})
	if err != nil {
		t.Fatalf("InsertCase: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateSubmissionReviewClearsFeedback(t *testing.T) {
	r, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE submissions SET status=").
		WithArgs("sent_back", "Numbers do not add up", "2024-03-02T09:00:00Z", "sub_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE submissions SET status=").
		WithArgs("in_progress", nil, nil, "sub_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := r.DB.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	feedback := "Numbers do not add up"
	at := "2024-03-02T09:00:00Z"
	if err := r.UpdateSubmissionReview(context.Background(), tx, "sub_1", "sent_back", &feedback, &at); err != nil {
		t.Fatalf("UpdateSubmissionReview: %v", err)
	}
	if err := r.UpdateSubmissionReview(context.Background(), tx, "sub_1", "in_progress", nil, nil); err != nil {
		t.Fatalf("UpdateSubmissionReview reset: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRemovePendingDocMissingIsNotFound(t *testing.T) {
	r, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM task_pending_docs").
		WithArgs("task_1", "doc_1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, err := r.DB.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := r.RemovePendingDoc(context.Background(), tx, "task_1", "doc_1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLatestEventIDEmptyTrail(t *testing.T) {
	r, mock := newMock(t)
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(id\),0\) FROM events WHERE case_id=`).
		WithArgs("CASE-2024-0001").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(0))

	id, err := r.LatestEventID(context.Background(), "CASE-2024-0001")
	if err != nil {
		t.Fatalf("LatestEventID: %v", err)
	}
	if id != 0 {
		t.Fatalf("expected zero id, got %d", id)
	}
}
