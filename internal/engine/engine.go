package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"caseline/internal/config"
	"caseline/internal/domain"
	"caseline/internal/engine/auth"
	"caseline/internal/events"
	"caseline/internal/notify"
	"caseline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Notify notify.Writer
	Config *config.Config
	Auth   auth.Service
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Notify: notify.Writer{DB: db},
		Config: cfg,
		Auth:   auth.Service{Config: cfg},
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

// RegisterCaseOptions are parameters for registering a new case.
type RegisterCaseOptions struct {
	Title    string
	Summary  string
	Priority string
	DueDate  string
	Notes    string
	Actor    string
	// Documents are attached as originals owned by the registrar.
	Documents []DocumentUpload
}

// DocumentUpload carries an inbound file.
type DocumentUpload struct {
	Name    string
	DocType string
	Content []byte
}

// RegisterCase creates a case in the registrar's custody and allocates
// the next sequential case id.
func (e Engine) RegisterCase(ctx context.Context, opts RegisterCaseOptions) (domain.Case, error) {
	if e.Config == nil {
		return domain.Case{}, errors.New("config not loaded")
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Case{}, errors.New("title required")
	}
	if err := e.Auth.EnsureRole(opts.Actor); err != nil {
		return domain.Case{}, err
	}
	if opts.Actor != "dto" {
		return domain.Case{}, auth.ForbiddenError{Role: opts.Actor, Op: "register cases"}
	}
	if opts.Priority == "" {
		opts.Priority = "medium"
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()

	meta, err := e.Repo.GetAppMetaTx(ctx, tx)
	if err != nil {
		return domain.Case{}, fmt.Errorf("read app meta: %w", err)
	}
	now := e.nowRFC3339()
	id := fmt.Sprintf("CASE-%d-%04d", e.now().UTC().Year(), meta.NextCaseNumber)

	pendingAction := "triage"
	c := domain.Case{
		ID:            id,
		Title:         opts.Title,
		Summary:       opts.Summary,
		Priority:      opts.Priority,
		Status:        domain.CaseActive,
		CurrentHolder: "dto",
		PendingAction: &pendingAction,
		PendingFrom:   &opts.Actor,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if opts.DueDate != "" {
		c.DueDate = &opts.DueDate
	}
	if err := e.Repo.InsertCase(ctx, tx, c); err != nil {
		return domain.Case{}, fmt.Errorf("insert case: %w", err)
	}

	for _, up := range opts.Documents {
		d := domain.Document{
			ID:         uuid.NewString(),
			CaseID:     id,
			Name:       up.Name,
			DocType:    docType(up.DocType, up.Name),
			Size:       int64(len(up.Content)),
			UploadedBy: opts.Actor,
			Status:     domain.DocOriginal,
			UploadedAt: now,
			Content:    up.Content,
		}
		if err := e.Repo.InsertDocument(ctx, tx, d); err != nil {
			return domain.Case{}, fmt.Errorf("insert document: %w", err)
		}
	}

	note := opts.Notes
	if note == "" {
		note = fmt.Sprintf("Case registered: %s", opts.Title)
	}
	if err := e.Events.Append(ctx, tx, "created", id, opts.Actor, events.Entry{Note: note}); err != nil {
		return domain.Case{}, err
	}

	meta.NextCaseNumber++
	meta.ActiveCaseID = &id
	if err := e.Repo.UpdateAppMeta(ctx, tx, meta); err != nil {
		return domain.Case{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, err
	}
	return c, nil
}

// ForwardOptions are parameters for moving a case along a transition.
type ForwardOptions struct {
	CaseID     string
	Transition string
	Recipient  string
	Action     string
	Notes      string
	Comment    string
	Priority   string
	DocIDs     []string
	Actor      string
}

// ForwardCase routes a case along one edge of the transition table.
// Rejection edges require a reason, and work-submission edges from an
// action officer require at least one selected document and leave case
// custody untouched.
func (e Engine) ForwardCase(ctx context.Context, opts ForwardOptions) (domain.Case, error) {
	if e.Config == nil {
		return domain.Case{}, errors.New("config not loaded")
	}
	tr, ok := e.Config.Transition(opts.Transition)
	if !ok {
		return domain.Case{}, fmt.Errorf("unknown transition %s", opts.Transition)
	}
	recipient, err := tr.ResolveRecipient(opts.Recipient)
	if err != nil {
		return domain.Case{}, err
	}
	if tr.KeepHolder && !e.Config.IsActionOfficer(tr.From) {
		return domain.Case{}, errors.New("work is assigned to action officers by delegating tasks")
	}
	action, err := tr.ResolveAction(opts.Action)
	if err != nil {
		return domain.Case{}, err
	}
	isReject := action == "rejected"
	if isReject && strings.TrimSpace(opts.Notes) == "" {
		return domain.Case{}, errors.New("rejection requires a reason")
	}
	isWorkSubmission := tr.KeepHolder && e.Config.IsActionOfficer(tr.From)
	if isWorkSubmission && len(opts.DocIDs) == 0 {
		return domain.Case{}, errors.New("select at least one document to submit")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, opts.CaseID)
	if err != nil {
		return domain.Case{}, err
	}
	if c.Status != domain.CaseActive {
		return domain.Case{}, fmt.Errorf("case is %s", c.Status)
	}
	actorRole := opts.Actor
	if isWorkSubmission {
		if err := e.Auth.EnsureRole(actorRole); err != nil {
			return domain.Case{}, err
		}
		if !e.Config.IsActionOfficer(actorRole) {
			return domain.Case{}, auth.ForbiddenError{Role: actorRole, Op: "submit work"}
		}
	} else {
		if err := e.Auth.EnsureHolder(actorRole, c.CurrentHolder, "forward this case"); err != nil {
			return domain.Case{}, err
		}
		if c.CurrentHolder != tr.From {
			return domain.Case{}, fmt.Errorf("transition %s starts from %s, case is held by %s", opts.Transition, tr.From, c.CurrentHolder)
		}
	}

	now := e.nowRFC3339()
	if opts.Priority != "" {
		c.Priority = opts.Priority
	}

	for _, docID := range opts.DocIDs {
		d, err := e.Repo.GetDocumentTx(ctx, tx, docID)
		if err != nil {
			return domain.Case{}, fmt.Errorf("document %s: %w", docID, err)
		}
		if d.CaseID != c.ID {
			return domain.Case{}, fmt.Errorf("document %s belongs to another case", docID)
		}
		if isWorkSubmission {
			if d.Status != domain.DocDraft || d.UploadedBy != actorRole {
				return domain.Case{}, fmt.Errorf("document %s is not a draft of %s", docID, actorRole)
			}
			if err := e.Repo.UpdateDocumentStatus(ctx, tx, docID, domain.DocSubmitted); err != nil {
				return domain.Case{}, err
			}
		}
	}

	if isReject {
		c.Status = domain.CaseRejected
		c.UpdatedAt = now
		if err := e.Repo.UpdateCase(ctx, tx, c); err != nil {
			return domain.Case{}, err
		}
		if err := e.Events.Append(ctx, tx, "rejected", c.ID, actorRole, events.Entry{Note: opts.Notes}); err != nil {
			return domain.Case{}, err
		}
		cm := domain.Comment{
			ID:        uuid.NewString(),
			CaseID:    c.ID,
			Author:    actorRole,
			Recipient: "dto",
			Text:      fmt.Sprintf("Rejection reason: %s", opts.Notes),
			TS:        now,
		}
		if err := e.Repo.InsertComment(ctx, tx, cm); err != nil {
			return domain.Case{}, err
		}
		if err := e.Notify.Append(ctx, tx, "dto", notify.Entry{
			CaseID:   c.ID,
			Type:     notify.TypeCaseRejected,
			Title:    fmt.Sprintf("Case rejected: %s", c.Title),
			Subtitle: fmt.Sprintf("by %s", e.Config.RoleName(actorRole)),
		}); err != nil {
			return domain.Case{}, err
		}
		if err := tx.Commit(); err != nil {
			return domain.Case{}, err
		}
		return c, nil
	}

	evtType := "forwarded"
	if isWorkSubmission {
		evtType = "submitted"
	} else {
		prev := c.CurrentHolder
		c.PreviousHolder = &prev
		c.CurrentHolder = recipient
	}
	c.PendingAction = &action
	c.PendingFrom = &actorRole
	c.UpdatedAt = now
	if err := e.Repo.UpdateCase(ctx, tx, c); err != nil {
		return domain.Case{}, err
	}
	if err := e.Events.Append(ctx, tx, evtType, c.ID, actorRole, events.Entry{
		Target: recipient,
		Action: action,
		Docs:   opts.DocIDs,
	}); err != nil {
		return domain.Case{}, err
	}
	if opts.Comment != "" {
		cm := domain.Comment{
			ID:        uuid.NewString(),
			CaseID:    c.ID,
			Author:    actorRole,
			Recipient: recipient,
			Text:      opts.Comment,
			TS:        now,
		}
		if err := e.Repo.InsertComment(ctx, tx, cm); err != nil {
			return domain.Case{}, err
		}
	}
	if isWorkSubmission {
		err = e.Notify.Append(ctx, tx, recipient, notify.Entry{
			CaseID:   c.ID,
			Type:     notify.TypeWorkSubmitted,
			Title:    fmt.Sprintf("Work submitted: %s", c.Title),
			Subtitle: fmt.Sprintf("by %s", e.Config.RoleName(actorRole)),
		})
	} else {
		err = e.Notify.Append(ctx, tx, recipient, notify.Entry{
			CaseID:   c.ID,
			Type:     notify.TypeCaseForwarded,
			Title:    fmt.Sprintf("Case received: %s", c.Title),
			Subtitle: fmt.Sprintf("from %s", e.Config.RoleName(actorRole)),
		})
	}
	if err != nil {
		return domain.Case{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, err
	}
	return c, nil
}

// CloseCase archives a completed case and notifies every action officer
// holding tasks on it.
func (e Engine) CloseCase(ctx context.Context, caseID, actor string) (domain.Case, error) {
	if err := e.Auth.EnsureChiefSecretary(actor, "close cases"); err != nil {
		return domain.Case{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return domain.Case{}, err
	}
	if c.Status != domain.CaseActive {
		return domain.Case{}, fmt.Errorf("case is %s", c.Status)
	}
	c.Status = domain.CaseClosed
	c.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateCase(ctx, tx, c); err != nil {
		return domain.Case{}, err
	}
	if err := e.Events.Append(ctx, tx, "closed", c.ID, actor, events.Entry{}); err != nil {
		return domain.Case{}, err
	}
	assignees, err := e.Repo.AssigneesWithTasks(ctx, tx, c.ID)
	if err != nil {
		return domain.Case{}, err
	}
	for _, a := range assignees {
		if err := e.Notify.Append(ctx, tx, a, notify.Entry{
			CaseID:   c.ID,
			Type:     notify.TypeCaseClosed,
			Title:    fmt.Sprintf("Case closed: %s", c.Title),
			Subtitle: fmt.Sprintf("by %s", e.Config.RoleName(actor)),
		}); err != nil {
			return domain.Case{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, err
	}
	return c, nil
}

// ChangePriority updates case priority and records the shift.
func (e Engine) ChangePriority(ctx context.Context, caseID, priority, actor string) (domain.Case, error) {
	switch priority {
	case "high", "medium", "low":
	default:
		return domain.Case{}, fmt.Errorf("invalid priority %s", priority)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return domain.Case{}, err
	}
	if err := e.Auth.EnsureHolder(actor, c.CurrentHolder, "change priority"); err != nil {
		return domain.Case{}, err
	}
	if c.Priority == priority {
		return c, nil
	}
	old := c.Priority
	c.Priority = priority
	c.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateCase(ctx, tx, c); err != nil {
		return domain.Case{}, err
	}
	if err := e.Events.Append(ctx, tx, "priority_changed", c.ID, actor, events.Entry{
		Note: fmt.Sprintf("Changed priority from %s to %s", old, priority),
	}); err != nil {
		return domain.Case{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, err
	}
	return c, nil
}

// ChangeDueDate updates the case due date and records the shift.
func (e Engine) ChangeDueDate(ctx context.Context, caseID, dueDate, actor string) (domain.Case, error) {
	if _, err := time.Parse("2006-01-02", dueDate); err != nil {
		return domain.Case{}, fmt.Errorf("due date: %w", err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return domain.Case{}, err
	}
	if err := e.Auth.EnsureHolder(actor, c.CurrentHolder, "change due date"); err != nil {
		return domain.Case{}, err
	}
	old := "not set"
	if c.DueDate != nil {
		old = *c.DueDate
	}
	if old == dueDate {
		return c, nil
	}
	c.DueDate = &dueDate
	c.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateCase(ctx, tx, c); err != nil {
		return domain.Case{}, err
	}
	if err := e.Events.Append(ctx, tx, "due_date_changed", c.ID, actor, events.Entry{
		Note: fmt.Sprintf("Changed due date from %s to %s", old, dueDate),
	}); err != nil {
		return domain.Case{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, err
	}
	return c, nil
}

// DeleteCase removes a case and all dependent records. The active case
// pointer is cleared when it referenced the deleted case.
func (e Engine) DeleteCase(ctx context.Context, caseID, actor string) error {
	if err := e.Auth.EnsureRole(actor); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteCase(ctx, tx, caseID); err != nil {
		return err
	}
	meta, err := e.Repo.GetAppMetaTx(ctx, tx)
	if err != nil {
		return err
	}
	if meta.ActiveCaseID != nil && *meta.ActiveCaseID == caseID {
		meta.ActiveCaseID = nil
		if err := e.Repo.UpdateAppMeta(ctx, tx, meta); err != nil {
			return err
		}
	}
	if err := e.Events.Append(ctx, tx, "deleted", "", actor, events.Entry{Note: caseID}); err != nil {
		return err
	}
	return tx.Commit()
}

// SwitchCase makes another case the active one.
func (e Engine) SwitchCase(ctx context.Context, caseID string) (domain.Case, error) {
	c, err := e.Repo.GetCase(ctx, caseID)
	if err != nil {
		return domain.Case{}, err
	}
	if err := e.Repo.SetActiveCase(ctx, caseID); err != nil {
		return domain.Case{}, err
	}
	return c, nil
}

// SwitchRole changes the role the workstation acts as.
func (e Engine) SwitchRole(ctx context.Context, role string) error {
	if err := e.Auth.EnsureRole(role); err != nil {
		return err
	}
	return e.Repo.SetCurrentRole(ctx, role)
}

// AddDocumentOptions are parameters for uploading a case document.
type AddDocumentOptions struct {
	CaseID  string
	Name    string
	DocType string
	Content []byte
	Actor   string
}

// AddDocument stores an uploaded file on the case. The registrar's
// uploads are originals visible to everyone, other roles get private
// drafts until submission.
func (e Engine) AddDocument(ctx context.Context, opts AddDocumentOptions) (domain.Document, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Document{}, errors.New("document name required")
	}
	if err := e.Auth.EnsureRole(opts.Actor); err != nil {
		return domain.Document{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Document{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, opts.CaseID)
	if err != nil {
		return domain.Document{}, err
	}
	status := domain.DocDraft
	if opts.Actor == "dto" {
		status = domain.DocOriginal
	}
	d := domain.Document{
		ID:         uuid.NewString(),
		CaseID:     c.ID,
		Name:       opts.Name,
		DocType:    docType(opts.DocType, opts.Name),
		Size:       int64(len(opts.Content)),
		UploadedBy: opts.Actor,
		Status:     status,
		UploadedAt: e.nowRFC3339(),
		Content:    opts.Content,
	}
	if err := e.Repo.InsertDocument(ctx, tx, d); err != nil {
		return domain.Document{}, err
	}
	if err := e.Events.Append(ctx, tx, "uploaded", c.ID, opts.Actor, events.Entry{
		Note: d.Name,
		Docs: []string{d.ID},
	}); err != nil {
		return domain.Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Document{}, err
	}
	d.Content = nil
	return d, nil
}

// VisibleDocuments lists the case documents a role may see: originals
// and submitted work for everyone, drafts only for their uploader.
func (e Engine) VisibleDocuments(ctx context.Context, caseID, role string) ([]domain.Document, error) {
	docs, err := e.Repo.ListDocuments(ctx, repo.DocumentFilters{CaseID: caseID})
	if err != nil {
		return nil, err
	}
	var out []domain.Document
	for _, d := range docs {
		if d.Status == domain.DocDraft && d.UploadedBy != role {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// CommentOptions are parameters for posting a case comment.
type CommentOptions struct {
	CaseID      string
	Recipient   string
	Text        string
	LinkedDocID string
	Actor       string
}

// SubmitComment records a message between two roles on the case thread.
func (e Engine) SubmitComment(ctx context.Context, opts CommentOptions) (domain.Comment, error) {
	if strings.TrimSpace(opts.Text) == "" {
		return domain.Comment{}, errors.New("comment text required")
	}
	if err := e.Auth.EnsureRole(opts.Actor); err != nil {
		return domain.Comment{}, err
	}
	if err := e.Auth.EnsureRole(opts.Recipient); err != nil {
		return domain.Comment{}, fmt.Errorf("recipient: %w", err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, opts.CaseID)
	if err != nil {
		return domain.Comment{}, err
	}
	cm := domain.Comment{
		ID:        uuid.NewString(),
		CaseID:    c.ID,
		Author:    opts.Actor,
		Recipient: opts.Recipient,
		Text:      opts.Text,
		TS:        e.nowRFC3339(),
	}
	if opts.LinkedDocID != "" {
		d, err := e.Repo.GetDocumentTx(ctx, tx, opts.LinkedDocID)
		if err != nil {
			return domain.Comment{}, fmt.Errorf("linked document: %w", err)
		}
		if d.CaseID != c.ID {
			return domain.Comment{}, errors.New("linked document belongs to another case")
		}
		cm.LinkedDocID = &opts.LinkedDocID
	}
	if err := e.Repo.InsertComment(ctx, tx, cm); err != nil {
		return domain.Comment{}, err
	}
	short := opts.Recipient
	if r, ok := e.Config.Roles[opts.Recipient]; ok && r.ShortName != "" {
		short = r.ShortName
	}
	if err := e.Events.Append(ctx, tx, "comment", c.ID, opts.Actor, events.Entry{
		Target: opts.Recipient,
		Note:   fmt.Sprintf("Sent message to %s", short),
	}); err != nil {
		return domain.Comment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, err
	}
	return cm, nil
}

func docType(explicit, name string) string {
	if explicit != "" {
		return explicit
	}
	if i := strings.LastIndex(name, "."); i >= 0 && i < len(name)-1 {
		return strings.ToLower(name[i+1:])
	}
	return "pdf"
}
