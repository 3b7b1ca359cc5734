package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"caseline/internal/domain"
	"caseline/internal/events"
	"caseline/internal/notify"
	"caseline/internal/repo"
)

// ensureTaskTransition guards task status changes. Cancelled and the
// terminal side of completed only open up again through reopen.
func ensureTaskTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case domain.TaskInProgress:
		if newStatus == domain.TaskSubmitted || newStatus == domain.TaskCancelled {
			return nil
		}
	case domain.TaskSubmitted:
		if newStatus == domain.TaskCompleted || newStatus == domain.TaskSentBack ||
			newStatus == domain.TaskInProgress || newStatus == domain.TaskCancelled {
			return nil
		}
	case domain.TaskSentBack:
		if newStatus == domain.TaskSubmitted || newStatus == domain.TaskInProgress ||
			newStatus == domain.TaskCancelled {
			return nil
		}
	case domain.TaskCompleted:
		if newStatus == domain.TaskInProgress {
			return nil
		}
	}
	return fmt.Errorf("invalid task status transition %s -> %s", oldStatus, newStatus)
}

// TaskDraft is one row of a delegation batch.
type TaskDraft struct {
	Title        string
	Instructions string
	Priority     string
	Deadline     string
	Assignee     string
}

// DelegateOptions are parameters for assigning work to action officers.
type DelegateOptions struct {
	CaseID string
	Tasks  []TaskDraft
	Actor  string
}

// DelegateTasks creates tasks for action officers. Custody of the case
// does not move: all further back and forth happens at the task level.
// Drafts without a title are dropped, an all-empty batch is an error.
func (e Engine) DelegateTasks(ctx context.Context, opts DelegateOptions) ([]domain.Task, error) {
	if err := e.Auth.EnsureChiefSecretary(opts.Actor, "delegate tasks"); err != nil {
		return nil, err
	}
	var valid []TaskDraft
	for _, d := range opts.Tasks {
		if strings.TrimSpace(d.Title) != "" {
			valid = append(valid, d)
		}
	}
	if len(valid) == 0 {
		return nil, errors.New("add at least one task with a description")
	}
	for i, d := range valid {
		if !e.Config.IsActionOfficer(d.Assignee) {
			return nil, fmt.Errorf("task %d: assignee %s is not an action officer", i+1, d.Assignee)
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, opts.CaseID)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CaseActive {
		return nil, fmt.Errorf("case is %s", c.Status)
	}
	if err := e.Auth.EnsureHolder(opts.Actor, c.CurrentHolder, "delegate tasks"); err != nil {
		return nil, err
	}

	now := e.nowRFC3339()
	var created []domain.Task
	for _, d := range valid {
		priority := d.Priority
		if priority == "" {
			priority = "medium"
		}
		t := domain.Task{
			ID:           "task_" + uuid.NewString(),
			CaseID:       c.ID,
			Title:        strings.TrimSpace(d.Title),
			Instructions: strings.TrimSpace(d.Instructions),
			Priority:     priority,
			Status:       domain.TaskInProgress,
			Assignee:     d.Assignee,
			CreatedBy:    opts.Actor,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if d.Deadline != "" {
			t.Deadline = &d.Deadline
		}
		if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
			return nil, fmt.Errorf("insert task: %w", err)
		}
		created = append(created, t)
	}

	action := "delegation"
	c.PendingAction = &action
	c.PendingFrom = &opts.Actor
	c.UpdatedAt = now
	if err := e.Repo.UpdateCase(ctx, tx, c); err != nil {
		return nil, err
	}

	var assignees []string
	seen := map[string]bool{}
	for _, t := range created {
		if !seen[t.Assignee] {
			seen[t.Assignee] = true
			assignees = append(assignees, t.Assignee)
		}
	}
	var instructions []string
	for _, d := range valid {
		if s := strings.TrimSpace(d.Instructions); s != "" {
			instructions = append(instructions, s)
		}
	}
	if err := e.Events.Append(ctx, tx, "delegated", c.ID, opts.Actor, events.Entry{
		Target: strings.Join(assignees, ","),
		Note:   strings.Join(instructions, " · "),
	}); err != nil {
		return nil, err
	}
	for _, t := range created {
		if err := e.Notify.Append(ctx, tx, t.Assignee, notify.Entry{
			CaseID:   c.ID,
			Type:     notify.TypeTaskAssigned,
			Title:    fmt.Sprintf("Task assigned: %s", t.Title),
			Subtitle: fmt.Sprintf("Workflow: %s · by %s", c.Title, e.Config.RoleName(opts.Actor)),
			TaskID:   t.ID,
		}); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

// SubmitTaskOptions are parameters for an action officer handing work
// in for review.
type SubmitTaskOptions struct {
	TaskID  string
	Comment string
	DocIDs  []string
	Actor   string
}

// SubmitTask records a review round on the task. Submitted documents
// leave the pending list and become visible to the reviewer.
func (e Engine) SubmitTask(ctx context.Context, opts SubmitTaskOptions) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, opts.TaskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := e.Auth.EnsureAssignee(opts.Actor, t.Assignee, "submit this task"); err != nil {
		return domain.Task{}, err
	}
	if err := ensureTaskTransition(t.Status, domain.TaskSubmitted); err != nil {
		return domain.Task{}, err
	}
	c, err := e.Repo.GetCaseTx(ctx, tx, t.CaseID)
	if err != nil {
		return domain.Task{}, err
	}

	now := e.nowRFC3339()
	count, err := e.Repo.CountSubmissionsTx(ctx, tx, t.ID)
	if err != nil {
		return domain.Task{}, err
	}
	sub := domain.Submission{
		ID:          "sub_" + uuid.NewString(),
		TaskID:      t.ID,
		Seq:         count + 1,
		SubmittedBy: opts.Actor,
		SubmittedAt: now,
		Comment:     opts.Comment,
		Documents:   opts.DocIDs,
		Status:      domain.SubmissionPending,
	}
	if err := e.Repo.InsertSubmission(ctx, tx, sub); err != nil {
		return domain.Task{}, err
	}
	for _, docID := range opts.DocIDs {
		d, err := e.Repo.GetDocumentTx(ctx, tx, docID)
		if err != nil {
			return domain.Task{}, fmt.Errorf("document %s: %w", docID, err)
		}
		if d.CaseID != t.CaseID {
			return domain.Task{}, fmt.Errorf("document %s belongs to another case", docID)
		}
		if d.Status == domain.DocDraft {
			if err := e.Repo.UpdateDocumentStatus(ctx, tx, docID, domain.DocSubmitted); err != nil {
				return domain.Task{}, err
			}
		}
	}
	if err := e.Repo.RemovePendingDocs(ctx, tx, t.ID, opts.DocIDs); err != nil {
		return domain.Task{}, err
	}

	t.Status = domain.TaskSubmitted
	t.UpdatedAt = now
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "submitted", t.CaseID, opts.Actor, events.Entry{
		Target: "cs",
		Note:   fmt.Sprintf("Submitted task %q for review", t.Title),
		Docs:   opts.DocIDs,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := e.Notify.Append(ctx, tx, "cs", notify.Entry{
		CaseID:   t.CaseID,
		Type:     notify.TypeTaskSubmitted,
		Title:    fmt.Sprintf("Task submitted: %s", t.Title),
		Subtitle: fmt.Sprintf("Workflow: %s · by %s", c.Title, e.Config.RoleName(opts.Actor)),
		TaskID:   t.ID,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, t.ID)
}

// ApproveTask completes a submitted task. An empty review comment is
// stored as a single-space marker so the review still shows a feedback
// entry.
func (e Engine) ApproveTask(ctx context.Context, taskID, comment, actor string) (domain.Task, error) {
	if err := e.Auth.EnsureChiefSecretary(actor, "approve tasks"); err != nil {
		return domain.Task{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := ensureTaskTransition(t.Status, domain.TaskCompleted); err != nil {
		return domain.Task{}, err
	}
	c, err := e.Repo.GetCaseTx(ctx, tx, t.CaseID)
	if err != nil {
		return domain.Task{}, err
	}

	now := e.nowRFC3339()
	if err := e.reviewLatestSubmission(ctx, tx, t.ID, domain.SubmissionApproved, orSpace(comment), now); err != nil {
		return domain.Task{}, err
	}
	t.Status = domain.TaskCompleted
	t.UpdatedAt = now
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	note := fmt.Sprintf("Approved task %q", t.Title)
	if comment != "" {
		note += ": " + comment
	}
	if err := e.Events.Append(ctx, tx, "task_approved", t.CaseID, actor, events.Entry{Note: note}); err != nil {
		return domain.Task{}, err
	}
	if err := e.Notify.Append(ctx, tx, t.Assignee, notify.Entry{
		CaseID:   t.CaseID,
		Type:     notify.TypeTaskApproved,
		Title:    fmt.Sprintf("Task approved: %s", t.Title),
		Subtitle: fmt.Sprintf("Workflow: %s · by %s", c.Title, e.Config.RoleName(actor)),
		TaskID:   t.ID,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, t.ID)
}

// SendBackTask returns a submitted task for revision. A reason is
// required and lands as feedback on the latest submission.
func (e Engine) SendBackTask(ctx context.Context, taskID, reason, actor string) (domain.Task, error) {
	if strings.TrimSpace(reason) == "" {
		return domain.Task{}, errors.New("describe what needs to be revised")
	}
	if err := e.Auth.EnsureChiefSecretary(actor, "send back tasks"); err != nil {
		return domain.Task{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := ensureTaskTransition(t.Status, domain.TaskSentBack); err != nil {
		return domain.Task{}, err
	}
	c, err := e.Repo.GetCaseTx(ctx, tx, t.CaseID)
	if err != nil {
		return domain.Task{}, err
	}

	now := e.nowRFC3339()
	if err := e.reviewLatestSubmission(ctx, tx, t.ID, domain.SubmissionSentBack, reason, now); err != nil {
		return domain.Task{}, err
	}
	t.Status = domain.TaskSentBack
	t.UpdatedAt = now
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "returned", t.CaseID, actor, events.Entry{
		Target: t.Assignee,
		Note:   fmt.Sprintf("%q: %s", t.Title, reason),
	}); err != nil {
		return domain.Task{}, err
	}
	if err := e.Notify.Append(ctx, tx, t.Assignee, notify.Entry{
		CaseID:   t.CaseID,
		Type:     notify.TypeTaskSentBack,
		Title:    fmt.Sprintf("Revision requested: %s", t.Title),
		Subtitle: fmt.Sprintf("Workflow: %s · by %s", c.Title, e.Config.RoleName(actor)),
		TaskID:   t.ID,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, t.ID)
}

// CancelTask withdraws a task permanently. Cancelled is terminal.
func (e Engine) CancelTask(ctx context.Context, taskID, reason, actor string) (domain.Task, error) {
	if strings.TrimSpace(reason) == "" {
		return domain.Task{}, errors.New("provide a reason for cancellation")
	}
	if err := e.Auth.EnsureChiefSecretary(actor, "cancel tasks"); err != nil {
		return domain.Task{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := ensureTaskTransition(t.Status, domain.TaskCancelled); err != nil {
		return domain.Task{}, err
	}

	now := e.nowRFC3339()
	t.Status = domain.TaskCancelled
	t.CancelledAt = &now
	t.CancelledBy = &actor
	t.CancelReason = &reason
	t.UpdatedAt = now
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.InsertTaskHistory(ctx, tx, domain.TaskHistoryEntry{
		TaskID: t.ID,
		Type:   "cancelled",
		Actor:  actor,
		Detail: reason,
		TS:     now,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task_cancelled", t.CaseID, actor, events.Entry{
		Target: t.Assignee,
		Note:   fmt.Sprintf("%q — %s", t.Title, reason),
	}); err != nil {
		return domain.Task{}, err
	}
	subtitle := fmt.Sprintf("%q · by %s", truncate(reason, 60), e.Config.RoleName(actor))
	if err := e.Notify.Append(ctx, tx, t.Assignee, notify.Entry{
		CaseID:   t.CaseID,
		Type:     notify.TypeTaskCancelled,
		Title:    fmt.Sprintf("Task cancelled: %s", t.Title),
		Subtitle: subtitle,
		TaskID:   t.ID,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, t.ID)
}

// EditTaskOptions are parameters for editing or reassigning a task.
// Deadline distinguishes "leave alone" (nil) from "clear" (empty).
type EditTaskOptions struct {
	TaskID   string
	Title    string
	Priority string
	Deadline *string
	Assignee string
	Actor    string
}

// EditTask applies field edits and reassignment in one step. A call
// that changes nothing returns the task untouched. Reassigning a task
// whose work is under review resets it to in progress and supersedes
// the pending submission.
func (e Engine) EditTask(ctx context.Context, opts EditTaskOptions) (domain.Task, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Task{}, errors.New("task title cannot be empty")
	}
	if err := e.Auth.EnsureChiefSecretary(opts.Actor, "edit tasks"); err != nil {
		return domain.Task{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, opts.TaskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status == domain.TaskCancelled {
		return domain.Task{}, errors.New("cancelled tasks cannot be edited")
	}
	if t.Status == domain.TaskCompleted {
		return domain.Task{}, errors.New("completed tasks cannot be edited")
	}
	c, err := e.Repo.GetCaseTx(ctx, tx, t.CaseID)
	if err != nil {
		return domain.Task{}, err
	}

	var changes []domain.FieldChange
	if opts.Title != t.Title {
		changes = append(changes, domain.FieldChange{Field: "title", From: t.Title, To: opts.Title})
	}
	if opts.Priority != "" && opts.Priority != t.Priority {
		changes = append(changes, domain.FieldChange{Field: "priority", From: t.Priority, To: opts.Priority})
	}
	oldDeadline := ""
	if t.Deadline != nil {
		oldDeadline = *t.Deadline
	}
	if opts.Deadline != nil && *opts.Deadline != oldDeadline {
		changes = append(changes, domain.FieldChange{Field: "deadline", From: orNone(oldDeadline), To: orNone(*opts.Deadline)})
	}
	reassigned := opts.Assignee != "" && opts.Assignee != t.Assignee
	if reassigned {
		if !e.Config.IsActionOfficer(opts.Assignee) {
			return domain.Task{}, fmt.Errorf("assignee %s is not an action officer", opts.Assignee)
		}
	}
	if len(changes) == 0 && !reassigned {
		if err := tx.Commit(); err != nil {
			return domain.Task{}, err
		}
		return e.Repo.GetTask(ctx, t.ID)
	}

	now := e.nowRFC3339()
	oldAssignee := t.Assignee
	t.Title = opts.Title
	if opts.Priority != "" {
		t.Priority = opts.Priority
	}
	if opts.Deadline != nil {
		if *opts.Deadline == "" {
			t.Deadline = nil
		} else {
			t.Deadline = opts.Deadline
		}
	}

	if len(changes) > 0 {
		data, err := json.Marshal(changes)
		if err != nil {
			return domain.Task{}, err
		}
		changesJSON := string(data)
		if err := e.Repo.InsertTaskHistory(ctx, tx, domain.TaskHistoryEntry{
			TaskID:      t.ID,
			Type:        "edited",
			Actor:       opts.Actor,
			ChangesJSON: &changesJSON,
			TS:          now,
		}); err != nil {
			return domain.Task{}, err
		}
	}
	if len(changes) > 0 && !reassigned {
		if err := e.Notify.Append(ctx, tx, t.Assignee, notify.Entry{
			CaseID:   t.CaseID,
			Type:     notify.TypeTaskEdited,
			Title:    fmt.Sprintf("Task edited: %s", t.Title),
			Subtitle: fmt.Sprintf("%s updated · by %s", fieldSummary(changes), e.Config.RoleName(opts.Actor)),
			TaskID:   t.ID,
		}); err != nil {
			return domain.Task{}, err
		}
	}

	if reassigned {
		t.Assignee = opts.Assignee
		if t.Status == domain.TaskSubmitted || t.Status == domain.TaskSentBack {
			wasSubmitted := t.Status == domain.TaskSubmitted
			t.Status = domain.TaskInProgress
			if wasSubmitted {
				if err := e.supersedeLatestSubmission(ctx, tx, t.ID, opts.Assignee, now); err != nil {
					return domain.Task{}, err
				}
			}
		}
		if err := e.Repo.InsertTaskHistory(ctx, tx, domain.TaskHistoryEntry{
			TaskID:       t.ID,
			Type:         "reassigned",
			Actor:        opts.Actor,
			Detail:       fmt.Sprintf("from %s to %s", e.Config.RoleName(oldAssignee), e.Config.RoleName(opts.Assignee)),
			FromAssignee: &oldAssignee,
			ToAssignee:   &opts.Assignee,
			TS:           now,
		}); err != nil {
			return domain.Task{}, err
		}
		changeSummary := ""
		if len(changes) > 0 {
			changeSummary = fieldSummary(changes) + " also updated · "
		}
		if err := e.Notify.Append(ctx, tx, opts.Assignee, notify.Entry{
			CaseID:   t.CaseID,
			Type:     notify.TypeTaskAssigned,
			Title:    fmt.Sprintf("Task assigned: %s", t.Title),
			Subtitle: fmt.Sprintf("Workflow: %s · %sby %s", c.Title, changeSummary, e.Config.RoleName(opts.Actor)),
			TaskID:   t.ID,
		}); err != nil {
			return domain.Task{}, err
		}
		if err := e.Notify.Append(ctx, tx, oldAssignee, notify.Entry{
			CaseID:   t.CaseID,
			Type:     notify.TypeTaskReassigned,
			Title:    fmt.Sprintf("Task reassigned: %s", t.Title),
			Subtitle: fmt.Sprintf("Reassigned to %s · %sby %s", e.Config.RoleName(opts.Assignee), changeSummary, e.Config.RoleName(opts.Actor)),
			TaskID:   t.ID,
		}); err != nil {
			return domain.Task{}, err
		}
		if err := e.Events.Append(ctx, tx, "task_reassigned", t.CaseID, opts.Actor, events.Entry{
			Target: opts.Assignee,
			Note:   fmt.Sprintf("%q to %s", t.Title, e.Config.RoleName(opts.Assignee)),
		}); err != nil {
			return domain.Task{}, err
		}
	}

	t.UpdatedAt = now
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, t.ID)
}

// ReopenTask moves a completed task back to in progress.
func (e Engine) ReopenTask(ctx context.Context, taskID, actor string) (domain.Task, error) {
	if err := e.Auth.EnsureChiefSecretary(actor, "reopen tasks"); err != nil {
		return domain.Task{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status != domain.TaskCompleted {
		return domain.Task{}, fmt.Errorf("invalid task status transition %s -> %s", t.Status, domain.TaskInProgress)
	}
	c, err := e.Repo.GetCaseTx(ctx, tx, t.CaseID)
	if err != nil {
		return domain.Task{}, err
	}

	now := e.nowRFC3339()
	t.Status = domain.TaskInProgress
	t.UpdatedAt = now
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.InsertTaskHistory(ctx, tx, domain.TaskHistoryEntry{
		TaskID: t.ID,
		Type:   "reopened",
		Actor:  actor,
		TS:     now,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task_reopened", t.CaseID, actor, events.Entry{
		Note: fmt.Sprintf("%q", t.Title),
	}); err != nil {
		return domain.Task{}, err
	}
	if err := e.Notify.Append(ctx, tx, t.Assignee, notify.Entry{
		CaseID:   t.CaseID,
		Type:     notify.TypeTaskReopened,
		Title:    fmt.Sprintf("Task reopened: %s", t.Title),
		Subtitle: fmt.Sprintf("Workflow: %s · by %s", c.Title, e.Config.RoleName(actor)),
		TaskID:   t.ID,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, t.ID)
}

// AttachTaskDocument uploads a draft onto a task's pending list. A task
// whose work was already under review drops back to in progress since
// the pending material changes what the reviewer would see.
func (e Engine) AttachTaskDocument(ctx context.Context, taskID string, up DocumentUpload, actor string) (domain.Document, error) {
	if strings.TrimSpace(up.Name) == "" {
		return domain.Document{}, errors.New("document name required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Document{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Document{}, err
	}
	if err := e.Auth.EnsureAssignee(actor, t.Assignee, "attach documents to this task"); err != nil {
		return domain.Document{}, err
	}
	if t.Status == domain.TaskCancelled || t.Status == domain.TaskCompleted {
		return domain.Document{}, fmt.Errorf("task is %s", t.Status)
	}

	now := e.nowRFC3339()
	d := domain.Document{
		ID:         uuid.NewString(),
		CaseID:     t.CaseID,
		Name:       up.Name,
		DocType:    docType(up.DocType, up.Name),
		Size:       int64(len(up.Content)),
		UploadedBy: actor,
		Status:     domain.DocDraft,
		UploadedAt: now,
		Content:    up.Content,
	}
	if err := e.Repo.InsertDocument(ctx, tx, d); err != nil {
		return domain.Document{}, err
	}
	if err := e.Repo.AddPendingDoc(ctx, tx, t.ID, d.ID); err != nil {
		return domain.Document{}, err
	}
	if t.Status != domain.TaskInProgress {
		t.Status = domain.TaskInProgress
	}
	t.UpdatedAt = now
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Document{}, err
	}
	d.Content = nil
	return d, nil
}

// DetachTaskDocument removes a pending draft from a task and deletes it.
func (e Engine) DetachTaskDocument(ctx context.Context, taskID, docID, actor string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return err
	}
	if err := e.Auth.EnsureAssignee(actor, t.Assignee, "detach documents from this task"); err != nil {
		return err
	}
	if err := e.Repo.RemovePendingDoc(ctx, tx, t.ID, docID); err != nil {
		return err
	}
	if err := e.Repo.DeleteDocument(ctx, tx, docID); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) reviewLatestSubmission(ctx context.Context, tx *sql.Tx, taskID, status, feedback, now string) error {
	sub, err := e.Repo.LatestSubmissionTx(ctx, tx, taskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return err
	}
	return e.Repo.UpdateSubmissionReview(ctx, tx, sub.ID, status, &feedback, &now)
}

func (e Engine) supersedeLatestSubmission(ctx context.Context, tx *sql.Tx, taskID, newAssignee, now string) error {
	sub, err := e.Repo.LatestSubmissionTx(ctx, tx, taskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return err
	}
	feedback := "Task was reassigned to " + e.Config.RoleName(newAssignee)
	return e.Repo.UpdateSubmissionReview(ctx, tx, sub.ID, domain.SubmissionSuperseded, &feedback, &now)
}

func fieldSummary(changes []domain.FieldChange) string {
	var names []string
	for _, c := range changes {
		names = append(names, capitalize(c.Field))
	}
	return strings.Join(names, ", ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func orSpace(s string) string {
	if s == "" {
		return " "
	}
	return s
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
