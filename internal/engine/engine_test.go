package engine_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/migrate"
	"caseline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) registerCase(t *testing.T, title string) domain.Case {
	t.Helper()
	c, err := env.Engine.RegisterCase(env.Ctx, engine.RegisterCaseOptions{
		Title: title,
		Actor: "dto",
	})
	if err != nil {
		t.Fatalf("register case: %v", err)
	}
	return c
}

func (env testEnv) delegateOne(t *testing.T, caseID, title, assignee string) domain.Task {
	t.Helper()
	// delegation requires the case to sit with cs
	tasks, err := env.Engine.DelegateTasks(env.Ctx, engine.DelegateOptions{
		CaseID: caseID,
		Tasks:  []engine.TaskDraft{{Title: title, Assignee: assignee}},
		Actor:  "cs",
	})
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}
	return tasks[0]
}

func (env testEnv) caseAtCS(t *testing.T, title string) domain.Case {
	t.Helper()
	c := env.registerCase(t, title)
	if _, err := env.Engine.ForwardCase(env.Ctx, engine.ForwardOptions{
		CaseID: c.ID, Transition: "dto-cs", Actor: "dto",
	}); err != nil {
		t.Fatalf("forward dto-cs: %v", err)
	}
	c, err := env.Engine.Repo.GetCase(env.Ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestRegisterCaseAllocatesSequentialIDs(t *testing.T) {
	env := newTestEnv(t)
	c1 := env.registerCase(t, "First")
	c2 := env.registerCase(t, "Second")
	if c1.ID != "CASE-2024-0001" || c2.ID != "CASE-2024-0002" {
		t.Fatalf("ids: %s, %s", c1.ID, c2.ID)
	}
	if c1.CurrentHolder != "dto" || c1.Status != domain.CaseActive {
		t.Fatalf("new case state: %+v", c1)
	}
	// the counter never rewinds, even after a delete
	if err := env.Engine.DeleteCase(env.Ctx, c2.ID, "dto"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	c3 := env.registerCase(t, "Third")
	if c3.ID != "CASE-2024-0003" {
		t.Fatalf("counter rewound: %s", c3.ID)
	}
	meta, err := env.Engine.Repo.GetAppMeta(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if meta.ActiveCaseID == nil || *meta.ActiveCaseID != c3.ID {
		t.Fatalf("active case: %+v", meta)
	}
}

func TestForwardUpdatesCustody(t *testing.T) {
	env := newTestEnv(t)
	c := env.registerCase(t, "Budget review")
	got, err := env.Engine.ForwardCase(env.Ctx, engine.ForwardOptions{
		CaseID: c.ID, Transition: "dto-ea", Actor: "dto",
	})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if got.CurrentHolder != "ea" || got.PreviousHolder == nil || *got.PreviousHolder != "dto" {
		t.Fatalf("custody: %+v", got)
	}
	if got.PendingAction == nil || *got.PendingAction != "triage" {
		t.Fatalf("pending action: %+v", got)
	}
	notifs, err := env.Engine.Notify.ListForRole(env.Ctx, "ea", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(notifs) != 1 || notifs[0].Type != "case_forwarded" {
		t.Fatalf("ea notifications: %+v", notifs)
	}
}

func TestForwardRequiresExplicitActionWhenNoImplicit(t *testing.T) {
	env := newTestEnv(t)
	c := env.registerCase(t, "Policy note")
	if _, err := env.Engine.ForwardCase(env.Ctx, engine.ForwardOptions{
		CaseID: c.ID, Transition: "dto-ea", Actor: "dto",
	}); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.ForwardCase(env.Ctx, engine.ForwardOptions{
		CaseID: c.ID, Transition: "ea-cs", Actor: "ea",
	})
	if err == nil {
		t.Fatal("expected action-required error")
	}
	if _, err := env.Engine.ForwardCase(env.Ctx, engine.ForwardOptions{
		CaseID: c.ID, Transition: "ea-cs", Action: "approve", Actor: "ea",
	}); err != nil {
		t.Fatalf("explicit action: %v", err)
	}
}

func TestForwardOnlyByCurrentHolder(t *testing.T) {
	env := newTestEnv(t)
	c := env.registerCase(t, "Misrouted")
	_, err := env.Engine.ForwardCase(env.Ctx, engine.ForwardOptions{
		CaseID: c.ID, Transition: "ea-cs", Action: "review", Actor: "ea",
	})
	if err == nil {
		t.Fatal("expected holder mismatch error")
	}
}

func TestRejectRequiresReasonAndIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	c := env.caseAtCS(t, "Flawed proposal")
	_, err := env.Engine.ForwardCase(env.Ctx, engine.ForwardOptions{
		CaseID: c.ID, Transition: "cs-reject", Actor: "cs",
	})
	if err == nil {
		t.Fatal("expected reason-required error")
	}
	got, err := env.Engine.ForwardCase(env.Ctx, engine.ForwardOptions{
		CaseID: c.ID, Transition: "cs-reject", Notes: "Missing annexes", Actor: "cs",
	})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got.Status != domain.CaseRejected {
		t.Fatalf("status: %s", got.Status)
	}
	// no further routing once the case left active
	_, err = env.Engine.ForwardCase(env.Ctx, engine.ForwardOptions{
		CaseID: c.ID, Transition: "cs-sendback", Recipient: "ea", Actor: "cs",
	})
	if err == nil {
		t.Fatal("expected terminal-state error")
	}
	comments, err := env.Engine.Repo.ListComments(env.Ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(comments) != 1 || !strings.HasPrefix(comments[0].Text, "Rejection reason:") {
		t.Fatalf("rejection comment: %+v", comments)
	}
	notifs, _ := env.Engine.Notify.ListForRole(env.Ctx, "dto", true)
	var found bool
	for _, n := range notifs {
		if n.Type == "case_rejected" {
			found = true
		}
	}
	if !found {
		t.Fatalf("dto notifications: %+v", notifs)
	}
}

func TestCloseNotifiesOfficersWithTasks(t *testing.T) {
	env := newTestEnv(t)
	c := env.caseAtCS(t, "Quarterly report")
	if _, err := env.Engine.DelegateTasks(env.Ctx, engine.DelegateOptions{
		CaseID: c.ID,
		Tasks: []engine.TaskDraft{
			{Title: "Draft summary", Assignee: "ao"},
			{Title: "Check figures", Assignee: "ao2"},
		},
		Actor: "cs",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CloseCase(env.Ctx, c.ID, "cs"); err != nil {
		t.Fatalf("close: %v", err)
	}
	for _, role := range []string{"ao", "ao2"} {
		notifs, _ := env.Engine.Notify.ListForRole(env.Ctx, role, true)
		var found bool
		for _, n := range notifs {
			if n.Type == "case_closed" {
				found = true
			}
		}
		if !found {
			t.Fatalf("%s missing case_closed: %+v", role, notifs)
		}
	}
	// ao3 had no tasks, no notification
	notifs, _ := env.Engine.Notify.ListForRole(env.Ctx, "ao3", true)
	for _, n := range notifs {
		if n.Type == "case_closed" {
			t.Fatalf("ao3 should not be notified: %+v", n)
		}
	}
}

func TestDelegateDropsEmptyDrafts(t *testing.T) {
	env := newTestEnv(t)
	c := env.caseAtCS(t, "Staffing plan")
	tasks, err := env.Engine.DelegateTasks(env.Ctx, engine.DelegateOptions{
		CaseID: c.ID,
		Tasks: []engine.TaskDraft{
			{Title: "  ", Assignee: "ao"},
			{Title: "Real work", Assignee: "ao2"},
		},
		Actor: "cs",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].Title != "Real work" {
		t.Fatalf("tasks: %+v", tasks)
	}
	_, err = env.Engine.DelegateTasks(env.Ctx, engine.DelegateOptions{
		CaseID: c.ID,
		Tasks:  []engine.TaskDraft{{Title: "", Assignee: "ao"}},
		Actor:  "cs",
	})
	if err == nil {
		t.Fatal("expected all-empty batch error")
	}
}

func TestDelegationKeepsCustody(t *testing.T) {
	env := newTestEnv(t)
	c := env.caseAtCS(t, "Custody check")
	env.delegateOne(t, c.ID, "Do the thing", "ao")
	got, err := env.Engine.Repo.GetCase(env.Ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CurrentHolder != "cs" {
		t.Fatalf("holder moved: %s", got.CurrentHolder)
	}
	if got.PendingAction == nil || *got.PendingAction != "delegation" {
		t.Fatalf("pending action: %+v", got)
	}
}

func TestDelegateOnlyByCurrentHolder(t *testing.T) {
	env := newTestEnv(t)
	c := env.registerCase(t, "Still in registry")
	_, err := env.Engine.DelegateTasks(env.Ctx, engine.DelegateOptions{
		CaseID: c.ID,
		Tasks:  []engine.TaskDraft{{Title: "Too early", Assignee: "ao"}},
		Actor:  "cs",
	})
	if err == nil {
		t.Fatal("expected holder mismatch error")
	}
	tasks, listErr := env.Engine.Repo.ListTasks(env.Ctx, repo.TaskFilters{CaseID: c.ID})
	if listErr != nil {
		t.Fatal(listErr)
	}
	if len(tasks) != 0 {
		t.Fatalf("tasks created on a case held by dto: %+v", tasks)
	}
}

func TestSubmitApproveFlow(t *testing.T) {
	env := newTestEnv(t)
	c := env.caseAtCS(t, "Review cycle")
	task := env.delegateOne(t, c.ID, "Prepare brief", "ao")

	task, err := env.Engine.SubmitTask(env.Ctx, engine.SubmitTaskOptions{
		TaskID: task.ID, Comment: "First pass", Actor: "ao",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if task.Status != domain.TaskSubmitted || len(task.Submissions) != 1 {
		t.Fatalf("after submit: %+v", task)
	}
	// only the assignee can submit
	if _, err := env.Engine.SubmitTask(env.Ctx, engine.SubmitTaskOptions{TaskID: task.ID, Actor: "ao2"}); err == nil {
		t.Fatal("expected assignee check error")
	}

	task, err = env.Engine.ApproveTask(env.Ctx, task.ID, "", "cs")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if task.Status != domain.TaskCompleted {
		t.Fatalf("status: %s", task.Status)
	}
	sub := task.Submissions[len(task.Submissions)-1]
	if sub.Status != domain.SubmissionApproved {
		t.Fatalf("submission: %+v", sub)
	}
	// blank review comment leaves the single-space marker
	if sub.Feedback == nil || *sub.Feedback != " " {
		t.Fatalf("feedback marker: %+v", sub.Feedback)
	}
}

func TestSendBackAndResubmit(t *testing.T) {
	env := newTestEnv(t)
	c := env.caseAtCS(t, "Revision loop")
	task := env.delegateOne(t, c.ID, "Data tables", "ao")

	if _, err := env.Engine.SubmitTask(env.Ctx, engine.SubmitTaskOptions{TaskID: task.ID, Actor: "ao"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SendBackTask(env.Ctx, task.ID, "", "cs"); err == nil {
		t.Fatal("expected reason-required error")
	}
	task, err := env.Engine.SendBackTask(env.Ctx, task.ID, "Use 2024 figures", "cs")
	if err != nil {
		t.Fatalf("send back: %v", err)
	}
	if task.Status != domain.TaskSentBack {
		t.Fatalf("status: %s", task.Status)
	}
	first := task.Submissions[0]
	if first.Status != domain.SubmissionSentBack || first.Feedback == nil || *first.Feedback != "Use 2024 figures" {
		t.Fatalf("first submission: %+v", first)
	}

	task, err = env.Engine.SubmitTask(env.Ctx, engine.SubmitTaskOptions{TaskID: task.ID, Comment: "Updated", Actor: "ao"})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if len(task.Submissions) != 2 {
		t.Fatalf("submissions: %d", len(task.Submissions))
	}
	if task.Submissions[1].Status != domain.SubmissionPending || task.Submissions[1].Seq != 2 {
		t.Fatalf("second submission: %+v", task.Submissions[1])
	}
}

func TestCancelIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	c := env.caseAtCS(t, "Abandoned work")
	task := env.delegateOne(t, c.ID, "Obsolete item", "ao")

	if _, err := env.Engine.CancelTask(env.Ctx, task.ID, "  ", "cs"); err == nil {
		t.Fatal("expected reason-required error")
	}
	task, err := env.Engine.CancelTask(env.Ctx, task.ID, "No longer needed", "cs")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if task.Status != domain.TaskCancelled || task.CancelReason == nil || *task.CancelReason != "No longer needed" {
		t.Fatalf("cancelled task: %+v", task)
	}
	if len(task.History) != 1 || task.History[0].Type != "cancelled" {
		t.Fatalf("history: %+v", task.History)
	}
	if _, err := env.Engine.SubmitTask(env.Ctx, engine.SubmitTaskOptions{TaskID: task.ID, Actor: "ao"}); err == nil {
		t.Fatal("expected terminal-state error on submit")
	}
	if _, err := env.Engine.EditTask(env.Ctx, engine.EditTaskOptions{TaskID: task.ID, Title: "Renamed", Actor: "cs"}); err == nil {
		t.Fatal("expected terminal-state error on edit")
	}
}

func TestEditWithoutChangesIsSilent(t *testing.T) {
	env := newTestEnv(t)
	c := env.caseAtCS(t, "Quiet edit")
	task := env.delegateOne(t, c.ID, "Stable task", "ao")

	got, err := env.Engine.EditTask(env.Ctx, engine.EditTaskOptions{
		TaskID: task.ID, Title: task.Title, Assignee: task.Assignee, Actor: "cs",
	})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if len(got.History) != 0 {
		t.Fatalf("history grew: %+v", got.History)
	}
	notifs, _ := env.Engine.Notify.ListForRole(env.Ctx, "ao", true)
	for _, n := range notifs {
		if n.Type == "task_edited" {
			t.Fatalf("unexpected edit notification: %+v", n)
		}
	}
}

func TestEditRecordsDiffAndNotifies(t *testing.T) {
	env := newTestEnv(t)
	c := env.caseAtCS(t, "Field edit")
	task := env.delegateOne(t, c.ID, "Old title", "ao")

	got, err := env.Engine.EditTask(env.Ctx, engine.EditTaskOptions{
		TaskID: task.ID, Title: "New title", Priority: "high", Actor: "cs",
	})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if got.Title != "New title" || got.Priority != "high" {
		t.Fatalf("fields: %+v", got)
	}
	if len(got.History) != 1 || got.History[0].Type != "edited" || got.History[0].ChangesJSON == nil {
		t.Fatalf("history: %+v", got.History)
	}
	if !strings.Contains(*got.History[0].ChangesJSON, `"title"`) {
		t.Fatalf("changes: %s", *got.History[0].ChangesJSON)
	}
	notifs, _ := env.Engine.Notify.ListForRole(env.Ctx, "ao", true)
	var found bool
	for _, n := range notifs {
		if n.Type == "task_edited" {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing edit notification: %+v", notifs)
	}
}

func TestReassignResetsStatusAndSupersedes(t *testing.T) {
	env := newTestEnv(t)
	c := env.caseAtCS(t, "Handover")
	task := env.delegateOne(t, c.ID, "Transferable", "ao")
	if _, err := env.Engine.SubmitTask(env.Ctx, engine.SubmitTaskOptions{TaskID: task.ID, Actor: "ao"}); err != nil {
		t.Fatal(err)
	}

	got, err := env.Engine.EditTask(env.Ctx, engine.EditTaskOptions{
		TaskID: task.ID, Title: task.Title, Assignee: "ao2", Actor: "cs",
	})
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if got.Assignee != "ao2" || got.Status != domain.TaskInProgress {
		t.Fatalf("after reassign: %+v", got)
	}
	sub := got.Submissions[len(got.Submissions)-1]
	if sub.Status != domain.SubmissionSuperseded {
		t.Fatalf("submission not superseded: %+v", sub)
	}
	if sub.Feedback == nil || !strings.Contains(*sub.Feedback, "reassigned") {
		t.Fatalf("feedback: %+v", sub.Feedback)
	}
	var reassignedEntry bool
	for _, h := range got.History {
		if h.Type == "reassigned" && h.FromAssignee != nil && *h.FromAssignee == "ao" {
			reassignedEntry = true
		}
	}
	if !reassignedEntry {
		t.Fatalf("history: %+v", got.History)
	}
	newNotifs, _ := env.Engine.Notify.ListForRole(env.Ctx, "ao2", true)
	oldNotifs, _ := env.Engine.Notify.ListForRole(env.Ctx, "ao", true)
	var newAssigned, oldReassigned bool
	for _, n := range newNotifs {
		if n.Type == "task_assigned" {
			newAssigned = true
		}
	}
	for _, n := range oldNotifs {
		if n.Type == "task_reassigned" {
			oldReassigned = true
		}
	}
	if !newAssigned || !oldReassigned {
		t.Fatalf("notifications: new=%v old=%v", newNotifs, oldNotifs)
	}
}

func TestReassignFromSentBackKeepsSubmissionFeedback(t *testing.T) {
	env := newTestEnv(t)
	c := env.caseAtCS(t, "Mid-revision handover")
	task := env.delegateOne(t, c.ID, "Revisable", "ao")
	if _, err := env.Engine.SubmitTask(env.Ctx, engine.SubmitTaskOptions{TaskID: task.ID, Actor: "ao"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SendBackTask(env.Ctx, task.ID, "Wrong template", "cs"); err != nil {
		t.Fatal(err)
	}

	got, err := env.Engine.EditTask(env.Ctx, engine.EditTaskOptions{
		TaskID: task.ID, Title: task.Title, Assignee: "ao3", Actor: "cs",
	})
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if got.Status != domain.TaskInProgress || got.Assignee != "ao3" {
		t.Fatalf("after reassign: %+v", got)
	}
	// sent_back review feedback is history, not superseded
	sub := got.Submissions[len(got.Submissions)-1]
	if sub.Status != domain.SubmissionSentBack || *sub.Feedback != "Wrong template" {
		t.Fatalf("submission: %+v", sub)
	}
}

func TestReassignCompletedRejected(t *testing.T) {
	env := newTestEnv(t)
	c := env.caseAtCS(t, "Done deal")
	task := env.delegateOne(t, c.ID, "Finished", "ao")
	if _, err := env.Engine.SubmitTask(env.Ctx, engine.SubmitTaskOptions{TaskID: task.ID, Actor: "ao"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ApproveTask(env.Ctx, task.ID, "fine", "cs"); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.EditTask(env.Ctx, engine.EditTaskOptions{
		TaskID: task.ID, Title: task.Title, Assignee: "ao2", Actor: "cs",
	})
	if err == nil {
		t.Fatal("expected completed-task reassign error")
	}
}

func TestEditCompletedRejected(t *testing.T) {
	env := newTestEnv(t)
	c := env.caseAtCS(t, "Closed chapter")
	task := env.delegateOne(t, c.ID, "Signed off", "ao")
	if _, err := env.Engine.SubmitTask(env.Ctx, engine.SubmitTaskOptions{TaskID: task.ID, Actor: "ao"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ApproveTask(env.Ctx, task.ID, "done", "cs"); err != nil {
		t.Fatal(err)
	}
	// a completed task only changes again through reopen
	_, err := env.Engine.EditTask(env.Ctx, engine.EditTaskOptions{
		TaskID: task.ID, Title: "Renamed after approval", Priority: "high", Actor: "cs",
	})
	if err == nil {
		t.Fatal("expected completed-task edit error")
	}
	got, getErr := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if getErr != nil {
		t.Fatal(getErr)
	}
	if got.Title != "Signed off" || len(got.History) != 0 {
		t.Fatalf("completed task mutated: %+v", got)
	}
}

func TestReopenCompletedTask(t *testing.T) {
	env := newTestEnv(t)
	c := env.caseAtCS(t, "Second look")
	task := env.delegateOne(t, c.ID, "Reviewable", "ao")
	if _, err := env.Engine.SubmitTask(env.Ctx, engine.SubmitTaskOptions{TaskID: task.ID, Actor: "ao"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ApproveTask(env.Ctx, task.ID, "", "cs"); err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.ReopenTask(env.Ctx, task.ID, "cs")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got.Status != domain.TaskInProgress {
		t.Fatalf("status: %s", got.Status)
	}
	var reopened bool
	for _, h := range got.History {
		if h.Type == "reopened" {
			reopened = true
		}
	}
	if !reopened {
		t.Fatalf("history: %+v", got.History)
	}
	// reopening anything but a completed task fails
	if _, err := env.Engine.ReopenTask(env.Ctx, task.ID, "cs"); err == nil {
		t.Fatal("expected reopen error on in_progress task")
	}
}

func TestAuditTrailGrowsMonotonically(t *testing.T) {
	env := newTestEnv(t)
	c := env.registerCase(t, "Audited")
	before, err := env.Engine.Repo.LatestEventID(env.Ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ForwardCase(env.Ctx, engine.ForwardOptions{
		CaseID: c.ID, Transition: "dto-ea", Actor: "dto",
	}); err != nil {
		t.Fatal(err)
	}
	after, err := env.Engine.Repo.LatestEventID(env.Ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if after <= before {
		t.Fatalf("event id did not grow: %d -> %d", before, after)
	}
	events, err := env.Engine.Repo.EventsAfter(env.Ctx, 10, 0, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) < 2 || events[0].Type != "created" || events[1].Type != "forwarded" {
		t.Fatalf("trail: %+v", events)
	}
}

func TestTaskDocumentsFollowSubmission(t *testing.T) {
	env := newTestEnv(t)
	c := env.caseAtCS(t, "With attachments")
	task := env.delegateOne(t, c.ID, "Attach things", "ao")

	doc, err := env.Engine.AttachTaskDocument(env.Ctx, task.ID, engine.DocumentUpload{
		Name: "draft-report.pdf", Content: []byte("x"),
	}, "ao")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.PendingDocs) != 1 || got.PendingDocs[0] != doc.ID {
		t.Fatalf("pending docs: %+v", got.PendingDocs)
	}
	// drafts are private to their uploader
	visible, err := env.Engine.VisibleDocuments(env.Ctx, c.ID, "cs")
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range visible {
		if d.ID == doc.ID {
			t.Fatalf("draft visible to cs: %+v", d)
		}
	}

	got, err = env.Engine.SubmitTask(env.Ctx, engine.SubmitTaskOptions{
		TaskID: task.ID, DocIDs: []string{doc.ID}, Actor: "ao",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(got.PendingDocs) != 0 {
		t.Fatalf("pending docs after submit: %+v", got.PendingDocs)
	}
	d, err := env.Engine.Repo.GetDocument(env.Ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != domain.DocSubmitted {
		t.Fatalf("doc status: %s", d.Status)
	}
	visible, err = env.Engine.VisibleDocuments(env.Ctx, c.ID, "cs")
	if err != nil {
		t.Fatal(err)
	}
	var seen bool
	for _, vd := range visible {
		if vd.ID == doc.ID {
			seen = true
		}
	}
	if !seen {
		t.Fatalf("submitted doc hidden from cs: %+v", visible)
	}
}

func TestCommentLogsEvent(t *testing.T) {
	env := newTestEnv(t)
	c := env.registerCase(t, "Talkative")
	if _, err := env.Engine.SubmitComment(env.Ctx, engine.CommentOptions{
		CaseID: c.ID, Recipient: "ea", Text: "Please expedite", Actor: "dto",
	}); err != nil {
		t.Fatalf("comment: %v", err)
	}
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{CaseID: c.ID, Type: "comment"})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Note == nil || !strings.Contains(*events[0].Note, "Sent message to") {
		t.Fatalf("comment event: %+v", events)
	}
}

func TestSwitchRoleRejectsUnknown(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.SwitchRole(env.Ctx, "intern"); err == nil {
		t.Fatal("expected unknown role error")
	}
	if err := env.Engine.SwitchRole(env.Ctx, "ea"); err != nil {
		t.Fatalf("switch role: %v", err)
	}
	meta, err := env.Engine.Repo.GetAppMeta(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if meta.CurrentRole != "ea" {
		t.Fatalf("current role: %s", meta.CurrentRole)
	}
}
