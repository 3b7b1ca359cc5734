package server

import (
	"encoding/json"

	"caseline/internal/domain"
)

// Request payloads

type RegisterCaseRequest struct {
	Title     string                  `json:"title"`
	Summary   *string                 `json:"summary,omitempty"`
	Priority  *string                 `json:"priority,omitempty" enum:"high,medium,low"`
	DueDate   *string                 `json:"due_date,omitempty" format:"date"`
	Notes     *string                 `json:"notes,omitempty"`
	Documents []DocumentUploadRequest `json:"documents,omitempty"`
}

type DocumentUploadRequest struct {
	Name    string `json:"name"`
	DocType string `json:"doc_type,omitempty" enum:"pdf,word,excel"`
	// Content is base64 in JSON.
	Content []byte `json:"content,omitempty"`
}

type ForwardCaseRequest struct {
	Transition string   `json:"transition"`
	Recipient  *string  `json:"recipient,omitempty"`
	Action     *string  `json:"action,omitempty"`
	Notes      *string  `json:"notes,omitempty"`
	Comment    *string  `json:"comment,omitempty"`
	Priority   *string  `json:"priority,omitempty" enum:"high,medium,low"`
	DocIDs     []string `json:"doc_ids,omitempty"`
}

type RejectCaseRequest struct {
	Reason string `json:"reason"`
}

type ChangePriorityRequest struct {
	Priority string `json:"priority" enum:"high,medium,low"`
}

type ChangeDueDateRequest struct {
	DueDate string `json:"due_date" format:"date"`
}

type TaskDraftRequest struct {
	Title        string  `json:"title"`
	Instructions *string `json:"instructions,omitempty"`
	Priority     *string `json:"priority,omitempty" enum:"high,medium,low"`
	Deadline     *string `json:"deadline,omitempty" format:"date"`
	Assignee     string  `json:"assignee"`
}

type DelegateTasksRequest struct {
	Tasks []TaskDraftRequest `json:"tasks"`
}

type SubmitTaskRequest struct {
	Comment *string  `json:"comment,omitempty"`
	DocIDs  []string `json:"doc_ids,omitempty"`
}

type ReviewTaskRequest struct {
	Comment *string `json:"comment,omitempty"`
}

type SendBackTaskRequest struct {
	Reason string `json:"reason"`
}

type CancelTaskRequest struct {
	Reason string `json:"reason"`
}

type EditTaskRequest struct {
	Title    *string `json:"title,omitempty"`
	Priority *string `json:"priority,omitempty" enum:"high,medium,low"`
	Deadline *string `json:"deadline,omitempty" format:"date"`
	Assignee *string `json:"assignee,omitempty"`
}

type AddCommentRequest struct {
	Recipient   string  `json:"recipient"`
	Text        string  `json:"text"`
	LinkedDocID *string `json:"linked_doc_id,omitempty"`
}

type AskAssistRequest struct {
	Question string `json:"question"`
}

type DevLoginRequest struct {
	Role string `json:"role"`
}

// Response payloads

type CaseResponse struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Summary        string  `json:"summary,omitempty"`
	Priority       string  `json:"priority" enum:"high,medium,low"`
	Status         string  `json:"status" enum:"active,closed,rejected"`
	DueDate        *string `json:"due_date,omitempty" format:"date"`
	CurrentHolder  string  `json:"current_holder"`
	PreviousHolder *string `json:"previous_holder,omitempty"`
	PendingAction  *string `json:"pending_action,omitempty"`
	PendingFrom    *string `json:"pending_from,omitempty"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
}

type TaskResponse struct {
	ID           string               `json:"id"`
	CaseID       string               `json:"case_id"`
	Title        string               `json:"title"`
	Instructions string               `json:"instructions,omitempty"`
	Priority     string               `json:"priority" enum:"high,medium,low"`
	Deadline     *string              `json:"deadline,omitempty" format:"date"`
	Status       string               `json:"status" enum:"in_progress,submitted,completed,sent_back,cancelled"`
	Assignee     string               `json:"assignee"`
	CreatedBy    string               `json:"created_by"`
	CreatedAt    string               `json:"created_at" format:"date-time"`
	UpdatedAt    string               `json:"updated_at" format:"date-time"`
	CancelledAt  *string              `json:"cancelled_at,omitempty" format:"date-time"`
	CancelledBy  *string              `json:"cancelled_by,omitempty"`
	CancelReason *string              `json:"cancel_reason,omitempty"`
	Submissions  []SubmissionResponse `json:"submissions"`
	History      []HistoryResponse    `json:"history"`
	PendingDocs  []string             `json:"pending_docs"`
}

type SubmissionResponse struct {
	ID          string   `json:"id"`
	Seq         int      `json:"seq"`
	SubmittedBy string   `json:"submitted_by"`
	SubmittedAt string   `json:"submitted_at" format:"date-time"`
	Comment     string   `json:"comment,omitempty"`
	Documents   []string `json:"documents"`
	Status      string   `json:"status" enum:"pending,approved,sent_back,superseded"`
	Feedback    *string  `json:"feedback,omitempty"`
	FeedbackAt  *string  `json:"feedback_at,omitempty" format:"date-time"`
}

type HistoryResponse struct {
	Type         string               `json:"type" enum:"cancelled,edited,reassigned,reopened"`
	Actor        string               `json:"actor"`
	Detail       string               `json:"detail,omitempty"`
	Changes      []domain.FieldChange `json:"changes,omitempty"`
	FromAssignee *string              `json:"from_assignee,omitempty"`
	ToAssignee   *string              `json:"to_assignee,omitempty"`
	TS           string               `json:"ts" format:"date-time"`
}

type DocumentResponse struct {
	ID         string `json:"id"`
	CaseID     string `json:"case_id"`
	Name       string `json:"name"`
	DocType    string `json:"doc_type"`
	Size       int64  `json:"size"`
	UploadedBy string `json:"uploaded_by"`
	Status     string `json:"status" enum:"original,draft,submitted"`
	UploadedAt string `json:"uploaded_at" format:"date-time"`
}

type CommentResponse struct {
	ID          string  `json:"id"`
	CaseID      string  `json:"case_id"`
	Author      string  `json:"author"`
	Recipient   string  `json:"recipient"`
	Text        string  `json:"text"`
	LinkedDocID *string `json:"linked_doc_id,omitempty"`
	TS          string  `json:"ts" format:"date-time"`
}

type EventResponse struct {
	ID     int64    `json:"id"`
	TS     string   `json:"ts" format:"date-time"`
	Type   string   `json:"type"`
	CaseID string   `json:"case_id,omitempty"`
	Actor  string   `json:"actor"`
	Target *string  `json:"target,omitempty"`
	Action *string  `json:"action,omitempty"`
	Note   *string  `json:"note,omitempty"`
	Docs   []string `json:"docs,omitempty"`
}

type NotificationResponse struct {
	ID         string  `json:"id"`
	CaseID     string  `json:"case_id,omitempty"`
	TargetRole string  `json:"target_role"`
	Type       string  `json:"type"`
	Title      string  `json:"title"`
	Subtitle   string  `json:"subtitle,omitempty"`
	TaskID     *string `json:"task_id,omitempty"`
	TS         string  `json:"ts" format:"date-time"`
	Read       bool    `json:"read"`
}

type RoleResponse struct {
	ID        string `json:"id"`
	Kind      string `json:"kind" enum:"core,action_officer"`
	Name      string `json:"name"`
	ShortName string `json:"short_name,omitempty"`
	Title     string `json:"title,omitempty"`
}

type StatusResponse struct {
	CurrentRole    string  `json:"current_role"`
	ActiveCaseID   *string `json:"active_case_id,omitempty"`
	NextCaseNumber int     `json:"next_case_number"`
}

type WhoAmIResponse struct {
	Role   string `json:"role"`
	Source string `json:"source"`
}

type AskAssistResponse struct {
	Answer string `json:"answer"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type paginatedCases struct {
	Items      []CaseResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func caseResponse(c domain.Case) CaseResponse {
	return CaseResponse(c)
}

func mapCases(items []domain.Case) []CaseResponse {
	res := make([]CaseResponse, 0, len(items))
	for _, c := range items {
		res = append(res, caseResponse(c))
	}
	return res
}

func taskResponse(t domain.Task) TaskResponse {
	subs := make([]SubmissionResponse, 0, len(t.Submissions))
	for _, s := range t.Submissions {
		subs = append(subs, submissionResponse(s))
	}
	hist := make([]HistoryResponse, 0, len(t.History))
	for _, h := range t.History {
		hist = append(hist, historyResponse(h))
	}
	return TaskResponse{
		ID:           t.ID,
		CaseID:       t.CaseID,
		Title:        t.Title,
		Instructions: t.Instructions,
		Priority:     t.Priority,
		Deadline:     t.Deadline,
		Status:       t.Status,
		Assignee:     t.Assignee,
		CreatedBy:    t.CreatedBy,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
		CancelledAt:  t.CancelledAt,
		CancelledBy:  t.CancelledBy,
		CancelReason: t.CancelReason,
		Submissions:  subs,
		History:      hist,
		PendingDocs:  nonNilSlice(t.PendingDocs),
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

func submissionResponse(s domain.Submission) SubmissionResponse {
	return SubmissionResponse{
		ID:          s.ID,
		Seq:         s.Seq,
		SubmittedBy: s.SubmittedBy,
		SubmittedAt: s.SubmittedAt,
		Comment:     s.Comment,
		Documents:   nonNilSlice(s.Documents),
		Status:      s.Status,
		Feedback:    s.Feedback,
		FeedbackAt:  s.FeedbackAt,
	}
}

func historyResponse(h domain.TaskHistoryEntry) HistoryResponse {
	return HistoryResponse{
		Type:         h.Type,
		Actor:        h.Actor,
		Detail:       h.Detail,
		Changes:      decodeChanges(h.ChangesJSON),
		FromAssignee: h.FromAssignee,
		ToAssignee:   h.ToAssignee,
		TS:           h.TS,
	}
}

func documentResponse(d domain.Document) DocumentResponse {
	return DocumentResponse{
		ID:         d.ID,
		CaseID:     d.CaseID,
		Name:       d.Name,
		DocType:    d.DocType,
		Size:       d.Size,
		UploadedBy: d.UploadedBy,
		Status:     d.Status,
		UploadedAt: d.UploadedAt,
	}
}

func mapDocuments(items []domain.Document) []DocumentResponse {
	res := make([]DocumentResponse, 0, len(items))
	for _, d := range items {
		res = append(res, documentResponse(d))
	}
	return res
}

func commentResponse(c domain.Comment) CommentResponse {
	return CommentResponse(c)
}

func mapComments(items []domain.Comment) []CommentResponse {
	res := make([]CommentResponse, 0, len(items))
	for _, c := range items {
		res = append(res, commentResponse(c))
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:     e.ID,
		TS:     e.TS,
		Type:   e.Type,
		CaseID: e.CaseID,
		Actor:  e.Actor,
		Target: e.Target,
		Action: e.Action,
		Note:   e.Note,
		Docs:   decodeStringSlice(e.DocsJSON),
	}
}

func notificationResponse(n domain.Notification) NotificationResponse {
	return NotificationResponse(n)
}

func mapNotifications(items []domain.Notification) []NotificationResponse {
	res := make([]NotificationResponse, 0, len(items))
	for _, n := range items {
		res = append(res, notificationResponse(n))
	}
	return res
}

// JSON helpers

func decodeStringSlice(raw *string) []string {
	if raw == nil || *raw == "" {
		return nil
	}
	var arr []string
	if err := json.Unmarshal([]byte(*raw), &arr); err != nil {
		return nil
	}
	return arr
}

func decodeChanges(raw *string) []domain.FieldChange {
	if raw == nil || *raw == "" {
		return nil
	}
	var changes []domain.FieldChange
	if err := json.Unmarshal([]byte(*raw), &changes); err != nil {
		return nil
	}
	return changes
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
