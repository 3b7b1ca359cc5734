package domain

// Case statuses. A case leaves "active" exactly once and never returns.
const (
	CaseActive   = "active"
	CaseClosed   = "closed"
	CaseRejected = "rejected"
)

// Task statuses.
const (
	TaskInProgress = "in_progress"
	TaskSubmitted  = "submitted"
	TaskCompleted  = "completed"
	TaskSentBack   = "sent_back"
	TaskCancelled  = "cancelled"
)

// Submission statuses.
const (
	SubmissionPending    = "pending"
	SubmissionApproved   = "approved"
	SubmissionSentBack   = "sent_back"
	SubmissionSuperseded = "superseded"
)

// Document statuses.
const (
	DocOriginal  = "original"
	DocDraft     = "draft"
	DocSubmitted = "submitted"
)

type Case struct {
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

type Task struct {
	ID           string  `json:"id"`
	CaseID       string  `json:"case_id"`
	Title        string  `json:"title"`
	Instructions string  `json:"instructions,omitempty"`
	Priority     string  `json:"priority" enum:"high,medium,low"`
	Deadline     *string `json:"deadline,omitempty" format:"date"`
	Status       string  `json:"status" enum:"in_progress,submitted,completed,sent_back,cancelled"`
	Assignee     string  `json:"assignee"`
	CreatedBy    string  `json:"created_by"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
	CancelledAt  *string `json:"cancelled_at,omitempty" format:"date-time"`
	CancelledBy  *string `json:"cancelled_by,omitempty"`
	CancelReason *string `json:"cancel_reason,omitempty"`

	Submissions []Submission       `json:"submissions,omitempty"`
	History     []TaskHistoryEntry `json:"history,omitempty"`
	PendingDocs []string           `json:"pending_docs,omitempty"`
}

type Submission struct {
	ID          string   `json:"id"`
	TaskID      string   `json:"task_id"`
	Seq         int      `json:"seq"`
	SubmittedBy string   `json:"submitted_by"`
	SubmittedAt string   `json:"submitted_at" format:"date-time"`
	Comment     string   `json:"comment,omitempty"`
	Documents   []string `json:"documents,omitempty"`
	Status      string   `json:"status" enum:"pending,approved,sent_back,superseded"`
	Feedback    *string  `json:"feedback,omitempty"`
	FeedbackAt  *string  `json:"feedback_at,omitempty" format:"date-time"`
}

// TaskHistoryEntry records cancel/edit/reassign/reopen on a task.
// ChangesJSON holds a [{field,from,to}] diff for edits.
type TaskHistoryEntry struct {
	ID           int64   `json:"id"`
	TaskID       string  `json:"task_id"`
	Type         string  `json:"type" enum:"cancelled,edited,reassigned,reopened"`
	Actor        string  `json:"actor"`
	Detail       string  `json:"detail,omitempty"`
	ChangesJSON  *string `json:"changes_json,omitempty"`
	FromAssignee *string `json:"from_assignee,omitempty"`
	ToAssignee   *string `json:"to_assignee,omitempty"`
	TS           string  `json:"ts" format:"date-time"`
}

// FieldChange is one entry of an edit diff.
type FieldChange struct {
	Field string `json:"field"`
	From  string `json:"from"`
	To    string `json:"to"`
}

type Document struct {
	ID         string `json:"id"`
	CaseID     string `json:"case_id"`
	Name       string `json:"name"`
	DocType    string `json:"doc_type"`
	Size       int64  `json:"size"`
	UploadedBy string `json:"uploaded_by"`
	Status     string `json:"status" enum:"original,draft,submitted"`
	UploadedAt string `json:"uploaded_at" format:"date-time"`
	// Content is only populated on explicit fetch, never on listings.
	Content []byte `json:"content,omitempty"`
}

type Comment struct {
	ID          string  `json:"id"`
	CaseID      string  `json:"case_id"`
	Author      string  `json:"author"`
	Recipient   string  `json:"recipient"`
	Text        string  `json:"text"`
	LinkedDocID *string `json:"linked_doc_id,omitempty"`
	TS          string  `json:"ts" format:"date-time"`
}

type Event struct {
	ID     int64   `json:"id"`
	TS     string  `json:"ts" format:"date-time"`
	Type   string  `json:"type"`
	CaseID string  `json:"case_id,omitempty"`
	Actor  string  `json:"actor"`
	Target *string `json:"target,omitempty"`
	Action *string `json:"action,omitempty"`
	Note   *string `json:"note,omitempty"`
	// DocsJSON is a JSON array of document ids attached to the event.
	DocsJSON *string `json:"docs_json,omitempty"`
}

type Notification struct {
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

// AppMeta is the single-row application state: the case-number counter,
// the role the CLI is currently acting as, and the active case.
type AppMeta struct {
	NextCaseNumber int     `json:"next_case_number"`
	CurrentRole    string  `json:"current_role"`
	ActiveCaseID   *string `json:"active_case_id,omitempty"`
}

type APIKey struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
