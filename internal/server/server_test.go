package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/engine"
	"caseline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:       "test-secret",
			AllowRoleHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asRole(role string) map[string]string {
	return map[string]string{"X-Role": role}
}

func TestCaseLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	createRes, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases", map[string]any{
		"title":    "Budget circular FY2025",
		"priority": "high",
	}, asRole("dto"))
	if createRes.StatusCode != http.StatusCreated {
		t.Fatalf("register case status %d: %s", createRes.StatusCode, string(data))
	}
	var created CaseResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal case: %v", err)
	}
	if created.CurrentHolder != "dto" {
		t.Fatalf("expected holder dto, got %s", created.CurrentHolder)
	}
	caseID := created.ID

	fwdRes, fwdBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases/"+caseID+"/forward", map[string]any{
		"transition": "dto-ea",
	}, asRole("dto"))
	if fwdRes.StatusCode != http.StatusOK {
		t.Fatalf("forward dto-ea status %d: %s", fwdRes.StatusCode, string(fwdBody))
	}

	fwdRes, fwdBody = doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases/"+caseID+"/forward", map[string]any{
		"transition": "ea-cs",
		"action":     "approve",
	}, asRole("ea"))
	if fwdRes.StatusCode != http.StatusOK {
		t.Fatalf("forward ea-cs status %d: %s", fwdRes.StatusCode, string(fwdBody))
	}
	var atCS CaseResponse
	_ = json.Unmarshal(fwdBody, &atCS)
	if atCS.CurrentHolder != "cs" {
		t.Fatalf("expected holder cs, got %s", atCS.CurrentHolder)
	}

	delRes, delBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases/"+caseID+"/tasks", map[string]any{
		"tasks": []map[string]any{
			{"title": "Draft response memo", "assignee": "ao"},
		},
	}, asRole("cs"))
	if delRes.StatusCode != http.StatusCreated {
		t.Fatalf("delegate status %d: %s", delRes.StatusCode, string(delBody))
	}
	var tasks []TaskResponse
	if err := json.Unmarshal(delBody, &tasks); err != nil {
		t.Fatalf("unmarshal tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	taskID := tasks[0].ID

	subRes, subBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+taskID+"/submit", map[string]any{
		"comment": "memo attached",
	}, asRole("ao"))
	if subRes.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d: %s", subRes.StatusCode, string(subBody))
	}

	appRes, appBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+taskID+"/approve", map[string]any{
		"comment": "well done",
	}, asRole("cs"))
	if appRes.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", appRes.StatusCode, string(appBody))
	}
	var approved TaskResponse
	_ = json.Unmarshal(appBody, &approved)
	if approved.Status != "completed" {
		t.Fatalf("expected completed, got %s", approved.Status)
	}

	closeRes, closeBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases/"+caseID+"/close", nil, asRole("cs"))
	if closeRes.StatusCode != http.StatusOK {
		t.Fatalf("close status %d: %s", closeRes.StatusCode, string(closeBody))
	}
	var closed CaseResponse
	_ = json.Unmarshal(closeBody, &closed)
	if closed.Status != "closed" {
		t.Fatalf("expected closed, got %s", closed.Status)
	}
}

func TestRejectReturnsCaseToRegistry(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases", map[string]any{
		"title": "Incomplete dossier",
	}, asRole("dto"))
	var created CaseResponse
	_ = json.Unmarshal(data, &created)

	doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases/"+created.ID+"/forward", map[string]any{
		"transition": "dto-cs",
	}, asRole("dto"))

	rejRes, rejBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases/"+created.ID+"/reject", map[string]any{
		"reason": "missing annexes",
	}, asRole("cs"))
	if rejRes.StatusCode != http.StatusOK {
		t.Fatalf("reject status %d: %s", rejRes.StatusCode, string(rejBody))
	}
	var rejected CaseResponse
	_ = json.Unmarshal(rejBody, &rejected)
	if rejected.Status != "rejected" {
		t.Fatalf("expected rejected, got %s", rejected.Status)
	}
	if rejected.CurrentHolder != "dto" {
		t.Fatalf("expected holder dto after reject, got %s", rejected.CurrentHolder)
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/cases", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("expected code unauthorized, got %q", envelope.Error.Code)
	}
}

func TestDevLoginIssuesUsableToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"role": "cs",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal token: %v", err)
	}
	if login.Token == "" {
		t.Fatal("expected a token")
	}

	meRes, meBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if meRes.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", meRes.StatusCode, string(meBody))
	}
	var me WhoAmIResponse
	_ = json.Unmarshal(meBody, &me)
	if me.Role != "cs" || me.Source != "jwt" {
		t.Fatalf("unexpected principal %+v", me)
	}
}

func TestForwardByWrongHolderForbidden(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases", map[string]any{
		"title": "Routine correspondence",
	}, asRole("dto"))
	var created CaseResponse
	_ = json.Unmarshal(data, &created)

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases/"+created.ID+"/forward", map[string]any{
		"transition": "ea-cs",
	}, asRole("ea"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(body))
	}
}

func TestNotificationsScopedToRole(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases", map[string]any{
		"title": "Circular for review",
	}, asRole("dto"))
	var created CaseResponse
	_ = json.Unmarshal(data, &created)

	doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases/"+created.ID+"/forward", map[string]any{
		"transition": "dto-ea",
	}, asRole("dto"))

	eaRes, eaBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/notifications?unread=true", nil, asRole("ea"))
	if eaRes.StatusCode != http.StatusOK {
		t.Fatalf("list notifications status %d: %s", eaRes.StatusCode, string(eaBody))
	}
	var eaItems []NotificationResponse
	if err := json.Unmarshal(eaBody, &eaItems); err != nil {
		t.Fatalf("unmarshal notifications: %v", err)
	}
	if len(eaItems) == 0 {
		t.Fatal("expected a notification for ea")
	}

	_, csBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/notifications?unread=true", nil, asRole("cs"))
	var csItems []NotificationResponse
	_ = json.Unmarshal(csBody, &csItems)
	for _, n := range csItems {
		if n.CaseID == created.ID {
			t.Fatalf("cs should not be notified about %s yet", created.ID)
		}
	}

	readAllRes, readAllBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/notifications/read-all", nil, asRole("ea"))
	if readAllRes.StatusCode != http.StatusOK {
		t.Fatalf("read-all status %d: %s", readAllRes.StatusCode, string(readAllBody))
	}
	_, afterBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/notifications?unread=true", nil, asRole("ea"))
	var after []NotificationResponse
	_ = json.Unmarshal(afterBody, &after)
	if len(after) != 0 {
		t.Fatalf("expected no unread notifications, got %d", len(after))
	}
}

func TestEventsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	for i := 0; i < 3; i++ {
		doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases", map[string]any{
			"title": "Case for the log",
		}, asRole("dto"))
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?limit=2", nil, asRole("dto"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 events, got %d", len(page.Items))
	}
	if page.NextCursor == "" {
		t.Fatal("expected a next cursor")
	}

	res2, data2 := doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?limit=2&cursor="+page.NextCursor, nil, asRole("dto"))
	if res2.StatusCode != http.StatusOK {
		t.Fatalf("second page status %d: %s", res2.StatusCode, string(data2))
	}
	var page2 paginatedEvents
	_ = json.Unmarshal(data2, &page2)
	for _, evt := range page2.Items {
		for _, prev := range page.Items {
			if evt.ID == prev.ID {
				t.Fatalf("event %d repeated across pages", evt.ID)
			}
		}
	}
}

func TestEditTaskDeadlineNullClears(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases", map[string]any{
		"title": "Deadline shuffle",
	}, asRole("dto"))
	var created CaseResponse
	_ = json.Unmarshal(data, &created)
	doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases/"+created.ID+"/forward", map[string]any{
		"transition": "dto-cs",
	}, asRole("dto"))
	_, delBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases/"+created.ID+"/tasks", map[string]any{
		"tasks": []map[string]any{
			{"title": "Check annexes", "assignee": "ao", "deadline": "2026-09-30"},
		},
	}, asRole("cs"))
	var tasks []TaskResponse
	_ = json.Unmarshal(delBody, &tasks)
	if len(tasks) != 1 || tasks[0].Deadline == nil {
		t.Fatalf("expected one task with a deadline, got %+v", tasks)
	}

	editRes, editBody := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/tasks/"+tasks[0].ID, map[string]any{
		"deadline": nil,
	}, asRole("cs"))
	if editRes.StatusCode != http.StatusOK {
		t.Fatalf("edit status %d: %s", editRes.StatusCode, string(editBody))
	}
	var edited TaskResponse
	_ = json.Unmarshal(editBody, &edited)
	if edited.Deadline != nil {
		t.Fatalf("expected deadline cleared, got %v", *edited.Deadline)
	}
}
