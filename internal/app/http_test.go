package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"counselhub/api/internal/auth"
	"counselhub/api/internal/chat"
	"counselhub/api/internal/config"
	"counselhub/api/internal/directory"
	"counselhub/api/internal/metrics"
	"counselhub/api/internal/roles"
	"counselhub/api/internal/search"
	"counselhub/api/internal/treestore"
)

func setupAPI(t *testing.T) (*httptest.Server, treestore.Store, config.Config) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := treestore.NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := config.Config{TokenSecret: "test-secret", CORSOrigin: "*"}
	chatService := chat.NewService(store)
	resolver := directory.NewResolver(store)
	searchService := search.NewService(nil, search.NewScan(chatService, resolver))
	m := metrics.New()

	service := New(cfg, store, chatService, resolver, searchService, m)
	server := httptest.NewServer(NewHTTPServer(service, m, cfg.CORSOrigin).Handler())
	t.Cleanup(server.Close)
	return server, store, cfg
}

func seedOrgData(t *testing.T, store treestore.Store) {
	t.Helper()
	ctx := context.Background()
	err := store.Set(ctx, "University Data/Caseloads/Dr. Sarah Johnson", map[string]any{
		"Student X": true,
	})
	if err != nil {
		t.Fatalf("seed caseload: %v", err)
	}
	err = store.Set(ctx, "University Data/School Counsellors/Northside High", map[string]any{
		"Dr. Sarah Johnson": true,
		"Mr. Tom Hale":      true,
	})
	if err != nil {
		t.Fatalf("seed school counsellors: %v", err)
	}
}

func actorToken(t *testing.T, cfg config.Config, name string, role roles.Role) string {
	t.Helper()
	token, err := auth.IssueActorToken([]byte(cfg.TokenSecret), name, role, time.Hour)
	if err != nil {
		t.Fatalf("IssueActorToken failed: %v", err)
	}
	return token
}

func doRequest(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func decodeResponse(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server, _, _ := setupAPI(t)

	resp, err := http.Get(server.URL + "/api/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}
}

func TestReadyEndpoint(t *testing.T) {
	server, _, _ := setupAPI(t)

	resp, err := http.Get(server.URL + "/api/ready")
	if err != nil {
		t.Fatalf("ready request failed: %v", err)
	}
	var body struct {
		OK bool `json:"ok"`
	}
	decodeResponse(t, resp, &body)
	if !body.OK {
		t.Error("expected ready = true with a live store")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server, _, _ := setupAPI(t)

	resp, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d, want 200", resp.StatusCode)
	}
}

func TestChatRequiresActorToken(t *testing.T) {
	server, _, _ := setupAPI(t)

	resp := doRequest(t, http.MethodGet, server.URL+"/api/chat/participants", "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status without token = %d, want 401", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodGet, server.URL+"/api/chat/participants", "garbage", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status with bad token = %d, want 401", resp.StatusCode)
	}
}

func TestParticipantsEndpoint(t *testing.T) {
	server, store, cfg := setupAPI(t)
	seedOrgData(t, store)
	token := actorToken(t, cfg, "Dr. Sarah Johnson", roles.RoleCounselor)

	resp := doRequest(t, http.MethodGet, server.URL+"/api/chat/participants", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("participants status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Participants []directory.Participant `json:"participants"`
	}
	decodeResponse(t, resp, &body)
	if len(body.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %+v", body.Participants)
	}
}

// The end-to-end flow: the student messages their counselor, the counselor
// sees exactly one unread message, reads it and resets the counter.
func TestChatFlow(t *testing.T) {
	server, store, cfg := setupAPI(t)
	seedOrgData(t, store)
	studentToken := actorToken(t, cfg, "Student X", roles.RoleStudent)
	counselorToken := actorToken(t, cfg, "Dr. Sarah Johnson", roles.RoleCounselor)

	resp := doRequest(t, http.MethodPost, server.URL+"/api/chat/messages", studentToken, map[string]string{
		"recipient": "Dr. Sarah Johnson",
		"content":   "Hello",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send status = %d, want 201", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doRequest(t, http.MethodGet, server.URL+"/api/chat/messages?with=Student+X", counselorToken, nil)
	var messagesBody struct {
		Messages []chat.Message `json:"messages"`
	}
	decodeResponse(t, resp, &messagesBody)
	if len(messagesBody.Messages) != 1 {
		t.Fatalf("expected one message, got %+v", messagesBody.Messages)
	}
	if messagesBody.Messages[0].Content != "Hello" || messagesBody.Messages[0].SenderName != "Student X" {
		t.Errorf("message = %+v", messagesBody.Messages[0])
	}

	resp = doRequest(t, http.MethodGet, server.URL+"/api/chat/unread?with=Student+X", counselorToken, nil)
	var unreadBody struct {
		Count int `json:"count"`
	}
	decodeResponse(t, resp, &unreadBody)
	if unreadBody.Count != 1 {
		t.Errorf("unread count = %d, want 1", unreadBody.Count)
	}

	resp = doRequest(t, http.MethodGet, server.URL+"/api/chat/messages/last?with=Student+X", counselorToken, nil)
	var lastBody struct {
		Content string `json:"content"`
	}
	decodeResponse(t, resp, &lastBody)
	if lastBody.Content != "Hello" {
		t.Errorf("last message = %q, want Hello", lastBody.Content)
	}

	resp = doRequest(t, http.MethodPost, server.URL+"/api/chat/unread/reset", counselorToken, map[string]string{
		"with": "Student X",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doRequest(t, http.MethodGet, server.URL+"/api/chat/unread?with=Student+X", counselorToken, nil)
	decodeResponse(t, resp, &unreadBody)
	if unreadBody.Count != 0 {
		t.Errorf("unread count after reset = %d, want 0", unreadBody.Count)
	}
}

func TestSendValidation(t *testing.T) {
	server, store, cfg := setupAPI(t)
	seedOrgData(t, store)
	studentToken := actorToken(t, cfg, "Student X", roles.RoleStudent)

	resp := doRequest(t, http.MethodPost, server.URL+"/api/chat/messages", studentToken, map[string]string{
		"recipient": "",
		"content":   "hi",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing recipient status = %d, want 400", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodPost, server.URL+"/api/chat/messages", studentToken, map[string]string{
		"recipient": "Dr. Sarah Johnson",
		"content":   "   ",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("blank content status = %d, want 400", resp.StatusCode)
	}
}

func TestSendRejectsNonParticipants(t *testing.T) {
	server, store, cfg := setupAPI(t)
	seedOrgData(t, store)
	studentToken := actorToken(t, cfg, "Student X", roles.RoleStudent)

	// Students may not message arbitrary users, only resolved participants.
	resp := doRequest(t, http.MethodPost, server.URL+"/api/chat/messages", studentToken, map[string]string{
		"recipient": "Some Stranger",
		"content":   "hello?",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("stranger recipient status = %d, want 403", resp.StatusCode)
	}
}

func TestInitCountsEndpoint(t *testing.T) {
	server, store, cfg := setupAPI(t)
	seedOrgData(t, store)
	counselorToken := actorToken(t, cfg, "Dr. Sarah Johnson", roles.RoleCounselor)

	resp := doRequest(t, http.MethodPost, server.URL+"/api/chat/counts/init", counselorToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("init status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		OK           bool                    `json:"ok"`
		Participants []directory.Participant `json:"participants"`
	}
	decodeResponse(t, resp, &body)
	if !body.OK || len(body.Participants) != 2 {
		t.Errorf("init response = %+v", body)
	}

	node, err := store.Get(context.Background(), "University Data/Inboxes/Counts/Dr. Sarah JohnsonStudent X/Student X")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if node == nil || treestore.Int(node) != 0 {
		t.Errorf("counter not initialized, got %v", node)
	}
}

func TestSearchEndpoint(t *testing.T) {
	server, store, cfg := setupAPI(t)
	seedOrgData(t, store)
	studentToken := actorToken(t, cfg, "Student X", roles.RoleStudent)

	resp := doRequest(t, http.MethodPost, server.URL+"/api/chat/messages", studentToken, map[string]string{
		"recipient": "Dr. Sarah Johnson",
		"content":   "question about my essay",
	})
	resp.Body.Close()

	resp = doRequest(t, http.MethodGet, server.URL+"/api/chat/search?q=essay", studentToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search status = %d, want 200", resp.StatusCode)
	}
	var body search.Response
	decodeResponse(t, resp, &body)
	if body.Total != 1 || len(body.Results) != 1 {
		t.Fatalf("search response = %+v", body)
	}
	if body.Results[0].Content != "question about my essay" {
		t.Errorf("search hit = %+v", body.Results[0])
	}

	resp = doRequest(t, http.MethodGet, server.URL+"/api/chat/search", studentToken, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing query status = %d, want 400", resp.StatusCode)
	}
}

func TestMessagesRequiresWithParam(t *testing.T) {
	server, store, cfg := setupAPI(t)
	seedOrgData(t, store)
	token := actorToken(t, cfg, "Student X", roles.RoleStudent)

	resp := doRequest(t, http.MethodGet, server.URL+"/api/chat/messages", token, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing with status = %d, want 400", resp.StatusCode)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	server, _, _ := setupAPI(t)

	resp, err := http.Get(server.URL + "/api/nope")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
