package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func postJSON(t *testing.T, ts *httptest.Server, path, token string, body any) *http.Response {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, ts.URL+path, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("request %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path, token string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("request %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestRegisterLoginEndpoints(t *testing.T) {
	ts, _ := startTestServer(t)

	creds := map[string]string{"username": "alice", "password": "password123"}

	resp := postJSON(t, ts, "/api/register", "", creds)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status: %d", resp.StatusCode)
	}
	var authResp AuthResponse
	decodeBody(t, resp, &authResp)
	if authResp.Token == "" {
		t.Fatal("expected token")
	}

	resp = postJSON(t, ts, "/api/register", "", creds)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register status: %d", resp.StatusCode)
	}

	resp = postJSON(t, ts, "/api/login", "", creds)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status: %d", resp.StatusCode)
	}

	resp = postJSON(t, ts, "/api/login", "", map[string]string{
		"username": "alice", "password": "wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login status: %d", resp.StatusCode)
	}
}

func TestGuestEndpoint(t *testing.T) {
	ts, _ := startTestServer(t)

	resp := postJSON(t, ts, "/api/guest", "", struct{}{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("guest status: %d", resp.StatusCode)
	}
	var authResp AuthResponse
	decodeBody(t, resp, &authResp)
	if authResp.Token == "" {
		t.Fatal("expected guest token")
	}
}

func TestAuthorizedEndpointsRequireToken(t *testing.T) {
	ts, _ := startTestServer(t)

	resp := getJSON(t, ts, "/api/conversations", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	resp = getJSON(t, ts, "/api/presence", "not-a-token")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestConversationEndpoints(t *testing.T) {
	ts, svc := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	aliceToken := registerUser(t, ctx, svc, "alice")
	bobToken := registerUser(t, ctx, svc, "bob")

	// Group conversation: creator is always a member.
	resp := postJSON(t, ts, "/api/conversations/group", aliceToken, CreateGroupRequest{
		Name:    "support-circle",
		Members: []string{"bob"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create group status: %d", resp.StatusCode)
	}
	var group ConversationResponse
	decodeBody(t, resp, &group)
	if group.ID == "" || group.Type != "group" {
		t.Fatalf("unexpected group: %+v", group)
	}

	// Both members see it.
	for _, token := range []string{aliceToken, bobToken} {
		resp = getJSON(t, ts, "/api/conversations", token)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("list status: %d", resp.StatusCode)
		}
		var list struct {
			Conversations []ConversationResponse `json:"conversations"`
		}
		decodeBody(t, resp, &list)
		if len(list.Conversations) != 1 || list.Conversations[0].ID != group.ID {
			t.Fatalf("unexpected list: %+v", list)
		}
	}

	// Direct conversation deduplicates across creation order.
	resp = postJSON(t, ts, "/api/conversations/direct", aliceToken, CreateDirectRequest{Peer: "bob"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create direct status: %d", resp.StatusCode)
	}
	var direct ConversationResponse
	decodeBody(t, resp, &direct)

	resp = postJSON(t, ts, "/api/conversations/direct", bobToken, CreateDirectRequest{Peer: "alice"})
	var direct2 ConversationResponse
	decodeBody(t, resp, &direct2)
	if direct.ID != direct2.ID {
		t.Fatalf("direct conversation duplicated: %s vs %s", direct.ID, direct2.ID)
	}

	// Self-DM is rejected.
	resp = postJSON(t, ts, "/api/conversations/direct", aliceToken, CreateDirectRequest{Peer: "alice"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("self direct status: %d", resp.StatusCode)
	}
}

func TestHistoryEndpointMembershipGuard(t *testing.T) {
	ts, svc := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	aliceToken := registerUser(t, ctx, svc, "alice")
	malloryToken := registerUser(t, ctx, svc, "mallory")

	resp := postJSON(t, ts, "/api/conversations/group", aliceToken, CreateGroupRequest{Name: "private"})
	var group ConversationResponse
	decodeBody(t, resp, &group)

	resp = getJSON(t, ts, "/api/conversations/"+group.ID+"/messages", aliceToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("member history status: %d", resp.StatusCode)
	}

	resp = getJSON(t, ts, "/api/conversations/"+group.ID+"/messages", malloryToken)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-member history status: %d", resp.StatusCode)
	}

	resp = getJSON(t, ts, "/api/conversations/ghost/messages", aliceToken)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown conversation status: %d", resp.StatusCode)
	}
}

func TestPresenceEndpoint(t *testing.T) {
	ts, svc := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	aliceToken := registerUser(t, ctx, svc, "alice")

	resp := getJSON(t, ts, "/api/presence", aliceToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("presence status: %d", resp.StatusCode)
	}
	var before struct {
		Identities []string `json:"identities"`
	}
	decodeBody(t, resp, &before)
	if len(before.Identities) != 0 {
		t.Fatalf("expected empty presence, got %+v", before.Identities)
	}

	dialWS(t, ctx, ts, aliceToken)
	// Registration is async; poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp = getJSON(t, ts, "/api/presence", aliceToken)
		var after struct {
			Identities []string `json:"identities"`
		}
		decodeBody(t, resp, &after)
		if len(after.Identities) == 1 && after.Identities[0] == "alice" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("alice never appeared in presence")
}
