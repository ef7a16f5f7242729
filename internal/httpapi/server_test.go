package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/emberchat/emberd/internal/bus"
	"github.com/emberchat/emberd/internal/convo"
	"github.com/emberchat/emberd/internal/docstore"
	"github.com/emberchat/emberd/internal/identity"
	"github.com/emberchat/emberd/internal/status"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := docstore.NewWithClient(rdb)
	b := bus.New()
	logger := zap.NewNop()

	convos := convo.NewService(store, b, logger)
	accounts := identity.NewService(store, rdb, "test-secret", time.Hour)
	machine := status.NewMachine(b)

	srv := NewServer(convos, accounts, nil, machine, logger)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func register(t *testing.T, ts *httptest.Server, email, first, last string) {
	t.Helper()
	resp, body := doJSON(t, ts, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email":      email,
		"password":   "hunter22",
		"first_name": first,
		"last_name":  last,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: status %d, body %v", email, resp.StatusCode, body)
	}
}

func login(t *testing.T, ts *httptest.Server, email string) string {
	t.Helper()
	resp, body := doJSON(t, ts, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    email,
		"password": "hunter22",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: status %d, body %v", email, resp.StatusCode, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("login %s: no token in %v", email, body)
	}
	return token
}

func TestRegisterDuplicateConflicts(t *testing.T) {
	ts := newTestServer(t)

	register(t, ts, "alice@gmail.com", "Alice", "Ames")
	resp, _ := doJSON(t, ts, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email":      "alice@gmail.com",
		"password":   "hunter22",
		"first_name": "Alice",
		"last_name":  "Ames",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register: status %d, want 409", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := doJSON(t, ts, http.MethodGet, "/v1/users", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthed users: status %d, want 401", resp.StatusCode)
	}

	resp, _ = doJSON(t, ts, http.MethodGet, "/v1/users", "not-a-jwt", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token: status %d, want 401", resp.StatusCode)
	}
}

func TestAuthRejectsNonBearerScheme(t *testing.T) {
	ts := newTestServer(t)
	register(t, ts, "alice@gmail.com", "Alice", "Ames")
	token := login(t, ts, "alice@gmail.com")

	// A valid token under the wrong scheme must not authenticate.
	for _, scheme := range []string{"Basic", "Token"} {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/users", nil)
		req.Header.Set("Authorization", scheme+" "+token)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s scheme: %v", scheme, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s scheme: status %d, want 401", scheme, resp.StatusCode)
		}
	}

	resp, _ := doJSON(t, ts, http.MethodGet, "/v1/users", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bearer scheme: status %d, want 200", resp.StatusCode)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	ts := newTestServer(t)
	register(t, ts, "alice@gmail.com", "Alice", "Ames")
	token := login(t, ts, "alice@gmail.com")

	resp, _ := doJSON(t, ts, http.MethodPost, "/v1/auth/logout", token, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout: status %d, want 204", resp.StatusCode)
	}

	resp, _ = doJSON(t, ts, http.MethodGet, "/v1/users", token, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked token: status %d, want 401", resp.StatusCode)
	}
}

func TestDirectoryListsRegisteredUsers(t *testing.T) {
	ts := newTestServer(t)
	register(t, ts, "alice@gmail.com", "Alice", "Ames")
	register(t, ts, "bob@gmail.com", "Bob", "Banks")
	token := login(t, ts, "alice@gmail.com")

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/users", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	defer resp.Body.Close()

	var users []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		t.Fatalf("decode users: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("got %d users, want 2", len(users))
	}
}

func TestConversationLifecycle(t *testing.T) {
	ts := newTestServer(t)
	register(t, ts, "alice@gmail.com", "Alice", "Ames")
	register(t, ts, "bob@gmail.com", "Bob", "Banks")
	aliceToken := login(t, ts, "alice@gmail.com")
	bobToken := login(t, ts, "bob@gmail.com")

	// No conversation yet.
	resp, _ := doJSON(t, ts, http.MethodGet, "/v1/conversations/exists?with=bob@gmail.com", aliceToken, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("exists before create: status %d, want 404", resp.StatusCode)
	}

	resp, body := doJSON(t, ts, http.MethodPost, "/v1/conversations", aliceToken, map[string]any{
		"counterparty_key":  "bob@gmail.com",
		"counterparty_name": "Bob Banks",
		"message":           map[string]string{"type": "text", "body": "hey bob"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d, body %v", resp.StatusCode, body)
	}
	convID, _ := body["id"].(string)
	if convID == "" {
		t.Fatalf("create: no id in %v", body)
	}

	// Visible from both sides.
	resp, body = doJSON(t, ts, http.MethodGet, "/v1/conversations/exists?with=alice@gmail.com", bobToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("exists from bob: status %d", resp.StatusCode)
	}
	if body["id"] != convID {
		t.Fatalf("bob sees id %v, want %s", body["id"], convID)
	}

	sendPath := fmt.Sprintf("/v1/conversations/%s/messages", convID)
	resp, body = doJSON(t, ts, http.MethodPost, sendPath, bobToken, map[string]any{
		"counterparty_key": "alice@gmail.com",
		"message":          map[string]string{"type": "text", "body": "hey alice"},
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("send: status %d, body %v", resp.StatusCode, body)
	}

	// Alice deletes her side; bob's remains. The exists check reads the
	// counterparty's list, so bob now gets a miss while alice still sees
	// the conversation she could rejoin.
	resp, _ = doJSON(t, ts, http.MethodDelete, "/v1/conversations/"+convID, aliceToken, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: status %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, ts, http.MethodGet, "/v1/conversations/exists?with=alice@gmail.com", bobToken, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("exists against deleted side: status %d, want 404", resp.StatusCode)
	}
	resp, _ = doJSON(t, ts, http.MethodGet, "/v1/conversations/exists?with=bob@gmail.com", aliceToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("exists against surviving side: status %d, want 200", resp.StatusCode)
	}

	// Deleting twice reports not found.
	resp, _ = doJSON(t, ts, http.MethodDelete, "/v1/conversations/"+convID, aliceToken, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete: status %d, want 404", resp.StatusCode)
	}
}

func TestSendToMissingConversation(t *testing.T) {
	ts := newTestServer(t)
	register(t, ts, "alice@gmail.com", "Alice", "Ames")
	token := login(t, ts, "alice@gmail.com")

	resp, _ := doJSON(t, ts, http.MethodPost, "/v1/conversations/conversation_nope/messages", token, map[string]any{
		"counterparty_key": "bob@gmail.com",
		"message":          map[string]string{"type": "text", "body": "void"},
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("send to missing: status %d, want 404", resp.StatusCode)
	}
}

func TestInvalidMessageKindRejected(t *testing.T) {
	ts := newTestServer(t)
	register(t, ts, "alice@gmail.com", "Alice", "Ames")
	register(t, ts, "bob@gmail.com", "Bob", "Banks")
	token := login(t, ts, "alice@gmail.com")

	resp, _ := doJSON(t, ts, http.MethodPost, "/v1/conversations", token, map[string]any{
		"counterparty_key": "bob@gmail.com",
		"message":          map[string]string{"type": "carrier_pigeon", "body": "coo"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad kind: status %d, want 400", resp.StatusCode)
	}
}

func TestPictureUnavailableWithoutObjectStore(t *testing.T) {
	ts := newTestServer(t)
	register(t, ts, "alice@gmail.com", "Alice", "Ames")
	token := login(t, ts, "alice@gmail.com")

	resp, _ := doJSON(t, ts, http.MethodPost, "/v1/users/alice-gmail-com/picture", token, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("upload without store: status %d, want 503", resp.StatusCode)
	}
}

func TestHealthReportsState(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doJSON(t, ts, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: status %d", resp.StatusCode)
	}
	if body["status"] == "" {
		t.Fatalf("healthz: empty status in %v", body)
	}
}
