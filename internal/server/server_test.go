package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"freshline/internal/config"
	"freshline/internal/db"
	"freshline/internal/engine"
	"freshline/internal/migrate"
	"freshline/internal/server"
)

func newTestServer(t *testing.T, auth server.AuthConfig) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	conn, dialect, err := db.Open(db.Config{Path: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, dialect, config.Default(), nil)
	handler, err := server.New(server.Config{
		Engine:   eng,
		BasePath: "/v1",
		Auth:     auth,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	out := map[string]any{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("unmarshal %q: %v", string(data), err)
		}
	}
	return res.StatusCode, out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, server.AuthConfig{})
	status, body := doJSON(t, http.MethodGet, ts.URL+"/v1/health", nil, nil)
	if status != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health: %d %v", status, body)
	}
}

func TestEventGetOrCreateOverHTTP(t *testing.T) {
	ts := newTestServer(t, server.AuthConfig{})
	req := map[string]any{
		"message_id": "msg-1",
		"search_key": "RHSA-2026:1234",
		"kind":       "testing",
	}
	status, body := doJSON(t, http.MethodPost, ts.URL+"/v1/events", req, nil)
	if status != http.StatusCreated {
		t.Fatalf("create event: %d %v", status, body)
	}
	if body["created"] != true {
		t.Fatalf("first call should report created=true: %v", body)
	}
	if body["event_type_name"] != "testing" {
		t.Fatalf("missing kind name projection: %v", body)
	}
	firstID := body["id"]

	status, body = doJSON(t, http.MethodPost, ts.URL+"/v1/events", req, nil)
	if status != http.StatusCreated {
		t.Fatalf("second create: %d %v", status, body)
	}
	if body["created"] != false || body["id"] != firstID {
		t.Fatalf("second call should return the same event uncreated: %v", body)
	}
}

func TestEventRejectsUnknownKind(t *testing.T) {
	ts := newTestServer(t, server.AuthConfig{})
	status, body := doJSON(t, http.MethodPost, ts.URL+"/v1/events", map[string]any{
		"message_id": "msg-1",
		"kind":       "no-such-kind",
	}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %v", status, body)
	}
	envelope, ok := body["error"].(map[string]any)
	if !ok || envelope["code"] != "unknown_event_kind" {
		t.Fatalf("wrong error envelope: %v", body)
	}
}

func TestBuildLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t, server.AuthConfig{})
	_, ev := doJSON(t, http.MethodPost, ts.URL+"/v1/events", map[string]any{
		"message_id": "msg-1",
		"kind":       "testing",
	}, nil)
	eventID := int64(ev["id"].(float64))

	status, parent := doJSON(t, http.MethodPost, ts.URL+"/v1/builds", map[string]any{
		"event_id": eventID,
		"name":     "openssl-1.1.1-1.el8",
		"type":     "rpm",
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("create build: %d %v", status, parent)
	}
	parentID := int64(parent["id"].(float64))

	status, child := doJSON(t, http.MethodPost, ts.URL+"/v1/builds", map[string]any{
		"event_id":  eventID,
		"name":      "curl-7.61.1-1.el8",
		"type":      "rpm",
		"dep_on_id": parentID,
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("create child build: %d %v", status, child)
	}
	if child["dep_on"] != "openssl-1.1.1-1.el8" {
		t.Fatalf("child should carry the parent name: %v", child)
	}
	childID := int64(child["id"].(float64))

	// fail the parent; the cascade must reach the child
	status, failed := doJSON(t, http.MethodPatch, fmt.Sprintf("%s/v1/builds/%d/state", ts.URL, parentID), map[string]any{
		"state":  "failed",
		"reason": "compile error",
	}, nil)
	if status != http.StatusOK {
		t.Fatalf("transition: %d %v", status, failed)
	}
	if failed["state_name"] != "failed" || failed["state"] != float64(2) {
		t.Fatalf("parent projection wrong: %v", failed)
	}

	status, got := doJSON(t, http.MethodGet, fmt.Sprintf("%s/v1/builds/%d", ts.URL, childID), nil, nil)
	if status != http.StatusOK || got["state_name"] != "failed" {
		t.Fatalf("child not failed: %d %v", status, got)
	}
	if got["time_completed"] == nil {
		t.Fatalf("cascaded build missing time_completed: %v", got)
	}

	status, root := doJSON(t, http.MethodGet, fmt.Sprintf("%s/v1/builds/%d/root", ts.URL, childID), nil, nil)
	if status != http.StatusOK || int64(root["id"].(float64)) != parentID {
		t.Fatalf("root lookup: %d %v", status, root)
	}
}

func TestBuildNotFound(t *testing.T) {
	ts := newTestServer(t, server.AuthConfig{})
	status, body := doJSON(t, http.MethodGet, ts.URL+"/v1/builds/999", nil, nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %v", status, body)
	}
	envelope, ok := body["error"].(map[string]any)
	if !ok || envelope["code"] != "not_found" {
		t.Fatalf("wrong envelope: %v", body)
	}
}

func TestAuthEnforcement(t *testing.T) {
	secret := "test-secret"
	ts := newTestServer(t, server.AuthConfig{Enabled: true, JWTSecret: secret})

	// health is always open
	status, _ := doJSON(t, http.MethodGet, ts.URL+"/v1/health", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("health should be open: %d", status)
	}

	status, body := doJSON(t, http.MethodGet, ts.URL+"/v1/events", nil, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d %v", status, body)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "tester",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	authz := map[string]string{"Authorization": "Bearer " + token}

	status, _ = doJSON(t, http.MethodGet, ts.URL+"/v1/events", nil, authz)
	if status != http.StatusOK {
		t.Fatalf("expected 200 with valid JWT, got %d", status)
	}

	// mint an api key with the JWT, then use the key
	status, created := doJSON(t, http.MethodPost, ts.URL+"/v1/apikeys", map[string]any{"name": "ci"}, authz)
	if status != http.StatusCreated {
		t.Fatalf("create apikey: %d %v", status, created)
	}
	key, _ := created["key"].(string)
	if key == "" {
		t.Fatalf("key not returned on creation: %v", created)
	}
	status, _ = doJSON(t, http.MethodGet, ts.URL+"/v1/events", nil, map[string]string{"X-Api-Key": key})
	if status != http.StatusOK {
		t.Fatalf("expected 200 with api key, got %d", status)
	}
	status, _ = doJSON(t, http.MethodGet, ts.URL+"/v1/events", nil, map[string]string{"X-Api-Key": "flk_bogus"})
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad api key, got %d", status)
	}
}
