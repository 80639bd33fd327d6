package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

type recordedRequest struct {
	method string
	path   string
	query  string
	auth   string
	body   string
}

func newRecordingServer(t *testing.T, status int, responseBody string) (*httptest.Server, *recordedRequest) {
	t.Helper()
	recorded := &recordedRequest{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		recorded.method = r.Method
		recorded.path = r.URL.Path
		recorded.query = r.URL.RawQuery
		recorded.auth = r.Header.Get("Authorization")
		recorded.body = string(body)
		w.WriteHeader(status)
		w.Write([]byte(responseBody)) //nolint:errcheck
	}))
	t.Cleanup(server.Close)
	return server, recorded
}

func TestNewHTTPClientRequiresBaseURL(t *testing.T) {
	if _, err := NewHTTPClient(HTTPClientConfig{}); err == nil {
		t.Fatal("expected error for missing base url")
	}
}

func TestGetEncodesParamsAndDecodesResponse(t *testing.T) {
	server, recorded := newRecordingServer(t, http.StatusOK, `{"messages":[{"id":"201"}]}`)
	client, err := NewHTTPClient(HTTPClientConfig{BaseURL: server.URL + "/", BearerToken: "tok-1"})
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}

	var out struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	params := url.Values{}
	params.Set("before", "205")
	params.Set("limit", "25")
	if err := client.Get(context.Background(), "/guest-chat/conversations/40/messages", params, &out); err != nil {
		t.Fatalf("Get: %v", err)
	}

	if recorded.method != http.MethodGet {
		t.Errorf("method = %s, want GET", recorded.method)
	}
	if recorded.path != "/guest-chat/conversations/40/messages" {
		t.Errorf("path = %s", recorded.path)
	}
	if !strings.Contains(recorded.query, "before=205") || !strings.Contains(recorded.query, "limit=25") {
		t.Errorf("query = %s, want before=205 and limit=25", recorded.query)
	}
	if recorded.auth != "Bearer tok-1" {
		t.Errorf("authorization = %q, want Bearer tok-1", recorded.auth)
	}
	if len(out.Messages) != 1 || out.Messages[0].ID != "201" {
		t.Errorf("decoded messages = %+v", out.Messages)
	}
}

func TestPostSendsJSONBody(t *testing.T) {
	server, recorded := newRecordingServer(t, http.StatusCreated, `{"id":"201"}`)
	client, err := NewHTTPClient(HTTPClientConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}

	body := map[string]string{"body": "towels please", "client_message_id": "c1"}
	if err := client.Post(context.Background(), "/guest-chat/conversations/40/messages", body, nil); err != nil {
		t.Fatalf("Post: %v", err)
	}

	var sent map[string]string
	if err := json.Unmarshal([]byte(recorded.body), &sent); err != nil {
		t.Fatalf("request body is not JSON: %v", err)
	}
	if sent["client_message_id"] != "c1" {
		t.Errorf("client_message_id = %q, want c1", sent["client_message_id"])
	}
	if recorded.auth != "" {
		t.Errorf("authorization = %q, want empty without token", recorded.auth)
	}
}

func TestPatchUsesPatchMethod(t *testing.T) {
	server, recorded := newRecordingServer(t, http.StatusOK, `{}`)
	client, err := NewHTTPClient(HTTPClientConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}

	if err := client.Patch(context.Background(), "/room-service/orders/55", map[string]string{"status": "preparing"}, nil); err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if recorded.method != http.MethodPatch {
		t.Errorf("method = %s, want PATCH", recorded.method)
	}
}

func TestNon2xxStatusIsAnError(t *testing.T) {
	server, _ := newRecordingServer(t, http.StatusBadGateway, `upstream down`)
	client, err := NewHTTPClient(HTTPClientConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}

	err = client.Get(context.Background(), "/attendance/staff", nil, nil)
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
	if !strings.Contains(err.Error(), "status 502") {
		t.Errorf("error = %v, want status 502 mention", err)
	}
}

func TestCancelledContextAbortsRequest(t *testing.T) {
	server, _ := newRecordingServer(t, http.StatusOK, `{}`)
	client, err := NewHTTPClient(HTTPClientConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.Get(ctx, "/bookings", nil, nil); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
