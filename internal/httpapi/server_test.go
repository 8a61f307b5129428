package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/relaykit/mediacast/internal/mediacast"
)

type fakeStaging struct {
	files   []string
	listErr error
	cleared int
}

func (f *fakeStaging) StagedFiles() ([]string, error) { return f.files, f.listErr }
func (f *fakeStaging) Clear()                         { f.cleared++ }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, cfg ServerConfig) (*Server, *fakeStaging, *mediacast.EventBus) {
	t.Helper()
	staging := &fakeStaging{}
	events := mediacast.NewEventBus()
	server, err := NewServer(ServerOptions{
		Staging:    staging,
		Recipients: mediacast.NewInMemoryIdentifierStore(1, 2),
		Blocklist:  mediacast.NewInMemoryIdentifierStore(-100),
		Events:     events,
		Config:     cfg,
		Logger:     discardLogger(),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return server, staging, events
}

func doRequest(t *testing.T, server *Server, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not json: %v: %s", err, rec.Body.String())
	}
	return body
}

func TestHealthSkipsAuth(t *testing.T) {
	server, _, _ := newTestServer(t, ServerConfig{AuthToken: "secret"})
	rec := doRequest(t, server, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "ok" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestAuthRequired(t *testing.T) {
	server, _, _ := newTestServer(t, ServerConfig{AuthToken: "secret"})

	rec := doRequest(t, server, http.MethodGet, "/v1/staging", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	rec = doRequest(t, server, http.MethodGet, "/v1/staging", "wrong")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["code"] != "unauthorized" {
		t.Fatalf("unexpected error body: %v", body)
	}
	rec = doRequest(t, server, http.MethodGet, "/v1/staging", "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with the right token, got %d", rec.Code)
	}
}

func TestEmptyTokenDisablesAuth(t *testing.T) {
	server, _, _ := newTestServer(t, ServerConfig{})
	rec := doRequest(t, server, http.MethodGet, "/v1/staging", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected open access with no token configured, got %d", rec.Code)
	}
}

func TestStagingList(t *testing.T) {
	server, staging, _ := newTestServer(t, ServerConfig{})
	staging.files = []string{"42-7-video.mp4", "42-8.jpg"}

	rec := doRequest(t, server, http.MethodGet, "/v1/staging", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["count"] != float64(2) {
		t.Fatalf("expected count 2, got %v", body["count"])
	}
	files, ok := body["files"].([]any)
	if !ok || len(files) != 2 || files[0] != "42-7-video.mp4" {
		t.Fatalf("unexpected files payload: %v", body["files"])
	}
}

func TestStagingListFailure(t *testing.T) {
	server, staging, _ := newTestServer(t, ServerConfig{})
	staging.listErr = errors.New("disk gone")

	rec := doRequest(t, server, http.MethodGet, "/v1/staging", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestStagingClear(t *testing.T) {
	server, staging, _ := newTestServer(t, ServerConfig{})

	rec := doRequest(t, server, http.MethodDelete, "/v1/staging", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if staging.cleared != 1 {
		t.Fatalf("expected one clear, got %d", staging.cleared)
	}
}

func TestRegistryEndpoints(t *testing.T) {
	server, _, _ := newTestServer(t, ServerConfig{})

	rec := doRequest(t, server, http.MethodGet, "/v1/registry/recipients", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["count"] != float64(2) {
		t.Fatalf("expected 2 recipients, got %v", body)
	}

	rec = doRequest(t, server, http.MethodGet, "/v1/registry/blocklist", "")
	body := decodeBody(t, rec)
	ids, ok := body["ids"].([]any)
	if !ok || len(ids) != 1 || ids[0] != float64(-100) {
		t.Fatalf("unexpected blocklist payload: %v", body)
	}
}

func TestUnknownRoute(t *testing.T) {
	server, _, _ := newTestServer(t, ServerConfig{})
	rec := doRequest(t, server, http.MethodGet, "/v1/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec = doRequest(t, server, http.MethodPost, "/v1/staging", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unsupported method, got %d", rec.Code)
	}
}

func TestRateLimiting(t *testing.T) {
	server, _, _ := newTestServer(t, ServerConfig{RateLimitMax: 2, RateLimitWindow: time.Hour})

	for i := 0; i < 2; i++ {
		if rec := doRequest(t, server, http.MethodGet, "/v1/staging", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
	rec := doRequest(t, server, http.MethodGet, "/v1/staging", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 over the limit, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["code"] != "rate_limited" {
		t.Fatalf("unexpected error body: %v", body)
	}
}

func TestEventFeedStreamsDeliveries(t *testing.T) {
	server, _, events := newTestServer(t, ServerConfig{})
	ts := httptest.NewServer(server)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// The subscription registers inside the handler goroutine; republish until
	// a frame comes back.
	deadline := time.Now().Add(5 * time.Second)
	var got mediacast.DeliveryEvent
	for {
		events.Publish(mediacast.DeliveryEvent{Type: mediacast.EventDelivered, File: "42-7.jpg", ChatID: 5})
		readCtx, readCancel := context.WithTimeout(ctx, 200*time.Millisecond)
		err = wsjson.Read(readCtx, conn, &got)
		readCancel()
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("never received an event: %v", err)
		}
	}
	if got.Type != mediacast.EventDelivered || got.File != "42-7.jpg" || got.ChatID != 5 {
		t.Fatalf("unexpected event: %+v", got)
	}
}
