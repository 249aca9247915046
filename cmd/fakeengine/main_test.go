package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestEngine(t *testing.T) *engine {
	t.Helper()
	return &engine{
		outputDir: t.TempDir(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestPromptRejectMarker(t *testing.T) {
	e := newTestEngine(t)
	body := `{"prompt":{"6":{"class_type":"CLIPTextEncode","inputs":{"text":"cat [reject]"}}},"client_id":"c"}`

	rec := httptest.NewRecorder()
	e.handlePrompt(rec, httptest.NewRequest(http.MethodPost, "/prompt", strings.NewReader(body)))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "prompt_outputs_failed_validation") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestPromptEmpty(t *testing.T) {
	e := newTestEngine(t)

	rec := httptest.NewRecorder()
	e.handlePrompt(rec, httptest.NewRequest(http.MethodPost, "/prompt", strings.NewReader(`{"prompt":{}}`)))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestQueueCounts(t *testing.T) {
	e := newTestEngine(t)
	e.pending, e.running = 2, 1

	rec := httptest.NewRecorder()
	e.handleQueue(rec, httptest.NewRequest(http.MethodGet, "/api/queue", nil))

	var got struct {
		Running []json.RawMessage `json:"queue_running"`
		Pending []json.RawMessage `json:"queue_pending"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Running) != 1 || len(got.Pending) != 2 {
		t.Errorf("running=%d pending=%d, want 1/2", len(got.Running), len(got.Pending))
	}
}

func TestGraphText(t *testing.T) {
	graph := map[string]json.RawMessage{
		"6":  json.RawMessage(`{"inputs":{"text":"a [fail] b"}}`),
		"17": json.RawMessage(`{"inputs":{"steps":4}}`),
	}
	if !strings.Contains(graphText(graph), markerFail) {
		t.Error("marker not found in graph text")
	}
}
