package api

import (
	"bufio"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/fluxd/internal/engine"
)

func TestStreamEngineLogs(t *testing.T) {
	env := newTestEnv(t)

	// The handler subscribes before flushing headers, so lines published
	// after Get returns are delivered.
	resp := env.get(t, "/v1/engine/logs")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	now := time.Now()
	env.broker.Publish(engine.LogLine{Stream: engine.StreamStderr, Line: "got prompt", At: now})
	env.broker.Publish(engine.LogLine{Stream: engine.StreamStderr, Line: "Error: model not found", Error: true, At: now})
	env.broker.Close()

	body := readAll(t, resp.Body)
	want := "data: got prompt\n\n" +
		"event: engine-error\ndata: Error: model not found\n\n" +
		"event: done\ndata: engine exited\n\n"
	if body != want {
		t.Errorf("stream =\n%q\nwant\n%q", body, want)
	}
}

func TestStreamEngineLogsAfterExit(t *testing.T) {
	env := newTestEnv(t)
	env.broker.Close()

	body := readAll(t, env.get(t, "/v1/engine/logs").Body)
	if !strings.Contains(body, "event: done") {
		t.Errorf("stream = %q, want done event", body)
	}
}

func TestRecentEngineLogs(t *testing.T) {
	env := newTestEnv(t)
	for _, l := range []string{"one", "two", "three"} {
		env.broker.Publish(engine.LogLine{Stream: engine.StreamStdout, Line: l, At: time.Now()})
	}

	got := decode[recentLogsResponse](t, env.get(t, "/v1/engine/logs/recent?limit=2"))
	if len(got.Lines) != 2 || got.Lines[0].Line != "two" || got.Lines[1].Line != "three" {
		t.Errorf("lines = %+v, want two, three", got.Lines)
	}
}

func TestRecentEngineLogsEmpty(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/v1/engine/logs/recent")
	body := readAll(t, resp.Body)
	if !strings.Contains(body, `"lines":[]`) {
		t.Errorf("body = %q, want empty lines array", body)
	}
}

func readAll(t *testing.T, r io.Reader) string {
	t.Helper()
	var sb strings.Builder
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		sb.WriteString(sc.Text())
		sb.WriteString("\n")
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return sb.String()
}
