package api

import (
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestHealthzEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	body := decode[healthResponse](t, resp)
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
	if body.Engine != "running" {
		t.Errorf("engine = %q, want running", body.Engine)
	}
}

func TestHealthzEngineStopped(t *testing.T) {
	env := newTestEnv(t)
	env.probe.running.Store(false)

	resp := env.get(t, "/healthz")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	body := decode[healthResponse](t, resp)
	if body.Engine != "stopped" {
		t.Errorf("engine = %q, want stopped", body.Engine)
	}
}

func TestHealthzEngineUnresponsive(t *testing.T) {
	env := newTestEnv(t)
	env.engine.pingFail.Store(true)

	resp := env.get(t, "/healthz")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestQueueStatus(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/v1/queue")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decode[map[string]int](t, resp)
	if body["queue_running"] != 1 || body["queue_pending"] != 0 {
		t.Errorf("queue = %v", body)
	}
}

func TestQueueStatusEngineDown(t *testing.T) {
	env := newTestEnv(t)
	env.engine.srv.Close()

	resp := env.get(t, "/v1/queue")
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	// Make a request to generate metrics.
	env.get(t, "/healthz")

	resp := env.get(t, "/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/plain") && !strings.Contains(contentType, "text/openmetrics") {
		t.Errorf("Content-Type = %q, expected prometheus format", contentType)
	}

	bodyBytes, _ := io.ReadAll(resp.Body)
	body := string(bodyBytes)

	for _, name := range []string{
		"fluxd_http_requests_total",
		"fluxd_http_request_duration_seconds",
		"fluxd_engine_up",
		"fluxd_engine_log_lines_total",
		"fluxd_asset_downloads_total",
		"fluxd_engine_log_streams_active",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
