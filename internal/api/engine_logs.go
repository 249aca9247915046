package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/seantiz/fluxd/internal/engine"
)

const (
	defaultRecentLines = 100
	sseEventEngineErr  = "engine-error"
)

// recentLogsResponse is the JSON response for GET /v1/engine/logs/recent.
type recentLogsResponse struct {
	Lines []engine.LogLine `json:"lines"`
}

// handleStreamEngineLogs streams engine output as server-sent events. Error
// lines are sent as named "engine-error" events. The stream ends with a
// "done" event when the engine exits.
func (s *Server) handleStreamEngineLogs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	// Subscribing after the engine exited returns a closed channel, so the
	// loop below ends at once.
	ch, unsub := s.deps.Logs.Subscribe()
	defer unsub()
	logStreamsActive.Inc()
	defer logStreamsActive.Dec()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case line, ok := <-ch:
			if !ok {
				_ = writeSSEEvent(w, "done", "engine exited")
				if canFlush {
					flusher.Flush()
				}
				return
			}
			var err error
			if line.Error {
				err = writeSSEEvent(w, sseEventEngineErr, line.Line)
			} else {
				err = writeSSEData(w, line.Line)
			}
			if err != nil {
				return // Write failed (e.g. client gone).
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

func (s *Server) handleRecentEngineLogs(w http.ResponseWriter, r *http.Request) {
	n := parseIntQuery(r, "limit", defaultRecentLines)
	lines := s.deps.Logs.Recent(n)
	if lines == nil {
		lines = []engine.LogLine{}
	}
	s.writeJSON(w, http.StatusOK, recentLogsResponse{Lines: lines})
}

// writeSSEData writes a log line as an SSE data event. Multi-line strings are
// split so that each segment gets its own "data:" prefix.
func writeSSEData(w http.ResponseWriter, line string) error {
	for seg := range strings.SplitSeq(line, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	// Blank line terminates the event.
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	return writeSSEData(w, data)
}
