// fakeengine is a stand-in for the ComfyUI engine for manual end-to-end
// runs. It accepts the same launch flags, serves /, /prompt and /api/queue,
// and writes engine-style progress lines to stderr. A prompt containing
// "[fail]" produces an error line instead, and "[reject]" is refused
// synchronously.
//
// Usage: fluxd with engine.entry pointing at the built binary and an empty
// engine.interpreter.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const (
	markerFail   = "[fail]"
	markerReject = "[reject]"
)

type engine struct {
	outputDir string
	stepDelay time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	pending int
	running int
	counter atomic.Int64
}

func main() {
	var (
		listen    string
		port      int
		outputDir string
		stepDelay time.Duration
	)

	cmd := &cobra.Command{
		Use:          "fakeengine",
		Short:        "Stand-in image generation engine",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e := &engine{
				outputDir: outputDir,
				stepDelay: stepDelay,
				logger:    slog.New(slog.NewTextHandler(os.Stdout, nil)),
			}
			return e.run(ctx, net.JoinHostPort(listen, strconv.Itoa(port)))
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1", "Address to listen on")
	cmd.Flags().IntVar(&port, "port", 8188, "Port to listen on")
	cmd.Flags().StringVar(&outputDir, "output-directory", "output", "Directory generated images are written to")
	cmd.Flags().DurationVar(&stepDelay, "step-delay", 200*time.Millisecond, "Simulated time per sampling step")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func (e *engine) run(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintln(w, "<html><body>fakeengine</body></html>")
	})
	mux.HandleFunc("POST /prompt", e.handlePrompt)
	mux.HandleFunc("GET /api/queue", e.handleQueue)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "To see the GUI go to: http://%s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type promptRequest struct {
	Prompt   map[string]json.RawMessage `json:"prompt"`
	ClientID string                     `json:"client_id"`
}

func (e *engine) handlePrompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Prompt) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]string{"type": "no_prompt", "message": "No prompt provided"},
		})
		return
	}

	text := graphText(req.Prompt)
	if strings.Contains(text, markerReject) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":       map[string]string{"type": "prompt_outputs_failed_validation", "message": "Prompt outputs failed validation"},
			"node_errors": map[string]any{},
		})
		return
	}

	id := uuid.NewString()
	number := e.counter.Add(1)
	e.mu.Lock()
	e.pending++
	e.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"prompt_id": id, "number": number, "node_errors": map[string]any{}})
	e.logger.Info("queued prompt", "prompt_id", id, "client_id", req.ClientID)

	go e.execute(id, number, strings.Contains(text, markerFail))
}

func (e *engine) execute(id string, number int64, fail bool) {
	e.mu.Lock()
	e.pending--
	e.running++
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running--
		e.mu.Unlock()
	}()

	fmt.Fprintln(os.Stderr, "got prompt")
	if fail {
		fmt.Fprintln(os.Stderr, "!!! Exception during processing !!! Error while checking model: model not found")
		fmt.Fprintln(os.Stderr, "Traceback (most recent call last):")
		return
	}

	start := time.Now()
	const steps = 4
	for i := 1; i <= steps; i++ {
		time.Sleep(e.stepDelay)
		fmt.Fprintf(os.Stderr, "%3d%%| %d/%d [%s]\n", i*100/steps, i, steps, time.Since(start).Round(10*time.Millisecond))
	}

	if err := e.writeImage(number); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving image: %v\n", err)
		return
	}
	fmt.Fprintf(os.Stderr, "Prompt executed in %.2f seconds\n", time.Since(start).Seconds())
}

// writeImage saves a small solid PNG named like the engine's own output.
func (e *engine) writeImage(number int64) error {
	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		return err
	}
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	shade := uint8(number * 37)
	for y := range 64 {
		for x := range 64 {
			img.Set(x, y, color.RGBA{R: shade, G: uint8(x * 4), B: uint8(y * 4), A: 255})
		}
	}
	f, err := os.Create(filepath.Join(e.outputDir, fmt.Sprintf("ComfyUI_%05d_.png", number)))
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (e *engine) handleQueue(w http.ResponseWriter, _ *http.Request) {
	e.mu.Lock()
	running, pending := e.running, e.pending
	e.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"queue_running": make([][]any, running),
		"queue_pending": make([][]any, pending),
	})
}

// graphText concatenates every string input in the graph.
func graphText(graph map[string]json.RawMessage) string {
	var sb strings.Builder
	for _, raw := range graph {
		var node struct {
			Inputs map[string]any `json:"inputs"`
		}
		if json.Unmarshal(raw, &node) != nil {
			continue
		}
		for _, v := range node.Inputs {
			if s, ok := v.(string); ok {
				sb.WriteString(s)
				sb.WriteByte('\n')
			}
		}
	}
	return sb.String()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
