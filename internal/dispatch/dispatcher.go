// Package dispatch submits projected graphs to the engine and folds the
// engine's delayed log-stream errors back into a synchronous outcome.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seantiz/fluxd/internal/engine"
	"github.com/seantiz/fluxd/internal/engineapi"
	"github.com/seantiz/fluxd/internal/workflow"
)

// DefaultWindow is how long an accepted submission waits for an error line.
const DefaultWindow = 2 * time.Second

// Kind classifies a submission outcome.
type Kind string

// Outcome kinds.
const (
	Accepted      Kind = "accepted"
	RejectedSync  Kind = "rejected_sync"
	RejectedAsync Kind = "rejected_async"
)

// Outcome is the result of one submission.
type Outcome struct {
	Kind     Kind
	Reason   string
	PromptID string
	Waited   time.Duration
}

// Err returns a *RejectedError for rejected outcomes and nil otherwise.
func (o Outcome) Err() error {
	if o.Kind == Accepted {
		return nil
	}
	return &RejectedError{Kind: o.Kind, Reason: o.Reason}
}

// RejectedError carries the engine's text for a rejected submission.
type RejectedError struct {
	Kind   Kind
	Reason string
}

func (e *RejectedError) Error() string {
	return e.Reason
}

// Submitter posts a graph to the engine.
type Submitter interface {
	Submit(ctx context.Context, graph any) (*engineapi.SubmitResponse, error)
}

// ErrorSource is the consumer side of the engine error queue.
type ErrorSource interface {
	Drain() int
	Next(ctx context.Context) (engine.ErrorSignal, error)
}

// Options configures a Dispatcher.
type Options struct {
	// Window bounds the wait for an asynchronous error after the engine
	// accepts a submission.
	Window time.Duration

	// Serialize admits one submission at a time, from drain through the end
	// of its window, so an error line is only ever attributed to the
	// submission that caused it. When false, concurrent submissions share
	// the error queue and attribution is best-effort.
	Serialize bool
}

// Dispatcher submits graphs and correlates engine errors.
type Dispatcher struct {
	submitter Submitter
	errors    ErrorSource
	window    time.Duration
	sem       chan struct{}
	logger    *slog.Logger
}

// New creates a dispatcher.
func New(submitter Submitter, errs ErrorSource, opts Options, logger *slog.Logger) *Dispatcher {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	d := &Dispatcher{
		submitter: submitter,
		errors:    errs,
		window:    opts.Window,
		logger:    logger,
	}
	if opts.Serialize {
		d.sem = make(chan struct{}, 1)
	}
	return d
}

// Window returns the correlation window.
func (d *Dispatcher) Window() time.Duration {
	return d.window
}

// Submit sends graph to the engine. A failed or non-2xx submission returns
// RejectedSync without waiting. Otherwise the first error line seen within
// the window yields RejectedAsync, and silence yields Accepted. The returned
// error is non-nil only when ctx ends before an outcome is known.
func (d *Dispatcher) Submit(ctx context.Context, variant string, graph workflow.Graph) (Outcome, error) {
	if d.sem != nil {
		select {
		case d.sem <- struct{}{}:
			defer func() { <-d.sem }()
		case <-ctx.Done():
			return Outcome{}, fmt.Errorf("wait for submission slot: %w", ctx.Err())
		}
	}

	if n := d.errors.Drain(); n > 0 {
		d.logger.Debug("discarded stale engine errors", "count", n)
	}

	resp, err := d.submitter.Submit(ctx, graph)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{}, ctxErr
		}
		out := Outcome{Kind: RejectedSync, Reason: syncReason(err)}
		d.record(variant, out)
		d.logger.Warn("engine rejected submission", "variant", variant, "reason", out.Reason)
		return out, nil
	}

	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, d.window)
	defer cancel()

	sig, err := d.errors.Next(waitCtx)
	waited := time.Since(start)
	dispatchWait.Observe(waited.Seconds())

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{}, ctxErr
		}
		out := Outcome{Kind: Accepted, PromptID: resp.PromptID, Waited: waited}
		d.record(variant, out)
		d.logger.Info("submission accepted", "variant", variant, "prompt_id", resp.PromptID)
		return out, nil
	}

	out := Outcome{Kind: RejectedAsync, Reason: sig.Line, PromptID: resp.PromptID, Waited: waited}
	d.record(variant, out)
	d.logger.Warn("engine reported error after accepting submission",
		"variant", variant,
		"prompt_id", resp.PromptID,
		"reason", sig.Line,
	)
	return out, nil
}

func (d *Dispatcher) record(variant string, out Outcome) {
	dispatchOutcomes.WithLabelValues(variant, string(out.Kind)).Inc()
}

// syncReason prefers the engine's response body over the wrapped error.
func syncReason(err error) string {
	var se *engineapi.StatusError
	if errors.As(err, &se) && se.Body != "" {
		return se.Body
	}
	return err.Error()
}
