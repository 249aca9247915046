// Package generation runs one request end to end: validate, project,
// record, dispatch, record the outcome.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seantiz/fluxd/internal/dispatch"
	"github.com/seantiz/fluxd/internal/model"
	"github.com/seantiz/fluxd/internal/store"
	"github.com/seantiz/fluxd/internal/workflow"
)

// MaxBulkSize caps the number of requests in one bulk submission.
const MaxBulkSize = 100

// ErrEmptyBulk is returned for a bulk submission with no requests.
var ErrEmptyBulk = errors.New("bulk submission has no requests")

// ItemError attributes a bulk failure to the request at Index.
type ItemError struct {
	Index int
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("request %d: %v", e.Index, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// Dispatcher submits a projected graph and reports its outcome.
type Dispatcher interface {
	Submit(ctx context.Context, variant string, graph workflow.Graph) (dispatch.Outcome, error)
}

// Service ties the variant registry, projector, dispatcher and history
// store together.
type Service struct {
	variants   *workflow.Registry
	projector  *workflow.Projector
	dispatcher Dispatcher
	store      store.Store
	logger     *slog.Logger
}

// NewService creates a generation service.
func NewService(variants *workflow.Registry, projector *workflow.Projector, d Dispatcher, s store.Store, logger *slog.Logger) *Service {
	return &Service{
		variants:   variants,
		projector:  projector,
		dispatcher: d,
		store:      s,
		logger:     logger,
	}
}

// Generate projects req onto the named variant and submits it. The returned
// generation is always non-nil once it has been recorded; a rejection is
// reported as a *dispatch.RejectedError alongside it. Validation failures
// return before anything is recorded or submitted.
func (s *Service) Generate(ctx context.Context, variant string, req workflow.Request) (*model.Generation, error) {
	v, err := s.variants.Resolve(variant)
	if err != nil {
		return nil, err
	}
	return s.generate(ctx, v, req)
}

// GenerateBulk validates every request before submitting any, then submits
// them in order and stops at the first rejection. Errors are wrapped in an
// *ItemError naming the failing request. The generations submitted so far
// are returned either way.
func (s *Service) GenerateBulk(ctx context.Context, variant string, reqs []workflow.Request) ([]*model.Generation, error) {
	v, err := s.variants.Resolve(variant)
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, ErrEmptyBulk
	}
	if len(reqs) > MaxBulkSize {
		return nil, &workflow.ValidationError{Field: "requests", Min: 1, Max: MaxBulkSize}
	}

	for i, req := range reqs {
		if err := workflow.Validate(v, req); err != nil {
			return nil, &ItemError{Index: i, Err: err}
		}
	}

	gens := make([]*model.Generation, 0, len(reqs))
	for i, req := range reqs {
		g, err := s.generate(ctx, v, req)
		if g != nil {
			gens = append(gens, g)
		}
		if err != nil {
			s.logger.Warn("bulk submission stopped", "variant", v.Name, "index", i, "total", len(reqs), "error", err)
			return gens, &ItemError{Index: i, Err: err}
		}
	}
	return gens, nil
}

func (s *Service) generate(ctx context.Context, v workflow.Variant, req workflow.Request) (*model.Generation, error) {
	graph, params, err := s.projector.Project(v, req)
	if err != nil {
		return nil, err
	}

	g := &model.Generation{
		ID:        model.NewID(),
		Variant:   v.Name,
		Prompt:    params.Prompt,
		Width:     params.Width,
		Height:    params.Height,
		BatchSize: params.BatchSize,
		Seed:      params.Seed,
		Steps:     params.Steps,
		Status:    model.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateGeneration(ctx, g); err != nil {
		return nil, fmt.Errorf("record generation: %w", err)
	}

	start := time.Now()
	out, err := s.dispatcher.Submit(ctx, v.Name, graph)
	elapsed := int(time.Since(start).Milliseconds())
	if err != nil {
		// The caller went away mid-submission; the outcome is unknown.
		s.finish(context.WithoutCancel(ctx), g, store.Outcome{
			Status:     model.StatusCancelled,
			Error:      err.Error(),
			DurationMS: elapsed,
		})
		return g, fmt.Errorf("submit generation: %w", err)
	}

	s.finish(ctx, g, store.Outcome{
		Status:     string(out.Kind),
		PromptID:   out.PromptID,
		Error:      out.Reason,
		DurationMS: elapsed,
	})

	s.logger.Info("generation finished",
		"generation_id", g.ID,
		"variant", v.Name,
		"status", g.Status,
		"seed", g.Seed,
		"duration_ms", elapsed,
	)
	return g, out.Err()
}

// finish records out on both the store and g. A store failure is logged
// only; the engine outcome still reaches the caller.
func (s *Service) finish(ctx context.Context, g *model.Generation, out store.Outcome) {
	if err := s.store.FinishGeneration(ctx, g.ID, out); err != nil {
		s.logger.Error("record generation outcome", "generation_id", g.ID, "error", err)
	}
	now := time.Now().UTC()
	d := out.DurationMS
	g.Status = out.Status
	g.PromptID = out.PromptID
	g.Error = out.Error
	g.DurationMS = &d
	g.FinishedAt = &now
}
