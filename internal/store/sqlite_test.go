package store

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/seantiz/fluxd/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeTestGeneration() *model.Generation {
	return &model.Generation{
		ID:        model.NewID(),
		Variant:   model.VariantSchnell,
		Prompt:    "a lighthouse at dusk",
		Width:     512,
		Height:    512,
		BatchSize: 1,
		Seed:      math.MaxUint64,
		Steps:     4,
		Status:    model.StatusPending,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestCreateAndGetGeneration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	g := makeTestGeneration()

	if err := s.CreateGeneration(ctx, g); err != nil {
		t.Fatalf("CreateGeneration: %v", err)
	}

	got, err := s.GetGeneration(ctx, g.ID)
	if err != nil {
		t.Fatalf("GetGeneration: %v", err)
	}

	if got.ID != g.ID {
		t.Errorf("ID = %q, want %q", got.ID, g.ID)
	}
	if got.Variant != g.Variant {
		t.Errorf("Variant = %q, want %q", got.Variant, g.Variant)
	}
	if got.Prompt != g.Prompt {
		t.Errorf("Prompt = %q, want %q", got.Prompt, g.Prompt)
	}
	if got.Seed != g.Seed {
		t.Errorf("Seed = %d, want %d", got.Seed, g.Seed)
	}
	if got.Width != 512 || got.Height != 512 || got.BatchSize != 1 || got.Steps != 4 {
		t.Errorf("params = %dx%d batch %d steps %d", got.Width, got.Height, got.BatchSize, got.Steps)
	}
	if got.Status != model.StatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	if got.FinishedAt != nil {
		t.Errorf("FinishedAt = %v, want nil", got.FinishedAt)
	}
	if got.DurationMS != nil {
		t.Errorf("DurationMS = %v, want nil", *got.DurationMS)
	}
}

func TestGetGenerationNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetGeneration(context.Background(), "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetGeneration error = %v, want ErrNotFound", err)
	}
}

func TestListGenerationsPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		g := makeTestGeneration()
		g.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second).Truncate(time.Second)
		if err := s.CreateGeneration(ctx, g); err != nil {
			t.Fatalf("CreateGeneration[%d]: %v", i, err)
		}
	}

	page1, total, err := s.ListGenerations(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListGenerations: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(page1) != 2 {
		t.Errorf("len(page1) = %d, want 2", len(page1))
	}

	page3, _, err := s.ListGenerations(ctx, 2, 4)
	if err != nil {
		t.Fatalf("ListGenerations page 3: %v", err)
	}
	if len(page3) != 1 {
		t.Errorf("len(page3) = %d, want 1", len(page3))
	}
}

func TestListGenerationsOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		g := makeTestGeneration()
		g.CreatedAt = time.Date(2026, 1, 1+i, 0, 0, 0, 0, time.UTC)
		if err := s.CreateGeneration(ctx, g); err != nil {
			t.Fatalf("CreateGeneration[%d]: %v", i, err)
		}
	}

	gens, _, err := s.ListGenerations(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListGenerations: %v", err)
	}

	// Newest first.
	for i := 1; i < len(gens); i++ {
		if gens[i].CreatedAt.After(gens[i-1].CreatedAt) {
			t.Errorf("generations not in DESC order at %d", i)
		}
	}
}

func TestListGenerationsEmpty(t *testing.T) {
	s := newTestStore(t)

	gens, total, err := s.ListGenerations(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("ListGenerations: %v", err)
	}
	if total != 0 {
		t.Errorf("total = %d, want 0", total)
	}
	if gens != nil {
		t.Errorf("generations = %v, want nil", gens)
	}
}

func TestFinishGeneration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	g := makeTestGeneration()
	if err := s.CreateGeneration(ctx, g); err != nil {
		t.Fatalf("CreateGeneration: %v", err)
	}

	err := s.FinishGeneration(ctx, g.ID, Outcome{
		Status:     model.StatusRejectedAsync,
		PromptID:   "p-42",
		Error:      "Error: model not found",
		DurationMS: 2000,
	})
	if err != nil {
		t.Fatalf("FinishGeneration: %v", err)
	}

	got, err := s.GetGeneration(ctx, g.ID)
	if err != nil {
		t.Fatalf("GetGeneration: %v", err)
	}
	if got.Status != model.StatusRejectedAsync {
		t.Errorf("Status = %q, want rejected_async", got.Status)
	}
	if got.PromptID != "p-42" {
		t.Errorf("PromptID = %q", got.PromptID)
	}
	if got.Error != "Error: model not found" {
		t.Errorf("Error = %q", got.Error)
	}
	if got.DurationMS == nil || *got.DurationMS != 2000 {
		t.Errorf("DurationMS = %v, want 2000", got.DurationMS)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt not set")
	}
}

func TestFinishGenerationNotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.FinishGeneration(context.Background(), "nonexistent", Outcome{Status: model.StatusAccepted})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("FinishGeneration error = %v, want ErrNotFound", err)
	}
}

func TestFinishGenerationTerminalCannotTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	g := makeTestGeneration()
	if err := s.CreateGeneration(ctx, g); err != nil {
		t.Fatalf("CreateGeneration: %v", err)
	}
	if err := s.FinishGeneration(ctx, g.ID, Outcome{Status: model.StatusAccepted}); err != nil {
		t.Fatalf("FinishGeneration: %v", err)
	}

	err := s.FinishGeneration(ctx, g.ID, Outcome{Status: model.StatusRejectedAsync, Error: "late"})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second FinishGeneration error = %v, want ErrInvalidTransition", err)
	}

	got, _ := s.GetGeneration(ctx, g.ID)
	if got.Status != model.StatusAccepted {
		t.Errorf("Status = %q, want accepted", got.Status)
	}
}

func TestGetGenerationStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	outcomes := []Outcome{
		{Status: model.StatusAccepted, DurationMS: 100},
		{Status: model.StatusAccepted, DurationMS: 200},
		{Status: model.StatusRejectedSync, DurationMS: 0},
	}
	for _, out := range outcomes {
		g := makeTestGeneration()
		if err := s.CreateGeneration(ctx, g); err != nil {
			t.Fatalf("CreateGeneration: %v", err)
		}
		if err := s.FinishGeneration(ctx, g.ID, out); err != nil {
			t.Fatalf("FinishGeneration: %v", err)
		}
	}

	dev := makeTestGeneration()
	dev.Variant = model.VariantDev
	if err := s.CreateGeneration(ctx, dev); err != nil {
		t.Fatalf("CreateGeneration (dev): %v", err)
	}

	stats, err := s.GetGenerationStats(ctx)
	if err != nil {
		t.Fatalf("GetGenerationStats: %v", err)
	}

	if stats.Total != 4 {
		t.Errorf("Total = %d, want 4", stats.Total)
	}
	if stats.CountByStatus[model.StatusAccepted] != 2 {
		t.Errorf("accepted count = %d, want 2", stats.CountByStatus[model.StatusAccepted])
	}
	if stats.CountByStatus[model.StatusRejectedSync] != 1 {
		t.Errorf("rejected_sync count = %d, want 1", stats.CountByStatus[model.StatusRejectedSync])
	}
	if stats.CountByStatus[model.StatusPending] != 1 {
		t.Errorf("pending count = %d, want 1", stats.CountByStatus[model.StatusPending])
	}
	if stats.CountByVariant[model.VariantSchnell] != 3 {
		t.Errorf("schnell count = %d, want 3", stats.CountByVariant[model.VariantSchnell])
	}
	if stats.CountByVariant[model.VariantDev] != 1 {
		t.Errorf("dev count = %d, want 1", stats.CountByVariant[model.VariantDev])
	}
	if stats.AvgDurationMS != 100 {
		t.Errorf("AvgDurationMS = %f, want 100", stats.AvgDurationMS)
	}
}

func TestGetGenerationStatsEmpty(t *testing.T) {
	s := newTestStore(t)

	stats, err := s.GetGenerationStats(context.Background())
	if err != nil {
		t.Fatalf("GetGenerationStats: %v", err)
	}
	if stats.Total != 0 {
		t.Errorf("Total = %d, want 0", stats.Total)
	}
	if stats.AvgDurationMS != 0 {
		t.Errorf("AvgDurationMS = %f, want 0", stats.AvgDurationMS)
	}
}

func TestMigrationIdempotency(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fluxd.db")

	s1, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	g := makeTestGeneration()
	if err := s1.CreateGeneration(context.Background(), g); err != nil {
		t.Fatalf("CreateGeneration: %v", err)
	}
	s1.Close()

	s2, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s2.Close()

	if _, err := s2.GetGeneration(context.Background(), g.ID); err != nil {
		t.Errorf("GetGeneration after reopen: %v", err)
	}
}
