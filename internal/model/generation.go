package model

import "time"

// Generation status constants.
const (
	StatusPending       = "pending"
	StatusAccepted      = "accepted"
	StatusRejectedSync  = "rejected_sync"
	StatusRejectedAsync = "rejected_async"
	StatusCancelled     = "cancelled" // caller left before the engine's verdict
)

// Variant name constants.
const (
	VariantSchnell = "schnell"
	VariantDev     = "dev"
)

// Asset installation states.
const (
	AssetNotInstalled = "not-installed"
	AssetInstalling   = "installing"
	AssetInstalled    = "installed"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusAccepted:      true,
		StatusRejectedSync:  true,
		StatusRejectedAsync: true,
		StatusCancelled:     true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether status is a final generation outcome.
func IsTerminal(status string) bool {
	switch status {
	case StatusAccepted, StatusRejectedSync, StatusRejectedAsync, StatusCancelled:
		return true
	}
	return false
}

// Generation records one submission of a projected graph to the engine.
type Generation struct {
	ID         string     `json:"id"`
	Variant    string     `json:"variant"`
	Prompt     string     `json:"prompt"`
	Width      int        `json:"width"`
	Height     int        `json:"height"`
	BatchSize  int        `json:"batch_size"`
	Seed       uint64     `json:"seed"`
	Steps      int        `json:"steps"`
	Status     string     `json:"status"`
	PromptID   string     `json:"prompt_id,omitempty"`
	Error      string     `json:"error,omitempty"`
	DurationMS *int       `json:"duration_ms,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
