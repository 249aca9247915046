package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SeedAuto is the sentinel that asks for a freshly drawn seed.
const SeedAuto = "auto"

// Seed is an optional 64-bit noise seed. In JSON it is a number, a decimal
// string (for clients that cannot represent the full uint64 range), null,
// or "auto". Null and "auto" both leave the seed unset.
type Seed struct {
	Value uint64
	Set   bool
}

// FixedSeed returns a set seed.
func FixedSeed(v uint64) Seed {
	return Seed{Value: v, Set: true}
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Seed) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = Seed{}
		return nil
	}

	raw := string(data)
	if strings.HasPrefix(raw, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		if str == "" || strings.EqualFold(str, SeedAuto) {
			*s = Seed{}
			return nil
		}
		raw = str
	}

	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("seed: %q is not an unsigned 64-bit integer or %q", raw, SeedAuto)
	}
	*s = FixedSeed(v)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (s Seed) MarshalJSON() ([]byte, error) {
	if !s.Set {
		return []byte(strconv.Quote(SeedAuto)), nil
	}
	return []byte(strconv.FormatUint(s.Value, 10)), nil
}

// Request carries the per-request generation parameters. Nil fields take
// the variant's defaults.
type Request struct {
	Prompt    string `json:"prompt"`
	Width     *int   `json:"width,omitempty"`
	Height    *int   `json:"height,omitempty"`
	BatchSize *int   `json:"batch_size,omitempty"`
	Seed      Seed   `json:"seed"`
	Steps     *int   `json:"steps,omitempty"`
}

// Params are the fully resolved values written into a graph.
type Params struct {
	Prompt    string
	Width     int
	Height    int
	BatchSize int
	Seed      uint64
	Steps     int
}

// Validate checks r against v's bounds without touching any template.
func Validate(v Variant, r Request) error {
	if strings.TrimSpace(r.Prompt) == "" {
		return &ValidationError{Field: "prompt", Reason: "is required"}
	}
	if r.BatchSize != nil && (*r.BatchSize < MinBatchSize || *r.BatchSize > MaxBatchSize) {
		return &ValidationError{Field: "batch_size", Min: MinBatchSize, Max: MaxBatchSize}
	}
	if r.Steps != nil && (*r.Steps < v.MinSteps || *r.Steps > v.MaxSteps) {
		return &ValidationError{Field: "steps", Min: v.MinSteps, Max: v.MaxSteps}
	}
	if r.Width != nil && (*r.Width < MinDimension || *r.Width > MaxDimension) {
		return &ValidationError{Field: "width", Min: MinDimension, Max: MaxDimension}
	}
	if r.Height != nil && (*r.Height < MinDimension || *r.Height > MaxDimension) {
		return &ValidationError{Field: "height", Min: MinDimension, Max: MaxDimension}
	}
	return nil
}
