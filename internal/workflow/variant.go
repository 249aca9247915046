package workflow

import (
	"github.com/seantiz/fluxd/internal/model"
)

// Bounds shared by every variant.
const (
	MinBatchSize = 1
	MaxBatchSize = 20

	MinDimension = 16
	MaxDimension = 8192
)

// Coordinate addresses one input of one node in a graph.
type Coordinate struct {
	Node  string `json:"node"`
	Input string `json:"input"`
}

// Variant is an immutable record describing one generation pipeline: which
// template it uses, where each parameter lives in that template, and its
// defaults and bounds.
type Variant struct {
	Name         string
	TemplateFile string

	Prompt    Coordinate
	Width     []Coordinate
	Height    []Coordinate
	BatchSize Coordinate
	Seed      Coordinate
	Steps     Coordinate

	DefaultWidth  int
	DefaultHeight int
	DefaultSteps  int
	MinSteps      int
	MaxSteps      int

	// RequiredModels names the catalog assets the template loads.
	RequiredModels []string
}

// coordinates returns every coordinate the projector writes.
func (v Variant) coordinates() []Coordinate {
	coords := []Coordinate{v.Prompt, v.BatchSize, v.Seed, v.Steps}
	coords = append(coords, v.Width...)
	coords = append(coords, v.Height...)
	return coords
}

// Schnell is the fast distilled pipeline (variant A).
var Schnell = Variant{
	Name:          model.VariantSchnell,
	TemplateFile:  "flux_schnell.json",
	Prompt:        Coordinate{Node: "6", Input: "text"},
	Width:         []Coordinate{{Node: "5", Input: "width"}},
	Height:        []Coordinate{{Node: "5", Input: "height"}},
	BatchSize:     Coordinate{Node: "5", Input: "batch_size"},
	Seed:          Coordinate{Node: "25", Input: "noise_seed"},
	Steps:         Coordinate{Node: "17", Input: "steps"},
	DefaultWidth:  1920,
	DefaultHeight: 1080,
	DefaultSteps:  4,
	MinSteps:      1,
	MaxSteps:      30,
	RequiredModels: []string{
		"flux1-schnell.safetensors",
		"t5xxl_fp8_e4m3fn.safetensors",
		"clip_l.safetensors",
		"ae.safetensors",
	},
}

// Dev is the full guidance-distilled pipeline (variant B). Its sizing is
// written to both the latent node and the model sampling node.
var Dev = Variant{
	Name:         model.VariantDev,
	TemplateFile: "flux_dev.json",
	Prompt:       Coordinate{Node: "6", Input: "text"},
	Width: []Coordinate{
		{Node: "27", Input: "width"},
		{Node: "30", Input: "width"},
	},
	Height: []Coordinate{
		{Node: "27", Input: "height"},
		{Node: "30", Input: "height"},
	},
	BatchSize:     Coordinate{Node: "27", Input: "batch_size"},
	Seed:          Coordinate{Node: "25", Input: "noise_seed"},
	Steps:         Coordinate{Node: "17", Input: "steps"},
	DefaultWidth:  1920,
	DefaultHeight: 1080,
	DefaultSteps:  20,
	MinSteps:      1,
	MaxSteps:      30,
	RequiredModels: []string{
		"flux1-dev.safetensors",
		"t5xxl_fp16.safetensors",
		"clip_l.safetensors",
		"ae.safetensors",
	},
}
