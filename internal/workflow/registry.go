package workflow

import (
	"fmt"
	"sort"
)

// VariantInfo is the public description of a registered variant.
type VariantInfo struct {
	Name           string   `json:"name"`
	DefaultWidth   int      `json:"default_width"`
	DefaultHeight  int      `json:"default_height"`
	DefaultSteps   int      `json:"default_steps"`
	MinSteps       int      `json:"min_steps"`
	MaxSteps       int      `json:"max_steps"`
	MinBatchSize   int      `json:"min_batch_size"`
	MaxBatchSize   int      `json:"max_batch_size"`
	RequiredModels []string `json:"required_models"`
}

// Registry holds the supported variants by name. It is populated once at
// construction and read-only afterwards.
type Registry struct {
	variants map[string]Variant
}

// NewRegistry creates a registry containing the given variants.
func NewRegistry(variants ...Variant) *Registry {
	r := &Registry{variants: make(map[string]Variant, len(variants))}
	for _, v := range variants {
		r.variants[v.Name] = v
	}
	return r
}

// DefaultRegistry returns a registry with every built-in variant.
func DefaultRegistry() *Registry {
	return NewRegistry(Schnell, Dev)
}

// Resolve returns the variant registered under name.
func (r *Registry) Resolve(name string) (Variant, error) {
	v, ok := r.variants[name]
	if !ok {
		return Variant{}, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
	}
	return v, nil
}

// Variants returns all registered variants sorted by name.
func (r *Registry) Variants() []Variant {
	out := make([]Variant, 0, len(r.variants))
	for _, v := range r.variants {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// List returns information about all registered variants, sorted by name
// for a stable API response.
func (r *Registry) List() []VariantInfo {
	variants := r.Variants()
	infos := make([]VariantInfo, 0, len(variants))
	for _, v := range variants {
		infos = append(infos, VariantInfo{
			Name:           v.Name,
			DefaultWidth:   v.DefaultWidth,
			DefaultHeight:  v.DefaultHeight,
			DefaultSteps:   v.DefaultSteps,
			MinSteps:       v.MinSteps,
			MaxSteps:       v.MaxSteps,
			MinBatchSize:   MinBatchSize,
			MaxBatchSize:   MaxBatchSize,
			RequiredModels: v.RequiredModels,
		})
	}
	return infos
}
