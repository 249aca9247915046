package workflow

import (
	crand "crypto/rand"
	"fmt"
	"math/rand/v2"
)

// Projector turns a variant and a request into a concrete graph.
type Projector struct {
	store *Store
	seed  func() uint64
}

// NewProjector creates a projector backed by store.
func NewProjector(store *Store) *Projector {
	return &Projector{store: store, seed: RandomSeed}
}

// Project validates r, then writes its parameters into a fresh copy of v's
// template at v's fixed coordinates. An unset seed is replaced by a newly
// drawn one. The stored template is never modified.
func (p *Projector) Project(v Variant, r Request) (Graph, Params, error) {
	if err := Validate(v, r); err != nil {
		return nil, Params{}, err
	}

	t, err := p.store.Load(v)
	if err != nil {
		return nil, Params{}, err
	}

	params := resolve(v, r)
	if !r.Seed.Set {
		params.Seed = p.seed()
	}

	g := t.Instantiate()
	writes := []struct {
		coords []Coordinate
		value  any
	}{
		{[]Coordinate{v.Prompt}, params.Prompt},
		{v.Width, params.Width},
		{v.Height, params.Height},
		{[]Coordinate{v.BatchSize}, params.BatchSize},
		{[]Coordinate{v.Seed}, params.Seed},
		{[]Coordinate{v.Steps}, params.Steps},
	}
	for _, w := range writes {
		for _, c := range w.coords {
			if err := g.Set(c, w.value); err != nil {
				return nil, Params{}, fmt.Errorf("%w: %v", ErrTemplateMalformed, err)
			}
		}
	}

	return g, params, nil
}

func resolve(v Variant, r Request) Params {
	p := Params{
		Prompt:    r.Prompt,
		Width:     v.DefaultWidth,
		Height:    v.DefaultHeight,
		BatchSize: MinBatchSize,
		Seed:      r.Seed.Value,
		Steps:     v.DefaultSteps,
	}
	if r.Width != nil {
		p.Width = *r.Width
	}
	if r.Height != nil {
		p.Height = *r.Height
	}
	if r.BatchSize != nil {
		p.BatchSize = *r.BatchSize
	}
	if r.Steps != nil {
		p.Steps = *r.Steps
	}
	return p
}

// RandomSeed draws a seed uniformly from the full uint64 range using a
// generator freshly keyed from the operating system's entropy source, so no
// two calls share generator state.
func RandomSeed() uint64 {
	var key [32]byte
	if _, err := crand.Read(key[:]); err != nil {
		// crypto/rand does not fail on supported platforms.
		panic(fmt.Sprintf("read entropy: %v", err))
	}
	return rand.New(rand.NewChaCha8(key)).Uint64()
}
