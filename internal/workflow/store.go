package workflow

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
)

//go:embed templates/*.json
var embedded embed.FS

// EmbeddedTemplates returns the templates compiled into the binary.
func EmbeddedTemplates() fs.FS {
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		panic(err)
	}
	return sub
}

// Template is a loaded, immutable variant graph. Callers obtain a private
// copy with Instantiate; the template itself is never written to.
type Template struct {
	variant string
	graph   Graph
}

// Variant returns the name of the variant the template belongs to.
func (t *Template) Variant() string {
	return t.variant
}

// Instantiate returns a fresh deep copy of the template graph.
func (t *Template) Instantiate() Graph {
	return t.graph.Clone()
}

// Store loads variant templates from a filesystem and caches them.
// It is safe for concurrent use.
type Store struct {
	fsys   fs.FS
	logger *slog.Logger

	mu        sync.RWMutex
	templates map[string]*Template
}

// NewStore creates a template store reading from fsys.
func NewStore(fsys fs.FS, logger *slog.Logger) *Store {
	return &Store{
		fsys:      fsys,
		logger:    logger,
		templates: make(map[string]*Template),
	}
}

// Load returns the template for v, reading it from the backing filesystem on
// first use. It fails with ErrTemplateNotFound if the file is absent and
// ErrTemplateMalformed if it does not parse or lacks a coordinate's node.
func (s *Store) Load(v Variant) (*Template, error) {
	s.mu.RLock()
	t, ok := s.templates[v.Name]
	s.mu.RUnlock()
	if ok {
		return t, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.templates[v.Name]; ok {
		return t, nil
	}

	t, err := s.read(v)
	if err != nil {
		return nil, err
	}
	s.templates[v.Name] = t
	return t, nil
}

// Preload loads every variant's template so configuration faults surface
// at startup rather than on the first request.
func (s *Store) Preload(variants ...Variant) error {
	for _, v := range variants {
		if _, err := s.Load(v); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) read(v Variant) (*Template, error) {
	s.logger.Info("loading workflow template", "variant", v.Name, "file", v.TemplateFile)

	data, err := fs.ReadFile(s.fsys, v.TemplateFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, v.TemplateFile)
	}
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", v.TemplateFile, err)
	}

	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTemplateMalformed, v.TemplateFile, err)
	}
	if len(g) == 0 {
		return nil, fmt.Errorf("%w: %s: empty graph", ErrTemplateMalformed, v.TemplateFile)
	}
	for _, c := range v.coordinates() {
		if _, ok := g.Get(c); !ok {
			return nil, fmt.Errorf("%w: %s: missing %s.%s", ErrTemplateMalformed, v.TemplateFile, c.Node, c.Input)
		}
	}

	return &Template{variant: v.Name, graph: g}, nil
}
