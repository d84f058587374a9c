package provider

import (
	"fmt"
	"sort"
)

// Registry indexes adapters by name and capability.
type Registry struct {
	extractors map[string]TextExtractor
	analyzers  map[string]Analyzer
}

func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{
		extractors: make(map[string]TextExtractor),
		analyzers:  make(map[string]Analyzer),
	}
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(a Adapter) error {
	name := a.Name()
	if name == "" {
		return fmt.Errorf("adapter has empty name")
	}
	if r.has(name) {
		return fmt.Errorf("adapter %q already registered", name)
	}

	registered := false
	if e, ok := a.(TextExtractor); ok {
		r.extractors[name] = e
		registered = true
	}
	if an, ok := a.(Analyzer); ok {
		r.analyzers[name] = an
		registered = true
	}
	if !registered {
		return fmt.Errorf("adapter %q implements no capability", name)
	}
	return nil
}

func (r *Registry) has(name string) bool {
	_, e := r.extractors[name]
	_, a := r.analyzers[name]
	return e || a
}

func (r *Registry) Extractor(name string) (TextExtractor, bool) {
	e, ok := r.extractors[name]
	return e, ok
}

func (r *Registry) Analyzer(name string) (Analyzer, bool) {
	a, ok := r.analyzers[name]
	return a, ok
}

// Supports reports whether the named adapter can serve op.
func (r *Registry) Supports(name string, op Operation) bool {
	switch op {
	case OpExtractText:
		_, ok := r.extractors[name]
		return ok
	case OpAnalyze, OpCoverLetter:
		_, ok := r.analyzers[name]
		return ok
	}
	return false
}

// Names lists every registered adapter, sorted.
func (r *Registry) Names() []string {
	seen := make(map[string]struct{})
	for n := range r.extractors {
		seen[n] = struct{}{}
	}
	for n := range r.analyzers {
		seen[n] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
