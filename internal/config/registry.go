package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/patternlab/pkg/provider/llm"
)

// ErrProviderNotRegistered is returned by [Registry.CreateLLM] when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps LLM provider names to their constructors. It is safe for
// concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm map[string]func(ProviderEntry) (llm.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm: make(map[string]func(ProviderEntry) (llm.Provider, error)),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// CreateLLM instantiates the provider registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.llm))
	for n := range r.llm {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// ProviderSet instantiates every provider referenced by models, using the
// credentials in entries. Providers without an entry are created from an
// empty one, which suits keyless backends such as ollama.
func (r *Registry) ProviderSet(models []string, entries map[string]ProviderEntry) (map[string]llm.Provider, error) {
	out := make(map[string]llm.Provider)
	var errs []error
	for _, m := range models {
		name, _, err := llm.SplitModelID(m)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, done := out[name]; done {
			continue
		}
		entry, ok := entries[name]
		if !ok {
			entry = ProviderEntry{Name: name}
		}
		p, err := r.CreateLLM(entry)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: create provider %q: %w", name, err))
			continue
		}
		out[name] = p
	}
	return out, errors.Join(errs...)
}
