package resilience

import (
	"maps"
	"slices"
	"sync"
)

// BreakerSet holds one [Breaker] per name, created on first use with a shared
// configuration.
type BreakerSet struct {
	cfg BreakerConfig

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewBreakerSet returns an empty set whose breakers use cfg. cfg.Name is
// replaced by each breaker's key.
func NewBreakerSet(cfg BreakerConfig) *BreakerSet {
	return &BreakerSet{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for name, creating it if needed.
func (s *BreakerSet) Get(name string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[name]; ok {
		return b
	}
	cfg := s.cfg
	cfg.Name = name
	b := NewBreaker(cfg)
	s.breakers[name] = b
	return b
}

// States returns a snapshot of every known breaker's state.
func (s *BreakerSet) States() map[string]State {
	s.mu.Lock()
	names := slices.Collect(maps.Keys(s.breakers))
	bs := make([]*Breaker, len(names))
	for i, n := range names {
		bs[i] = s.breakers[n]
	}
	s.mu.Unlock()

	out := make(map[string]State, len(names))
	for i, n := range names {
		out[n] = bs[i].State()
	}
	return out
}
