package executor

import (
	"context"
	"sync/atomic"

	"github.com/MrWong99/patternlab/internal/chunk"
)

// Holder publishes the current [Executor] to concurrent runs. Updates build a
// new executor from the current one and swap it in; runs already holding the
// previous executor finish with it.
type Holder struct {
	p atomic.Pointer[Executor]
}

// NewHolder returns a Holder serving e.
func NewHolder(e *Executor) *Holder {
	h := &Holder{}
	h.p.Store(e)
	return h
}

// Load returns the current executor.
func (h *Holder) Load() *Executor {
	return h.p.Load()
}

// Store replaces the current executor.
func (h *Holder) Store(e *Executor) {
	h.p.Store(e)
}

// Execute runs pattern on the current executor.
func (h *Holder) Execute(ctx context.Context, pattern, text string, meta chunk.SourceMeta) (string, error) {
	return h.p.Load().Execute(ctx, pattern, text, meta)
}

// Models returns the current fallback chain.
func (h *Holder) Models() []string {
	return h.p.Load().Config().Models
}

// SetModels swaps in an executor using models as the fallback chain.
func (h *Holder) SetModels(models []string) error {
	for {
		cur := h.p.Load()
		next, err := cur.WithConfig(cur.Config().WithModels(models...))
		if err != nil {
			return err
		}
		if h.p.CompareAndSwap(cur, next) {
			return nil
		}
	}
}
