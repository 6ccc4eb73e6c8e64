package executor

import "time"

// step is the transition chosen by the retry machine after a failure.
type step int

const (
	// stepNextModel tries the next model of the same pass without waiting.
	stepNextModel step = iota

	// stepBackoff waits, then starts a new pass at the first model.
	stepBackoff

	// stepFail gives up.
	stepFail
)

// machine tracks (attempt, modelIndex) for one Execute call. A pass walks the
// model list in order; only a failure on the last model can start a new pass,
// and only when the failure is transient and passes remain.
type machine struct {
	models     []string
	maxRetries int
	baseDelay  time.Duration

	attempt    int
	modelIndex int
}

func newMachine(cfg Config) *machine {
	return &machine{
		models:     cfg.Models,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
	}
}

// model returns the model to invoke next.
func (m *machine) model() string {
	return m.models[m.modelIndex]
}

// onFailure advances the machine and reports what to do next. For
// stepBackoff the returned delay is BaseDelay × 2^attempt of the pass that
// just failed.
func (m *machine) onFailure(transient bool) (step, time.Duration) {
	if m.modelIndex < len(m.models)-1 {
		m.modelIndex++
		return stepNextModel, 0
	}
	if !transient || m.attempt >= m.maxRetries {
		return stepFail, 0
	}
	delay := m.baseDelay << m.attempt
	m.attempt++
	m.modelIndex = 0
	return stepBackoff, delay
}
