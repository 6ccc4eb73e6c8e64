package executor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MrWong99/patternlab/pkg/provider/llm"
)

// systemPromptFile is the prompt file inside each fabric pattern directory.
const systemPromptFile = "system.md"

// LLMRunner executes fabric patterns by sending the pattern's system prompt
// and the input text straight to an [llm.Provider]. Model ids have the form
// "provider/model"; the provider part selects an entry of Providers.
type LLMRunner struct {
	// PatternsDir is a fabric patterns tree: <dir>/<pattern>/system.md.
	PatternsDir string

	// Providers maps lowercase provider names to clients.
	Providers map[string]llm.Provider

	Temperature float64
	MaxTokens   int

	mu      sync.Mutex
	prompts map[string]string
}

// Run implements [Runner].
func (r *LLMRunner) Run(ctx context.Context, pattern, model, inputPath string) (string, error) {
	p, modelName, err := r.resolve(model)
	if err != nil {
		return "", err
	}

	system, err := r.systemPrompt(pattern)
	if err != nil {
		return "", err
	}
	input, err := os.ReadFile(inputPath)
	if err != nil {
		return "", fmt.Errorf("executor: read staged input: %w", err)
	}

	resp, err := p.Complete(ctx, llm.CompletionRequest{
		Model:        modelName,
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: string(input)}},
		Temperature:  r.Temperature,
		MaxTokens:    r.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("executor: complete: %w", err)
	}
	return resp.Content, nil
}

// CheckModel implements [ModelChecker]: model must name a configured provider.
func (r *LLMRunner) CheckModel(model string) error {
	_, _, err := r.resolve(model)
	return err
}

func (r *LLMRunner) resolve(model string) (llm.Provider, string, error) {
	providerName, modelName, err := llm.SplitModelID(model)
	if err != nil {
		return nil, "", err
	}
	p, ok := r.Providers[providerName]
	if !ok {
		return nil, "", fmt.Errorf("executor: no provider %q configured for model %q", providerName, model)
	}
	return p, modelName, nil
}

// Ping checks that the patterns directory exists.
func (r *LLMRunner) Ping(context.Context) error {
	fi, err := os.Stat(r.PatternsDir)
	if err != nil {
		return fmt.Errorf("%w: patterns dir: %w", ErrToolNotFound, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrToolNotFound, r.PatternsDir)
	}
	return nil
}

// systemPrompt loads and caches <PatternsDir>/<pattern>/system.md.
func (r *LLMRunner) systemPrompt(pattern string) (string, error) {
	if pattern == "" || strings.ContainsAny(pattern, `/\`) || pattern == "." || pattern == ".." {
		return "", fmt.Errorf("executor: invalid pattern name %q", pattern)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.prompts[pattern]; ok {
		return s, nil
	}
	if err := r.Ping(context.Background()); err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(r.PatternsDir, pattern, systemPromptFile))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("executor: pattern %q not found in %s", pattern, r.PatternsDir)
	}
	if err != nil {
		return "", fmt.Errorf("executor: read pattern %q: %w", pattern, err)
	}
	if r.prompts == nil {
		r.prompts = make(map[string]string)
	}
	r.prompts[pattern] = string(data)
	return string(data), nil
}
