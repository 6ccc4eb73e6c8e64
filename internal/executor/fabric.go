package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// probeTimeout bounds a single "--version" probe during discovery.
const probeTimeout = 3 * time.Second

// FabricRunner invokes the fabric CLI as
//
//	fabric -p <pattern> --model <model> < inputPath
//
// and returns its standard output.
type FabricRunner struct {
	// Path is the fabric executable, absolute or resolvable through PATH.
	Path string
}

// Run implements [Runner].
func (r *FabricRunner) Run(ctx context.Context, pattern, model, inputPath string) (string, error) {
	in, err := os.Open(inputPath)
	if err != nil {
		return "", fmt.Errorf("fabric: open staged input: %w", err)
	}
	defer in.Close()

	cmd := exec.CommandContext(ctx, r.Path, "-p", pattern, "--model", model)
	cmd.Stdin = in
	cmd.WaitDelay = 2 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("%w: %s: %w", ErrToolNotFound, r.Path, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("fabric: %w", ctxErr)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("fabric: %w: %s", err, msg)
		}
		return "", fmt.Errorf("fabric: %w", err)
	}

	if msg := strings.TrimSpace(stderr.String()); msg != "" && !strings.Contains(msg, "WARNING") {
		slog.Warn("fabric wrote to stderr", "pattern", pattern, "model", model, "stderr", msg)
	}
	return stdout.String(), nil
}

// Ping checks that the binary answers "--version". A missing binary is
// reported as [ErrToolNotFound].
func (r *FabricRunner) Ping(ctx context.Context) error {
	err := probe(ctx, r.Path)
	if err != nil && (r.Path == "" || isNotFound(err)) {
		return fmt.Errorf("executor: %w: %w", ErrToolNotFound, err)
	}
	return err
}

// DiscoverFabric returns the first candidate that answers "--version".
// Candidates may reference environment variables such as $HOME; bare names
// are resolved through PATH. It returns [ErrToolNotFound] when none works.
func DiscoverFabric(ctx context.Context, candidates []string) (string, error) {
	var errs []error
	for _, c := range candidates {
		path := os.ExpandEnv(c)
		if path == "" {
			continue
		}
		if !strings.ContainsRune(path, os.PathSeparator) {
			resolved, err := exec.LookPath(path)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			path = resolved
		}
		if err := probe(ctx, path); err != nil {
			errs = append(errs, err)
			continue
		}
		slog.Info("fabric CLI found", "path", path)
		return path, nil
	}
	return "", fmt.Errorf("%w (tried %s): %w", ErrToolNotFound, strings.Join(candidates, ", "), errors.Join(errs...))
}

func probe(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := exec.CommandContext(ctx, path, "--version").Run(); err != nil {
		return fmt.Errorf("%s --version: %w", path, err)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission)
}
