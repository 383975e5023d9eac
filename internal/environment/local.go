package environment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"

	"github.com/codemyspec/codemyspec/internal/apperrors"
)

const (
	DefaultCommandTimeout = 30 * time.Minute
	MaxFileSize           = 100 * 1024 * 1024 // 100 MB
)

// Local runs commands with bash in a workspace directory and resolves file
// paths relative to that directory. Commands carrying an "async" metadata
// flag are treated as externally resolved: the command line is handed to the
// agent launcher and the result arrives through a hook callback.
type Local struct {
	root   string
	logger logr.Logger
}

// NewLocal creates a Local environment rooted at dir.
func NewLocal(dir string, logger logr.Logger) *Local {
	return &Local{root: dir, logger: logger}
}

func (l *Local) RunCommand(ctx context.Context, spec Spec, opts map[string]any) (Run, error) {
	if spec.Command == "" {
		return nil, apperrors.New(apperrors.ErrCodeValidationFailed, "command is required", nil)
	}

	if external, _ := spec.Metadata["external"].(bool); external {
		// The agent process owns this command; the hook pipeline delivers
		// the result later.
		return Async{}, nil
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	if background, _ := spec.Metadata["background"].(bool); background {
		done := make(chan Outcome, 1)
		go func() {
			done <- l.runShell(ctx, spec, timeout)
		}()
		return Task{Done: done}, nil
	}

	return Sync{Outcome: l.runShell(ctx, spec, timeout)}, nil
}

func (l *Local) runShell(ctx context.Context, spec Spec, timeout time.Duration) Outcome {
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dir := spec.Dir
	if dir == "" {
		dir = l.root
	}

	cmd := exec.CommandContext(cmdCtx, "bash", "-c", spec.Command)
	cmd.Dir = dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	start := time.Now()
	stdout, err := cmd.Output()
	duration := time.Since(start)

	outcome := Outcome{
		Stdout:   string(stdout),
		Duration: duration,
	}

	if err != nil {
		outcome.Status = StatusError
		outcome.Error = err.Error()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			outcome.ExitCode = &code
			outcome.Stderr = string(exitErr.Stderr)
		}
		if cmdCtx.Err() == context.DeadlineExceeded {
			outcome.Error = fmt.Sprintf("command timed out after %v", timeout)
		}
		l.logger.Info("command failed", "dir", dir, "error", outcome.Error)
		return outcome
	}

	code := 0
	outcome.Status = StatusOK
	outcome.ExitCode = &code
	return outcome
}

func (l *Local) FileExists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(l.resolve(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, apperrors.New(apperrors.ErrCodeFileOperation, "failed to stat file", err)
}

func (l *Local) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full := l.resolve(path)

	info, err := os.Stat(full)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeFileOperation, "failed to stat file", err)
	}
	if info.Size() > MaxFileSize {
		return nil, apperrors.New(apperrors.ErrCodeFileOperation,
			fmt.Sprintf("file too large: %d bytes (max: %d)", info.Size(), MaxFileSize), nil)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeFileOperation, "failed to read file", err)
	}
	return data, nil
}

func (l *Local) WriteFile(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full := l.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return apperrors.New(apperrors.ErrCodeFileOperation, "failed to create directory", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return apperrors.New(apperrors.ErrCodeFileOperation, "failed to write file", err)
	}
	return nil
}

func (l *Local) resolve(path string) string {
	if filepath.IsAbs(path) || l.root == "" {
		return filepath.Clean(path)
	}
	return filepath.Join(l.root, filepath.Clean(path))
}

// StaticProvider maps environment names to instances.
type StaticProvider struct {
	envs map[string]Environment
}

// NewStaticProvider builds a provider over a fixed name map.
func NewStaticProvider(envs map[string]Environment) *StaticProvider {
	return &StaticProvider{envs: envs}
}

func (p *StaticProvider) Environment(name string) (Environment, error) {
	env, ok := p.envs[name]
	if !ok {
		return nil, apperrors.New(apperrors.ErrCodeEnvironmentFailed,
			fmt.Sprintf("unknown environment: %s", name), nil)
	}
	return env, nil
}
