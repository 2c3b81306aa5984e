package mux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/decred/slog"
)

// ErrToolUnavailable is returned when the external tool cannot be run.
var ErrToolUnavailable = errors.New("mux tool unavailable")

// Runner runs the external multiplexing tool with the given arguments. A
// non-nil error is returned when the tool cannot be started or exits with a
// non-zero code.
type Runner interface {
	Run(ctx context.Context, args ...string) error
}

// ExecRunner runs an executable (usually ffmpeg) as a subprocess.
type ExecRunner struct {
	Path string
	Log  slog.Logger
}

// NewExecRunner returns a runner for the tool at path. An empty path means
// "ffmpeg" looked up in PATH.
func NewExecRunner(path string, log slog.Logger) *ExecRunner {
	if path == "" {
		path = "ffmpeg"
	}
	if log == nil {
		log = slog.Disabled
	}
	return &ExecRunner{Path: path, Log: log}
}

// Run is part of the Runner interface.
func (r *ExecRunner) Run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, r.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	r.Log.Tracef("Running %s %v", r.Path, args)
	if err := cmd.Run(); err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return fmt.Errorf("%w: %v", ErrToolUnavailable, err)
		}
		msg := bytes.TrimSpace(stderr.Bytes())
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		return fmt.Errorf("%s: %w: %s", r.Path, err, msg)
	}
	return nil
}
