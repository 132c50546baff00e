package automation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ErrSpawn wraps failures to start a process (missing binary, bad
// working directory). Reported to callers as-is; never translated to
// an HTTP status here.
var ErrSpawn = errors.New("automation: spawn failed")

// Options tunes a single command invocation.
type Options struct {
	// Dir is the working directory; empty inherits the caller's.
	Dir string

	// Env entries are appended to the inherited environment.
	Env []string

	// Timeout kills the process when exceeded. Zero means no limit.
	Timeout time.Duration
}

// Result is the outcome of a completed command. A non-zero exit code
// is data, not an error; only spawn and context failures surface as
// errors.
type Result struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Handle tracks one spawned process from start to exit.
type Handle struct {
	label     string
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	startedAt time.Time
	done      chan struct{}

	mu       sync.Mutex
	stdout   bytes.Buffer
	stderr   bytes.Buffer
	exitCode int
}

// Label returns the handle's registry label.
func (h *Handle) Label() string { return h.label }

// PID returns the process ID.
func (h *Handle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Running reports whether the process has not yet exited.
func (h *Handle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the process exits or ctx is done and returns the
// captured output and exit code.
func (h *Handle) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-h.done:
		return h.result(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Kill terminates the process. A no-op once it has exited; losing the
// race against a concurrent exit is also not an error.
func (h *Handle) Kill() error {
	if !h.Running() {
		return nil
	}
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (h *Handle) result() *Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return &Result{
		Stdout:   h.stdout.String(),
		Stderr:   h.stderr.String(),
		ExitCode: h.exitCode,
	}
}

// reap records the exit outcome once cmd.Wait returns.
func (h *Handle) reap() {
	err := h.cmd.Wait()
	h.mu.Lock()
	if h.cmd.ProcessState != nil {
		h.exitCode = h.cmd.ProcessState.ExitCode()
	} else if err != nil {
		h.exitCode = -1
	}
	h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
	}
	close(h.done)
}

// Runner spawns labeled commands and records them in its registry.
type Runner struct {
	registry *Registry
	logger   *slog.Logger
}

// NewRunner creates a runner with a fresh registry.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "automation.runner"))
	return &Runner{
		registry: NewRegistry(logger),
		logger:   logger,
	}
}

// Registry exposes the label-to-handle registry for status, kill and
// cleanup operations.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// Run starts the command and waits for it to finish, returning the
// captured stdout, stderr and exit code. The handle stays in the
// registry after exit so callers can inspect it until cleanup.
func (r *Runner) Run(ctx context.Context, label, name string, args []string, opts Options) (*Result, error) {
	h, err := r.Start(ctx, label, name, args, opts)
	if err != nil {
		return nil, err
	}
	return h.Wait(ctx)
}

// Start spawns the command without waiting and registers its handle
// under label. Labels must be unique among tracked processes.
func (r *Runner) Start(ctx context.Context, label, name string, args []string, opts Options) (*Handle, error) {
	cancel := context.CancelFunc(nil)
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}

	h := &Handle{
		label:     label,
		startedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	cmd.Stdout = &h.stdout
	cmd.Stderr = &h.stderr
	h.cmd = cmd

	if err := r.registry.add(label, h); err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		r.registry.remove(label)
		if cancel != nil {
			cancel()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrSpawn, name, err)
	}

	r.logger.InfoContext(ctx, "process started",
		slog.String("label", label),
		slog.String("command", name),
		slog.Int("pid", cmd.Process.Pid))

	go h.reap()
	return h, nil
}
