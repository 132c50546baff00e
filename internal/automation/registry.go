package automation

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrLabelInUse is returned when registering a label that still
	// tracks a running process.
	ErrLabelInUse = errors.New("automation: label already in use")

	// ErrNotFound is returned for lookups of unknown labels.
	ErrNotFound = errors.New("automation: label not found")
)

// Status is a point-in-time snapshot of a tracked process.
type Status struct {
	Label     string    `json:"label"`
	PID       int       `json:"pid"`
	Running   bool      `json:"running"`
	ExitCode  int       `json:"exit_code"`
	StartedAt time.Time `json:"started_at"`
}

// Registry maps labels to process handles. Registration order is
// preserved for listings. A label can be reused once its previous
// process has exited.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle
	order   []string
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handles: make(map[string]*Handle),
		logger:  logger.With(slog.String("component", "automation.registry")),
	}
}

func (reg *Registry) add(label string, h *Handle) error {
	if label == "" {
		return fmt.Errorf("automation: label cannot be empty")
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if existing, ok := reg.handles[label]; ok {
		if existing.Running() {
			return fmt.Errorf("%w: %s", ErrLabelInUse, label)
		}
		// Replace the exited process, keeping its slot in the order.
		reg.handles[label] = h
		return nil
	}
	reg.handles[label] = h
	reg.order = append(reg.order, label)
	return nil
}

func (reg *Registry) remove(label string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.handles[label]; !ok {
		return
	}
	delete(reg.handles, label)
	order := make([]string, 0, len(reg.order))
	for _, l := range reg.order {
		if l != label {
			order = append(order, l)
		}
	}
	reg.order = order
}

// Get returns the handle registered under label.
func (reg *Registry) Get(label string) (*Handle, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	h, ok := reg.handles[label]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, label)
	}
	return h, nil
}

// Status reports the current state of the process under label.
func (reg *Registry) Status(label string) (*Status, error) {
	h, err := reg.Get(label)
	if err != nil {
		return nil, err
	}
	return snapshot(h), nil
}

// List returns the status of every tracked process in registration
// order.
func (reg *Registry) List() []*Status {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*Status, 0, len(reg.order))
	for _, label := range reg.order {
		if h, ok := reg.handles[label]; ok {
			out = append(out, snapshot(h))
		}
	}
	return out
}

// Kill terminates the process under label if it is still running.
func (reg *Registry) Kill(label string) error {
	h, err := reg.Get(label)
	if err != nil {
		return err
	}
	if err := h.Kill(); err != nil {
		return fmt.Errorf("automation: kill %s: %w", label, err)
	}
	reg.logger.Info("process killed", slog.String("label", label))
	return nil
}

// Cleanup kills every running process concurrently, waits for each to
// exit, and empties the registry.
func (reg *Registry) Cleanup() error {
	reg.mu.Lock()
	handles := make([]*Handle, 0, len(reg.handles))
	for _, h := range reg.handles {
		handles = append(handles, h)
	}
	reg.handles = make(map[string]*Handle)
	reg.order = nil
	reg.mu.Unlock()

	var g errgroup.Group
	for _, h := range handles {
		h := h
		g.Go(func() error {
			if err := h.Kill(); err != nil {
				return fmt.Errorf("automation: cleanup %s: %w", h.Label(), err)
			}
			<-h.done
			return nil
		})
	}
	return g.Wait()
}

// Count returns the number of tracked processes.
func (reg *Registry) Count() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.handles)
}

func snapshot(h *Handle) *Status {
	running := h.Running()
	s := &Status{
		Label:     h.label,
		PID:       h.PID(),
		Running:   running,
		StartedAt: h.startedAt,
	}
	if !running {
		s.ExitCode = h.result().ExitCode
	}
	return s
}
