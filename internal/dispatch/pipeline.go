package dispatch

import (
	"errors"
	"net/http"
)

// ErrNextCalledTwice is returned when a middleware entry invokes its
// continuation more than once. Calling next repeatedly (or never, while
// still expecting a fallthrough) is undefined behavior for entries;
// the pipeline turns the repeated call into an error instead of
// silently re-running the rest of the chain.
var ErrNextCalledTwice = errors.New("dispatch: middleware called next more than once")

// Pipeline is an ordered list of middleware entries compiled into one
// continuation chain. Entries run strictly in registration order; the
// continuation past the last entry invokes the terminal function
// (route dispatch when driven by the server).
//
// The pipeline performs no error recovery. Errors returned by entries
// or the terminal propagate unchanged to the caller.
type Pipeline struct {
	entries []Middleware
}

// NewPipeline creates an empty pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{}
}

// Use appends an entry to the chain.
func (p *Pipeline) Use(m Middleware) {
	p.entries = append(p.entries, m)
}

// Len returns the number of registered entries.
func (p *Pipeline) Len() int {
	return len(p.entries)
}

// Run executes the chain for one request. Each entry i receives a next
// that dispatches entry i+1; past the end, terminal runs. The dispatch
// is index-based rather than a pre-built tower of closures, so chain
// depth adds a single stack frame per entry actually reached.
func (p *Pipeline) Run(r *http.Request, terminal Next) (*Response, error) {
	var run func(i int) (*Response, error)
	run = func(i int) (*Response, error) {
		if i >= len(p.entries) {
			return terminal()
		}
		called := false
		next := func() (*Response, error) {
			if called {
				return nil, ErrNextCalledTwice
			}
			called = true
			return run(i + 1)
		}
		return p.entries[i](r, next)
	}
	return run(0)
}
