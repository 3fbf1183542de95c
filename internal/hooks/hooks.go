// Package hooks runs ordered stages around named server events such as a
// download or an API call.
package hooks

import (
	"context"
	"sync"
)

// Events fired by the server
const (
	EventDownload = "download"
	EventAPI      = "api"
)

// Stage inspects or rejects an event. A non-nil error stops the chain.
type Stage func(ctx context.Context, payload any) error

// Pipeline holds the before and after stages of each event
type Pipeline struct {
	mu     sync.RWMutex
	before map[string][]Stage
	after  map[string][]Stage
}

// New creates an empty pipeline
func New() *Pipeline {
	return &Pipeline{
		before: make(map[string][]Stage),
		after:  make(map[string][]Stage),
	}
}

// Before appends a stage that runs ahead of the event's action
func (p *Pipeline) Before(event string, stage Stage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.before[event] = append(p.before[event], stage)
}

// After appends a stage that runs once the event's action succeeded
func (p *Pipeline) After(event string, stage Stage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.after[event] = append(p.after[event], stage)
}

// Run executes the before stages, fn, then the after stages. The first error
// is returned and nothing after it runs.
func (p *Pipeline) Run(ctx context.Context, event string, payload any, fn func(ctx context.Context) error) error {
	p.mu.RLock()
	before := append([]Stage(nil), p.before[event]...)
	after := append([]Stage(nil), p.after[event]...)
	p.mu.RUnlock()

	for _, stage := range before {
		if err := stage(ctx, payload); err != nil {
			return err
		}
	}

	if fn != nil {
		if err := fn(ctx); err != nil {
			return err
		}
	}

	for _, stage := range after {
		if err := stage(ctx, payload); err != nil {
			return err
		}
	}
	return nil
}
