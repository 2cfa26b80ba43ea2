package events

import (
	"context"
	"sync"
)

// Recorder is an in-memory Publisher. Set Err to make Publish fail.
type Recorder struct {
	mu   sync.Mutex
	envs []Envelope
	Err  error
}

func (r *Recorder) Publish(_ context.Context, envs ...Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.envs = append(r.envs, envs...)
	return nil
}

func (r *Recorder) Envelopes() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Envelope(nil), r.envs...)
}

// Types lists the recorded event types in publish order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.envs))
	for i, e := range r.envs {
		out[i] = e.Type
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = nil
}
