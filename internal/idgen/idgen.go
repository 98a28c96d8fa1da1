// Package idgen generates monotone, zero-padded entity IDs and the
// global event sequence counter, both backed by RuntimeState so they
// survive restarts without collision.
package idgen

import (
	"fmt"
	"sync"

	"github.com/antigravity-dev/aurelia/internal/model"
)

// Generator hands out IDs of the form "<prefix>-0001" and event sequence
// numbers, reading and advancing counters stored on a shared RuntimeState.
// Callers persist the state themselves; Generator only mutates it in
// memory under lock.
type Generator struct {
	mu    sync.Mutex
	state *model.RuntimeState
}

// New returns a Generator drawing counters from state. state must not be
// nil; its NextSeq map is initialized if empty.
func New(state *model.RuntimeState) *Generator {
	if state.NextSeq == nil {
		state.NextSeq = map[string]int{}
	}
	return &Generator{state: state}
}

// Next returns the next ID for prefix, e.g. Next("task") -> "task-0001",
// then "task-0002" on the following call.
func (g *Generator) Next(prefix string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.state.NextSeq[prefix] + 1
	g.state.NextSeq[prefix] = n
	return fmt.Sprintf("%s-%04d", prefix, n)
}

// NextEventSeq returns the next global event sequence number.
func (g *Generator) NextEventSeq() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	seq := g.state.NextEventSeq
	if seq == 0 {
		seq = 1
	}
	g.state.NextEventSeq = seq + 1
	return seq
}
