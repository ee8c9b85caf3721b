// Package fsm is a small table-driven finite-state machine. States are any
// comparable tag; transitions are declared up front and evaluated in order on
// every Update.
package fsm

import (
	"fmt"
	"sync"
)

// Guard reports whether a transition may fire.
type Guard func() bool

type transition[S comparable] struct {
	from, to S
	guard    Guard
}

// Machine holds the current state and the transition table.
type Machine[S comparable] struct {
	mu      sync.RWMutex
	state   S
	table   []transition[S]
	onEnter map[S][]func(from S)
	known   map[S]struct{}
}

// New returns a machine sitting in initial.
func New[S comparable](initial S) *Machine[S] {
	return &Machine[S]{
		state:   initial,
		onEnter: map[S][]func(S){},
		known:   map[S]struct{}{initial: {}},
	}
}

// Add declares a transition from -> to guarded by g. A nil guard always
// fires. Transitions are tried in declaration order.
func (m *Machine[S]) Add(from, to S, g Guard) *Machine[S] {
	if g == nil {
		g = func() bool { return true }
	}
	m.mu.Lock()
	m.table = append(m.table, transition[S]{from: from, to: to, guard: g})
	m.known[from] = struct{}{}
	m.known[to] = struct{}{}
	m.mu.Unlock()
	return m
}

// OnEnter registers fn to run after the machine enters s.
func (m *Machine[S]) OnEnter(s S, fn func(from S)) *Machine[S] {
	m.mu.Lock()
	m.onEnter[s] = append(m.onEnter[s], fn)
	m.mu.Unlock()
	return m
}

// State returns the current state.
func (m *Machine[S]) State() S {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Update fires the first transition out of the current state whose guard
// passes, and reports whether the state changed. Guards and hooks run
// without the lock held.
func (m *Machine[S]) Update() bool {
	m.mu.RLock()
	cur := m.state
	var cands []transition[S]
	for _, t := range m.table {
		if t.from == cur {
			cands = append(cands, t)
		}
	}
	m.mu.RUnlock()

	for _, t := range cands {
		if t.guard() {
			m.enter(cur, t.to)
			return true
		}
	}
	return false
}

// Force moves to s unconditionally. s must appear in the table.
func (m *Machine[S]) Force(s S) error {
	m.mu.RLock()
	_, ok := m.known[s]
	cur := m.state
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("fsm: unknown state %v", s)
	}
	if cur != s {
		m.enter(cur, s)
	}
	return nil
}

func (m *Machine[S]) enter(from, to S) {
	m.mu.Lock()
	m.state = to
	hooks := append([]func(S){}, m.onEnter[to]...)
	m.mu.Unlock()
	for _, fn := range hooks {
		fn(from)
	}
}
