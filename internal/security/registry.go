package security

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FlowKind distinguishes setup flows from verification flows.
type FlowKind string

const (
	FlowSetup  FlowKind = "setup"
	FlowVerify FlowKind = "verify"
)

// ErrFlowNotFound is returned for unknown, expired or foreign flow ids.
var ErrFlowNotFound = errors.New("flow not found")

type flow interface {
	Close()
}

type registryEntry struct {
	sessionID string
	kind      FlowKind
	flow      flow
	lastSeen  time.Time
}

// Registry keeps the open flows of every session in process memory. A session
// has at most one flow of each kind; opening a new one closes the old one.
type Registry struct {
	mu      sync.Mutex
	idleTTL time.Duration
	now     func() time.Time
	entries map[string]*registryEntry
	active  map[string]map[FlowKind]string
}

// NewRegistry builds a registry evicting flows idle for longer than idleTTL.
// A zero idleTTL disables eviction.
func NewRegistry(idleTTL time.Duration) *Registry {
	return &Registry{
		idleTTL: idleTTL,
		now:     time.Now,
		entries: make(map[string]*registryEntry),
		active:  make(map[string]map[FlowKind]string),
	}
}

// OpenSetup registers f for sessionID and returns its id.
func (r *Registry) OpenSetup(sessionID string, f *SetupFlow) string {
	return r.put(sessionID, FlowSetup, f)
}

// OpenVerify registers f for sessionID and returns its id.
func (r *Registry) OpenVerify(sessionID string, f *VerifyFlow) string {
	return r.put(sessionID, FlowVerify, f)
}

// Setup returns the setup flow id owned by sessionID.
func (r *Registry) Setup(sessionID, id string) (*SetupFlow, error) {
	f, err := r.get(sessionID, FlowSetup, id)
	if err != nil {
		return nil, err
	}
	return f.(*SetupFlow), nil
}

// Verify returns the verification flow id owned by sessionID.
func (r *Registry) Verify(sessionID, id string) (*VerifyFlow, error) {
	f, err := r.get(sessionID, FlowVerify, id)
	if err != nil {
		return nil, err
	}
	return f.(*VerifyFlow), nil
}

// Close tears down one flow. It reports whether the flow existed.
func (r *Registry) Close(sessionID, id string) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok || e.sessionID != sessionID {
		r.mu.Unlock()
		return false
	}
	r.removeLocked(id, e)
	r.mu.Unlock()
	e.flow.Close()
	return true
}

// CloseSession tears down every flow of sessionID.
func (r *Registry) CloseSession(sessionID string) {
	r.mu.Lock()
	var closing []flow
	for _, id := range r.active[sessionID] {
		if e, ok := r.entries[id]; ok {
			r.removeLocked(id, e)
			closing = append(closing, e.flow)
		}
	}
	r.mu.Unlock()
	for _, f := range closing {
		f.Close()
	}
}

// Sweep closes idle flows and returns how many were evicted.
func (r *Registry) Sweep() int {
	if r.idleTTL <= 0 {
		return 0
	}
	r.mu.Lock()
	cutoff := r.now().Add(-r.idleTTL)
	var closing []flow
	for id, e := range r.entries {
		if e.lastSeen.Before(cutoff) {
			r.removeLocked(id, e)
			closing = append(closing, e.flow)
		}
	}
	r.mu.Unlock()
	for _, f := range closing {
		f.Close()
	}
	return len(closing)
}

// Len returns the number of open flows.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) put(sessionID string, kind FlowKind, f flow) string {
	r.Sweep()
	id := uuid.NewString()

	r.mu.Lock()
	var previous flow
	if kinds, ok := r.active[sessionID]; ok {
		if oldID, ok := kinds[kind]; ok {
			if e, ok := r.entries[oldID]; ok {
				r.removeLocked(oldID, e)
				previous = e.flow
			}
		}
	}
	r.entries[id] = &registryEntry{sessionID: sessionID, kind: kind, flow: f, lastSeen: r.now()}
	if r.active[sessionID] == nil {
		r.active[sessionID] = make(map[FlowKind]string)
	}
	r.active[sessionID][kind] = id
	r.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
	return id
}

func (r *Registry) get(sessionID string, kind FlowKind, id string) (flow, error) {
	r.Sweep()
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.sessionID != sessionID || e.kind != kind {
		return nil, ErrFlowNotFound
	}
	e.lastSeen = r.now()
	return e.flow, nil
}

// removeLocked must be called with r.mu held.
func (r *Registry) removeLocked(id string, e *registryEntry) {
	delete(r.entries, id)
	if kinds, ok := r.active[e.sessionID]; ok {
		if kinds[e.kind] == id {
			delete(kinds, e.kind)
		}
		if len(kinds) == 0 {
			delete(r.active, e.sessionID)
		}
	}
}
