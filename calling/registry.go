/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import "sync"

// OngoingMarker is notified whenever the registry flips between empty and
// non-empty. The transport uses it to mark the connection as carrying live
// calls.
type OngoingMarker interface {
	SetOngoing(ongoing bool)
}

// Registry tracks the live calls of a session, keyed by call id. Add is
// idempotent and Remove of an absent id is a no-op; after every mutation
// the ongoing marker reflects whether any call remains.
type Registry struct {
	mu     sync.RWMutex
	calls  map[string]*Call
	marker OngoingMarker
}

// NewRegistry creates an empty call registry.
func NewRegistry(marker OngoingMarker) *Registry {
	return &Registry{
		calls:  make(map[string]*Call),
		marker: marker,
	}
}

// SetMarker swaps the ongoing marker, re-asserting the current state on
// the new one. Used when the session replaces its transport.
func (r *Registry) SetMarker(marker OngoingMarker) {
	r.mu.Lock()
	r.marker = marker
	ongoing := len(r.calls) > 0
	m := r.marker
	r.mu.Unlock()
	if m != nil {
		m.SetOngoing(ongoing)
	}
}

// Add registers a call. Adding an id already present replaces nothing and
// changes nothing.
func (r *Registry) Add(call *Call) {
	if call == nil {
		return
	}
	r.mu.Lock()
	if _, exists := r.calls[call.ID()]; !exists {
		r.calls[call.ID()] = call
	}
	ongoing := len(r.calls) > 0
	m := r.marker
	r.mu.Unlock()
	if m != nil {
		m.SetOngoing(ongoing)
	}
}

// Remove drops a call by id. Removing an absent id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.calls, id)
	ongoing := len(r.calls) > 0
	m := r.marker
	r.mu.Unlock()
	if m != nil {
		m.SetOngoing(ongoing)
	}
}

// Get looks up a call by id.
func (r *Registry) Get(id string) (*Call, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	call, ok := r.calls[id]
	return call, ok
}

// All returns a snapshot of the live calls.
func (r *Registry) All() []*Call {
	r.mu.RLock()
	defer r.mu.RUnlock()
	calls := make([]*Call, 0, len(r.calls))
	for _, c := range r.calls {
		calls = append(calls, c)
	}
	return calls
}

// Ongoing reports whether any call is live.
func (r *Registry) Ongoing() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls) > 0
}

// Len returns the number of live calls.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}
