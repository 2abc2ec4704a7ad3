/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"sync"
	"testing"
)

// recordingMarker captures every ongoing-state assertion.
type recordingMarker struct {
	mu      sync.Mutex
	current bool
	history []bool
}

func (m *recordingMarker) SetOngoing(ongoing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = ongoing
	m.history = append(m.history, ongoing)
}

func (m *recordingMarker) Current() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func newTestCall(t *testing.T, reg *Registry) *Call {
	t.Helper()
	call, err := NewOutboundCall(CallOptions{
		Sender:   &fakeSender{connected: true},
		Registry: reg,
		Media:    func() (MediaSession, error) { return &fakeMedia{}, nil },
	}, "Alice", "1000", "2000", "")
	if err != nil {
		t.Fatalf("NewOutboundCall() error: %v", err)
	}
	return call
}

func TestRegistryAddRemove(t *testing.T) {
	marker := &recordingMarker{}
	reg := NewRegistry(marker)

	if reg.Ongoing() {
		t.Fatal("empty registry reports ongoing")
	}

	call := newTestCall(t, reg)
	reg.Add(call)
	if !reg.Ongoing() {
		t.Error("Ongoing() = false after Add")
	}
	if !marker.Current() {
		t.Error("marker not set after Add")
	}

	// Idempotent add: same id, no growth.
	reg.Add(call)
	if reg.Len() != 1 {
		t.Errorf("Len() = %d after duplicate Add, want 1", reg.Len())
	}

	got, ok := reg.Get(call.ID())
	if !ok || got != call {
		t.Error("Get() did not return the registered call")
	}

	reg.Remove(call.ID())
	if reg.Ongoing() {
		t.Error("Ongoing() = true after Remove")
	}
	if marker.Current() {
		t.Error("marker still set after Remove")
	}

	// Removing an absent id is a no-op.
	reg.Remove("no-such-call")
	if _, ok := reg.Get(call.ID()); ok {
		t.Error("removed call still retrievable")
	}
}

func TestRegistryAllSnapshot(t *testing.T) {
	reg := NewRegistry(&recordingMarker{})
	a := newTestCall(t, reg)
	b := newTestCall(t, reg)
	reg.Add(a)
	reg.Add(b)

	all := reg.All()
	if len(all) != 2 {
		t.Fatalf("All() returned %d calls, want 2", len(all))
	}

	// Mutating after the snapshot does not affect it.
	reg.Remove(a.ID())
	if len(all) != 2 {
		t.Error("snapshot changed after Remove")
	}
	if reg.Len() != 1 {
		t.Errorf("Len() = %d, want 1", reg.Len())
	}
}

func TestRegistrySetMarker(t *testing.T) {
	reg := NewRegistry(&recordingMarker{})
	call := newTestCall(t, reg)
	reg.Add(call)

	// A fresh marker (new transport) learns the current state immediately.
	replacement := &recordingMarker{}
	reg.SetMarker(replacement)
	if !replacement.Current() {
		t.Error("replacement marker not told about ongoing calls")
	}

	reg.Remove(call.ID())
	if replacement.Current() {
		t.Error("replacement marker not cleared after last call removed")
	}
}
