/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package transport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/tejzpr/verto-go-sdk/verto"
)

func TestCorrelatorResolve(t *testing.T) {
	c := NewCorrelator(time.Second)

	ch := c.Track("42")
	reply := &verto.Envelope{JSONRPC: "2.0", ID: "42", Result: json.RawMessage(`{}`)}
	if !c.Resolve(reply) {
		t.Fatal("expected reply to be claimed by tracked request")
	}

	env, err := c.Await(context.Background(), "42", ch)
	if err != nil {
		t.Fatalf("Await() error: %v", err)
	}
	if env.ID != "42" {
		t.Errorf("got reply id %q, want %q", env.ID, "42")
	}

	// A second reply with the same id has nothing left to claim it.
	if c.Resolve(reply) {
		t.Error("duplicate reply should not resolve a second time")
	}
}

func TestCorrelatorUnknownReply(t *testing.T) {
	c := NewCorrelator(time.Second)
	reply := &verto.Envelope{JSONRPC: "2.0", ID: "never-tracked", Result: json.RawMessage(`{}`)}
	if c.Resolve(reply) {
		t.Error("reply with unknown id should not resolve")
	}
}

func TestCorrelatorTimeout(t *testing.T) {
	c := NewCorrelator(20 * time.Millisecond)

	ch := c.Track("7")
	if _, err := c.Await(context.Background(), "7", ch); err == nil {
		t.Fatal("expected timeout error, got nil")
	}

	// After the timeout the id is no longer tracked.
	if c.Resolve(&verto.Envelope{ID: "7", Result: json.RawMessage(`{}`)}) {
		t.Error("timed out request should have been cancelled")
	}
}

func TestCorrelatorAwaitContext(t *testing.T) {
	c := NewCorrelator(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	ch := c.Track("9")

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if _, err := c.Await(ctx, "9", ch); err != context.Canceled {
		t.Fatalf("got error %v, want context.Canceled", err)
	}
}

func TestCorrelatorDispatch(t *testing.T) {
	c := NewCorrelator(time.Second)

	invites := make(chan *verto.Envelope, 1)
	all := make(chan *verto.Envelope, 1)
	c.Subscribe(verto.MethodInvite, func(env *verto.Envelope) { invites <- env })
	c.Subscribe(SubscribeAll, func(env *verto.Envelope) { all <- env })

	c.Dispatch(&verto.Envelope{Method: verto.MethodInvite})
	select {
	case <-invites:
	case <-time.After(time.Second):
		t.Fatal("invite subscriber did not receive event")
	}
	select {
	case <-all:
		t.Fatal("wildcard should not fire when a specific subscriber claimed the event")
	default:
	}

	// Unrecognized methods fall through to the wildcard.
	c.Dispatch(&verto.Envelope{Method: "verto.display"})
	select {
	case env := <-all:
		if env.Method != "verto.display" {
			t.Errorf("wildcard got method %q, want %q", env.Method, "verto.display")
		}
	case <-time.After(time.Second):
		t.Fatal("wildcard subscriber did not receive unrecognized event")
	}
}
