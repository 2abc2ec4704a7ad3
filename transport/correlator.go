/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tejzpr/verto-go-sdk/verto"
)

// SubscribeAll is the method name that receives every event not claimed
// by a more specific subscription.
const SubscribeAll = "*"

// EventHandler handles an unsolicited server event.
type EventHandler func(env *verto.Envelope)

// Correlator matches replies to in-flight requests by envelope id and
// routes unsolicited events to subscribers by method name. Every tracked
// request resolves exactly once or times out.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]chan *verto.Envelope
	subs    map[string][]EventHandler
	timeout time.Duration
}

// NewCorrelator creates a correlator with the given default await timeout.
func NewCorrelator(timeout time.Duration) *Correlator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Correlator{
		pending: make(map[string]chan *verto.Envelope),
		subs:    make(map[string][]EventHandler),
		timeout: timeout,
	}
}

// Track registers an in-flight request id. The returned channel receives
// the reply exactly once. Call Cancel if the request is abandoned.
func (c *Correlator) Track(id string) <-chan *verto.Envelope {
	ch := make(chan *verto.Envelope, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	return ch
}

// Cancel drops a tracked request id. No-op if the id is unknown.
func (c *Correlator) Cancel(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Resolve delivers a reply to its tracked request. It reports whether a
// request claimed the reply; a second reply with the same id is not
// delivered anywhere.
func (c *Correlator) Resolve(env *verto.Envelope) bool {
	c.mu.Lock()
	ch, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	ch <- env
	return true
}

// Await blocks for the reply to a tracked id, bounded by the correlator
// timeout and ctx.
func (c *Correlator) Await(ctx context.Context, id string, ch <-chan *verto.Envelope) (*verto.Envelope, error) {
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case env := <-ch:
		return env, nil
	case <-timer.C:
		c.Cancel(id)
		return nil, fmt.Errorf("request %s timed out after %s", id, c.timeout)
	case <-ctx.Done():
		c.Cancel(id)
		return nil, ctx.Err()
	}
}

// Subscribe registers a handler for events with the given method name.
// Use SubscribeAll to receive events no specific subscriber claimed.
func (c *Correlator) Subscribe(method string, handler EventHandler) {
	if handler == nil {
		return
	}
	c.mu.Lock()
	c.subs[method] = append(c.subs[method], handler)
	c.mu.Unlock()
}

// Dispatch routes an unsolicited event to its subscribers. Events with no
// specific subscriber fall through to the SubscribeAll handlers, which is
// where unrecognized methods surface as opaque events.
func (c *Correlator) Dispatch(env *verto.Envelope) {
	c.mu.Lock()
	handlers := make([]EventHandler, len(c.subs[env.Method]))
	copy(handlers, c.subs[env.Method])
	var fallback []EventHandler
	if len(handlers) == 0 {
		fallback = make([]EventHandler, len(c.subs[SubscribeAll]))
		copy(fallback, c.subs[SubscribeAll])
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(env)
	}
	for _, h := range fallback {
		h(env)
	}
}
