/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import "sync"

// ---- Call State & Event Enums ----

// CallState represents the state of a call in the state machine
type CallState string

const (
	CallStateNewOutbound  CallState = "new_outbound"
	CallStateNewInbound   CallState = "new_inbound"
	CallStateOfferSent    CallState = "offer_sent"
	CallStateRinging      CallState = "ringing"
	CallStateActive       CallState = "active"
	CallStateHeld         CallState = "held"
	CallStateEndingLocal  CallState = "ending_local"
	CallStateEndingRemote CallState = "ending_remote"
	CallStateTerminated   CallState = "terminated"
)

// Direction indicates who originated a call.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// CallEventKey identifies the type of call event
type CallEventKey string

const (
	CallEventStateChanged CallEventKey = "state_changed"
	CallEventRinging      CallEventKey = "ringing"
	CallEventAnswered     CallEventKey = "answered"
	CallEventHeld         CallEventKey = "held"
	CallEventResumed      CallEventKey = "resumed"
	CallEventMuted        CallEventKey = "muted"
	CallEventUnmuted      CallEventKey = "unmuted"
	CallEventEnded        CallEventKey = "ended"
	CallEventError        CallEventKey = "call_error"
)

// StateChange is the payload carried on CallEventStateChanged events.
type StateChange struct {
	CallID string
	From   CallState
	To     CallState
}

// ---- Event Emitter ----

// EventHandler is a callback function for events
type EventHandler func(data interface{})

// EventEmitter provides a simple event pub/sub system
type EventEmitter struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
}

// NewEventEmitter creates a new EventEmitter
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{
		handlers: make(map[string][]EventHandler),
	}
}

// On registers an event handler for a specific event type
func (e *EventEmitter) On(event string, handler EventHandler) {
	if handler == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[event] = append(e.handlers[event], handler)
}

// Off removes all handlers for a specific event type
func (e *EventEmitter) Off(event string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, event)
}

// Emit fires an event, calling all registered handlers
func (e *EventEmitter) Emit(event string, data interface{}) {
	e.mu.RLock()
	handlers := make([]EventHandler, len(e.handlers[event]))
	copy(handlers, e.handlers[event])
	e.mu.RUnlock()

	for _, handler := range handlers {
		handler(data)
	}
}
