/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package verto implements the wire protocol spoken over the signaling
// WebSocket: a JSON-RPC-like envelope carrying call-control methods
// (login, invite, answer, bye, ...) and their parameter payloads.
package verto

import (
	"encoding/json"
	"fmt"
)

// JSONRPCVersion is the version tag carried on every outbound envelope.
const JSONRPCVersion = "2.0"

// Signaling methods. Requests from this client carry a non-empty id;
// unsolicited server events carry an empty id.
const (
	MethodLogin       = "login"
	MethodInvite      = "verto.invite"
	MethodAnswer      = "verto.answer"
	MethodBye         = "verto.bye"
	MethodModify      = "verto.modify"
	MethodInfo        = "verto.info"
	MethodRinging     = "verto.ringing"
	MethodMedia       = "verto.media"
	MethodCandidate   = "verto.candidate"
	MethodClientReady = "verto.clientReady"
)

// Envelope is the JSON envelope for every frame exchanged on the socket.
// Exactly one of Method (request/event), Result (success reply) or
// Error (failure reply) is meaningful for a given frame.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorBody      `json:"error,omitempty"`
}

// ErrorBody is the error member of a failure reply.
type ErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewRequest builds a request envelope with the given correlator id.
func NewRequest(id, method string, params interface{}) (*Envelope, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s params: %w", method, err)
	}
	return &Envelope{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  raw,
	}, nil
}

// ParseEnvelope decodes a raw frame into an Envelope. The frame must be a
// JSON object; anything else is a protocol error for the caller to surface.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed signaling frame: %w", err)
	}
	if env.Method == "" && env.Result == nil && env.Error == nil {
		return nil, fmt.Errorf("signaling frame carries neither method nor result")
	}
	return &env, nil
}

// IsRequest reports whether the envelope is a request expecting a reply.
func (e *Envelope) IsRequest() bool {
	return e.ID != "" && e.Method != ""
}

// IsReply reports whether the envelope is a response (success or error)
// to a request previously sent by this client.
func (e *Envelope) IsReply() bool {
	return e.ID != "" && e.Method == "" && (e.Result != nil || e.Error != nil)
}

// IsEvent reports whether the envelope is an unsolicited server event.
func (e *Envelope) IsEvent() bool {
	return e.Method != "" && !e.IsReply()
}

// DecodeParams unmarshals the params member into v.
func (e *Envelope) DecodeParams(v interface{}) error {
	if e.Params == nil {
		return fmt.Errorf("%s envelope has no params", e.Method)
	}
	if err := json.Unmarshal(e.Params, v); err != nil {
		return fmt.Errorf("failed to decode %s params: %w", e.Method, err)
	}
	return nil
}

// DecodeResult unmarshals the result member of a success reply into v.
func (e *Envelope) DecodeResult(v interface{}) error {
	if e.Result == nil {
		return fmt.Errorf("envelope %s has no result", e.ID)
	}
	if err := json.Unmarshal(e.Result, v); err != nil {
		return fmt.Errorf("failed to decode result for %s: %w", e.ID, err)
	}
	return nil
}

// Marshal serializes the envelope for transmission.
func (e *Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}
