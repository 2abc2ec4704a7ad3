/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package vertosdk

import (
	"errors"
	"fmt"
)

// ClientError is the base error type for all signaling client errors.
// All specific error sub-types embed this struct, so consumers can use
// errors.As(err, &clientErr) to access common fields regardless of the
// specific error type.
type ClientError struct {
	// Message describes the failure.
	Message string

	// CallID is set when the error concerns a specific call.
	CallID string

	// Code is the error code from the server reply, when one exists.
	Code int

	// Err is an optional wrapped error for errors.Unwrap support.
	Err error
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	msg := e.Message
	if e.CallID != "" {
		msg += " (callId: " + e.CallID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the wrapped error, if any.
func (e *ClientError) Unwrap() error {
	return e.Err
}

// --- Specific error sub-types ---

// NetworkUnavailableError is returned when no network path to the server
// exists. It is surfaced, never retried automatically.
type NetworkUnavailableError struct {
	*ClientError
}

// Unwrap returns the underlying ClientError for errors.As traversal.
func (e *NetworkUnavailableError) Unwrap() error { return e.ClientError }

// TransportError is a socket-level failure. It triggers the session's
// Reconnecting path.
type TransportError struct {
	*ClientError
}

// Unwrap returns the underlying ClientError for errors.As traversal.
func (e *TransportError) Unwrap() error { return e.ClientError }

// ProtocolError is a malformed or unexpected envelope. It is logged and
// ignored; it never tears down the session.
type ProtocolError struct {
	*ClientError
}

// Unwrap returns the underlying ClientError for errors.As traversal.
func (e *ProtocolError) Unwrap() error { return e.ClientError }

// AuthError is an explicit login error envelope. The session remains
// Connected but unauthenticated.
type AuthError struct {
	*ClientError
}

// Unwrap returns the underlying ClientError for errors.As traversal.
func (e *AuthError) Unwrap() error { return e.ClientError }

// CallError is a media engine failure scoped to one call. That call moves
// to Terminated; other calls are unaffected.
type CallError struct {
	*ClientError
}

// Unwrap returns the underlying ClientError for errors.As traversal.
func (e *CallError) Unwrap() error { return e.ClientError }

// UnknownCallReferenceError marks an event referencing a call id absent
// from the registry. Ignored with a diagnostic.
type UnknownCallReferenceError struct {
	*ClientError
}

// Unwrap returns the underlying ClientError for errors.As traversal.
func (e *UnknownCallReferenceError) Unwrap() error { return e.ClientError }

// --- Factories ---

func newNetworkUnavailableError(msg string) error {
	return &NetworkUnavailableError{&ClientError{Message: msg}}
}

func newTransportError(msg string, err error) error {
	return &TransportError{&ClientError{Message: msg, Err: err}}
}

func newProtocolError(msg string, err error) error {
	return &ProtocolError{&ClientError{Message: msg, Err: err}}
}

func newAuthError(msg string, code int, err error) error {
	return &AuthError{&ClientError{Message: msg, Code: code, Err: err}}
}

func newCallError(callID string, err error) error {
	return &CallError{&ClientError{Message: "call failed", CallID: callID, Err: err}}
}

func newUnknownCallReferenceError(method, callID string) error {
	return &UnknownCallReferenceError{&ClientError{
		Message: fmt.Sprintf("%s references unknown call", method),
		CallID:  callID,
	}}
}

// --- Convenience functions ---

// IsNetworkUnavailable reports whether err marks a missing network path.
func IsNetworkUnavailable(err error) bool {
	var e *NetworkUnavailableError
	return errors.As(err, &e)
}

// IsTransportError reports whether err is a socket-level failure.
func IsTransportError(err error) bool {
	var e *TransportError
	return errors.As(err, &e)
}

// IsProtocolError reports whether err marks a malformed envelope.
func IsProtocolError(err error) bool {
	var e *ProtocolError
	return errors.As(err, &e)
}

// IsAuthError reports whether err is a login failure.
func IsAuthError(err error) bool {
	var e *AuthError
	return errors.As(err, &e)
}

// IsCallError reports whether err is a call-scoped media failure.
func IsCallError(err error) bool {
	var e *CallError
	return errors.As(err, &e)
}

// IsUnknownCallReference reports whether err marks an event for an
// unregistered call.
func IsUnknownCallReference(err error) bool {
	var e *UnknownCallReferenceError
	return errors.As(err, &e)
}
