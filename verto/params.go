/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package verto

import "encoding/base64"

// LoginParams is the params payload for the login method. Exactly one of
// LoginToken or Login+Password is set, depending on the auth mode.
type LoginParams struct {
	LoginToken    string   `json:"login_token,omitempty"`
	Login         string   `json:"login,omitempty"`
	Password      string   `json:"passwd,omitempty"`
	UserVariables []string `json:"userVariables"`
	LoginParams   []string `json:"loginParams"`
	FCMToken      string   `json:"fcmToken,omitempty"`
	SessionID     string   `json:"sessid,omitempty"`
}

// LoginResult is the result payload of a successful login reply. The
// session id scopes every subsequent call-control message.
type LoginResult struct {
	SessionID string `json:"sessid"`
}

// DialogParams identifies a call leg on invite, answer, bye and info
// messages. ClientState is an opaque application blob, base64-encoded.
type DialogParams struct {
	CallerIDName       string `json:"callerIdName,omitempty"`
	CallerIDNumber     string `json:"callerIdNumber,omitempty"`
	ClientState        string `json:"clientState,omitempty"`
	CallID             string `json:"callId"`
	DestinationNumber  string `json:"destinationNumber,omitempty"`
	RemoteCallerIDName string `json:"remoteCallerIdName,omitempty"`
	Audio              bool   `json:"audio,omitempty"`
}

// CallParams is the params payload for verto.invite and verto.answer
// requests sent by this client.
type CallParams struct {
	SessionID    string       `json:"sessid"`
	SDP          string       `json:"sdp"`
	DialogParams DialogParams `json:"dialogParams"`
}

// Bye cause codes, mirroring the call-clearing causes on the wire.
const (
	CauseNormalClearing   = "NORMAL_CLEARING"
	CauseUserBusy         = "USER_BUSY"
	CauseOriginatorCancel = "ORIGINATOR_CANCEL"
	CauseCodeNormal       = 16
	CauseCodeBusy         = 17
	CauseCodeCancel       = 487
)

// ByeParams is the params payload for a verto.bye request.
type ByeParams struct {
	SessionID    string       `json:"sessid"`
	CauseCode    int          `json:"causeCode"`
	Cause        string       `json:"cause"`
	DialogParams DialogParams `json:"dialogParams"`
}

// InfoParams is the params payload for a verto.info request. DTMF digits
// are delivered in-band on the signaling channel.
type InfoParams struct {
	SessionID    string       `json:"sessid"`
	DTMF         string       `json:"dtmf"`
	DialogParams DialogParams `json:"dialogParams"`
}

// Modify actions for mid-call verto.modify requests.
const (
	ModifyActionHold   = "hold"
	ModifyActionUnhold = "unhold"
)

// ModifyParams is the params payload for a verto.modify request.
type ModifyParams struct {
	SessionID    string       `json:"sessid"`
	Action       string       `json:"action"`
	DialogParams DialogParams `json:"dialogParams"`
}

// InviteEventParams is the params payload of an inbound verto.invite event
// announcing an incoming call.
type InviteEventParams struct {
	CallID         string `json:"callID"`
	SDP            string `json:"sdp"`
	CallerIDName   string `json:"caller_id_name"`
	CallerIDNumber string `json:"caller_id_number"`
}

// AnswerEventParams is the params payload of a verto.answer event carrying
// the remote answer SDP for a call this client originated.
type AnswerEventParams struct {
	CallID string `json:"callID"`
	SDP    string `json:"sdp"`
}

// MediaEventParams is the params payload of a verto.media event (early
// media / remote description updates).
type MediaEventParams struct {
	CallID string `json:"callID"`
	SDP    string `json:"sdp"`
}

// ByeEventParams is the params payload of a verto.bye event ending a call
// from the remote side.
type ByeEventParams struct {
	CallID    string `json:"callID"`
	Cause     string `json:"cause,omitempty"`
	CauseCode int    `json:"causeCode,omitempty"`
}

// RingingEventParams is the params payload of a verto.ringing event.
type RingingEventParams struct {
	CallID string `json:"callID"`
}

// CandidateEventParams is the params payload of a verto.candidate event
// carrying a trickled remote ICE candidate.
type CandidateEventParams struct {
	CallID        string `json:"callID"`
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
}

// EncodeClientState encodes the opaque application state blob for the wire.
func EncodeClientState(state string) string {
	if state == "" {
		return ""
	}
	return base64.StdEncoding.EncodeToString([]byte(state))
}

// DecodeClientState decodes a client-state blob received on the wire. A
// blob that is not valid base64 is returned unchanged.
func DecodeClientState(encoded string) string {
	if encoded == "" {
		return ""
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return encoded
	}
	return string(decoded)
}
