/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tejzpr/verto-go-sdk/verto"
)

// fakeSender records every envelope written to the signaling transport.
type fakeSender struct {
	mu        sync.Mutex
	connected bool
	sent      []*verto.Envelope
}

func (s *fakeSender) Send(env *verto.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return errors.New("socket is not connected")
	}
	s.sent = append(s.sent, env)
	return nil
}

func (s *fakeSender) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// byMethod returns the recorded envelopes with the given method.
func (s *fakeSender) byMethod(method string) []*verto.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*verto.Envelope
	for _, env := range s.sent {
		if env.Method == method {
			out = append(out, env)
		}
	}
	return out
}

// fakeMedia is a controllable MediaSession. A non-nil answerGate makes
// CreateAnswer block until the gate closes, standing in for a slow ICE
// gather.
type fakeMedia struct {
	mu           sync.Mutex
	offerReady   func(sdp string)
	candidate    func(candidate string)
	failed       func(err error)
	addedCands   []string
	remoteSDP    string
	remoteSet    bool
	closed       bool
	answerSDP    string
	answerErr    error
	answerGate   chan struct{}
	createErr    error
	setRemoteErr error
}

func (m *fakeMedia) CreateOffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createErr
}

func (m *fakeMedia) CreateAnswer(remoteSDP string) (string, error) {
	if m.answerGate != nil {
		<-m.answerGate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.answerErr != nil {
		return "", m.answerErr
	}
	m.remoteSDP = remoteSDP
	m.remoteSet = true
	if m.answerSDP == "" {
		return "answer-sdp", nil
	}
	return m.answerSDP, nil
}

func (m *fakeMedia) SetRemoteDescription(sdp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setRemoteErr != nil {
		return m.setRemoteErr
	}
	m.remoteSDP = sdp
	m.remoteSet = true
	return nil
}

func (m *fakeMedia) AddICECandidate(candidate string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addedCands = append(m.addedCands, candidate)
	return nil
}

func (m *fakeMedia) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *fakeMedia) OnOfferReady(fn func(sdp string))         { m.offerReady = fn }
func (m *fakeMedia) OnICECandidate(fn func(candidate string)) { m.candidate = fn }
func (m *fakeMedia) OnConnectionFailed(fn func(err error))    { m.failed = fn }

func (m *fakeMedia) candidates() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.addedCands))
	copy(out, m.addedCands)
	return out
}

func (m *fakeMedia) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *fakeMedia) remoteOffer() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remoteSDP
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func outboundFixture(t *testing.T) (*Call, *fakeSender, *fakeMedia, *Registry) {
	t.Helper()
	sender := &fakeSender{connected: true}
	media := &fakeMedia{}
	reg := NewRegistry(&recordingMarker{})
	call, err := NewOutboundCall(CallOptions{
		SessionID: "sess-1",
		Sender:    sender,
		Registry:  reg,
		Media:     func() (MediaSession, error) { return media, nil },
	}, "Alice", "1000", "2000", "state")
	if err != nil {
		t.Fatalf("NewOutboundCall() error: %v", err)
	}
	reg.Add(call)
	return call, sender, media, reg
}

func inboundFixture(t *testing.T) (*Call, *fakeSender, *fakeMedia, *Registry) {
	t.Helper()
	return inboundFixtureMedia(t, &fakeMedia{})
}

func inboundFixtureMedia(t *testing.T, media *fakeMedia) (*Call, *fakeSender, *fakeMedia, *Registry) {
	t.Helper()
	sender := &fakeSender{connected: true}
	reg := NewRegistry(&recordingMarker{})
	call, err := NewInboundCall(CallOptions{
		SessionID: "sess-1",
		Sender:    sender,
		Registry:  reg,
		Media:     func() (MediaSession, error) { return media, nil },
	}, &verto.InviteEventParams{
		CallID:         "inbound-1",
		SDP:            "remote-offer",
		CallerIDName:   "Bob",
		CallerIDNumber: "3000",
	})
	if err != nil {
		t.Fatalf("NewInboundCall() error: %v", err)
	}
	reg.Add(call)
	return call, sender, media, reg
}

func TestOutboundSingleInvite(t *testing.T) {
	call, sender, media, _ := outboundFixture(t)

	if err := call.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// The engine reports the offer ready three times; only one invite
	// may go out.
	media.offerReady("offer-sdp")
	media.offerReady("offer-sdp-regathered")
	media.offerReady("offer-sdp-again")

	invites := sender.byMethod(verto.MethodInvite)
	if len(invites) != 1 {
		t.Fatalf("sent %d invites, want 1", len(invites))
	}
	if call.State() != CallStateOfferSent {
		t.Errorf("state = %s, want %s", call.State(), CallStateOfferSent)
	}

	var params verto.CallParams
	if err := invites[0].DecodeParams(&params); err != nil {
		t.Fatalf("DecodeParams() error: %v", err)
	}
	if params.DialogParams.CallerIDName != "Alice" {
		t.Errorf("callerIdName = %q, want %q", params.DialogParams.CallerIDName, "Alice")
	}
	if params.DialogParams.DestinationNumber != "2000" {
		t.Errorf("destinationNumber = %q, want %q", params.DialogParams.DestinationNumber, "2000")
	}
	wantState := base64.StdEncoding.EncodeToString([]byte("state"))
	if params.DialogParams.ClientState != wantState {
		t.Errorf("clientState = %q, want %q", params.DialogParams.ClientState, wantState)
	}
	if params.SDP != "offer-sdp" {
		t.Errorf("sdp = %q, want the first ready offer", params.SDP)
	}
	if params.SessionID != "sess-1" {
		t.Errorf("sessid = %q, want %q", params.SessionID, "sess-1")
	}
}

func TestOutboundInviteRetriesAfterDroppedSend(t *testing.T) {
	call, sender, media, _ := outboundFixture(t)
	sender.connected = false

	if err := call.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	media.offerReady("offer-sdp")
	if got := len(sender.byMethod(verto.MethodInvite)); got != 0 {
		t.Fatalf("sent %d invites while disconnected, want 0", got)
	}

	// Transport back: the next offer-ready may send, still exactly once.
	sender.connected = true
	media.offerReady("offer-sdp")
	media.offerReady("offer-sdp")
	if got := len(sender.byMethod(verto.MethodInvite)); got != 1 {
		t.Fatalf("sent %d invites, want 1", got)
	}
}

func TestOutboundRingingAnswerFlow(t *testing.T) {
	call, _, media, _ := outboundFixture(t)
	if err := call.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	media.offerReady("offer-sdp")

	call.OnRingingReceived()
	if call.State() != CallStateRinging {
		t.Fatalf("state = %s, want %s", call.State(), CallStateRinging)
	}

	call.OnAnswerReceived("remote-answer")
	if call.State() != CallStateActive {
		t.Fatalf("state = %s, want %s", call.State(), CallStateActive)
	}
	if media.remoteSDP != "remote-answer" {
		t.Errorf("remote description %q, want %q", media.remoteSDP, "remote-answer")
	}
}

func TestRingingIgnoredBeforeOffer(t *testing.T) {
	call, _, _, _ := outboundFixture(t)
	call.OnRingingReceived()
	if call.State() != CallStateNewOutbound {
		t.Errorf("state = %s, want %s", call.State(), CallStateNewOutbound)
	}
}

func TestCandidateBufferFlushOrder(t *testing.T) {
	call, _, media, _ := outboundFixture(t)
	if err := call.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	media.offerReady("offer-sdp")

	// Candidates arrive before the remote description.
	call.OnCandidateReceived("cand-1")
	call.OnCandidateReceived("cand-2")
	call.OnCandidateReceived("cand-3")
	if got := len(media.candidates()); got != 0 {
		t.Fatalf("%d candidates applied before remote description, want 0", got)
	}

	call.OnAnswerReceived("remote-answer")

	want := []string{"cand-1", "cand-2", "cand-3"}
	got := media.candidates()
	if len(got) != len(want) {
		t.Fatalf("applied %d candidates, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("candidate[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	// Candidates after the description apply immediately, queue stays
	// drained.
	call.OnCandidateReceived("cand-4")
	if got := media.candidates(); len(got) != 4 || got[3] != "cand-4" {
		t.Errorf("late candidate not applied directly: %v", got)
	}
}

func TestCandidateDroppedAfterTerminated(t *testing.T) {
	call, _, media, _ := outboundFixture(t)
	if err := call.End(); err != nil {
		t.Fatalf("End() error: %v", err)
	}
	call.OnCandidateReceived("cand-late")
	if got := len(media.candidates()); got != 0 {
		t.Errorf("%d candidates applied after termination, want 0", got)
	}
}

func TestRemoteByeTerminatesAndRemoves(t *testing.T) {
	call, _, media, reg := outboundFixture(t)
	if err := call.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	media.offerReady("offer-sdp")
	call.OnAnswerReceived("remote-answer")

	call.OnByeReceived("NORMAL_CLEARING")
	if call.State() != CallStateTerminated {
		t.Errorf("state = %s, want %s", call.State(), CallStateTerminated)
	}
	if _, ok := reg.Get(call.ID()); ok {
		t.Error("terminated call still in registry")
	}
	if !media.isClosed() {
		t.Error("media session not closed on termination")
	}
}

func TestLocalEndSendsByeBestEffort(t *testing.T) {
	call, sender, media, reg := outboundFixture(t)
	if err := call.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	media.offerReady("offer-sdp")

	// Hung up before the remote answered: originator cancel.
	if err := call.End(); err != nil {
		t.Fatalf("End() error: %v", err)
	}
	byes := sender.byMethod(verto.MethodBye)
	if len(byes) != 1 {
		t.Fatalf("sent %d byes, want 1", len(byes))
	}
	var params verto.ByeParams
	if err := byes[0].DecodeParams(&params); err != nil {
		t.Fatalf("DecodeParams() error: %v", err)
	}
	if params.Cause != verto.CauseOriginatorCancel || params.CauseCode != verto.CauseCodeCancel {
		t.Errorf("cause = %s/%d, want %s/%d", params.Cause, params.CauseCode,
			verto.CauseOriginatorCancel, verto.CauseCodeCancel)
	}
	if call.State() != CallStateTerminated {
		t.Errorf("state = %s, want %s", call.State(), CallStateTerminated)
	}
	if reg.Ongoing() {
		t.Error("registry still ongoing after End")
	}

	// Ending again is a no-op.
	if err := call.End(); err != nil {
		t.Fatalf("second End() error: %v", err)
	}
	if got := len(sender.byMethod(verto.MethodBye)); got != 1 {
		t.Errorf("sent %d byes after double End, want 1", got)
	}
}

func TestEndTerminatesEvenWhenByeDropped(t *testing.T) {
	call, sender, _, reg := outboundFixture(t)
	sender.connected = false
	if err := call.End(); err != nil {
		t.Fatalf("End() error: %v", err)
	}
	if call.State() != CallStateTerminated {
		t.Errorf("state = %s, want %s", call.State(), CallStateTerminated)
	}
	if reg.Ongoing() {
		t.Error("registry still ongoing after End with dropped bye")
	}
}

func TestInboundAcceptFlow(t *testing.T) {
	call, sender, media, _ := inboundFixture(t)

	call.Ring()
	if call.State() != CallStateRinging {
		t.Fatalf("state = %s, want %s", call.State(), CallStateRinging)
	}
	if got := len(sender.byMethod(verto.MethodRinging)); got != 1 {
		t.Errorf("sent %d ringing acks, want 1", got)
	}

	if err := call.Accept(); err != nil {
		t.Fatalf("Accept() error: %v", err)
	}
	waitFor(t, "active call", func() bool { return call.State() == CallStateActive })
	if got := media.remoteOffer(); got != "remote-offer" {
		t.Errorf("answer built from %q, want the invite offer", got)
	}

	answers := sender.byMethod(verto.MethodAnswer)
	if len(answers) != 1 {
		t.Fatalf("sent %d answers, want 1", len(answers))
	}
	var params verto.CallParams
	if err := answers[0].DecodeParams(&params); err != nil {
		t.Fatalf("DecodeParams() error: %v", err)
	}
	if params.SDP != "answer-sdp" {
		t.Errorf("answer sdp = %q, want %q", params.SDP, "answer-sdp")
	}
	if params.DialogParams.CallID != "inbound-1" {
		t.Errorf("callId = %q, want %q", params.DialogParams.CallID, "inbound-1")
	}
}

func TestInboundRejectSendsBusy(t *testing.T) {
	call, sender, _, reg := inboundFixture(t)
	call.Ring()

	if err := call.Reject(); err != nil {
		t.Fatalf("Reject() error: %v", err)
	}
	byes := sender.byMethod(verto.MethodBye)
	if len(byes) != 1 {
		t.Fatalf("sent %d byes, want 1", len(byes))
	}
	var params verto.ByeParams
	if err := byes[0].DecodeParams(&params); err != nil {
		t.Fatalf("DecodeParams() error: %v", err)
	}
	if params.Cause != verto.CauseUserBusy || params.CauseCode != verto.CauseCodeBusy {
		t.Errorf("cause = %s/%d, want %s/%d", params.Cause, params.CauseCode,
			verto.CauseUserBusy, verto.CauseCodeBusy)
	}
	if reg.Ongoing() {
		t.Error("registry still ongoing after Reject")
	}
}

func TestInboundAnswerFailureTerminates(t *testing.T) {
	sender := &fakeSender{connected: true}
	media := &fakeMedia{answerErr: fmt.Errorf("no codecs")}
	reg := NewRegistry(&recordingMarker{})
	tasks := make(chan func(), 4)
	call, err := NewInboundCall(CallOptions{
		SessionID: "sess-1",
		Sender:    sender,
		Registry:  reg,
		Media:     func() (MediaSession, error) { return media, nil },
		Run:       func(task func()) { tasks <- task },
	}, &verto.InviteEventParams{CallID: "inbound-1", SDP: "remote-offer"})
	if err != nil {
		t.Fatalf("NewInboundCall() error: %v", err)
	}
	reg.Add(call)
	call.Ring()

	// The answer preparation comes back with the failure.
	(<-tasks)()

	if call.State() != CallStateTerminated {
		t.Errorf("state = %s, want %s", call.State(), CallStateTerminated)
	}
	if reg.Ongoing() {
		t.Error("failed call left in registry")
	}
	if err := call.Accept(); err == nil {
		t.Error("Accept() succeeded on a terminated call")
	}
}

func TestAcceptBeforeAnswerGathered(t *testing.T) {
	gate := make(chan struct{})
	call, sender, _, _ := inboundFixtureMedia(t, &fakeMedia{answerGate: gate})

	call.Ring()
	if err := call.Accept(); err != nil {
		t.Fatalf("Accept() error: %v", err)
	}

	// Gathering still running: Accept returned without sending anything.
	if got := len(sender.byMethod(verto.MethodAnswer)); got != 0 {
		t.Fatalf("sent %d answers before gathering finished, want 0", got)
	}
	if call.State() != CallStateRinging {
		t.Fatalf("state = %s, want %s", call.State(), CallStateRinging)
	}

	close(gate)
	waitFor(t, "answer sent", func() bool {
		return len(sender.byMethod(verto.MethodAnswer)) == 1
	})
	waitFor(t, "active call", func() bool { return call.State() == CallStateActive })
}

func TestTogglesAndFlagReset(t *testing.T) {
	call, sender, media, _ := outboundFixture(t)
	if err := call.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	media.offerReady("offer-sdp")
	call.OnAnswerReceived("remote-answer")

	if !call.ToggleMute() || !call.IsMuted() {
		t.Error("first mute toggle did not mute")
	}
	if call.ToggleMute() || call.IsMuted() {
		t.Error("second mute toggle did not unmute")
	}

	if !call.ToggleHold() || !call.IsHeld() {
		t.Error("first hold toggle did not hold")
	}
	if call.State() != CallStateHeld {
		t.Errorf("state = %s, want %s", call.State(), CallStateHeld)
	}
	if call.ToggleHold() || call.IsHeld() {
		t.Error("second hold toggle did not resume")
	}
	if call.State() != CallStateActive {
		t.Errorf("state = %s, want %s", call.State(), CallStateActive)
	}

	mods := sender.byMethod(verto.MethodModify)
	if len(mods) != 2 {
		t.Fatalf("sent %d modify notifications, want 2", len(mods))
	}
	var hold verto.ModifyParams
	if err := mods[0].DecodeParams(&hold); err != nil {
		t.Fatalf("DecodeParams() error: %v", err)
	}
	if hold.Action != verto.ModifyActionHold {
		t.Errorf("first modify action = %q, want %q", hold.Action, verto.ModifyActionHold)
	}

	if !call.ToggleLoudspeaker() || !call.IsOnLoudspeaker() {
		t.Error("loudspeaker toggle did not engage")
	}
	call.ToggleMute()

	// Termination resets every flag.
	call.OnByeReceived("")
	if call.IsMuted() || call.IsHeld() || call.IsOnLoudspeaker() {
		t.Error("flags survive termination")
	}
}

func TestHoldIgnoredBeforeActive(t *testing.T) {
	call, sender, _, _ := outboundFixture(t)
	if call.ToggleHold() {
		t.Error("hold engaged before the call was active")
	}
	if got := len(sender.byMethod(verto.MethodModify)); got != 0 {
		t.Errorf("sent %d modify notifications, want 0", got)
	}
}

func TestSendDigit(t *testing.T) {
	call, sender, media, _ := outboundFixture(t)

	if err := call.SendDigit("5"); err == nil {
		t.Error("SendDigit succeeded before the call was active")
	}

	if err := call.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	media.offerReady("offer-sdp")
	call.OnAnswerReceived("remote-answer")

	if err := call.SendDigit("5"); err != nil {
		t.Fatalf("SendDigit() error: %v", err)
	}
	infos := sender.byMethod(verto.MethodInfo)
	if len(infos) != 1 {
		t.Fatalf("sent %d info messages, want 1", len(infos))
	}
	var params verto.InfoParams
	if err := infos[0].DecodeParams(&params); err != nil {
		t.Fatalf("DecodeParams() error: %v", err)
	}
	if params.DTMF != "5" {
		t.Errorf("dtmf = %q, want %q", params.DTMF, "5")
	}
}

func TestMediaFailureTerminatesCall(t *testing.T) {
	call, _, media, reg := outboundFixture(t)
	if err := call.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	media.offerReady("offer-sdp")
	call.OnAnswerReceived("remote-answer")

	errs := make(chan interface{}, 1)
	call.Emitter.On(string(CallEventError), func(data interface{}) { errs <- data })

	media.failed(fmt.Errorf("dtls timeout"))

	select {
	case <-errs:
	default:
		t.Error("media failure did not emit a call error")
	}
	if call.State() != CallStateTerminated {
		t.Errorf("state = %s, want %s", call.State(), CallStateTerminated)
	}
	if reg.Ongoing() {
		t.Error("failed call left in registry")
	}
}

func TestLocalCandidatesTrickled(t *testing.T) {
	call, sender, media, _ := outboundFixture(t)
	if err := call.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	media.offerReady("offer-sdp")

	media.candidate("local-cand-1")
	cands := sender.byMethod(verto.MethodCandidate)
	if len(cands) != 1 {
		t.Fatalf("sent %d candidate messages, want 1", len(cands))
	}
	var params verto.CandidateEventParams
	if err := cands[0].DecodeParams(&params); err != nil {
		t.Fatalf("DecodeParams() error: %v", err)
	}
	if params.Candidate != "local-cand-1" {
		t.Errorf("candidate = %q, want %q", params.Candidate, "local-cand-1")
	}
	if params.CallID != call.ID() {
		t.Errorf("callID = %q, want %q", params.CallID, call.ID())
	}
}
