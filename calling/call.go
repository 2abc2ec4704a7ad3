/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/tejzpr/verto-go-sdk/verto"
)

// Sender is the signaling transport a call writes to. The session swaps
// it after a reconnect; Send on a closed transport reports an error and
// the message is simply dropped.
type Sender interface {
	Send(env *verto.Envelope) error
	IsConnected() bool
}

// pendingInvite tracks the outbound offer until its invite goes out.
// The sent flag guarantees at most one invite per call no matter how
// many times the media engine reports the offer ready.
type pendingInvite struct {
	offerSDP string
	sent     bool
}

// Call is one leg of a session: a signaling state machine over a media
// session. All state mutation is expected on the session's serialized
// executor; media engine callbacks re-enter through the run hook.
type Call struct {
	mu sync.RWMutex

	// Call identifiers
	id        string
	sessionID string

	// Call properties
	direction      Direction
	state          CallState
	callerIDName   string
	callerIDNumber string
	destination    string
	clientState    string
	remoteName     string
	remoteNumber   string

	// Per-call flags, reset when the call terminates
	muted       bool
	held        bool
	loudspeaker bool

	// Outbound offer bookkeeping
	invite pendingInvite

	// Remote ICE candidates received before the remote description;
	// flushed in receipt order exactly once.
	pendingCandidates []string
	remoteSDPSet      bool

	// Inbound answer, prepared as soon as the invite arrives so Accept
	// never waits on ICE gathering.
	remoteOfferSDP  string
	localAnswerSDP  string
	answerReady     bool
	acceptRequested bool

	sender   Sender
	media    MediaSession
	audio    *AudioController
	registry *Registry
	run      func(task func())

	// Events
	Emitter *EventEmitter
}

// CallOptions wires a call into its session.
type CallOptions struct {
	// SessionID is the server-issued session scope for signaling.
	SessionID string
	// Sender is the current signaling transport.
	Sender Sender
	// Registry is the session call registry; the call removes itself
	// on termination.
	Registry *Registry
	// Audio drives tones and routing on state transitions. Optional.
	Audio *AudioController
	// Media builds the media session backing this call.
	Media MediaFactory
	// Run submits a task to the session's serialized executor. Media
	// engine callbacks re-enter through it. Optional; defaults to
	// direct invocation.
	Run func(task func())
}

func (o *CallOptions) runner() func(func()) {
	if o.Run != nil {
		return o.Run
	}
	return func(task func()) { task() }
}

// NewOutboundCall creates a call this client originates. Start begins
// media negotiation.
func NewOutboundCall(opts CallOptions, callerName, callerNumber, destination, clientState string) (*Call, error) {
	if opts.Media == nil {
		return nil, fmt.Errorf("media factory is required")
	}
	media, err := opts.Media()
	if err != nil {
		return nil, fmt.Errorf("failed to create media session: %w", err)
	}

	c := &Call{
		id:             uuid.New().String(),
		sessionID:      opts.SessionID,
		direction:      DirectionOutbound,
		state:          CallStateNewOutbound,
		callerIDName:   callerName,
		callerIDNumber: callerNumber,
		destination:    destination,
		clientState:    clientState,
		sender:         opts.Sender,
		media:          media,
		audio:          opts.Audio,
		registry:       opts.Registry,
		run:            opts.runner(),
		Emitter:        NewEventEmitter(),
	}
	c.wireMedia()
	return c, nil
}

// NewInboundCall creates a call from a verto.invite event announcing an
// incoming call. Ring signals the remote party; Accept or Reject decide it.
func NewInboundCall(opts CallOptions, invite *verto.InviteEventParams) (*Call, error) {
	if invite == nil || invite.CallID == "" {
		return nil, fmt.Errorf("invite event carries no call id")
	}
	if opts.Media == nil {
		return nil, fmt.Errorf("media factory is required")
	}
	media, err := opts.Media()
	if err != nil {
		return nil, fmt.Errorf("failed to create media session: %w", err)
	}

	c := &Call{
		id:             invite.CallID,
		sessionID:      opts.SessionID,
		direction:      DirectionInbound,
		state:          CallStateNewInbound,
		remoteName:     invite.CallerIDName,
		remoteNumber:   invite.CallerIDNumber,
		remoteOfferSDP: invite.SDP,
		sender:         opts.Sender,
		media:          media,
		audio:          opts.Audio,
		registry:       opts.Registry,
		run:            opts.runner(),
		Emitter:        NewEventEmitter(),
	}
	c.wireMedia()
	c.prepareAnswer()
	return c, nil
}

// wireMedia routes media engine callbacks back through the serialized
// executor.
func (c *Call) wireMedia() {
	c.media.OnOfferReady(func(sdp string) {
		c.run(func() { c.onOfferReady(sdp) })
	})
	c.media.OnICECandidate(func(candidate string) {
		c.run(func() { c.onLocalCandidate(candidate) })
	})
	c.media.OnConnectionFailed(func(err error) {
		c.run(func() { c.onMediaFailed(err) })
	})
}

// ---- Accessors ----

// ID returns the call id.
func (c *Call) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// State returns the current call state.
func (c *Call) State() CallState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// GetDirection returns who originated the call.
func (c *Call) GetDirection() Direction {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.direction
}

// IsMuted returns whether local audio capture is muted.
func (c *Call) IsMuted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.muted
}

// IsHeld returns whether the call is on hold.
func (c *Call) IsHeld() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.held
}

// IsOnLoudspeaker returns whether audio routes to the loudspeaker.
func (c *Call) IsOnLoudspeaker() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loudspeaker
}

// RemoteName returns the remote party display name of an inbound call.
func (c *Call) RemoteName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.remoteName
}

// RemoteNumber returns the remote party number of an inbound call.
func (c *Call) RemoteNumber() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.remoteNumber
}

// SetSender swaps the signaling transport after a reconnect.
func (c *Call) SetSender(sender Sender) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sender = sender
}

// SetSessionID re-scopes the call after a re-login issued a new session.
func (c *Call) SetSessionID(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
}

// ---- Outbound flow ----

// Start begins media negotiation for an outbound call. The invite goes
// out when the engine reports the offer ready.
func (c *Call) Start() error {
	c.mu.Lock()
	if c.state != CallStateNewOutbound {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot start: call is in state %s", state)
	}
	c.mu.Unlock()

	if err := c.media.CreateOffer(); err != nil {
		c.fail(fmt.Errorf("failed to create offer: %w", err))
		return err
	}
	return nil
}

// onOfferReady sends the invite for a fresh offer. The engine may report
// the offer ready more than once; only the first report sends.
func (c *Call) onOfferReady(sdp string) {
	c.mu.Lock()
	if c.state == CallStateTerminated {
		c.mu.Unlock()
		return
	}
	if c.invite.sent {
		c.mu.Unlock()
		log.Printf("call %s: offer ready again after invite, ignoring", c.id)
		return
	}
	c.invite.offerSDP = sdp

	params := verto.CallParams{
		SessionID: c.sessionID,
		SDP:       sdp,
		DialogParams: verto.DialogParams{
			CallerIDName:      c.callerIDName,
			CallerIDNumber:    c.callerIDNumber,
			ClientState:       verto.EncodeClientState(c.clientState),
			CallID:            c.id,
			DestinationNumber: c.destination,
			Audio:             true,
		},
	}
	sender := c.sender
	c.mu.Unlock()

	env, err := verto.NewRequest(uuid.New().String(), verto.MethodInvite, params)
	if err != nil {
		c.fail(err)
		return
	}
	if err := sender.Send(env); err != nil {
		// Not delivered; a later offer-ready may retry.
		log.Printf("call %s: invite not sent: %v", c.id, err)
		return
	}

	c.mu.Lock()
	c.invite.sent = true
	c.mu.Unlock()
	c.setState(CallStateOfferSent)
}

// onLocalCandidate trickles a locally gathered candidate to the server.
func (c *Call) onLocalCandidate(candidate string) {
	c.mu.RLock()
	if c.state == CallStateTerminated {
		c.mu.RUnlock()
		return
	}
	params := verto.CandidateEventParams{
		CallID:    c.id,
		Candidate: candidate,
	}
	sender := c.sender
	c.mu.RUnlock()

	env, err := verto.NewRequest(uuid.New().String(), verto.MethodCandidate, params)
	if err != nil {
		log.Printf("call %s: candidate not sent: %v", c.id, err)
		return
	}
	if err := sender.Send(env); err != nil {
		log.Printf("call %s: candidate not sent: %v", c.id, err)
	}
}

// OnRingingReceived handles a verto.ringing event for this call.
func (c *Call) OnRingingReceived() {
	c.mu.Lock()
	if c.state != CallStateOfferSent {
		state := c.state
		c.mu.Unlock()
		log.Printf("call %s: ringing in state %s, ignoring", c.id, state)
		return
	}
	c.mu.Unlock()

	c.setState(CallStateRinging)
	c.Emitter.Emit(string(CallEventRinging), c.ID())
}

// OnAnswerReceived handles a verto.answer event: the remote party picked
// up and sent its answer SDP.
func (c *Call) OnAnswerReceived(sdp string) {
	c.applyRemoteDescription(sdp)
}

// OnMediaReceived handles a verto.media event carrying the remote
// description (early media setup).
func (c *Call) OnMediaReceived(sdp string) {
	c.applyRemoteDescription(sdp)
}

func (c *Call) applyRemoteDescription(sdp string) {
	c.mu.Lock()
	if c.state == CallStateTerminated {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if sdp != "" {
		if err := c.media.SetRemoteDescription(sdp); err != nil {
			c.fail(fmt.Errorf("failed to apply remote description: %w", err))
			return
		}
	}

	c.mu.Lock()
	c.remoteSDPSet = true
	queued := c.pendingCandidates
	c.pendingCandidates = nil
	c.mu.Unlock()

	for _, candidate := range queued {
		if err := c.media.AddICECandidate(candidate); err != nil {
			log.Printf("call %s: queued candidate rejected: %v", c.id, err)
		}
	}

	c.setState(CallStateActive)
	c.Emitter.Emit(string(CallEventAnswered), c.ID())
}

// OnCandidateReceived buffers or applies a trickled remote candidate.
// Before the remote description is set candidates queue in receipt
// order; after termination they are dropped silently.
func (c *Call) OnCandidateReceived(candidate string) {
	c.mu.Lock()
	if c.state == CallStateTerminated {
		c.mu.Unlock()
		return
	}
	if !c.remoteSDPSet {
		c.pendingCandidates = append(c.pendingCandidates, candidate)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.media.AddICECandidate(candidate); err != nil {
		log.Printf("call %s: candidate rejected: %v", c.id, err)
	}
}

// ---- Inbound flow ----

// Ring moves a fresh inbound call to Ringing, notifies the server and
// starts the ringtone. The application decides Accept or Reject.
func (c *Call) Ring() {
	c.mu.Lock()
	if c.state != CallStateNewInbound {
		state := c.state
		c.mu.Unlock()
		log.Printf("call %s: ring in state %s, ignoring", c.id, state)
		return
	}
	params := verto.CallParams{
		SessionID:    c.sessionID,
		DialogParams: verto.DialogParams{CallID: c.id},
	}
	sender := c.sender
	c.mu.Unlock()

	// Best effort: the remote party rings regardless.
	if env, err := verto.NewRequest(uuid.New().String(), verto.MethodRinging, params); err == nil {
		if err := sender.Send(env); err != nil {
			log.Printf("call %s: ringing ack not sent: %v", c.id, err)
		}
	}

	c.setState(CallStateRinging)
	c.Emitter.Emit(string(CallEventRinging), c.ID())
}

// prepareAnswer builds the local answer from the invite's offer off the
// session executor. The answer engine blocks on ICE gathering, so the
// work runs on its own goroutine and re-enters through run.
func (c *Call) prepareAnswer() {
	go func() {
		sdp, err := c.media.CreateAnswer(c.remoteOfferSDP)
		c.run(func() { c.onAnswerPrepared(sdp, err) })
	}()
}

// onAnswerPrepared records the gathered answer, flushes queued remote
// candidates and, when the application already accepted, sends the
// answer out.
func (c *Call) onAnswerPrepared(sdp string, err error) {
	c.mu.Lock()
	if c.state == CallStateTerminated {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.mu.Unlock()
		c.fail(fmt.Errorf("failed to create answer: %w", err))
		return
	}
	c.localAnswerSDP = sdp
	c.answerReady = true
	c.remoteSDPSet = true
	queued := c.pendingCandidates
	c.pendingCandidates = nil
	accepted := c.acceptRequested
	c.mu.Unlock()

	for _, candidate := range queued {
		if addErr := c.media.AddICECandidate(candidate); addErr != nil {
			log.Printf("call %s: queued candidate rejected: %v", c.id, addErr)
		}
	}

	if accepted {
		if sendErr := c.sendAnswer(); sendErr != nil {
			log.Printf("call %s: %v", c.id, sendErr)
		}
	}
}

// Accept answers an inbound call. The answer was prepared when the
// invite arrived; if gathering has not finished yet the answer goes out
// the moment it is ready.
func (c *Call) Accept() error {
	c.mu.Lock()
	if c.direction != DirectionInbound {
		c.mu.Unlock()
		return fmt.Errorf("cannot accept an outbound call")
	}
	if c.state != CallStateRinging && c.state != CallStateNewInbound {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot accept: call is in state %s", state)
	}
	c.acceptRequested = true
	ready := c.answerReady
	c.mu.Unlock()

	if !ready {
		return nil
	}
	return c.sendAnswer()
}

func (c *Call) sendAnswer() error {
	c.mu.Lock()
	if c.state == CallStateTerminated {
		c.mu.Unlock()
		return nil
	}
	params := verto.CallParams{
		SessionID: c.sessionID,
		SDP:       c.localAnswerSDP,
		DialogParams: verto.DialogParams{
			CallID: c.id,
			Audio:  true,
		},
	}
	sender := c.sender
	c.mu.Unlock()

	env, err := verto.NewRequest(uuid.New().String(), verto.MethodAnswer, params)
	if err != nil {
		c.fail(err)
		return err
	}
	if err := sender.Send(env); err != nil {
		err = fmt.Errorf("failed to send answer: %w", err)
		c.fail(err)
		return err
	}

	c.setState(CallStateActive)
	c.Emitter.Emit(string(CallEventAnswered), c.ID())
	return nil
}

// Reject declines an inbound call with a busy cause.
func (c *Call) Reject() error {
	c.mu.Lock()
	if c.direction != DirectionInbound {
		c.mu.Unlock()
		return fmt.Errorf("cannot reject an outbound call")
	}
	c.mu.Unlock()
	return c.end(verto.CauseUserBusy, verto.CauseCodeBusy)
}

// ---- Mid-call controls ----

// ToggleMute flips the local mute flag. Muting is local-first: no
// signaling is exchanged.
func (c *Call) ToggleMute() bool {
	c.mu.Lock()
	c.muted = !c.muted
	muted := c.muted
	c.mu.Unlock()

	if muted {
		c.Emitter.Emit(string(CallEventMuted), c.ID())
	} else {
		c.Emitter.Emit(string(CallEventUnmuted), c.ID())
	}
	return muted
}

// ToggleHold flips the hold state. The flag and state change locally
// first; the verto.modify notification to the server is best effort.
func (c *Call) ToggleHold() bool {
	c.mu.Lock()
	if c.state != CallStateActive && c.state != CallStateHeld {
		state := c.state
		c.mu.Unlock()
		log.Printf("call %s: hold toggle in state %s, ignoring", c.id, state)
		return false
	}
	c.held = !c.held
	held := c.held
	action := verto.ModifyActionUnhold
	if held {
		action = verto.ModifyActionHold
	}
	params := verto.ModifyParams{
		SessionID:    c.sessionID,
		Action:       action,
		DialogParams: verto.DialogParams{CallID: c.id},
	}
	sender := c.sender
	c.mu.Unlock()

	if env, err := verto.NewRequest(uuid.New().String(), verto.MethodModify, params); err == nil {
		if err := sender.Send(env); err != nil {
			log.Printf("call %s: %s notification not sent: %v", c.id, action, err)
		}
	}

	if held {
		c.setState(CallStateHeld)
		c.Emitter.Emit(string(CallEventHeld), c.ID())
	} else {
		c.setState(CallStateActive)
		c.Emitter.Emit(string(CallEventResumed), c.ID())
	}
	return held
}

// ToggleLoudspeaker flips the loudspeaker flag and reroutes output.
func (c *Call) ToggleLoudspeaker() bool {
	c.mu.Lock()
	c.loudspeaker = !c.loudspeaker
	on := c.loudspeaker
	audio := c.audio
	c.mu.Unlock()

	if audio != nil {
		if on {
			audio.SetOutput(AudioDeviceLoudspeaker)
		} else {
			audio.SetOutput(AudioDeviceEarpiece)
		}
	}
	return on
}

// SendDigit sends a DTMF digit over verto.info. Digits are only
// meaningful while the call is up; there is no stored DTMF state.
func (c *Call) SendDigit(digit string) error {
	c.mu.RLock()
	if c.state != CallStateActive && c.state != CallStateHeld {
		state := c.state
		c.mu.RUnlock()
		return fmt.Errorf("cannot send digit: call is in state %s", state)
	}
	params := verto.InfoParams{
		SessionID:    c.sessionID,
		DTMF:         digit,
		DialogParams: verto.DialogParams{CallID: c.id},
	}
	sender := c.sender
	c.mu.RUnlock()

	env, err := verto.NewRequest(uuid.New().String(), verto.MethodInfo, params)
	if err != nil {
		return err
	}
	if err := sender.Send(env); err != nil {
		return fmt.Errorf("failed to send digit: %w", err)
	}
	return nil
}

// ---- Teardown ----

// End hangs up locally. The bye is best effort: the call terminates
// whether or not the server acknowledges it.
func (c *Call) End() error {
	c.mu.RLock()
	state := c.state
	direction := c.direction
	c.mu.RUnlock()
	if state == CallStateTerminated {
		return nil
	}

	cause, code := verto.CauseNormalClearing, verto.CauseCodeNormal
	if direction == DirectionOutbound && state != CallStateActive && state != CallStateHeld {
		// Abandoned before the remote party answered.
		cause, code = verto.CauseOriginatorCancel, verto.CauseCodeCancel
	}
	return c.end(cause, code)
}

func (c *Call) end(cause string, code int) error {
	c.mu.Lock()
	if c.state == CallStateTerminated {
		c.mu.Unlock()
		return nil
	}
	c.state = CallStateEndingLocal
	params := verto.ByeParams{
		SessionID:    c.sessionID,
		Cause:        cause,
		CauseCode:    code,
		DialogParams: verto.DialogParams{CallID: c.id},
	}
	sender := c.sender
	c.mu.Unlock()

	if env, err := verto.NewRequest(uuid.New().String(), verto.MethodBye, params); err == nil {
		if err := sender.Send(env); err != nil {
			log.Printf("call %s: bye not sent: %v", c.id, err)
		}
	}

	c.terminate()
	return nil
}

// OnByeReceived handles a verto.bye event: the remote party hung up.
func (c *Call) OnByeReceived(cause string) {
	c.mu.Lock()
	if c.state == CallStateTerminated {
		c.mu.Unlock()
		return
	}
	c.state = CallStateEndingRemote
	c.mu.Unlock()

	if cause != "" {
		log.Printf("call %s: remote bye, cause %s", c.ID(), cause)
	}
	c.terminate()
}

// onMediaFailed terminates the call after a media engine failure. Other
// calls on the session are unaffected.
func (c *Call) onMediaFailed(err error) {
	c.fail(fmt.Errorf("media failure: %w", err))
}

func (c *Call) fail(err error) {
	c.mu.RLock()
	terminated := c.state == CallStateTerminated
	c.mu.RUnlock()
	if terminated {
		return
	}
	log.Printf("call %s: %v", c.ID(), err)
	c.Emitter.Emit(string(CallEventError), err)
	c.terminate()
}

// terminate is the single exit path: flags reset, tones stopped, media
// closed, registry entry removed.
func (c *Call) terminate() {
	c.mu.Lock()
	if c.state == CallStateTerminated {
		c.mu.Unlock()
		return
	}
	from := c.state
	c.state = CallStateTerminated
	c.muted = false
	c.held = false
	c.loudspeaker = false
	c.pendingCandidates = nil
	audio := c.audio
	registry := c.registry
	direction := c.direction
	id := c.id
	c.mu.Unlock()

	if err := c.media.Close(); err != nil {
		log.Printf("call %s: media close: %v", id, err)
	}
	if audio != nil {
		audio.OnTransition(direction, CallStateTerminated)
	}
	if registry != nil {
		registry.Remove(id)
	}

	c.Emitter.Emit(string(CallEventStateChanged), StateChange{CallID: id, From: from, To: CallStateTerminated})
	c.Emitter.Emit(string(CallEventEnded), id)
}

// setState applies a non-terminal transition and fans it out to the
// audio controller and event listeners.
func (c *Call) setState(to CallState) {
	c.mu.Lock()
	if c.state == to || c.state == CallStateTerminated {
		c.mu.Unlock()
		return
	}
	from := c.state
	c.state = to
	audio := c.audio
	direction := c.direction
	id := c.id
	c.mu.Unlock()

	log.Printf("call %s: %s → %s", id, from, to)
	if audio != nil {
		audio.OnTransition(direction, to)
	}
	c.Emitter.Emit(string(CallEventStateChanged), StateChange{CallID: id, From: from, To: to})
}
