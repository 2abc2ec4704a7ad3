/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package vertosdk is the application surface of the signaling SDK: a
// client owning one WebSocket session to the server, the login state,
// the live call registry and the reconnect policy.
package vertosdk

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/tejzpr/verto-go-sdk/calling"
	"github.com/tejzpr/verto-go-sdk/transport"
	"github.com/tejzpr/verto-go-sdk/verto"
)

// Logger is the interface for SDK logging. Any logger that implements
// Printf (such as the standard library's *log.Logger) can be used.
type Logger interface {
	Printf(format string, v ...any)
}

// SessionState is the lifecycle state of the signaling session.
type SessionState string

const (
	StateDisconnected  SessionState = "disconnected"
	StateConnecting    SessionState = "connecting"
	StateConnected     SessionState = "connected"
	StateAuthenticated SessionState = "authenticated"
	StateReconnecting  SessionState = "reconnecting"
)

// ClientEventKey identifies the type of client event.
type ClientEventKey string

const (
	// ClientEventEstablished fires when the transport is up.
	ClientEventEstablished ClientEventKey = "established"
	// ClientEventMessage carries every inbound server event envelope.
	ClientEventMessage ClientEventKey = "message"
	// ClientEventError carries session-level errors.
	ClientEventError ClientEventKey = "error"
	// ClientEventDisconnected fires when the session goes down.
	ClientEventDisconnected ClientEventKey = "disconnected"
	// ClientEventClientReady fires on the server's verto.clientReady.
	ClientEventClientReady ClientEventKey = "clientReady"
	// ClientEventIncomingCall carries a ringing inbound *calling.Call.
	ClientEventIncomingCall ClientEventKey = "incoming_call"
)

// socketAPI is the transport surface the client drives. transport.Socket
// implements it; tests substitute fakes through the socket factory.
type socketAPI interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Send(env *verto.Envelope) error
	IsConnected() bool
	SetOngoing(ongoing bool)
	Ongoing() bool
	OnEnvelope(fn func(env *verto.Envelope))
	OnError(fn func(err error))
	OnClosed(fn func(err error))
}

// Client owns one signaling session. All session and call state mutates
// on a single serialized executor goroutine; transport reads and media
// engine callbacks hand their work off to it.
type Client struct {
	mu sync.RWMutex

	config *Config
	logger Logger

	state     SessionState
	sessionID string

	socket        socketAPI
	socketFactory func() socketAPI
	monitor       transport.NetworkMonitor
	correlator    *transport.Correlator

	registry *calling.Registry
	audio    *calling.AudioController
	media    calling.MediaFactory

	// lastLogin caches the last successful login params for replay
	// after a network flap.
	lastLogin *verto.LoginParams

	// reconnectArmed allows exactly one reconnect attempt per
	// unavailable→available transition.
	reconnectArmed bool

	ringtone     string
	ringbackTone string

	tasks  chan func()
	done   chan struct{}
	closed bool

	// Queued public events, delivered off the executor so handlers may
	// call back into the client.
	emitMu    sync.Mutex
	emitQueue []clientEvent
	emitKick  chan struct{}

	// Emitter is the public event stream.
	Emitter *calling.EventEmitter
}

// clientEvent is one queued Emitter delivery.
type clientEvent struct {
	key  ClientEventKey
	data interface{}
}

// New creates a client. The session is constructed and handed to the
// host; there is no ambient global instance.
func New(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	c := &Client{
		config:     config,
		logger:     logger,
		state:      StateDisconnected,
		monitor:    transport.AlwaysOnline{},
		correlator: transport.NewCorrelator(config.RequestTimeout),
		audio:      calling.NewAudioController(nil, nil),
		media:      calling.NewPionFactory(nil),
		tasks:      make(chan func(), 64),
		done:       make(chan struct{}),
		emitKick:   make(chan struct{}, 1),
		Emitter:    calling.NewEventEmitter(),
	}
	c.registry = calling.NewRegistry(nil)
	c.socketFactory = func() socketAPI {
		tc := transport.DefaultConfig()
		tc.HandshakeTimeout = config.HandshakeTimeout
		tc.PingInterval = config.PingInterval
		tc.PongTimeout = config.PongTimeout
		return transport.New(config.URL(), tc, c.monitor)
	}

	go c.loop()
	go c.emitLoop()
	return c
}

// SetNetworkMonitor plugs in the host's connectivity source. Must be
// called before Connect.
func (c *Client) SetNetworkMonitor(monitor transport.NetworkMonitor) {
	if monitor == nil {
		return
	}
	c.mu.Lock()
	c.monitor = monitor
	c.mu.Unlock()
	monitor.OnChange(c.onNetworkChange)
}

// SetMediaFactory overrides the media engine used for new calls. Must be
// called before any call exists.
func (c *Client) SetMediaFactory(factory calling.MediaFactory) {
	if factory == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.media = factory
}

// SetAudio plugs in the host's tone player and audio routing surface.
func (c *Client) SetAudio(tones calling.TonePlayer, platform calling.PlatformAudio) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audio = calling.NewAudioController(tones, platform)
}

// State returns the session state.
func (c *Client) State() SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SessionID returns the server-issued session id, empty before login.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Ringtone returns the ringtone asset name of the active login config.
func (c *Client) Ringtone() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ringtone
}

// RingbackTone returns the ringback asset name of the active login config.
func (c *Client) RingbackTone() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ringbackTone
}

// ---- Serialized executor ----

func (c *Client) loop() {
	for {
		select {
		case task := <-c.tasks:
			task()
		case <-c.done:
			return
		}
	}
}

// submit queues a task for the executor without waiting.
func (c *Client) submit(task func()) {
	select {
	case c.tasks <- task:
	case <-c.done:
	}
}

// do queues a task and waits for it to run.
func (c *Client) do(task func()) {
	ran := make(chan struct{})
	c.submit(func() {
		defer close(ran)
		task()
	})
	select {
	case <-ran:
	case <-c.done:
	}
}

// emit queues an event for delivery off the executor. Handlers run on
// the emit goroutine and may call any client operation; emitting
// directly from the executor would deadlock such handlers.
func (c *Client) emit(key ClientEventKey, data interface{}) {
	c.emitMu.Lock()
	c.emitQueue = append(c.emitQueue, clientEvent{key, data})
	c.emitMu.Unlock()
	select {
	case c.emitKick <- struct{}{}:
	default:
	}
}

// emitLoop delivers queued events to Emitter handlers in order.
func (c *Client) emitLoop() {
	for {
		select {
		case <-c.emitKick:
		case <-c.done:
			return
		}
		for {
			c.emitMu.Lock()
			if len(c.emitQueue) == 0 {
				c.emitMu.Unlock()
				break
			}
			ev := c.emitQueue[0]
			c.emitQueue = c.emitQueue[1:]
			c.emitMu.Unlock()
			c.Emitter.Emit(string(ev.key), ev.data)
		}
	}
}

// ---- Connection lifecycle ----

// Connect dials the signaling server. On success the session is
// Connected and ready for login.
func (c *Client) Connect(ctx context.Context) error {
	var sock socketAPI
	var stateErr error
	c.do(func() {
		if c.state != StateDisconnected {
			stateErr = newTransportError("already connected", nil)
			return
		}
		c.setState(StateConnecting)
		sock = c.socketFactory()
		c.wireSocket(sock)
	})
	if stateErr != nil {
		return stateErr
	}
	if sock == nil {
		return newTransportError("client is shut down", nil)
	}

	if err := sock.Connect(ctx); err != nil {
		c.do(func() { c.setState(StateDisconnected) })
		var cerr error
		if err == transport.ErrNoNetwork {
			cerr = newNetworkUnavailableError("no network path to signaling server")
		} else {
			cerr = newTransportError("connect failed", err)
		}
		c.emit(ClientEventError, cerr)
		return cerr
	}

	c.do(func() {
		c.socket = sock
		c.registry.SetMarker(sock)
		c.setState(StateConnected)
	})
	c.emit(ClientEventEstablished, nil)
	return nil
}

// Disconnect tears the transport down deliberately. Live calls keep
// their state but cannot signal until the session reconnects.
func (c *Client) Disconnect() error {
	var sock socketAPI
	c.do(func() {
		sock = c.socket
		c.socket = nil
		c.sessionID = ""
		c.setState(StateDisconnected)
	})
	if sock != nil {
		if err := sock.Disconnect(); err != nil {
			return newTransportError("disconnect failed", err)
		}
	}
	c.emit(ClientEventDisconnected, nil)
	return nil
}

// Shutdown ends every live call, disconnects and stops the executor.
// The host invokes it when the client is discarded; the client never
// couples to any platform lifecycle.
func (c *Client) Shutdown() error {
	var calls []*calling.Call
	c.do(func() { calls = c.registry.All() })
	for _, call := range calls {
		if err := call.End(); err != nil {
			c.logger.Printf("shutdown: ending call %s: %v", call.ID(), err)
		}
	}
	err := c.Disconnect()

	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	c.mu.Unlock()
	return err
}

// wireSocket points a socket's callbacks at this client. Events from a
// socket that is no longer current are ignored.
func (c *Client) wireSocket(sock socketAPI) {
	sock.OnEnvelope(func(env *verto.Envelope) {
		if env.IsReply() {
			if !c.correlator.Resolve(env) {
				c.logger.Printf("reply %s matches no pending request", env.ID)
			}
			return
		}
		c.submit(func() { c.handleEvent(env) })
	})
	sock.OnError(func(err error) {
		// Malformed frames never tear the session down.
		perr := newProtocolError("malformed signaling frame", err)
		c.logger.Printf("%v", perr)
		c.emit(ClientEventError, perr)
	})
	sock.OnClosed(func(err error) {
		if err == nil {
			return
		}
		c.submit(func() {
			if c.socket != sock {
				return
			}
			c.onTransportDown(err)
		})
	})
}

// onTransportDown runs on the executor after an unexpected socket close.
func (c *Client) onTransportDown(err error) {
	terr := newTransportError("signaling transport lost", err)
	c.emit(ClientEventError, terr)

	if c.state == StateAuthenticated && (c.lastLogin != nil || c.registry.Ongoing()) {
		c.setState(StateReconnecting)
		c.reconnectArmed = true
		if c.monitor.Online() {
			// The network itself is fine; retry without waiting for a
			// connectivity transition.
			c.reconnectArmed = false
			go c.reconnect()
		}
		return
	}
	c.setState(StateDisconnected)
	c.emit(ClientEventDisconnected, nil)
}

// onNetworkChange reacts to host connectivity transitions.
func (c *Client) onNetworkChange(online bool) {
	c.submit(func() {
		if !online {
			if c.state == StateAuthenticated && (c.lastLogin != nil || c.registry.Ongoing()) {
				c.setState(StateReconnecting)
				c.reconnectArmed = true
				c.emit(ClientEventError,
					newNetworkUnavailableError("network unavailable, session suspended"))
			}
			return
		}
		if c.state == StateReconnecting && c.reconnectArmed {
			// Exactly one attempt per unavailable→available transition;
			// re-armed only by the next flap.
			c.reconnectArmed = false
			go c.reconnect()
		}
	})
}

// reconnect swaps in a fresh socket and replays the last login. The old
// socket is destroyed, never re-dialed.
func (c *Client) reconnect() {
	sock := c.socketFactory()
	c.wireSocket(sock)

	ctx, cancel := context.WithTimeout(context.Background(), c.config.HandshakeTimeout)
	defer cancel()
	if err := sock.Connect(ctx); err != nil {
		c.logger.Printf("reconnect failed: %v", err)
		c.emit(ClientEventError, newTransportError("reconnect failed", err))
		return
	}

	var replay *verto.LoginParams
	c.do(func() {
		old := c.socket
		c.socket = sock
		c.registry.SetMarker(sock)
		for _, call := range c.registry.All() {
			call.SetSender(sock)
		}
		c.setState(StateConnected)
		if old != nil {
			if err := old.Disconnect(); err != nil {
				c.logger.Printf("discarding old socket: %v", err)
			}
		}
		if c.lastLogin != nil {
			params := *c.lastLogin
			params.SessionID = c.sessionID
			replay = &params
		}
	})
	c.emit(ClientEventEstablished, nil)

	if replay != nil {
		if err := c.login(*replay); err != nil {
			c.logger.Printf("login replay failed: %v", err)
			c.emit(ClientEventError, err)
		}
	}
}

// ---- Login ----

// LoginWithCredentials authenticates with a SIP username and password.
func (c *Client) LoginWithCredentials(cfg CredentialConfig) error {
	if cfg.Username == "" || cfg.Password == "" {
		return newAuthError("username and password are required", 0, nil)
	}
	c.mu.Lock()
	c.ringtone = cfg.Ringtone
	c.ringbackTone = cfg.RingbackTone
	c.mu.Unlock()

	return c.login(verto.LoginParams{
		Login:         cfg.Username,
		Password:      cfg.Password,
		FCMToken:      cfg.FCMToken,
		UserVariables: []string{},
		LoginParams:   []string{},
	})
}

// LoginWithToken authenticates with a signed login token. An expired
// token fails fast without touching the wire.
func (c *Client) LoginWithToken(cfg TokenConfig) error {
	if cfg.Token == "" {
		return newAuthError("login token is required", 0, nil)
	}
	if err := validateToken(cfg.Token); err != nil {
		return err
	}
	c.mu.Lock()
	c.ringtone = cfg.Ringtone
	c.ringbackTone = cfg.RingbackTone
	c.mu.Unlock()

	return c.login(verto.LoginParams{
		LoginToken:    cfg.Token,
		FCMToken:      cfg.FCMToken,
		UserVariables: []string{},
		LoginParams:   []string{},
	})
}

// login sends the login request and blocks for the reply. A rejected
// login leaves the session Connected but unauthenticated.
func (c *Client) login(params verto.LoginParams) error {
	id := uuid.New().String()
	env, err := verto.NewRequest(id, verto.MethodLogin, params)
	if err != nil {
		return newProtocolError("failed to build login request", err)
	}

	ch := c.correlator.Track(id)
	var sendErr error
	c.do(func() {
		if c.socket == nil || !c.socket.IsConnected() {
			sendErr = newTransportError("not connected", nil)
			return
		}
		if err := c.socket.Send(env); err != nil {
			sendErr = newTransportError("login not sent", err)
		}
	})
	if sendErr != nil {
		c.correlator.Cancel(id)
		return sendErr
	}

	reply, err := c.correlator.Await(context.Background(), id, ch)
	if err != nil {
		return newTransportError("login reply not received", err)
	}
	if reply.Error != nil {
		return newAuthError(reply.Error.Message, reply.Error.Code, nil)
	}

	var result verto.LoginResult
	if err := reply.DecodeResult(&result); err != nil {
		return newProtocolError("malformed login result", err)
	}

	c.do(func() {
		c.sessionID = result.SessionID
		c.lastLogin = &params
		for _, call := range c.registry.All() {
			call.SetSessionID(result.SessionID)
		}
		c.setState(StateAuthenticated)
	})
	return nil
}

// ---- Call control ----

// Invite originates an outbound call. The invite envelope goes out once
// the media engine reports the offer ready.
func (c *Client) Invite(callerName, callerNumber, destination, clientState string) (*calling.Call, error) {
	var call *calling.Call
	var err error
	c.do(func() {
		if c.state != StateAuthenticated {
			err = newAuthError("session is not authenticated", 0, nil)
			return
		}
		call, err = calling.NewOutboundCall(calling.CallOptions{
			SessionID: c.sessionID,
			Sender:    c.socket,
			Registry:  c.registry,
			Audio:     c.audio,
			Media:     c.media,
			Run:       c.submit,
		}, callerName, callerNumber, destination, clientState)
		if err != nil {
			err = newCallError("", err)
			return
		}
		c.registry.Add(call)
		if startErr := call.Start(); startErr != nil {
			err = newCallError(call.ID(), startErr)
			call = nil
		}
	})
	return call, err
}

// AcceptCall answers a ringing inbound call.
func (c *Client) AcceptCall(callID string) error {
	call, err := c.lookup(callID)
	if err != nil {
		return err
	}
	var acceptErr error
	c.do(func() { acceptErr = call.Accept() })
	if acceptErr != nil {
		return newCallError(callID, acceptErr)
	}
	return nil
}

// RejectCall declines a ringing inbound call.
func (c *Client) RejectCall(callID string) error {
	call, err := c.lookup(callID)
	if err != nil {
		return err
	}
	var rejectErr error
	c.do(func() { rejectErr = call.Reject() })
	if rejectErr != nil {
		return newCallError(callID, rejectErr)
	}
	return nil
}

// EndCall hangs up a call.
func (c *Client) EndCall(callID string) error {
	call, err := c.lookup(callID)
	if err != nil {
		return err
	}
	var endErr error
	c.do(func() { endErr = call.End() })
	if endErr != nil {
		return newCallError(callID, endErr)
	}
	return nil
}

// ToggleMute flips a call's mute flag, returning the new value.
func (c *Client) ToggleMute(callID string) (bool, error) {
	call, err := c.lookup(callID)
	if err != nil {
		return false, err
	}
	var muted bool
	c.do(func() { muted = call.ToggleMute() })
	return muted, nil
}

// ToggleHold flips a call's hold state, returning the new value.
func (c *Client) ToggleHold(callID string) (bool, error) {
	call, err := c.lookup(callID)
	if err != nil {
		return false, err
	}
	var held bool
	c.do(func() { held = call.ToggleHold() })
	return held, nil
}

// SendDTMF sends a DTMF digit on a call.
func (c *Client) SendDTMF(callID, digit string) error {
	call, err := c.lookup(callID)
	if err != nil {
		return err
	}
	var sendErr error
	c.do(func() { sendErr = call.SendDigit(digit) })
	if sendErr != nil {
		return newCallError(callID, sendErr)
	}
	return nil
}

// SetAudioOutput routes audio to the requested device. Unavailable
// devices are a logged no-op.
func (c *Client) SetAudioOutput(device calling.AudioDevice) {
	c.mu.RLock()
	audio := c.audio
	c.mu.RUnlock()
	audio.SetOutput(device)
}

// ActiveCalls returns a snapshot of the live calls.
func (c *Client) ActiveCalls() []*calling.Call {
	return c.registry.All()
}

// GetCall looks up a live call by id.
func (c *Client) GetCall(callID string) (*calling.Call, bool) {
	return c.registry.Get(callID)
}

func (c *Client) lookup(callID string) (*calling.Call, error) {
	call, ok := c.registry.Get(callID)
	if !ok {
		return nil, newUnknownCallReferenceError("operation", callID)
	}
	return call, nil
}

// ---- Inbound event routing (executor only) ----

func (c *Client) handleEvent(env *verto.Envelope) {
	c.emit(ClientEventMessage, env)

	switch env.Method {
	case verto.MethodInvite:
		c.handleInvite(env)
	case verto.MethodAnswer:
		var params verto.AnswerEventParams
		if err := env.DecodeParams(&params); err != nil {
			c.logProtocol(env.Method, err)
			return
		}
		if call, ok := c.findCall(env.Method, params.CallID); ok {
			call.OnAnswerReceived(params.SDP)
		}
	case verto.MethodMedia:
		var params verto.MediaEventParams
		if err := env.DecodeParams(&params); err != nil {
			c.logProtocol(env.Method, err)
			return
		}
		if call, ok := c.findCall(env.Method, params.CallID); ok {
			call.OnMediaReceived(params.SDP)
		}
	case verto.MethodRinging:
		var params verto.RingingEventParams
		if err := env.DecodeParams(&params); err != nil {
			c.logProtocol(env.Method, err)
			return
		}
		if call, ok := c.findCall(env.Method, params.CallID); ok {
			call.OnRingingReceived()
		}
	case verto.MethodBye:
		var params verto.ByeEventParams
		if err := env.DecodeParams(&params); err != nil {
			c.logProtocol(env.Method, err)
			return
		}
		if call, ok := c.findCall(env.Method, params.CallID); ok {
			call.OnByeReceived(params.Cause)
		}
	case verto.MethodCandidate:
		var params verto.CandidateEventParams
		if err := env.DecodeParams(&params); err != nil {
			c.logProtocol(env.Method, err)
			return
		}
		if call, ok := c.findCall(env.Method, params.CallID); ok {
			call.OnCandidateReceived(params.Candidate)
		}
	case verto.MethodClientReady:
		c.emit(ClientEventClientReady, env)
	case verto.MethodModify:
		// Server-side hold confirmations carry no state we track.
		c.logger.Printf("modify event acknowledged: %s", string(env.Params))
	default:
		c.logger.Printf("unhandled event method %q", env.Method)
	}
}

func (c *Client) handleInvite(env *verto.Envelope) {
	var params verto.InviteEventParams
	if err := env.DecodeParams(&params); err != nil {
		c.logProtocol(env.Method, err)
		return
	}
	if _, exists := c.registry.Get(params.CallID); exists {
		// Duplicate invite delivery; the registry entry stands.
		c.logger.Printf("invite for known call %s, ignoring", params.CallID)
		return
	}

	call, err := calling.NewInboundCall(calling.CallOptions{
		SessionID: c.sessionID,
		Sender:    c.socket,
		Registry:  c.registry,
		Audio:     c.audio,
		Media:     c.media,
		Run:       c.submit,
	}, &params)
	if err != nil {
		cerr := newCallError(params.CallID, err)
		c.logger.Printf("%v", cerr)
		c.emit(ClientEventError, cerr)
		return
	}
	c.registry.Add(call)
	call.Ring()
	c.emit(ClientEventIncomingCall, call)
}

// findCall resolves an event's call id. Events for unknown ids are
// ignored with a diagnostic, never an exception or registry change.
func (c *Client) findCall(method, callID string) (*calling.Call, bool) {
	call, ok := c.registry.Get(callID)
	if !ok {
		c.logger.Printf("%v", newUnknownCallReferenceError(method, callID))
		return nil, false
	}
	return call, true
}

func (c *Client) logProtocol(method string, err error) {
	perr := newProtocolError("bad "+method+" params", err)
	c.logger.Printf("%v", perr)
	c.emit(ClientEventError, perr)
}

// setState runs on the executor.
func (c *Client) setState(to SessionState) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()
	if from != to {
		c.logger.Printf("session: %s → %s", from, to)
	}
}
