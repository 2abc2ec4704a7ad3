/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package transport provides the persistent signaling WebSocket and the
// request/response correlator that sits on top of it.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tejzpr/verto-go-sdk/verto"
)

// ErrNotConnected is returned by Send when the socket is not open. The
// message is dropped; callers must treat this as "reconnect required"
// rather than assuming delivery.
var ErrNotConnected = errors.New("socket is not connected")

// ErrNoNetwork is returned by Connect when the network monitor reports
// no path to the server before a dial is even attempted.
var ErrNoNetwork = errors.New("no network connection")

// Config holds the configuration for the signaling socket.
type Config struct {
	HandshakeTimeout time.Duration // Timeout for the WebSocket handshake
	PingInterval     time.Duration // Interval between keepalive pings
	PongTimeout      time.Duration // Timeout for receiving a pong response
	WriteTimeout     time.Duration // Deadline applied to every outbound frame
}

// DefaultConfig returns the default socket configuration.
func DefaultConfig() *Config {
	return &Config{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PongTimeout:      10 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

// Socket is the persistent WebSocket carrying signaling envelopes. A
// Socket is used for a single connection: the session manager creates a
// fresh one on reconnect and discards the old, it is never re-dialed.
type Socket struct {
	mu        sync.Mutex
	writeMu   sync.Mutex
	url       string
	config    *Config
	monitor   NetworkMonitor
	conn      *websocket.Conn
	closeCh   chan struct{}
	closed    bool
	connected bool
	ongoing   bool

	onEnvelope func(env *verto.Envelope)
	onError    func(err error)
	onClosed   func(err error)
}

// New creates a socket for the given WebSocket URL. Handlers must be
// registered before Connect.
func New(url string, config *Config, monitor NetworkMonitor) *Socket {
	if config == nil {
		config = DefaultConfig()
	}
	if monitor == nil {
		monitor = AlwaysOnline{}
	}
	return &Socket{
		url:     url,
		config:  config,
		monitor: monitor,
		closeCh: make(chan struct{}),
	}
}

// OnEnvelope registers the handler for every successfully parsed inbound
// envelope. It is invoked from the socket's reader goroutine.
func (s *Socket) OnEnvelope(fn func(env *verto.Envelope)) {
	s.mu.Lock()
	s.onEnvelope = fn
	s.mu.Unlock()
}

// OnError registers the handler for non-fatal inbound errors (frames
// that fail to parse). The connection stays up.
func (s *Socket) OnError(fn func(err error)) {
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
}

// OnClosed registers the handler fired once when the read loop exits.
// err is nil for a deliberate Disconnect.
func (s *Socket) OnClosed(fn func(err error)) {
	s.mu.Lock()
	s.onClosed = fn
	s.mu.Unlock()
}

// Connect checks network reachability and dials the server. On success it
// starts the reader and keepalive goroutines.
func (s *Socket) Connect(ctx context.Context) error {
	if !s.monitor.Online() {
		return ErrNoNetwork
	}

	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("socket already destroyed; create a new one")
	}
	s.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: s.config.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", s.url, err)
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Time{})
	})

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	go s.readLoop(conn)
	go s.pingLoop(conn)

	return nil
}

// Send serializes the envelope onto the socket. If the connection is not
// open the envelope is dropped and ErrNotConnected returned.
func (s *Socket) Send(env *verto.Envelope) error {
	s.mu.Lock()
	conn := s.conn
	connected := s.connected
	s.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	data, err := env.Marshal()
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send %s: %w", env.Method, err)
	}
	return nil
}

// Disconnect performs a scoped teardown: stops the keepalive, sends a
// close frame, closes the connection and ends the read loop. It is safe
// to call during an active Send and is idempotent.
func (s *Socket) Disconnect() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.connected = false
	conn := s.conn
	s.conn = nil
	close(s.closeCh)
	s.mu.Unlock()

	if conn != nil {
		s.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "disconnected by client"))
		s.writeMu.Unlock()
		_ = conn.Close()
	}
	return nil
}

// IsConnected reports whether the socket is open.
func (s *Socket) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// SetOngoing marks whether a call is in progress on this socket. The
// marker has no protocol effect; platform call indicators query it.
func (s *Socket) SetOngoing(ongoing bool) {
	s.mu.Lock()
	s.ongoing = ongoing
	s.mu.Unlock()
}

// Ongoing reports the call-in-progress marker.
func (s *Socket) Ongoing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ongoing
}

// readLoop reads frames until the connection drops. Parse failures are
// surfaced through OnError and never end the loop.
func (s *Socket) readLoop(conn *websocket.Conn) {
	var loopErr error
	defer func() {
		s.mu.Lock()
		s.connected = false
		deliberate := s.closed
		onClosed := s.onClosed
		s.mu.Unlock()

		if onClosed != nil {
			if deliberate {
				onClosed(nil)
			} else {
				onClosed(loopErr)
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			loopErr = err
			return
		}

		env, err := verto.ParseEnvelope(data)
		if err != nil {
			s.mu.Lock()
			onError := s.onError
			s.mu.Unlock()
			if onError != nil {
				onError(err)
			} else {
				log.Printf("transport: dropping unparseable frame: %v", err)
			}
			continue
		}

		s.mu.Lock()
		onEnvelope := s.onEnvelope
		s.mu.Unlock()
		if onEnvelope != nil {
			onEnvelope(env)
		}
	}
}

// pingLoop keeps the connection alive with WebSocket pings.
func (s *Socket) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.SetReadDeadline(time.Now().Add(s.config.PingInterval + s.config.PongTimeout)); err != nil {
				return
			}
			s.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-s.closeCh:
			return
		}
	}
}
