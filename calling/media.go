/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// MediaSession is the media engine capability a Call consumes. The core
// never touches WebRTC types directly; any engine that can produce and
// apply SDP and trickle ICE candidates can back a call.
type MediaSession interface {
	// CreateOffer starts offer creation and local ICE gathering. The
	// resulting SDP is delivered through OnOfferReady, which may fire
	// more than once if the engine re-gathers.
	CreateOffer() error

	// CreateAnswer applies the remote offer and returns the local answer
	// SDP with gathered candidates included.
	CreateAnswer(remoteSDP string) (string, error)

	// SetRemoteDescription applies the remote answer SDP.
	SetRemoteDescription(sdp string) error

	// AddICECandidate applies a trickled remote candidate. Only valid
	// after the remote description is set.
	AddICECandidate(candidate string) error

	// Close releases the engine. Safe to call more than once.
	Close() error

	OnOfferReady(fn func(sdp string))
	OnICECandidate(fn func(candidate string))
	OnConnectionFailed(fn func(err error))
}

// MediaFactory constructs a MediaSession for each new call.
type MediaFactory func() (MediaSession, error)

// MediaConfig holds configuration for the Pion media engine
type MediaConfig struct {
	// ICEServers is the list of ICE servers (STUN/TURN) to use
	ICEServers []webrtc.ICEServer
}

// DefaultMediaConfig returns a MediaConfig with sensible defaults.
// STUN is required because the client is typically behind NAT and the
// switch needs a public srflx candidate to reach us.
func DefaultMediaConfig() *MediaConfig {
	return &MediaConfig{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

// NewPionFactory returns a MediaFactory producing Pion-backed sessions.
func NewPionFactory(config *MediaConfig) MediaFactory {
	return func() (MediaSession, error) {
		return NewPionMedia(config)
	}
}

// PionMedia implements MediaSession on a Pion PeerConnection.
type PionMedia struct {
	mu                 sync.Mutex
	peerConnection     *webrtc.PeerConnection
	localTrack         *webrtc.TrackLocalStaticRTP
	closed             bool
	onOfferReady       func(sdp string)
	onICECandidate     func(candidate string)
	onConnectionFailed func(err error)
}

// NewPionMedia creates a WebRTC media session for a single call.
func NewPionMedia(config *MediaConfig) (*PionMedia, error) {
	if config == nil {
		config = DefaultMediaConfig()
	}

	// Register only PCMU and PCMA — the switch consistently selects PCMU.
	// Avoid RegisterDefaultCodecs which adds Opus/G722/video codecs that
	// can cause negotiation issues on plain telephony trunks.
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000},
		PayloadType:        0,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("failed to register PCMU: %w", err)
	}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMA, ClockRate: 8000},
		PayloadType:        8,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("failed to register PCMA: %w", err)
	}

	// Some switches send RTP before the answer is fully processed. Enable
	// undeclared SSRC handling so OnTrack fires for early media.
	settings := webrtc.SettingEngine{}
	settings.SetHandleUndeclaredSSRCWithoutAnswer(true)

	// Register default interceptors (RTCP reports, NACK, TWCC) — required
	// when using a custom MediaEngine/SettingEngine, otherwise incoming
	// SRTP isn't processed properly.
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithSettingEngine(settings),
		webrtc.WithInterceptorRegistry(i),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: config.ICEServers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	session := &PionMedia{peerConnection: pc}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		session.mu.Lock()
		handler := session.onICECandidate
		session.mu.Unlock()
		if handler != nil {
			handler(c.ToJSON().Candidate)
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Printf("media: connection state → %s", s.String())
		if s == webrtc.PeerConnectionStateFailed {
			session.mu.Lock()
			handler := session.onConnectionFailed
			session.mu.Unlock()
			if handler != nil {
				handler(fmt.Errorf("peer connection failed"))
			}
		}
	})

	if err := session.addAudioTrack(); err != nil {
		pc.Close()
		return nil, err
	}

	return session, nil
}

// addAudioTrack attaches the local PCMU audio track with a sendrecv
// transceiver so the remote track is delivered back.
func (p *PionMedia) addAudioTrack() error {
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000},
		"audio",
		"verto-call",
	)
	if err != nil {
		return fmt.Errorf("failed to create audio track: %w", err)
	}

	transceiver, err := p.peerConnection.AddTransceiverFromTrack(track,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv},
	)
	if err != nil {
		return fmt.Errorf("failed to add audio transceiver: %w", err)
	}

	// Read RTCP from the sender to keep the connection alive
	go func() {
		sender := transceiver.Sender()
		rtcpBuf := make([]byte, 1500)
		for {
			if _, _, rtcpErr := sender.Read(rtcpBuf); rtcpErr != nil {
				return
			}
		}
	}()

	p.localTrack = track
	return nil
}

// OnOfferReady sets the callback fired when a local offer has finished
// ICE gathering.
func (p *PionMedia) OnOfferReady(fn func(sdp string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onOfferReady = fn
}

// OnICECandidate sets the callback for locally gathered candidates.
func (p *PionMedia) OnICECandidate(fn func(candidate string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onICECandidate = fn
}

// OnConnectionFailed sets the callback fired when the peer connection
// reaches a failed state.
func (p *PionMedia) OnConnectionFailed(fn func(err error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConnectionFailed = fn
}

// CreateOffer builds the local offer and fires OnOfferReady once ICE
// gathering completes. Gathering blocks, so completion is delivered off
// the caller's goroutine.
func (p *PionMedia) CreateOffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("media session is closed")
	}

	offer, err := p.peerConnection.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := p.peerConnection.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(p.peerConnection)
	go func() {
		<-gatherComplete
		p.mu.Lock()
		handler := p.onOfferReady
		local := p.peerConnection.LocalDescription()
		p.mu.Unlock()
		if handler != nil && local != nil {
			handler(filterSDP(local.SDP))
		}
	}()
	return nil
}

// CreateAnswer applies the remote offer and returns the gathered local
// answer SDP. The gathering wait must not hold p.mu: pion delivers the
// candidate callbacks, which take the same mutex, on the goroutine that
// also signals gathering completion.
func (p *PionMedia) CreateAnswer(remoteSDP string) (string, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", fmt.Errorf("media session is closed")
	}
	pc := p.peerConnection
	p.mu.Unlock()

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  remoteSDP,
	}); err != nil {
		return "", fmt.Errorf("failed to set remote offer: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	<-gatherComplete

	local := pc.LocalDescription()
	if local == nil {
		return "", fmt.Errorf("local description is nil after gathering")
	}
	return filterSDP(local.SDP), nil
}

// SetRemoteDescription applies the remote answer. A duplicate answer
// (signaling state already stable) is ignored.
func (p *PionMedia) SetRemoteDescription(sdp string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("media session is closed")
	}

	if p.peerConnection.SignalingState() == webrtc.SignalingStateStable {
		log.Printf("media: ignoring duplicate SDP answer (signaling state already stable)")
		return nil
	}

	return p.peerConnection.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

// AddICECandidate applies a trickled remote candidate.
func (p *PionMedia) AddICECandidate(candidate string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("media session is closed")
	}
	if err := p.peerConnection.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate}); err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}
	return nil
}

// Close closes the peer connection and releases resources
func (p *PionMedia) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.peerConnection != nil {
		if err := p.peerConnection.Close(); err != nil {
			return fmt.Errorf("failed to close peer connection: %w", err)
		}
	}
	return nil
}

// filterSDP strips IPv6 candidate lines from a local SDP. Telephony
// switches routinely reject or stall on IPv6 candidates, so only IPv4
// paths are offered.
func filterSDP(sdp string) string {
	lines := strings.Split(sdp, "\r\n")
	result := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.HasPrefix(line, "a=candidate") {
			fields := strings.Fields(line)
			// Field 5 is the connection address in a candidate line.
			if len(fields) > 4 && strings.Contains(fields[4], ":") {
				continue
			}
		}
		result = append(result, line)
	}
	return strings.Join(result, "\r\n")
}
