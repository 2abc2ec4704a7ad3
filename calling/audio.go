/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"log"
	"sync"
)

// AudioDevice identifies an audio output route.
type AudioDevice string

const (
	AudioDeviceBluetooth   AudioDevice = "bluetooth"
	AudioDeviceEarpiece    AudioDevice = "earpiece"
	AudioDeviceLoudspeaker AudioDevice = "loudspeaker"
)

// AudioMode is the platform audio mode requested around call transitions.
type AudioMode string

const (
	AudioModeNormal        AudioMode = "normal"
	AudioModeRingtone      AudioMode = "ringtone"
	AudioModeCommunication AudioMode = "in_communication"
)

// ToneKind identifies a progress tone.
type ToneKind string

const (
	ToneRingtone ToneKind = "ringtone"
	ToneRingback ToneKind = "ringback"
)

// TonePlayer plays and stops progress tones. Host environments supply a
// real player backed by their audio assets; the default does nothing.
type TonePlayer interface {
	Play(tone ToneKind)
	Stop()
}

// PlatformAudio is the host audio routing surface.
type PlatformAudio interface {
	SetMode(mode AudioMode)
	SetBluetoothScoOn(on bool)
	SetSpeakerphoneOn(on bool)
	OutputDevices() []AudioDevice
}

// NopTonePlayer is a TonePlayer that plays nothing.
type NopTonePlayer struct{}

// Play is a no-op.
func (NopTonePlayer) Play(ToneKind) {}

// Stop is a no-op.
func (NopTonePlayer) Stop() {}

// NopPlatformAudio is a PlatformAudio with no routing capability. It
// reports only the earpiece device.
type NopPlatformAudio struct{}

// SetMode is a no-op.
func (NopPlatformAudio) SetMode(AudioMode) {}

// SetBluetoothScoOn is a no-op.
func (NopPlatformAudio) SetBluetoothScoOn(bool) {}

// SetSpeakerphoneOn is a no-op.
func (NopPlatformAudio) SetSpeakerphoneOn(bool) {}

// OutputDevices returns the earpiece only.
func (NopPlatformAudio) OutputDevices() []AudioDevice {
	return []AudioDevice{AudioDeviceEarpiece}
}

// AudioController maps call state transitions to tone and routing
// commands. One controller serves all calls on a session; tones stop as
// soon as any call goes active or terminal.
type AudioController struct {
	mu       sync.Mutex
	tones    TonePlayer
	platform PlatformAudio
}

// NewAudioController creates a controller over the given tone player and
// platform audio surface. Nil arguments fall back to the no-op
// implementations.
func NewAudioController(tones TonePlayer, platform PlatformAudio) *AudioController {
	if tones == nil {
		tones = NopTonePlayer{}
	}
	if platform == nil {
		platform = NopPlatformAudio{}
	}
	return &AudioController{tones: tones, platform: platform}
}

// OnTransition reacts to a call state transition: an outbound call plays
// ringback as soon as its offer is out, an inbound call plays the
// ringtone while ringing, and reaching Active or a terminal state stops
// tones.
func (a *AudioController) OnTransition(direction Direction, to CallState) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch to {
	case CallStateOfferSent:
		if direction == DirectionOutbound {
			a.tones.Play(ToneRingback)
		}
	case CallStateRinging:
		if direction == DirectionInbound {
			a.platform.SetMode(AudioModeRingtone)
			a.tones.Play(ToneRingtone)
		}
	case CallStateActive:
		a.tones.Stop()
		a.platform.SetMode(AudioModeCommunication)
	case CallStateTerminated:
		a.tones.Stop()
		a.platform.SetMode(AudioModeNormal)
	}
}

// SetOutput routes audio to the requested device. Selecting a device the
// platform does not report available is a logged no-op.
func (a *AudioController) SetOutput(device AudioDevice) {
	a.mu.Lock()
	defer a.mu.Unlock()

	available := false
	for _, d := range a.platform.OutputDevices() {
		if d == device {
			available = true
			break
		}
	}
	if !available {
		log.Printf("audio: output device %s not available, keeping current route", device)
		return
	}

	switch device {
	case AudioDeviceBluetooth:
		a.platform.SetSpeakerphoneOn(false)
		a.platform.SetBluetoothScoOn(true)
	case AudioDeviceLoudspeaker:
		a.platform.SetBluetoothScoOn(false)
		a.platform.SetSpeakerphoneOn(true)
	case AudioDeviceEarpiece:
		a.platform.SetBluetoothScoOn(false)
		a.platform.SetSpeakerphoneOn(false)
	}
}
