/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"strings"
	"testing"
	"time"
)

func TestFilterSDP(t *testing.T) {
	sdp := strings.Join([]string{
		"v=0",
		"o=- 123 2 IN IP4 192.0.2.1",
		"m=audio 4000 RTP/AVP 0",
		"a=candidate:1 1 udp 2130706431 192.0.2.1 4000 typ host",
		"a=candidate:2 1 udp 2130706431 2001:db8::1 4000 typ host",
		"a=candidate:3 1 udp 1694498815 198.51.100.7 4000 typ srflx",
		"a=sendrecv",
	}, "\r\n")

	got := filterSDP(sdp)

	if strings.Contains(got, "2001:db8::1") {
		t.Error("IPv6 candidate survived filtering")
	}
	if !strings.Contains(got, "192.0.2.1 4000 typ host") {
		t.Error("IPv4 host candidate was dropped")
	}
	if !strings.Contains(got, "198.51.100.7") {
		t.Error("IPv4 srflx candidate was dropped")
	}
	if !strings.Contains(got, "a=sendrecv") {
		t.Error("non-candidate attribute was dropped")
	}
	// The origin line contains no candidate and must pass through even
	// though other lines were removed.
	if !strings.Contains(got, "o=- 123 2 IN IP4 192.0.2.1") {
		t.Error("origin line was dropped")
	}
}

func TestCreateAnswerReturnsWhileTrickling(t *testing.T) {
	offerer, err := NewPionMedia(&MediaConfig{})
	if err != nil {
		t.Fatalf("NewPionMedia() error: %v", err)
	}
	defer offerer.Close()

	offers := make(chan string, 1)
	offerer.OnOfferReady(func(sdp string) { offers <- sdp })
	if err := offerer.CreateOffer(); err != nil {
		t.Fatalf("CreateOffer() error: %v", err)
	}

	var offer string
	select {
	case offer = <-offers:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for the local offer")
	}

	answerer, err := NewPionMedia(&MediaConfig{})
	if err != nil {
		t.Fatalf("NewPionMedia() error: %v", err)
	}
	defer answerer.Close()

	// Candidate callbacks take the session mutex on pion's notifier
	// goroutine, which also signals gathering completion. CreateAnswer
	// must still return.
	answerer.OnICECandidate(func(string) {})

	type result struct {
		sdp string
		err error
	}
	done := make(chan result, 1)
	go func() {
		sdp, err := answerer.CreateAnswer(offer)
		done <- result{sdp, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("CreateAnswer() error: %v", res.err)
		}
		if !strings.Contains(res.sdp, "m=audio") {
			t.Errorf("answer carries no audio section:\n%s", res.sdp)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("CreateAnswer did not return while candidates were trickling")
	}
}

func TestDefaultMediaConfig(t *testing.T) {
	config := DefaultMediaConfig()
	if len(config.ICEServers) == 0 {
		t.Fatal("default config carries no ICE servers")
	}
	if len(config.ICEServers[0].URLs) == 0 || !strings.HasPrefix(config.ICEServers[0].URLs[0], "stun:") {
		t.Errorf("default ICE server = %v, want a STUN url", config.ICEServers[0].URLs)
	}
}
