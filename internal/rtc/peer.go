// Package rtc wraps a pion PeerConnection for one negotiation attempt.
package rtc

import (
	"github.com/pion/webrtc/v4"
)

// newPeerConnection creates a PeerConnection configured with the given STUN
// servers. STUN only: sessions behind topologies that need TURN fail and
// that failure is surfaced, not repaired.
func newPeerConnection(stunServers []string) (*webrtc.PeerConnection, error) {
	var config webrtc.Configuration
	if len(stunServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{
			{URLs: stunServers},
		}
	}
	return webrtc.NewPeerConnection(config)
}
