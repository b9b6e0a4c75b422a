package rtc

import "github.com/pion/webrtc/v4"

// ChannelLabel names the one data channel a session link carries.
const ChannelLabel = "session"

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// ConfigFromURLs builds a configuration from plain STUN/TURN urls. No urls
// means host candidates only, enough for one machine or one LAN.
func ConfigFromURLs(urls []string) webrtc.Configuration {
	if len(urls) == 0 {
		return webrtc.Configuration{}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: urls}},
	}
}

// NewPeerConnection creates a PeerConnection that also gathers loopback
// candidates, so two peers on the same host can reach each other.
func NewPeerConnection(cfg webrtc.Configuration) (*webrtc.PeerConnection, error) {
	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(true)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))
	return api.NewPeerConnection(cfg)
}
