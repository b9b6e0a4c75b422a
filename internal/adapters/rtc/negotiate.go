package rtc

import (
	"fmt"

	"github.com/dkeye/Lobby/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Signaler carries one channel's negotiation to the remote side.
type Signaler interface {
	SendDescription(webrtc.SessionDescription) error
	SendCandidate(webrtc.ICECandidateInit) error
}

// Offer starts a channel to remote: it creates the data channel, sends the
// offer through sig and trickles local candidates after it. The caller feeds
// the answer to SetRemoteDescription.
func Offer(cfg webrtc.Configuration, remote domain.SessionID, sig Signaler) (*Channel, error) {
	pc, err := NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating PeerConnection: %w", err)
	}
	c := newChannel(pc, remote)
	c.trickle(sig)

	ordered := true
	dc, err := pc.CreateDataChannel(ChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("creating data channel: %w", err)
	}
	c.attach(dc)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("creating SDP offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("setting local description: %w", err)
	}
	if err := sig.SendDescription(offer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("sending SDP offer: %w", err)
	}
	return c, nil
}

// Answer accepts an offer from remote and sends the answer through sig.
// The channel opens once the remote's data channel arrives.
func Answer(cfg webrtc.Configuration, remote domain.SessionID, offer webrtc.SessionDescription, sig Signaler) (*Channel, error) {
	pc, err := NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating PeerConnection: %w", err)
	}
	c := newChannel(pc, remote)
	c.trickle(sig)

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != ChannelLabel {
			log.Warn().Str("module", "rtc").Str("remote", string(remote)).Str("label", dc.Label()).Msg("unexpected data channel")
			_ = dc.Close()
			return
		}
		c.attach(dc)
	})

	if err := c.SetRemoteDescription(offer); err != nil {
		_ = pc.Close()
		return nil, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("creating SDP answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("setting local description: %w", err)
	}
	if err := sig.SendDescription(answer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("sending SDP answer: %w", err)
	}
	return c, nil
}

// SetRemoteDescription applies the remote SDP and then any candidates that
// arrived ahead of it.
func (c *Channel) SetRemoteDescription(sd webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}
	c.mu.Lock()
	c.remoteSet = true
	early := c.candidates
	c.candidates = nil
	c.mu.Unlock()

	for _, ci := range early {
		if err := c.pc.AddICECandidate(ci); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("remote", string(c.remote)).Msg("add ice candidate")
		}
	}
	return nil
}

func (c *Channel) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	if !c.remoteSet {
		c.candidates = append(c.candidates, ci)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.pc.AddICECandidate(ci)
}

func (c *Channel) trickle(sig Signaler) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		if err := sig.SendCandidate(cand.ToJSON()); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("remote", string(c.remote)).Msg("send ice candidate")
		}
	})
}
