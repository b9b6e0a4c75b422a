package orch

import (
	"fmt"

	"github.com/dkeye/Lobby/internal/app"
	"github.com/dkeye/Lobby/internal/core"
	"github.com/dkeye/Lobby/internal/domain"
	"github.com/hashicorp/go-metrics"
	"github.com/rs/zerolog/log"
)

// SendAsGuest sends data unchanged to the host.
func (o *Orchestrator) SendAsGuest(data core.Frame) error {
	o.mu.Lock()
	link := o.guest
	open := link != nil && link.open
	o.mu.Unlock()

	if !open {
		return core.ErrNotConnected
	}
	if err := link.ch.Send(data); err != nil {
		return fmt.Errorf("%w: %s: %w", core.ErrChannelSendFailed, link.host, err)
	}
	return nil
}

// SendAsHost sends data to every connected guest. Per-guest failures are in
// the result and never stop the fan-out.
func (o *Orchestrator) SendAsHost(data core.Frame) (app.PublishResult, error) {
	return o.fanOut(data)
}

// Relay re-broadcasts a guest's payload, byte for byte, to every other guest.
func (o *Orchestrator) Relay(from domain.SessionID, data core.Frame) (app.PublishResult, error) {
	return o.fanOut(data, from)
}

func (o *Orchestrator) fanOut(data core.Frame, skip ...domain.SessionID) (app.PublishResult, error) {
	if !o.Role().IsHosting() {
		return app.PublishResult{}, core.ErrNotHosting
	}
	res := o.Registry.Broadcast(data, skip...)
	o.onPublished(res)
	return res, nil
}

func (o *Orchestrator) onPublished(res app.PublishResult) {
	metrics.IncrCounter(app.MetricBroadcastSent, float32(res.Sent()))
	for _, failed := range res.Failed() {
		metrics.IncrCounter(app.MetricBroadcastFailed, 1)
		log.Warn().Err(failed.Err).Str("module", "orch").Str("remote", string(failed.To)).Msg("send to guest failed")
		if o.Policy == nil {
			continue
		}
		switch o.Policy.OnSendFailure(failed.To, failed.Err) {
		case app.KickMember:
			o.kick(failed.To)
		case app.NoAction:
		}
	}
}

func (o *Orchestrator) kick(remote domain.SessionID) {
	o.mu.Lock()
	ch, ok := o.Registry.Get(remote)
	if ok {
		o.Registry.RemoveIf(remote, ch)
	}
	o.mu.Unlock()
	if !ok {
		return
	}
	_ = ch.Close()
	log.Info().Str("module", "orch").Str("remote", string(remote)).Msg("kicked guest")
	metrics.IncrCounter(app.MetricGuestDisconnected, 1)
	o.events().GuestDisconnected(remote)
}
