package orch

import (
	"github.com/dkeye/Lobby/internal/app"
	"github.com/dkeye/Lobby/internal/core"
	"github.com/dkeye/Lobby/internal/domain"
	"github.com/hashicorp/go-metrics"
	"github.com/rs/zerolog/log"
)

// StartHosting makes this participant the host. Calling it again while
// hosting starts a new membership: guests accepted before the call are
// dropped and their late callbacks ignored.
func (o *Orchestrator) StartHosting() error {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()

	o.mu.Lock()
	if o.reg == nil {
		o.mu.Unlock()
		return core.ErrNotRegistered
	}
	if o.guest != nil {
		o.mu.Unlock()
		return core.ErrAlreadyGuest
	}
	o.gen++
	o.role = domain.Hosting()
	stale := o.Registry.Reset()
	id := o.reg.ID()
	o.mu.Unlock()

	closeChannels(stale)
	log.Info().Str("module", "orch").Str("id", string(id)).Int("dropped", len(stale)).Msg("hosting")
	return nil
}

// acceptGuest is the registration's inbound dispatcher. Channels offered while
// not hosting, or to a released registration, are refused.
func (o *Orchestrator) acceptGuest(reg core.Registration, ch core.Channel) {
	remote := ch.RemoteID()

	o.mu.Lock()
	accept := o.reg == reg && o.role.IsHosting()
	gen := o.gen
	o.mu.Unlock()

	if !accept {
		log.Info().Str("module", "orch").Str("remote", string(remote)).Msg("refusing inbound channel, not hosting")
		_ = ch.Close()
		return
	}

	ch.OnOpen(func() { o.onGuestOpen(gen, remote, ch) })
	ch.OnMessage(func(f core.Frame) { o.onGuestMessage(remote, ch, f) })
	ch.OnClose(func() { o.onGuestGone(gen, remote, ch, nil) })
	ch.OnError(func(err error) { o.onGuestGone(gen, remote, ch, err) })
}

func (o *Orchestrator) onGuestOpen(gen uint64, remote domain.SessionID, ch core.Channel) {
	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		log.Debug().Str("module", "orch").Str("remote", string(remote)).Msg("stale guest channel opened, closing")
		_ = ch.Close()
		return
	}
	replaced := o.Registry.Add(remote, ch)
	o.mu.Unlock()

	if replaced != nil {
		_ = replaced.Close()
	}
	metrics.IncrCounter(app.MetricGuestConnected, 1)
	o.events().GuestConnected(remote)
}

func (o *Orchestrator) onGuestMessage(remote domain.SessionID, ch core.Channel, f core.Frame) {
	if cur, ok := o.Registry.Get(remote); !ok || cur != ch {
		return
	}
	o.events().ReceivedMessage(core.Message{From: remote, Payload: f})
}

// onGuestGone removes the entry synchronously on close or error. A link that
// was replaced by a reconnect no longer owns the entry and is ignored.
func (o *Orchestrator) onGuestGone(gen uint64, remote domain.SessionID, ch core.Channel, cause error) {
	o.mu.Lock()
	removed := gen == o.gen && o.Registry.RemoveIf(remote, ch)
	o.mu.Unlock()

	if cause != nil {
		log.Warn().Err(cause).Str("module", "orch").Str("remote", string(remote)).Msg("guest channel error")
		_ = ch.Close()
	}
	if !removed {
		return
	}
	metrics.IncrCounter(app.MetricGuestDisconnected, 1)
	o.events().GuestDisconnected(remote)
}
