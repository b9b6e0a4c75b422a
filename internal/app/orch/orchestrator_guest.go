package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Lobby/internal/core"
	"github.com/dkeye/Lobby/internal/domain"
	"github.com/rs/zerolog/log"
)

// ConnectToHost dials host and waits, asynchronously, for the channel to open.
// Until ConnectedAsGuest fires the participant is a pending guest and
// SendAsGuest fails with core.ErrNotConnected. A previous guest channel is
// closed first.
func (o *Orchestrator) ConnectToHost(ctx context.Context, host domain.SessionID) error {
	if host == "" {
		return fmt.Errorf("%w: empty host id", core.ErrChannelOpenFailed)
	}

	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()

	o.mu.Lock()
	if o.reg == nil {
		o.mu.Unlock()
		return core.ErrNotRegistered
	}
	if o.role.IsHosting() {
		o.mu.Unlock()
		return core.ErrAlreadyHosting
	}
	reg := o.reg
	if reg.ID() == host {
		o.mu.Unlock()
		return core.ErrSelfConnect
	}
	var prev core.Channel
	if o.guest != nil {
		prev = o.guest.ch
		o.guest = nil
	}
	o.gen++
	o.role = domain.Unhosted()
	gen := o.gen
	o.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}

	ch, err := reg.Dial(ctx, host)
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", core.ErrChannelOpenFailed, host, err)
		log.Warn().Err(err).Str("module", "orch").Msg("dial host")
		o.events().ConnectionError(err)
		return err
	}

	link := &guestLink{host: host, ch: ch, gen: gen}
	o.mu.Lock()
	o.guest = link
	o.mu.Unlock()

	ch.OnOpen(func() { o.onHostOpen(link) })
	ch.OnMessage(func(f core.Frame) { o.onHostMessage(link, f) })
	ch.OnClose(func() { o.onHostGone(link, core.ErrChannelClosed) })
	ch.OnError(func(err error) { o.onHostGone(link, err) })

	log.Info().Str("module", "orch").Str("host", string(host)).Msg("dialing host")
	return nil
}

func (o *Orchestrator) onHostOpen(link *guestLink) {
	o.mu.Lock()
	if o.guest != link || link.gen != o.gen {
		o.mu.Unlock()
		_ = link.ch.Close()
		return
	}
	link.open = true
	o.role = domain.GuestOf(link.host)
	o.mu.Unlock()

	log.Info().Str("module", "orch").Str("host", string(link.host)).Msg("connected as guest")
	o.events().ConnectedAsGuest(link.host)
}

func (o *Orchestrator) onHostMessage(link *guestLink, f core.Frame) {
	o.mu.Lock()
	current := o.guest == link && link.open
	o.mu.Unlock()
	if !current {
		return
	}
	o.events().ReceivedMessage(core.Message{From: link.host, Payload: f})
}

// onHostGone handles close and error on the host channel. Before open it is a
// failed join; after open the host has gone away. Either way the participant
// ends up Unhosted and keeps its identity.
func (o *Orchestrator) onHostGone(link *guestLink, cause error) {
	o.mu.Lock()
	if o.guest != link {
		o.mu.Unlock()
		return
	}
	wasOpen := link.open
	o.guest = nil
	o.role = domain.Unhosted()
	o.mu.Unlock()

	_ = link.ch.Close()

	var err error
	switch {
	case !wasOpen:
		err = fmt.Errorf("%w: %s: %w", core.ErrChannelOpenFailed, link.host, cause)
	case errors.Is(cause, core.ErrChannelClosed):
		err = fmt.Errorf("host %s: %w", link.host, cause)
	default:
		err = fmt.Errorf("host %s: %w: %w", link.host, core.ErrChannelClosed, cause)
	}
	log.Warn().Err(err).Str("module", "orch").Bool("was_open", wasOpen).Msg("host channel lost")
	o.events().ConnectionError(err)
}
