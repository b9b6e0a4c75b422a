package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/dkeye/Lobby/internal/app/orch"
	"github.com/dkeye/Lobby/internal/core"
	"github.com/dkeye/Lobby/internal/domain"
	"github.com/rs/zerolog/log"
)

// console prints session events for a human and reacts to reset notices:
// a guest leaves when its host does, a host relays guest chatter to the
// other guests.
type console struct {
	ctx     context.Context
	session *orch.Orchestrator

	mu  sync.Mutex
	out io.Writer
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *console) IdentityReady(id domain.SessionID) { c.printf("* your id: %s", id) }

func (c *console) ConnectedAsGuest(host domain.SessionID) { c.printf("* joined %s", host) }

func (c *console) GuestConnected(remote domain.SessionID) { c.printf("* %s joined", remote) }

func (c *console) GuestDisconnected(remote domain.SessionID) { c.printf("* %s left", remote) }

func (c *console) ConnectionError(err error) {
	if errors.Is(err, core.ErrChannelClosed) {
		c.printf("* lost the host")
		return
	}
	c.printf("! %v", err)
}

func (c *console) ReceivedMessage(msg core.Message) {
	if reset, ok := domain.ParseResetSignal(msg.Payload); ok {
		c.onReset(msg.From, reset)
		return
	}
	c.printf("<%s> %s", msg.From, msg.Payload)

	if !c.session.Role().IsHosting() {
		return
	}
	res, err := c.session.Relay(msg.From, msg.Payload)
	if err != nil {
		return
	}
	for _, failed := range res.Failed() {
		log.Debug().Err(failed.Err).Str("module", "console").Str("remote", string(failed.To)).Msg("relay failed")
	}
}

func (c *console) onReset(from domain.SessionID, reset domain.ResetSignal) {
	if !reset.FromHost() {
		c.printf("* %s (%s) is leaving", *reset.Disconnection, from)
		return
	}
	c.printf("* host %s closed the session", from)
	// Leave blocks on the directory; keep it off the channel's callback.
	go func() {
		if _, err := c.session.Leave(c.ctx, ""); err != nil {
			log.Error().Err(err).Str("module", "console").Msg("leave after host reset")
		}
	}()
}
