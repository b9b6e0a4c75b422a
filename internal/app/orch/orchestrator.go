package orch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Lobby/internal/app"
	"github.com/dkeye/Lobby/internal/core"
	"github.com/dkeye/Lobby/internal/domain"
	"github.com/hashicorp/go-metrics"
	"github.com/rs/zerolog/log"
)

// DefaultGracePeriod is how long a departing guest waits for its leave
// notice to flush before closing the host channel.
const DefaultGracePeriod = 500 * time.Millisecond

// Orchestrator owns the participant's role, its registered identity and every
// channel it holds. Role commands are serialized by cmdMu; channel callbacks
// only take mu, which also guards every field below it.
type Orchestrator struct {
	Signaling   core.Signaling
	Events      core.SessionEvents
	Policy      app.Policy
	Registry    *app.Registry
	GracePeriod time.Duration

	cmdMu sync.Mutex

	mu    sync.Mutex
	reg   core.Registration
	role  domain.Role
	gen   uint64
	guest *guestLink
}

// guestLink is the single channel a guest holds to its host. It is pending
// until open is set.
type guestLink struct {
	host domain.SessionID
	ch   core.Channel
	open bool
	gen  uint64
}

func New(sig core.Signaling, events core.SessionEvents) *Orchestrator {
	return &Orchestrator{
		Signaling:   sig,
		Events:      events,
		Policy:      app.SimplePolicy{},
		Registry:    app.NewRegistry(),
		GracePeriod: DefaultGracePeriod,
	}
}

func (o *Orchestrator) Role() domain.Role {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.role
}

// ID returns the registered identifier, or "" when none is registered.
func (o *Orchestrator) ID() domain.SessionID {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.reg == nil {
		return ""
	}
	return o.reg.ID()
}

// Guests lists the remote ids currently in the host's registry.
func (o *Orchestrator) Guests() []domain.SessionID {
	var out []domain.SessionID
	for id := range o.Registry.All() {
		out = append(out, id)
	}
	return out
}

// Initialize releases the current identity, registers id (a fresh one when id
// is empty) and returns to Unhosted with no channels. It is safe to call at
// any point.
func (o *Orchestrator) Initialize(ctx context.Context, id domain.SessionID) (domain.SessionID, error) {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()
	return o.initialize(ctx, id)
}

// initialize must be called with cmdMu held.
func (o *Orchestrator) initialize(ctx context.Context, id domain.SessionID) (domain.SessionID, error) {
	o.mu.Lock()
	prev := o.reg
	stale := o.resetLocked()
	o.reg = nil
	o.mu.Unlock()

	closeChannels(stale)
	if prev != nil {
		if err := prev.Release(); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("id", string(prev.ID())).Msg("release identity")
		}
	}

	if id == "" {
		var err error
		if id, err = domain.NewSessionID(); err != nil {
			return "", o.registrationFailed(id, err)
		}
	}

	reg, err := o.Signaling.Register(ctx, id)
	if err != nil {
		return "", o.registrationFailed(id, err)
	}

	o.mu.Lock()
	o.reg = reg
	o.mu.Unlock()

	reg.OnChannel(func(ch core.Channel) { o.acceptGuest(reg, ch) })
	reg.OnError(func(err error) { o.onSignalingError(reg, err) })

	if prev != nil {
		metrics.IncrCounter(app.MetricIdentityRotated, 1)
	}
	log.Info().Str("module", "orch").Str("id", string(id)).Msg("identity ready")
	o.events().IdentityReady(id)
	return id, nil
}

// Close drops every channel and releases the identity without registering a
// new one. The orchestrator can be brought back with Initialize.
func (o *Orchestrator) Close() error {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()

	o.mu.Lock()
	prev := o.reg
	stale := o.resetLocked()
	o.reg = nil
	o.mu.Unlock()

	closeChannels(stale)
	if prev == nil {
		return nil
	}
	return prev.Release()
}

// resetLocked drops every channel and returns them for closing once mu is
// released. Bumping gen turns every callback installed so far inert.
func (o *Orchestrator) resetLocked() []core.Channel {
	o.gen++
	o.role = domain.Unhosted()
	stale := o.Registry.Reset()
	if o.guest != nil {
		stale = append(stale, o.guest.ch)
		o.guest = nil
	}
	return stale
}

func (o *Orchestrator) registrationFailed(id domain.SessionID, cause error) error {
	err := fmt.Errorf("%w: %q: %w", core.ErrIdentityRegistrationFailed, id, cause)
	metrics.IncrCounter(app.MetricRegisterFailed, 1)
	log.Error().Err(err).Str("module", "orch").Msg("register identity")
	o.events().ConnectionError(err)
	return err
}

func (o *Orchestrator) onSignalingError(reg core.Registration, err error) {
	o.mu.Lock()
	current := o.reg == reg
	o.mu.Unlock()
	if !current {
		return
	}
	log.Warn().Err(err).Str("module", "orch").Str("id", string(reg.ID())).Msg("signaling error")
	o.events().ConnectionError(err)
}

func (o *Orchestrator) events() core.SessionEvents {
	if o.Events == nil {
		return core.NopEvents{}
	}
	return o.Events
}

func (o *Orchestrator) gracePeriod() time.Duration {
	if o.GracePeriod <= 0 {
		return DefaultGracePeriod
	}
	return o.GracePeriod
}

func closeChannels(chs []core.Channel) {
	for _, ch := range chs {
		if err := ch.Close(); err != nil {
			log.Debug().Err(err).Str("module", "orch").Str("remote", string(ch.RemoteID())).Msg("close channel")
		}
	}
}
