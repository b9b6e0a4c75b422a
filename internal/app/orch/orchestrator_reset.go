package orch

import (
	"context"
	"time"

	"github.com/dkeye/Lobby/internal/app"
	"github.com/dkeye/Lobby/internal/domain"
	"github.com/hashicorp/go-metrics"
	"github.com/rs/zerolog/log"
)

// Leave notifies the other side, tears the session down and registers a
// fresh identity, which it returns.
//
// A connected guest with a name sends {"disconnection": name} and waits
// GracePeriod before closing, so the notice is not lost to an immediate
// close. Cancelling ctx cuts the wait short but still registers the fresh
// identity. If another role command runs
// during the wait the leave is superseded and returns the current id
// without touching the newer session.
//
// A host broadcasts {"disconnection": null} to every guest and resets at
// once. Everyone else just resets.
func (o *Orchestrator) Leave(ctx context.Context, name string) (domain.SessionID, error) {
	o.cmdMu.Lock()

	o.mu.Lock()
	role := o.role
	gen := o.gen
	link := o.guest
	open := link != nil && link.open
	o.mu.Unlock()

	switch {
	case role.IsHosting():
		metrics.IncrCounterWithLabels(app.MetricLeave, 1, []metrics.Label{app.LabelRole.M("host")})
		res := o.Registry.Broadcast(domain.HostLeft().Encode())
		for _, failed := range res.Failed() {
			log.Warn().Err(failed.Err).Str("module", "orch").Str("remote", string(failed.To)).Msg("host leave notice not delivered")
		}
		log.Info().Str("module", "orch").Int("notified", res.Sent()).Msg("host leaving")

	case open && name != "":
		metrics.IncrCounterWithLabels(app.MetricLeave, 1, []metrics.Label{app.LabelRole.M("guest")})
		if err := link.ch.Send(domain.GuestLeft(name).Encode()); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("host", string(link.host)).Msg("guest leave notice not sent")
		}
		o.cmdMu.Unlock()

		o.waitGrace(ctx)

		o.cmdMu.Lock()
		o.mu.Lock()
		superseded := gen != o.gen
		o.mu.Unlock()
		if superseded {
			o.cmdMu.Unlock()
			log.Info().Str("module", "orch").Msg("leave superseded by a newer session")
			return o.ID(), nil
		}
		log.Info().Str("module", "orch").Str("host", string(link.host)).Str("name", name).Msg("guest leaving")
		ctx = context.WithoutCancel(ctx)

	default:
		metrics.IncrCounterWithLabels(app.MetricLeave, 1, []metrics.Label{app.LabelRole.M(role.Kind.String())})
		log.Info().Str("module", "orch").Str("role", role.String()).Msg("leaving without notice")
	}

	defer o.cmdMu.Unlock()
	return o.initialize(ctx, "")
}

func (o *Orchestrator) waitGrace(ctx context.Context) {
	timer := time.NewTimer(o.gracePeriod())
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
