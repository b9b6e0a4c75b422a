package signal

import (
	"errors"

	"github.com/dkeye/Lobby/internal/app"
	"github.com/dkeye/Lobby/internal/core"
	"github.com/dkeye/Lobby/internal/domain"
	"github.com/hashicorp/go-metrics"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleRegister(conn *WsSignalConn, msg Message) {
	if !ctl.Limiter.Allow(conn.token) {
		ctl.registerFailed(conn, msg.ID, CodeRateLimited)
		return
	}
	id, err := domain.ParseSessionID(msg.ID)
	if err != nil {
		ctl.registerFailed(conn, msg.ID, CodeBadID)
		return
	}

	if prev := conn.ID(); prev != "" && prev != id {
		ctl.Dir.Unregister(prev, conn)
	}
	if err := ctl.Dir.Register(id, conn); err != nil {
		if errors.Is(err, core.ErrIDTaken) {
			ctl.registerFailed(conn, msg.ID, CodeIDTaken)
			return
		}
		log.Error().Err(err).Str("module", "signal").Msg("register")
		return
	}
	conn.setID(id)

	metrics.IncrCounterWithLabels(MetricRegister, 1, []metrics.Label{app.LabelReason.M("ok")})
	log.Info().Str("module", "signal").Str("conn", conn.connID).Str("id", string(id)).Msg("registered")
	_ = ctl.sendJSON(conn, Message{Type: TypeRegistered, ID: string(id)})
}

func (ctl *SignalWSController) registerFailed(conn *WsSignalConn, id, code string) {
	metrics.IncrCounterWithLabels(MetricRegister, 1, []metrics.Label{app.LabelReason.M(code)})
	log.Info().Str("module", "signal").Str("conn", conn.connID).Str("id", id).Str("reason", code).Msg("register refused")
	_ = ctl.sendJSON(conn, Message{Type: TypeError, ID: id, Error: code})
}
