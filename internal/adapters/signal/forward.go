package signal

import (
	"github.com/dkeye/Lobby/internal/domain"
	"github.com/hashicorp/go-metrics"
	"github.com/rs/zerolog/log"
)

// handleForward routes an offer, answer or candidate to its target with the
// sender's identifier stamped in From.
func (ctl *SignalWSController) handleForward(conn *WsSignalConn, msg Message) {
	from := conn.ID()
	if from == "" {
		_ = ctl.sendJSON(conn, errorMessage(CodeNotRegistered))
		return
	}

	target, ok := ctl.Dir.Lookup(domain.SessionID(msg.To))
	if !ok {
		metrics.IncrCounter(MetricForwardDropped, 1)
		log.Info().Str("module", "signal").Str("from", string(from)).Str("to", msg.To).Str("type", msg.Type).Msg("forward target unavailable")
		_ = ctl.sendJSON(conn, Message{Type: TypeError, Error: CodePeerUnavailable, To: msg.To})
		return
	}

	out := msg
	out.From = string(from)
	out.To = ""
	if err := ctl.sendJSON(target, out); err != nil {
		metrics.IncrCounter(MetricForwardDropped, 1)
		log.Warn().Err(err).Str("module", "signal").Str("from", string(from)).Str("to", msg.To).Msg("forward dropped")
	}
}
