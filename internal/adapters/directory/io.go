package directory

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Lobby/internal/adapters/rtc"
	"github.com/dkeye/Lobby/internal/adapters/signal"
	"github.com/dkeye/Lobby/internal/core"
	"github.com/dkeye/Lobby/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func (r *registration) writePump() {
	defer func() { _ = r.ws.Close() }()
	for data := range r.send {
		if err := r.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return
		}
		if err := r.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Warn().Err(err).Str("module", "directory").Msg("write")
			return
		}
	}
	_ = r.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

func (r *registration) readPump() {
	defer close(r.done)
	for {
		_, data, err := r.ws.ReadMessage()
		if err != nil {
			r.lost(err)
			return
		}
		var msg signal.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Str("module", "directory").Msg("bad json from directory")
			continue
		}
		r.dispatch(msg)
	}
}

// lost reports a dropped socket once the identifier was held. Channels that
// are already open keep running; new negotiation is impossible.
func (r *registration) lost(err error) {
	r.mu.Lock()
	expected := r.released || !r.registered
	r.mu.Unlock()
	r.shutdown()
	if expected {
		return
	}
	err = fmt.Errorf("%w: %w", ErrSignalingLost, err)
	log.Warn().Err(err).Str("module", "directory").Str("id", string(r.id)).Msg("signaling lost")
	if fn := r.errorHandler(); fn != nil {
		fn(err)
	}
}

func (r *registration) dispatch(msg signal.Message) {
	switch msg.Type {
	case signal.TypeRegistered:
		r.settle(msg)
	case signal.TypeError:
		r.handleError(msg)
	case signal.TypeOffer:
		r.handleOffer(msg)
	case signal.TypeAnswer:
		r.handleAnswer(msg)
	case signal.TypeCandidate:
		r.handleCandidate(msg)
	case signal.TypePong, signal.TypeWhoAmI:
		log.Debug().Str("module", "directory").Str("type", msg.Type).Msg("directory reply")
	default:
		log.Warn().Str("module", "directory").Str("type", msg.Type).Msg("unknown directory message")
	}
}

// settle hands the first register verdict to Register.
func (r *registration) settle(msg signal.Message) {
	r.mu.Lock()
	first := !r.registered
	if msg.Type == signal.TypeRegistered {
		r.registered = true
	}
	r.mu.Unlock()
	if !first {
		return
	}
	select {
	case r.reply <- msg:
	default:
	}
}

func (r *registration) handleError(msg signal.Message) {
	switch msg.Error {
	case signal.CodeIDTaken, signal.CodeBadID, signal.CodeRateLimited:
		r.settle(msg)
	case signal.CodePeerUnavailable:
		if ch, ok := r.peer(domain.SessionID(msg.To)); ok {
			ch.Fail(fmt.Errorf("%w: %s", core.ErrPeerNotFound, msg.To))
		}
	default:
		err := fmt.Errorf("directory error: %s", msg.Error)
		if fn := r.errorHandler(); fn != nil {
			fn(err)
		}
	}
}

func (r *registration) handleOffer(msg signal.Message) {
	from := domain.SessionID(msg.From)
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP}

	r.mu.Lock()
	if r.released || r.isClosed() {
		r.mu.Unlock()
		return
	}
	ch, err := rtc.Answer(r.client.WebRTC, from, offer, peerSignaler{r: r, remote: from})
	if err != nil {
		r.mu.Unlock()
		log.Warn().Err(err).Str("module", "directory").Str("from", string(from)).Msg("answer offer")
		return
	}
	r.trackLocked(from, ch)
	fn := r.onChannel
	if fn == nil {
		r.backlog = append(r.backlog, ch)
	}
	r.mu.Unlock()

	if fn != nil {
		fn(ch)
	}
}

func (r *registration) handleAnswer(msg signal.Message) {
	ch, ok := r.peer(domain.SessionID(msg.From))
	if !ok {
		log.Debug().Str("module", "directory").Str("from", msg.From).Msg("answer for unknown channel")
		return
	}
	if err := ch.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP}); err != nil {
		ch.Fail(err)
	}
}

func (r *registration) handleCandidate(msg signal.Message) {
	ch, ok := r.peer(domain.SessionID(msg.From))
	if !ok {
		return
	}
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(msg.Candidate, &ci); err != nil {
		log.Warn().Err(err).Str("module", "directory").Str("from", msg.From).Msg("bad candidate")
		return
	}
	if err := ch.AddICECandidate(ci); err != nil && !errors.Is(err, webrtc.ErrConnectionClosed) {
		log.Warn().Err(err).Str("module", "directory").Str("from", msg.From).Msg("add ice candidate")
	}
}
