// Package directory registers identifiers with the directory server over a
// websocket and negotiates rtc channels through it.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/dkeye/Lobby/internal/adapters/rtc"
	"github.com/dkeye/Lobby/internal/adapters/signal"
	"github.com/dkeye/Lobby/internal/core"
	"github.com/dkeye/Lobby/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var _ core.Signaling = (*Client)(nil)

var (
	ErrBadID         = errors.New("directory: identifier rejected")
	ErrRateLimited   = errors.New("directory: register rate limited")
	ErrSignalingLost = errors.New("directory: connection lost")
	ErrUnexpected    = errors.New("directory: unexpected reply")
)

const writeWait = 5 * time.Second

// Client is a core.Signaling backed by the directory server at URL.
//
// Jar keeps the client token the server hands out on the first handshake,
// so every later socket is counted against the same register limit.
type Client struct {
	URL         string
	WebRTC      webrtc.Configuration
	DialTimeout time.Duration
	Header      http.Header
	Jar         http.CookieJar
	SendBuffer  int
}

func New(url string, cfg webrtc.Configuration) *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{URL: url, WebRTC: cfg, DialTimeout: 10 * time.Second, Jar: jar, SendBuffer: 64}
}

// Register opens a socket, claims id on it and waits for the server's
// verdict. The socket lives as long as the registration.
func (c *Client) Register(ctx context.Context, id domain.SessionID) (core.Registration, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.DialTimeout, Jar: c.Jar}
	ws, _, err := dialer.DialContext(ctx, c.URL, c.Header)
	if err != nil {
		return nil, fmt.Errorf("dial directory: %w", err)
	}

	buffer := c.SendBuffer
	if buffer <= 0 {
		buffer = 64
	}
	r := &registration{
		client: c,
		id:     id,
		ws:     ws,
		send:   make(chan []byte, buffer),
		reply:  make(chan signal.Message, 1),
		done:   make(chan struct{}),
		peers:  make(map[domain.SessionID]*rtc.Channel),
	}
	go r.writePump()
	go r.readPump()

	if err := r.sendJSON(signal.Message{Type: signal.TypeRegister, ID: string(id)}); err != nil {
		r.shutdown()
		return nil, err
	}

	select {
	case msg := <-r.reply:
		if err := registerError(msg); err != nil {
			r.shutdown()
			return nil, err
		}
		log.Info().Str("module", "directory").Str("id", string(id)).Msg("registered")
		return r, nil
	case <-r.done:
		return nil, ErrSignalingLost
	case <-ctx.Done():
		r.shutdown()
		return nil, ctx.Err()
	}
}

func registerError(msg signal.Message) error {
	switch {
	case msg.Type == signal.TypeRegistered:
		return nil
	case msg.Error == signal.CodeIDTaken:
		return core.ErrIDTaken
	case msg.Error == signal.CodeBadID:
		return ErrBadID
	case msg.Error == signal.CodeRateLimited:
		return ErrRateLimited
	default:
		return fmt.Errorf("%w: %s %s", ErrUnexpected, msg.Type, msg.Error)
	}
}

// registration implements core.Registration. Inbound socket messages are
// handled one at a time on the read goroutine.
type registration struct {
	client *Client
	id     domain.SessionID
	ws     *websocket.Conn
	send   chan []byte
	reply  chan signal.Message
	done   chan struct{}

	sendMu sync.Mutex
	closed bool

	mu         sync.Mutex
	registered bool
	released   bool
	onChannel  func(core.Channel)
	onError    func(error)
	backlog    []core.Channel
	peers      map[domain.SessionID]*rtc.Channel
}

func (r *registration) ID() domain.SessionID { return r.id }

func (r *registration) Dial(_ context.Context, remote domain.SessionID) (core.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released || r.isClosed() {
		return nil, core.ErrReleased
	}
	// Holding mu until the channel is tracked keeps the read loop from
	// seeing the answer first.
	ch, err := rtc.Offer(r.client.WebRTC, remote, peerSignaler{r: r, remote: remote})
	if err != nil {
		return nil, err
	}
	r.trackLocked(remote, ch)
	return ch, nil
}

func (r *registration) OnChannel(fn func(core.Channel)) {
	r.mu.Lock()
	r.onChannel = fn
	backlog := r.backlog
	r.backlog = nil
	r.mu.Unlock()
	for _, ch := range backlog {
		fn(ch)
	}
}

func (r *registration) OnError(fn func(error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onError = fn
}

// Release frees the identifier and closes every channel negotiated through
// this registration.
func (r *registration) Release() error {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return nil
	}
	r.released = true
	peers := r.peers
	r.peers = make(map[domain.SessionID]*rtc.Channel)
	r.backlog = nil
	r.mu.Unlock()

	_ = r.sendJSON(signal.Message{Type: signal.TypeUnregister})
	for _, ch := range peers {
		_ = ch.Close()
	}
	r.shutdown()
	log.Info().Str("module", "directory").Str("id", string(r.id)).Msg("released")
	return nil
}

// shutdown stops the write pump, which closes the socket and ends the read
// pump.
func (r *registration) shutdown() {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.send)
}

func (r *registration) isClosed() bool {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	return r.closed
}

// sendJSON never takes mu, so it is safe from negotiation callbacks that run
// while mu is held.
func (r *registration) sendJSON(msg signal.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	if r.closed {
		return ErrSignalingLost
	}
	select {
	case r.send <- b:
		return nil
	default:
		return core.ErrBackpressure
	}
}

func (r *registration) trackLocked(remote domain.SessionID, ch *rtc.Channel) {
	if old, ok := r.peers[remote]; ok && old != ch {
		go func() { _ = old.Close() }()
	}
	r.peers[remote] = ch
	go func() {
		<-ch.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, ok := r.peers[remote]; ok && cur == ch {
			delete(r.peers, remote)
		}
	}()
}

func (r *registration) peer(remote domain.SessionID) (*rtc.Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.peers[remote]
	return ch, ok
}

func (r *registration) errorHandler() func(error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.onError
}

// peerSignaler sends one channel's negotiation to remote via the server.
type peerSignaler struct {
	r      *registration
	remote domain.SessionID
}

func (s peerSignaler) SendDescription(sd webrtc.SessionDescription) error {
	return s.r.sendJSON(signal.Message{Type: sd.Type.String(), To: string(s.remote), SDP: sd.SDP})
}

func (s peerSignaler) SendCandidate(ci webrtc.ICECandidateInit) error {
	raw, err := json.Marshal(ci)
	if err != nil {
		return err
	}
	return s.r.sendJSON(signal.Message{Type: signal.TypeCandidate, To: string(s.remote), Candidate: raw})
}
