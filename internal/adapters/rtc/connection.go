package rtc

import (
	"errors"
	"io"
	"sync"

	"github.com/dkeye/Lobby/internal/core"
	"github.com/dkeye/Lobby/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var _ core.Channel = (*Channel)(nil)

// MaxBufferedAmount is the send backlog above which Send reports
// backpressure instead of queueing more.
const MaxBufferedAmount = 1 << 20

var (
	ErrNotOpen          = errors.New("rtc: data channel not open")
	ErrConnectionFailed = errors.New("rtc: peer connection failed")
)

type channelState uint8

const (
	stateNew channelState = iota
	stateOpen
	stateClosed
)

// Channel is a PeerConnection carrying one ordered data channel. Events that
// happen before a handler is installed are held and delivered once it is;
// handlers never run concurrently with each other.
type Channel struct {
	pc     *webrtc.PeerConnection
	remote domain.SessionID
	done   chan struct{}

	mu         sync.Mutex
	dc         *webrtc.DataChannel
	state      channelState
	remoteSet  bool
	candidates []webrtc.ICECandidateInit
	pumping    bool
	onOpen     func()
	onClose    func()
	onMessage  func(core.Frame)
	onError    func(error)

	openSeen, openFired   bool
	closeSeen, closeFired bool
	inbox                 []core.Frame
	errs                  []error
}

func newChannel(pc *webrtc.PeerConnection, remote domain.SessionID) *Channel {
	c := &Channel{pc: pc, remote: remote, done: make(chan struct{})}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debug().Str("module", "rtc").Str("remote", string(remote)).Str("peer_connection_state", s.String()).Msg("peer state")
		switch s {
		case webrtc.PeerConnectionStateFailed:
			c.Fail(ErrConnectionFailed)
		case webrtc.PeerConnectionStateClosed:
			_ = c.Close()
		}
	})
	return c
}

// attach binds the negotiated data channel.
func (c *Channel) attach(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	dc.OnOpen(c.opened)
	dc.OnMessage(func(msg webrtc.DataChannelMessage) { c.pushMessage(msg.Data) })
	dc.OnClose(func() { _ = c.Close() })
	dc.OnError(c.pushError)
}

func (c *Channel) RemoteID() domain.SessionID { return c.remote }

// Done is closed once the channel is closed.
func (c *Channel) Done() <-chan struct{} { return c.done }

func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateOpen
}

func (c *Channel) Send(f core.Frame) error {
	c.mu.Lock()
	dc, state := c.dc, c.state
	c.mu.Unlock()

	switch {
	case state == stateClosed:
		return core.ErrChannelClosed
	case state != stateOpen || dc == nil:
		return ErrNotOpen
	}
	if dc.BufferedAmount() > MaxBufferedAmount {
		return core.ErrBackpressure
	}
	if err := dc.Send(f); err != nil {
		if errors.Is(err, io.ErrClosedPipe) {
			return core.ErrChannelClosed
		}
		return err
	}
	return nil
}

// Close tears the PeerConnection down in the background; pion may call back
// into the channel while closing.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = stateClosed
	c.closeSeen = true
	dc := c.dc
	c.mu.Unlock()

	close(c.done)
	go c.teardown(dc)
	c.pump()
	return nil
}

// Fail reports err to the error handler and closes the channel.
func (c *Channel) Fail(err error) {
	c.pushError(err)
	_ = c.Close()
}

func (c *Channel) teardown(dc *webrtc.DataChannel) {
	if dc != nil {
		_ = dc.Close()
	}
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("remote", string(c.remote)).Msg("close error")
		return
	}
	log.Debug().Str("module", "rtc").Str("remote", string(c.remote)).Msg("closed")
}

func (c *Channel) OnOpen(fn func())              { c.set(func() { c.onOpen = fn }) }
func (c *Channel) OnClose(fn func())             { c.set(func() { c.onClose = fn }) }
func (c *Channel) OnMessage(fn func(core.Frame)) { c.set(func() { c.onMessage = fn }) }
func (c *Channel) OnError(fn func(error))        { c.set(func() { c.onError = fn }) }

func (c *Channel) set(assign func()) {
	c.mu.Lock()
	assign()
	c.mu.Unlock()
	c.pump()
}

func (c *Channel) opened() {
	c.mu.Lock()
	if c.state != stateNew {
		c.mu.Unlock()
		return
	}
	c.state = stateOpen
	c.openSeen = true
	c.mu.Unlock()
	log.Debug().Str("module", "rtc").Str("remote", string(c.remote)).Msg("data channel open")
	c.pump()
}

func (c *Channel) pushMessage(data []byte) {
	c.mu.Lock()
	if c.state != stateOpen {
		c.mu.Unlock()
		return
	}
	c.inbox = append(c.inbox, core.Frame(data))
	c.mu.Unlock()
	c.pump()
}

func (c *Channel) pushError(err error) {
	c.mu.Lock()
	c.errs = append(c.errs, err)
	c.mu.Unlock()
	c.pump()
}

// pump delivers pending events in order on the calling goroutine. A pump
// already running elsewhere picks up new events instead.
func (c *Channel) pump() {
	c.mu.Lock()
	if c.pumping {
		c.mu.Unlock()
		return
	}
	c.pumping = true
	for {
		next := c.nextLocked()
		if next == nil {
			c.pumping = false
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		next()
		c.mu.Lock()
	}
}

// nextLocked picks the next deliverable event: open, then messages, then
// errors, then close once the inbox has drained.
func (c *Channel) nextLocked() func() {
	if c.openSeen && !c.openFired && c.onOpen != nil {
		c.openFired = true
		return c.onOpen
	}
	openDone := c.openFired || c.onOpen == nil
	if openDone && len(c.inbox) > 0 && c.onMessage != nil {
		f, fn := c.inbox[0], c.onMessage
		c.inbox = c.inbox[1:]
		return func() { fn(f) }
	}
	if len(c.errs) > 0 && c.onError != nil {
		err, fn := c.errs[0], c.onError
		c.errs = c.errs[1:]
		return func() { fn(err) }
	}
	drained := len(c.inbox) == 0 || c.onMessage == nil
	if c.closeSeen && !c.closeFired && drained && c.onClose != nil {
		c.closeFired = true
		return c.onClose
	}
	return nil
}
