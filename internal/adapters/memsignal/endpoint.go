package memsignal

import (
	"errors"
	"sync"

	"github.com/dkeye/Lobby/internal/core"
	"github.com/dkeye/Lobby/internal/domain"
)

var _ core.Channel = (*Endpoint)(nil)

var ErrNotOpen = errors.New("memsignal: channel not open")

type endpointState uint8

const (
	statePending endpointState = iota
	stateOpen
	stateClosed
)

// link is a bidirectional in-process channel; a is the dialer's end.
type link struct {
	a, b *Endpoint
}

func newLink(h *Hub, dialer, acceptor domain.SessionID) *link {
	a := &Endpoint{hub: h, remote: acceptor}
	b := &Endpoint{hub: h, remote: dialer}
	a.peer, b.peer = b, a
	return &link{a: a, b: b}
}

// open runs on the loop.
func (l *link) open() {
	if !l.a.markOpen() || !l.b.markOpen() {
		return
	}
	l.a.fireOpen()
	l.b.fireOpen()
}

// Endpoint is one end of an in-process channel. Events that happen before a
// handler is installed are replayed when it is.
type Endpoint struct {
	hub    *Hub
	remote domain.SessionID
	peer   *Endpoint

	mu        sync.Mutex
	state     endpointState
	sendErr   error
	onOpen    func()
	onClose   func()
	onMessage func(core.Frame)
	onError   func(error)

	openSeen, openFired   bool
	closeSeen, closeFired bool
	inbox                 []core.Frame
	errs                  []error
}

func (e *Endpoint) RemoteID() domain.SessionID { return e.remote }

func (e *Endpoint) IsOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == stateOpen
}

// FailSends makes every later Send return err. A nil err clears it.
func (e *Endpoint) FailSends(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sendErr = err
}

func (e *Endpoint) Send(f core.Frame) error {
	e.mu.Lock()
	state, sendErr := e.state, e.sendErr
	e.mu.Unlock()
	switch {
	case sendErr != nil:
		return sendErr
	case state == stateClosed:
		return core.ErrChannelClosed
	case state == statePending:
		return ErrNotOpen
	}
	data := append(core.Frame(nil), f...)
	peer := e.peer
	e.hub.loop.post(func() { peer.pushMessage(data) })
	return nil
}

func (e *Endpoint) Close() error {
	if !e.markClosed() {
		return nil
	}
	peer := e.peer
	e.hub.loop.post(func() {
		e.fireClose()
		if peer.markClosed() {
			peer.fireClose()
		}
	})
	return nil
}

func (e *Endpoint) OnOpen(fn func()) {
	e.mu.Lock()
	e.onOpen = fn
	e.mu.Unlock()
	e.hub.loop.post(e.fireOpen)
}

func (e *Endpoint) OnClose(fn func()) {
	e.mu.Lock()
	e.onClose = fn
	e.mu.Unlock()
	e.hub.loop.post(e.fireClose)
}

func (e *Endpoint) OnMessage(fn func(core.Frame)) {
	e.mu.Lock()
	e.onMessage = fn
	e.mu.Unlock()
	e.hub.loop.post(e.drainInbox)
}

func (e *Endpoint) OnError(fn func(error)) {
	e.mu.Lock()
	e.onError = fn
	e.mu.Unlock()
	e.hub.loop.post(e.drainErrors)
}

func (e *Endpoint) markOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != statePending {
		return false
	}
	e.state = stateOpen
	e.openSeen = true
	return true
}

func (e *Endpoint) markClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == stateClosed {
		return false
	}
	e.state = stateClosed
	e.closeSeen = true
	return true
}

func (e *Endpoint) fireOpen() {
	e.mu.Lock()
	fn := e.onOpen
	if !e.openSeen || e.openFired || fn == nil {
		e.mu.Unlock()
		return
	}
	e.openFired = true
	e.mu.Unlock()
	fn()
}

func (e *Endpoint) fireClose() {
	e.mu.Lock()
	fn := e.onClose
	if !e.closeSeen || e.closeFired || fn == nil {
		e.mu.Unlock()
		return
	}
	e.closeFired = true
	e.mu.Unlock()
	fn()
}

func (e *Endpoint) pushMessage(f core.Frame) {
	e.mu.Lock()
	if e.state != stateOpen {
		e.mu.Unlock()
		return
	}
	e.inbox = append(e.inbox, f)
	e.mu.Unlock()
	e.drainInbox()
}

func (e *Endpoint) drainInbox() {
	e.mu.Lock()
	fn := e.onMessage
	if fn == nil {
		e.mu.Unlock()
		return
	}
	frames := e.inbox
	e.inbox = nil
	e.mu.Unlock()
	for _, f := range frames {
		fn(f)
	}
}

func (e *Endpoint) pushError(err error) {
	e.mu.Lock()
	e.errs = append(e.errs, err)
	e.mu.Unlock()
	e.drainErrors()
}

func (e *Endpoint) drainErrors() {
	e.mu.Lock()
	fn := e.onError
	if fn == nil {
		e.mu.Unlock()
		return
	}
	errs := e.errs
	e.errs = nil
	e.mu.Unlock()
	for _, err := range errs {
		fn(err)
	}
}
