// Package memsignal is an in-process directory. Registrations on the same
// Hub can dial each other and exchange frames without any network, which
// makes session behaviour testable without WebRTC.
package memsignal

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/Lobby/internal/core"
	"github.com/dkeye/Lobby/internal/domain"
)

var _ core.Signaling = (*Hub)(nil)

var ErrEmptyID = errors.New("memsignal: empty identifier")

// Hub is the directory. All channel events are delivered from one goroutine.
type Hub struct {
	loop *eventLoop

	mu      sync.Mutex
	regs    map[domain.SessionID]*registration
	hold    bool
	pending []*link
}

func NewHub() *Hub {
	return &Hub{
		loop: newEventLoop(),
		regs: make(map[domain.SessionID]*registration),
	}
}

func (h *Hub) Close() { h.loop.stop() }

// Flush waits until every event posted so far has been delivered.
func (h *Hub) Flush() { h.loop.flush() }

// HoldOpens keeps newly dialed channels pending until OpenPending or
// FailPending is called.
func (h *Hub) HoldOpens(hold bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hold = hold
}

// OpenPending opens every held channel.
func (h *Hub) OpenPending() {
	for _, l := range h.takePending() {
		h.loop.post(l.open)
	}
}

// FailPending reports err on the dialing side of every held channel; the
// channels never open.
func (h *Hub) FailPending(err error) {
	for _, l := range h.takePending() {
		dialer := l.a
		h.loop.post(func() { dialer.pushError(err) })
	}
}

func (h *Hub) takePending() []*link {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.pending
	h.pending = nil
	return out
}

func (h *Hub) Registered(id domain.SessionID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.regs[id]
	return ok
}

// Endpoint returns owner's end of its most recent channel with remote.
func (h *Hub) Endpoint(owner, remote domain.SessionID) (*Endpoint, bool) {
	h.mu.Lock()
	reg, ok := h.regs[owner]
	h.mu.Unlock()
	if !ok {
		return nil, false
	}
	return reg.endpoint(remote)
}

// SignalError delivers err to the registration's error handler.
func (h *Hub) SignalError(id domain.SessionID, err error) {
	h.mu.Lock()
	reg, ok := h.regs[id]
	h.mu.Unlock()
	if !ok {
		return
	}
	h.loop.post(func() {
		if fn := reg.errorHandler(); fn != nil {
			fn(err)
		}
	})
}

func (h *Hub) Register(_ context.Context, id domain.SessionID) (core.Registration, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, taken := h.regs[id]; taken {
		return nil, core.ErrIDTaken
	}
	reg := &registration{hub: h, id: id}
	h.regs[id] = reg
	return reg, nil
}

func (h *Hub) unregister(reg *registration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.regs[reg.id]; ok && cur == reg {
		delete(h.regs, reg.id)
	}
}

func (h *Hub) lookup(id domain.SessionID) (*registration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	reg, ok := h.regs[id]
	return reg, ok
}

// registration implements core.Registration.
type registration struct {
	hub *Hub
	id  domain.SessionID

	mu        sync.Mutex
	released  bool
	onChannel func(core.Channel)
	onError   func(error)
	backlog   []*Endpoint
	endpoints []*Endpoint
}

func (r *registration) ID() domain.SessionID { return r.id }

func (r *registration) Dial(_ context.Context, remote domain.SessionID) (core.Channel, error) {
	r.mu.Lock()
	released := r.released
	r.mu.Unlock()
	if released {
		return nil, core.ErrReleased
	}
	target, ok := r.hub.lookup(remote)
	if !ok {
		return nil, core.ErrPeerNotFound
	}

	l := newLink(r.hub, r.id, remote)
	r.track(l.a)
	target.track(l.b)
	r.hub.loop.post(func() { target.deliver(l.b) })

	r.hub.mu.Lock()
	hold := r.hub.hold
	if hold {
		r.hub.pending = append(r.hub.pending, l)
	}
	r.hub.mu.Unlock()
	if !hold {
		r.hub.loop.post(l.open)
	}
	return l.a, nil
}

func (r *registration) OnChannel(fn func(core.Channel)) {
	r.mu.Lock()
	r.onChannel = fn
	r.mu.Unlock()
	r.hub.loop.post(r.drainBacklog)
}

func (r *registration) OnError(fn func(error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onError = fn
}

func (r *registration) errorHandler() func(error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.onError
}

// Release frees the id and closes every channel the registration owns, so
// the remote ends observe a close just as they would if the process died.
func (r *registration) Release() error {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return nil
	}
	r.released = true
	eps := r.endpoints
	r.endpoints = nil
	r.backlog = nil
	r.mu.Unlock()

	r.hub.unregister(r)
	for _, ep := range eps {
		_ = ep.Close()
	}
	return nil
}

func (r *registration) track(ep *Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints = append(r.endpoints, ep)
}

func (r *registration) endpoint(remote domain.SessionID) (*Endpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.endpoints) - 1; i >= 0; i-- {
		if r.endpoints[i].remote == remote {
			return r.endpoints[i], true
		}
	}
	return nil, false
}

// deliver runs on the loop.
func (r *registration) deliver(ep *Endpoint) {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		_ = ep.Close()
		return
	}
	r.backlog = append(r.backlog, ep)
	r.mu.Unlock()
	r.drainBacklog()
}

func (r *registration) drainBacklog() {
	r.mu.Lock()
	fn := r.onChannel
	if fn == nil {
		r.mu.Unlock()
		return
	}
	eps := r.backlog
	r.backlog = nil
	r.mu.Unlock()
	for _, ep := range eps {
		fn(ep)
	}
}
