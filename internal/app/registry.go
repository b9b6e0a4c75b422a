package app

import (
	"iter"
	"maps"
	"sync"

	"github.com/dkeye/Lobby/internal/core"
	"github.com/dkeye/Lobby/internal/domain"
	"github.com/rs/zerolog/log"
)

// SendResult is the outcome of one target in a fan-out.
type SendResult struct {
	To  domain.SessionID
	Err error
}

// PublishResult reports per-target delivery to the caller.
type PublishResult struct {
	Results []SendResult
}

func (p PublishResult) Sent() int {
	n := 0
	for _, r := range p.Results {
		if r.Err == nil {
			n++
		}
	}
	return n
}

func (p PublishResult) Failed() []SendResult {
	var out []SendResult
	for _, r := range p.Results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// Registry is the host-side set of open guest channels keyed by remote id.
// It never closes channels itself; callers close what Add and Reset hand back.
type Registry struct {
	mu    sync.RWMutex
	links map[domain.SessionID]core.Channel
}

func NewRegistry() *Registry {
	return &Registry{links: make(map[domain.SessionID]core.Channel)}
}

// Add inserts ch under id and returns the channel it replaced, if any.
func (r *Registry) Add(id domain.SessionID, ch core.Channel) core.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.links[id]
	r.links[id] = ch
	if old != nil && old != ch {
		log.Info().Str("module", "app.registry").Str("remote", string(id)).Msg("guest reconnected, replacing link")
		return old
	}
	log.Info().Str("module", "app.registry").Str("remote", string(id)).Msg("guest added")
	return nil
}

// Remove drops id. It returns false if id was absent.
func (r *Registry) Remove(id domain.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.links[id]; !ok {
		return false
	}
	delete(r.links, id)
	log.Info().Str("module", "app.registry").Str("remote", string(id)).Msg("guest removed")
	return true
}

// RemoveIf drops id only while it still maps to ch, so a close event from a
// replaced link cannot evict its successor.
func (r *Registry) RemoveIf(id domain.SessionID, ch core.Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.links[id]; !ok || cur != ch {
		return false
	}
	delete(r.links, id)
	log.Info().Str("module", "app.registry").Str("remote", string(id)).Msg("guest removed")
	return true
}

func (r *Registry) Get(id domain.SessionID) (core.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.links[id]
	return ch, ok
}

func (r *Registry) Has(id domain.SessionID) bool {
	_, ok := r.Get(id)
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.links)
}

// Reset empties the registry and returns what it held.
func (r *Registry) Reset() []core.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.Channel, 0, len(r.links))
	for _, ch := range r.links {
		out = append(out, ch)
	}
	clear(r.links)
	return out
}

// All yields the current entries. Each range takes a fresh snapshot, so the
// sequence is finite and can be iterated again. Order is unspecified.
func (r *Registry) All() iter.Seq2[domain.SessionID, core.Channel] {
	return func(yield func(domain.SessionID, core.Channel) bool) {
		for id, ch := range r.snapshot() {
			if !yield(id, ch) {
				return
			}
		}
	}
}

func (r *Registry) snapshot() map[domain.SessionID]core.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[domain.SessionID]core.Channel, len(r.links))
	maps.Copy(out, r.links)
	return out
}

// Broadcast sends data to every entry except the ids in skip. A failing
// target is recorded and the fan-out carries on.
func (r *Registry) Broadcast(data core.Frame, skip ...domain.SessionID) PublishResult {
	res := PublishResult{}
	for id, ch := range r.All() {
		if skipped(id, skip) {
			continue
		}
		res.Results = append(res.Results, SendResult{To: id, Err: ch.Send(data)})
	}
	log.Debug().Str("module", "app.registry").Int("sent_to", res.Sent()).Int("failed", len(res.Failed())).Msg("broadcast result")
	return res
}

func skipped(id domain.SessionID, skip []domain.SessionID) bool {
	for _, s := range skip {
		if s == id {
			return true
		}
	}
	return false
}
