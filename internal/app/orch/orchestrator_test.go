package orch

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Lobby/internal/adapters/memsignal"
	"github.com/dkeye/Lobby/internal/core"
	"github.com/dkeye/Lobby/internal/domain"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

// recorder collects every session event.
type recorder struct {
	mu       sync.Mutex
	ids      []domain.SessionID
	hosts    []domain.SessionID
	joined   []domain.SessionID
	left     []domain.SessionID
	messages []core.Message
	errs     []error
}

func (r *recorder) IdentityReady(id domain.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

func (r *recorder) ConnectedAsGuest(host domain.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts = append(r.hosts, host)
}

func (r *recorder) GuestConnected(remote domain.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joined = append(r.joined, remote)
}

func (r *recorder) GuestDisconnected(remote domain.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.left = append(r.left, remote)
}

func (r *recorder) ReceivedMessage(msg core.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recorder) ConnectionError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) Joined() []domain.SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.joined)
}

func (r *recorder) Left() []domain.SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.left)
}

func (r *recorder) Hosts() []domain.SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.hosts)
}

func (r *recorder) Messages() []core.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.messages)
}

func (r *recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.errs)
}

func (r *recorder) hasError(target error) bool {
	for _, err := range r.Errors() {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (r *recorder) payloads() []string {
	var out []string
	for _, m := range r.Messages() {
		out = append(out, string(m.Payload))
	}
	return out
}

type peer struct {
	*Orchestrator
	rec *recorder
}

func newPeer(t *testing.T, hub *memsignal.Hub, id domain.SessionID) peer {
	t.Helper()
	rec := &recorder{}
	o := New(hub, rec)
	o.GracePeriod = 20 * time.Millisecond
	_, err := o.Initialize(context.Background(), id)
	require.NoError(t, err)
	return peer{Orchestrator: o, rec: rec}
}

func newHub(t *testing.T) *memsignal.Hub {
	hub := memsignal.NewHub()
	t.Cleanup(hub.Close)
	return hub
}

// join connects g to h and waits until both sides report the link.
func join(t *testing.T, h, g peer) {
	t.Helper()
	require.NoError(t, g.ConnectToHost(context.Background(), h.ID()))
	require.Eventually(t, func() bool { return g.Role() == domain.GuestOf(h.ID()) }, waitFor, tick)
	require.Eventually(t, func() bool { return slices.Contains(h.Guests(), g.ID()) }, waitFor, tick)
}

func TestHostBroadcastsToEveryGuest(t *testing.T) {
	hub := newHub(t)
	host := newPeer(t, hub, "abcdefghijklmnopqrst")
	g1 := newPeer(t, hub, "g1")
	g2 := newPeer(t, hub, "g2")

	require.NoError(t, host.StartHosting())
	join(t, host, g1)
	join(t, host, g2)
	require.ElementsMatch(t, []domain.SessionID{"g1", "g2"}, host.rec.Joined())
	require.Equal(t, []domain.SessionID{"abcdefghijklmnopqrst"}, g1.rec.Hosts())

	res, err := host.SendAsHost(core.Frame(`{"type":"ping"}`))
	require.NoError(t, err)
	require.Equal(t, 2, res.Sent())
	require.Empty(t, res.Failed())

	for _, g := range []peer{g1, g2} {
		require.Eventually(t, func() bool { return len(g.rec.Messages()) == 1 }, waitFor, tick)
		msg := g.rec.Messages()[0]
		require.Equal(t, host.ID(), msg.From)
		require.Equal(t, `{"type":"ping"}`, string(msg.Payload))
	}
}

func TestPendingGuestCannotSend(t *testing.T) {
	hub := newHub(t)
	host := newPeer(t, hub, "host1")
	guest := newPeer(t, hub, "guest1")
	require.NoError(t, host.StartHosting())

	hub.HoldOpens(true)
	require.NoError(t, guest.ConnectToHost(context.Background(), "host1"))
	require.ErrorIs(t, guest.SendAsGuest(core.Frame("early")), core.ErrNotConnected)
	require.True(t, guest.Role().IsUnhosted())

	hub.OpenPending()
	require.Eventually(t, func() bool { return len(guest.rec.Hosts()) == 1 }, waitFor, tick)
	require.Equal(t, domain.GuestOf("host1"), guest.Role())

	require.NoError(t, guest.SendAsGuest(core.Frame("hello")))
	require.Eventually(t, func() bool { return len(host.rec.Messages()) == 1 }, waitFor, tick)
	msg := host.rec.Messages()[0]
	require.Equal(t, domain.SessionID("guest1"), msg.From)
	require.Equal(t, "hello", string(msg.Payload))
}

func TestGuestLeaveNotifiesHostAndRotates(t *testing.T) {
	hub := newHub(t)
	host := newPeer(t, hub, "host1")
	guest := newPeer(t, hub, "g1")
	require.NoError(t, host.StartHosting())
	join(t, host, guest)

	id, err := guest.Leave(context.Background(), "alice")
	require.NoError(t, err)
	require.NotEqual(t, domain.SessionID("g1"), id)
	require.Equal(t, id, guest.ID())
	require.True(t, guest.Role().IsUnhosted())
	require.False(t, hub.Registered("g1"))
	require.True(t, hub.Registered(id))
	_, err = domain.ParseSessionID(id.String())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return slices.Contains(host.rec.Left(), "g1") }, waitFor, tick)
	require.Equal(t, []string{`{"disconnection":"alice"}`}, host.rec.payloads())
	require.Empty(t, host.Guests())
	require.True(t, host.Role().IsHosting())
}

func TestHostLeaveResetsGuests(t *testing.T) {
	hub := newHub(t)
	host := newPeer(t, hub, "host1")
	g1 := newPeer(t, hub, "g1")
	g2 := newPeer(t, hub, "g2")
	require.NoError(t, host.StartHosting())
	join(t, host, g1)
	join(t, host, g2)

	broken, ok := hub.Endpoint("host1", "g1")
	require.True(t, ok)
	broken.FailSends(errors.New("sctp: association closed"))

	id, err := host.Leave(context.Background(), "")
	require.NoError(t, err)
	require.NotEqual(t, domain.SessionID("host1"), id)
	require.True(t, host.Role().IsUnhosted())
	require.Empty(t, host.Guests())

	require.Eventually(t, func() bool { return g2.Role().IsUnhosted() }, waitFor, tick)
	require.Equal(t, []string{`{"disconnection":null}`}, g2.rec.payloads())
	require.Eventually(t, func() bool { return g2.rec.hasError(core.ErrChannelClosed) }, waitFor, tick)

	require.Eventually(t, func() bool { return g1.Role().IsUnhosted() }, waitFor, tick)
	require.Empty(t, g1.rec.Messages())
	require.Equal(t, domain.SessionID("g1"), g1.ID(), "guests keep their identity until they leave")
}

func TestStartHostingTwiceDropsMembership(t *testing.T) {
	hub := newHub(t)
	host := newPeer(t, hub, "host1")
	g1 := newPeer(t, hub, "g1")
	g2 := newPeer(t, hub, "g2")

	require.NoError(t, host.StartHosting())
	join(t, host, g1)

	require.NoError(t, host.StartHosting())
	require.Empty(t, host.Guests())
	require.Eventually(t, func() bool { return g1.Role().IsUnhosted() }, waitFor, tick)

	join(t, host, g2)
	hub.Flush()
	require.Equal(t, []domain.SessionID{"g2"}, host.Guests())
	require.Empty(t, host.rec.Left(), "a dropped membership produces no disconnect events")
}

func TestInitializeIsIdempotent(t *testing.T) {
	hub := newHub(t)
	host := newPeer(t, hub, "")
	first := host.ID()
	require.NoError(t, host.StartHosting())

	second, err := host.Initialize(context.Background(), "")
	require.NoError(t, err)
	third, err := host.Initialize(context.Background(), "")
	require.NoError(t, err)

	require.NotEqual(t, first, second)
	require.NotEqual(t, second, third)
	require.True(t, host.Role().IsUnhosted())
	require.Empty(t, host.Guests())
	require.False(t, hub.Registered(first))
	require.False(t, hub.Registered(second))
	require.True(t, hub.Registered(third))
}

func TestRoleExclusivity(t *testing.T) {
	hub := newHub(t)
	host := newPeer(t, hub, "host1")
	guest := newPeer(t, hub, "g1")
	require.NoError(t, host.StartHosting())
	join(t, host, guest)

	require.ErrorIs(t, host.ConnectToHost(context.Background(), "g1"), core.ErrAlreadyHosting)
	require.ErrorIs(t, guest.StartHosting(), core.ErrAlreadyGuest)
	require.ErrorIs(t, guest.ConnectToHost(context.Background(), "g1"), core.ErrSelfConnect)
	require.ErrorIs(t, guest.ConnectToHost(context.Background(), ""), core.ErrChannelOpenFailed)

	_, err := guest.SendAsHost(core.Frame("x"))
	require.ErrorIs(t, err, core.ErrNotHosting)
	require.ErrorIs(t, host.SendAsGuest(core.Frame("x")), core.ErrNotConnected)
}

func TestCommandsRequireRegistration(t *testing.T) {
	o := New(newHub(t), nil)
	require.ErrorIs(t, o.StartHosting(), core.ErrNotRegistered)
	require.ErrorIs(t, o.ConnectToHost(context.Background(), "host1"), core.ErrNotRegistered)
	require.Equal(t, domain.SessionID(""), o.ID())
}

func TestRelayIsByteIdentical(t *testing.T) {
	hub := newHub(t)
	host := newPeer(t, hub, "host1")
	g1 := newPeer(t, hub, "g1")
	g2 := newPeer(t, hub, "g2")
	require.NoError(t, host.StartHosting())
	join(t, host, g1)
	join(t, host, g2)

	payload := core.Frame("{\"move\":[1,2]}\x00\xff")
	require.NoError(t, g1.SendAsGuest(payload))
	require.Eventually(t, func() bool { return len(host.rec.Messages()) == 1 }, waitFor, tick)
	in := host.rec.Messages()[0]

	res, err := host.Relay(in.From, in.Payload)
	require.NoError(t, err)
	require.Equal(t, 1, res.Sent())

	require.Eventually(t, func() bool { return len(g2.rec.Messages()) == 1 }, waitFor, tick)
	require.Equal(t, payload, g2.rec.Messages()[0].Payload)
	hub.Flush()
	require.Empty(t, g1.rec.Messages())
}

func TestLeaveSupersededDuringGrace(t *testing.T) {
	hub := newHub(t)
	host := newPeer(t, hub, "host1")
	guest := newPeer(t, hub, "g1")
	guest.GracePeriod = 300 * time.Millisecond
	require.NoError(t, host.StartHosting())
	join(t, host, guest)

	type result struct {
		id  domain.SessionID
		err error
	}
	done := make(chan result, 1)
	go func() {
		id, err := guest.Leave(context.Background(), "bob")
		done <- result{id, err}
	}()
	require.Eventually(t, func() bool { return len(host.rec.Messages()) == 1 }, waitFor, tick)

	fresh, err := guest.Initialize(context.Background(), "")
	require.NoError(t, err)

	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, fresh, res.id)
	require.Equal(t, fresh, guest.ID())
	require.True(t, hub.Registered(fresh))
}

// cancellable fails Register once ctx is done, the way the directory client does.
type cancellable struct {
	core.Signaling
}

func (c cancellable) Register(ctx context.Context, id domain.SessionID) (core.Registration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.Signaling.Register(ctx, id)
}

func TestLeaveGraceCutShortByContext(t *testing.T) {
	hub := newHub(t)
	host := newPeer(t, hub, "host1")
	rec := &recorder{}
	guest := peer{Orchestrator: New(cancellable{hub}, rec), rec: rec}
	guest.GracePeriod = time.Hour
	_, err := guest.Initialize(context.Background(), "g1")
	require.NoError(t, err)
	require.NoError(t, host.StartHosting())
	join(t, host, guest)

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		id  domain.SessionID
		err error
	}
	done := make(chan result, 1)
	go func() {
		id, err := guest.Leave(ctx, "carol")
		done <- result{id, err}
	}()
	require.Eventually(t, func() bool { return len(host.rec.Messages()) == 1 }, waitFor, tick)
	cancel()

	select {
	case res := <-done:
		require.NoError(t, res.err)
		require.NotEqual(t, domain.SessionID("g1"), res.id)
		require.Equal(t, res.id, guest.ID())
		require.True(t, hub.Registered(res.id))
		require.False(t, hub.Registered("g1"))
		require.True(t, guest.Role().IsUnhosted())
	case <-time.After(waitFor):
		t.Fatal("leave did not return after cancel")
	}
}

func TestRegistrationCollision(t *testing.T) {
	hub := newHub(t)
	newPeer(t, hub, "taken")

	rec := &recorder{}
	o := New(hub, rec)
	_, err := o.Initialize(context.Background(), "taken")
	require.ErrorIs(t, err, core.ErrIdentityRegistrationFailed)
	require.ErrorIs(t, err, core.ErrIDTaken)
	require.Equal(t, domain.SessionID(""), o.ID())
	require.Len(t, rec.Errors(), 1)
	require.ErrorIs(t, o.StartHosting(), core.ErrNotRegistered)
}

func TestChannelOpenFailure(t *testing.T) {
	hub := newHub(t)
	host := newPeer(t, hub, "host1")
	guest := newPeer(t, hub, "g1")
	require.NoError(t, host.StartHosting())

	hub.HoldOpens(true)
	require.NoError(t, guest.ConnectToHost(context.Background(), "host1"))
	hub.FailPending(errors.New("ice: failed"))

	require.Eventually(t, func() bool { return guest.rec.hasError(core.ErrChannelOpenFailed) }, waitFor, tick)
	require.True(t, guest.Role().IsUnhosted())
	require.ErrorIs(t, guest.SendAsGuest(core.Frame("x")), core.ErrNotConnected)
	require.Empty(t, guest.rec.Hosts())
}

func TestDialUnknownHost(t *testing.T) {
	guest := newPeer(t, newHub(t), "g1")
	err := guest.ConnectToHost(context.Background(), "nobody")
	require.ErrorIs(t, err, core.ErrChannelOpenFailed)
	require.ErrorIs(t, err, core.ErrPeerNotFound)
	require.True(t, guest.rec.hasError(core.ErrChannelOpenFailed))
}

func TestLastConnectWins(t *testing.T) {
	hub := newHub(t)
	h1 := newPeer(t, hub, "host1")
	h2 := newPeer(t, hub, "host2")
	guest := newPeer(t, hub, "g1")
	require.NoError(t, h1.StartHosting())
	require.NoError(t, h2.StartHosting())

	join(t, h1, guest)
	join(t, h2, guest)

	require.Eventually(t, func() bool { return slices.Contains(h1.rec.Left(), "g1") }, waitFor, tick)
	require.Equal(t, domain.GuestOf("host2"), guest.Role())
	hub.Flush()
	require.False(t, guest.rec.hasError(core.ErrChannelClosed), "replaced link must not report a lost host")
}

func TestClosedGuestIsKicked(t *testing.T) {
	hub := newHub(t)
	host := newPeer(t, hub, "host1")
	g1 := newPeer(t, hub, "g1")
	g2 := newPeer(t, hub, "g2")
	require.NoError(t, host.StartHosting())
	join(t, host, g1)
	join(t, host, g2)

	ep, ok := hub.Endpoint("host1", "g1")
	require.True(t, ok)
	ep.FailSends(core.ErrChannelClosed)

	res, err := host.SendAsHost(core.Frame("tick"))
	require.NoError(t, err)
	require.Equal(t, 1, res.Sent())
	require.Len(t, res.Failed(), 1)
	require.Equal(t, domain.SessionID("g1"), res.Failed()[0].To)

	require.Equal(t, []domain.SessionID{"g2"}, host.Guests())
	hub.Flush()
	require.Equal(t, []domain.SessionID{"g1"}, host.rec.Left())
}

func TestSignalingErrorKeepsRole(t *testing.T) {
	hub := newHub(t)
	host := newPeer(t, hub, "host1")
	require.NoError(t, host.StartHosting())

	boom := errors.New("directory: socket reset")
	hub.SignalError("host1", boom)
	require.Eventually(t, func() bool { return host.rec.hasError(boom) }, waitFor, tick)
	require.True(t, host.Role().IsHosting())
}

func TestCloseReleasesIdentity(t *testing.T) {
	hub := newHub(t)
	host := newPeer(t, hub, "host1")
	guest := newPeer(t, hub, "g1")
	require.NoError(t, host.StartHosting())
	join(t, host, guest)

	require.NoError(t, host.Close())
	require.NoError(t, host.Close())
	require.False(t, hub.Registered("host1"))
	require.Equal(t, domain.SessionID(""), host.ID())
	require.ErrorIs(t, host.StartHosting(), core.ErrNotRegistered)
	require.Eventually(t, func() bool { return guest.Role().IsUnhosted() }, waitFor, tick)
}
