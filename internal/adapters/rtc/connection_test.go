package rtc

import (
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Lobby/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

// loopback delivers negotiation to a channel that may not exist yet.
type loopback struct {
	descs chan webrtc.SessionDescription

	mu      sync.Mutex
	target  *Channel
	pending []webrtc.ICECandidateInit
}

func newLoopback() *loopback {
	return &loopback{descs: make(chan webrtc.SessionDescription, 1)}
}

func (l *loopback) SendDescription(sd webrtc.SessionDescription) error {
	l.descs <- sd
	return nil
}

func (l *loopback) SendCandidate(ci webrtc.ICECandidateInit) error {
	l.mu.Lock()
	target := l.target
	if target == nil {
		l.pending = append(l.pending, ci)
	}
	l.mu.Unlock()
	if target == nil {
		return nil
	}
	return target.AddICECandidate(ci)
}

func (l *loopback) bind(target *Channel) {
	l.mu.Lock()
	l.target = target
	early := l.pending
	l.pending = nil
	l.mu.Unlock()
	for _, ci := range early {
		_ = target.AddICECandidate(ci)
	}
}

type inbox struct {
	mu     sync.Mutex
	opened bool
	closed bool
	frames []string
}

func (in *inbox) attach(ch core.Channel) {
	ch.OnOpen(func() { in.mu.Lock(); in.opened = true; in.mu.Unlock() })
	ch.OnClose(func() { in.mu.Lock(); in.closed = true; in.mu.Unlock() })
	ch.OnMessage(func(f core.Frame) { in.mu.Lock(); in.frames = append(in.frames, string(f)); in.mu.Unlock() })
}

func (in *inbox) state() (bool, bool, []string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.opened, in.closed, append([]string(nil), in.frames...)
}

func TestChannel_LoopbackRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("negotiates a real PeerConnection")
	}
	cfg := webrtc.Configuration{}
	toB, toA := newLoopback(), newLoopback()

	a, err := Offer(cfg, "beta", toB)
	require.NoError(t, err)
	defer a.Close()
	var atA inbox
	atA.attach(a)

	offer := <-toB.descs
	b, err := Answer(cfg, "alpha", offer, toA)
	require.NoError(t, err)
	defer b.Close()
	toB.bind(b)
	var atB inbox
	atB.attach(b)

	answer := <-toA.descs
	require.NoError(t, a.SetRemoteDescription(answer))
	toA.bind(a)

	require.Eventually(t, func() bool {
		openA, _, _ := atA.state()
		openB, _, _ := atB.state()
		return openA && openB
	}, 15*time.Second, 20*time.Millisecond)

	for _, m := range []string{"one", "two", "three"} {
		require.NoError(t, a.Send(core.Frame(m)))
	}
	require.Eventually(t, func() bool {
		_, _, frames := atB.state()
		return len(frames) == 3
	}, 5*time.Second, 10*time.Millisecond)
	_, _, frames := atB.state()
	require.Equal(t, []string{"one", "two", "three"}, frames)

	require.NoError(t, a.Close())
	require.ErrorIs(t, a.Send(core.Frame("late")), core.ErrChannelClosed)
	require.Eventually(t, func() bool {
		_, closed, _ := atB.state()
		return closed
	}, 15*time.Second, 20*time.Millisecond)
}

func TestChannel_ReplaysEventsToLateHandlers(t *testing.T) {
	pc, err := NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	c := newChannel(pc, "late")

	c.opened()
	c.pushMessage([]byte("first"))
	c.pushMessage([]byte("second"))
	require.ErrorIs(t, c.Send(core.Frame("x")), ErrNotOpen, "no data channel attached yet")

	var in inbox
	in.attach(c)
	opened, closed, frames := in.state()
	require.True(t, opened)
	require.False(t, closed)
	require.Equal(t, []string{"first", "second"}, frames)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	_, closed, _ = in.state()
	require.True(t, closed)
	select {
	case <-c.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestChannel_CandidatesWaitForRemoteDescription(t *testing.T) {
	pc, err := NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	c := newChannel(pc, "early")
	defer c.Close()

	require.NoError(t, c.AddICECandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 9 typ host"}))
	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.candidates, 1)
	require.False(t, c.remoteSet)
}
