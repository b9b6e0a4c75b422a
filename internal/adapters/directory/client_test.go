package directory

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	router "github.com/dkeye/Lobby/internal/adapters/http"
	"github.com/dkeye/Lobby/internal/adapters/signal"
	"github.com/dkeye/Lobby/internal/config"
	"github.com/dkeye/Lobby/internal/core"
	"github.com/dkeye/Lobby/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

const (
	alpha domain.SessionID = "alphaalphaalphaalpha"
	beta  domain.SessionID = "betabetabetabetabeta"
)

func newDirectory(t *testing.T) *Client {
	t.Helper()
	return newLimitedDirectory(t, 100)
}

func newLimitedDirectory(t *testing.T, registerLimit int) *Client {
	t.Helper()
	cfg := &config.Config{Mode: "test", Secret: "test-secret"}
	ctl := signal.NewSignalWSController(signal.NewDirectory(), signal.NewRegisterRateLimiter(registerLimit, time.Minute), signal.Options{})
	srv := httptest.NewServer(router.SetupRouter(context.Background(), cfg, ctl))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"
	return New(url, webrtc.Configuration{})
}

func TestRegister_Collision(t *testing.T) {
	c := newDirectory(t)
	ctx := context.Background()

	reg, err := c.Register(ctx, alpha)
	require.NoError(t, err)
	require.Equal(t, alpha, reg.ID())

	_, err = c.Register(ctx, alpha)
	require.ErrorIs(t, err, core.ErrIDTaken)

	require.NoError(t, reg.Release())
	require.NoError(t, reg.Release())
	require.Eventually(t, func() bool {
		again, err := c.Register(ctx, alpha)
		if err != nil {
			return false
		}
		_ = again.Release()
		return true
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRegister_SharesClientToken(t *testing.T) {
	c := newLimitedDirectory(t, 2)
	ctx := context.Background()

	for _, id := range []domain.SessionID{alpha, beta} {
		reg, err := c.Register(ctx, id)
		require.NoError(t, err)
		require.NoError(t, reg.Release())
	}

	_, err := c.Register(ctx, "gammagammagammagamma")
	require.ErrorIs(t, err, ErrRateLimited)

	other := New(c.URL, webrtc.Configuration{})
	reg, err := other.Register(ctx, "gammagammagammagamma")
	require.NoError(t, err)
	require.NoError(t, reg.Release())
}

func TestRegister_BadID(t *testing.T) {
	c := newDirectory(t)
	_, err := c.Register(context.Background(), "Not-Valid")
	require.ErrorIs(t, err, ErrBadID)
}

func TestDial_UnavailablePeer(t *testing.T) {
	c := newDirectory(t)
	reg, err := c.Register(context.Background(), alpha)
	require.NoError(t, err)
	defer reg.Release()

	ch, err := reg.Dial(context.Background(), beta)
	require.NoError(t, err)

	errs := make(chan error, 4)
	ch.OnError(func(err error) {
		select {
		case errs <- err:
		default:
		}
	})

	select {
	case err := <-errs:
		require.ErrorIs(t, err, core.ErrPeerNotFound)
	case <-time.After(5 * time.Second):
		t.Fatal("no error for unavailable peer")
	}
	require.Eventually(t, func() bool { return !ch.IsOpen() }, time.Second, 10*time.Millisecond)
}

func TestDial_SessionChannel(t *testing.T) {
	if testing.Short() {
		t.Skip("negotiates a real PeerConnection")
	}
	c := newDirectory(t)
	ctx := context.Background()

	host, err := c.Register(ctx, alpha)
	require.NoError(t, err)
	defer host.Release()

	var (
		mu       sync.Mutex
		accepted core.Channel
		received []string
	)
	host.OnChannel(func(ch core.Channel) {
		ch.OnMessage(func(f core.Frame) {
			mu.Lock()
			received = append(received, string(f))
			mu.Unlock()
		})
		mu.Lock()
		accepted = ch
		mu.Unlock()
	})

	guest, err := c.Register(ctx, beta)
	require.NoError(t, err)
	defer guest.Release()

	opened := make(chan struct{})
	ch, err := guest.Dial(ctx, alpha)
	require.NoError(t, err)
	ch.OnOpen(func() { close(opened) })

	select {
	case <-opened:
	case <-time.After(15 * time.Second):
		t.Fatal("channel did not open")
	}
	require.NoError(t, ch.Send(core.Frame("hello host")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	require.Equal(t, beta, accepted.RemoteID())
	require.Equal(t, []string{"hello host"}, received)
	mu.Unlock()
}

func TestRegisterError(t *testing.T) {
	cases := []struct {
		msg  signal.Message
		want error
	}{
		{signal.Message{Type: signal.TypeError, Error: signal.CodeIDTaken}, core.ErrIDTaken},
		{signal.Message{Type: signal.TypeError, Error: signal.CodeBadID}, ErrBadID},
		{signal.Message{Type: signal.TypeError, Error: signal.CodeRateLimited}, ErrRateLimited},
		{signal.Message{Type: signal.TypePong}, ErrUnexpected},
	}
	for _, tc := range cases {
		require.True(t, errors.Is(registerError(tc.msg), tc.want), tc.msg.Error)
	}
	require.NoError(t, registerError(signal.Message{Type: signal.TypeRegistered}))
}
