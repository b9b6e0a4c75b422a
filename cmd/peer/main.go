package main

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/Lobby/internal/adapters/directory"
	"github.com/dkeye/Lobby/internal/adapters/rtc"
	"github.com/dkeye/Lobby/internal/app/orch"
	"github.com/dkeye/Lobby/internal/config"
	"github.com/dkeye/Lobby/internal/core"
	"github.com/dkeye/Lobby/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	config.PeerFlags(pflag.CommandLine)
	pflag.Parse()
	cfg, err := config.LoadPeer(pflag.CommandLine)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	inm := metrics.NewInmemSink(10*time.Second, time.Minute)
	metrics.DefaultInmemSignal(inm)
	mcfg := metrics.DefaultConfig("lobby-peer")
	mcfg.EnableHostname = false
	if _, err := metrics.NewGlobal(mcfg, inm); err != nil {
		log.Warn().Err(err).Msg("metrics disabled")
	}

	dir := directory.New(cfg.DirectoryURL, rtc.ConfigFromURLs(cfg.ICEServers))
	dir.DialTimeout = cfg.DialTimeout

	ui := &console{ctx: ctx, out: os.Stdout}
	session := orch.New(dir, ui)
	session.GracePeriod = cfg.GracePeriod
	ui.session = session

	if _, err := session.Initialize(ctx, domain.SessionID(cfg.ID)); err != nil {
		log.Fatal().Err(err).Msg("could not register with the directory")
	}
	if err := start(ctx, session, domain.SessionID(cfg.Host)); err != nil {
		log.Fatal().Err(err).Msg("could not start session")
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			shutdown(session, cfg.Name)
			return
		case line, ok := <-lines:
			if !ok {
				shutdown(session, cfg.Name)
				return
			}
			command(ctx, ui, session, cfg.Name, line)
		}
	}
}

// start hosts when host is empty and joins host otherwise.
func start(ctx context.Context, session *orch.Orchestrator, host domain.SessionID) error {
	if host == "" {
		return session.StartHosting()
	}
	return session.ConnectToHost(ctx, host)
}

func command(ctx context.Context, ui *console, session *orch.Orchestrator, name, line string) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
	case line == "/leave":
		if _, err := session.Leave(ctx, name); err != nil {
			ui.printf("! %v", err)
		}
	case line == "/host":
		if err := session.StartHosting(); err != nil {
			ui.printf("! %v", err)
		}
	case strings.HasPrefix(line, "/join "):
		host := domain.SessionID(strings.TrimSpace(strings.TrimPrefix(line, "/join ")))
		if err := session.ConnectToHost(ctx, host); err != nil {
			ui.printf("! %v", err)
		}
	case line == "/who":
		ui.printf("* guests: %v", session.Guests())
	case line == "/role":
		ui.printf("* %s, id %s", session.Role(), session.ID())
	default:
		sendLine(ui, session, core.Frame(line))
	}
}

func sendLine(ui *console, session *orch.Orchestrator, f core.Frame) {
	if session.Role().IsHosting() {
		if _, err := session.SendAsHost(f); err != nil {
			ui.printf("! %v", err)
		}
		return
	}
	if err := session.SendAsGuest(f); err != nil {
		ui.printf("! %v", err)
	}
}

func shutdown(session *orch.Orchestrator, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := session.Leave(ctx, name); err != nil {
		log.Warn().Err(err).Msg("leave on exit")
	}
	if err := session.Close(); err != nil {
		log.Warn().Err(err).Msg("release on exit")
	}
	log.Info().Msg("bye")
}
