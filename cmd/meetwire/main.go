package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/venrik/meetwire/internal/auth"
	"github.com/venrik/meetwire/internal/conference"
	"github.com/venrik/meetwire/internal/config"
	"github.com/venrik/meetwire/internal/core"
	"github.com/venrik/meetwire/internal/domain"
	"github.com/venrik/meetwire/internal/media"
	"github.com/venrik/meetwire/internal/transport"
)

func main() {
	name := flag.String("name", "", "display name shown to other participants")
	withMedia := flag.Bool("media", false, "negotiate audio/video transceivers")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <room-or-url>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}
	if lvl, lerr := zerolog.ParseLevel(cfg.LogLevel); lerr == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	var eng core.MediaEngine
	if *withMedia {
		eng = media.NewEngine(media.DefaultWebRTCConfig())
	}

	events := conference.Events{
		ConferenceJoined: func(info domain.ConferenceInfo) {
			fmt.Printf("* joined %s on %s as %s\n", info.RoomName, info.ServerURL, info.DisplayName)
		},
		ConferenceLeft: func() {
			fmt.Println("* left the conference")
		},
		ParticipantJoined: func(p domain.Participant) {
			fmt.Printf("* %s joined\n", p.DisplayName)
		},
		ParticipantLeft: func(address domain.Address) {
			fmt.Printf("* %s left\n", address.Resource())
		},
		ChatMessageReceived: func(from domain.Address, text string, _ time.Time) {
			fmt.Printf("<%s> %s\n", from.Resource(), text)
		},
		ReconnectionStarted: func(attempt int) {
			fmt.Printf("* connection lost, reconnecting (attempt %d)\n", attempt)
		},
		ReconnectionSucceeded: func() {
			fmt.Println("* reconnected")
		},
		ReconnectionFailed: func(reason string) {
			fmt.Printf("* reconnection failed: %s\n", reason)
			cancel()
		},
		ErrorOccurred: func(e *domain.Error) {
			log.Warn().Str("kind", e.Kind.String()).Str("detail", e.Details).Msg(e.Message)
		},
	}

	orch := conference.New(auth.Guest{}, eng, events, conference.Options{
		DefaultServer:        cfg.DefaultServer,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		HealthCheckInterval:  cfg.HealthCheckInterval,
		Transport: transport.Options{
			HeartbeatInterval:    cfg.HeartbeatInterval,
			ReconnectInterval:    cfg.ReconnectInterval,
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
			DialTimeout:          cfg.DialTimeout,
			ConfigFetchTimeout:   cfg.ConfigFetchTimeout,
		},
	})

	if jerr := orch.JoinConference(flag.Arg(0), *name); jerr != nil {
		log.Error().Str("kind", jerr.Kind.String()).Msg(jerr.Message)
		os.Exit(1)
	}

	go readInput(ctx, cancel, orch)

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	orch.LeaveConference()
	log.Info().Msg("Exited gracefully")
}

// readInput turns stdin lines into chat messages and slash commands.
func readInput(ctx context.Context, cancel context.CancelFunc, orch *conference.Orchestrator) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case line == "/quit" || line == "/leave":
			cancel()
			return
		case line == "/mute":
			orch.SetAudioMuted(true)
		case line == "/unmute":
			orch.SetAudioMuted(false)
		case line == "/who":
			for _, p := range orch.Participants() {
				fmt.Printf("  %s (%s)\n", p.DisplayName, p.Address)
			}
		default:
			if err := orch.SendChatMessage(line); err != nil {
				fmt.Printf("! %s\n", err.Message)
			}
		}
	}
	cancel()
}
