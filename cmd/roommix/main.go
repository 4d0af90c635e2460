package main

import (
	"context"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	router "github.com/dtrnv/roommix/internal/adapters/http"
	"github.com/dtrnv/roommix/internal/adapters/rtc"
	signalws "github.com/dtrnv/roommix/internal/adapters/signal"
	"github.com/dtrnv/roommix/internal/app"
	"github.com/dtrnv/roommix/internal/config"
	"github.com/dtrnv/roommix/internal/domain"
)

func main() {
	// Initialize zerolog global logger early so everything below can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	v := config.New()

	rootCmd := &cobra.Command{
		Use:   "roommix",
		Short: "Multi-party conference client mixing every peer into one composite output",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	flags := rootCmd.Flags()
	flags.StringP("server", "s", config.DefaultServer, "signaling server URL")
	flags.StringP("room", "r", "", "room identifier to join")
	flags.Uint32("id", 0, "our peer id (random when 0)")
	flags.String("status-addr", "", "bind address of the status endpoint (disabled when empty)")
	flags.String("log-level", "info", "zerolog level")
	for _, name := range []string{"server", "room", "id", "status-addr", "log-level"} {
		key := strings.ReplaceAll(name, "-", "_")
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			log.Fatal().Err(err).Str("flag", name).Msg("bind flag")
		}
	}

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("roommix failed")
	}
}

func run(cfg *config.Config) error {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return errors.Wrapf(err, "log level %q", cfg.LogLevel)
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Room == "" {
		return errors.New("a room identifier is required (--room)")
	}
	if cfg.ID == 0 {
		cfg.ID = uint32(10 + rand.IntN(10_000-10))
	}
	ourID := domain.PeerID(cfg.ID)

	engine := rtc.New()
	if missing := engine.Missing(app.RequiredKinds...); len(missing) > 0 {
		return errors.Errorf("missing engine capabilities: %s", strings.Join(missing, ", "))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	transport, err := signalws.Dial(ctx, cfg.Server, cfg.PingPeriod)
	if err != nil {
		return err
	}
	defer transport.Close()
	log.Info().Str("server", cfg.Server).Msg("connected")

	members, err := signalws.JoinRoom(ctx, transport, ourID, cfg.Room)
	if err != nil {
		return err
	}

	session, events, outbound, err := app.NewSession(cfg, engine)
	if err != nil {
		return err
	}
	defer session.Close()

	// Call out to everyone already in the room before touching any
	// other signaling.
	for _, id := range members {
		if err := session.AddPeer(id, true); err != nil {
			return errors.Wrapf(err, "add initial peer %s", id)
		}
	}

	if cfg.StatusAddr != "" {
		srv := &http.Server{
			Addr:    cfg.StatusAddr,
			Handler: router.SetupRouter(cfg.Room, ourID, session),
		}
		go func() {
			log.Info().Str("addr", cfg.StatusAddr).Msg("status endpoint started")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("status endpoint error")
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	err = app.Run(ctx, session, transport, events, outbound)
	if errors.Is(err, context.Canceled) {
		log.Info().Msg("interrupted, shutting down")
		return nil
	}
	return err
}
