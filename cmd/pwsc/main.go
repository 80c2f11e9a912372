// Command pwsc is a demo persistent-websocket client: it dials cmd/pwsd
// (auto-reconnecting across drops and IP changes via pws.Engine.Connect),
// optionally authenticating with a bearer JWT, and logs every application
// message it receives.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/BitBurrow/BitBurrow-sub000/internal/config"
	"github.com/BitBurrow/BitBurrow-sub000/internal/logging"
	"github.com/BitBurrow/BitBurrow-sub000/internal/metrics"
	"github.com/BitBurrow/BitBurrow-sub000/internal/pws"
	"github.com/BitBurrow/BitBurrow-sub000/internal/tcpconnector"
)

func main() {
	cfg, err := config.Load(nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	forward := flag.String("forward", cfg.ForwardSpec, "become the jet-channel host: bind_addr:local_port:remote_addr:remote_port (overrides PWS_FORWARD)")
	flag.Parse()
	cfg.ForwardSpec = *forward

	log := logging.New(logging.Config{
		Level:     logging.Level(cfg.LogLevel),
		Format:    logging.Format(cfg.LogFormat),
		Component: "pwsc",
	})
	cfg.LogConfig(log)
	log.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsCollector := metrics.New()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsCollector.Handler())
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	engine := pws.New("pwsc", log, metricsCollector)
	engine.AllowPortForwarding(cfg.AllowPortForwarding)
	engine.SetAuthToken(cfg.JWTToken)
	if cfg.ChaosPermille > 0 {
		engine.SetChaos(cfg.ChaosPermille)
	}

	messages, err := engine.Connect(ctx, cfg.PeerURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start connecting")
	}

	if cfg.ForwardSpec != "" {
		bindAddr, localPort, remoteAddr, remotePort, err := tcpconnector.ParseForwardSpec(cfg.ForwardSpec)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid -forward spec")
		}
		go func() {
			log.Info().Str("bind", fmt.Sprintf("%s:%d", bindAddr, localPort)).
				Str("remote", fmt.Sprintf("%s:%d", remoteAddr, remotePort)).
				Msg("jet channel forwarding active")
			if err := engine.ExecAndForwardTCP(ctx, nil, bindAddr, localPort, remoteAddr, remotePort); err != nil {
				log.Error().Err(err).Msg("jet channel forwarding failed")
			}
		}()
	}

	go func() {
		for msg := range messages {
			log.Debug().Str("chunk", pws.PrintableHex(msg)).Msg("application message received")
		}
		if err := engine.Err(); err != nil {
			log.Error().Err(err).Msg("connection ended on unrecoverable protocol error")
			cancel()
		}
	}()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-sigCh:
			log.Info().Msg("shutting down")
			cancel()
			return
		case <-heartbeat.C:
			if engine.IsOnline() {
				_ = engine.Ping(ctx, []byte("keepalive"))
			}
		case <-ctx.Done():
			return
		}
	}
}
