// Command pwsd is a demo persistent-websocket server: it upgrades incoming
// HTTP connections to WebSocket with github.com/gobwas/ws, gates the
// upgrade behind a bearer JWT, rejects new connections under CPU pressure,
// and hands each accepted socket to a fresh engine.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/BitBurrow/BitBurrow-sub000/internal/auth"
	"github.com/BitBurrow/BitBurrow-sub000/internal/config"
	"github.com/BitBurrow/BitBurrow-sub000/internal/logging"
	"github.com/BitBurrow/BitBurrow-sub000/internal/metrics"
	"github.com/BitBurrow/BitBurrow-sub000/internal/policy"
	"github.com/BitBurrow/BitBurrow-sub000/internal/pws"
	"github.com/BitBurrow/BitBurrow-sub000/internal/resourceguard"
	"github.com/BitBurrow/BitBurrow-sub000/internal/wsconn/gobwasconn"
)

func main() {
	cfg, err := config.Load(nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log := logging.New(logging.Config{
		Level:     logging.Level(cfg.LogLevel),
		Format:    logging.Format(cfg.LogFormat),
		Component: "pwsd",
	})
	cfg.LogConfig(log)
	log.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	guard := resourceguard.New(log, cfg.CPURejectThreshold, cfg.CPUPauseThreshold, cfg.ResourceInterval)
	go guard.Run(ctx)

	pol, err := policy.Load(cfg.PolicyFile, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load forwarding policy")
	}

	var authMgr *auth.Manager
	if cfg.JWTSecret != "" {
		authMgr = auth.NewManager(cfg.JWTSecret, time.Hour)
	}

	metricsCollector := metrics.New()
	go serveMetrics(ctx, log, cfg.MetricsAddr, metricsCollector)

	var sessions sync.WaitGroup

	mux := http.NewServeMux()
	if authMgr != nil {
		mux.HandleFunc("/auth/token", func(w http.ResponseWriter, r *http.Request) {
			peerID := r.URL.Query().Get("peer_id")
			if peerID == "" {
				http.Error(w, "peer_id query parameter required", http.StatusBadRequest)
				return
			}
			token, err := authMgr.Issue(peerID)
			if err != nil {
				log.Error().Err(err).Msg("failed to issue token")
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"token":%q}`, token)
		})
	}
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if !guard.Allow() {
			log.Warn().Float64("cpu_percent", guard.Percent()).Msg("rejecting upgrade: CPU pressure")
			http.Error(w, "server busy", http.StatusServiceUnavailable)
			return
		}
		var claims *auth.Claims
		if authMgr != nil {
			c, err := authMgr.UpgradeAuth(r)
			if err != nil {
				http.Error(w, "unauthorized: "+err.Error(), http.StatusUnauthorized)
				return
			}
			claims = c
		}

		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			log.Error().Err(err).Msg("websocket upgrade failed")
			return
		}

		logID := r.RemoteAddr
		if claims != nil {
			logID = claims.PeerID
		}
		engine := pws.New(logID, log, metricsCollector)
		engine.AllowPortForwarding(pol.Current().AllowPortForwarding)
		engine.SetJetAdmission(guard)
		engine.SetJetDestinationPolicy(pol)

		sessionCtx := ctx
		if claims != nil {
			sessionCtx = auth.WithPeer(ctx, claims)
		}
		sessions.Add(1)
		go func() {
			defer sessions.Done()
			runSession(sessionCtx, log, engine, conn)
		}()
	})

	server := &http.Server{Addr: cfg.Addr, Handler: mux}
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	sessions.Wait()
}

func runSession(ctx context.Context, log zerolog.Logger, engine *pws.Engine, conn net.Conn) {
	if claims, ok := auth.PeerFromContext(ctx); ok {
		log = log.With().Str("peer_id", claims.PeerID).Logger()
	}
	sock := gobwasconn.New(conn)
	messages, err := engine.Connected(ctx, sock)
	if err != nil {
		log.Error().Err(err).Msg("failed to start session")
		_ = sock.Close()
		return
	}
	for msg := range messages {
		log.Debug().Str("chunk", pws.PrintableHex(msg)).Msg("application message received")
	}
	if err := engine.Err(); err != nil {
		log.Error().Err(err).Msg("session ended on unrecoverable protocol error")
	}
}

func serveMetrics(ctx context.Context, log zerolog.Logger, addr string, collector *metrics.Collector) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", addr).Msg("metrics listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("metrics server failed")
	}
}
