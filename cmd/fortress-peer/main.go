// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// fortress-peer é o peer headless de teste de rede: roda uma sessão P2P
// sobre UDP (com caos opcional) com inputs determinísticos e reporta o
// checksum final. Dois processos com a mesma configuração e seeds devem
// terminar com checksums idênticos.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wallstop/fortress-rollback-sub001/internal/config"
	"github.com/wallstop/fortress-rollback-sub001/internal/frame"
	"github.com/wallstop/fortress-rollback-sub001/internal/gamesync"
	"github.com/wallstop/fortress-rollback-sub001/internal/logging"
	"github.com/wallstop/fortress-rollback-sub001/internal/protocol"
	"github.com/wallstop/fortress-rollback-sub001/internal/session"
	"github.com/wallstop/fortress-rollback-sub001/internal/telemetry"
	"github.com/wallstop/fortress-rollback-sub001/internal/transport"
)

func main() {
	configPath := flag.String("config", "fortress-peer.yaml", "path to the peer YAML config")
	flag.Parse()

	cfg, err := config.LoadPeerConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}

	logger, closer := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer closer.Close()

	if cfg.Daemon.Enabled {
		runDaemon(cfg, logger)
		return
	}

	if err := runSoak(cfg, logger); err != nil {
		logger.Error("soak run failed", "error", err)
		os.Exit(1)
	}
}

// runDaemon agenda soaks recorrentes pela cron expression configurada e
// roda até receber SIGINT/SIGTERM.
func runDaemon(cfg *config.PeerConfig, logger *slog.Logger) {
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(
		slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	_, err := c.AddFunc(cfg.Daemon.Schedule, func() {
		if err := runSoak(cfg, logger); err != nil {
			logger.Error("scheduled soak run failed", "error", err)
		}
	})
	if err != nil {
		logger.Error("invalid daemon schedule", "schedule", cfg.Daemon.Schedule, "error", err)
		os.Exit(1)
	}

	logger.Info("daemon started", "schedule", cfg.Daemon.Schedule)
	c.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx := c.Stop()
	<-ctx.Done()
	logger.Info("daemon stopped")
}

// runSoak executa uma sessão completa: sincroniza, roda cfg.Run.Frames
// frames e loga o veredito final.
func runSoak(cfg *config.PeerConfig, logger *slog.Logger) error {
	sessionID := fmt.Sprintf("%s-%d", cfg.Peer.Name, time.Now().Unix())
	sessionLogger, sessionCloser, logPath, err := logging.NewSessionLogger(
		logger, cfg.Run.SessionLogDir, cfg.Peer.Name, sessionID)
	if err != nil {
		return err
	}
	defer sessionCloser.Close()
	if logPath != "" {
		logger.Info("session log file created", "path", logPath)
	}

	udp, err := transport.NewUDPSocket(cfg.Peer.BindAddr)
	if err != nil {
		return err
	}
	defer udp.Close()
	udp.SetSendErrorHandler(func(addr string, err error) {
		sessionLogger.Warn("datagram send failed", "addr", addr, "error", err)
	})

	var sock transport.Socket = udp
	var chaos *transport.ChaosSocket
	if cfg.Chaos.Enabled {
		chaos = transport.NewChaosSocket(udp, transport.ChaosConfig{
			Latency:           cfg.Chaos.Latency,
			Jitter:            cfg.Chaos.Jitter,
			SendLossRate:      cfg.Chaos.SendLoss,
			ReceiveLossRate:   cfg.Chaos.ReceiveLoss,
			DuplicationRate:   cfg.Chaos.Duplication,
			ReorderBufferSize: cfg.Chaos.ReorderBuffer,
			ReorderRate:       cfg.Chaos.ReorderRate,
			BurstLossRate:     cfg.Chaos.BurstLossRate,
			BurstLossLength:   cfg.Chaos.BurstLossLength,
			SendBytesPerSec:   cfg.Chaos.SendBytesPerSec,
			Seed:              cfg.Chaos.Seed,
		})
		sock = chaos
	}

	obs := telemetry.NewSlogObserver(sessionLogger)

	builder := session.NewBuilder(cfg.Session.NumPlayers, cfg.Session.InputSize).
		WithMaxPrediction(cfg.Session.MaxPrediction).
		WithInputDelay(cfg.Session.InputDelay).
		WithFPS(cfg.Session.FPS).
		WithObserver(obs).
		WithLogger(sessionLogger)

	if cfg.Session.DesyncInterval > 0 {
		builder.WithDesyncDetection(protocol.DesyncDetectionOn(cfg.Session.DesyncInterval))
	}
	if cfg.Session.SparseSaving {
		builder.WithSaveMode(gamesync.SaveSparse)
	}
	if cfg.Session.ProtocolSeed != 0 {
		protoCfg := protocol.DefaultProtocolConfig()
		seed := cfg.Session.ProtocolSeed
		protoCfg.RNGSeed = &seed
		builder.WithProtocolConfig(protoCfg)
	}

	for _, h := range cfg.Peer.LocalHandles {
		builder.AddPlayer(session.Player{Type: session.PlayerLocal}, frame.PlayerHandle(h))
	}
	spectatorHandle := cfg.Session.NumPlayers
	for _, r := range cfg.Remotes {
		if r.Spectator {
			builder.AddPlayer(session.Player{Type: session.PlayerSpectator, Addr: r.Addr},
				frame.PlayerHandle(spectatorHandle))
			spectatorHandle++
			continue
		}
		for _, h := range r.Handles {
			builder.AddPlayer(session.Player{Type: session.PlayerRemote, Addr: r.Addr}, frame.PlayerHandle(h))
		}
	}

	sess, err := builder.StartP2PSession(sock)
	if err != nil {
		return err
	}

	g, err := newGame(cfg.Session.NumPlayers, cfg.Run.CompressSnapshots)
	if err != nil {
		return err
	}

	var monitor *SystemMonitor
	if cfg.Monitor.Enabled {
		monitor = NewSystemMonitor(sessionLogger, cfg.Monitor.Interval)
		monitor.Start()
		defer monitor.Stop()
	}

	sessionLogger.Info("waiting for synchronization", "remotes", len(cfg.Remotes))
	syncTicker := time.NewTicker(10 * time.Millisecond)
	for sess.CurrentState() != session.Running {
		<-syncTicker.C
		sess.PollRemoteClients()
		drainEvents(sess, sessionLogger)
	}
	syncTicker.Stop()
	sessionLogger.Info("session running")

	ticker := time.NewTicker(cfg.Run.TickInterval)
	defer ticker.Stop()

	for int(sess.CurrentFrame()) < cfg.Run.Frames {
		<-ticker.C

		currentFrame := sess.CurrentFrame()
		for _, h := range cfg.Peer.LocalHandles {
			if err := sess.AddLocalInput(frame.PlayerHandle(h),
				localInput(currentFrame, h, cfg.Session.InputSize)); err != nil {
				return fmt.Errorf("adding local input: %w", err)
			}
		}

		requests, err := sess.AdvanceFrame()
		if err != nil {
			if errors.Is(err, frame.ErrPredictionThreshold) {
				// esperado sob carga: o host trava o frame e tenta de novo
				continue
			}
			return fmt.Errorf("advancing frame: %w", err)
		}
		if err := g.handleRequests(requests); err != nil {
			return err
		}

		drainEvents(sess, sessionLogger)

		if cfg.Run.ChecksumLogInterval > 0 && int(sess.CurrentFrame())%cfg.Run.ChecksumLogInterval == 0 {
			sessionLogger.Info("checkpoint",
				"frame", int32(sess.CurrentFrame()),
				"checksum", g.checksumNow().String(),
				"rollbacks", g.rollbacks)
		}
	}

	sessionLogger.Info("soak finished",
		"frame", int32(sess.CurrentFrame()),
		"final_checksum", g.checksumNow().String(),
		"rollbacks", g.rollbacks,
		"saves", g.saves)
	if chaos != nil {
		st := chaos.Stats()
		sessionLogger.Info("chaos stats",
			"sent", st.Sent, "dropped", st.Dropped, "duplicated", st.Duplicated,
			"reordered", st.Reordered, "burst_lost", st.BurstLost, "throttled", st.Throttled)
	}
	if monitor != nil {
		st := monitor.Stats()
		sessionLogger.Info("system stats at finish",
			"cpu_percent", st.CPUPercent, "memory_percent", st.MemoryPercent, "load_average", st.LoadAverage)
	}
	return nil
}

func drainEvents(sess *session.P2PSession, logger *slog.Logger) {
	for _, ev := range sess.Events() {
		switch ev.Type {
		case session.EventDesyncDetected:
			logger.Error("desync detected",
				"frame", int32(ev.Frame),
				"local_checksum", ev.LocalChecksum.String(),
				"remote_checksum", ev.RemoteChecksum.String(),
				"addr", ev.Addr)
		case session.EventDisconnected:
			logger.Warn("peer disconnected", "addr", ev.Addr, "player", int(ev.Player))
		case session.EventSynchronizing:
			logger.Debug("synchronizing", "addr", ev.Addr, "count", ev.Count, "total", ev.Total)
		case session.EventSynchronized:
			logger.Info("peer synchronized", "addr", ev.Addr)
		case session.EventNetworkInterrupted:
			logger.Warn("network interrupted", "addr", ev.Addr,
				"disconnect_timeout_ms", ev.DisconnectTimeout.Milliseconds())
		case session.EventNetworkResumed:
			logger.Info("network resumed", "addr", ev.Addr)
		case session.EventSyncTimeout:
			logger.Warn("sync timeout", "addr", ev.Addr)
		}
	}
}
