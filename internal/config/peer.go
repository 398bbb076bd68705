// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config carrega e valida a configuração YAML dos binários de
// harness (fortress-peer e fortress-synctest).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PeerConfig representa a configuração completa do fortress-peer.
type PeerConfig struct {
	Peer    PeerInfo      `yaml:"peer"`
	Session SessionInfo   `yaml:"session"`
	Remotes []RemoteEntry `yaml:"remotes"`
	Chaos   ChaosInfo     `yaml:"chaos"`
	Run     RunInfo       `yaml:"run"`
	Daemon  DaemonInfo    `yaml:"daemon"`
	Monitor MonitorInfo   `yaml:"monitor"`
	Logging LoggingInfo   `yaml:"logging"`
}

// PeerInfo identifica o peer local.
type PeerInfo struct {
	Name string `yaml:"name"`
	// BindAddr é o endereço UDP local (ex: ":7000").
	BindAddr string `yaml:"bind_addr"`
	// LocalHandles são os handles dos jogadores deste processo.
	LocalHandles []int `yaml:"local_handles"`
}

// SessionInfo parametriza a sessão de rollback.
type SessionInfo struct {
	NumPlayers    int `yaml:"num_players"`
	InputSize     int `yaml:"input_size"`
	MaxPrediction int `yaml:"max_prediction"`
	InputDelay    int `yaml:"input_delay"`
	FPS           int `yaml:"fps"`
	// DesyncInterval em frames; 0 desliga a detecção.
	DesyncInterval uint32 `yaml:"desync_interval"`
	// SparseSaving liga o modo de save esparso.
	SparseSaving bool `yaml:"sparse_saving"`
	// ProtocolSeed, quando != 0, torna o protocolo determinístico.
	ProtocolSeed int64 `yaml:"protocol_seed"`
}

// RemoteEntry descreve um peer remoto e os handles dos jogadores dele.
type RemoteEntry struct {
	Addr    string `yaml:"addr"`
	Handles []int  `yaml:"handles"`
	// Spectator marca o remoto como espectador (handles ignorados).
	Spectator bool `yaml:"spectator"`
}

// ChaosInfo parametriza o middleware de caos do socket.
type ChaosInfo struct {
	Enabled         bool          `yaml:"enabled"`
	Latency         time.Duration `yaml:"latency"`
	Jitter          time.Duration `yaml:"jitter"`
	SendLoss        float64       `yaml:"send_loss"`
	ReceiveLoss     float64       `yaml:"receive_loss"`
	Duplication     float64       `yaml:"duplication"`
	ReorderBuffer   int           `yaml:"reorder_buffer"`
	ReorderRate     float64       `yaml:"reorder_rate"`
	BurstLossRate   float64       `yaml:"burst_loss_rate"`
	BurstLossLength int           `yaml:"burst_loss_length"`
	SendBytesPerSec int64         `yaml:"send_bytes_per_sec"`
	Seed            int64         `yaml:"seed"`
}

// RunInfo controla a execução do soak.
type RunInfo struct {
	// Frames a simular antes de encerrar.
	Frames int `yaml:"frames"`
	// TickInterval entre frames (default: 1s/fps).
	TickInterval time.Duration `yaml:"tick_interval"`
	// ChecksumLogInterval em frames; 0 desliga o log periódico.
	ChecksumLogInterval int `yaml:"checksum_log_interval"`
	// CompressSnapshots liga a compressão zstd dos estados salvos.
	CompressSnapshots bool `yaml:"compress_snapshots"`
	// SessionLogDir, quando não vazio, grava um log dedicado por sessão.
	SessionLogDir string `yaml:"session_log_dir"`
}

// DaemonInfo configura o modo daemon: soaks agendados por cron expression.
type DaemonInfo struct {
	Enabled bool `yaml:"enabled"`
	// Schedule é a cron expression (ex: "0 */2 * * *").
	Schedule string `yaml:"schedule"`
}

// MonitorInfo configura o monitor de sistema durante o soak.
type MonitorInfo struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// LoggingInfo contém configurações de logging.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// LoadPeerConfig lê e valida o arquivo YAML de configuração do peer.
func LoadPeerConfig(path string) (*PeerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading peer config: %w", err)
	}

	var cfg PeerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing peer config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating peer config: %w", err)
	}

	return &cfg, nil
}

func (c *PeerConfig) applyDefaults() {
	if c.Session.MaxPrediction == 0 {
		c.Session.MaxPrediction = 8
	}
	if c.Session.FPS == 0 {
		c.Session.FPS = 60
	}
	if c.Session.InputSize == 0 {
		c.Session.InputSize = 4
	}
	if c.Run.TickInterval == 0 {
		c.Run.TickInterval = time.Second / time.Duration(c.Session.FPS)
	}
	if c.Monitor.Enabled && c.Monitor.Interval == 0 {
		c.Monitor.Interval = 5 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *PeerConfig) validate() error {
	if c.Peer.Name == "" {
		return fmt.Errorf("peer.name is required")
	}
	if c.Peer.BindAddr == "" {
		return fmt.Errorf("peer.bind_addr is required")
	}
	if c.Session.NumPlayers <= 0 {
		return fmt.Errorf("session.num_players must be greater than zero")
	}
	if c.Session.InputSize <= 0 {
		return fmt.Errorf("session.input_size must be greater than zero")
	}
	if len(c.Peer.LocalHandles) == 0 {
		return fmt.Errorf("peer.local_handles is required")
	}
	for _, h := range c.Peer.LocalHandles {
		if h < 0 || h >= c.Session.NumPlayers {
			return fmt.Errorf("peer.local_handles entry %d out of range [0, %d)", h, c.Session.NumPlayers)
		}
	}
	for i, r := range c.Remotes {
		if r.Addr == "" {
			return fmt.Errorf("remotes[%d].addr is required", i)
		}
		if !r.Spectator && len(r.Handles) == 0 {
			return fmt.Errorf("remotes[%d].handles is required for non-spectator remotes", i)
		}
	}
	if c.Run.Frames <= 0 {
		return fmt.Errorf("run.frames must be greater than zero")
	}
	if c.Daemon.Enabled && c.Daemon.Schedule == "" {
		return fmt.Errorf("daemon.schedule is required when daemon.enabled is true")
	}
	for name, rate := range map[string]float64{
		"chaos.send_loss":       c.Chaos.SendLoss,
		"chaos.receive_loss":    c.Chaos.ReceiveLoss,
		"chaos.duplication":     c.Chaos.Duplication,
		"chaos.reorder_rate":    c.Chaos.ReorderRate,
		"chaos.burst_loss_rate": c.Chaos.BurstLossRate,
	} {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("%s must be in [0, 1]", name)
		}
	}
	return nil
}
