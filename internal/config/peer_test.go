// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "peer.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

const validConfig = `
peer:
  name: peer-a
  bind_addr: ":7001"
  local_handles: [0]
session:
  num_players: 2
  input_size: 4
remotes:
  - addr: "127.0.0.1:7002"
    handles: [1]
run:
  frames: 600
`

func TestLoadPeerConfig_Valid(t *testing.T) {
	cfg, err := LoadPeerConfig(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Peer.Name != "peer-a" {
		t.Fatalf("unexpected peer name %q", cfg.Peer.Name)
	}
	if len(cfg.Remotes) != 1 || cfg.Remotes[0].Handles[0] != 1 {
		t.Fatalf("unexpected remotes %+v", cfg.Remotes)
	}
}

func TestLoadPeerConfig_Defaults(t *testing.T) {
	cfg, err := LoadPeerConfig(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Session.MaxPrediction != 8 {
		t.Fatalf("max prediction default should be 8, got %d", cfg.Session.MaxPrediction)
	}
	if cfg.Session.FPS != 60 {
		t.Fatalf("fps default should be 60, got %d", cfg.Session.FPS)
	}
	if cfg.Run.TickInterval != time.Second/60 {
		t.Fatalf("tick interval should default to 1s/fps, got %v", cfg.Run.TickInterval)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("logging level should default to info, got %q", cfg.Logging.Level)
	}
}

func TestLoadPeerConfig_MissingRequiredFields(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"missing peer name", `
peer:
  bind_addr: ":7001"
  local_handles: [0]
session: {num_players: 2, input_size: 4}
run: {frames: 10}
`},
		{"missing bind addr", `
peer:
  name: p
  local_handles: [0]
session: {num_players: 2, input_size: 4}
run: {frames: 10}
`},
		{"handle out of range", `
peer:
  name: p
  bind_addr: ":7001"
  local_handles: [5]
session: {num_players: 2, input_size: 4}
run: {frames: 10}
`},
		{"remote without addr", `
peer:
  name: p
  bind_addr: ":7001"
  local_handles: [0]
session: {num_players: 2, input_size: 4}
remotes:
  - handles: [1]
run: {frames: 10}
`},
		{"zero frames", `
peer:
  name: p
  bind_addr: ":7001"
  local_handles: [0]
session: {num_players: 2, input_size: 4}
`},
		{"loss rate above one", `
peer:
  name: p
  bind_addr: ":7001"
  local_handles: [0]
session: {num_players: 2, input_size: 4}
chaos: {send_loss: 1.5}
run: {frames: 10}
`},
		{"daemon without schedule", `
peer:
  name: p
  bind_addr: ":7001"
  local_handles: [0]
session: {num_players: 2, input_size: 4}
daemon: {enabled: true}
run: {frames: 10}
`},
	}
	for _, tc := range cases {
		if _, err := LoadPeerConfig(writeConfig(t, tc.content)); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestLoadPeerConfig_FileNotFound(t *testing.T) {
	if _, err := LoadPeerConfig("/nonexistent/peer.yaml"); err == nil {
		t.Fatal("missing file should fail")
	}
}

func TestLoadPeerConfig_MalformedYAML(t *testing.T) {
	if _, err := LoadPeerConfig(writeConfig(t, "peer: [unclosed")); err == nil {
		t.Fatal("malformed yaml should fail")
	}
}
