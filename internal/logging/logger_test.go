// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"garbage", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.in); got != tc.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNewLogger_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peer.log")
	logger, closer := NewLogger("info", "json", path)

	logger.Info("session started", "peer", "test")
	if err := closer.Close(); err != nil {
		t.Fatalf("closer failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "session started") {
		t.Fatal("log file should contain the logged message")
	}
}

func TestNewLogger_NoFileIsNoop(t *testing.T) {
	logger, closer := NewLogger("debug", "text", "")
	if logger == nil {
		t.Fatal("logger should never be nil")
	}
	if err := closer.Close(); err != nil {
		t.Fatalf("no-op closer should not fail: %v", err)
	}
}

func TestNewSessionLogger_CreatesDedicatedFile(t *testing.T) {
	dir := t.TempDir()
	base, baseCloser := NewLogger("info", "json", "")
	defer baseCloser.Close()

	logger, closer, path, err := NewSessionLogger(base, dir, "peer-a", "sess-123")
	if err != nil {
		t.Fatalf("session logger failed: %v", err)
	}
	logger.Info("soak checkpoint", "frame", 100)
	if err := closer.Close(); err != nil {
		t.Fatalf("closing session log: %v", err)
	}

	if filepath.Dir(path) != filepath.Join(dir, "peer-a") {
		t.Fatalf("unexpected session log path %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading session log: %v", err)
	}
	if !strings.Contains(string(data), "soak checkpoint") {
		t.Fatal("session log should contain the message")
	}
	if !strings.Contains(string(data), "sess-123") {
		t.Fatal("session log should carry the session id attribute")
	}
}

func TestNewSessionLogger_EmptyDirIsPassthrough(t *testing.T) {
	base, baseCloser := NewLogger("info", "json", "")
	defer baseCloser.Close()

	logger, closer, path, err := NewSessionLogger(base, "", "peer-a", "sess-1")
	if err != nil {
		t.Fatalf("passthrough failed: %v", err)
	}
	if logger != base || path != "" {
		t.Fatal("empty dir should return the base logger unchanged")
	}
	_ = closer
}
