// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package session

import (
	"errors"
	"testing"

	"github.com/wallstop/fortress-rollback-sub001/internal/frame"
	"github.com/wallstop/fortress-rollback-sub001/internal/protocol"
)

func TestBuilder_RejectsDuplicateHandle(t *testing.T) {
	net := newMemNetwork()
	_, err := NewBuilder(2, testInputSize).
		AddPlayer(Player{Type: PlayerLocal}, 0).
		AddPlayer(Player{Type: PlayerLocal}, 0).
		StartP2PSession(net.socket(addr1))
	if err == nil {
		t.Fatal("duplicate handle should be rejected")
	}
}

func TestBuilder_RejectsHandleOutOfRange(t *testing.T) {
	b := NewBuilder(2, testInputSize).
		AddPlayer(Player{Type: PlayerLocal}, 5)
	if b.err == nil {
		t.Fatal("player handle beyond num players should be rejected")
	}
	var invalid *frame.InvalidPlayerHandleError
	if !errors.As(b.err, &invalid) {
		t.Fatalf("expected InvalidPlayerHandleError, got %v", b.err)
	}
}

func TestBuilder_RejectsSpectatorHandleBelowPlayers(t *testing.T) {
	b := NewBuilder(2, testInputSize).
		AddPlayer(Player{Type: PlayerSpectator, Addr: addrSpec}, 1)
	if b.err == nil {
		t.Fatal("spectator handle below num players should be rejected")
	}
}

func TestBuilder_RejectsRemoteWithoutAddress(t *testing.T) {
	b := NewBuilder(2, testInputSize).
		AddPlayer(Player{Type: PlayerRemote}, 0)
	if b.err == nil {
		t.Fatal("remote player without address should be rejected")
	}
}

func TestBuilder_RejectsIncompleteRegistry(t *testing.T) {
	net := newMemNetwork()
	_, err := NewBuilder(2, testInputSize).
		AddPlayer(Player{Type: PlayerLocal}, 0).
		StartP2PSession(net.socket(addr1))
	if err == nil {
		t.Fatal("missing player registrations should be rejected")
	}
}

func TestBuilder_RejectsInvalidParameters(t *testing.T) {
	net := newMemNetwork()

	cases := []*Builder{
		NewBuilder(0, testInputSize),
		NewBuilder(2, 0),
		NewBuilder(2, testInputSize).WithMaxPrediction(0),
		NewBuilder(2, testInputSize).WithFPS(0),
		NewBuilder(2, testInputSize).WithMaxFramesBehind(0),
		NewBuilder(2, testInputSize).WithCatchupSpeed(0),
		NewBuilder(2, testInputSize).WithSyncConfig(protocol.SyncConfig{}),
	}
	for i, b := range cases {
		b.AddPlayer(Player{Type: PlayerLocal}, 0).
			AddPlayer(Player{Type: PlayerRemote, Addr: addr2}, 1)
		if _, err := b.StartP2PSession(net.socket(addr1)); err == nil {
			t.Fatalf("case %d: invalid builder parameters should be rejected", i)
		}
	}
}

func TestBuilder_PresetsCarrySaneValues(t *testing.T) {
	lan := protocol.LANSyncConfig()
	if lan.SyncRetryInterval >= protocol.DefaultSyncConfig().SyncRetryInterval {
		t.Fatal("lan preset should retry faster than the default")
	}
	high := protocol.HighLatencyProtocolConfig()
	if high.PendingOutputLimit <= protocol.DefaultProtocolConfig().PendingOutputLimit {
		t.Fatal("high latency preset should allow a deeper pending output")
	}
	if protocol.DebugProtocolConfig().ShutdownDelay <= protocol.DefaultProtocolConfig().ShutdownDelay {
		t.Fatal("debug preset should linger longer before shutdown")
	}
}
