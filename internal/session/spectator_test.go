// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package session

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/wallstop/fortress-rollback-sub001/internal/frame"
	"github.com/wallstop/fortress-rollback-sub001/internal/gamesync"
)

// hostAndSpectator monta um host com os dois jogadores locais e um
// espectador conectado a ele.
func hostAndSpectator(t *testing.T) (*P2PSession, *SpectatorSession, *memNetwork) {
	t.Helper()
	net := newMemNetwork()

	host, err := NewBuilder(2, testInputSize).
		AddPlayer(Player{Type: PlayerLocal}, 0).
		AddPlayer(Player{Type: PlayerLocal}, 1).
		AddPlayer(Player{Type: PlayerSpectator, Addr: addrSpec}, 2).
		StartP2PSession(net.socket(addr1))
	if err != nil {
		t.Fatalf("starting host: %v", err)
	}

	spectator, err := NewBuilder(2, testInputSize).
		StartSpectatorSession(addr1, net.socket(addrSpec))
	if err != nil {
		t.Fatalf("starting spectator: %v", err)
	}

	for i := 0; i < 200; i++ {
		host.PollRemoteClients()
		spectator.PollRemoteClients()
		if host.CurrentState() == Running && spectator.CurrentState() == Running {
			return host, spectator, net
		}
	}
	t.Fatal("host and spectator failed to synchronize")
	return nil, nil, nil
}

func TestSpectator_ReceivesConfirmedInputs(t *testing.T) {
	host, spectator, _ := hostAndSpectator(t)

	stub := newGameStub(2)
	spectatorStub := newGameStub(2)

	for i := 0; i < 20; i++ {
		for h := 0; h < 2; h++ {
			input := binary.BigEndian.AppendUint32(nil, uint32(i*(h+1)))
			if err := host.AddLocalInput(frame.PlayerHandle(h), input); err != nil {
				t.Fatalf("host add input: %v", err)
			}
		}
		requests, err := host.AdvanceFrame()
		if err != nil {
			t.Fatalf("host advance: %v", err)
		}
		stub.handleRequests(t, requests)

		// o espectador consome o stream conforme ele chega
		spectatorRequests, err := spectator.AdvanceFrame()
		if err != nil {
			if errors.Is(err, frame.ErrPredictionThreshold) {
				continue // o host ainda não confirmou o próximo frame
			}
			t.Fatalf("spectator advance: %v", err)
		}
		for _, req := range spectatorRequests {
			if req.Type != gamesync.RequestAdvanceFrame {
				t.Fatalf("spectators only receive advance requests, got %v", req.Type)
			}
			for _, inp := range req.Inputs {
				if inp.Status != frame.InputConfirmed {
					t.Fatalf("spectator inputs must be confirmed, got %v", inp.Status)
				}
			}
			spectatorStub.handleRequests(t, []Request{req})
		}
	}

	if spectator.CurrentFrame().IsNull() {
		t.Fatal("spectator should have consumed at least one frame")
	}
	if spectator.FramesBehindHost() > DefaultMaxFramesBehind+2 {
		t.Fatalf("spectator fell too far behind: %d frames", spectator.FramesBehindHost())
	}

	// o stub do espectador avançou exatamente um frame por frame consumido
	spectatorFrame := int32(spectator.CurrentFrame()) + 1
	if spectatorStub.frame != spectatorFrame {
		t.Fatalf("spectator stub at frame %d, session at %d", spectatorStub.frame, spectatorFrame-1)
	}
}

func TestSpectator_AdvanceBeforeSyncFails(t *testing.T) {
	net := newMemNetwork()
	spectator, err := NewBuilder(2, testInputSize).
		StartSpectatorSession(addr1, net.socket(addrSpec))
	if err != nil {
		t.Fatalf("starting spectator: %v", err)
	}
	if _, err := spectator.AdvanceFrame(); !errors.Is(err, frame.ErrNotSynchronized) {
		t.Fatalf("expected not synchronized, got %v", err)
	}
}

func TestSpectator_RequiresHostAddress(t *testing.T) {
	net := newMemNetwork()
	if _, err := NewBuilder(2, testInputSize).
		StartSpectatorSession("", net.socket(addrSpec)); err == nil {
		t.Fatal("spectator session without host address should fail")
	}
}
