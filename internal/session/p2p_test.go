// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package session

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/wallstop/fortress-rollback-sub001/internal/checksum"
	"github.com/wallstop/fortress-rollback-sub001/internal/frame"
	"github.com/wallstop/fortress-rollback-sub001/internal/gamesync"
	"github.com/wallstop/fortress-rollback-sub001/internal/protocol"
	"github.com/wallstop/fortress-rollback-sub001/internal/transport"
)

const (
	testInputSize = 4
	addr1         = "127.0.0.1:7001"
	addr2         = "127.0.0.1:7002"
	addrSpec      = "127.0.0.1:7003"
)

// memNetwork entrega datagramas instantaneamente entre sockets em memória.
type memNetwork struct {
	queues  map[string][]transport.Datagram
	blocked map[string]bool
}

func newMemNetwork() *memNetwork {
	return &memNetwork{
		queues:  make(map[string][]transport.Datagram),
		blocked: make(map[string]bool),
	}
}

// block descarta todo o tráfego originado no endereço dado.
func (n *memNetwork) block(addr string) {
	n.blocked[addr] = true
}

func (n *memNetwork) socket(addr string) *memSocket {
	return &memSocket{net: n, addr: addr}
}

type memSocket struct {
	net  *memNetwork
	addr string
}

func (s *memSocket) SendTo(payload []byte, addr string) {
	if s.net.blocked[s.addr] {
		return
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	s.net.queues[addr] = append(s.net.queues[addr], transport.Datagram{From: s.addr, Payload: buf})
}

func (s *memSocket) ReceiveAllMessages() []transport.Datagram {
	out := s.net.queues[s.addr]
	s.net.queues[s.addr] = nil
	return out
}

// gameStub é a simulação determinística dos testes: uma posição por
// jogador movida pelos inputs.
type gameStub struct {
	frame     int32
	positions []int64

	saves     int
	loads     int
	advances  int
	corrupted bool
}

func newGameStub(players int) *gameStub {
	return &gameStub{positions: make([]int64, players)}
}

func (g *gameStub) serialize() []byte {
	buf := binary.BigEndian.AppendUint32(nil, uint32(g.frame))
	for _, p := range g.positions {
		buf = binary.BigEndian.AppendUint64(buf, uint64(p))
	}
	return buf
}

func (g *gameStub) restore(data []byte) {
	g.frame = int32(binary.BigEndian.Uint32(data[:4]))
	for i := range g.positions {
		off := 4 + i*8
		g.positions[i] = int64(binary.BigEndian.Uint64(data[off : off+8]))
	}
}

func (g *gameStub) handleRequests(t *testing.T, requests []Request) {
	t.Helper()
	for _, req := range requests {
		switch req.Type {
		case gamesync.RequestSaveState:
			state := g.serialize()
			sum := checksum.FNV1a(state)
			if g.corrupted {
				sum[0] ^= 0xFF
			}
			if err := req.Cell.Save(req.Frame, state, &sum); err != nil {
				t.Fatalf("save failed: %v", err)
			}
			g.saves++
		case gamesync.RequestLoadState:
			state, ok := req.Cell.Load()
			if !ok {
				t.Fatalf("load at frame %d found empty cell", req.Frame)
			}
			g.restore(state)
			g.loads++
		case gamesync.RequestAdvanceFrame:
			for i, inp := range req.Inputs {
				if inp.Status != frame.InputDisconnected && len(inp.Bytes) >= 4 {
					g.positions[i] += int64(int32(binary.BigEndian.Uint32(inp.Bytes[:4])))
				}
			}
			g.frame++
			g.advances++
		}
	}
}

func inputBytes(v int32) []byte {
	return binary.BigEndian.AppendUint32(nil, uint32(v))
}

func twoSessions(t *testing.T, net *memNetwork, configure func(*Builder)) (*P2PSession, *P2PSession) {
	t.Helper()

	b1 := NewBuilder(2, testInputSize).
		AddPlayer(Player{Type: PlayerLocal}, 0).
		AddPlayer(Player{Type: PlayerRemote, Addr: addr2}, 1)
	b2 := NewBuilder(2, testInputSize).
		AddPlayer(Player{Type: PlayerRemote, Addr: addr1}, 0).
		AddPlayer(Player{Type: PlayerLocal}, 1)
	if configure != nil {
		configure(b1)
		configure(b2)
	}

	s1, err := b1.StartP2PSession(net.socket(addr1))
	if err != nil {
		t.Fatalf("starting session 1: %v", err)
	}
	s2, err := b2.StartP2PSession(net.socket(addr2))
	if err != nil {
		t.Fatalf("starting session 2: %v", err)
	}
	return s1, s2
}

func synchronize(t *testing.T, sessions ...*P2PSession) {
	t.Helper()
	for i := 0; i < 200; i++ {
		running := true
		for _, s := range sessions {
			s.PollRemoteClients()
			if s.CurrentState() != Running {
				running = false
			}
		}
		if running {
			return
		}
	}
	t.Fatal("sessions failed to synchronize")
}

func TestP2P_StartsSynchronizing(t *testing.T) {
	net := newMemNetwork()
	s1, s2 := twoSessions(t, net, nil)
	if s1.CurrentState() != Synchronizing || s2.CurrentState() != Synchronizing {
		t.Fatal("sessions should start in synchronizing state")
	}
}

func TestP2P_AddLocalInputBeforeSyncFails(t *testing.T) {
	net := newMemNetwork()
	s1, _ := twoSessions(t, net, nil)
	if err := s1.AddLocalInput(0, inputBytes(1)); !errors.Is(err, frame.ErrNotSynchronized) {
		t.Fatalf("expected not synchronized, got %v", err)
	}
}

func TestP2P_Synchronizes(t *testing.T) {
	net := newMemNetwork()
	s1, s2 := twoSessions(t, net, nil)
	synchronize(t, s1, s2)

	sawSynchronized := false
	for _, ev := range s1.Events() {
		if ev.Type == EventSynchronized {
			sawSynchronized = true
		}
	}
	if !sawSynchronized {
		t.Fatal("session 1 should report a synchronized event")
	}
}

// Rede limpa, inputs constantes: predições sempre corretas, zero rollbacks
// e os dois lados terminam no mesmo frame com o mesmo estado.
func TestP2P_CleanRun(t *testing.T) {
	net := newMemNetwork()
	s1, s2 := twoSessions(t, net, func(b *Builder) {
		b.WithDesyncDetection(protocol.DesyncDetectionOn(100))
	})
	synchronize(t, s1, s2)

	stub1 := newGameStub(2)
	stub2 := newGameStub(2)

	const frames = 60
	for i := 0; i < frames; i++ {
		if err := s1.AddLocalInput(0, inputBytes(0)); err != nil {
			t.Fatalf("add input 1: %v", err)
		}
		r1, err := s1.AdvanceFrame()
		if err != nil {
			t.Fatalf("advance 1 at %d: %v", i, err)
		}
		stub1.handleRequests(t, r1)

		if err := s2.AddLocalInput(1, inputBytes(0)); err != nil {
			t.Fatalf("add input 2: %v", err)
		}
		r2, err := s2.AdvanceFrame()
		if err != nil {
			t.Fatalf("advance 2 at %d: %v", i, err)
		}
		stub2.handleRequests(t, r2)

		if stub1.frame != int32(i+1) || stub2.frame != int32(i+1) {
			t.Fatalf("gamestates should evolve by one per tick: %d %d at tick %d",
				stub1.frame, stub2.frame, i)
		}
	}

	if stub1.saves != frames || stub2.saves != frames {
		t.Fatalf("expected %d saves on both sides, got %d and %d", frames, stub1.saves, stub2.saves)
	}
	if stub1.advances != frames || stub2.advances != frames {
		t.Fatalf("expected %d advances on both sides, got %d and %d", frames, stub1.advances, stub2.advances)
	}
	if stub1.loads != 0 || stub2.loads != 0 {
		t.Fatalf("clean run should have zero rollbacks, got %d and %d", stub1.loads, stub2.loads)
	}
	if s1.CurrentFrame() != frames || s2.CurrentFrame() != frames {
		t.Fatalf("both sessions should be at frame %d: %d %d", frames, s1.CurrentFrame(), s2.CurrentFrame())
	}
	if checksum.FNV1a(stub1.serialize()) != checksum.FNV1a(stub2.serialize()) {
		t.Fatal("final states should be identical")
	}
	for _, ev := range append(s1.Events(), s2.Events()...) {
		if ev.Type == EventDesyncDetected {
			t.Fatal("clean run should not detect desyncs")
		}
	}
}

// Inputs que mudam a cada frame forçam mispredições: rollbacks acontecem e
// a simulação continua avançando um frame por tick.
func TestP2P_VaryingInputsRollBack(t *testing.T) {
	net := newMemNetwork()
	s1, s2 := twoSessions(t, net, nil)
	synchronize(t, s1, s2)

	stub1 := newGameStub(2)
	stub2 := newGameStub(2)

	const frames = 30
	for i := 0; i < frames; i++ {
		if err := s1.AddLocalInput(0, inputBytes(int32(i))); err != nil {
			t.Fatalf("add input 1: %v", err)
		}
		r1, err := s1.AdvanceFrame()
		if err != nil {
			t.Fatalf("advance 1 at %d: %v", i, err)
		}
		stub1.handleRequests(t, r1)

		if err := s2.AddLocalInput(1, inputBytes(int32(i*2))); err != nil {
			t.Fatalf("add input 2: %v", err)
		}
		r2, err := s2.AdvanceFrame()
		if err != nil {
			t.Fatalf("advance 2 at %d: %v", i, err)
		}
		stub2.handleRequests(t, r2)

		if stub1.frame != int32(i+1) || stub2.frame != int32(i+1) {
			t.Fatalf("gamestate frame should advance by one per tick even with rollbacks")
		}
	}

	if stub1.loads == 0 {
		t.Fatal("changing inputs should force at least one rollback on the predicting side")
	}
	// INV-2: todo rollback ficou dentro da janela (o load teria falhado
	// com OutsidePredictionWindow e o teste teria abortado)
}

// Sem datagramas do peer, o quinto advance esbarra no prediction threshold
// e nenhum request é emitido para aquela chamada.
func TestP2P_PredictionThreshold(t *testing.T) {
	net := newMemNetwork()
	s1, s2 := twoSessions(t, net, func(b *Builder) {
		b.WithMaxPrediction(4)
	})
	synchronize(t, s1, s2)

	// a partir daqui nada do peer 2 chega ao peer 1
	net.block(addr2)

	stub := newGameStub(2)
	for i := 0; i < 4; i++ {
		if err := s1.AddLocalInput(0, inputBytes(1)); err != nil {
			t.Fatalf("add input: %v", err)
		}
		requests, err := s1.AdvanceFrame()
		if err != nil {
			t.Fatalf("advance %d should still predict: %v", i, err)
		}
		stub.handleRequests(t, requests)
	}

	if err := s1.AddLocalInput(0, inputBytes(1)); err != nil {
		t.Fatalf("add input: %v", err)
	}
	requests, err := s1.AdvanceFrame()
	if !errors.Is(err, frame.ErrPredictionThreshold) {
		t.Fatalf("fifth advance should hit the prediction threshold, got %v", err)
	}
	if len(requests) != 0 {
		t.Fatalf("no requests should be emitted on a threshold failure, got %d", len(requests))
	}
}

// Desync forçado: um dos lados corrompe os checksums salvos e ambos os
// lados reportam DesyncDetected com os checksums trocados.
func TestP2P_DesyncDetected(t *testing.T) {
	net := newMemNetwork()
	s1, s2 := twoSessions(t, net, func(b *Builder) {
		b.WithDesyncDetection(protocol.DesyncDetectionOn(10))
	})
	synchronize(t, s1, s2)

	stub1 := newGameStub(2)
	stub2 := newGameStub(2)

	var desyncs1, desyncs2 []Event
	for i := 0; i < 60; i++ {
		// o lado 1 passa a corromper seus checksums a partir do frame 20
		stub1.corrupted = i >= 20

		if err := s1.AddLocalInput(0, inputBytes(0)); err != nil {
			t.Fatalf("add input 1: %v", err)
		}
		r1, err := s1.AdvanceFrame()
		if err != nil {
			t.Fatalf("advance 1: %v", err)
		}
		stub1.handleRequests(t, r1)

		if err := s2.AddLocalInput(1, inputBytes(0)); err != nil {
			t.Fatalf("add input 2: %v", err)
		}
		r2, err := s2.AdvanceFrame()
		if err != nil {
			t.Fatalf("advance 2: %v", err)
		}
		stub2.handleRequests(t, r2)

		for _, ev := range s1.Events() {
			if ev.Type == EventDesyncDetected {
				desyncs1 = append(desyncs1, ev)
			}
		}
		for _, ev := range s2.Events() {
			if ev.Type == EventDesyncDetected {
				desyncs2 = append(desyncs2, ev)
			}
		}
	}

	if len(desyncs1) == 0 || len(desyncs2) == 0 {
		t.Fatalf("both sides should detect the desync: %d and %d events",
			len(desyncs1), len(desyncs2))
	}
	// os checksums aparecem trocados entre os dois lados
	ev1, ev2 := desyncs1[0], desyncs2[0]
	if ev1.Frame == ev2.Frame {
		if ev1.LocalChecksum != ev2.RemoteChecksum || ev1.RemoteChecksum != ev2.LocalChecksum {
			t.Fatal("local and remote checksums should be swapped between peers")
		}
	}
	for _, ev := range desyncs1 {
		if ev.LocalChecksum == ev.RemoteChecksum {
			t.Fatal("desync event should carry differing checksums")
		}
	}
}

func TestP2P_DisconnectPlayer(t *testing.T) {
	net := newMemNetwork()
	s1, s2 := twoSessions(t, net, nil)
	synchronize(t, s1, s2)

	// desconectar jogador local é rejeitado
	if err := s1.DisconnectPlayer(0); err == nil {
		t.Fatal("disconnecting a local player should fail")
	}

	if err := s1.DisconnectPlayer(1); err != nil {
		t.Fatalf("disconnecting remote player: %v", err)
	}
	// repetição é rejeitada
	if err := s1.DisconnectPlayer(1); err == nil {
		t.Fatal("double disconnect should fail")
	}

	sawDisconnect := false
	for _, ev := range s1.Events() {
		if ev.Type == EventDisconnected && ev.Player == 1 {
			sawDisconnect = true
		}
	}
	if !sawDisconnect {
		t.Fatal("session should report the disconnected player")
	}

	// a sessão segue avançando com o input em branco para o desconectado
	stub := newGameStub(2)
	if err := s1.AddLocalInput(0, inputBytes(5)); err != nil {
		t.Fatalf("add input: %v", err)
	}
	requests, err := s1.AdvanceFrame()
	if err != nil {
		t.Fatalf("advance after disconnect: %v", err)
	}
	stub.handleRequests(t, requests)

	for _, req := range requests {
		if req.Type == gamesync.RequestAdvanceFrame {
			if req.Inputs[1].Status != frame.InputDisconnected {
				t.Fatalf("player 1 input should be disconnected, got %v", req.Inputs[1].Status)
			}
		}
	}
}

func TestP2P_NetworkStats(t *testing.T) {
	net := newMemNetwork()
	s1, s2 := twoSessions(t, net, nil)
	synchronize(t, s1, s2)

	// handle local não tem estatísticas de rede
	if _, err := s1.NetworkStats(0); err == nil {
		t.Fatal("network stats for a local player should fail")
	}
	// handle inválido
	if _, err := s1.NetworkStats(9); err == nil {
		t.Fatal("network stats for an unknown handle should fail")
	}
	// logo após a sincronização ainda não há janela de tempo para medir
	if _, err := s1.NetworkStats(1); err != nil && !errors.Is(err, frame.ErrNotSynchronized) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestP2P_InputDelayShiftsConfirmation(t *testing.T) {
	net := newMemNetwork()
	s1, s2 := twoSessions(t, net, func(b *Builder) {
		b.WithInputDelay(2)
	})
	synchronize(t, s1, s2)

	stub1 := newGameStub(2)
	stub2 := newGameStub(2)
	for i := 0; i < 20; i++ {
		if err := s1.AddLocalInput(0, inputBytes(int32(i))); err != nil {
			t.Fatalf("add input 1: %v", err)
		}
		r1, err := s1.AdvanceFrame()
		if err != nil {
			t.Fatalf("advance 1: %v", err)
		}
		stub1.handleRequests(t, r1)

		if err := s2.AddLocalInput(1, inputBytes(int32(i))); err != nil {
			t.Fatalf("add input 2: %v", err)
		}
		r2, err := s2.AdvanceFrame()
		if err != nil {
			t.Fatalf("advance 2: %v", err)
		}
		stub2.handleRequests(t, r2)
	}
	if s1.CurrentFrame() != 20 || s2.CurrentFrame() != 20 {
		t.Fatalf("sessions should reach frame 20: %d %d", s1.CurrentFrame(), s2.CurrentFrame())
	}
}
