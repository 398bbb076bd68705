// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package session

import (
	"log/slog"

	"github.com/wallstop/fortress-rollback-sub001/internal/frame"
	"github.com/wallstop/fortress-rollback-sub001/internal/gamesync"
	"github.com/wallstop/fortress-rollback-sub001/internal/protocol"
	"github.com/wallstop/fortress-rollback-sub001/internal/telemetry"
	"github.com/wallstop/fortress-rollback-sub001/internal/transport"
)

// SpectatorSession conecta a um host P2P e consome o stream de inputs
// confirmados de todos os jogadores, sem contribuir com inputs próprios.
type SpectatorSession struct {
	state      State
	numPlayers int
	inputSize  int

	bufferSize int
	// ring de inputs por frame: inputs[f % bufferSize] guarda um input por
	// jogador
	inputs [][]frame.PlayerInput

	hostConnectStatus []protocol.ConnectionStatus

	socket transport.Socket
	host   *protocol.Endpoint

	eventQueue []Event

	currentFrame  frame.Frame
	lastRecvFrame frame.Frame

	maxFramesBehind int
	catchupSpeed    int

	obs    telemetry.Observer
	logger *slog.Logger
}

func newSpectatorSession(b *Builder, hostAddr string, sock transport.Socket) (*SpectatorSession, error) {
	status := make([]protocol.ConnectionStatus, b.numPlayers)
	for i := range status {
		status[i] = protocol.NewConnectionStatus()
	}

	allHandles := make([]frame.PlayerHandle, b.numPlayers)
	for i := range allHandles {
		allHandles[i] = frame.PlayerHandle(i)
	}

	bufferSize := b.spectatorBuffer
	if bufferSize < 1 {
		bufferSize = 1
	}
	inputs := make([][]frame.PlayerInput, bufferSize)
	for i := range inputs {
		row := make([]frame.PlayerInput, b.numPlayers)
		for p := range row {
			row[p] = frame.BlankInput(frame.NullFrame, b.inputSize)
		}
		inputs[i] = row
	}

	host := protocol.NewEndpoint(protocol.EndpointOptions{
		PeerAddr:              hostAddr,
		Handles:               allHandles,
		NumPlayers:            b.numPlayers,
		LocalPlayers:          0,
		InputSize:             b.inputSize,
		MaxPrediction:         b.maxPrediction,
		DisconnectTimeout:     b.disconnectTimeout,
		DisconnectNotifyStart: b.disconnectNotifyStart,
		FPS:                   b.fps,
		DesyncDetection:       b.desync,
		SyncConfig:            b.syncCfg,
		ProtocolConfig:        b.protoCfg,
		TimeSyncWindow:        b.tsWindow,
		Observer:              b.obs,
		Logger:                b.logOrDefault(),
	})

	s := &SpectatorSession{
		state:             Synchronizing,
		numPlayers:        b.numPlayers,
		inputSize:         b.inputSize,
		bufferSize:        bufferSize,
		inputs:            inputs,
		hostConnectStatus: status,
		socket:            sock,
		host:              host,
		currentFrame:      frame.NullFrame,
		lastRecvFrame:     frame.NullFrame,
		maxFramesBehind:   b.maxFramesBehind,
		catchupSpeed:      b.catchupSpeed,
		obs:               b.obs,
		logger:            b.logOrDefault().With("component", "spectator_session"),
	}
	if err := host.Synchronize(); err != nil {
		return nil, err
	}
	return s, nil
}

// CurrentState retorna a fase da sessão.
func (s *SpectatorSession) CurrentState() State {
	return s.state
}

// CurrentFrame retorna o frame atual do espectador.
func (s *SpectatorSession) CurrentFrame() frame.Frame {
	return s.currentFrame
}

// NumPlayers retorna o número de jogadores da sessão espectada.
func (s *SpectatorSession) NumPlayers() int {
	return s.numPlayers
}

// FramesBehindHost retorna quantos frames o espectador está atrás do host.
func (s *SpectatorSession) FramesBehindHost() int {
	diff := int32(s.lastRecvFrame) - int32(s.currentFrame)
	if diff < 0 {
		telemetry.ReportFrame(s.obs, telemetry.SeverityWarning, telemetry.KindFrameSync, s.currentFrame,
			"current frame %d exceeds last received frame %d", s.currentFrame, s.lastRecvFrame)
		return 0
	}
	return int(diff)
}

// NetworkStats retorna as estatísticas da conexão com o host.
func (s *SpectatorSession) NetworkStats() (protocol.NetworkStats, error) {
	return s.host.NetworkStats()
}

// Events drena a fila de eventos acumulados.
func (s *SpectatorSession) Events() []Event {
	events := s.eventQueue
	s.eventQueue = nil
	return events
}

// AdvanceFrame consome o próximo frame do stream do host. Quando o
// espectador está mais de maxFramesBehind atrás, avança catchupSpeed
// frames de uma vez para alcançar.
func (s *SpectatorSession) AdvanceFrame() ([]Request, error) {
	s.PollRemoteClients()

	if s.state != Running {
		return nil, frame.ErrNotSynchronized
	}

	framesToAdvance := 1
	if s.FramesBehindHost() > s.maxFramesBehind {
		framesToAdvance = s.catchupSpeed
	}

	requests := make([]Request, 0, framesToAdvance)
	for i := 0; i < framesToAdvance; i++ {
		frameToGrab := s.currentFrame + 1
		inputs, err := s.inputsAtFrame(frameToGrab)
		if err != nil {
			return nil, err
		}
		requests = append(requests, Request{
			Type:   gamesync.RequestAdvanceFrame,
			Frame:  frameToGrab,
			Inputs: inputs,
		})
		s.currentFrame++
	}
	return requests, nil
}

// PollRemoteClients processa datagramas do host, roda o poller do
// endpoint e envia as mensagens pendentes.
func (s *SpectatorSession) PollRemoteClients() {
	for _, dg := range s.socket.ReceiveAllMessages() {
		if !s.host.IsHandlingMessage(dg.From) {
			continue
		}
		msg, err := protocol.Decode(dg.Payload)
		if err != nil {
			telemetry.Report(s.obs, telemetry.SeverityWarning, telemetry.KindNetworkProtocol,
				"dropping malformed datagram from host: %v", err)
			continue
		}
		s.host.HandleMessage(msg)
	}

	addr := s.host.PeerAddr()
	for _, ev := range s.host.Poll(s.hostConnectStatus) {
		s.handleEvent(ev, addr)
	}

	// o status dos jogadores vem de carona nas mensagens Input do host
	for h := 0; h < s.numPlayers; h++ {
		s.hostConnectStatus[h] = s.host.PeerConnectStatus(frame.PlayerHandle(h))
	}

	if s.state == Synchronizing && s.host.IsSynchronized() {
		s.state = Running
	}

	s.host.SendAllMessages(s.socket)
}

func (s *SpectatorSession) inputsAtFrame(frameToGrab frame.Frame) ([]gamesync.SynchronizedInput, error) {
	if frameToGrab.IsNull() || frameToGrab < 0 {
		return nil, &frame.InvalidFrameError{Frame: frameToGrab, Reason: frame.ReasonNullFrame}
	}
	row := s.inputs[int(frameToGrab)%s.bufferSize]

	// o input do host ainda não chegou: espera
	if row[0].Frame < frameToGrab {
		return nil, frame.ErrPredictionThreshold
	}
	// o host passou bufferSize frames à frente; o input se foi para sempre
	if row[0].Frame > frameToGrab {
		return nil, frame.ErrSpectatorTooFarBehind
	}

	out := make([]gamesync.SynchronizedInput, 0, s.numPlayers)
	for h, inp := range row {
		status := frame.InputConfirmed
		if s.hostConnectStatus[h].Disconnected && s.hostConnectStatus[h].LastFrame < frameToGrab {
			status = frame.InputDisconnected
		}
		bytes := make([]byte, len(inp.Bytes))
		copy(bytes, inp.Bytes)
		out = append(out, gamesync.SynchronizedInput{Bytes: bytes, Status: status})
	}
	return out, nil
}

func (s *SpectatorSession) handleEvent(ev protocol.Event, addr string) {
	switch ev.Type {
	case protocol.EventInput:
		if ev.Input.Frame.IsNull() {
			return
		}
		row := s.inputs[int(ev.Input.Frame)%s.bufferSize]
		if int(ev.Player) < len(row) {
			row[ev.Player] = ev.Input.Clone()
		}
		s.lastRecvFrame = frame.Max(s.lastRecvFrame, ev.Input.Frame)
	case protocol.EventSynchronizing:
		s.pushEvent(Event{Type: EventSynchronizing, Addr: addr, Total: ev.Total, Count: ev.Count, Elapsed: ev.Elapsed})
	case protocol.EventSynchronized:
		s.pushEvent(Event{Type: EventSynchronized, Addr: addr})
	case protocol.EventDisconnected:
		s.host.Disconnect()
		s.pushEvent(Event{Type: EventDisconnected, Addr: addr})
	case protocol.EventNetworkInterrupted:
		s.pushEvent(Event{Type: EventNetworkInterrupted, Addr: addr, DisconnectTimeout: ev.DisconnectTimeout})
	case protocol.EventNetworkResumed:
		s.pushEvent(Event{Type: EventNetworkResumed, Addr: addr})
	case protocol.EventSyncTimeout:
		s.pushEvent(Event{Type: EventSyncTimeout, Addr: addr, Elapsed: ev.SyncElapsed})
	}
}

func (s *SpectatorSession) pushEvent(ev Event) {
	if len(s.eventQueue) >= MaxEventQueueSize {
		s.eventQueue = s.eventQueue[1:]
	}
	s.eventQueue = append(s.eventQueue, ev)
}
