// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package session

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/wallstop/fortress-rollback-sub001/internal/checksum"
	"github.com/wallstop/fortress-rollback-sub001/internal/frame"
	"github.com/wallstop/fortress-rollback-sub001/internal/gamesync"
	"github.com/wallstop/fortress-rollback-sub001/internal/protocol"
	"github.com/wallstop/fortress-rollback-sub001/internal/telemetry"
	"github.com/wallstop/fortress-rollback-sub001/internal/transport"
)

// Request é a ordem que a sessão devolve ao host; ver gamesync.Request.
type Request = gamesync.Request

// P2PSession liga uma sync layer a N protocolos de peer. Toda a operação
// acontece na thread do game loop do host: AdvanceFrame e
// PollRemoteClients rodam até o fim antes de o host retomar.
type P2PSession struct {
	numPlayers    int
	inputSize     int
	maxPrediction int
	fps           int
	saveMode      gamesync.SaveMode
	desync        protocol.DesyncDetection

	state State
	sync  *gamesync.Layer

	socket     transport.Socket
	endpoints  map[string]*protocol.Endpoint
	spectators map[string]*protocol.Endpoint
	registry   *PlayerRegistry

	localPlayers []frame.PlayerHandle
	stagedInputs map[frame.PlayerHandle][]byte

	localConnectStatus []protocol.ConnectionStatus

	nextSpectatorFrame frame.Frame

	eventQueue []Event

	// histórico local de checksums para a detecção de desync
	maxChecksumHistory    int
	localChecksums        map[frame.Frame]checksum.Sum
	lastSentChecksumFrame frame.Frame
	lastComparedFrame     frame.Frame
	lastLocalChecksum     checksum.Sum
	lastRemoteChecksum    checksum.Sum
	lastChecksumsMatch    *bool

	obs    telemetry.Observer
	logger *slog.Logger
}

func newP2PSession(b *Builder, sock transport.Socket) (*P2PSession, error) {
	logger := b.logOrDefault().With("component", "p2p_session")

	status := make([]protocol.ConnectionStatus, b.numPlayers)
	for i := range status {
		status[i] = protocol.NewConnectionStatus()
	}

	s := &P2PSession{
		numPlayers:    b.numPlayers,
		inputSize:     b.inputSize,
		maxPrediction: b.maxPrediction,
		fps:           b.fps,
		saveMode:      b.saveMode,
		desync:        b.desync,

		state: Synchronizing,
		sync:  gamesync.NewLayer(b.numPlayers, b.maxPrediction, b.inputSize, b.obs),

		socket:     sock,
		endpoints:  make(map[string]*protocol.Endpoint),
		spectators: make(map[string]*protocol.Endpoint),
		registry:   b.registry,

		localPlayers: b.registry.LocalHandles(),
		stagedInputs: make(map[frame.PlayerHandle][]byte),

		localConnectStatus: status,

		nextSpectatorFrame: 0,

		maxChecksumHistory:    b.protoCfg.MaxChecksumHistory,
		localChecksums:        make(map[frame.Frame]checksum.Sum),
		lastSentChecksumFrame: frame.NullFrame,
		lastComparedFrame:     frame.NullFrame,

		obs:    b.obs,
		logger: logger,
	}

	// input delay só nos jogadores locais, como no contrato da API
	for _, h := range s.localPlayers {
		if err := s.sync.SetFrameDelay(h, b.inputDelay); err != nil {
			return nil, err
		}
	}

	localCount := len(s.localPlayers)

	// um endpoint por endereço remoto, agrupando os handles daquele peer
	addrs := make(map[string][]frame.PlayerHandle)
	for _, h := range b.registry.RemoteHandles() {
		p, _ := b.registry.Get(h)
		addrs[p.Addr] = append(addrs[p.Addr], h)
	}
	for addr, handles := range addrs {
		sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
		s.endpoints[addr] = protocol.NewEndpoint(protocol.EndpointOptions{
			PeerAddr:              addr,
			Handles:               handles,
			NumPlayers:            b.numPlayers,
			LocalPlayers:          localCount,
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
	}

	// espectadores recebem os inputs de todos os jogadores
	allHandles := make([]frame.PlayerHandle, b.numPlayers)
	for i := range allHandles {
		allHandles[i] = frame.PlayerHandle(i)
	}
	for _, h := range b.registry.SpectatorHandles() {
		p, _ := b.registry.Get(h)
		if _, dup := s.spectators[p.Addr]; dup {
			return nil, &frame.InvalidRequestError{Info: "duplicate spectator address " + p.Addr}
		}
		s.spectators[p.Addr] = protocol.NewEndpoint(protocol.EndpointOptions{
			PeerAddr:              p.Addr,
			Handles:               allHandles,
			NumPlayers:            b.numPlayers,
			LocalPlayers:          b.numPlayers,
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
	}

	for _, ep := range s.endpoints {
		if err := ep.Synchronize(); err != nil {
			return nil, err
		}
	}
	for _, ep := range s.spectators {
		if err := ep.Synchronize(); err != nil {
			return nil, err
		}
	}

	// sem peers remotos a sessão já está pronta
	s.checkInitialSync()

	return s, nil
}

// CurrentState retorna a fase da sessão.
func (s *P2PSession) CurrentState() State {
	return s.state
}

// CurrentFrame retorna o frame atual da simulação.
func (s *P2PSession) CurrentFrame() frame.Frame {
	return s.sync.CurrentFrame()
}

// NumPlayers retorna o número de jogadores da sessão.
func (s *P2PSession) NumPlayers() int {
	return s.numPlayers
}

// LocalHandles retorna os handles locais.
func (s *P2PSession) LocalHandles() []frame.PlayerHandle {
	return s.localPlayers
}

// Events drena a fila de eventos acumulados desde a última chamada.
func (s *P2PSession) Events() []Event {
	events := s.eventQueue
	s.eventQueue = nil
	return events
}

// AddLocalInput registra o input de um jogador local para o frame atual.
// Deve ser chamado para todos os jogadores locais antes de AdvanceFrame.
func (s *P2PSession) AddLocalInput(handle frame.PlayerHandle, inputBytes []byte) error {
	if s.state != Running {
		return frame.ErrNotSynchronized
	}
	p, ok := s.registry.Get(handle)
	if !ok || p.Type != PlayerLocal {
		return &frame.InvalidPlayerHandleError{
			Handle:    handle,
			MaxHandle: frame.PlayerHandle(s.numPlayers - 1),
		}
	}
	if len(inputBytes) != s.inputSize {
		return &frame.InvalidRequestError{
			Info: fmt.Sprintf("input of %d bytes, session input size is %d", len(inputBytes), s.inputSize),
		}
	}
	staged := make([]byte, s.inputSize)
	copy(staged, inputBytes)
	s.stagedInputs[handle] = staged
	return nil
}

// AdvanceFrame processa a rede, dirige o rollback quando necessário e
// devolve a lista ordenada de requests para o host aplicar.
func (s *P2PSession) AdvanceFrame() ([]Request, error) {
	if s.state != Running {
		return nil, frame.ErrNotSynchronized
	}

	s.PollRemoteClients()

	// todos os jogadores locais precisam ter input staged
	for _, h := range s.localPlayers {
		if _, ok := s.stagedInputs[h]; !ok {
			return nil, &frame.MissingInputError{Player: h, Frame: s.sync.CurrentFrame()}
		}
	}

	// troca de checksums para detecção de desync. Roda antes de subir o
	// frame confirmado: o estado de um frame confirmado no tick passado já
	// foi corrigido e re-salvo pelo host; um frame confirmado agora ainda
	// pode ter um rollback pendente neste mesmo tick e seria comparado
	// com o estado predito errado.
	if s.desync.Enabled {
		s.sendLocalChecksum()
		s.compareChecksums()
	}

	minConfirmed := s.minConfirmedFrame()

	// espectadores recebem o stream de inputs confirmados antes do descarte
	s.sendConfirmedInputsToSpectators(minConfirmed)

	s.sync.SetLastConfirmedFrame(minConfirmed, s.saveMode)

	// guarda de predição: avaliada antes do rollback porque rollback +
	// replay não alteram current nem last_confirmed, e falhar depois de
	// mutar a sync layer deixaria o host sem os requests de replay
	lastConfirmed := int32(s.sync.LastConfirmedFrame())
	if s.sync.LastConfirmedFrame().IsNull() {
		lastConfirmed = -1
	}
	if int32(s.sync.CurrentFrame())-lastConfirmed > int32(s.maxPrediction) {
		for h := range s.stagedInputs {
			delete(s.stagedInputs, h)
		}
		return nil, frame.ErrPredictionThreshold
	}

	var requests []Request

	// rollback quando alguma predição se mostrou errada
	firstIncorrect := s.sync.CheckSimulationConsistency(frame.NullFrame)
	if !firstIncorrect.IsNull() {
		if firstIncorrect < s.sync.CurrentFrame() {
			if err := s.adjustGamestate(firstIncorrect, &requests); err != nil {
				return nil, err
			}
		} else {
			// mispredição detectada no próprio frame atual: só limpa as
			// predições, não há o que re-simular
			s.sync.ResetPrediction()
		}
	}

	// adiciona os inputs locais e os despacha para todos os peers
	currentFrame := s.sync.CurrentFrame()
	outgoing := make([]frame.PlayerInput, 0, len(s.localPlayers))
	for _, h := range s.localPlayers {
		staged := s.stagedInputs[h]
		actual := s.sync.AddLocalInput(h, frame.PlayerInput{Frame: currentFrame, Bytes: staged})
		if actual.IsNull() {
			delete(s.stagedInputs, h)
			return nil, &frame.InvalidRequestError{
				Info: fmt.Sprintf("local input for player %d was rejected as non-sequential", h),
			}
		}
		s.localConnectStatus[h].LastFrame = actual
		outgoing = append(outgoing, frame.PlayerInput{Frame: actual, Bytes: staged})
	}
	for h := range s.stagedInputs {
		delete(s.stagedInputs, h)
	}
	for _, ep := range s.endpoints {
		ep.SendInput(outgoing, s.localConnectStatus)
	}

	// salva o frame atual e avança a simulação
	requests = append(requests, s.sync.SaveCurrentState())
	inputs, err := s.sync.SynchronizedInputs(s.localConnectStatus)
	if err != nil {
		return nil, err
	}
	s.sync.AdvanceFrame()
	requests = append(requests, Request{
		Type:   gamesync.RequestAdvanceFrame,
		Frame:  currentFrame,
		Inputs: inputs,
	})

	return requests, nil
}

// adjustGamestate carrega o estado do primeiro frame mal predito e
// re-simula até o frame pré-rollback: Load, depois AdvanceFrame com
// SaveState intercalado (o primeiro frame re-simulado parte do estado
// recém-carregado e não precisa de um novo save).
func (s *P2PSession) adjustGamestate(firstIncorrect frame.Frame, requests *[]Request) error {
	currentFrame := s.sync.CurrentFrame()

	// em sparse saving o frame da mispredição pode nunca ter sido salvo;
	// o rollback volta ao último frame salvo, que é <= first incorrect
	target := firstIncorrect
	if s.saveMode == gamesync.SaveSparse {
		target = s.sync.LastSavedFrame()
		if target.IsNull() || target >= currentFrame {
			s.sync.ResetPrediction()
			return nil
		}
	}
	count := int(currentFrame - target)

	loadReq, err := s.sync.LoadFrame(target)
	if err != nil {
		return err
	}
	*requests = append(*requests, loadReq)

	s.sync.ResetPrediction()

	for i := 0; i < count; i++ {
		if i > 0 {
			*requests = append(*requests, s.sync.SaveCurrentState())
		}
		inputs, err := s.sync.SynchronizedInputs(s.localConnectStatus)
		if err != nil {
			return err
		}
		replayFrame := s.sync.CurrentFrame()
		s.sync.AdvanceFrame()
		*requests = append(*requests, Request{
			Type:   gamesync.RequestAdvanceFrame,
			Frame:  replayFrame,
			Inputs: inputs,
		})
	}

	if s.sync.CurrentFrame() != currentFrame {
		telemetry.ReportFrame(s.obs, telemetry.SeverityCritical, telemetry.KindFrameSync, s.sync.CurrentFrame(),
			"rollback replay ended at frame %d, expected %d", s.sync.CurrentFrame(), currentFrame)
		return &frame.InternalError{Info: "rollback replay frame mismatch"}
	}
	return nil
}

// PollRemoteClients lê os datagramas pendentes, despacha para os
// endpoints donos, roda os pollers e drena os eventos de cada peer.
// Usado sem AdvanceFrame durante a fase de sincronização.
func (s *P2PSession) PollRemoteClients() {
	for _, dg := range s.socket.ReceiveAllMessages() {
		msg, err := protocol.Decode(dg.Payload)
		if err != nil {
			telemetry.Report(s.obs, telemetry.SeverityWarning, telemetry.KindNetworkProtocol,
				"dropping malformed datagram from %s: %v", dg.From, err)
			continue
		}
		if ep, ok := s.endpoints[dg.From]; ok {
			ep.HandleMessage(msg)
		} else if ep, ok := s.spectators[dg.From]; ok {
			ep.HandleMessage(msg)
		}
	}

	for addr, ep := range s.endpoints {
		for _, ev := range ep.Poll(s.localConnectStatus) {
			s.handlePeerEvent(ev, addr, ep)
		}
		ep.UpdateLocalFrameAdvantage(s.sync.CurrentFrame())
	}
	for addr, ep := range s.spectators {
		for _, ev := range ep.Poll(s.localConnectStatus) {
			s.handleSpectatorEvent(ev, addr)
		}
	}

	if s.state == Synchronizing {
		s.checkInitialSync()
	}

	for _, ep := range s.endpoints {
		ep.SendAllMessages(s.socket)
	}
	for _, ep := range s.spectators {
		ep.SendAllMessages(s.socket)
	}
}

// DisconnectPlayer desconecta um jogador remoto: marca na tabela de
// status e instrui o protocolo dono a transicionar para Disconnected.
// Desconectar jogador local é rejeitado.
func (s *P2PSession) DisconnectPlayer(handle frame.PlayerHandle) error {
	p, ok := s.registry.Get(handle)
	if !ok {
		return &frame.InvalidPlayerHandleError{
			Handle:    handle,
			MaxHandle: frame.PlayerHandle(s.numPlayers - 1),
		}
	}
	switch p.Type {
	case PlayerLocal:
		return &frame.InvalidRequestError{Info: "cannot disconnect a local player"}
	case PlayerSpectator:
		if ep, ok := s.spectators[p.Addr]; ok {
			ep.Disconnect()
		}
		return nil
	}

	ep, ok := s.endpoints[p.Addr]
	if !ok {
		return &frame.InternalError{Info: "no endpoint for remote player address " + p.Addr}
	}
	if int(handle) < len(s.localConnectStatus) && s.localConnectStatus[handle].Disconnected {
		return &frame.InvalidRequestError{Info: "player already disconnected"}
	}
	ep.Disconnect()
	for _, h := range ep.Handles() {
		s.disconnectPlayerAtFrame(h, s.localConnectStatus[h].LastFrame, p.Addr)
	}
	return nil
}

// NetworkStats retorna as estatísticas do peer dono do handle, com os
// campos de comparação de checksum preenchidos pela sessão.
func (s *P2PSession) NetworkStats(handle frame.PlayerHandle) (protocol.NetworkStats, error) {
	p, ok := s.registry.Get(handle)
	if !ok {
		return protocol.NetworkStats{}, &frame.InvalidPlayerHandleError{
			Handle:    handle,
			MaxHandle: frame.PlayerHandle(s.numPlayers - 1),
		}
	}
	if p.Type == PlayerLocal {
		return protocol.NetworkStats{}, &frame.InvalidRequestError{
			Info: "network stats are only available for remote players and spectators",
		}
	}
	ep, ok := s.endpoints[p.Addr]
	if !ok {
		ep, ok = s.spectators[p.Addr]
	}
	if !ok {
		return protocol.NetworkStats{}, &frame.InternalError{Info: "no endpoint for address " + p.Addr}
	}
	stats, err := ep.NetworkStats()
	if err != nil {
		return protocol.NetworkStats{}, err
	}
	if !s.lastComparedFrame.IsNull() {
		stats.LastComparedFrame = s.lastComparedFrame
		stats.LocalChecksum = s.lastLocalChecksum
		stats.RemoteChecksum = s.lastRemoteChecksum
		stats.ChecksumsMatch = s.lastChecksumsMatch
	}
	return stats, nil
}

// SendChecksumReport publica manualmente um checksum para todos os peers.
// Uso avançado: hosts que calculam checksums fora do ciclo de SaveState.
func (s *P2PSession) SendChecksumReport(f frame.Frame, sum checksum.Sum) {
	s.localChecksums[f] = sum
	s.pruneLocalChecksums()
	for _, ep := range s.endpoints {
		ep.SendChecksumReport(f, sum)
	}
}

func (s *P2PSession) checkInitialSync() {
	for _, ep := range s.endpoints {
		if !ep.IsSynchronized() {
			return
		}
	}
	for _, ep := range s.spectators {
		if !ep.IsSynchronized() {
			return
		}
	}
	s.state = Running
}

// minConfirmedFrame propaga desconexões reportadas pelos peers e devolve o
// menor frame confirmado entre os jogadores conectados.
func (s *P2PSession) minConfirmedFrame() frame.Frame {
	minFrame := frame.Frame(math.MaxInt32)
	anyConnected := false

	for h := 0; h < s.numPlayers; h++ {
		handle := frame.PlayerHandle(h)

		// desconexões vistas por outros peers são pegajosas e se propagam
		if !s.localConnectStatus[h].Disconnected {
			for addr, ep := range s.endpoints {
				st := ep.PeerConnectStatus(handle)
				if st.Disconnected {
					s.disconnectPlayerAtFrame(handle, st.LastFrame, addr)
					break
				}
			}
		}

		if s.localConnectStatus[h].Disconnected {
			continue
		}
		anyConnected = true
		minFrame = frame.Min(minFrame, s.localConnectStatus[h].LastFrame)
	}

	if !anyConnected {
		return frame.NullFrame
	}
	return minFrame
}

func (s *P2PSession) disconnectPlayerAtFrame(handle frame.PlayerHandle, lastFrame frame.Frame, addr string) {
	if int(handle) >= len(s.localConnectStatus) || s.localConnectStatus[handle].Disconnected {
		return
	}
	s.localConnectStatus[handle].Disconnected = true
	s.localConnectStatus[handle].LastFrame = lastFrame
	s.logger.Info("player disconnected", "player", int(handle), "last_frame", int32(lastFrame), "addr", addr)
	s.pushEvent(Event{Type: EventDisconnected, Addr: addr, Player: handle})
}

func (s *P2PSession) handlePeerEvent(ev protocol.Event, addr string, ep *protocol.Endpoint) {
	switch ev.Type {
	case protocol.EventInput:
		handle := ev.Player
		if int(handle) < len(s.localConnectStatus) && !s.localConnectStatus[handle].Disconnected {
			s.sync.AddRemoteInput(handle, ev.Input)
			s.localConnectStatus[handle].LastFrame = frame.Max(
				s.localConnectStatus[handle].LastFrame, ev.Input.Frame)
		}
	case protocol.EventSynchronizing:
		s.pushEvent(Event{
			Type:    EventSynchronizing,
			Addr:    addr,
			Total:   ev.Total,
			Count:   ev.Count,
			Elapsed: ev.Elapsed,
		})
	case protocol.EventSynchronized:
		s.pushEvent(Event{Type: EventSynchronized, Addr: addr})
	case protocol.EventNetworkInterrupted:
		s.pushEvent(Event{
			Type:              EventNetworkInterrupted,
			Addr:              addr,
			DisconnectTimeout: ev.DisconnectTimeout,
		})
	case protocol.EventNetworkResumed:
		s.pushEvent(Event{Type: EventNetworkResumed, Addr: addr})
	case protocol.EventSyncTimeout:
		s.pushEvent(Event{Type: EventSyncTimeout, Addr: addr, Elapsed: ev.SyncElapsed})
	case protocol.EventDisconnected:
		ep.Disconnect()
		for _, h := range ep.Handles() {
			s.disconnectPlayerAtFrame(h, s.localConnectStatus[h].LastFrame, addr)
		}
	}
}

func (s *P2PSession) handleSpectatorEvent(ev protocol.Event, addr string) {
	switch ev.Type {
	case protocol.EventSynchronizing:
		s.pushEvent(Event{Type: EventSynchronizing, Addr: addr, Total: ev.Total, Count: ev.Count, Elapsed: ev.Elapsed})
	case protocol.EventSynchronized:
		s.pushEvent(Event{Type: EventSynchronized, Addr: addr})
	case protocol.EventDisconnected:
		if ep, ok := s.spectators[addr]; ok {
			ep.Disconnect()
		}
		s.pushEvent(Event{Type: EventDisconnected, Addr: addr})
	case protocol.EventNetworkInterrupted:
		s.pushEvent(Event{Type: EventNetworkInterrupted, Addr: addr, DisconnectTimeout: ev.DisconnectTimeout})
	case protocol.EventNetworkResumed:
		s.pushEvent(Event{Type: EventNetworkResumed, Addr: addr})
	case protocol.EventSyncTimeout:
		s.pushEvent(Event{Type: EventSyncTimeout, Addr: addr, Elapsed: ev.SyncElapsed})
	}
}

// sendConfirmedInputsToSpectators empurra cada frame confirmado uma única
// vez para todos os espectadores.
func (s *P2PSession) sendConfirmedInputsToSpectators(minConfirmed frame.Frame) {
	if len(s.spectators) == 0 || minConfirmed.IsNull() {
		return
	}
	for s.nextSpectatorFrame <= minConfirmed {
		inputs, err := s.sync.ConfirmedInputs(s.nextSpectatorFrame, s.localConnectStatus)
		if err != nil {
			telemetry.ReportFrame(s.obs, telemetry.SeverityError, telemetry.KindInputQueue, s.nextSpectatorFrame,
				"failed to gather confirmed inputs for spectators: %v", err)
			return
		}
		for i := range inputs {
			// inputs de desconectados vêm com frame NULL; o registro do
			// espectador precisa do frame real
			inputs[i].Frame = s.nextSpectatorFrame
		}
		for _, ep := range s.spectators {
			ep.SendInput(inputs, s.localConnectStatus)
		}
		s.nextSpectatorFrame++
	}
}

// sendLocalChecksum envia o checksum do último frame confirmado múltiplo
// do intervalo, uma única vez por frame de report.
func (s *P2PSession) sendLocalChecksum() {
	lastConfirmed := s.sync.LastConfirmedFrame()
	if lastConfirmed.IsNull() || lastConfirmed < 0 {
		return
	}
	interval := frame.Frame(s.desync.Interval)
	candidate := lastConfirmed - (lastConfirmed % interval)
	if candidate <= s.lastSentChecksumFrame || candidate < 0 {
		return
	}
	cell := s.sync.SavedStateByFrame(candidate)
	if cell == nil {
		return
	}
	sum, ok := cell.Checksum()
	if !ok {
		return
	}
	s.localChecksums[candidate] = sum
	s.pruneLocalChecksums()
	s.lastSentChecksumFrame = candidate
	for _, ep := range s.endpoints {
		ep.SendChecksumReport(candidate, sum)
	}
}

// compareChecksums confronta os reports recebidos com o histórico local e
// emite DesyncDetected em divergência. Detecção é consultiva: a sessão
// não tenta se recuperar.
func (s *P2PSession) compareChecksums() {
	for f, localSum := range s.localChecksums {
		for addr, ep := range s.endpoints {
			remoteSum, ok := ep.PopPendingChecksum(f)
			if !ok {
				continue
			}
			match := remoteSum == localSum
			s.lastComparedFrame = f
			s.lastLocalChecksum = localSum
			s.lastRemoteChecksum = remoteSum
			s.lastChecksumsMatch = &match
			if !match {
				telemetry.ReportFrame(s.obs, telemetry.SeverityError, telemetry.KindChecksumMismatch, f,
					"desync detected at frame %d: local %s, remote %s", f, localSum, remoteSum)
				s.pushEvent(Event{
					Type:           EventDesyncDetected,
					Addr:           addr,
					Frame:          f,
					LocalChecksum:  localSum,
					RemoteChecksum: remoteSum,
				})
			}
		}
	}
}

func (s *P2PSession) pruneLocalChecksums() {
	// mantém o histórico limitado descartando os frames mais antigos
	for len(s.localChecksums) > s.maxChecksumHistory {
		oldest := frame.Frame(math.MaxInt32)
		for f := range s.localChecksums {
			if f < oldest {
				oldest = f
			}
		}
		delete(s.localChecksums, oldest)
	}
}

func (s *P2PSession) pushEvent(ev Event) {
	if len(s.eventQueue) >= MaxEventQueueSize {
		s.eventQueue = s.eventQueue[1:]
	}
	s.eventQueue = append(s.eventQueue, ev)
}
