// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/wallstop/fortress-rollback-sub001/internal/checksum"
	"github.com/wallstop/fortress-rollback-sub001/internal/frame"
	"github.com/wallstop/fortress-rollback-sub001/internal/telemetry"
	"github.com/wallstop/fortress-rollback-sub001/internal/transport"
)

// udpHeaderSize é o overhead de headers IP+UDP por pacote, usado na
// estimativa de banda.
const udpHeaderSize = 28

// PreferredMaxDatagram é o tamanho de datagrama que evita fragmentação IP
// na prática; acima disso o endpoint emite uma violação Warning.
const PreferredMaxDatagram = 508

// State é o estado da máquina do endpoint. Só há transições para frente;
// Shutdown é terminal.
//
//	Initializing ──► Synchronizing ──► Running ──► Disconnected ──► Shutdown
type State int

const (
	// StateInitializing: criado, aguardando Synchronize().
	StateInitializing State = iota
	// StateSynchronizing: trocando SyncRequest/SyncReply com o peer.
	StateSynchronizing
	// StateRunning: operação normal, trocando inputs.
	StateRunning
	// StateDisconnected: conexão perdida; aguardando shutdown_delay.
	StateDisconnected
	// StateShutdown: terminal; mensagens pendentes são descartadas.
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateSynchronizing:
		return "synchronizing"
	case StateRunning:
		return "running"
	case StateDisconnected:
		return "disconnected"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// EndpointOptions parametriza a construção de um Endpoint.
type EndpointOptions struct {
	PeerAddr string
	// Handles são os handles de jogadores recebidos deste peer, em ordem.
	Handles       []frame.PlayerHandle
	NumPlayers    int
	LocalPlayers  int
	InputSize     int
	MaxPrediction int

	DisconnectTimeout     time.Duration
	DisconnectNotifyStart time.Duration
	FPS                   int

	DesyncDetection DesyncDetection
	SyncConfig      SyncConfig
	ProtocolConfig  ProtocolConfig
	TimeSyncWindow  int

	Observer telemetry.Observer
	Logger   *slog.Logger
}

// Endpoint é a máquina de estados de protocolo de um único peer.
// Não é seguro para uso concorrente: toda interação acontece na thread do
// game loop da sessão.
type Endpoint struct {
	numPlayers   int
	localPlayers int
	inputSize    int
	handles      []frame.PlayerHandle

	sendQueue  []Message
	eventQueue []Event

	// estado
	state                   State
	syncRemainingRoundtrips uint32
	syncRandomRequests      map[uint32]struct{}
	syncRequestsSent        uint32
	syncRetryWarningSent    bool
	syncDurationWarningSent bool
	syncTimeoutEventSent    bool
	runningLastQualityReport time.Time
	runningLastInputRecv     time.Time
	disconnectNotifySent     bool
	disconnectEventSent      bool

	// constantes
	disconnectTimeout     time.Duration
	disconnectNotifyStart time.Duration
	shutdownDeadline      time.Time
	fps                   int
	magic                 uint16

	syncConfig     SyncConfig
	protocolConfig ProtocolConfig

	// o outro cliente
	peerAddr          string
	remoteMagic       uint16
	peerConnectStatus []ConnectionStatus

	// compressão de input
	pendingOutput  []inputRecord
	lastAckedInput inputRecord
	maxPrediction  int
	recvInputs     map[frame.Frame]inputRecord
	lastRecv       frame.Frame

	// time sync
	timeSync             *TimeSync
	localFrameAdvantage  int32
	remoteFrameAdvantage int32

	// rede
	statsStart   time.Time
	packetsSent  int
	bytesSent    int
	roundTripMs  uint64
	lastSendTime time.Time
	lastRecvTime time.Time

	// desync
	pendingChecksums map[frame.Frame]checksum.Sum
	desyncDetection  DesyncDetection

	rng    *rand.Rand
	obs    telemetry.Observer
	logger *slog.Logger
}

// NewEndpoint cria o endpoint no estado Initializing.
func NewEndpoint(opts EndpointOptions) *Endpoint {
	var rng *rand.Rand
	if opts.ProtocolConfig.RNGSeed != nil {
		rng = rand.New(rand.NewSource(*opts.ProtocolConfig.RNGSeed))
	} else {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	// magic nunca é zero: zero significa "ainda não autenticado"
	magic := uint16(rng.Uint32())
	for magic == 0 {
		magic = uint16(rng.Uint32())
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := time.Now()
	window := opts.TimeSyncWindow
	if window <= 0 {
		window = DefaultTimeSyncWindow
	}

	status := make([]ConnectionStatus, opts.NumPlayers)
	for i := range status {
		status[i] = NewConnectionStatus()
	}

	recvInputs := make(map[frame.Frame]inputRecord)
	recvInputs[frame.NullFrame] = zeroedRecord(opts.InputSize, len(opts.Handles))

	return &Endpoint{
		numPlayers:   opts.NumPlayers,
		localPlayers: opts.LocalPlayers,
		inputSize:    opts.InputSize,
		handles:      append([]frame.PlayerHandle(nil), opts.Handles...),

		state:                    StateInitializing,
		syncRemainingRoundtrips:  opts.SyncConfig.NumSyncPackets,
		syncRandomRequests:       make(map[uint32]struct{}),
		runningLastQualityReport: now,
		runningLastInputRecv:     now,

		disconnectTimeout:     opts.DisconnectTimeout,
		disconnectNotifyStart: opts.DisconnectNotifyStart,
		fps:                   opts.FPS,
		magic:                 magic,

		syncConfig:     opts.SyncConfig,
		protocolConfig: opts.ProtocolConfig,

		peerAddr:          opts.PeerAddr,
		peerConnectStatus: status,

		lastAckedInput: zeroedRecord(opts.InputSize, opts.LocalPlayers),
		maxPrediction:  opts.MaxPrediction,
		recvInputs:     recvInputs,
		lastRecv:       frame.NullFrame,

		timeSync: NewTimeSync(window, opts.Observer),

		statsStart:   now,
		lastSendTime: now,
		lastRecvTime: now,

		pendingChecksums: make(map[frame.Frame]checksum.Sum),
		desyncDetection:  opts.DesyncDetection,

		rng:    rng,
		obs:    opts.Observer,
		logger: logger.With("component", "endpoint", "peer", opts.PeerAddr),
	}
}

// State retorna o estado atual da máquina.
func (e *Endpoint) State() State {
	return e.state
}

// PeerAddr retorna o endereço do peer.
func (e *Endpoint) PeerAddr() string {
	return e.peerAddr
}

// Handles retorna os handles de jogadores recebidos deste peer.
func (e *Endpoint) Handles() []frame.PlayerHandle {
	return e.handles
}

// Magic retorna o magic local (para testes e diagnóstico).
func (e *Endpoint) Magic() uint16 {
	return e.magic
}

// IsRunning informa se o endpoint está no estado Running.
func (e *Endpoint) IsRunning() bool {
	return e.state == StateRunning
}

// IsSynchronized informa se a sincronização já foi concluída (Running,
// Disconnected ou Shutdown).
func (e *Endpoint) IsSynchronized() bool {
	return e.state == StateRunning || e.state == StateDisconnected || e.state == StateShutdown
}

// IsHandlingMessage informa se datagramas deste endereço pertencem a este
// endpoint.
func (e *Endpoint) IsHandlingMessage(addr string) bool {
	return e.peerAddr == addr
}

// PeerConnectStatus retorna o status de conexão conhecido para o handle.
func (e *Endpoint) PeerConnectStatus(handle frame.PlayerHandle) ConnectionStatus {
	if int(handle) < 0 || int(handle) >= len(e.peerConnectStatus) {
		return NewConnectionStatus()
	}
	return e.peerConnectStatus[handle]
}

// Disconnect move o endpoint para Disconnected e agenda o shutdown após a
// carência configurada, garantindo a entrega de acks finais.
func (e *Endpoint) Disconnect() {
	if e.state == StateShutdown {
		return
	}
	e.state = StateDisconnected
	e.shutdownDeadline = time.Now().Add(e.protocolConfig.ShutdownDelay)
}

// Synchronize transiciona de Initializing para Synchronizing e envia o
// primeiro SyncRequest.
func (e *Endpoint) Synchronize() error {
	if e.state != StateInitializing {
		return &frame.InvalidRequestError{
			Info: "synchronize called in state " + e.state.String() + ", expected initializing",
		}
	}
	e.state = StateSynchronizing
	e.syncRemainingRoundtrips = e.syncConfig.NumSyncPackets
	e.statsStart = time.Now()
	e.sendSyncRequest()
	return nil
}

// AverageFrameAdvantage delega para o estimador de time sync.
func (e *Endpoint) AverageFrameAdvantage() int32 {
	return e.timeSync.AverageFrameAdvantage()
}

// UpdateLocalFrameAdvantage estima em qual frame o peer está (último frame
// recebido mais metade do RTT em frames) e registra o advantage local.
func (e *Endpoint) UpdateLocalFrameAdvantage(localFrame frame.Frame) {
	if localFrame.IsNull() || e.lastRecvFrame().IsNull() {
		return
	}
	ping := int32(0)
	if e.roundTripMs/2 <= math.MaxInt32 {
		ping = int32(e.roundTripMs / 2)
	} else {
		ping = math.MaxInt32
	}
	remoteFrame := e.lastRecvFrame() + frame.Frame((ping*int32(e.fps))/1000)
	e.localFrameAdvantage = int32(remoteFrame) - int32(localFrame)
}

// NetworkStats retorna as estatísticas de rede do endpoint.
func (e *Endpoint) NetworkStats() (NetworkStats, error) {
	if e.state != StateSynchronizing && e.state != StateRunning {
		return NetworkStats{}, frame.ErrNotSynchronized
	}
	seconds := int(time.Since(e.statsStart).Seconds())
	if seconds == 0 {
		return NetworkStats{}, frame.ErrNotSynchronized
	}
	totalBytes := e.bytesSent + e.packetsSent*udpHeaderSize
	bps := totalBytes / seconds
	return NetworkStats{
		Ping:               e.roundTripMs,
		SendQueueLen:       len(e.pendingOutput),
		KbpsSent:           bps / 1024,
		LocalFramesBehind:  e.localFrameAdvantage,
		RemoteFramesBehind: e.remoteFrameAdvantage,
		LastComparedFrame:  frame.NullFrame,
	}, nil
}

// Poll roda os timers do estado atual — no máximo uma vez por frame do
// host — e devolve os eventos acumulados.
func (e *Endpoint) Poll(connectStatus []ConnectionStatus) []Event {
	now := time.Now()
	switch e.state {
	case StateSynchronizing:
		// timeout de sincronização, uma única vez
		if e.syncConfig.SyncTimeout > 0 && !e.syncTimeoutEventSent {
			elapsed := now.Sub(e.statsStart)
			if elapsed > e.syncConfig.SyncTimeout {
				e.syncTimeoutEventSent = true
				e.eventQueue = append(e.eventQueue, Event{Type: EventSyncTimeout, SyncElapsed: elapsed})
			}
		}
		// reenvia o sync request com um novo random
		if e.lastSendTime.Add(e.syncConfig.SyncRetryInterval).Before(now) {
			e.sendSyncRequest()
		}
	case StateRunning:
		// retransmite o pending output se não há tráfego de inputs
		if e.runningLastInputRecv.Add(e.syncConfig.RunningRetryInterval).Before(now) {
			e.sendPendingOutput(connectStatus)
			e.runningLastInputRecv = time.Now()
		}
		// quality report periódico
		if e.runningLastQualityReport.Add(e.protocolConfig.QualityReportInterval).Before(now) {
			e.sendQualityReport()
		}
		// keepalive em silêncio de envio
		if e.lastSendTime.Add(e.syncConfig.KeepaliveInterval).Before(now) {
			e.queueMessage(KeepAlive{})
		}
		// silêncio de recepção: interrupção e depois desconexão
		if !e.disconnectNotifySent && e.lastRecvTime.Add(e.disconnectNotifyStart).Before(now) {
			e.disconnectNotifySent = true
			e.eventQueue = append(e.eventQueue, Event{
				Type:              EventNetworkInterrupted,
				DisconnectTimeout: e.disconnectTimeout - e.disconnectNotifyStart,
			})
		}
		if !e.disconnectEventSent && e.lastRecvTime.Add(e.disconnectTimeout).Before(now) {
			e.disconnectEventSent = true
			e.eventQueue = append(e.eventQueue, Event{Type: EventDisconnected})
		}
	case StateDisconnected:
		if now.After(e.shutdownDeadline) {
			e.state = StateShutdown
		}
	case StateInitializing, StateShutdown:
	}

	events := e.eventQueue
	e.eventQueue = nil
	return events
}

// SendAllMessages serializa e envia a fila de mensagens pelo socket.
// No estado Shutdown a fila é simplesmente descartada.
func (e *Endpoint) SendAllMessages(sock transport.Socket) {
	if e.state == StateShutdown {
		if len(e.sendQueue) > 0 {
			e.logger.Debug("dropping queued messages on shutdown", "count", len(e.sendQueue))
			e.sendQueue = e.sendQueue[:0]
		}
		return
	}
	for _, msg := range e.sendQueue {
		payload, err := Encode(msg)
		if err != nil {
			telemetry.Report(e.obs, telemetry.SeverityError, telemetry.KindNetworkProtocol,
				"failed to encode outgoing %s message: %v", msg.Body.Type(), err)
			continue
		}
		if len(payload) > PreferredMaxDatagram {
			telemetry.Report(e.obs, telemetry.SeverityWarning, telemetry.KindNetworkProtocol,
				"outgoing %s datagram of %d bytes exceeds preferred maximum of %d",
				msg.Body.Type(), len(payload), PreferredMaxDatagram)
		}
		e.packetsSent++
		e.bytesSent += len(payload)
		sock.SendTo(payload, e.peerAddr)
	}
	e.sendQueue = e.sendQueue[:0]
}

// SendInput registra o input local no time sync, enfileira no pending
// output e dispara o envio. Inputs são um por jogador local, em ordem de
// handle, todos para o mesmo frame.
func (e *Endpoint) SendInput(inputs []frame.PlayerInput, connectStatus []ConnectionStatus) {
	if e.state != StateRunning {
		return
	}

	rec := recordFromInputs(e.inputSize, inputs, e.obs)
	e.timeSync.AdvanceFrame(rec.frame, e.localFrameAdvantage, e.remoteFrameAdvantage)
	e.pendingOutput = append(e.pendingOutput, rec)

	// um peer saudável acka antes de o prediction threshold segurar o
	// envio; um espectador que nunca acka é desconectado aqui
	if len(e.pendingOutput) > e.protocolConfig.PendingOutputLimit {
		e.eventQueue = append(e.eventQueue, Event{Type: EventDisconnected})
	}

	e.sendPendingOutput(connectStatus)
}

// SendChecksumReport enfileira um ChecksumReport para o frame dado.
func (e *Endpoint) SendChecksumReport(f frame.Frame, sum checksum.Sum) {
	e.queueMessage(ChecksumReport{Frame: f, Checksum: sum})
}

// PopPendingChecksum remove e retorna o checksum reportado pelo peer para
// o frame, se houver.
func (e *Endpoint) PopPendingChecksum(f frame.Frame) (checksum.Sum, bool) {
	sum, ok := e.pendingChecksums[f]
	if ok {
		delete(e.pendingChecksums, f)
	}
	return sum, ok
}

// HandleMessage processa uma mensagem recebida deste peer.
func (e *Endpoint) HandleMessage(msg Message) {
	// mensagens são ignoradas após o shutdown
	if e.state == StateShutdown {
		return
	}
	// após a sincronização, só o magic estabelecido é aceito
	if e.remoteMagic != 0 && msg.Magic != e.remoteMagic {
		e.logger.Debug("dropping message with wrong magic", "magic", msg.Magic)
		return
	}

	e.lastRecvTime = time.Now()

	// tráfego voltou depois de uma interrupção
	if e.disconnectNotifySent && e.state == StateRunning {
		e.disconnectNotifySent = false
		e.eventQueue = append(e.eventQueue, Event{Type: EventNetworkResumed})
	}

	switch body := msg.Body.(type) {
	case SyncRequest:
		e.onSyncRequest(body)
	case SyncReply:
		e.onSyncReply(msg.Magic, body)
	case Input:
		e.onInput(body)
	case InputAck:
		e.popPendingOutput(body.AckFrame)
	case QualityReport:
		e.onQualityReport(body)
	case QualityReply:
		e.onQualityReply(body)
	case ChecksumReport:
		e.onChecksumReport(body)
	case KeepAlive:
	}
}

// lastRecvFrame retorna o frame do último input recebido.
func (e *Endpoint) lastRecvFrame() frame.Frame {
	return e.lastRecv
}

func (e *Endpoint) queueMessage(body Body) {
	e.lastSendTime = time.Now()
	e.sendQueue = append(e.sendQueue, Message{Magic: e.magic, Body: body})
}

func (e *Endpoint) sendSyncRequest() {
	e.syncRequestsSent++

	if !e.syncRetryWarningSent && e.syncRequestsSent > e.protocolConfig.SyncRetryWarningThreshold {
		e.syncRetryWarningSent = true
		telemetry.Report(e.obs, telemetry.SeverityWarning, telemetry.KindSynchronization,
			"excessive sync retries: %d requests sent (threshold %d); possible high packet loss",
			e.syncRequestsSent, e.protocolConfig.SyncRetryWarningThreshold)
	}

	elapsed := time.Since(e.statsStart)
	if !e.syncDurationWarningSent && elapsed > e.protocolConfig.SyncDurationWarning {
		e.syncDurationWarningSent = true
		telemetry.Report(e.obs, telemetry.SeverityWarning, telemetry.KindSynchronization,
			"sync duration of %dms exceeded threshold of %dms; network latency may be high",
			elapsed.Milliseconds(), e.protocolConfig.SyncDurationWarning.Milliseconds())
	}

	random := e.rng.Uint32()
	e.syncRandomRequests[random] = struct{}{}
	e.queueMessage(SyncRequest{Random: random})
}

func (e *Endpoint) sendQualityReport() {
	e.runningLastQualityReport = time.Now()

	// relógio de parede inválido: pula esta troca, a próxima tenta de novo
	ping, ok := millisSinceEpoch(e.obs)
	if !ok {
		return
	}

	adv := e.localFrameAdvantage
	if adv > math.MaxInt16 {
		adv = math.MaxInt16
	} else if adv < math.MinInt16 {
		adv = math.MinInt16
	}
	e.queueMessage(QualityReport{FrameAdvantage: int16(adv), Ping: ping})
}

func (e *Endpoint) sendInputAck() {
	e.queueMessage(InputAck{AckFrame: e.lastRecvFrame()})
}

// sendPendingOutput codifica todo o pending output em delta contra o
// último input ackado e enfileira a mensagem Input.
func (e *Endpoint) sendPendingOutput(connectStatus []ConnectionStatus) {
	if len(e.pendingOutput) == 0 {
		return
	}
	front := e.pendingOutput[0]

	// a frente do FIFO deve ser sequencial ao último ack
	if !e.lastAckedInput.frame.IsNull() {
		expected, ok := frame.SafeAdd(e.lastAckedInput.frame, 1)
		if !ok {
			telemetry.ReportFrame(e.obs, telemetry.SeverityCritical, telemetry.KindInternalError,
				e.lastAckedInput.frame, "frame overflow advancing last acked input")
			return
		}
		if expected != front.frame {
			telemetry.ReportFrame(e.obs, telemetry.SeverityError, telemetry.KindNetworkProtocol, front.frame,
				"input frame sequence violation: last acked %d, pending front %d",
				e.lastAckedInput.frame, front.frame)
			return
		}
	}

	records := make([][]byte, len(e.pendingOutput))
	for i, rec := range e.pendingOutput {
		records[i] = rec.bytes
	}

	body := Input{
		PeerConnectStatus:   append([]ConnectionStatus(nil), connectStatus...),
		DisconnectRequested: e.state == StateDisconnected,
		StartFrame:          front.frame,
		AckFrame:            e.lastRecvFrame(),
		Bytes:               EncodeDelta(e.lastAckedInput.bytes, records),
	}
	e.queueMessage(body)
}

// popPendingOutput descarta do FIFO os inputs já ackados, guardando o
// último como referência do delta.
func (e *Endpoint) popPendingOutput(ackFrame frame.Frame) {
	for len(e.pendingOutput) > 0 && e.pendingOutput[0].frame <= ackFrame {
		e.lastAckedInput = e.pendingOutput[0]
		e.pendingOutput = e.pendingOutput[1:]
	}
}

func (e *Endpoint) onSyncRequest(body SyncRequest) {
	e.queueMessage(SyncReply{Random: body.Random})
}

func (e *Endpoint) onSyncReply(magic uint16, body SyncReply) {
	if e.state != StateSynchronizing {
		return
	}
	// o echo precisa casar com um request pendente
	if _, ok := e.syncRandomRequests[body.Random]; !ok {
		return
	}
	delete(e.syncRandomRequests, body.Random)

	e.syncRemainingRoundtrips--
	elapsed := time.Since(e.statsStart)
	if e.syncRemainingRoundtrips > 0 {
		e.eventQueue = append(e.eventQueue, Event{
			Type:              EventSynchronizing,
			Total:             e.syncConfig.NumSyncPackets,
			Count:             e.syncConfig.NumSyncPackets - e.syncRemainingRoundtrips,
			TotalRequestsSent: e.syncRequestsSent,
			Elapsed:           elapsed,
		})
		e.sendSyncRequest()
	} else {
		e.state = StateRunning
		e.eventQueue = append(e.eventQueue, Event{Type: EventSynchronized})
		// o peer está autenticado a partir daqui
		e.remoteMagic = magic
	}
}

func (e *Endpoint) onInput(body Input) {
	// acks pegam carona nas mensagens de input
	e.popPendingOutput(body.AckFrame)

	if body.DisconnectRequested {
		if e.state != StateDisconnected && !e.disconnectEventSent {
			e.disconnectEventSent = true
			e.eventQueue = append(e.eventQueue, Event{Type: EventDisconnected})
		}
	} else {
		// mescla o status de conexão do peer; desconexão é pegajosa
		n := len(e.peerConnectStatus)
		if len(body.PeerConnectStatus) < n {
			n = len(body.PeerConnectStatus)
		}
		for i := 0; i < n; i++ {
			e.peerConnectStatus[i].Disconnected = body.PeerConnectStatus[i].Disconnected ||
				e.peerConnectStatus[i].Disconnected
			e.peerConnectStatus[i].LastFrame = frame.Max(
				e.peerConnectStatus[i].LastFrame, body.PeerConnectStatus[i].LastFrame)
		}
	}

	// sem a referência do delta não dá para decodificar: comportamento
	// normal de UDP (perda/reordenação), o peer retransmite
	if !e.lastRecvFrame().IsNull() {
		next, ok := frame.SafeAdd(e.lastRecvFrame(), 1)
		if !ok {
			telemetry.ReportFrame(e.obs, telemetry.SeverityCritical, telemetry.KindInternalError,
				e.lastRecvFrame(), "frame overflow computing next expected input")
			return
		}
		if next < body.StartFrame {
			telemetry.ReportFrame(e.obs, telemetry.SeverityWarning, telemetry.KindNetworkProtocol, body.StartFrame,
				"received input for frame %d but last received was %d - gap too large to decode (likely packet loss)",
				body.StartFrame, e.lastRecvFrame())
			return
		}
	}

	decodeFrame := frame.NullFrame
	if !e.lastRecvFrame().IsNull() {
		prev, ok := frame.SafeSub(body.StartFrame, 1)
		if !ok {
			telemetry.ReportFrame(e.obs, telemetry.SeverityCritical, telemetry.KindInternalError,
				body.StartFrame, "frame overflow computing delta reference")
			return
		}
		decodeFrame = prev
	}

	reference, ok := e.recvInputs[decodeFrame]
	if !ok {
		telemetry.ReportFrame(e.obs, telemetry.SeverityWarning, telemetry.KindNetworkProtocol, body.StartFrame,
			"missing delta reference for frame %d - dropping input packet", decodeFrame)
		return
	}

	e.runningLastInputRecv = time.Now()

	records, err := DecodeDelta(reference.bytes, body.Bytes)
	if err != nil {
		telemetry.ReportFrame(e.obs, telemetry.SeverityError, telemetry.KindNetworkProtocol, body.StartFrame,
			"failed to decode input packet: %v - packet may be corrupted", err)
		return
	}

	for i, recBytes := range records {
		inpFrame := body.StartFrame + frame.Frame(i)
		// registros já conhecidos são descartados
		if inpFrame <= e.lastRecvFrame() {
			continue
		}

		rec := inputRecord{frame: inpFrame, bytes: recBytes}
		e.recvInputs[inpFrame] = rec
		if inpFrame > e.lastRecv {
			e.lastRecv = inpFrame
		}

		playerInputs := rec.toPlayerInputs(e.inputSize, len(e.handles), e.obs)
		for h, pi := range playerInputs {
			if h < len(e.handles) {
				e.eventQueue = append(e.eventQueue, Event{
					Type:   EventInput,
					Input:  pi,
					Player: e.handles[h],
				})
			}
		}
	}

	e.sendInputAck()

	// poda o cache de inputs recebidos
	historyFrames := frame.Frame(e.protocolConfig.InputHistoryMultiplier * e.maxPrediction)
	oldest := e.lastRecvFrame() - historyFrames
	for f := range e.recvInputs {
		if !f.IsNull() && f < oldest {
			delete(e.recvInputs, f)
		}
	}
}

func (e *Endpoint) onQualityReport(body QualityReport) {
	e.remoteFrameAdvantage = int32(body.FrameAdvantage)
	e.queueMessage(QualityReply{Pong: body.Ping})
}

func (e *Endpoint) onQualityReply(body QualityReply) {
	// relógio de parede inválido: pula esta atualização de RTT
	now, ok := millisSinceEpoch(e.obs)
	if !ok {
		return
	}
	if now >= body.Pong {
		e.roundTripMs = now - body.Pong
	} else {
		// relógio ajustado entre ping e pong; RTT zero é inofensivo e o
		// próximo ciclo corrige
		e.roundTripMs = 0
	}
}

func (e *Endpoint) onChecksumReport(body ChecksumReport) {
	interval := uint32(1)
	if e.desyncDetection.Enabled {
		interval = e.desyncDetection.Interval
	} else {
		telemetry.Report(e.obs, telemetry.SeverityWarning, telemetry.KindConfiguration,
			"received checksum report but desync detection is off; check that configuration is consistent between peers")
	}

	if len(e.pendingChecksums) >= e.protocolConfig.MaxChecksumHistory {
		framesToSubtract := int32(e.protocolConfig.MaxChecksumHistory-1) * int32(interval)
		oldest, ok := frame.SafeSub(body.Frame, framesToSubtract)
		if !ok {
			oldest = frame.Frame(math.MinInt32)
		}
		for f := range e.pendingChecksums {
			if f < oldest {
				delete(e.pendingChecksums, f)
			}
		}
	}
	e.pendingChecksums[body.Frame] = body.Checksum
}

// millisSinceEpoch retorna o relógio de parede em ms desde epoch. Retorna
// ok=false (com uma violação Warning) se o relógio está antes de 1970 —
// snapshots de VM e ajustes de NTP causam isso.
func millisSinceEpoch(obs telemetry.Observer) (uint64, bool) {
	ms := time.Now().UnixMilli()
	if ms < 0 {
		telemetry.Report(obs, telemetry.SeverityWarning, telemetry.KindInternalError,
			"system time is before unix epoch - clock may have gone backwards")
		return 0, false
	}
	return uint64(ms), true
}
