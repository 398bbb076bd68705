// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package gamesync

import (
	"fmt"

	"github.com/wallstop/fortress-rollback-sub001/internal/frame"
	"github.com/wallstop/fortress-rollback-sub001/internal/input"
	"github.com/wallstop/fortress-rollback-sub001/internal/protocol"
	"github.com/wallstop/fortress-rollback-sub001/internal/telemetry"
)

// RequestType identifica o que o host deve fazer com um Request.
type RequestType int

const (
	// RequestSaveState: o host grava (frame, estado, checksum) na célula,
	// de forma síncrona, antes da próxima chamada ao engine.
	RequestSaveState RequestType = iota
	// RequestLoadState: o host restaura a simulação a partir da célula.
	RequestLoadState
	// RequestAdvanceFrame: o host avança a simulação com os inputs dados.
	RequestAdvanceFrame
)

func (t RequestType) String() string {
	switch t {
	case RequestSaveState:
		return "save_state"
	case RequestLoadState:
		return "load_state"
	case RequestAdvanceFrame:
		return "advance_frame"
	default:
		return "unknown"
	}
}

// SynchronizedInput é o input de um jogador para um frame, com o status
// que informa ao host se é confirmado, predito ou de um desconectado.
type SynchronizedInput struct {
	Bytes  []byte
	Status frame.InputStatus
}

// Request é uma ordem do engine para o host. A lista devolvida por
// advance_frame deve ser aplicada na ordem: LoadState antes dos
// AdvanceFrames que re-simulam, SaveState(f) antes do AdvanceFrame no
// frame f.
type Request struct {
	Type   RequestType
	Cell   *GameStateCell
	Frame  frame.Frame
	Inputs []SynchronizedInput
}

// SaveMode controla quando a confirmação pode avançar.
type SaveMode int

const (
	// SaveEveryFrame salva a cada frame (default).
	SaveEveryFrame SaveMode = iota
	// SaveSparse segura a confirmação no último frame salvo, permitindo
	// que o host pule saves.
	SaveSparse
)

// Layer amarra as filas de input ao ring de estados salvos e dirige o
// rollback: produz inputs sincronizados, detecta o primeiro frame mal
// predito e limita a predição à janela configurada.
type Layer struct {
	numPlayers    int
	maxPrediction int
	inputSize     int

	savedStates *SavedStates

	lastConfirmedFrame frame.Frame
	lastSavedFrame     frame.Frame
	currentFrame       frame.Frame

	inputQueues []*input.Queue

	obs telemetry.Observer
}

// NewLayer cria a sync layer com uma fila por jogador e o ring de
// maxPrediction+1 células.
func NewLayer(numPlayers, maxPrediction, inputSize int, obs telemetry.Observer) *Layer {
	queues := make([]*input.Queue, numPlayers)
	for i := range queues {
		queues[i] = input.NewQueue(inputSize, obs)
	}
	return &Layer{
		numPlayers:         numPlayers,
		maxPrediction:      maxPrediction,
		inputSize:          inputSize,
		savedStates:        NewSavedStates(maxPrediction),
		lastConfirmedFrame: frame.NullFrame,
		lastSavedFrame:     frame.NullFrame,
		currentFrame:       0,
		inputQueues:        queues,
		obs:                obs,
	}
}

// CurrentFrame retorna o frame atual da simulação.
func (l *Layer) CurrentFrame() frame.Frame {
	return l.currentFrame
}

// LastSavedFrame retorna o último frame salvo.
func (l *Layer) LastSavedFrame() frame.Frame {
	return l.lastSavedFrame
}

// LastConfirmedFrame retorna o último frame confirmado.
func (l *Layer) LastConfirmedFrame() frame.Frame {
	return l.lastConfirmedFrame
}

// MaxPrediction retorna a janela de rollback.
func (l *Layer) MaxPrediction() int {
	return l.maxPrediction
}

// AdvanceFrame avança a simulação em um frame.
func (l *Layer) AdvanceFrame() {
	next, ok := frame.SafeAdd(l.currentFrame, 1)
	if !ok {
		telemetry.ReportFrame(l.obs, telemetry.SeverityCritical, telemetry.KindFrameSync, l.currentFrame,
			"frame overflow advancing simulation")
	}
	l.currentFrame = next
}

// SaveCurrentState etiqueta a célula do frame atual e devolve o request
// SaveState para o host preenchê-la.
func (l *Layer) SaveCurrentState() Request {
	l.lastSavedFrame = l.currentFrame
	cell, err := l.savedStates.Cell(l.currentFrame)
	if err != nil {
		// impossível por construção (currentFrame >= 0); reporta e devolve
		// uma célula órfã em vez de quebrar
		telemetry.ReportFrame(l.obs, telemetry.SeverityCritical, telemetry.KindInternalError, l.currentFrame,
			"save_current_state failed to address ring cell: %v", err)
		cell = newEmptyCell()
	}
	return Request{Type: RequestSaveState, Cell: cell, Frame: l.currentFrame}
}

// SetFrameDelay configura o input delay da fila do jogador.
func (l *Layer) SetFrameDelay(handle frame.PlayerHandle, delay int) error {
	if int(handle) < 0 || int(handle) >= l.numPlayers {
		return &frame.InvalidPlayerHandleError{
			Handle:    handle,
			MaxHandle: frame.PlayerHandle(l.numPlayers - 1),
		}
	}
	return l.inputQueues[handle].SetFrameDelay(delay)
}

// ResetPrediction limpa o estado de predição de todas as filas.
func (l *Layer) ResetPrediction() {
	for _, q := range l.inputQueues {
		q.ResetPrediction()
	}
}

// LoadFrame valida e carrega o estado salvo do frame alvo, devolvendo o
// request LoadState. O alvo deve estar no passado, dentro da janela de
// predição, e a célula endereçada deve realmente guardar o frame pedido.
func (l *Layer) LoadFrame(frameToLoad frame.Frame) (Request, error) {
	if frameToLoad.IsNull() {
		return Request{}, &frame.InvalidFrameError{Frame: frameToLoad, Reason: frame.ReasonNullFrame}
	}
	if frameToLoad >= l.currentFrame {
		return Request{}, &frame.InvalidFrameError{
			Frame:        frameToLoad,
			Reason:       frame.ReasonNotInPast,
			CurrentFrame: l.currentFrame,
		}
	}
	if int32(frameToLoad) < int32(l.currentFrame)-int32(l.maxPrediction) {
		return Request{}, &frame.InvalidFrameError{
			Frame:         frameToLoad,
			Reason:        frame.ReasonOutsidePredictionWindow,
			CurrentFrame:  l.currentFrame,
			MaxPrediction: l.maxPrediction,
		}
	}

	cell, err := l.savedStates.Cell(frameToLoad)
	if err != nil {
		return Request{}, err
	}
	if cell.Frame() != frameToLoad {
		return Request{}, &frame.InvalidFrameError{
			Frame:      frameToLoad,
			Reason:     frame.ReasonWrongSavedFrame,
			SavedFrame: cell.Frame(),
		}
	}

	l.currentFrame = frameToLoad
	// o estado carregado vira a nova referência de save
	l.lastSavedFrame = frameToLoad

	return Request{Type: RequestLoadState, Cell: cell, Frame: frameToLoad}, nil
}

// AddLocalInput adiciona o input local à fila do jogador. O frame do input
// deve ser o frame atual; o delay é aplicado pela fila. Retorna o frame em
// que o input entrou (diferente do pedido apenas com input delay > 0), ou
// NullFrame se o input foi rejeitado.
func (l *Layer) AddLocalInput(handle frame.PlayerHandle, inp frame.PlayerInput) frame.Frame {
	if inp.Frame != l.currentFrame {
		telemetry.ReportFrame(l.obs, telemetry.SeverityError, telemetry.KindFrameSync, inp.Frame,
			"local input frame %d does not match current frame %d", inp.Frame, l.currentFrame)
		return frame.NullFrame
	}
	if int(handle) < 0 || int(handle) >= len(l.inputQueues) {
		return frame.NullFrame
	}
	return l.inputQueues[handle].AddInput(inp)
}

// AddRemoteInput adiciona um input remoto. Diferente do local, não valida
// condições: o input já foi validado no dispositivo de origem.
func (l *Layer) AddRemoteInput(handle frame.PlayerHandle, inp frame.PlayerInput) {
	if int(handle) < 0 || int(handle) >= len(l.inputQueues) {
		return
	}
	l.inputQueues[handle].AddInput(inp)
}

// SynchronizedInputs devolve um input por jogador para o frame atual:
// confirmado quando existe, predito quando não, e o input em branco com
// status Disconnected para jogadores desconectados antes do frame atual.
func (l *Layer) SynchronizedInputs(connectStatus []protocol.ConnectionStatus) ([]SynchronizedInput, error) {
	inputs := make([]SynchronizedInput, 0, len(connectStatus))
	for i, st := range connectStatus {
		if st.Disconnected && st.LastFrame < l.currentFrame {
			inputs = append(inputs, SynchronizedInput{
				Bytes:  make([]byte, l.inputSize),
				Status: frame.InputDisconnected,
			})
			continue
		}
		if i >= len(l.inputQueues) {
			return nil, &frame.InternalError{
				Info: fmt.Sprintf("connect status index %d out of bounds (queues %d)", i, len(l.inputQueues)),
			}
		}
		bytes, status, err := l.inputQueues[i].Input(l.currentFrame)
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(bytes))
		copy(out, bytes)
		inputs = append(inputs, SynchronizedInput{Bytes: out, Status: status})
	}
	return inputs, nil
}

// ConfirmedInputs devolve os inputs confirmados de todos os jogadores para
// o frame dado. Jogadores desconectados antes do frame recebem o input em
// branco.
func (l *Layer) ConfirmedInputs(f frame.Frame, connectStatus []protocol.ConnectionStatus) ([]frame.PlayerInput, error) {
	inputs := make([]frame.PlayerInput, 0, len(connectStatus))
	for i, st := range connectStatus {
		if st.Disconnected && st.LastFrame < f {
			inputs = append(inputs, frame.BlankInput(frame.NullFrame, l.inputSize))
			continue
		}
		if i >= len(l.inputQueues) {
			return nil, &frame.InternalError{
				Info: fmt.Sprintf("connect status index %d out of bounds (queues %d)", i, len(l.inputQueues)),
			}
		}
		inp, err := l.inputQueues[i].ConfirmedInput(f)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, inp)
	}
	return inputs, nil
}

// SetLastConfirmedFrame sobe o último frame confirmado e descarta das
// filas os inputs anteriores, que já estão sincronizados entre os peers.
func (l *Layer) SetLastConfirmedFrame(f frame.Frame, saveMode SaveMode) {
	// nunca confirmar além do primeiro frame mal predito antes do rollback
	firstIncorrect := frame.NullFrame
	for _, q := range l.inputQueues {
		firstIncorrect = frame.Max(firstIncorrect, q.FirstIncorrectFrame())
	}

	// em sparse save, a confirmação não passa do último frame salvo
	if saveMode == SaveSparse {
		f = frame.Min(f, l.lastSavedFrame)
	}

	// nunca descartar à frente do frame atual
	f = frame.Min(f, l.currentFrame)

	if !firstIncorrect.IsNull() && firstIncorrect < f {
		telemetry.ReportFrame(l.obs, telemetry.SeverityWarning, telemetry.KindFrameSync, f,
			"clamping confirmed frame %d to first incorrect %d", f, firstIncorrect)
		f = firstIncorrect
	}

	l.lastConfirmedFrame = f
	if l.lastConfirmedFrame > 0 {
		discard, ok := frame.SafeSub(f, 1)
		if !ok {
			telemetry.ReportFrame(l.obs, telemetry.SeverityCritical, telemetry.KindInternalError, f,
				"frame overflow computing discard frame")
			return
		}
		for _, q := range l.inputQueues {
			q.DiscardConfirmedFrames(discard)
		}
	}
}

// CheckSimulationConsistency devolve o primeiro frame mal predito entre
// todas as filas, partindo de firstIncorrect (NullFrame quando não há
// candidato externo).
func (l *Layer) CheckSimulationConsistency(firstIncorrect frame.Frame) frame.Frame {
	for _, q := range l.inputQueues {
		incorrect := q.FirstIncorrectFrame()
		if !incorrect.IsNull() && (firstIncorrect.IsNull() || incorrect < firstIncorrect) {
			firstIncorrect = incorrect
		}
	}
	return firstIncorrect
}

// SavedStateByFrame devolve a célula viva do frame, ou nil se a célula
// endereçada já foi reaproveitada para outro frame.
func (l *Layer) SavedStateByFrame(f frame.Frame) *GameStateCell {
	cell, err := l.savedStates.Cell(f)
	if err != nil {
		return nil
	}
	if cell.Frame() != f {
		return nil
	}
	return cell
}

// CheckInvariants valida as invariantes da sync layer e das filas.
func (l *Layer) CheckInvariants() error {
	if l.numPlayers == 0 {
		return fmt.Errorf("sync layer: num players must be greater than zero")
	}
	if l.maxPrediction == 0 {
		return fmt.Errorf("sync layer: max prediction must be greater than zero")
	}
	if l.currentFrame < 0 {
		return fmt.Errorf("sync layer: current frame %d is negative", l.currentFrame)
	}
	if !l.lastConfirmedFrame.IsNull() && l.lastConfirmedFrame > l.currentFrame {
		return fmt.Errorf("sync layer: last confirmed frame %d exceeds current frame %d",
			l.lastConfirmedFrame, l.currentFrame)
	}
	if !l.lastSavedFrame.IsNull() && l.lastSavedFrame > l.currentFrame {
		return fmt.Errorf("sync layer: last saved frame %d exceeds current frame %d",
			l.lastSavedFrame, l.currentFrame)
	}
	if len(l.inputQueues) != l.numPlayers {
		return fmt.Errorf("sync layer: %d input queues for %d players", len(l.inputQueues), l.numPlayers)
	}
	if l.savedStates.Len() != l.maxPrediction+1 {
		return fmt.Errorf("sync layer: ring has %d cells, want %d", l.savedStates.Len(), l.maxPrediction+1)
	}
	for i, q := range l.inputQueues {
		if err := q.CheckInvariants(); err != nil {
			return fmt.Errorf("sync layer: queue %d: %w", i, err)
		}
	}
	return nil
}
