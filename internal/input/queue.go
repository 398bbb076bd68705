// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package input implementa a fila circular de inputs por jogador: inputs
// confirmados entre tail e head, mais um slot de predição. A fila detecta
// o primeiro frame mal predito para disparar o rollback na sync layer.
package input

import (
	"fmt"

	"github.com/wallstop/fortress-rollback-sub001/internal/frame"
	"github.com/wallstop/fortress-rollback-sub001/internal/telemetry"
)

// QueueLength é o tamanho da fila circular de inputs por jogador.
const QueueLength = 128

// MaxFrameDelay é o maior input delay aceito.
const MaxFrameDelay = 255

// Queue guarda os inputs de um único jogador em um array circular.
// Inputs válidos ficam entre head e tail.
type Queue struct {
	// head aponta para a próxima posição de escrita (input mais novo).
	head int
	// tail aponta para o input válido mais antigo.
	tail   int
	length int
	// firstFrame marca que nenhum input foi adicionado ainda.
	firstFrame bool

	lastAddedFrame      frame.Frame
	firstIncorrectFrame frame.Frame
	// lastRequestedFrame nunca é descartado: o dado ainda é necessário.
	lastRequestedFrame frame.Frame

	frameDelay int
	inputSize  int

	inputs     []frame.PlayerInput
	prediction frame.PlayerInput

	obs telemetry.Observer
}

// NewQueue cria uma fila vazia para inputs de inputSize bytes.
func NewQueue(inputSize int, obs telemetry.Observer) *Queue {
	inputs := make([]frame.PlayerInput, QueueLength)
	for i := range inputs {
		inputs[i] = frame.BlankInput(frame.NullFrame, inputSize)
	}
	return &Queue{
		firstFrame:          true,
		lastAddedFrame:      frame.NullFrame,
		firstIncorrectFrame: frame.NullFrame,
		lastRequestedFrame:  frame.NullFrame,
		inputSize:           inputSize,
		inputs:              inputs,
		prediction:          frame.BlankInput(frame.NullFrame, inputSize),
		obs:                 obs,
	}
}

// FirstIncorrectFrame retorna o primeiro frame sabidamente mal predito,
// ou NullFrame.
func (q *Queue) FirstIncorrectFrame() frame.Frame {
	return q.firstIncorrectFrame
}

// SetFrameDelay configura o input delay da fila.
func (q *Queue) SetFrameDelay(delay int) error {
	if delay < 0 || delay > MaxFrameDelay {
		return &frame.InvalidRequestError{
			Info: fmt.Sprintf("frame delay %d out of range [0, %d]", delay, MaxFrameDelay),
		}
	}
	q.frameDelay = delay
	return nil
}

// ResetPrediction limpa o estado de predição. Chamado pela sync layer após
// um rollback resolver a mispredição.
func (q *Queue) ResetPrediction() {
	q.prediction.Frame = frame.NullFrame
	q.firstIncorrectFrame = frame.NullFrame
	q.lastRequestedFrame = frame.NullFrame
}

// ConfirmedInput retorna o input confirmado para o frame pedido.
// Ao contrário de Input, nunca devolve predição.
func (q *Queue) ConfirmedInput(requested frame.Frame) (frame.PlayerInput, error) {
	if requested.IsNull() || requested < 0 {
		return frame.PlayerInput{}, fmt.Errorf("%w: frame %d", frame.ErrNoConfirmedInput, requested)
	}
	offset := int(requested) % QueueLength
	if q.inputs[offset].Frame == requested {
		return q.inputs[offset].Clone(), nil
	}
	return frame.PlayerInput{}, fmt.Errorf("%w: frame %d (tail=%d, head=%d, length=%d)",
		frame.ErrNoConfirmedInput, requested, q.tail, q.head, q.length)
}

// DiscardConfirmedFrames descarta os frames confirmados anteriores a
// frame; o próprio frame permanece na fila, como o novo tail. Frames
// confirmados já estão sincronizados entre os peers e não precisam mais
// ficar na fila.
func (q *Queue) DiscardConfirmedFrames(f frame.Frame) {
	// nunca descarta além do último frame pedido pela sync layer
	if !q.lastRequestedFrame.IsNull() {
		f = frame.Min(f, q.lastRequestedFrame)
	}

	if f >= q.lastAddedFrame {
		// mantém apenas o mais recente
		q.tail = q.head
		q.length = 1
	} else if f <= q.inputs[q.tail].Frame {
		// nada a descartar
	} else {
		offset := int(f - q.inputs[q.tail].Frame)
		q.tail = (q.tail + offset) % QueueLength
		q.length -= offset
	}
}

// Input retorna o input do jogador para o frame pedido; se não existir,
// devolve uma predição ("repetir o último confirmado").
//
// Pré-condição: não pode haver mispredição pendente — a sessão deve
// resolver o rollback antes de pedir novas predições.
func (q *Queue) Input(requested frame.Frame) ([]byte, frame.InputStatus, error) {
	if !q.firstIncorrectFrame.IsNull() {
		telemetry.ReportFrame(q.obs, telemetry.SeverityCritical, telemetry.KindInputQueue, requested,
			"input requested while first incorrect frame %d is unresolved", q.firstIncorrectFrame)
		return nil, frame.InputPredicted, &frame.InternalError{
			Info: "input requested with unresolved misprediction",
		}
	}

	// lembra o último frame pedido; add usa isso para sair do modo de predição
	q.lastRequestedFrame = requested

	if requested < q.inputs[q.tail].Frame {
		telemetry.ReportFrame(q.obs, telemetry.SeverityCritical, telemetry.KindInputQueue, requested,
			"input requested before queue tail frame %d", q.inputs[q.tail].Frame)
		return nil, frame.InputPredicted, &frame.InternalError{
			Info: "input requested before queue tail",
		}
	}

	if q.prediction.Frame.IsNull() {
		// sem predição ativa: se o frame está na faixa armazenada, devolve
		// o confirmado
		offset := int(requested - q.inputs[q.tail].Frame)
		if offset < q.length {
			offset = (offset + q.tail) % QueueLength
			if q.inputs[offset].Frame != requested {
				telemetry.ReportFrame(q.obs, telemetry.SeverityCritical, telemetry.KindInputQueue, requested,
					"ring cell holds frame %d where %d was expected", q.inputs[offset].Frame, requested)
				return nil, frame.InputPredicted, &frame.InternalError{
					Info: "input ring cell frame mismatch",
				}
			}
			return q.inputs[offset].Bytes, frame.InputConfirmed, nil
		}

		// o frame pedido não está na fila: sintetiza uma predição
		if requested == 0 || q.lastAddedFrame.IsNull() {
			// sem base: prediz o input em branco
			q.prediction = frame.BlankInput(q.prediction.Frame, q.inputSize)
		} else {
			// prediz que o jogador repete o último input adicionado
			prev := q.previousPosition()
			q.prediction = q.inputs[prev].Clone()
		}
		q.prediction.Frame++
	}

	if q.prediction.Frame.IsNull() {
		telemetry.ReportFrame(q.obs, telemetry.SeverityCritical, telemetry.KindInputQueue, requested,
			"prediction frame is null after synthesis")
		return nil, frame.InputPredicted, &frame.InternalError{Info: "null prediction frame"}
	}
	return q.prediction.Bytes, frame.InputPredicted, nil
}

// AddInput adiciona um input à fila, aplicando o frame delay configurado.
// Retorna o frame em que o input efetivamente entrou, ou NullFrame se o
// input não era sequencial e foi descartado.
func (q *Queue) AddInput(inp frame.PlayerInput) frame.Frame {
	// inputs devem chegar sequencialmente, independente do frame delay
	if !q.lastAddedFrame.IsNull() &&
		inp.Frame+frame.Frame(q.frameDelay) != q.lastAddedFrame+1 {
		return frame.NullFrame
	}

	newFrame := q.advanceQueueHead(inp.Frame)
	if !newFrame.IsNull() {
		q.addInputByFrame(inp, newFrame)
	}
	return newFrame
}

// addInputByFrame escreve o input na posição head com o frame dado e,
// se houver predição ativa, compara e marca a primeira mispredição.
func (q *Queue) addInputByFrame(inp frame.PlayerInput, frameNumber frame.Frame) {
	prev := q.previousPosition()

	if !q.lastAddedFrame.IsNull() && frameNumber != q.lastAddedFrame+1 {
		telemetry.ReportFrame(q.obs, telemetry.SeverityCritical, telemetry.KindInputQueue, frameNumber,
			"non-sequential add: last added frame %d", q.lastAddedFrame)
		return
	}
	if frameNumber != 0 && q.inputs[prev].Frame != frameNumber-1 {
		telemetry.ReportFrame(q.obs, telemetry.SeverityCritical, telemetry.KindInputQueue, frameNumber,
			"queue head out of sync: previous cell holds frame %d", q.inputs[prev].Frame)
		return
	}
	if q.length >= QueueLength {
		telemetry.ReportFrame(q.obs, telemetry.SeverityCritical, telemetry.KindInputQueue, frameNumber,
			"input queue is full (%d entries); confirmed frames were never discarded", q.length)
		return
	}

	q.inputs[q.head] = inp.Clone()
	q.inputs[q.head].Frame = frameNumber
	q.head = (q.head + 1) % QueueLength
	q.length++
	q.firstFrame = false
	q.lastAddedFrame = frameNumber

	if !q.prediction.Frame.IsNull() {
		if frameNumber != q.prediction.Frame {
			telemetry.ReportFrame(q.obs, telemetry.SeverityCritical, telemetry.KindInputQueue, frameNumber,
				"added frame does not match prediction frame %d", q.prediction.Frame)
			return
		}

		// registra a primeira mispredição para o rollback
		if q.firstIncorrectFrame.IsNull() && !q.prediction.Equal(inp, true) {
			q.firstIncorrectFrame = frameNumber
		}

		// se chegamos ao último frame pedido sem erro de predição, saímos
		// do modo de predição; caso contrário a predição acompanha o frame
		if q.prediction.Frame == q.lastRequestedFrame && q.firstIncorrectFrame.IsNull() {
			q.prediction.Frame = frame.NullFrame
		} else {
			q.prediction.Frame++
		}
	}
}

// advanceQueueHead move o head para o frame de destino (frame do input
// mais o frame delay). No primeiro add com delay > 0, replica o último
// input (em branco) para preencher os frames do delay; descarta o input
// quando o destino já ficou para trás. Como AddInput rejeita antes todo
// input não sequencial, depois do primeiro add o destino é sempre o frame
// seguinte e nenhum dos dois caminhos ocorre.
func (q *Queue) advanceQueueHead(inputFrame frame.Frame) frame.Frame {
	prev := q.previousPosition()

	expectedFrame := frame.Frame(0)
	if !q.firstFrame {
		expectedFrame = q.inputs[prev].Frame + 1
	}

	inputFrame += frame.Frame(q.frameDelay)

	// destino já ficou para trás: descarta
	if expectedFrame > inputFrame {
		return frame.NullFrame
	}

	// vão até o destino (frames do delay no primeiro add): replica o
	// último input para preenchê-lo
	for expectedFrame < inputFrame {
		replicated := q.inputs[q.previousPosition()]
		q.addInputByFrame(replicated, expectedFrame)
		expectedFrame++
	}

	prev = q.previousPosition()
	if inputFrame != 0 && inputFrame != q.inputs[prev].Frame+1 {
		telemetry.ReportFrame(q.obs, telemetry.SeverityCritical, telemetry.KindInputQueue, inputFrame,
			"advance left head out of sync: previous cell holds frame %d", q.inputs[prev].Frame)
		return frame.NullFrame
	}
	return inputFrame
}

func (q *Queue) previousPosition() int {
	if q.head == 0 {
		return QueueLength - 1
	}
	return q.head - 1
}

// CheckInvariants valida a geometria da fila. Usado em testes e por
// sessões em modo paranóico.
func (q *Queue) CheckInvariants() error {
	if q.length > QueueLength {
		return fmt.Errorf("input queue: length %d exceeds capacity %d", q.length, QueueLength)
	}
	if q.head >= QueueLength || q.tail >= QueueLength {
		return fmt.Errorf("input queue: head %d or tail %d out of bounds", q.head, q.tail)
	}
	calculated := (q.head - q.tail + QueueLength) % QueueLength
	// depois de um discard "all but most recent" a fila fica com tail==head
	// e length 1; o DiscardConfirmedFrames preserva esse estado de propósito
	if q.length != calculated && !(calculated == 0 && q.length == 1) {
		return fmt.Errorf("input queue: length %d does not match head/tail distance %d", q.length, calculated)
	}
	if q.frameDelay > MaxFrameDelay {
		return fmt.Errorf("input queue: frame delay %d exceeds %d", q.frameDelay, MaxFrameDelay)
	}
	if q.head == q.tail && q.length == 1 {
		return nil
	}
	// frames armazenados devem ser contíguos
	for k := 0; k < q.length; k++ {
		idx := (q.tail + k) % QueueLength
		want := q.inputs[q.tail].Frame + frame.Frame(k)
		if q.inputs[idx].Frame != want {
			return fmt.Errorf("input queue: cell %d holds frame %d, want %d", idx, q.inputs[idx].Frame, want)
		}
	}
	for name, f := range map[string]frame.Frame{
		"first_incorrect_frame": q.firstIncorrectFrame,
		"last_requested_frame":  q.lastRequestedFrame,
		"last_added_frame":      q.lastAddedFrame,
	} {
		if !f.IsNull() && f < 0 {
			return fmt.Errorf("input queue: %s is negative (%d)", name, f)
		}
	}
	return nil
}

// Length retorna quantos inputs confirmados estão na fila.
func (q *Queue) Length() int {
	return q.length
}
