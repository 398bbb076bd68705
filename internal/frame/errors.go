// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package frame

import (
	"errors"
	"fmt"
	"strings"
)

// Erros estruturados compartilhados pelo engine. Operações de hot path que
// não conseguem progredir retornam um destes ao chamador; o engine nunca
// encerra a sessão por conta própria.
var (
	// ErrNotSynchronized indica operação que exige a sessão em Running.
	ErrNotSynchronized = errors.New("rollback: session not synchronized yet")
	// ErrPredictionThreshold indica que avançar excederia max_prediction
	// frames não confirmados. Transiente: tente de novo no próximo tick.
	ErrPredictionThreshold = errors.New("rollback: prediction threshold reached")
	// ErrNoConfirmedInput indica que não há input confirmado para o frame.
	ErrNoConfirmedInput = errors.New("rollback: no confirmed input for frame")
	// ErrSpectatorTooFarBehind indica que o host avançou além do buffer do
	// espectador e o input necessário foi descartado.
	ErrSpectatorTooFarBehind = errors.New("rollback: spectator too far behind host")
)

// InvalidPlayerHandleError indica bug do chamador: handle fora do intervalo.
type InvalidPlayerHandleError struct {
	Handle    PlayerHandle
	MaxHandle PlayerHandle
}

func (e *InvalidPlayerHandleError) Error() string {
	return fmt.Sprintf("rollback: invalid player handle %d (max %d)", e.Handle, e.MaxHandle)
}

// InvalidRequestError indica uso incorreto do builder ou da API
// (estado de protocolo errado, handle duplicado, preset desconhecido).
type InvalidRequestError struct {
	Info string
}

func (e *InvalidRequestError) Error() string {
	return "rollback: invalid request: " + e.Info
}

// InvalidFrameReason classifica falhas de validação de frame na sync layer.
type InvalidFrameReason int

const (
	// ReasonNullFrame indica uso do sentinela NullFrame.
	ReasonNullFrame InvalidFrameReason = iota
	// ReasonNotInPast indica frame >= frame atual.
	ReasonNotInPast
	// ReasonOutsidePredictionWindow indica frame anterior à janela de rollback.
	ReasonOutsidePredictionWindow
	// ReasonWrongSavedFrame indica que a célula do ring guarda outro frame.
	ReasonWrongSavedFrame
)

func (r InvalidFrameReason) String() string {
	switch r {
	case ReasonNullFrame:
		return "null frame"
	case ReasonNotInPast:
		return "frame not in past"
	case ReasonOutsidePredictionWindow:
		return "frame outside prediction window"
	case ReasonWrongSavedFrame:
		return "wrong saved frame in ring cell"
	default:
		return "unknown"
	}
}

// InvalidFrameError indica falha de guarda da sync layer ao validar um frame.
type InvalidFrameError struct {
	Frame  Frame
	Reason InvalidFrameReason

	// Contexto adicional, preenchido conforme a razão.
	CurrentFrame  Frame
	MaxPrediction int
	SavedFrame    Frame
}

func (e *InvalidFrameError) Error() string {
	return fmt.Sprintf("rollback: invalid frame %d: %s", e.Frame, e.Reason)
}

// MissingInputError indica que o input de um jogador para um frame não
// estava disponível quando exigido.
type MissingInputError struct {
	Player PlayerHandle
	Frame  Frame
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("rollback: missing input for player %d at frame %d", e.Player, e.Frame)
}

// MismatchedChecksumError indica dessincronização detectada: os checksums
// locais e remotos divergem nos frames listados.
type MismatchedChecksumError struct {
	CurrentFrame     Frame
	MismatchedFrames []Frame
}

func (e *MismatchedChecksumError) Error() string {
	frames := make([]string, len(e.MismatchedFrames))
	for i, f := range e.MismatchedFrames {
		frames[i] = fmt.Sprintf("%d", f)
	}
	return fmt.Sprintf("rollback: checksum mismatch at frame %d (mismatched frames: %s)",
		e.CurrentFrame, strings.Join(frames, ","))
}

// InternalError indica violação de invariante que deveria ser impossível.
// É reportado junto a uma violação Critical de telemetria.
type InternalError struct {
	Info string
}

func (e *InternalError) Error() string {
	return "rollback: internal error: " + e.Info
}
