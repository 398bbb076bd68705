// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package gamesync

import (
	"fmt"

	"github.com/wallstop/fortress-rollback-sub001/internal/frame"
)

// SavedStates é o ring de estados salvos com maxPrediction+1 células.
// A célula do frame f vive no índice f mod N; ela está "viva" apenas
// enquanto o frame gravado nela for igual ao frame consultado.
type SavedStates struct {
	cells []*GameStateCell
}

// NewSavedStates cria o ring com maxPrediction+1 células vazias.
func NewSavedStates(maxPrediction int) *SavedStates {
	cells := make([]*GameStateCell, maxPrediction+1)
	for i := range cells {
		cells[i] = newEmptyCell()
	}
	return &SavedStates{cells: cells}
}

// Cell retorna a célula endereçada pelo frame dado. Frames negativos (e o
// sentinela NULL) são rejeitados.
func (s *SavedStates) Cell(f frame.Frame) (*GameStateCell, error) {
	if f.IsNull() || f < 0 {
		return nil, &frame.InvalidFrameError{Frame: f, Reason: frame.ReasonNullFrame}
	}
	idx := int(f) % len(s.cells)
	if idx < 0 || idx >= len(s.cells) {
		return nil, &frame.InternalError{
			Info: fmt.Sprintf("saved states index %d out of bounds (len %d)", idx, len(s.cells)),
		}
	}
	return s.cells[idx], nil
}

// Len retorna o número de células do ring.
func (s *SavedStates) Len() int {
	return len(s.cells)
}
