// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package gamesync implementa o núcleo de rollback: o ring de estados
// salvos, as células compartilhadas com o host e a sync layer que produz
// o fluxo ordenado de requests SaveState / LoadState / AdvanceFrame.
package gamesync

import (
	"fmt"
	"sync"

	"github.com/wallstop/fortress-rollback-sub001/internal/checksum"
	"github.com/wallstop/fortress-rollback-sub001/internal/frame"
)

// GameStateCell é uma célula do ring de estados salvos, compartilhada com
// o host. O host deposita os bytes do estado diretamente na célula durante
// um request SaveState, sem cópia intermediária pelo engine. O mutex
// permite que um observer de telemetria em outra thread inspecione frame e
// checksum enquanto o host trabalha em outras células.
type GameStateCell struct {
	mu          sync.Mutex
	frame       frame.Frame
	data        []byte
	hasData     bool
	checksum    checksum.Sum
	hasChecksum bool
}

// Save grava (frame, estado, checksum) na célula, sobrescrevendo o
// conteúdo anterior. O host pode optar por não guardar os bytes do estado
// (data=nil) mas a célula ainda é etiquetada com o frame. Salvar com
// frame NULL é rejeitado.
func (c *GameStateCell) Save(f frame.Frame, data []byte, sum *checksum.Sum) error {
	if f.IsNull() {
		return &frame.InvalidFrameError{Frame: f, Reason: frame.ReasonNullFrame}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.frame = f
	if data != nil {
		c.data = append(c.data[:0], data...)
		c.hasData = true
	} else {
		c.data = c.data[:0]
		c.hasData = false
	}
	if sum != nil {
		c.checksum = *sum
		c.hasChecksum = true
	} else {
		c.checksum = checksum.Zero
		c.hasChecksum = false
	}
	return nil
}

// Load retorna uma cópia dos bytes de estado salvos, ou ok=false se o host
// não depositou estado nesta célula.
func (c *GameStateCell) Load() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasData {
		return nil, false
	}
	out := make([]byte, len(c.data))
	copy(out, c.data)
	return out, true
}

// Frame retorna o frame atualmente etiquetado na célula.
func (c *GameStateCell) Frame() frame.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame
}

// Checksum retorna o checksum salvo, ou ok=false se ausente.
func (c *GameStateCell) Checksum() (checksum.Sum, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checksum, c.hasChecksum
}

func (c *GameStateCell) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("GameStateCell{frame: %d, data: %dB, checksum: %v}",
		c.frame, len(c.data), c.hasChecksum)
}

func newEmptyCell() *GameStateCell {
	return &GameStateCell{frame: frame.NullFrame}
}
