// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"github.com/wallstop/fortress-rollback-sub001/internal/frame"
	"github.com/wallstop/fortress-rollback-sub001/internal/telemetry"
)

// DefaultTimeSyncWindow é o tamanho default da janela do estimador de
// frame advantage (0,5s a 60 FPS).
const DefaultTimeSyncWindow = 30

// TimeSync acompanha o frame advantage local e remoto em uma janela
// deslizante, para estimar o quanto este peer deve acelerar ou frear em
// relação ao outro.
type TimeSync struct {
	local      []int32
	remote     []int32
	windowSize int
	obs        telemetry.Observer
}

// NewTimeSync cria o estimador com a janela dada (mínimo 1).
func NewTimeSync(windowSize int, obs telemetry.Observer) *TimeSync {
	if windowSize < 1 {
		windowSize = 1
	}
	return &TimeSync{
		local:      make([]int32, windowSize),
		remote:     make([]int32, windowSize),
		windowSize: windowSize,
		obs:        obs,
	}
}

// AdvanceFrame registra os advantages do frame dado na janela. Frames
// NULL ou negativos são ignorados com uma violação Warning — isso ocorre
// quando a serialização de um input falhou e o frame virou NULL.
func (t *TimeSync) AdvanceFrame(f frame.Frame, localAdv, remoteAdv int32) {
	if f.IsNull() || f < 0 {
		telemetry.ReportFrame(t.obs, telemetry.SeverityWarning, telemetry.KindFrameSync, f,
			"time sync advance called with invalid frame, skipping update")
		return
	}
	idx := int(f) % t.windowSize
	t.local[idx] = localAdv
	t.remote[idx] = remoteAdv
}

// AverageFrameAdvantage calcula a média entre os advantages local e
// remoto usando apenas aritmética inteira, para determinismo entre
// plataformas: (sum(remote) - sum(local)) / (2 * janela).
func (t *TimeSync) AverageFrameAdvantage() int32 {
	var localSum, remoteSum int32
	for i := 0; i < t.windowSize; i++ {
		localSum += t.local[i]
		remoteSum += t.remote[i]
	}
	return (remoteSum - localSum) / (2 * int32(t.windowSize))
}
