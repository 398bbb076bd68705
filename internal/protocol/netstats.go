// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"github.com/wallstop/fortress-rollback-sub001/internal/checksum"
	"github.com/wallstop/fortress-rollback-sub001/internal/frame"
)

// NetworkStats descreve a qualidade da conexão com um peer.
type NetworkStats struct {
	// SendQueueLen é o número de inputs locais ainda não ackados. Filas
	// longas indicam RTT alto ou perda de pacotes.
	SendQueueLen int
	// Ping é o RTT estimado em milissegundos.
	Ping uint64
	// KbpsSent é a banda estimada de envio em KB/s.
	KbpsSent int
	// LocalFramesBehind é quantos frames o cliente local está atrás do
	// remoto neste instante.
	LocalFramesBehind int32
	// RemoteFramesBehind é o mesmo, da perspectiva do peer.
	RemoteFramesBehind int32

	// Campos de comparação de checksum, preenchidos pela sessão quando a
	// detecção de desync está ligada e já houve comparação.
	LastComparedFrame frame.Frame
	LocalChecksum     checksum.Sum
	RemoteChecksum    checksum.Sum
	// ChecksumsMatch: nil = sem comparação ainda; false = DESYNC.
	ChecksumsMatch *bool
}
