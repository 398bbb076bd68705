// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"time"

	"github.com/wallstop/fortress-rollback-sub001/internal/frame"
)

// EventType identifica os eventos emitidos por um endpoint para a sessão.
type EventType int

const (
	// EventSynchronizing reporta progresso da sincronização.
	EventSynchronizing EventType = iota
	// EventSynchronized indica entrada no estado Running.
	EventSynchronized
	// EventInput entrega um input remoto decodificado.
	EventInput
	// EventDisconnected indica que o peer caiu ou pediu desconexão.
	EventDisconnected
	// EventNetworkInterrupted indica silêncio além de disconnect_notify_start.
	EventNetworkInterrupted
	// EventNetworkResumed indica tráfego retomado após interrupção.
	EventNetworkResumed
	// EventSyncTimeout indica sincronização além do sync_timeout configurado.
	EventSyncTimeout
)

func (t EventType) String() string {
	switch t {
	case EventSynchronizing:
		return "synchronizing"
	case EventSynchronized:
		return "synchronized"
	case EventInput:
		return "input"
	case EventDisconnected:
		return "disconnected"
	case EventNetworkInterrupted:
		return "network_interrupted"
	case EventNetworkResumed:
		return "network_resumed"
	case EventSyncTimeout:
		return "sync_timeout"
	default:
		return "unknown"
	}
}

// Event é um evento do endpoint. Os campos são preenchidos conforme o tipo.
type Event struct {
	Type EventType

	// EventSynchronizing
	Total             uint32
	Count             uint32
	TotalRequestsSent uint32
	Elapsed           time.Duration

	// EventNetworkInterrupted
	DisconnectTimeout time.Duration

	// EventSyncTimeout
	SyncElapsed time.Duration

	// EventInput
	Input  frame.PlayerInput
	Player frame.PlayerHandle
}
