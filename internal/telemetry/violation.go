// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package telemetry implementa o relato estruturado de violações de
// especificação. Os componentes do engine nunca terminam a sessão ao
// detectar uma violação: reportam via Observer e seguem com um valor
// seguro.
package telemetry

import (
	"fmt"

	"github.com/wallstop/fortress-rollback-sub001/internal/frame"
)

// Severity indica a gravidade de uma violação.
type Severity int

const (
	// SeverityWarning indica condição anômala tolerada (ex: pacote perdido).
	SeverityWarning Severity = iota
	// SeverityError indica violação de contrato recuperável.
	SeverityError
	// SeverityCritical indica invariante interna quebrada (bug do engine).
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Kind classifica a origem da violação.
type Kind int

const (
	// KindFrameSync — invariante de sincronização de frames.
	KindFrameSync Kind = iota
	// KindInputQueue — invariante da fila de inputs.
	KindInputQueue
	// KindStateManagement — save/load de estado.
	KindStateManagement
	// KindNetworkProtocol — protocolo de rede (mensagem inesperada, gap).
	KindNetworkProtocol
	// KindChecksumMismatch — detecção de desync.
	KindChecksumMismatch
	// KindConfiguration — restrição de configuração violada em runtime.
	KindConfiguration
	// KindInternalError — erro de lógica interna (nunca deveria ocorrer).
	KindInternalError
	// KindInvariant — checagem de invariante de tipo falhou.
	KindInvariant
	// KindSynchronization — fase de sincronização (retries excessivos etc).
	KindSynchronization
)

func (k Kind) String() string {
	switch k {
	case KindFrameSync:
		return "frame_sync"
	case KindInputQueue:
		return "input_queue"
	case KindStateManagement:
		return "state_management"
	case KindNetworkProtocol:
		return "network_protocol"
	case KindChecksumMismatch:
		return "checksum_mismatch"
	case KindConfiguration:
		return "configuration"
	case KindInternalError:
		return "internal_error"
	case KindInvariant:
		return "invariant"
	case KindSynchronization:
		return "synchronization"
	default:
		return "unknown"
	}
}

// Violation é um relato estruturado de violação de especificação.
type Violation struct {
	Severity Severity
	Kind     Kind
	Message  string
	// Frame associado à violação; NullFrame quando não aplicável.
	Frame frame.Frame
}

func (v Violation) String() string {
	if v.Frame.IsNull() {
		return fmt.Sprintf("[%s] %s: %s", v.Severity, v.Kind, v.Message)
	}
	return fmt.Sprintf("[%s] %s (frame %d): %s", v.Severity, v.Kind, v.Frame, v.Message)
}

// Observer recebe violações. Implementações devem ser seguras para uso
// concorrente: o observer pode ser invocado da thread do game loop.
type Observer interface {
	OnViolation(v Violation)
}

// Report constrói e entrega uma violação ao observer. Aceita observer nil
// (a violação é descartada), o que dispensa checagens nos call sites.
func Report(o Observer, sev Severity, kind Kind, format string, args ...any) {
	if o == nil {
		return
	}
	o.OnViolation(Violation{
		Severity: sev,
		Kind:     kind,
		Message:  fmt.Sprintf(format, args...),
		Frame:    frame.NullFrame,
	})
}

// ReportFrame é Report com o frame associado.
func ReportFrame(o Observer, sev Severity, kind Kind, f frame.Frame, format string, args ...any) {
	if o == nil {
		return
	}
	o.OnViolation(Violation{
		Severity: sev,
		Kind:     kind,
		Message:  fmt.Sprintf(format, args...),
		Frame:    f,
	})
}
