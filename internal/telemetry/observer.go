// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package telemetry

import (
	"log/slog"
	"sync"
)

// SlogObserver encaminha violações para um slog.Logger, mapeando a
// severidade para o nível de log.
type SlogObserver struct {
	logger *slog.Logger
}

// NewSlogObserver cria um observer que loga via slog.
func NewSlogObserver(logger *slog.Logger) *SlogObserver {
	return &SlogObserver{logger: logger.With("component", "telemetry")}
}

func (o *SlogObserver) OnViolation(v Violation) {
	attrs := []any{
		"kind", v.Kind.String(),
		"severity", v.Severity.String(),
	}
	if !v.Frame.IsNull() {
		attrs = append(attrs, "frame", int32(v.Frame))
	}
	switch v.Severity {
	case SeverityWarning:
		o.logger.Warn(v.Message, attrs...)
	default:
		o.logger.Error(v.Message, attrs...)
	}
}

// CollectingObserver acumula violações em memória. Usado em testes e no
// harness headless para inspecionar o que aconteceu durante uma sessão.
type CollectingObserver struct {
	mu         sync.Mutex
	violations []Violation
}

// NewCollectingObserver cria um observer coletor vazio.
func NewCollectingObserver() *CollectingObserver {
	return &CollectingObserver{}
}

func (o *CollectingObserver) OnViolation(v Violation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.violations = append(o.violations, v)
}

// Violations retorna uma cópia das violações coletadas.
func (o *CollectingObserver) Violations() []Violation {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Violation, len(o.violations))
	copy(out, o.violations)
	return out
}

// Len retorna o número de violações coletadas.
func (o *CollectingObserver) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.violations)
}

// HasKind informa se alguma violação coletada tem o kind dado.
func (o *CollectingObserver) HasKind(kind Kind) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, v := range o.violations {
		if v.Kind == kind {
			return true
		}
	}
	return false
}

// OfKind retorna as violações do kind dado.
func (o *CollectingObserver) OfKind(kind Kind) []Violation {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Violation
	for _, v := range o.violations {
		if v.Kind == kind {
			out = append(out, v)
		}
	}
	return out
}

// HasSeverity informa se alguma violação tem exatamente a severidade dada.
func (o *CollectingObserver) HasSeverity(sev Severity) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, v := range o.violations {
		if v.Severity == sev {
			return true
		}
	}
	return false
}

// Clear descarta as violações acumuladas.
func (o *CollectingObserver) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.violations = o.violations[:0]
}

// CompositeObserver replica cada violação para vários observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver cria um composite com os observers dados.
func NewCompositeObserver(observers ...Observer) *CompositeObserver {
	return &CompositeObserver{observers: observers}
}

// Add registra mais um observer no composite.
func (o *CompositeObserver) Add(obs Observer) {
	o.observers = append(o.observers, obs)
}

func (o *CompositeObserver) OnViolation(v Violation) {
	for _, obs := range o.observers {
		obs.OnViolation(v)
	}
}
