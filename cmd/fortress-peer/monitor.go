// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemStats guarda as métricas coletadas do sistema durante o soak.
type SystemStats struct {
	CPUPercent    float64
	MemoryPercent float64
	LoadAverage   float64
}

// SystemMonitor coleta métricas do sistema periodicamente enquanto o soak
// roda, para correlacionar rollbacks e atrasos com pressão de CPU/memória.
type SystemMonitor struct {
	logger   *slog.Logger
	interval time.Duration
	close    chan struct{}
	wg       sync.WaitGroup
	stats    SystemStats
	mu       sync.RWMutex
}

// NewSystemMonitor cria um SystemMonitor com o intervalo dado.
func NewSystemMonitor(logger *slog.Logger, interval time.Duration) *SystemMonitor {
	return &SystemMonitor{
		logger:   logger.With("component", "system_monitor"),
		interval: interval,
		close:    make(chan struct{}),
	}
}

// Start inicia a coleta periódica.
func (sm *SystemMonitor) Start() {
	sm.wg.Add(1)
	go sm.run()
}

// Stop encerra o monitor.
func (sm *SystemMonitor) Stop() {
	close(sm.close)
	sm.wg.Wait()
}

// Stats retorna a última coleta.
func (sm *SystemMonitor) Stats() SystemStats {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.stats
}

func (sm *SystemMonitor) run() {
	defer sm.wg.Done()

	ticker := time.NewTicker(sm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sm.close:
			return
		case <-ticker.C:
			sm.collect()
		}
	}
}

func (sm *SystemMonitor) collect() {
	var stats SystemStats

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		stats.CPUPercent = percentages[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.MemoryPercent = vm.UsedPercent
	}
	if avg, err := load.Avg(); err == nil {
		stats.LoadAverage = avg.Load1
	}

	sm.mu.Lock()
	sm.stats = stats
	sm.mu.Unlock()

	sm.logger.Debug("system stats",
		"cpu_percent", stats.CPUPercent,
		"memory_percent", stats.MemoryPercent,
		"load_average", stats.LoadAverage)
}
