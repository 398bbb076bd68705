// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import "time"

// SyncConfig reúne os tempos da fase de sincronização e das retransmissões
// na fase Running.
type SyncConfig struct {
	// NumSyncPackets é o número de roundtrips SyncRequest/SyncReply
	// exigidos antes de entrar em Running.
	NumSyncPackets uint32
	// SyncRetryInterval é o intervalo de reenvio de SyncRequest.
	SyncRetryInterval time.Duration
	// SyncTimeout, quando > 0, dispara o evento SyncTimeout uma vez após
	// esse tempo sem completar a sincronização.
	SyncTimeout time.Duration
	// RunningRetryInterval é o tempo sem tráfego de inputs que dispara a
	// retransmissão do pending output.
	RunningRetryInterval time.Duration
	// KeepaliveInterval é o tempo de silêncio de envio que dispara um
	// KeepAlive.
	KeepaliveInterval time.Duration
}

// DefaultSyncConfig retorna os tempos default de sincronização.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		NumSyncPackets:       5,
		SyncRetryInterval:    200 * time.Millisecond,
		SyncTimeout:          0,
		RunningRetryInterval: 200 * time.Millisecond,
		KeepaliveInterval:    200 * time.Millisecond,
	}
}

// LANSyncConfig é o preset para redes locais: retries curtos, timeout
// agressivo.
func LANSyncConfig() SyncConfig {
	cfg := DefaultSyncConfig()
	cfg.SyncRetryInterval = 100 * time.Millisecond
	cfg.SyncTimeout = 5 * time.Second
	return cfg
}

// HighLatencySyncConfig é o preset para conexões de alta latência.
func HighLatencySyncConfig() SyncConfig {
	return SyncConfig{
		NumSyncPackets:       5,
		SyncRetryInterval:    400 * time.Millisecond,
		SyncTimeout:          10 * time.Second,
		RunningRetryInterval: 400 * time.Millisecond,
		KeepaliveInterval:    400 * time.Millisecond,
	}
}

// LossySyncConfig é o preset para redes com perda de pacotes.
func LossySyncConfig() SyncConfig {
	cfg := DefaultSyncConfig()
	cfg.SyncTimeout = 10 * time.Second
	return cfg
}

// ProtocolConfig reúne os parâmetros da fase Running do endpoint.
type ProtocolConfig struct {
	// QualityReportInterval é o período de envio de QualityReport.
	QualityReportInterval time.Duration
	// ShutdownDelay é a carência entre Disconnected e Shutdown, garantindo
	// que acks e checksum reports finais sejam despachados.
	ShutdownDelay time.Duration
	// MaxChecksumHistory limita o mapa de checksums recebidos do peer.
	MaxChecksumHistory int
	// PendingOutputLimit limita o FIFO de inputs locais não ackados;
	// excedê-lo dispara um evento Disconnected.
	PendingOutputLimit int
	// SyncRetryWarningThreshold dispara uma violação Warning (uma vez)
	// quando o número de SyncRequests enviados passa do limiar.
	SyncRetryWarningThreshold uint32
	// SyncDurationWarning dispara uma violação Warning (uma vez) quando a
	// sincronização demora mais que isso.
	SyncDurationWarning time.Duration
	// InputHistoryMultiplier dimensiona o cache de inputs recebidos:
	// multiplier x max_prediction frames são retidos para decodificar
	// deltas futuros.
	InputHistoryMultiplier int
	// RNGSeed, quando não nil, torna determinística a geração de magic e
	// nonces de sync.
	RNGSeed *int64
}

// DefaultProtocolConfig retorna os parâmetros default de protocolo.
func DefaultProtocolConfig() ProtocolConfig {
	return ProtocolConfig{
		QualityReportInterval:     200 * time.Millisecond,
		ShutdownDelay:             5000 * time.Millisecond,
		MaxChecksumHistory:        32,
		PendingOutputLimit:        128,
		SyncRetryWarningThreshold: 10,
		SyncDurationWarning:       3000 * time.Millisecond,
		InputHistoryMultiplier:    2,
	}
}

// CompetitiveProtocolConfig é o preset para cenários competitivos.
func CompetitiveProtocolConfig() ProtocolConfig {
	cfg := DefaultProtocolConfig()
	cfg.QualityReportInterval = 100 * time.Millisecond
	cfg.ShutdownDelay = 3000 * time.Millisecond
	cfg.SyncDurationWarning = 2000 * time.Millisecond
	return cfg
}

// HighLatencyProtocolConfig é o preset para conexões ruins.
func HighLatencyProtocolConfig() ProtocolConfig {
	return ProtocolConfig{
		QualityReportInterval:     400 * time.Millisecond,
		ShutdownDelay:             10000 * time.Millisecond,
		MaxChecksumHistory:        64,
		PendingOutputLimit:        256,
		SyncRetryWarningThreshold: 20,
		SyncDurationWarning:       10000 * time.Millisecond,
		InputHistoryMultiplier:    2,
	}
}

// DebugProtocolConfig é o preset para depuração: tolerante a pausas.
func DebugProtocolConfig() ProtocolConfig {
	return ProtocolConfig{
		QualityReportInterval:     500 * time.Millisecond,
		ShutdownDelay:             30000 * time.Millisecond,
		MaxChecksumHistory:        128,
		PendingOutputLimit:        64,
		SyncRetryWarningThreshold: 5,
		SyncDurationWarning:       1000 * time.Millisecond,
		InputHistoryMultiplier:    2,
	}
}

// DesyncDetection configura a troca periódica de checksums.
type DesyncDetection struct {
	// Enabled liga a detecção.
	Enabled bool
	// Interval é o período em frames entre comparações.
	Interval uint32
}

// DesyncDetectionOff desliga a detecção de desync.
func DesyncDetectionOff() DesyncDetection {
	return DesyncDetection{}
}

// DesyncDetectionOn liga a detecção com o intervalo dado em frames.
func DesyncDetectionOn(interval uint32) DesyncDetection {
	if interval == 0 {
		interval = 1
	}
	return DesyncDetection{Enabled: true, Interval: interval}
}
