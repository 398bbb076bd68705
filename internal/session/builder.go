// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package session

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/wallstop/fortress-rollback-sub001/internal/frame"
	"github.com/wallstop/fortress-rollback-sub001/internal/gamesync"
	"github.com/wallstop/fortress-rollback-sub001/internal/protocol"
	"github.com/wallstop/fortress-rollback-sub001/internal/telemetry"
	"github.com/wallstop/fortress-rollback-sub001/internal/transport"
)

// Defaults do builder.
const (
	DefaultMaxPrediction   = 8
	DefaultFPS             = 60
	DefaultInputDelay      = 0
	DefaultSpectatorBuffer = 60
	DefaultMaxFramesBehind = 10
	DefaultCatchupSpeed    = 1

	defaultDisconnectTimeout     = 2000 * time.Millisecond
	defaultDisconnectNotifyStart = 500 * time.Millisecond
)

// Builder monta sessões P2P, de espectador e de synctest. Os métodos With*
// retornam o próprio builder para encadeamento; a validação pesada
// acontece nos métodos Start*.
type Builder struct {
	numPlayers int
	inputSize  int

	maxPrediction int
	inputDelay    int
	fps           int

	desync    protocol.DesyncDetection
	saveMode  gamesync.SaveMode
	syncCfg   protocol.SyncConfig
	protoCfg  protocol.ProtocolConfig
	tsWindow  int

	disconnectTimeout     time.Duration
	disconnectNotifyStart time.Duration

	spectatorBuffer int
	maxFramesBehind int
	catchupSpeed    int

	registry *PlayerRegistry

	obs    telemetry.Observer
	logger *slog.Logger

	err error
}

// NewBuilder cria um builder para numPlayers jogadores com inputs de
// inputSize bytes.
func NewBuilder(numPlayers, inputSize int) *Builder {
	b := &Builder{
		numPlayers:            numPlayers,
		inputSize:             inputSize,
		maxPrediction:         DefaultMaxPrediction,
		inputDelay:            DefaultInputDelay,
		fps:                   DefaultFPS,
		saveMode:              gamesync.SaveEveryFrame,
		syncCfg:               protocol.DefaultSyncConfig(),
		protoCfg:              protocol.DefaultProtocolConfig(),
		tsWindow:              protocol.DefaultTimeSyncWindow,
		disconnectTimeout:     defaultDisconnectTimeout,
		disconnectNotifyStart: defaultDisconnectNotifyStart,
		spectatorBuffer:       DefaultSpectatorBuffer,
		maxFramesBehind:       DefaultMaxFramesBehind,
		catchupSpeed:          DefaultCatchupSpeed,
		registry:              NewPlayerRegistry(),
	}
	if numPlayers <= 0 {
		b.err = &frame.InvalidRequestError{Info: "number of players must be greater than zero"}
	}
	if inputSize <= 0 && b.err == nil {
		b.err = &frame.InvalidRequestError{Info: "input size must be greater than zero"}
	}
	return b
}

// AddPlayer registra um participante. Jogadores usam handles 0..N-1;
// espectadores usam handles >= N.
func (b *Builder) AddPlayer(p Player, handle frame.PlayerHandle) *Builder {
	if b.err != nil {
		return b
	}
	switch p.Type {
	case PlayerLocal, PlayerRemote:
		if int(handle) < 0 || int(handle) >= b.numPlayers {
			b.err = &frame.InvalidPlayerHandleError{
				Handle:    handle,
				MaxHandle: frame.PlayerHandle(b.numPlayers - 1),
			}
			return b
		}
	case PlayerSpectator:
		if int(handle) < b.numPlayers {
			b.err = &frame.InvalidRequestError{
				Info: fmt.Sprintf("spectator handle %d must be >= num players %d", handle, b.numPlayers),
			}
			return b
		}
	}
	if (p.Type == PlayerRemote || p.Type == PlayerSpectator) && p.Addr == "" {
		b.err = &frame.InvalidRequestError{Info: "remote player without address"}
		return b
	}
	if err := b.registry.Add(handle, p); err != nil {
		b.err = err
	}
	return b
}

// WithMaxPrediction define a janela de rollback (e a profundidade do ring
// de estados salvos).
func (b *Builder) WithMaxPrediction(frames int) *Builder {
	if b.err == nil && frames <= 0 {
		b.err = &frame.InvalidRequestError{Info: "max prediction must be greater than zero"}
		return b
	}
	b.maxPrediction = frames
	return b
}

// WithInputDelay define o input delay aplicado a inputs locais.
func (b *Builder) WithInputDelay(frames int) *Builder {
	b.inputDelay = frames
	return b
}

// WithFPS define o fps usado na conversão frame advantage <-> ms.
func (b *Builder) WithFPS(fps int) *Builder {
	if b.err == nil && fps <= 0 {
		b.err = &frame.InvalidRequestError{Info: "fps must be greater than zero"}
		return b
	}
	b.fps = fps
	return b
}

// WithDesyncDetection configura a troca periódica de checksums.
func (b *Builder) WithDesyncDetection(d protocol.DesyncDetection) *Builder {
	b.desync = d
	return b
}

// WithSaveMode configura o modo de save (a cada frame ou esparso).
func (b *Builder) WithSaveMode(mode gamesync.SaveMode) *Builder {
	b.saveMode = mode
	return b
}

// WithSyncConfig configura os tempos da fase de sincronização.
func (b *Builder) WithSyncConfig(cfg protocol.SyncConfig) *Builder {
	if b.err == nil && (cfg.SyncRetryInterval <= 0 || cfg.KeepaliveInterval <= 0 ||
		cfg.RunningRetryInterval <= 0 || cfg.NumSyncPackets == 0) {
		b.err = &frame.InvalidRequestError{Info: "sync config intervals must be greater than zero"}
		return b
	}
	b.syncCfg = cfg
	return b
}

// WithProtocolConfig configura os parâmetros da fase Running.
func (b *Builder) WithProtocolConfig(cfg protocol.ProtocolConfig) *Builder {
	if cfg.InputHistoryMultiplier <= 0 {
		cfg.InputHistoryMultiplier = protocol.DefaultProtocolConfig().InputHistoryMultiplier
	}
	b.protoCfg = cfg
	return b
}

// WithTimeSyncWindow configura a janela do estimador de frame advantage.
func (b *Builder) WithTimeSyncWindow(frames int) *Builder {
	b.tsWindow = frames
	return b
}

// WithDisconnectTimeout configura o tempo de silêncio que desconecta um peer.
func (b *Builder) WithDisconnectTimeout(d time.Duration) *Builder {
	b.disconnectTimeout = d
	return b
}

// WithDisconnectNotifyStart configura o tempo de silêncio que dispara o
// evento NetworkInterrupted.
func (b *Builder) WithDisconnectNotifyStart(d time.Duration) *Builder {
	b.disconnectNotifyStart = d
	return b
}

// WithMaxFramesBehind configura o atraso máximo de um espectador antes do
// catch-up. O mínimo é 1.
func (b *Builder) WithMaxFramesBehind(frames int) *Builder {
	if b.err == nil && frames < 1 {
		b.err = &frame.InvalidRequestError{Info: "max frames behind must be at least 1"}
		return b
	}
	b.maxFramesBehind = frames
	return b
}

// WithCatchupSpeed configura quantos frames por tick o espectador avança
// quando está atrasado demais.
func (b *Builder) WithCatchupSpeed(speed int) *Builder {
	if b.err == nil && speed < 1 {
		b.err = &frame.InvalidRequestError{Info: "catchup speed must be at least 1"}
		return b
	}
	b.catchupSpeed = speed
	return b
}

// WithObserver injeta o observer de violações de telemetria. Preferível a
// qualquer sink global: a sessão repassa o observer a todos os componentes.
func (b *Builder) WithObserver(obs telemetry.Observer) *Builder {
	b.obs = obs
	return b
}

// WithLogger injeta o logger estruturado da sessão.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) logOrDefault() *slog.Logger {
	if b.logger != nil {
		return b.logger
	}
	return slog.Default()
}

// StartP2PSession valida o registro e inicia a sessão P2P sobre o socket
// dado. O handshake começa imediatamente; a sessão entra em Running quando
// todos os peers sincronizarem.
func (b *Builder) StartP2PSession(sock transport.Socket) (*P2PSession, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.registry.NumPlayers() != b.numPlayers {
		return nil, &frame.InvalidRequestError{
			Info: fmt.Sprintf("registered %d players, expected %d", b.registry.NumPlayers(), b.numPlayers),
		}
	}
	return newP2PSession(b, sock)
}

// StartSpectatorSession inicia uma sessão de espectador conectada ao host.
func (b *Builder) StartSpectatorSession(hostAddr string, sock transport.Socket) (*SpectatorSession, error) {
	if b.err != nil {
		return nil, b.err
	}
	if hostAddr == "" {
		return nil, &frame.InvalidRequestError{Info: "spectator session requires a host address"}
	}
	return newSpectatorSession(b, hostAddr, sock)
}

// StartSyncTestSession inicia uma sessão de teste em processo único que
// faz rollback de checkDistance frames a cada tick e compara checksums.
func (b *Builder) StartSyncTestSession(checkDistance int) (*SyncTestSession, error) {
	if b.err != nil {
		return nil, b.err
	}
	if checkDistance < 0 || checkDistance >= b.maxPrediction {
		return nil, &frame.InvalidRequestError{
			Info: fmt.Sprintf("check distance %d must be in [0, max prediction %d)", checkDistance, b.maxPrediction),
		}
	}
	return newSyncTestSession(b, checkDistance), nil
}
