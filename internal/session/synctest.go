// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package session

import (
	"log/slog"
	"sort"

	"github.com/wallstop/fortress-rollback-sub001/internal/checksum"
	"github.com/wallstop/fortress-rollback-sub001/internal/frame"
	"github.com/wallstop/fortress-rollback-sub001/internal/gamesync"
	"github.com/wallstop/fortress-rollback-sub001/internal/protocol"
	"github.com/wallstop/fortress-rollback-sub001/internal/telemetry"
)

// SyncTestSession é uma sessão de processo único que valida o determinismo
// do host: a cada tick volta checkDistance frames, re-simula e compara os
// checksums re-salvos com os originais. Qualquer divergência indica
// não-determinismo na simulação.
type SyncTestSession struct {
	numPlayers    int
	inputSize     int
	maxPrediction int
	checkDistance int

	sync *gamesync.Layer

	// todos os jogadores são locais; o status dummy nunca desconecta
	dummyConnectStatus []protocol.ConnectionStatus

	stagedInputs map[frame.PlayerHandle][]byte

	// checksums colhidos das células após cada tick, por frame
	checksumHistory map[frame.Frame]checksum.Sum

	obs    telemetry.Observer
	logger *slog.Logger
}

func newSyncTestSession(b *Builder, checkDistance int) *SyncTestSession {
	status := make([]protocol.ConnectionStatus, b.numPlayers)
	for i := range status {
		status[i] = protocol.NewConnectionStatus()
	}
	s := &SyncTestSession{
		numPlayers:         b.numPlayers,
		inputSize:          b.inputSize,
		maxPrediction:      b.maxPrediction,
		checkDistance:      checkDistance,
		sync:               gamesync.NewLayer(b.numPlayers, b.maxPrediction, b.inputSize, b.obs),
		dummyConnectStatus: status,
		stagedInputs:       make(map[frame.PlayerHandle][]byte),
		checksumHistory:    make(map[frame.Frame]checksum.Sum),
		obs:                b.obs,
		logger:             b.logOrDefault().With("component", "synctest_session"),
	}
	for h := 0; h < b.numPlayers; h++ {
		// erros impossíveis: handle sempre válido aqui
		_ = s.sync.SetFrameDelay(frame.PlayerHandle(h), b.inputDelay)
	}
	return s
}

// CurrentFrame retorna o frame atual da simulação.
func (s *SyncTestSession) CurrentFrame() frame.Frame {
	return s.sync.CurrentFrame()
}

// NumPlayers retorna o número de jogadores.
func (s *SyncTestSession) NumPlayers() int {
	return s.numPlayers
}

// AddLocalInput registra o input de um jogador para o tick corrente.
func (s *SyncTestSession) AddLocalInput(handle frame.PlayerHandle, inputBytes []byte) error {
	if int(handle) < 0 || int(handle) >= s.numPlayers {
		return &frame.InvalidPlayerHandleError{
			Handle:    handle,
			MaxHandle: frame.PlayerHandle(s.numPlayers - 1),
		}
	}
	if len(inputBytes) != s.inputSize {
		return &frame.InvalidRequestError{Info: "input size mismatch"}
	}
	staged := make([]byte, s.inputSize)
	copy(staged, inputBytes)
	s.stagedInputs[handle] = staged
	return nil
}

// AdvanceFrame executa um tick: colhe os checksums depositados pelo host
// no tick anterior, volta checkDistance frames, re-simula e então avança
// um frame novo. Retorna MismatchedChecksumError quando a re-simulação
// produziu checksums diferentes dos originais.
func (s *SyncTestSession) AdvanceFrame() ([]Request, error) {
	// compara o que o host salvou desde o último tick com o histórico
	mismatched := s.harvestChecksums()
	if len(mismatched) > 0 {
		return nil, &frame.MismatchedChecksumError{
			CurrentFrame:     s.sync.CurrentFrame(),
			MismatchedFrames: mismatched,
		}
	}

	for h := 0; h < s.numPlayers; h++ {
		if _, ok := s.stagedInputs[frame.PlayerHandle(h)]; !ok {
			return nil, &frame.MissingInputError{
				Player: frame.PlayerHandle(h),
				Frame:  s.sync.CurrentFrame(),
			}
		}
	}

	var requests []Request
	currentFrame := s.sync.CurrentFrame()

	// rollback deliberado: volta checkDistance frames e re-simula
	if s.checkDistance > 0 && currentFrame >= frame.Frame(s.checkDistance) {
		target := currentFrame - frame.Frame(s.checkDistance)
		loadReq, err := s.sync.LoadFrame(target)
		if err != nil {
			return nil, err
		}
		requests = append(requests, loadReq)
		s.sync.ResetPrediction()

		for i := 0; i < s.checkDistance; i++ {
			if i > 0 {
				requests = append(requests, s.sync.SaveCurrentState())
			}
			inputs, err := s.sync.SynchronizedInputs(s.dummyConnectStatus)
			if err != nil {
				return nil, err
			}
			replayFrame := s.sync.CurrentFrame()
			s.sync.AdvanceFrame()
			requests = append(requests, Request{
				Type:   gamesync.RequestAdvanceFrame,
				Frame:  replayFrame,
				Inputs: inputs,
			})
		}
		if s.sync.CurrentFrame() != currentFrame {
			return nil, &frame.InternalError{Info: "synctest replay frame mismatch"}
		}
	}

	// adiciona os inputs do tick
	for h := 0; h < s.numPlayers; h++ {
		handle := frame.PlayerHandle(h)
		staged := s.stagedInputs[handle]
		actual := s.sync.AddLocalInput(handle, frame.PlayerInput{Frame: currentFrame, Bytes: staged})
		if actual.IsNull() {
			return nil, &frame.InvalidRequestError{Info: "synctest input rejected as non-sequential"}
		}
		s.dummyConnectStatus[h].LastFrame = actual
		delete(s.stagedInputs, handle)
	}

	// tick normal: salva e avança
	requests = append(requests, s.sync.SaveCurrentState())
	inputs, err := s.sync.SynchronizedInputs(s.dummyConnectStatus)
	if err != nil {
		return nil, err
	}
	s.sync.AdvanceFrame()
	requests = append(requests, Request{
		Type:   gamesync.RequestAdvanceFrame,
		Frame:  currentFrame,
		Inputs: inputs,
	})

	// mantém as filas curtas como uma sessão real faria
	confirmed := s.sync.CurrentFrame() - frame.Frame(s.checkDistance)
	if confirmed > 0 {
		s.sync.SetLastConfirmedFrame(confirmed, gamesync.SaveEveryFrame)
	}

	return requests, nil
}

// harvestChecksums lê os checksums das células vivas, compara com o que
// foi visto antes para o mesmo frame e atualiza o histórico. Uma célula
// re-salva com checksum diferente denuncia simulação não-determinística.
func (s *SyncTestSession) harvestChecksums() []frame.Frame {
	var mismatched []frame.Frame
	current := s.sync.CurrentFrame()

	oldest := current - frame.Frame(s.maxPrediction)
	if oldest < 0 {
		oldest = 0
	}
	for f := oldest; f <= current; f++ {
		cell := s.sync.SavedStateByFrame(f)
		if cell == nil {
			continue
		}
		sum, ok := cell.Checksum()
		if !ok {
			continue
		}
		if prev, seen := s.checksumHistory[f]; seen && prev != sum {
			telemetry.ReportFrame(s.obs, telemetry.SeverityError, telemetry.KindChecksumMismatch, f,
				"resimulated checksum %s differs from original %s", sum, prev)
			mismatched = append(mismatched, f)
		}
		s.checksumHistory[f] = sum
	}
	sort.Slice(mismatched, func(i, j int) bool { return mismatched[i] < mismatched[j] })

	// poda o histórico fora da janela
	for f := range s.checksumHistory {
		if f < oldest {
			delete(s.checksumHistory, f)
		}
	}
	return mismatched
}
