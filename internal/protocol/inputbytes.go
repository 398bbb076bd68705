// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"github.com/wallstop/fortress-rollback-sub001/internal/frame"
	"github.com/wallstop/fortress-rollback-sub001/internal/telemetry"
)

// inputRecord é o registro de bytes que representa os inputs de um client
// para um frame — possivelmente de vários jogadores locais concatenados em
// ordem ascendente de handle.
type inputRecord struct {
	frame frame.Frame
	bytes []byte
}

// zeroedRecord cria o registro em branco (referência inicial do delta).
func zeroedRecord(inputSize, numPlayers int) inputRecord {
	return inputRecord{
		frame: frame.NullFrame,
		bytes: make([]byte, inputSize*numPlayers),
	}
}

// recordFromInputs concatena os inputs dos handles dados (já ordenados)
// em um registro único. Todos os inputs de um mesmo envio devem ter o
// mesmo frame; divergências são reportadas e o primeiro frame não-NULL
// prevalece.
func recordFromInputs(inputSize int, inputs []frame.PlayerInput, obs telemetry.Observer) inputRecord {
	rec := inputRecord{frame: frame.NullFrame, bytes: make([]byte, 0, inputSize*len(inputs))}
	for i, inp := range inputs {
		if rec.frame.IsNull() && !inp.Frame.IsNull() {
			rec.frame = inp.Frame
		} else if !rec.frame.IsNull() && !inp.Frame.IsNull() && rec.frame != inp.Frame {
			telemetry.ReportFrame(obs, telemetry.SeverityWarning, telemetry.KindInternalError, rec.frame,
				"input frame mismatch during serialization: local input %d has frame %d", i, inp.Frame)
		}
		if len(inp.Bytes) != inputSize {
			telemetry.ReportFrame(obs, telemetry.SeverityError, telemetry.KindNetworkProtocol, inp.Frame,
				"local input %d has %d bytes, session input size is %d", i, len(inp.Bytes), inputSize)
			return inputRecord{frame: frame.NullFrame}
		}
		rec.bytes = append(rec.bytes, inp.Bytes...)
	}
	return rec
}

// toPlayerInputs fatia o registro em um input de tamanho fixo por jogador.
func (r inputRecord) toPlayerInputs(inputSize, numPlayers int, obs telemetry.Observer) []frame.PlayerInput {
	if numPlayers == 0 || len(r.bytes) != inputSize*numPlayers {
		telemetry.ReportFrame(obs, telemetry.SeverityError, telemetry.KindNetworkProtocol, r.frame,
			"input record of %d bytes cannot be split into %d players of %d bytes",
			len(r.bytes), numPlayers, inputSize)
		return nil
	}
	out := make([]frame.PlayerInput, 0, numPlayers)
	for p := 0; p < numPlayers; p++ {
		b := make([]byte, inputSize)
		copy(b, r.bytes[p*inputSize:(p+1)*inputSize])
		out = append(out, frame.PlayerInput{Frame: r.frame, Bytes: b})
	}
	return out
}
