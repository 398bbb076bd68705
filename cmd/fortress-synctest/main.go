// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// fortress-synctest valida o determinismo de uma simulação em processo
// único: a cada tick a sessão volta check-distance frames, re-simula e
// compara checksums. Sai com código 1 ao primeiro mismatch.
package main

import (
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/wallstop/fortress-rollback-sub001/internal/checksum"
	"github.com/wallstop/fortress-rollback-sub001/internal/frame"
	"github.com/wallstop/fortress-rollback-sub001/internal/gamesync"
	"github.com/wallstop/fortress-rollback-sub001/internal/logging"
	"github.com/wallstop/fortress-rollback-sub001/internal/session"
	"github.com/wallstop/fortress-rollback-sub001/internal/telemetry"
)

func main() {
	numPlayers := flag.Int("players", 2, "number of players")
	frames := flag.Int("frames", 600, "frames to simulate")
	checkDistance := flag.Int("check-distance", 2, "frames to roll back and resimulate per tick")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger, closer := logging.NewLogger(*logLevel, "text", "")
	defer closer.Close()

	obs := telemetry.NewSlogObserver(logger)

	sess, err := session.NewBuilder(*numPlayers, 4).
		WithObserver(obs).
		WithLogger(logger).
		StartSyncTestSession(*checkDistance)
	if err != nil {
		logger.Error("failed to start synctest session", "error", err)
		os.Exit(1)
	}

	positions := make([]int64, *numPlayers)
	var stateFrame int32

	serialize := func() []byte {
		buf := binary.BigEndian.AppendUint32(nil, uint32(stateFrame))
		for _, p := range positions {
			buf = binary.BigEndian.AppendUint64(buf, uint64(p))
		}
		return buf
	}
	restore := func(data []byte) {
		stateFrame = int32(binary.BigEndian.Uint32(data[:4]))
		for i := range positions {
			off := 4 + i*8
			positions[i] = int64(binary.BigEndian.Uint64(data[off : off+8]))
		}
	}

	for tick := 0; tick < *frames; tick++ {
		current := sess.CurrentFrame()
		for h := 0; h < *numPlayers; h++ {
			input := make([]byte, 4)
			binary.BigEndian.PutUint32(input, uint32(int32(current)*(int32(h)+1)))
			if err := sess.AddLocalInput(frame.PlayerHandle(h), input); err != nil {
				logger.Error("failed to add input", "error", err)
				os.Exit(1)
			}
		}

		requests, err := sess.AdvanceFrame()
		if err != nil {
			var mismatch *frame.MismatchedChecksumError
			if errors.As(err, &mismatch) {
				logger.Error("simulation is not deterministic",
					"frame", int32(mismatch.CurrentFrame),
					"mismatched_frames", fmt.Sprintf("%v", mismatch.MismatchedFrames))
				os.Exit(1)
			}
			logger.Error("advance failed", "error", err)
			os.Exit(1)
		}

		for _, req := range requests {
			switch req.Type {
			case gamesync.RequestSaveState:
				state := serialize()
				sum := checksum.FNV1a(state)
				if err := req.Cell.Save(req.Frame, state, &sum); err != nil {
					logger.Error("save failed", "error", err)
					os.Exit(1)
				}
			case gamesync.RequestLoadState:
				state, ok := req.Cell.Load()
				if !ok {
					logger.Error("load failed: empty cell", "frame", int32(req.Frame))
					os.Exit(1)
				}
				restore(state)
			case gamesync.RequestAdvanceFrame:
				for i, inp := range req.Inputs {
					if len(inp.Bytes) >= 4 {
						positions[i] += int64(int32(binary.BigEndian.Uint32(inp.Bytes[:4])))
					}
				}
				stateFrame++
			}
		}
	}

	logger.Info("synctest passed",
		"frames", *frames,
		"check_distance", *checkDistance,
		"final_checksum", checksum.FNV1a(serialize()).String())
}
