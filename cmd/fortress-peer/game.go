// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/wallstop/fortress-rollback-sub001/internal/checksum"
	"github.com/wallstop/fortress-rollback-sub001/internal/frame"
	"github.com/wallstop/fortress-rollback-sub001/internal/gamesync"
)

// game é a simulação determinística do harness: um contador de frame e uma
// posição inteira por jogador, movida pelos inputs. Aritmética inteira
// apenas, para que dois processos produzam checksums idênticos.
type game struct {
	frame     int32
	positions []int64

	// compress liga a compressão zstd dos snapshots depositados no ring.
	compress bool
	enc      *zstd.Encoder
	dec      *zstd.Decoder

	rollbacks int
	saves     int
}

func newGame(numPlayers int, compress bool) (*game, error) {
	g := &game{
		positions: make([]int64, numPlayers),
		compress:  compress,
	}
	if compress {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		g.enc = enc
		g.dec = dec
	}
	return g, nil
}

// step avança a simulação com um input por jogador. O input é interpretado
// como um int32 big-endian somado à posição.
func (g *game) step(inputs []gamesync.SynchronizedInput) {
	for i, inp := range inputs {
		if i >= len(g.positions) {
			break
		}
		if inp.Status == frame.InputDisconnected {
			continue
		}
		if len(inp.Bytes) >= 4 {
			delta := int32(binary.BigEndian.Uint32(inp.Bytes[:4]))
			g.positions[i] += int64(delta)
		}
	}
	g.frame++
}

// serialize codifica o estado em bytes determinísticos.
func (g *game) serialize() []byte {
	buf := make([]byte, 0, 4+8*len(g.positions))
	buf = binary.BigEndian.AppendUint32(buf, uint32(g.frame))
	for _, p := range g.positions {
		buf = binary.BigEndian.AppendUint64(buf, uint64(p))
	}
	return buf
}

func (g *game) restore(data []byte) error {
	if len(data) < 4 || (len(data)-4)%8 != 0 {
		return fmt.Errorf("malformed game state of %d bytes", len(data))
	}
	g.frame = int32(binary.BigEndian.Uint32(data[:4]))
	count := (len(data) - 4) / 8
	g.positions = g.positions[:0]
	for i := 0; i < count; i++ {
		off := 4 + i*8
		g.positions = append(g.positions, int64(binary.BigEndian.Uint64(data[off:off+8])))
	}
	return nil
}

// checksumNow calcula o checksum do estado corrente (sempre sobre os bytes
// não comprimidos, para que peers com compressão diferente comparem igual).
func (g *game) checksumNow() checksum.Sum {
	return checksum.FNV1a(g.serialize())
}

// handleRequests aplica a lista de requests na ordem devolvida pela sessão.
func (g *game) handleRequests(requests []gamesync.Request) error {
	for _, req := range requests {
		switch req.Type {
		case gamesync.RequestSaveState:
			state := g.serialize()
			sum := checksum.FNV1a(state)
			if g.compress {
				state = g.enc.EncodeAll(state, nil)
			}
			if err := req.Cell.Save(req.Frame, state, &sum); err != nil {
				return fmt.Errorf("saving state for frame %d: %w", req.Frame, err)
			}
			g.saves++
		case gamesync.RequestLoadState:
			state, ok := req.Cell.Load()
			if !ok {
				return fmt.Errorf("load state for frame %d: cell holds no data", req.Frame)
			}
			if g.compress {
				raw, err := g.dec.DecodeAll(state, nil)
				if err != nil {
					return fmt.Errorf("decompressing state for frame %d: %w", req.Frame, err)
				}
				state = raw
			}
			if err := g.restore(state); err != nil {
				return fmt.Errorf("restoring state for frame %d: %w", req.Frame, err)
			}
			g.rollbacks++
		case gamesync.RequestAdvanceFrame:
			g.step(req.Inputs)
		}
	}
	return nil
}

// localInput gera o input determinístico do harness para (frame, handle):
// o mesmo par produz sempre os mesmos bytes em qualquer processo.
func localInput(f frame.Frame, handle int, inputSize int) []byte {
	buf := make([]byte, inputSize)
	if inputSize >= 4 {
		binary.BigEndian.PutUint32(buf[:4], uint32(int32(f)*(int32(handle)+1)))
	} else if inputSize > 0 {
		buf[0] = byte(f) ^ byte(handle)
	}
	return buf
}
