// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package session

import (
	"sort"

	"github.com/wallstop/fortress-rollback-sub001/internal/frame"
)

// PlayerKind classifica um participante da sessão.
type PlayerKind int

const (
	// PlayerLocal produz inputs neste processo.
	PlayerLocal PlayerKind = iota
	// PlayerRemote produz inputs em outro peer.
	PlayerRemote
	// PlayerSpectator só recebe o stream de inputs confirmados.
	PlayerSpectator
)

func (k PlayerKind) String() string {
	switch k {
	case PlayerLocal:
		return "local"
	case PlayerRemote:
		return "remote"
	case PlayerSpectator:
		return "spectator"
	default:
		return "unknown"
	}
}

// Player descreve um participante: o tipo e, para remotos e espectadores,
// o endereço do peer dono.
type Player struct {
	Handle frame.PlayerHandle
	Type   PlayerKind
	Addr   string
}

// PlayerRegistry mapeia handles para participantes.
type PlayerRegistry struct {
	players map[frame.PlayerHandle]Player
}

// NewPlayerRegistry cria um registro vazio.
func NewPlayerRegistry() *PlayerRegistry {
	return &PlayerRegistry{players: make(map[frame.PlayerHandle]Player)}
}

// Add registra um participante; handles duplicados são rejeitados.
func (r *PlayerRegistry) Add(handle frame.PlayerHandle, p Player) error {
	if _, exists := r.players[handle]; exists {
		return &frame.InvalidRequestError{Info: "duplicate player handle"}
	}
	p.Handle = handle
	r.players[handle] = p
	return nil
}

// LocalHandles retorna os handles locais em ordem crescente.
func (r *PlayerRegistry) LocalHandles() []frame.PlayerHandle {
	return r.handlesOf(PlayerLocal)
}

// RemoteHandles retorna os handles remotos em ordem crescente.
func (r *PlayerRegistry) RemoteHandles() []frame.PlayerHandle {
	return r.handlesOf(PlayerRemote)
}

// SpectatorHandles retorna os handles de espectadores em ordem crescente.
func (r *PlayerRegistry) SpectatorHandles() []frame.PlayerHandle {
	return r.handlesOf(PlayerSpectator)
}

// HandlesByAddress retorna os handles pertencentes ao endereço dado, em
// ordem crescente.
func (r *PlayerRegistry) HandlesByAddress(addr string) []frame.PlayerHandle {
	var out []frame.PlayerHandle
	for h, p := range r.players {
		if (p.Type == PlayerRemote || p.Type == PlayerSpectator) && p.Addr == addr {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Get retorna o participante do handle.
func (r *PlayerRegistry) Get(handle frame.PlayerHandle) (Player, bool) {
	p, ok := r.players[handle]
	return p, ok
}

// NumPlayers retorna quantos jogadores (locais + remotos) há no registro.
func (r *PlayerRegistry) NumPlayers() int {
	n := 0
	for _, p := range r.players {
		if p.Type != PlayerSpectator {
			n++
		}
	}
	return n
}

// NumSpectators retorna quantos espectadores há no registro.
func (r *PlayerRegistry) NumSpectators() int {
	return len(r.players) - r.NumPlayers()
}

func (r *PlayerRegistry) handlesOf(kind PlayerKind) []frame.PlayerHandle {
	var out []frame.PlayerHandle
	for h, p := range r.players {
		if p.Type == kind {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
