// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package frame define o vocabulário básico do engine de rollback:
// o índice de frame com sentinela NULL, aritmética protegida contra
// overflow, handles de jogadores e inputs por frame.
package frame

import "math"

// Frame é o índice de um tick da simulação. Todo estado do engine é
// endereçado por frame.
type Frame int32

// NullFrame representa "nenhum frame". Convencionado como -1.
const NullFrame Frame = -1

// IsNull informa se o frame é o sentinela NullFrame.
func (f Frame) IsNull() bool {
	return f == NullFrame
}

// SafeAdd soma delta ao frame com checagem de overflow.
// Retorna o resultado e ok=true, ou o valor saturado e ok=false quando
// a soma estoura o intervalo de int32. O chamador é responsável por
// reportar a violação de telemetria quando ok=false.
func SafeAdd(f Frame, delta int32) (Frame, bool) {
	sum := int64(f) + int64(delta)
	if sum > math.MaxInt32 {
		return Frame(math.MaxInt32), false
	}
	if sum < math.MinInt32 {
		return Frame(math.MinInt32), false
	}
	return Frame(sum), true
}

// SafeSub subtrai delta do frame com checagem de overflow.
// Mesmo contrato de SafeAdd.
func SafeSub(f Frame, delta int32) (Frame, bool) {
	diff := int64(f) - int64(delta)
	if diff > math.MaxInt32 {
		return Frame(math.MaxInt32), false
	}
	if diff < math.MinInt32 {
		return Frame(math.MinInt32), false
	}
	return Frame(diff), true
}

// Max retorna o maior entre dois frames. NullFrame (-1) compara como
// menor que qualquer frame válido.
func Max(a, b Frame) Frame {
	if a > b {
		return a
	}
	return b
}

// Min retorna o menor entre dois frames.
func Min(a, b Frame) Frame {
	if a < b {
		return a
	}
	return b
}
