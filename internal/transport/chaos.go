// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transport

import (
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

// ChaosConfig parametriza a injeção de caos sobre um socket. Todos os
// efeitos são desligados por default; toda aleatoriedade vem de um único
// PRNG, então uma seed fixa reproduz exatamente a mesma sequência de caos.
type ChaosConfig struct {
	// Latency é a latência base adicionada a cada envio.
	Latency time.Duration
	// Jitter é a variação uniforme em [-Jitter, +Jitter] sobre a latência.
	Jitter time.Duration
	// SendLossRate é a probabilidade de descartar um pacote no envio.
	SendLossRate float64
	// ReceiveLossRate é a probabilidade de descartar um pacote na recepção.
	ReceiveLossRate float64
	// DuplicationRate é a probabilidade de duplicar um pacote enviado.
	DuplicationRate float64
	// ReorderBufferSize > 0 bufferiza pacotes recebidos e pode entregá-los
	// fora de ordem.
	ReorderBufferSize int
	// ReorderRate é a probabilidade de embaralhar dentro do buffer.
	ReorderRate float64
	// BurstLossRate é a probabilidade de iniciar uma rajada de perdas.
	BurstLossRate float64
	// BurstLossLength é o número de pacotes consecutivos descartados na rajada.
	BurstLossLength int
	// SendBytesPerSec > 0 limita a banda de envio com um token bucket;
	// pacotes sem tokens são descartados (semântica best-effort).
	SendBytesPerSec int64
	// Seed do PRNG. Zero usa uma seed derivada do relógio.
	Seed int64
}

// PassthroughChaosConfig não injeta caos algum.
func PassthroughChaosConfig() ChaosConfig {
	return ChaosConfig{}
}

// HighLatencyChaosConfig simula uma conexão de latência alta.
func HighLatencyChaosConfig(latency time.Duration) ChaosConfig {
	return ChaosConfig{Latency: latency, Jitter: latency / 10}
}

// LossyChaosConfig simula perda de pacotes simétrica.
func LossyChaosConfig(lossRate float64) ChaosConfig {
	return ChaosConfig{SendLossRate: lossRate, ReceiveLossRate: lossRate}
}

// PoorNetworkChaosConfig simula uma rede ruim típica.
func PoorNetworkChaosConfig() ChaosConfig {
	return ChaosConfig{
		Latency:         50 * time.Millisecond,
		Jitter:          20 * time.Millisecond,
		SendLossRate:    0.05,
		ReceiveLossRate: 0.05,
		DuplicationRate: 0.02,
	}
}

// TerribleNetworkChaosConfig simula uma rede péssima.
func TerribleNetworkChaosConfig() ChaosConfig {
	return ChaosConfig{
		Latency:           150 * time.Millisecond,
		Jitter:            75 * time.Millisecond,
		SendLossRate:      0.15,
		ReceiveLossRate:   0.15,
		DuplicationRate:   0.05,
		ReorderBufferSize: 4,
		ReorderRate:       0.25,
		BurstLossRate:     0.01,
		BurstLossLength:   5,
	}
}

// ChaosStats conta o que o middleware fez com os pacotes.
type ChaosStats struct {
	Sent       uint64
	Dropped    uint64
	Duplicated uint64
	Reordered  uint64
	BurstLost  uint64
	Throttled  uint64
}

// delayedPacket é um pacote agendado para entrega futura.
type delayedPacket struct {
	deliverAt time.Time
	payload   []byte
	addr      string
}

// ChaosSocket envolve um Socket injetando latência, jitter, perda,
// duplicação, rajadas e reordenação — tudo dirigido por um PRNG com seed.
// Expõe o mesmo contrato do socket puro; só o comportamento muda.
type ChaosSocket struct {
	inner   Socket
	cfg     ChaosConfig
	rng     *rand.Rand
	limiter *rate.Limiter

	inFlight      []delayedPacket
	reorderBuffer []Datagram
	burstLeft     int
	stats         ChaosStats
}

// NewChaosSocket envolve o socket com a configuração dada.
func NewChaosSocket(inner Socket, cfg ChaosConfig) *ChaosSocket {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	var limiter *rate.Limiter
	if cfg.SendBytesPerSec > 0 {
		burst := int(cfg.SendBytesPerSec)
		if burst > MaxDatagramSize*16 {
			burst = MaxDatagramSize * 16
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.SendBytesPerSec), burst)
	}
	return &ChaosSocket{
		inner:   inner,
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(seed)),
		limiter: limiter,
	}
}

// Stats retorna os contadores acumulados.
func (c *ChaosSocket) Stats() ChaosStats {
	return c.stats
}

// SendTo aplica os efeitos de envio e agenda o pacote.
func (c *ChaosSocket) SendTo(payload []byte, addr string) {
	c.flushDue()
	c.stats.Sent++

	// rajada em andamento consome pacotes incondicionalmente
	if c.burstLeft > 0 {
		c.burstLeft--
		c.stats.BurstLost++
		return
	}
	if c.cfg.BurstLossRate > 0 && c.rng.Float64() < c.cfg.BurstLossRate {
		c.burstLeft = c.cfg.BurstLossLength
		if c.burstLeft > 0 {
			c.burstLeft--
			c.stats.BurstLost++
			return
		}
	}
	if c.cfg.SendLossRate > 0 && c.rng.Float64() < c.cfg.SendLossRate {
		c.stats.Dropped++
		return
	}
	if c.limiter != nil && !c.limiter.AllowN(time.Now(), len(payload)) {
		c.stats.Throttled++
		return
	}

	copies := 1
	if c.cfg.DuplicationRate > 0 && c.rng.Float64() < c.cfg.DuplicationRate {
		copies = 2
		c.stats.Duplicated++
	}

	for i := 0; i < copies; i++ {
		buf := make([]byte, len(payload))
		copy(buf, payload)
		delay := c.cfg.Latency
		if c.cfg.Jitter > 0 {
			// uniforme em [-jitter, +jitter]
			delay += time.Duration(c.rng.Int63n(int64(2*c.cfg.Jitter))) - c.cfg.Jitter
		}
		if delay < 0 {
			delay = 0
		}
		if delay == 0 {
			c.inner.SendTo(buf, addr)
			continue
		}
		c.inFlight = append(c.inFlight, delayedPacket{
			deliverAt: time.Now().Add(delay),
			payload:   buf,
			addr:      addr,
		})
	}
}

// ReceiveAllMessages aplica os efeitos de recepção sobre o que o socket
// interno entregou, além de liberar pacotes de envio atrasados que já
// venceram.
func (c *ChaosSocket) ReceiveAllMessages() []Datagram {
	c.flushDue()

	incoming := c.inner.ReceiveAllMessages()
	var out []Datagram
	for _, dg := range incoming {
		if c.cfg.ReceiveLossRate > 0 && c.rng.Float64() < c.cfg.ReceiveLossRate {
			c.stats.Dropped++
			continue
		}
		if c.cfg.ReorderBufferSize > 0 {
			c.reorderBuffer = append(c.reorderBuffer, dg)
			if len(c.reorderBuffer) >= c.cfg.ReorderBufferSize {
				out = append(out, c.drainReorderBuffer()...)
			}
			continue
		}
		out = append(out, dg)
	}
	return out
}

// drainReorderBuffer embaralha pares do buffer com a probabilidade
// configurada e o entrega inteiro.
func (c *ChaosSocket) drainReorderBuffer() []Datagram {
	buf := c.reorderBuffer
	c.reorderBuffer = nil
	if c.cfg.ReorderRate > 0 && len(buf) > 1 {
		for i := range buf {
			if c.rng.Float64() < c.cfg.ReorderRate {
				j := c.rng.Intn(len(buf))
				if i != j {
					buf[i], buf[j] = buf[j], buf[i]
					c.stats.Reordered++
				}
			}
		}
	}
	return buf
}

// flushDue envia os pacotes atrasados cujo horário de entrega chegou.
func (c *ChaosSocket) flushDue() {
	if len(c.inFlight) == 0 {
		return
	}
	now := time.Now()
	remaining := c.inFlight[:0]
	for _, p := range c.inFlight {
		if !p.deliverAt.After(now) {
			c.inner.SendTo(p.payload, p.addr)
		} else {
			remaining = append(remaining, p)
		}
	}
	c.inFlight = remaining
}
