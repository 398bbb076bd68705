// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package protocol implementa o protocolo binário por peer sobre
// datagramas UDP: o conjunto de mensagens, o codec determinístico, a
// compressão delta XOR+RLE dos inputs, o estimador de time sync e a
// máquina de estados do endpoint.
package protocol

import (
	"errors"

	"github.com/wallstop/fortress-rollback-sub001/internal/checksum"
	"github.com/wallstop/fortress-rollback-sub001/internal/frame"
)

// MessageType identifica a variante do corpo de uma mensagem.
type MessageType byte

const (
	MsgSyncRequest    MessageType = 0x01
	MsgSyncReply      MessageType = 0x02
	MsgInput          MessageType = 0x03
	MsgInputAck       MessageType = 0x04
	MsgQualityReport  MessageType = 0x05
	MsgQualityReply   MessageType = 0x06
	MsgChecksumReport MessageType = 0x07
	MsgKeepAlive      MessageType = 0x08
)

func (t MessageType) String() string {
	switch t {
	case MsgSyncRequest:
		return "sync_request"
	case MsgSyncReply:
		return "sync_reply"
	case MsgInput:
		return "input"
	case MsgInputAck:
		return "input_ack"
	case MsgQualityReport:
		return "quality_report"
	case MsgQualityReply:
		return "quality_reply"
	case MsgChecksumReport:
		return "checksum_report"
	case MsgKeepAlive:
		return "keep_alive"
	default:
		return "unknown"
	}
}

// Erros do protocolo.
var (
	ErrInvalidMagic    = errors.New("protocol: invalid zero magic")
	ErrUnknownMessage  = errors.New("protocol: unknown message type")
	ErrTruncatedFrame  = errors.New("protocol: truncated message")
	ErrTrailingBytes   = errors.New("protocol: trailing bytes after message body")
	ErrPayloadTooLarge = errors.New("protocol: payload exceeds length field")
)

// ConnectionStatus é o par (desconectado, último frame) de um jogador,
// mantido pela sessão e carregado em toda mensagem Input para que todos
// os peers concordem sobre quem saiu.
type ConnectionStatus struct {
	Disconnected bool
	LastFrame    frame.Frame
}

// NewConnectionStatus retorna o status default (conectado, frame NULL).
func NewConnectionStatus() ConnectionStatus {
	return ConnectionStatus{Disconnected: false, LastFrame: frame.NullFrame}
}

// Body é o corpo tipado de uma mensagem do protocolo.
type Body interface {
	// Type retorna a variante do corpo no wire.
	Type() MessageType
}

// SyncRequest pede que o peer devolva o valor aleatório.
type SyncRequest struct {
	Random uint32
}

func (SyncRequest) Type() MessageType { return MsgSyncRequest }

// SyncReply ecoa o valor aleatório de um SyncRequest.
type SyncReply struct {
	Random uint32
}

func (SyncReply) Type() MessageType { return MsgSyncReply }

// Input carrega inputs locais codificados em delta-RLE, além do status de
// conexão de todos os jogadores e o ack do último input recebido.
type Input struct {
	PeerConnectStatus   []ConnectionStatus
	DisconnectRequested bool
	StartFrame          frame.Frame
	AckFrame            frame.Frame
	Bytes               []byte
}

func (Input) Type() MessageType { return MsgInput }

// InputAck confirma o último frame de input recebido.
type InputAck struct {
	AckFrame frame.Frame
}

func (InputAck) Type() MessageType { return MsgInputAck }

// QualityReport carrega o frame advantage local e o relógio de parede do
// remetente em ms desde epoch, para cálculo de RTT.
//
// FrameAdvantage usa int16 em vez de int8: em pausas longas (aba em
// background, debugger) o valor excede facilmente ±127 em FPS comuns.
type QualityReport struct {
	FrameAdvantage int16
	Ping           uint64
}

func (QualityReport) Type() MessageType { return MsgQualityReport }

// QualityReply ecoa o timestamp de um QualityReport.
type QualityReply struct {
	Pong uint64
}

func (QualityReply) Type() MessageType { return MsgQualityReply }

// ChecksumReport publica o checksum local do estado em um frame, para a
// detecção de desync.
type ChecksumReport struct {
	Frame    frame.Frame
	Checksum checksum.Sum
}

func (ChecksumReport) Type() MessageType { return MsgChecksumReport }

// KeepAlive mantém o fluxo de pacotes vivo em períodos de silêncio.
type KeepAlive struct{}

func (KeepAlive) Type() MessageType { return MsgKeepAlive }

// Message é um datagrama do protocolo: header com o magic de 16 bits do
// remetente mais um corpo tipado.
type Message struct {
	Magic uint16
	Body  Body
}
