// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/wallstop/fortress-rollback-sub001/internal/checksum"
	"github.com/wallstop/fortress-rollback-sub001/internal/frame"
)

// O codec é determinístico por construção: campos de largura fixa em
// big-endian, sem inteiros de comprimento variável. Duas serializações de
// mensagens iguais produzem bytes idênticos em qualquer plataforma — os
// bytes participam do delta XOR e dos checksums.

// MaxConnectStatus limita o vetor de status de conexão em uma mensagem
// Input (1 byte de contagem no wire).
const MaxConnectStatus = 255

// Encode serializa a mensagem em um datagrama.
// Formato: [Magic uint16] [Type 1B] [corpo].
func Encode(msg Message) ([]byte, error) {
	if msg.Body == nil {
		return nil, fmt.Errorf("encoding message: nil body")
	}
	if msg.Magic == 0 {
		return nil, ErrInvalidMagic
	}
	buf := make([]byte, 3, 64)
	binary.BigEndian.PutUint16(buf[0:2], msg.Magic)
	buf[2] = byte(msg.Body.Type())

	switch body := msg.Body.(type) {
	case SyncRequest:
		// Formato: [Random uint32]
		buf = binary.BigEndian.AppendUint32(buf, body.Random)
	case SyncReply:
		// Formato: [Random uint32]
		buf = binary.BigEndian.AppendUint32(buf, body.Random)
	case Input:
		// Formato: [NumStatus 1B] [NumStatus x (Disconnected 1B + LastFrame int32)]
		//          [DisconnectRequested 1B] [StartFrame int32] [AckFrame int32]
		//          [BytesLen uint16] [Bytes]
		if len(body.PeerConnectStatus) > MaxConnectStatus {
			return nil, fmt.Errorf("encoding input: %d connect status entries exceed %d",
				len(body.PeerConnectStatus), MaxConnectStatus)
		}
		buf = append(buf, byte(len(body.PeerConnectStatus)))
		for _, st := range body.PeerConnectStatus {
			buf = append(buf, boolByte(st.Disconnected))
			buf = binary.BigEndian.AppendUint32(buf, uint32(st.LastFrame))
		}
		buf = append(buf, boolByte(body.DisconnectRequested))
		buf = binary.BigEndian.AppendUint32(buf, uint32(body.StartFrame))
		buf = binary.BigEndian.AppendUint32(buf, uint32(body.AckFrame))
		if len(body.Bytes) > 0xFFFF {
			return nil, fmt.Errorf("%w: input payload of %d bytes", ErrPayloadTooLarge, len(body.Bytes))
		}
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(body.Bytes)))
		buf = append(buf, body.Bytes...)
	case InputAck:
		// Formato: [AckFrame int32]
		buf = binary.BigEndian.AppendUint32(buf, uint32(body.AckFrame))
	case QualityReport:
		// Formato: [FrameAdvantage int16] [Ping uint64]
		buf = binary.BigEndian.AppendUint16(buf, uint16(body.FrameAdvantage))
		buf = binary.BigEndian.AppendUint64(buf, body.Ping)
	case QualityReply:
		// Formato: [Pong uint64]
		buf = binary.BigEndian.AppendUint64(buf, body.Pong)
	case ChecksumReport:
		// Formato: [Frame int32] [Checksum 16B]
		buf = binary.BigEndian.AppendUint32(buf, uint32(body.Frame))
		buf = append(buf, body.Checksum[:]...)
	case KeepAlive:
		// sem corpo
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, msg.Body)
	}
	return buf, nil
}

// Decode desserializa um datagrama em uma mensagem. Bytes sobrando após o
// corpo são um erro: datagramas carregam exatamente uma mensagem.
func Decode(data []byte) (Message, error) {
	r := wireReader{data: data}
	magic, err := r.uint16()
	if err != nil {
		return Message{}, fmt.Errorf("reading message magic: %w", err)
	}
	typ, err := r.byte()
	if err != nil {
		return Message{}, fmt.Errorf("reading message type: %w", err)
	}

	msg := Message{Magic: magic}
	switch MessageType(typ) {
	case MsgSyncRequest:
		random, err := r.uint32()
		if err != nil {
			return Message{}, fmt.Errorf("reading sync request: %w", err)
		}
		msg.Body = SyncRequest{Random: random}
	case MsgSyncReply:
		random, err := r.uint32()
		if err != nil {
			return Message{}, fmt.Errorf("reading sync reply: %w", err)
		}
		msg.Body = SyncReply{Random: random}
	case MsgInput:
		body, err := decodeInput(&r)
		if err != nil {
			return Message{}, err
		}
		msg.Body = body
	case MsgInputAck:
		ack, err := r.frame()
		if err != nil {
			return Message{}, fmt.Errorf("reading input ack: %w", err)
		}
		msg.Body = InputAck{AckFrame: ack}
	case MsgQualityReport:
		adv, err := r.uint16()
		if err != nil {
			return Message{}, fmt.Errorf("reading quality report advantage: %w", err)
		}
		ping, err := r.uint64()
		if err != nil {
			return Message{}, fmt.Errorf("reading quality report ping: %w", err)
		}
		msg.Body = QualityReport{FrameAdvantage: int16(adv), Ping: ping}
	case MsgQualityReply:
		pong, err := r.uint64()
		if err != nil {
			return Message{}, fmt.Errorf("reading quality reply: %w", err)
		}
		msg.Body = QualityReply{Pong: pong}
	case MsgChecksumReport:
		f, err := r.frame()
		if err != nil {
			return Message{}, fmt.Errorf("reading checksum report frame: %w", err)
		}
		var sum checksum.Sum
		raw, err := r.bytes(len(sum))
		if err != nil {
			return Message{}, fmt.Errorf("reading checksum report sum: %w", err)
		}
		copy(sum[:], raw)
		msg.Body = ChecksumReport{Frame: f, Checksum: sum}
	case MsgKeepAlive:
		msg.Body = KeepAlive{}
	default:
		return Message{}, fmt.Errorf("%w: 0x%02x", ErrUnknownMessage, typ)
	}

	if r.remaining() != 0 {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrTrailingBytes, r.remaining())
	}
	return msg, nil
}

func decodeInput(r *wireReader) (Input, error) {
	count, err := r.byte()
	if err != nil {
		return Input{}, fmt.Errorf("reading input status count: %w", err)
	}
	status := make([]ConnectionStatus, count)
	for i := range status {
		disc, err := r.byte()
		if err != nil {
			return Input{}, fmt.Errorf("reading input status %d: %w", i, err)
		}
		lastFrame, err := r.frame()
		if err != nil {
			return Input{}, fmt.Errorf("reading input status %d frame: %w", i, err)
		}
		status[i] = ConnectionStatus{Disconnected: disc != 0, LastFrame: lastFrame}
	}
	discReq, err := r.byte()
	if err != nil {
		return Input{}, fmt.Errorf("reading input disconnect flag: %w", err)
	}
	startFrame, err := r.frame()
	if err != nil {
		return Input{}, fmt.Errorf("reading input start frame: %w", err)
	}
	ackFrame, err := r.frame()
	if err != nil {
		return Input{}, fmt.Errorf("reading input ack frame: %w", err)
	}
	payloadLen, err := r.uint16()
	if err != nil {
		return Input{}, fmt.Errorf("reading input payload length: %w", err)
	}
	payload, err := r.bytes(int(payloadLen))
	if err != nil {
		return Input{}, fmt.Errorf("reading input payload: %w", err)
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return Input{
		PeerConnectStatus:   status,
		DisconnectRequested: discReq != 0,
		StartFrame:          startFrame,
		AckFrame:            ackFrame,
		Bytes:               out,
	}, nil
}

// wireReader percorre um datagrama com checagem de truncamento.
type wireReader struct {
	data []byte
	pos  int
}

func (r *wireReader) remaining() int {
	return len(r.data) - r.pos
}

func (r *wireReader) byte() (byte, error) {
	if r.remaining() < 1 {
		return 0, ErrTruncatedFrame
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *wireReader) uint16() (uint16, error) {
	if r.remaining() < 2 {
		return 0, ErrTruncatedFrame
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *wireReader) uint32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, ErrTruncatedFrame
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *wireReader) uint64() (uint64, error) {
	if r.remaining() < 8 {
		return 0, ErrTruncatedFrame
	}
	v := binary.BigEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *wireReader) frame() (frame.Frame, error) {
	v, err := r.uint32()
	if err != nil {
		return frame.NullFrame, err
	}
	return frame.Frame(int32(v)), nil
}

func (r *wireReader) bytes(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, ErrTruncatedFrame
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
