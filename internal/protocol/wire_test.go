// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/wallstop/fortress-rollback-sub001/internal/checksum"
	"github.com/wallstop/fortress-rollback-sub001/internal/frame"
)

func roundTrip(t *testing.T, msg Message) Message {
	t.Helper()
	data, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return decoded
}

func TestEncodeDecode_AllVariants(t *testing.T) {
	sum := checksum.FNV1a([]byte("state"))
	messages := []Message{
		{Magic: 0x1234, Body: SyncRequest{Random: 42}},
		{Magic: 0x1234, Body: SyncReply{Random: 42}},
		{Magic: 0xABCD, Body: Input{
			PeerConnectStatus: []ConnectionStatus{
				{Disconnected: false, LastFrame: 10},
				{Disconnected: true, LastFrame: frame.NullFrame},
			},
			DisconnectRequested: false,
			StartFrame:          100,
			AckFrame:            50,
			Bytes:               []byte{1, 2, 3, 4, 5},
		}},
		{Magic: 1, Body: InputAck{AckFrame: 77}},
		{Magic: 1, Body: QualityReport{FrameAdvantage: -3, Ping: 1700000000000}},
		{Magic: 1, Body: QualityReply{Pong: 1700000000123}},
		{Magic: 1, Body: ChecksumReport{Frame: 200, Checksum: sum}},
		{Magic: 9, Body: KeepAlive{}},
	}

	for _, msg := range messages {
		decoded := roundTrip(t, msg)
		if decoded.Magic != msg.Magic {
			t.Fatalf("%s: magic mismatch", msg.Body.Type())
		}
		switch want := msg.Body.(type) {
		case Input:
			got, ok := decoded.Body.(Input)
			if !ok {
				t.Fatalf("expected Input, got %T", decoded.Body)
			}
			if got.StartFrame != want.StartFrame || got.AckFrame != want.AckFrame {
				t.Fatalf("input frames mismatch: %+v", got)
			}
			if !bytes.Equal(got.Bytes, want.Bytes) {
				t.Fatalf("input payload mismatch: %v", got.Bytes)
			}
			if len(got.PeerConnectStatus) != 2 || !got.PeerConnectStatus[1].Disconnected {
				t.Fatalf("connect status mismatch: %+v", got.PeerConnectStatus)
			}
			if got.PeerConnectStatus[1].LastFrame != frame.NullFrame {
				t.Fatalf("null frame should survive the wire: %d", got.PeerConnectStatus[1].LastFrame)
			}
		default:
			if decoded.Body != msg.Body {
				t.Fatalf("%s: body mismatch: %+v != %+v", msg.Body.Type(), decoded.Body, msg.Body)
			}
		}
	}
}

func TestEncode_Deterministic(t *testing.T) {
	msg := Message{Magic: 77, Body: Input{
		PeerConnectStatus: []ConnectionStatus{{LastFrame: 5}},
		StartFrame:        9,
		AckFrame:          3,
		Bytes:             []byte{0xAA, 0xBB},
	}}
	a, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	b, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("two serializations of the same message must be identical")
	}
}

func TestDecode_Truncated(t *testing.T) {
	msg := Message{Magic: 5, Body: QualityReport{FrameAdvantage: 1, Ping: 99}}
	data, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	for i := 1; i < len(data); i++ {
		if _, err := Decode(data[:i]); err == nil {
			t.Fatalf("decode of %d/%d bytes should fail", i, len(data))
		}
	}
}

func TestDecode_TrailingBytes(t *testing.T) {
	data, err := Encode(Message{Magic: 5, Body: KeepAlive{}})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	data = append(data, 0xFF)
	if _, err := Decode(data); !errors.Is(err, ErrTrailingBytes) {
		t.Fatalf("expected trailing bytes error, got %v", err)
	}
}

func TestDecode_UnknownType(t *testing.T) {
	if _, err := Decode([]byte{0, 1, 0x7F}); !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("expected unknown message error, got %v", err)
	}
}

func TestDecode_Empty(t *testing.T) {
	if _, err := Decode(nil); !errors.Is(err, ErrTruncatedFrame) {
		t.Fatalf("expected truncated error, got %v", err)
	}
}
