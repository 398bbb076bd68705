// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestDelta_RoundTrip(t *testing.T) {
	reference := []byte{0, 0, 0, 0}
	records := [][]byte{
		{1, 0, 0, 0},
		{1, 0, 0, 0},
		{2, 0, 0, 1},
		{0, 0, 0, 0},
	}

	payload := EncodeDelta(reference, records)
	decoded, err := DecodeDelta(reference, payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(decoded) != len(records) {
		t.Fatalf("expected %d records, got %d", len(records), len(decoded))
	}
	for i := range records {
		if !bytes.Equal(decoded[i], records[i]) {
			t.Fatalf("record %d mismatch: %v != %v", i, decoded[i], records[i])
		}
	}
}

func TestDelta_RoundTripNonZeroReference(t *testing.T) {
	reference := []byte{0xFF, 0x10, 0x20}
	records := [][]byte{
		{0xFF, 0x10, 0x20},
		{0xFF, 0x10, 0x21},
		{0x00, 0x10, 0x20},
	}

	decoded, err := DecodeDelta(reference, EncodeDelta(reference, records))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	for i := range records {
		if !bytes.Equal(decoded[i], records[i]) {
			t.Fatalf("record %d mismatch", i)
		}
	}
}

func TestDelta_EmptyRecordList(t *testing.T) {
	reference := []byte{1, 2}
	decoded, err := DecodeDelta(reference, EncodeDelta(reference, nil))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(decoded) != 0 {
		t.Fatalf("expected no records, got %d", len(decoded))
	}
}

func TestDelta_CompressesRepeats(t *testing.T) {
	// inputs iguais à referência viram uma corrida única de zeros
	reference := bytes.Repeat([]byte{0xAB}, 32)
	records := [][]byte{reference, reference, reference, reference}

	payload := EncodeDelta(reference, records)
	if len(payload) != 3 {
		t.Fatalf("128 identical bytes should collapse into one run, got %d bytes", len(payload))
	}
}

func TestDelta_EmptyReference(t *testing.T) {
	_, err := DecodeDelta(nil, []byte{0, 1, 0})
	var deltaErr *DeltaDecodeError
	if !errors.As(err, &deltaErr) || deltaErr.Reason != DeltaEmptyReference {
		t.Fatalf("expected empty reference error, got %v", err)
	}
}

func TestDelta_LengthMismatch(t *testing.T) {
	// payload decodifica para 2 bytes, referência tem 3
	payload := []byte{0, 2, 0xFF}
	_, err := DecodeDelta([]byte{1, 2, 3}, payload)
	var deltaErr *DeltaDecodeError
	if !errors.As(err, &deltaErr) || deltaErr.Reason != DeltaLengthMismatch {
		t.Fatalf("expected length mismatch, got %v", err)
	}
}

func TestRle_UnterminatedRun(t *testing.T) {
	_, err := rleDecode([]byte{0, 1})
	var rleErr *RleDecodeError
	if !errors.As(err, &rleErr) || rleErr.Reason != RleUnterminatedRun {
		t.Fatalf("expected unterminated run, got %v", err)
	}
}

func TestRle_ZeroRunLength(t *testing.T) {
	_, err := rleDecode([]byte{0, 0, 0xFF})
	var rleErr *RleDecodeError
	if !errors.As(err, &rleErr) || rleErr.Reason != RleZeroRunLength {
		t.Fatalf("expected zero run length, got %v", err)
	}
}

func TestRle_LongRun(t *testing.T) {
	// corridas maiores que 65535 quebram em múltiplas entradas
	data := bytes.Repeat([]byte{7}, 70000)
	decoded, err := rleDecode(rleEncode(data))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !bytes.Equal(decoded, data) {
		t.Fatal("long run should round-trip")
	}
}
