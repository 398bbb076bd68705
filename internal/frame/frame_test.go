// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package frame

import (
	"errors"
	"math"
	"testing"
)

func TestSafeAdd_Normal(t *testing.T) {
	f, ok := SafeAdd(Frame(10), 5)
	if !ok {
		t.Fatal("expected ok for in-range add")
	}
	if f != 15 {
		t.Fatalf("expected 15, got %d", f)
	}
}

func TestSafeAdd_Overflow(t *testing.T) {
	f, ok := SafeAdd(Frame(math.MaxInt32), 1)
	if ok {
		t.Fatal("expected overflow")
	}
	if f != Frame(math.MaxInt32) {
		t.Fatalf("expected saturation at MaxInt32, got %d", f)
	}
}

func TestSafeSub_Underflow(t *testing.T) {
	f, ok := SafeSub(Frame(math.MinInt32), 1)
	if ok {
		t.Fatal("expected underflow")
	}
	if f != Frame(math.MinInt32) {
		t.Fatalf("expected saturation at MinInt32, got %d", f)
	}
}

func TestSafeSub_Normal(t *testing.T) {
	f, ok := SafeSub(Frame(10), 15)
	if !ok {
		t.Fatal("expected ok")
	}
	if f != -5 {
		t.Fatalf("expected -5, got %d", f)
	}
}

func TestNullFrame(t *testing.T) {
	if !NullFrame.IsNull() {
		t.Fatal("NullFrame should be null")
	}
	if Frame(0).IsNull() {
		t.Fatal("frame 0 should not be null")
	}
	// NULL compara como menor que qualquer frame válido
	if Max(NullFrame, 0) != 0 {
		t.Fatal("max(NULL, 0) should be 0")
	}
	if Min(NullFrame, 0) != NullFrame {
		t.Fatal("min(NULL, 0) should be NULL")
	}
}

func TestPlayerInput_Equal(t *testing.T) {
	a := PlayerInput{Frame: 1, Bytes: []byte{1, 2, 3}}
	b := PlayerInput{Frame: 2, Bytes: []byte{1, 2, 3}}
	c := PlayerInput{Frame: 1, Bytes: []byte{1, 2, 4}}

	if !a.Equal(b, true) {
		t.Fatal("bytesOnly comparison should ignore frames")
	}
	if a.Equal(b, false) {
		t.Fatal("full comparison should consider frames")
	}
	if a.Equal(c, true) {
		t.Fatal("different bytes should not be equal")
	}
}

func TestPlayerInput_Clone(t *testing.T) {
	a := PlayerInput{Frame: 7, Bytes: []byte{9, 9}}
	b := a.Clone()
	b.Bytes[0] = 1
	if a.Bytes[0] != 9 {
		t.Fatal("clone should not share the byte slice")
	}
}

func TestBlankInput(t *testing.T) {
	b := BlankInput(NullFrame, 4)
	if len(b.Bytes) != 4 {
		t.Fatalf("expected 4 bytes, got %d", len(b.Bytes))
	}
	for _, v := range b.Bytes {
		if v != 0 {
			t.Fatal("blank input should be zeroed")
		}
	}
}

func TestStructuredErrors(t *testing.T) {
	var invalidFrame error = &InvalidFrameError{Frame: 3, Reason: ReasonWrongSavedFrame, SavedFrame: 11}
	var target *InvalidFrameError
	if !errors.As(invalidFrame, &target) {
		t.Fatal("errors.As should match InvalidFrameError")
	}
	if target.Reason != ReasonWrongSavedFrame {
		t.Fatalf("unexpected reason %v", target.Reason)
	}

	wrapped := errors.Join(ErrPredictionThreshold)
	if !errors.Is(wrapped, ErrPredictionThreshold) {
		t.Fatal("errors.Is should match ErrPredictionThreshold")
	}
}
