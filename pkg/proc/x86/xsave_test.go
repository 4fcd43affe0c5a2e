package x86

import (
	"bytes"
	"encoding/binary"
	"testing"
)

const xsaveAvxBufSize = 1088

func TestXsaveReadTooSmall(t *testing.T) {
	var x Xstate
	if err := XsaveRead(make([]byte, 100), true, &x); err != ErrXsaveTooSmall {
		t.Fatalf("expected ErrXsaveTooSmall, got %v", err)
	}
	if err := XsaveWrite(&x, make([]byte, 100), true); err != ErrXsaveTooSmall {
		t.Fatalf("expected ErrXsaveTooSmall from write, got %v", err)
	}
	if err := FpxWrite(&x, make([]byte, 100)); err != ErrXsaveTooSmall {
		t.Fatalf("expected ErrXsaveTooSmall from fpx write, got %v", err)
	}
}

func TestXsaveRoundTrip(t *testing.T) {
	src := Xstate{}
	src.X87 = X87State{
		ControlWord:   0x037f,
		StatusWord:    0x3800,
		TagWord:       0x80,
		Opcode:        0x05c1,
		InstPtrOffset: 0x401234,
		DataPtrOffset: 0x7fff0000,
		Filled:        true,
	}
	for i := 0; i < 8; i++ {
		for j := 0; j < 16; j++ {
			src.X87.Registers[i][j] = byte(i*16 + j)
		}
	}
	src.Simd = SimdState{
		Mxcsr:     0x1fa0,
		MxcsrMask: 0xffff,
		SseFilled: true,
		AvxFilled: true,
	}
	for n := 0; n < 16; n++ {
		for j := 0; j < 32; j++ {
			src.Simd.Registers[n][j] = byte(n ^ j)
		}
	}

	raw := make([]byte, xsaveAvxBufSize)
	if err := XsaveWrite(&src, raw, true); err != nil {
		t.Fatalf("XsaveWrite: %v", err)
	}

	var got Xstate
	if err := XsaveRead(raw, true, &got); err != nil {
		t.Fatalf("XsaveRead: %v", err)
	}

	if !got.X87.Filled {
		t.Fatal("expected x87 state to be marked present after write-back")
	}
	if got.X87.ControlWord != src.X87.ControlWord ||
		got.X87.StatusWord != src.X87.StatusWord ||
		got.X87.TagWord != src.X87.TagWord ||
		got.X87.Opcode != src.X87.Opcode ||
		got.X87.InstPtrOffset != src.X87.InstPtrOffset ||
		got.X87.DataPtrOffset != src.X87.DataPtrOffset {
		t.Errorf("x87 control state mismatch: got %+v, want %+v", got.X87, src.X87)
	}
	for i := 0; i < 8; i++ {
		if !bytes.Equal(got.X87.Registers[i][:], src.X87.Registers[i][:]) {
			t.Errorf("st%d mismatch: got %x, want %x", i, got.X87.Registers[i], src.X87.Registers[i])
		}
	}

	if !got.Simd.SseFilled || !got.Simd.AvxFilled {
		t.Fatalf("expected SSE and AVX state present, got sse=%v avx=%v", got.Simd.SseFilled, got.Simd.AvxFilled)
	}
	if got.Simd.ZmmFilled {
		t.Error("expected no ZMM state in an AVX sized buffer")
	}
	if got.Simd.Mxcsr != src.Simd.Mxcsr || got.Simd.MxcsrMask != src.Simd.MxcsrMask {
		t.Errorf("mxcsr mismatch: got %#x/%#x, want %#x/%#x", got.Simd.Mxcsr, got.Simd.MxcsrMask, src.Simd.Mxcsr, src.Simd.MxcsrMask)
	}
	for n := 0; n < 16; n++ {
		if !bytes.Equal(got.Simd.Registers[n][:32], src.Simd.Registers[n][:32]) {
			t.Errorf("ymm%d mismatch: got %x, want %x", n, got.Simd.Registers[n][:32], src.Simd.Registers[n][:32])
		}
	}
}

func TestXsaveReadEmptyComponents(t *testing.T) {
	// An all-zero xstate_bv means neither x87 nor SSE state was ever
	// touched by the target. MXCSR still reads back its reset value.
	raw := make([]byte, xsaveAvxBufSize)

	var x Xstate
	if err := XsaveRead(raw, true, &x); err != nil {
		t.Fatalf("XsaveRead: %v", err)
	}
	if x.X87.Filled {
		t.Error("expected x87 state to be absent")
	}
	if !x.Simd.SseFilled {
		t.Error("expected SSE state to be reported even when in reset")
	}
	if x.Simd.Mxcsr != MxcsrDefault {
		t.Errorf("expected default mxcsr %#x, got %#x", MxcsrDefault, x.Simd.Mxcsr)
	}
	if x.Simd.AvxFilled || x.Simd.ZmmFilled {
		t.Error("expected no AVX or ZMM state")
	}
}

func TestXsaveReadCompactFormatIgnored(t *testing.T) {
	raw := make([]byte, xsaveAvxBufSize)
	binary.LittleEndian.PutUint64(raw[512:], xstateBvX87|xstateBvSSE)
	binary.LittleEndian.PutUint64(raw[520:], 1<<63)

	var x Xstate
	if err := XsaveRead(raw, true, &x); err != nil {
		t.Fatalf("XsaveRead: %v", err)
	}
	if x.X87.Filled {
		t.Error("expected compact format buffers to decode as empty")
	}
	if x.Simd.Mxcsr != MxcsrDefault {
		t.Errorf("expected default mxcsr %#x, got %#x", MxcsrDefault, x.Simd.Mxcsr)
	}
}

func TestXsaveLaneCount32Bit(t *testing.T) {
	raw := make([]byte, xsaveAvxBufSize)
	binary.LittleEndian.PutUint64(raw[512:], xstateBvSSE)
	for n := 0; n < 16; n++ {
		for j := 0; j < 16; j++ {
			raw[160+n*16+j] = 0xee
		}
	}

	var x Xstate
	if err := XsaveRead(raw, false, &x); err != nil {
		t.Fatalf("XsaveRead: %v", err)
	}
	for j := 0; j < 16; j++ {
		if x.Simd.Registers[7][j] != 0xee {
			t.Fatalf("expected xmm7 to be filled, byte %d is %#x", j, x.Simd.Registers[7][j])
		}
	}
	for j := 0; j < 16; j++ {
		if x.Simd.Registers[8][j] != 0 {
			t.Fatalf("expected xmm8 to stay empty on 32-bit, byte %d is %#x", j, x.Simd.Registers[8][j])
		}
	}
}

func TestFpxRoundTrip(t *testing.T) {
	src := Xstate{}
	src.X87 = X87State{
		ControlWord:     0x037f,
		StatusWord:      0x0200,
		TagWord:         0x01,
		Opcode:          0x05d9,
		InstPtrOffset:   0x8048100,
		DataPtrOffset:   0xbffff000,
		InstPtrSelector: 0x23,
		DataPtrSelector: 0x2b,
		Filled:          true,
	}
	for i := 0; i < 8; i++ {
		for j := 0; j < 16; j++ {
			src.X87.Registers[i][j] = byte(0x40 + i + j)
		}
	}
	src.Simd = SimdState{Mxcsr: 0x1f80, SseFilled: true}
	for n := 0; n < 8; n++ {
		for j := 0; j < 16; j++ {
			src.Simd.Registers[n][j] = byte(n*j + 1)
		}
	}

	raw := make([]byte, 512)
	if err := FpxWrite(&src, raw); err != nil {
		t.Fatalf("FpxWrite: %v", err)
	}

	var got Xstate
	if err := FpxRead(raw, &got); err != nil {
		t.Fatalf("FpxRead: %v", err)
	}

	if got.X87 != src.X87 {
		t.Errorf("x87 state mismatch: got %+v, want %+v", got.X87, src.X87)
	}
	if !got.Simd.SseFilled || got.Simd.AvxFilled || got.Simd.ZmmFilled {
		t.Errorf("expected SSE only, got sse=%v avx=%v zmm=%v", got.Simd.SseFilled, got.Simd.AvxFilled, got.Simd.ZmmFilled)
	}
	if got.Simd.Mxcsr != src.Simd.Mxcsr {
		t.Errorf("mxcsr mismatch: got %#x, want %#x", got.Simd.Mxcsr, src.Simd.Mxcsr)
	}
	for n := 0; n < 8; n++ {
		if !bytes.Equal(got.Simd.Registers[n][:16], src.Simd.Registers[n][:16]) {
			t.Errorf("xmm%d mismatch: got %x, want %x", n, got.Simd.Registers[n][:16], src.Simd.Registers[n][:16])
		}
	}
}
