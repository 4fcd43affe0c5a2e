package x86

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// X87State is the normalized x87 FPU portion of the extended state.
type X87State struct {
	Registers       [8][16]byte
	InstPtrOffset   uint64
	DataPtrOffset   uint64
	InstPtrSelector uint16
	DataPtrSelector uint16
	ControlWord     uint16
	StatusWord      uint16
	TagWord         uint16
	Opcode          uint16
	Filled          bool
}

// SimdState is the normalized SSE/AVX/AVX-512 portion of the extended
// state. Every register slot is 64 bytes wide so that it can hold a
// full ZMM value; narrower XMM and YMM views cover a prefix of a slot
// and the remainder stays zero.
//
// The filled flags form a prefix: AvxFilled implies SseFilled and
// ZmmFilled implies AvxFilled.
type SimdState struct {
	Registers [32][64]byte
	Mxcsr     uint32
	MxcsrMask uint32
	SseFilled bool
	AvxFilled bool
	ZmmFilled bool
}

// Xstate is the normalized extended CPU state of a thread,
// architecture independent of the XSAVE buffer it was decoded from.
type Xstate struct {
	X87  X87State
	Simd SimdState
}

// MxcsrDefault is the architectural reset value of MXCSR.
const MxcsrDefault = 0x1f80

// XSAVE area layout. See Section 13.4 (and following) of Intel 64 and
// IA-32 Architectures Software Developer's Manual, Volume 1. These
// offsets are architectural and will not change.
const (
	xsaveHeaderStart        = 512
	xsaveHeaderLen          = 64
	xsaveExtendedRegionStart = 576  // YMM_Hi128 component
	xsaveZmmHi256RegionStart = 1152 // ZMM0-15 upper 256 bits
	xsaveHi16ZmmRegionStart  = 1664 // ZMM16-31, full 512 bit registers
)

// xstate_bv feature bits.
const (
	xstateBvX87      = 1 << 0
	xstateBvSSE      = 1 << 1
	xstateBvAVX      = 1 << 2
	xstateBvOpmask   = 1 << 5
	xstateBvZmmHi256 = 1 << 6
	xstateBvHi16Zmm  = 1 << 7
)

// PtraceFpRegs64 tracks user_fpregs_struct in sys/user.h, the legacy
// FXSAVE region occupying the first 512 bytes of an XSAVE area.
type PtraceFpRegs64 struct {
	Cwd      uint16
	Swd      uint16
	Ftw      uint16
	Fop      uint16
	Rip      uint64
	Rdp      uint64
	Mxcsr    uint32
	MxcrMask uint32
	StSpace  [32]uint32
	XmmSpace [256]byte
	Padding  [24]uint32
}

// PtraceFpxRegs32 tracks user_fpxregs_struct in sys/user.h, the layout
// returned by PTRACE_GETFPXREGS for 32-bit targets.
type PtraceFpxRegs32 struct {
	Cwd      uint16
	Swd      uint16
	Twd      uint16
	Fop      uint16
	Fip      uint32
	Fcs      uint32
	Foo      uint32
	Fos      uint32
	Mxcsr    uint32
	Reserved uint32
	StSpace  [32]uint32
	XmmSpace [32]uint32
	Padding  [56]uint32
}

// ErrXsaveTooSmall reports an XSAVE buffer too small to contain even
// the legacy region and header.
var ErrXsaveTooSmall = errors.New("xsave buffer smaller than legacy region")

// XsaveRead decodes the XSAVE area in raw into the normalized record.
// is64 selects how many SIMD lanes the target architecture has. The
// caller keeps raw around unmodified so that XsaveWrite can patch it
// for the write-back.
func XsaveRead(raw []byte, is64 bool, x *Xstate) error {
	if len(raw) < xsaveHeaderStart+xsaveHeaderLen {
		return ErrXsaveTooSmall
	}

	var legacy PtraceFpRegs64
	rdr := bytes.NewReader(raw[:xsaveHeaderStart])
	if err := binary.Read(rdr, binary.LittleEndian, &legacy); err != nil {
		return err
	}

	header := raw[xsaveHeaderStart : xsaveHeaderStart+xsaveHeaderLen]
	xstateBv := binary.LittleEndian.Uint64(header[0:8])
	xcompBv := binary.LittleEndian.Uint64(header[8:16])
	if xcompBv&(1<<63) != 0 {
		// compact format not supported
		xstateBv = 0
	}

	readLegacyX87(&legacy, xstateBv&xstateBvX87 != 0, x)

	nlanes := simdLanes(is64)
	x.Simd = SimdState{}
	if xstateBv&xstateBvSSE != 0 {
		for n := 0; n < nlanes; n++ {
			copy(x.Simd.Registers[n][:16], legacy.XmmSpace[n*16:(n+1)*16])
		}
		x.Simd.Mxcsr = legacy.Mxcsr
		x.Simd.MxcsrMask = legacy.MxcrMask
	} else {
		x.Simd.Mxcsr = MxcsrDefault
	}
	x.Simd.SseFilled = true

	if xstateBv&xstateBvAVX == 0 {
		return nil
	}
	avx := raw[xsaveExtendedRegionStart:]
	for n := 0; n < nlanes; n++ {
		copy(x.Simd.Registers[n][16:32], avx[n*16:(n+1)*16])
	}
	x.Simd.AvxFilled = true

	const zmmBits = xstateBvOpmask | xstateBvZmmHi256 | xstateBvHi16Zmm
	if xstateBv&zmmBits != zmmBits || len(raw) < xsaveHi16ZmmRegionStart+16*64 {
		return nil
	}
	hi256 := raw[xsaveZmmHi256RegionStart:]
	for n := 0; n < nlanes; n++ {
		copy(x.Simd.Registers[n][32:64], hi256[n*32:(n+1)*32])
	}
	if is64 {
		hi16 := raw[xsaveHi16ZmmRegionStart:]
		for n := 0; n < 16; n++ {
			copy(x.Simd.Registers[16+n][:], hi16[n*64:(n+1)*64])
		}
	}
	x.Simd.ZmmFilled = true
	return nil
}

// FpxRead decodes a PTRACE_GETFPXREGS buffer, the 32-bit fallback when
// NT_X86_XSTATE is unavailable. It carries x87 and SSE state only, so
// AvxFilled and ZmmFilled stay false.
func FpxRead(raw []byte, x *Xstate) error {
	var fpx PtraceFpxRegs32
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &fpx); err != nil {
		return err
	}

	x.X87 = X87State{
		InstPtrOffset:   uint64(fpx.Fip),
		DataPtrOffset:   uint64(fpx.Foo),
		InstPtrSelector: uint16(fpx.Fcs),
		DataPtrSelector: uint16(fpx.Fos),
		ControlWord:     fpx.Cwd,
		StatusWord:      fpx.Swd,
		TagWord:         fpx.Twd,
		Opcode:          fpx.Fop,
		Filled:          true,
	}
	for i := 0; i < 8; i++ {
		st := x.X87.Registers[i][:]
		for j := 0; j < 4; j++ {
			binary.LittleEndian.PutUint32(st[j*4:], fpx.StSpace[i*4+j])
		}
	}

	x.Simd = SimdState{Mxcsr: fpx.Mxcsr, SseFilled: true}
	for n := 0; n < 8; n++ {
		for j := 0; j < 4; j++ {
			binary.LittleEndian.PutUint32(x.Simd.Registers[n][j*4:], fpx.XmmSpace[n*4+j])
		}
	}
	return nil
}

// FpxWrite encodes the x87 and SSE portions of the normalized record
// into a PTRACE_SETFPXREGS buffer. raw must be at least 512 bytes.
func FpxWrite(x *Xstate, raw []byte) error {
	if len(raw) < 512 {
		return ErrXsaveTooSmall
	}
	fpx := PtraceFpxRegs32{
		Cwd:   x.X87.ControlWord,
		Swd:   x.X87.StatusWord,
		Twd:   x.X87.TagWord,
		Fop:   x.X87.Opcode,
		Fip:   uint32(x.X87.InstPtrOffset),
		Fcs:   uint32(x.X87.InstPtrSelector),
		Foo:   uint32(x.X87.DataPtrOffset),
		Fos:   uint32(x.X87.DataPtrSelector),
		Mxcsr: x.Simd.Mxcsr,
	}
	for i := 0; i < 8; i++ {
		for j := 0; j < 4; j++ {
			fpx.StSpace[i*4+j] = binary.LittleEndian.Uint32(x.X87.Registers[i][j*4:])
		}
	}
	for n := 0; n < 8; n++ {
		for j := 0; j < 4; j++ {
			fpx.XmmSpace[n*4+j] = binary.LittleEndian.Uint32(x.Simd.Registers[n][j*4:])
		}
	}
	buf := bytes.NewBuffer(raw[:0])
	return binary.Write(buf, binary.LittleEndian, &fpx)
}

// XsaveWrite patches the XSAVE area in raw with the state the
// normalized record flags as filled and updates xstate_bv so that the
// kernel applies those components on PTRACE_SETREGSET. raw must be the
// same buffer a previous XsaveRead decoded so that unmodified
// components round trip untouched.
func XsaveWrite(x *Xstate, raw []byte, is64 bool) error {
	if len(raw) < xsaveHeaderStart+xsaveHeaderLen {
		return ErrXsaveTooSmall
	}

	header := raw[xsaveHeaderStart : xsaveHeaderStart+xsaveHeaderLen]
	xstateBv := binary.LittleEndian.Uint64(header[0:8])

	if x.X87.Filled {
		writeLegacyX87(&x.X87, raw)
		xstateBv |= xstateBvX87
	}

	nlanes := simdLanes(is64)
	if x.Simd.SseFilled {
		binary.LittleEndian.PutUint32(raw[24:], x.Simd.Mxcsr)
		binary.LittleEndian.PutUint32(raw[28:], x.Simd.MxcsrMask)
		for n := 0; n < nlanes; n++ {
			copy(raw[160+n*16:], x.Simd.Registers[n][:16])
		}
		xstateBv |= xstateBvSSE
	}
	if x.Simd.AvxFilled {
		for n := 0; n < nlanes; n++ {
			copy(raw[xsaveExtendedRegionStart+n*16:], x.Simd.Registers[n][16:32])
		}
		xstateBv |= xstateBvAVX
	}
	if x.Simd.ZmmFilled && len(raw) >= xsaveHi16ZmmRegionStart+16*64 {
		for n := 0; n < nlanes; n++ {
			copy(raw[xsaveZmmHi256RegionStart+n*32:], x.Simd.Registers[n][32:64])
		}
		if is64 {
			for n := 0; n < 16; n++ {
				copy(raw[xsaveHi16ZmmRegionStart+n*64:], x.Simd.Registers[16+n][:])
			}
		}
		xstateBv |= xstateBvOpmask | xstateBvZmmHi256 | xstateBvHi16Zmm
	}

	binary.LittleEndian.PutUint64(header[0:8], xstateBv)
	return nil
}

func readLegacyX87(legacy *PtraceFpRegs64, present bool, x *Xstate) {
	x.X87 = X87State{
		ControlWord: legacy.Cwd,
		Filled:      present,
	}
	if !present {
		return
	}
	x.X87.StatusWord = legacy.Swd
	x.X87.TagWord = legacy.Ftw
	x.X87.Opcode = legacy.Fop
	x.X87.InstPtrOffset = legacy.Rip
	x.X87.DataPtrOffset = legacy.Rdp
	for i := 0; i < 8; i++ {
		st := x.X87.Registers[i][:]
		for j := 0; j < 4; j++ {
			binary.LittleEndian.PutUint32(st[j*4:], legacy.StSpace[i*4+j])
		}
	}
}

func writeLegacyX87(x87 *X87State, raw []byte) {
	binary.LittleEndian.PutUint16(raw[0:], x87.ControlWord)
	binary.LittleEndian.PutUint16(raw[2:], x87.StatusWord)
	binary.LittleEndian.PutUint16(raw[4:], x87.TagWord)
	binary.LittleEndian.PutUint16(raw[6:], x87.Opcode)
	binary.LittleEndian.PutUint64(raw[8:], x87.InstPtrOffset)
	binary.LittleEndian.PutUint64(raw[16:], x87.DataPtrOffset)
	for i := 0; i < 8; i++ {
		copy(raw[32+i*16:], x87.Registers[i][:])
	}
}

func simdLanes(is64 bool) int {
	if is64 {
		return 16
	}
	return 8
}
