//go:build 386
// +build 386

package proc

import (
	"encoding/binary"
	"unsafe"

	sys "golang.org/x/sys/unix"

	"github.com/pdbg/pdbg/pkg/proc/x86"
)

// Offsets into struct user from sys/user.h for the 32-bit tracer.
const (
	uDebugRegOffset = 252
	uRegsIPOffset   = 48
)

// getRegisters reads the general purpose registers through
// PTRACE_GETREGSET, routing into the layout the target actually has.
func (t *Thread) getRegisters(ctx *x86.Context) error {
	var buf []byte
	if t.is64Bit {
		buf = make([]byte, x86.Regs64Size)
	} else {
		buf = make([]byte, x86.Regs32Size)
	}
	var err error
	t.dbp.execPtraceFunc(func() { _, err = ptraceGetRegset(t.ID, _NT_PRSTATUS, buf) })
	if err != nil {
		return opError("read registers", t.dbp.pid, t.ID, err)
	}
	if t.is64Bit {
		ctx.Ctx64.Regs = *(*x86.Regs64)(unsafe.Pointer(&buf[0]))
	} else {
		ctx.Ctx32.Regs = *(*x86.Regs32)(unsafe.Pointer(&buf[0]))
	}
	return nil
}

func (t *Thread) setRegisters(ctx *x86.Context) error {
	var buf []byte
	if t.is64Bit {
		buf = make([]byte, x86.Regs64Size)
		*(*x86.Regs64)(unsafe.Pointer(&buf[0])) = ctx.Ctx64.Regs
	} else {
		buf = make([]byte, x86.Regs32Size)
		*(*x86.Regs32)(unsafe.Pointer(&buf[0])) = ctx.Ctx32.Regs
	}
	var err error
	t.dbp.execPtraceFunc(func() { err = ptraceSetRegset(t.ID, _NT_PRSTATUS, buf) })
	return opError("write registers", t.dbp.pid, t.ID, err)
}

// getSegmentBases resolves fs and gs bases of a 32-bit target through
// the GDT descriptor table. A 64-bit target carries its bases in the
// register dump already.
func (t *Thread) getSegmentBases(ctx *x86.Context) error {
	if t.is64Bit {
		return nil
	}
	var fsBase, gsBase uint32
	var err error
	t.dbp.execPtraceFunc(func() {
		fsBase, err = ptraceGetThreadArea(t.ID, uint64(ctx.Ctx32.Regs.Fs))
		if err != nil {
			return
		}
		gsBase, err = ptraceGetThreadArea(t.ID, uint64(ctx.Ctx32.Regs.Gs))
	})
	if err != nil {
		return opError("read segment bases", t.dbp.pid, t.ID, err)
	}
	ctx.Ctx32.FsBase = fsBase
	ctx.Ctx32.GsBase = gsBase
	return nil
}

// getDebugRegisters reads the eight debug register slots. Against a
// 64-bit target the 32-bit PEEKUSER interface truncates the values to
// their low words; the truncated view is stored as-is.
func (t *Thread) getDebugRegisters(ctx *x86.Context) error {
	for i := 0; i < 8; i++ {
		var val uintptr
		var err error
		t.dbp.execPtraceFunc(func() { val, err = ptracePeekUser(t.ID, uDebugRegOffset+uintptr(i)*4) })
		if err != nil {
			return opError("read debug registers", t.dbp.pid, t.ID, err)
		}
		if t.is64Bit {
			ctx.Ctx64.DebugRegs[i] = uint64(val)
		} else {
			ctx.Ctx32.DebugRegs[i] = uint32(val)
		}
	}
	return nil
}

// setDebugRegisters writes DR0-DR3, DR6 and DR7. The kernel rejects
// writes to the reserved DR4 and DR5 slots.
func (t *Thread) setDebugRegisters(ctx *x86.Context) error {
	for _, i := range []int{0, 1, 2, 3, 6, 7} {
		var val uintptr
		if t.is64Bit {
			val = uintptr(uint32(ctx.Ctx64.DebugRegs[i]))
		} else {
			val = uintptr(ctx.Ctx32.DebugRegs[i])
		}
		var err error
		t.dbp.execPtraceFunc(func() { err = ptracePokeUser(t.ID, uDebugRegOffset+uintptr(i)*4, val) })
		if err != nil {
			return opError("write debug registers", t.dbp.pid, t.ID, err)
		}
	}
	return nil
}

// getXstateFallback retrieves x87 and SSE state when NT_X86_XSTATE is
// unavailable: PTRACE_GETFPXREGS for a 32-bit target, the legacy
// NT_PRFPREG block otherwise. AVX and ZMM state stays unfilled.
func (t *Thread) getXstateFallback(ctx *x86.Context) error {
	ctx.XsaveRaw = nil
	if !t.is64Bit {
		raw := make([]byte, 512)
		var err error
		t.dbp.execPtraceFunc(func() { err = ptraceGetFpxRegs(t.ID, raw) })
		if err != nil {
			return ErrXstateUnavailable{Tid: t.ID}
		}
		return opError("decode fp registers", t.dbp.pid, t.ID, x86.FpxRead(raw, &ctx.Xstate))
	}
	raw := make([]byte, 576)
	var err error
	t.dbp.execPtraceFunc(func() { _, err = ptraceGetRegset(t.ID, _NT_PRFPREG, raw[:512]) })
	if err != nil {
		return ErrXstateUnavailable{Tid: t.ID}
	}
	binary.LittleEndian.PutUint64(raw[512:], 0b11) // x87 and SSE present
	return opError("decode fp registers", t.dbp.pid, t.ID, x86.XsaveRead(raw, t.is64Bit, &ctx.Xstate))
}

func (t *Thread) setXstateFallback(ctx *x86.Context) error {
	if !t.is64Bit {
		raw := make([]byte, 512)
		if err := x86.FpxWrite(&ctx.Xstate, raw); err != nil {
			return opError("encode fp registers", t.dbp.pid, t.ID, err)
		}
		var err error
		t.dbp.execPtraceFunc(func() { err = ptraceSetFpxRegs(t.ID, raw) })
		return opError("write fp registers", t.dbp.pid, t.ID, err)
	}
	raw := make([]byte, 576)
	if err := x86.XsaveWrite(&ctx.Xstate, raw, t.is64Bit); err != nil {
		return opError("encode fp registers", t.dbp.pid, t.ID, err)
	}
	var err error
	t.dbp.execPtraceFunc(func() { err = ptraceSetRegset(t.ID, _NT_PRFPREG, raw[:512]) })
	return opError("write fp registers", t.dbp.pid, t.ID, err)
}

// InstructionPointer reads the instruction pointer without a full
// context fetch. PEEKUSER truncates a 64-bit target's rip, so that
// case goes through the register set instead.
func (t *Thread) InstructionPointer() (uint64, error) {
	t.assertStopped("instruction pointer read")
	if t.is64Bit {
		buf := make([]byte, x86.Regs64Size)
		var err error
		t.dbp.execPtraceFunc(func() { _, err = ptraceGetRegset(t.ID, _NT_PRSTATUS, buf) })
		if err != nil {
			return 0, opError("read instruction pointer", t.dbp.pid, t.ID, err)
		}
		regs := (*x86.Regs64)(unsafe.Pointer(&buf[0]))
		return regs.Rip, nil
	}
	var val uintptr
	var err error
	t.dbp.execPtraceFunc(func() { val, err = ptracePeekUser(t.ID, uRegsIPOffset) })
	if err != nil {
		return 0, opError("read instruction pointer", t.dbp.pid, t.ID, err)
	}
	return uint64(uint32(val)), nil
}

// SetInstructionPointer redirects execution of the stopped task.
func (t *Thread) SetInstructionPointer(ip uint64) error {
	t.assertStopped("instruction pointer write")
	if t.is64Bit {
		buf := make([]byte, x86.Regs64Size)
		var err error
		t.dbp.execPtraceFunc(func() { _, err = ptraceGetRegset(t.ID, _NT_PRSTATUS, buf) })
		if err != nil {
			return opError("write instruction pointer", t.dbp.pid, t.ID, err)
		}
		regs := (*x86.Regs64)(unsafe.Pointer(&buf[0]))
		regs.Rip = ip
		t.dbp.execPtraceFunc(func() { err = ptraceSetRegset(t.ID, _NT_PRSTATUS, buf) })
		return opError("write instruction pointer", t.dbp.pid, t.ID, err)
	}
	var err error
	t.dbp.execPtraceFunc(func() { err = ptracePokeUser(t.ID, uRegsIPOffset, uintptr(ip)) })
	return opError("write instruction pointer", t.dbp.pid, t.ID, err)
}
