//go:build amd64
// +build amd64

package proc

import (
	"encoding/binary"
	"unsafe"

	sys "golang.org/x/sys/unix"

	"github.com/pdbg/pdbg/pkg/proc/x86"
)

// Offsets into struct user from sys/user.h for the 64-bit tracer.
const (
	uDebugRegOffset = 848
	uRegsIPOffset   = 128
)

// getRegisters reads the general purpose registers. PTRACE_GETREGS on
// a 64-bit tracer returns the 64-bit layout for every target, with a
// 32-bit target's registers normalized into the 64-bit slots.
func (t *Thread) getRegisters(ctx *x86.Context) error {
	var err error
	t.dbp.execPtraceFunc(func() {
		err = sys.PtraceGetRegs(t.ID, (*sys.PtraceRegs)(unsafe.Pointer(&ctx.Ctx64.Regs)))
	})
	return opError("read registers", t.dbp.pid, t.ID, err)
}

func (t *Thread) setRegisters(ctx *x86.Context) error {
	var err error
	t.dbp.execPtraceFunc(func() {
		err = sys.PtraceSetRegs(t.ID, (*sys.PtraceRegs)(unsafe.Pointer(&ctx.Ctx64.Regs)))
	})
	return opError("write registers", t.dbp.pid, t.ID, err)
}

// getSegmentBases is a no-op on a 64-bit tracer: fs_base and gs_base
// arrive with the general purpose register dump.
func (t *Thread) getSegmentBases(ctx *x86.Context) error { return nil }

func (t *Thread) getDebugRegisters(ctx *x86.Context) error {
	for i := 0; i < 8; i++ {
		var val uintptr
		var err error
		t.dbp.execPtraceFunc(func() { val, err = ptracePeekUser(t.ID, uDebugRegOffset+uintptr(i)*8) })
		if err != nil {
			return opError("read debug registers", t.dbp.pid, t.ID, err)
		}
		ctx.Ctx64.DebugRegs[i] = uint64(val)
	}
	return nil
}

// setDebugRegisters writes DR0-DR3, DR6 and DR7. The kernel rejects
// writes to the reserved DR4 and DR5 slots.
func (t *Thread) setDebugRegisters(ctx *x86.Context) error {
	for _, i := range []int{0, 1, 2, 3, 6, 7} {
		var err error
		val := uintptr(ctx.Ctx64.DebugRegs[i])
		t.dbp.execPtraceFunc(func() { err = ptracePokeUser(t.ID, uDebugRegOffset+uintptr(i)*8, val) })
		if err != nil {
			return opError("write debug registers", t.dbp.pid, t.ID, err)
		}
	}
	return nil
}

// getXstateFallback decodes the legacy NT_PRFPREG block when the
// kernel has no NT_X86_XSTATE. Only x87 and SSE state exists there.
func (t *Thread) getXstateFallback(ctx *x86.Context) error {
	raw := make([]byte, 576)
	var err error
	t.dbp.execPtraceFunc(func() { _, err = ptraceGetRegset(t.ID, _NT_PRFPREG, raw[:512]) })
	if err != nil {
		return ErrXstateUnavailable{Tid: t.ID}
	}
	binary.LittleEndian.PutUint64(raw[512:], 0b11) // x87 and SSE present
	ctx.XsaveRaw = nil
	return opError("decode fp registers", t.dbp.pid, t.ID, x86.XsaveRead(raw, t.is64Bit, &ctx.Xstate))
}

func (t *Thread) setXstateFallback(ctx *x86.Context) error {
	raw := make([]byte, 576)
	if err := x86.XsaveWrite(&ctx.Xstate, raw, t.is64Bit); err != nil {
		return opError("encode fp registers", t.dbp.pid, t.ID, err)
	}
	var err error
	t.dbp.execPtraceFunc(func() { err = ptraceSetRegset(t.ID, _NT_PRFPREG, raw[:512]) })
	return opError("write fp registers", t.dbp.pid, t.ID, err)
}

// InstructionPointer reads the instruction pointer without a full
// context fetch.
func (t *Thread) InstructionPointer() (uint64, error) {
	t.assertStopped("instruction pointer read")
	var val uintptr
	var err error
	t.dbp.execPtraceFunc(func() { val, err = ptracePeekUser(t.ID, uRegsIPOffset) })
	if err != nil {
		return 0, opError("read instruction pointer", t.dbp.pid, t.ID, err)
	}
	return uint64(val), nil
}

// SetInstructionPointer redirects execution of the stopped task.
func (t *Thread) SetInstructionPointer(ip uint64) error {
	t.assertStopped("instruction pointer write")
	var err error
	t.dbp.execPtraceFunc(func() { err = ptracePokeUser(t.ID, uRegsIPOffset, uintptr(ip)) })
	return opError("write instruction pointer", t.dbp.pid, t.ID, err)
}
