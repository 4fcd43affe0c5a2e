package proc

import (
	"encoding/binary"
	"syscall"
	"unsafe"

	sys "golang.org/x/sys/unix"
)

// ptrace request numbers and user-area offsets that are not exported
// by the syscall packages.
const (
	_PTRACE_GETFPXREGS      = 18
	_PTRACE_SETFPXREGS      = 19
	_PTRACE_GET_THREAD_AREA = 25

	_NT_PRSTATUS   = 1
	_NT_PRFPREG    = 2
	_NT_X86_XSTATE = 0x202

	_ADDR_NO_RANDOMIZE        = 0x0040000
	personalityGetPersonality = 0xffffffff

	ldtEntrySize = 8
)

// ptraceAttach executes the sys.PtraceAttach call.
func ptraceAttach(tid int) error {
	return sys.PtraceAttach(tid)
}

// ptraceDetach calls ptrace(PTRACE_DETACH).
func ptraceDetach(tid, sig int) error {
	_, _, err := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_DETACH, uintptr(tid), 1, uintptr(sig), 0, 0)
	if err != syscall.Errno(0) {
		return err
	}
	return nil
}

// ptraceCont executes ptrace PTRACE_CONT
func ptraceCont(tid, sig int) error {
	return sys.PtraceCont(tid, sig)
}

// ptraceSingleStep executes ptrace PTRACE_SINGLESTEP
func ptraceSingleStep(tid, sig int) error {
	_, _, e1 := sys.Syscall6(sys.SYS_PTRACE, uintptr(sys.PTRACE_SINGLESTEP), uintptr(tid), uintptr(0), uintptr(sig), 0, 0)
	if e1 != 0 {
		return e1
	}
	return nil
}

// ptraceGetRegset retrieves a register set identified by nt into buf
// and returns the number of bytes the kernel actually filled in, which
// discriminates the 32- and 64-bit layouts for NT_PRSTATUS.
func ptraceGetRegset(tid, nt int, buf []byte) (int, error) {
	iov := sys.Iovec{Base: &buf[0]}
	iov.SetLen(len(buf))
	_, _, e1 := sys.Syscall6(sys.SYS_PTRACE, uintptr(sys.PTRACE_GETREGSET), uintptr(tid), uintptr(nt), uintptr(unsafe.Pointer(&iov)), 0, 0)
	if e1 != 0 {
		return 0, e1
	}
	return int(iov.Len), nil
}

// ptraceSetRegset writes a register set identified by nt from buf.
func ptraceSetRegset(tid, nt int, buf []byte) error {
	iov := sys.Iovec{Base: &buf[0]}
	iov.SetLen(len(buf))
	_, _, e1 := sys.Syscall6(sys.SYS_PTRACE, uintptr(sys.PTRACE_SETREGSET), uintptr(tid), uintptr(nt), uintptr(unsafe.Pointer(&iov)), 0, 0)
	if e1 != 0 {
		return e1
	}
	return nil
}

// ptraceGetEventMsg retrieves the event message after a ptrace stop,
// which for clone events is the tid of the new task.
func ptraceGetEventMsg(tid int) (uint, error) {
	return sys.PtraceGetEventMsg(tid)
}

// ptraceGetSigInfo retrieves the siginfo record of the last stop. Only
// the portable three-field prefix is decoded.
func ptraceGetSigInfo(tid int) (SigInfo, error) {
	var raw [128]byte
	_, _, e1 := sys.Syscall6(sys.SYS_PTRACE, uintptr(sys.PTRACE_GETSIGINFO), uintptr(tid), 0, uintptr(unsafe.Pointer(&raw[0])), 0, 0)
	if e1 != 0 {
		return SigInfo{}, e1
	}
	return SigInfo{
		Signo: int32(binary.LittleEndian.Uint32(raw[0:])),
		Errno: int32(binary.LittleEndian.Uint32(raw[4:])),
		Code:  int32(binary.LittleEndian.Uint32(raw[8:])),
	}, nil
}

// ptracePeekUser reads one word from the tracee user area.
func ptracePeekUser(tid int, off uintptr) (uintptr, error) {
	var val uintptr
	_, _, e1 := sys.Syscall6(sys.SYS_PTRACE, uintptr(sys.PTRACE_PEEKUSR), uintptr(tid), off, uintptr(unsafe.Pointer(&val)), 0, 0)
	if e1 != 0 {
		return 0, e1
	}
	return val, nil
}

// ptracePokeUser writes one word into the tracee user area.
func ptracePokeUser(tid int, off, val uintptr) error {
	_, _, e1 := sys.Syscall6(sys.SYS_PTRACE, uintptr(sys.PTRACE_POKEUSR), uintptr(tid), off, val, 0, 0)
	if e1 != 0 {
		return e1
	}
	return nil
}

// userDesc mirrors struct user_desc from asm/ldt.h, the descriptor
// layout returned by PTRACE_GET_THREAD_AREA.
type userDesc struct {
	EntryNumber uint32
	BaseAddr    uint32
	Limit       uint32
	Flags       uint32
}

// ptraceGetThreadArea resolves a GDT selector's segment base for a
// 32-bit target. Selectors from the LDT (bit 2 set) and the null
// selector resolve to base 0 without touching the kernel.
func ptraceGetThreadArea(tid int, selector uint64) (uint32, error) {
	if selector == 0 || selector&0b100 != 0 {
		return 0, nil
	}
	var desc userDesc
	_, _, e1 := sys.Syscall6(sys.SYS_PTRACE, _PTRACE_GET_THREAD_AREA, uintptr(tid), uintptr(selector/ldtEntrySize), uintptr(unsafe.Pointer(&desc)), 0, 0)
	if e1 != 0 {
		return 0, e1
	}
	return desc.BaseAddr, nil
}

// ptraceGetFpxRegs retrieves the legacy x87+SSE register block of a
// 32-bit target, the fallback when NT_X86_XSTATE is unavailable.
func ptraceGetFpxRegs(tid int, buf []byte) error {
	_, _, e1 := sys.Syscall6(sys.SYS_PTRACE, _PTRACE_GETFPXREGS, uintptr(tid), 0, uintptr(unsafe.Pointer(&buf[0])), 0, 0)
	if e1 != 0 {
		return e1
	}
	return nil
}

// ptraceSetFpxRegs writes the legacy x87+SSE register block back.
func ptraceSetFpxRegs(tid int, buf []byte) error {
	_, _, e1 := sys.Syscall6(sys.SYS_PTRACE, _PTRACE_SETFPXREGS, uintptr(tid), 0, uintptr(unsafe.Pointer(&buf[0])), 0, 0)
	if e1 != 0 {
		return e1
	}
	return nil
}

// tgkill directs a signal at one task of a thread group.
func tgkill(pid, tid int, sig syscall.Signal) error {
	return sys.Tgkill(pid, tid, sig)
}
