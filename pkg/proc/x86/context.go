package x86

import (
	"fmt"
	"io"
)

// Context64 is the storage for a 64-bit register file.
type Context64 struct {
	Regs      Regs64
	DebugRegs [8]uint64
}

// Context32 is the storage for a 32-bit register file. The segment
// bases are not part of the kernel layout on 32-bit and are resolved
// separately through the thread's descriptor tables.
type Context32 struct {
	Regs      Regs32
	DebugRegs [8]uint32
	FsBase    uint32
	GsBase    uint32
}

// Context is the full CPU snapshot of a stopped thread. Exactly one of
// Ctx64 and Ctx32 is meaningful, selected by the bitness recorded when
// the thread filled it in. A 64-bit tracer always uses Ctx64, even for
// 32-bit targets, because PTRACE_GETREGS normalizes those into the
// 64-bit layout.
type Context struct {
	Ctx64  Context64
	Ctx32  Context32
	Xstate Xstate

	// XsaveRaw is the raw XSAVE area the extended state was decoded
	// from. It is retained so that storing the context back preserves
	// the components this debugger does not model.
	XsaveRaw []byte

	is64Bit bool
	isSet   bool
}

// Is64Bit reports whether the context uses the 64-bit register layout.
func (c *Context) Is64Bit() bool { return c.is64Bit }

// IsSet reports whether the context has been filled by a thread.
func (c *Context) IsSet() bool { return c.isSet }

// MarkSet records the bitness of the thread the context was read from.
func (c *Context) MarkSet(is64Bit bool) {
	c.is64Bit = is64Bit
	c.isSet = true
}

func (c *Context) get64(reg RegisterID) RegisterRef {
	regs := &c.Ctx64.Regs
	x87 := &c.Xstate.X87
	simd := &c.Xstate.Simd

	switch reg {
	// Segment registers.
	case RegCS:
		return ref64("cs", &regs.Cs)
	case RegDS:
		return ref64("ds", &regs.Ds)
	case RegES:
		return ref64("es", &regs.Es)
	case RegFS:
		return ref64("fs", &regs.Fs)
	case RegGS:
		return ref64("gs", &regs.Gs)
	case RegSS:
		return ref64("ss", &regs.Ss)
	case RegFSBase:
		return ref64("fs_base", &regs.FsBase)
	case RegGSBase:
		return ref64("gs_base", &regs.GsBase)

	// Width generic registers.
	case RegXAX:
		return ref64("rax", &regs.Rax)
	case RegXCX:
		return ref64("rcx", &regs.Rcx)
	case RegXDX:
		return ref64("rdx", &regs.Rdx)
	case RegXSI:
		return ref64("rsi", &regs.Rsi)
	case RegXDI:
		return ref64("rdi", &regs.Rdi)
	case RegXIP:
		return ref64("rip", &regs.Rip)
	case RegXSP:
		return ref64("rsp", &regs.Rsp)
	case RegXFLAGS:
		return ref64("rflags", &regs.Rflags)

	// 64-bit GP registers.
	case RegR15:
		return ref64("r15", &regs.R15)
	case RegR14:
		return ref64("r14", &regs.R14)
	case RegR13:
		return ref64("r13", &regs.R13)
	case RegR12:
		return ref64("r12", &regs.R12)
	case RegRBP:
		return ref64("rbp", &regs.Rbp)
	case RegRBX:
		return ref64("rbx", &regs.Rbx)
	case RegR11:
		return ref64("r11", &regs.R11)
	case RegR10:
		return ref64("r10", &regs.R10)
	case RegR9:
		return ref64("r9", &regs.R9)
	case RegR8:
		return ref64("r8", &regs.R8)
	case RegRAX:
		return ref64("rax", &regs.Rax)
	case RegRCX:
		return ref64("rcx", &regs.Rcx)
	case RegRDX:
		return ref64("rdx", &regs.Rdx)
	case RegRSI:
		return ref64("rsi", &regs.Rsi)
	case RegRDI:
		return ref64("rdi", &regs.Rdi)
	case RegRIP:
		return ref64("rip", &regs.Rip)
	case RegRSP:
		return ref64("rsp", &regs.Rsp)
	case RegRFLAGS:
		return ref64("rflags", &regs.Rflags)
	case RegOrigRAX:
		return ref64("orig_rax", &regs.OrigRax)

	// 32-bit views.
	case RegEAX:
		return sub64("eax", &regs.Rax, 4, 0)
	case RegEBX:
		return sub64("ebx", &regs.Rbx, 4, 0)
	case RegECX:
		return sub64("ecx", &regs.Rcx, 4, 0)
	case RegEDX:
		return sub64("edx", &regs.Rdx, 4, 0)
	case RegESI:
		return sub64("esi", &regs.Rsi, 4, 0)
	case RegEDI:
		return sub64("edi", &regs.Rdi, 4, 0)
	case RegEIP:
		return sub64("eip", &regs.Rip, 4, 0)
	case RegESP:
		return sub64("esp", &regs.Rsp, 4, 0)
	case RegEBP:
		return sub64("ebp", &regs.Rbp, 4, 0)
	case RegR8D:
		return sub64("r8d", &regs.R8, 4, 0)
	case RegR9D:
		return sub64("r9d", &regs.R9, 4, 0)
	case RegR10D:
		return sub64("r10d", &regs.R10, 4, 0)
	case RegR11D:
		return sub64("r11d", &regs.R11, 4, 0)
	case RegR12D:
		return sub64("r12d", &regs.R12, 4, 0)
	case RegR13D:
		return sub64("r13d", &regs.R13, 4, 0)
	case RegR14D:
		return sub64("r14d", &regs.R14, 4, 0)
	case RegR15D:
		return sub64("r15d", &regs.R15, 4, 0)
	case RegEFLAGS:
		return sub64("eflags", &regs.Rflags, 4, 0)
	case RegOrigEAX:
		return sub64("orig_eax", &regs.OrigRax, 4, 0)

	// 16-bit views.
	case RegAX:
		return sub64("ax", &regs.Rax, 2, 0)
	case RegBX:
		return sub64("bx", &regs.Rbx, 2, 0)
	case RegCX:
		return sub64("cx", &regs.Rcx, 2, 0)
	case RegDX:
		return sub64("dx", &regs.Rdx, 2, 0)
	case RegSI:
		return sub64("si", &regs.Rsi, 2, 0)
	case RegDI:
		return sub64("di", &regs.Rdi, 2, 0)
	case RegBP:
		return sub64("bp", &regs.Rbp, 2, 0)
	case RegSP:
		return sub64("sp", &regs.Rsp, 2, 0)
	case RegR8W:
		return sub64("r8w", &regs.R8, 2, 0)
	case RegR9W:
		return sub64("r9w", &regs.R9, 2, 0)
	case RegR10W:
		return sub64("r10w", &regs.R10, 2, 0)
	case RegR11W:
		return sub64("r11w", &regs.R11, 2, 0)
	case RegR12W:
		return sub64("r12w", &regs.R12, 2, 0)
	case RegR13W:
		return sub64("r13w", &regs.R13, 2, 0)
	case RegR14W:
		return sub64("r14w", &regs.R14, 2, 0)
	case RegR15W:
		return sub64("r15w", &regs.R15, 2, 0)

	// 8-bit views.
	case RegAL:
		return sub64("al", &regs.Rax, 1, 0)
	case RegBL:
		return sub64("bl", &regs.Rbx, 1, 0)
	case RegCL:
		return sub64("cl", &regs.Rcx, 1, 0)
	case RegDL:
		return sub64("dl", &regs.Rdx, 1, 0)
	case RegAH:
		return sub64("ah", &regs.Rax, 1, 1)
	case RegBH:
		return sub64("bh", &regs.Rbx, 1, 1)
	case RegCH:
		return sub64("ch", &regs.Rcx, 1, 1)
	case RegDH:
		return sub64("dh", &regs.Rdx, 1, 1)
	case RegSIL:
		return sub64("sil", &regs.Rsi, 1, 0)
	case RegDIL:
		return sub64("dil", &regs.Rdi, 1, 0)
	case RegBPL:
		return sub64("bpl", &regs.Rbp, 1, 0)
	case RegSPL:
		return sub64("spl", &regs.Rsp, 1, 0)
	case RegR8B:
		return sub64("r8b", &regs.R8, 1, 0)
	case RegR9B:
		return sub64("r9b", &regs.R9, 1, 0)
	case RegR10B:
		return sub64("r10b", &regs.R10, 1, 0)
	case RegR11B:
		return sub64("r11b", &regs.R11, 1, 0)
	case RegR12B:
		return sub64("r12b", &regs.R12, 1, 0)
	case RegR13B:
		return sub64("r13b", &regs.R13, 1, 0)
	case RegR14B:
		return sub64("r14b", &regs.R14, 1, 0)
	case RegR15B:
		return sub64("r15b", &regs.R15, 1, 0)

	// Debug registers.
	case RegDR0, RegDR1, RegDR2, RegDR3, RegDR4, RegDR5, RegDR6, RegDR7:
		n := int(reg - RegDR0)
		return ref64(fmt.Sprintf("dr%d", n), &c.Ctx64.DebugRegs[n])

	// x87 registers.
	case RegST0, RegST1, RegST2, RegST3, RegST4, RegST5, RegST6, RegST7:
		n := int(reg - RegST0)
		return bytesRef(fmt.Sprintf("st%d", n), x87.Registers[n][:])
	case RegCWD:
		return ref16("cwd", &x87.ControlWord)
	case RegSWD:
		return ref16("swd", &x87.StatusWord)
	case RegFTW:
		return ref16("ftw", &x87.TagWord)
	case RegFOP:
		return ref16("fop", &x87.Opcode)
	case RegFIP:
		return ref64("fip", &x87.InstPtrOffset)
	case RegFDP:
		return ref64("fdp", &x87.DataPtrOffset)
	case RegMXCSR:
		return ref32("mxcsr", &simd.Mxcsr)
	case RegMXCSRMask:
		return ref32("mxcsr_mask", &simd.MxcsrMask)

	// MMX registers alias the low 8 bytes of the x87 stack.
	case RegMM0, RegMM1, RegMM2, RegMM3, RegMM4, RegMM5, RegMM6, RegMM7:
		n := int(reg - RegMM0)
		return bytesRef(fmt.Sprintf("mm%d", n), x87.Registers[n][:8])

	// SIMD registers.
	case RegXMM0, RegXMM1, RegXMM2, RegXMM3, RegXMM4, RegXMM5, RegXMM6, RegXMM7,
		RegXMM8, RegXMM9, RegXMM10, RegXMM11, RegXMM12, RegXMM13, RegXMM14, RegXMM15:
		n := int(reg - RegXMM0)
		return bytesRef(fmt.Sprintf("xmm%d", n), simd.Registers[n][:16])
	case RegYMM0, RegYMM1, RegYMM2, RegYMM3, RegYMM4, RegYMM5, RegYMM6, RegYMM7,
		RegYMM8, RegYMM9, RegYMM10, RegYMM11, RegYMM12, RegYMM13, RegYMM14, RegYMM15:
		n := int(reg - RegYMM0)
		return bytesRef(fmt.Sprintf("ymm%d", n), simd.Registers[n][:32])
	case RegZMM0, RegZMM1, RegZMM2, RegZMM3, RegZMM4, RegZMM5, RegZMM6, RegZMM7,
		RegZMM8, RegZMM9, RegZMM10, RegZMM11, RegZMM12, RegZMM13, RegZMM14, RegZMM15:
		n := int(reg - RegZMM0)
		return bytesRef(fmt.Sprintf("zmm%d", n), simd.Registers[n][:64])

	default:
		return RegisterRef{}
	}
}

func (c *Context) get32(reg RegisterID) RegisterRef {
	regs := &c.Ctx32.Regs
	x87 := &c.Xstate.X87
	simd := &c.Xstate.Simd

	switch reg {
	case RegEAX:
		return ref32("eax", &regs.Eax)
	case RegEBX:
		return ref32("ebx", &regs.Ebx)
	case RegECX:
		return ref32("ecx", &regs.Ecx)
	case RegEDX:
		return ref32("edx", &regs.Edx)
	case RegESI:
		return ref32("esi", &regs.Esi)
	case RegEDI:
		return ref32("edi", &regs.Edi)
	case RegOrigEAX:
		return ref32("orig_eax", &regs.OrigEax)
	case RegEIP:
		return ref32("eip", &regs.Eip)
	case RegCS:
		return ref32("cs", &regs.Cs)
	case RegEFLAGS:
		return ref32("eflags", &regs.Eflags)
	case RegESP:
		return ref32("esp", &regs.Esp)
	case RegEBP:
		return ref32("ebp", &regs.Ebp)
	case RegSS:
		return ref32("ss", &regs.Ss)
	case RegDS:
		return ref32("ds", &regs.Ds)
	case RegES:
		return ref32("es", &regs.Es)
	case RegFS:
		return ref32("fs", &regs.Fs)
	case RegGS:
		return ref32("gs", &regs.Gs)
	case RegFSBase:
		return ref32("fs_base", &c.Ctx32.FsBase)
	case RegGSBase:
		return ref32("gs_base", &c.Ctx32.GsBase)

	// 16-bit views.
	case RegAX:
		return sub32("ax", &regs.Eax, 2, 0)
	case RegBX:
		return sub32("bx", &regs.Ebx, 2, 0)
	case RegCX:
		return sub32("cx", &regs.Ecx, 2, 0)
	case RegDX:
		return sub32("dx", &regs.Edx, 2, 0)
	case RegSI:
		return sub32("si", &regs.Esi, 2, 0)
	case RegDI:
		return sub32("di", &regs.Edi, 2, 0)
	case RegBP:
		return sub32("bp", &regs.Ebp, 2, 0)
	case RegSP:
		return sub32("sp", &regs.Esp, 2, 0)

	// 8-bit views.
	case RegAL:
		return sub32("al", &regs.Eax, 1, 0)
	case RegBL:
		return sub32("bl", &regs.Ebx, 1, 0)
	case RegCL:
		return sub32("cl", &regs.Ecx, 1, 0)
	case RegDL:
		return sub32("dl", &regs.Edx, 1, 0)
	case RegAH:
		return sub32("ah", &regs.Eax, 1, 1)
	case RegBH:
		return sub32("bh", &regs.Ebx, 1, 1)
	case RegCH:
		return sub32("ch", &regs.Ecx, 1, 1)
	case RegDH:
		return sub32("dh", &regs.Edx, 1, 1)

	// Debug registers.
	case RegDR0, RegDR1, RegDR2, RegDR3, RegDR4, RegDR5, RegDR6, RegDR7:
		n := int(reg - RegDR0)
		return ref32(fmt.Sprintf("dr%d", n), &c.Ctx32.DebugRegs[n])

	// x87 registers.
	case RegST0, RegST1, RegST2, RegST3, RegST4, RegST5, RegST6, RegST7:
		n := int(reg - RegST0)
		return bytesRef(fmt.Sprintf("st%d", n), x87.Registers[n][:])
	case RegCWD:
		return ref16("cwd", &x87.ControlWord)
	case RegSWD:
		return ref16("swd", &x87.StatusWord)
	case RegFTW:
		return ref16("ftw", &x87.TagWord)
	case RegFOP:
		return ref16("fop", &x87.Opcode)
	case RegFIP:
		return ref64("fip", &x87.InstPtrOffset)
	case RegFDP:
		return ref64("fdp", &x87.DataPtrOffset)
	case RegMXCSR:
		return ref32("mxcsr", &simd.Mxcsr)
	case RegMXCSRMask:
		return ref32("mxcsr_mask", &simd.MxcsrMask)

	case RegMM0, RegMM1, RegMM2, RegMM3, RegMM4, RegMM5, RegMM6, RegMM7:
		n := int(reg - RegMM0)
		return bytesRef(fmt.Sprintf("mm%d", n), x87.Registers[n][:8])

	// Only the first 8 SIMD lanes exist on 32-bit.
	case RegXMM0, RegXMM1, RegXMM2, RegXMM3, RegXMM4, RegXMM5, RegXMM6, RegXMM7:
		n := int(reg - RegXMM0)
		return bytesRef(fmt.Sprintf("xmm%d", n), simd.Registers[n][:16])
	case RegYMM0, RegYMM1, RegYMM2, RegYMM3, RegYMM4, RegYMM5, RegYMM6, RegYMM7:
		n := int(reg - RegYMM0)
		return bytesRef(fmt.Sprintf("ymm%d", n), simd.Registers[n][:32])

	// Width generic registers.
	case RegXAX:
		return ref32("eax", &regs.Eax)
	case RegXCX:
		return ref32("ecx", &regs.Ecx)
	case RegXDX:
		return ref32("edx", &regs.Edx)
	case RegXSI:
		return ref32("esi", &regs.Esi)
	case RegXDI:
		return ref32("edi", &regs.Edi)
	case RegXIP:
		return ref32("eip", &regs.Eip)
	case RegXSP:
		return ref32("esp", &regs.Esp)
	case RegXFLAGS:
		return ref32("eflags", &regs.Eflags)

	default:
		return RegisterRef{}
	}
}

// Dump writes a human readable rendition of the context to w.
func (c *Context) Dump(w io.Writer) {
	if c.Is64Bit() {
		fmt.Fprintf(w, "RIP: %016x RFL: %016x\n", c.Get(RegRIP).Uint64(), c.Get(RegRFLAGS).Uint64())
		fmt.Fprintf(w, "RSP: %016x R8 : %016x\n", c.Get(RegRSP).Uint64(), c.Get(RegR8).Uint64())
		fmt.Fprintf(w, "RBP: %016x R9 : %016x\n", c.Get(RegRBP).Uint64(), c.Get(RegR9).Uint64())
		fmt.Fprintf(w, "RAX: %016x R10: %016x\n", c.Get(RegRAX).Uint64(), c.Get(RegR10).Uint64())
		fmt.Fprintf(w, "RBX: %016x R11: %016x\n", c.Get(RegRBX).Uint64(), c.Get(RegR11).Uint64())
		fmt.Fprintf(w, "RCX: %016x R12: %016x\n", c.Get(RegRCX).Uint64(), c.Get(RegR12).Uint64())
		fmt.Fprintf(w, "RDX: %016x R13: %016x\n", c.Get(RegRDX).Uint64(), c.Get(RegR13).Uint64())
		fmt.Fprintf(w, "RSI: %016x R14: %016x\n", c.Get(RegRSI).Uint64(), c.Get(RegR14).Uint64())
		fmt.Fprintf(w, "RDI: %016x R15: %016x\n", c.Get(RegRDI).Uint64(), c.Get(RegR15).Uint64())
		fmt.Fprintf(w, "CS: %04x SS : %04x FS_BASE: %016x\n", c.Get(RegCS).Uint16(), c.Get(RegSS).Uint16(), c.Get(RegFSBase).Uint64())
		fmt.Fprintf(w, "DS: %04x ES : %04x GS_BASE: %016x\n", c.Get(RegDS).Uint16(), c.Get(RegES).Uint16(), c.Get(RegGSBase).Uint64())
		fmt.Fprintf(w, "FS: %04x GS : %04x\n", c.Get(RegFS).Uint16(), c.Get(RegGS).Uint16())
	} else {
		fmt.Fprintf(w, "EIP: %08x EFL: %08x\n", c.Get(RegEIP).Uint32(), c.Get(RegEFLAGS).Uint32())
		fmt.Fprintf(w, "ESP: %08x EBP: %08x\n", c.Get(RegESP).Uint32(), c.Get(RegEBP).Uint32())
		fmt.Fprintf(w, "EAX: %08x EBX: %08x\n", c.Get(RegEAX).Uint32(), c.Get(RegEBX).Uint32())
		fmt.Fprintf(w, "ECX: %08x EDX: %08x\n", c.Get(RegECX).Uint32(), c.Get(RegEDX).Uint32())
		fmt.Fprintf(w, "ESI: %08x EDI: %08x\n", c.Get(RegESI).Uint32(), c.Get(RegEDI).Uint32())
		fmt.Fprintf(w, "CS: %04x SS : %04x FS_BASE: %08x\n", c.Get(RegCS).Uint16(), c.Get(RegSS).Uint16(), c.Get(RegFSBase).Uint32())
		fmt.Fprintf(w, "DS: %04x ES : %04x GS_BASE: %08x\n", c.Get(RegDS).Uint16(), c.Get(RegES).Uint16(), c.Get(RegGSBase).Uint32())
		fmt.Fprintf(w, "FS: %04x GS : %04x\n", c.Get(RegFS).Uint16(), c.Get(RegGS).Uint16())
	}

	nlanes := simdLanes(c.Is64Bit())
	if c.Xstate.Simd.SseFilled {
		fmt.Fprintf(w, "XSTATE SSE registers:\n")
		for n := 0; n < nlanes; n++ {
			fmt.Fprintf(w, "XMM%02d: %x\n", n, c.Xstate.Simd.Registers[n][:16])
		}
	}
	if c.Xstate.Simd.AvxFilled {
		fmt.Fprintf(w, "XSTATE AVX registers:\n")
		for n := 0; n < nlanes; n++ {
			fmt.Fprintf(w, "YMM%02d: %x\n", n, c.Xstate.Simd.Registers[n][:32])
		}
	}
	if c.Is64Bit() && c.Xstate.Simd.ZmmFilled {
		fmt.Fprintf(w, "XSTATE ZMM registers:\n")
		for n := 0; n < 32; n++ {
			fmt.Fprintf(w, "ZMM%02d: %x\n", n, c.Xstate.Simd.Registers[n][:])
		}
	}
}
