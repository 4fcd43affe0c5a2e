package x86

// Regs32 mirrors the 32-bit user_regs_struct in sys/user.h.
type Regs32 struct {
	Ebx     uint32
	Ecx     uint32
	Edx     uint32
	Esi     uint32
	Edi     uint32
	Ebp     uint32
	Eax     uint32
	Ds      uint32
	Es      uint32
	Fs      uint32
	Gs      uint32
	OrigEax uint32
	Eip     uint32
	Cs      uint32
	Eflags  uint32
	Esp     uint32
	Ss      uint32
}

// Regs64 mirrors the 64-bit user_regs_struct in sys/user.h.
type Regs64 struct {
	R15     uint64
	R14     uint64
	R13     uint64
	R12     uint64
	Rbp     uint64
	Rbx     uint64
	R11     uint64
	R10     uint64
	R9      uint64
	R8      uint64
	Rax     uint64
	Rcx     uint64
	Rdx     uint64
	Rsi     uint64
	Rdi     uint64
	OrigRax uint64
	Rip     uint64
	Cs      uint64
	Rflags  uint64
	Rsp     uint64
	Ss      uint64
	FsBase  uint64
	GsBase  uint64
	Ds      uint64
	Es      uint64
	Fs      uint64
	Gs      uint64
}

// Sizes of the kernel register layouts. The kernel reports one of
// these as iov_len on PTRACE_GETREGSET(NT_PRSTATUS), which is how the
// bitness of a thread is detected.
const (
	Regs32Size = 17 * 4  // 68
	Regs64Size = 27 * 8  // 216
)
