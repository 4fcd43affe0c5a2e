// Package x86 models the CPU state of a stopped x86 or x86-64 thread:
// the general purpose register file in both the 32-bit and 64-bit
// kernel layouts, the debug register slots, and the normalized
// x87/SSE/AVX/AVX-512 extended state, along with typed references into
// all of them.
package x86

// RegisterID names a register slice of a Context. The same identifier
// space covers both bitnesses; identifiers that do not exist for a
// Context's bitness resolve to an invalid RegisterRef.
type RegisterID int

const (
	RegInvalid RegisterID = iota

	RegOrigEAX

	// Segment registers.
	RegGS
	RegFS
	RegES
	RegDS
	RegCS
	RegSS
	RegFSBase
	RegGSBase

	// Debug registers.
	RegDR0
	RegDR1
	RegDR2
	RegDR3
	RegDR4
	RegDR5
	RegDR6
	RegDR7

	RegEFLAGS
	RegRFLAGS

	// 32-bit GP registers and their 16/8-bit slices.
	RegEAX
	RegAX
	RegAH
	RegAL
	RegEBX
	RegBX
	RegBH
	RegBL
	RegECX
	RegCX
	RegCH
	RegCL
	RegEDX
	RegDX
	RegDH
	RegDL
	RegEDI
	RegDI
	RegESI
	RegSI
	RegEBP
	RegBP
	RegESP
	RegSP
	RegEIP

	// 64-bit GP registers and their slices.
	RegOrigRAX
	RegRAX
	RegRBX
	RegRCX
	RegRDX
	RegRSI
	RegSIL
	RegRDI
	RegDIL
	RegRBP
	RegBPL
	RegRSP
	RegSPL
	RegRIP
	RegR8
	RegR8D
	RegR8W
	RegR8B
	RegR9
	RegR9D
	RegR9W
	RegR9B
	RegR10
	RegR10D
	RegR10W
	RegR10B
	RegR11
	RegR11D
	RegR11W
	RegR11B
	RegR12
	RegR12D
	RegR12W
	RegR12B
	RegR13
	RegR13D
	RegR13W
	RegR13B
	RegR14
	RegR14D
	RegR14W
	RegR14B
	RegR15
	RegR15D
	RegR15W
	RegR15B

	// x87 stack registers.
	RegST0
	RegST1
	RegST2
	RegST3
	RegST4
	RegST5
	RegST6
	RegST7

	RegCWD       // control word
	RegSWD       // status word
	RegFTW       // tag word
	RegFOP       // last instruction opcode
	RegFIP       // last instruction offset
	RegFDP       // last operand offset
	RegMXCSR     // SSE control and status register
	RegMXCSRMask // SSE control and status register mask

	// MMX registers, aliases over the low 8 bytes of ST0-ST7.
	RegMM0
	RegMM1
	RegMM2
	RegMM3
	RegMM4
	RegMM5
	RegMM6
	RegMM7

	// SIMD registers.
	RegXMM0
	RegXMM1
	RegXMM2
	RegXMM3
	RegXMM4
	RegXMM5
	RegXMM6
	RegXMM7
	RegXMM8
	RegXMM9
	RegXMM10
	RegXMM11
	RegXMM12
	RegXMM13
	RegXMM14
	RegXMM15
	RegYMM0
	RegYMM1
	RegYMM2
	RegYMM3
	RegYMM4
	RegYMM5
	RegYMM6
	RegYMM7
	RegYMM8
	RegYMM9
	RegYMM10
	RegYMM11
	RegYMM12
	RegYMM13
	RegYMM14
	RegYMM15
	RegZMM0
	RegZMM1
	RegZMM2
	RegZMM3
	RegZMM4
	RegZMM5
	RegZMM6
	RegZMM7
	RegZMM8
	RegZMM9
	RegZMM10
	RegZMM11
	RegZMM12
	RegZMM13
	RegZMM14
	RegZMM15

	// Width generic registers, resolved according to the bitness of
	// the Context they are looked up in.
	RegXAX
	RegXCX
	RegXDX
	RegXSI
	RegXDI
	RegXIP
	RegXSP
	RegXFLAGS
)
