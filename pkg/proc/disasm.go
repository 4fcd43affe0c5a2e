package proc

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// AsmInstruction is one decoded instruction of the target.
type AsmInstruction struct {
	Addr  uint64
	Bytes []byte
	Text  string
}

// maxInstructionLength is the architectural limit on x86 instruction
// encodings.
const maxInstructionLength = 15

// Disassemble decodes count instructions starting at addr, rendered in
// Intel syntax. The decode mode follows the bitness of the active
// thread. Reads are breakpoint masked, so the decoded bytes are the
// program's true instructions. A byte sequence that does not decode is
// consumed one byte at a time and rendered as "?".
func (dbp *Process) Disassemble(addr uint64, count int) ([]AsmInstruction, error) {
	if dbp.exited {
		return nil, ErrProcessExited{Pid: dbp.pid}
	}
	bitSize := 64
	if th := dbp.activeThread; th != nil && !th.Is64Bit() {
		bitSize = 32
	}

	buf := make([]byte, count*maxInstructionLength)
	n, err := dbp.ReadMemory(addr, buf)
	if n == 0 {
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("no readable memory at %#x", addr)
	}
	buf = buf[:n]

	out := make([]AsmInstruction, 0, count)
	pc := addr
	for len(out) < count && len(buf) > 0 {
		inst, err := x86asm.Decode(buf, bitSize)
		size := inst.Len
		var text string
		if err != nil {
			size = 1
			text = "?"
		} else {
			text = x86asm.IntelSyntax(inst, pc, nil)
		}
		out = append(out, AsmInstruction{
			Addr:  pc,
			Bytes: append([]byte(nil), buf[:size]...),
			Text:  text,
		})
		pc += uint64(size)
		buf = buf[size:]
	}
	return out, nil
}
