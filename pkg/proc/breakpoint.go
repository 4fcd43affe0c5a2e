package proc

// BreakpointKind selects the trap instruction a software breakpoint
// writes over the target's code.
type BreakpointKind uint8

const (
	// BreakpointAutomatic lets the debugger pick; it resolves to INT3.
	BreakpointAutomatic BreakpointKind = iota
	BreakpointInt3
	BreakpointInt1
	BreakpointHlt
	BreakpointCli
	BreakpointSti
	BreakpointInsb
	BreakpointInsd
	BreakpointOutsb
	BreakpointOutsd
	BreakpointUd2
	BreakpointUd0
)

// breakpointInstr maps each kind to its encoding. Two byte encodings
// exist only for the UD trap family.
var breakpointInstr = map[BreakpointKind][]byte{
	BreakpointInt3:  {0xcc},
	BreakpointInt1:  {0xf1},
	BreakpointHlt:   {0xf4},
	BreakpointCli:   {0xfa},
	BreakpointSti:   {0xfb},
	BreakpointInsb:  {0x6c},
	BreakpointInsd:  {0x6d},
	BreakpointOutsb: {0x6e},
	BreakpointOutsd: {0x6f},
	BreakpointUd2:   {0x0f, 0x0b},
	BreakpointUd0:   {0x0f, 0xff},
}

// maxBreakpointSize is the widest trap encoding in breakpointInstr.
const maxBreakpointSize = 2

func (k BreakpointKind) String() string {
	switch k {
	case BreakpointAutomatic:
		return "automatic"
	case BreakpointInt3:
		return "int3"
	case BreakpointInt1:
		return "int1"
	case BreakpointHlt:
		return "hlt"
	case BreakpointCli:
		return "cli"
	case BreakpointSti:
		return "sti"
	case BreakpointInsb:
		return "insb"
	case BreakpointInsd:
		return "insd"
	case BreakpointOutsb:
		return "outsb"
	case BreakpointOutsd:
		return "outsd"
	case BreakpointUd2:
		return "ud2"
	case BreakpointUd0:
		return "ud0"
	}
	return "invalid"
}

// instr returns the encoding for the kind, resolving Automatic.
func (k BreakpointKind) instr() []byte {
	if k == BreakpointAutomatic {
		k = BreakpointInt3
	}
	return breakpointInstr[k]
}

// Breakpoint is one enabled software breakpoint. While enabled the
// target memory at [Addr, Addr+Size()) holds the trap encoding and
// OriginalBytes shadows the true instruction bytes.
type Breakpoint struct {
	Addr          uint64
	Kind          BreakpointKind
	OriginalBytes []byte
	HitCount      uint64

	dbp     *Process
	enabled bool
}

func newBreakpoint(dbp *Process, addr uint64, kind BreakpointKind) (*Breakpoint, error) {
	bp := &Breakpoint{
		Addr: addr,
		Kind: kind,
		dbp:  dbp,
	}
	if err := bp.Enable(); err != nil {
		return nil, err
	}
	return bp, nil
}

// Size returns the width of the trap encoding in bytes.
func (bp *Breakpoint) Size() int {
	return len(bp.Kind.instr())
}

// Enabled reports whether the trap bytes are currently installed.
func (bp *Breakpoint) Enabled() bool {
	return bp.enabled
}

// ReplacementBytes returns the trap encoding this breakpoint installs.
func (bp *Breakpoint) ReplacementBytes() []byte {
	return bp.Kind.instr()
}

// Enable saves the instruction bytes at Addr and writes the trap
// encoding over them. Enabling an enabled breakpoint is a no-op.
func (bp *Breakpoint) Enable() error {
	if bp.enabled {
		return nil
	}
	instr := bp.Kind.instr()
	orig := make([]byte, len(instr))
	n, err := bp.dbp.readMemoryRaw(bp.Addr, orig)
	if err != nil {
		return opError("read breakpoint site", bp.dbp.pid, 0, err)
	}
	if n != len(instr) {
		return ErrShortBreakpointIO{Addr: bp.Addr, Want: len(instr), Got: n}
	}
	n, err = bp.dbp.WriteMemory(bp.Addr, instr)
	if err != nil {
		return opError("write breakpoint", bp.dbp.pid, 0, err)
	}
	if n != len(instr) {
		return ErrShortBreakpointIO{Addr: bp.Addr, Want: len(instr), Got: n}
	}
	bp.OriginalBytes = orig
	bp.enabled = true
	return nil
}

// Disable writes the saved instruction bytes back. Disabling a
// disabled breakpoint is a no-op.
func (bp *Breakpoint) Disable() error {
	if !bp.enabled {
		return nil
	}
	n, err := bp.dbp.WriteMemory(bp.Addr, bp.OriginalBytes)
	if err != nil {
		return opError("restore breakpoint site", bp.dbp.pid, 0, err)
	}
	if n != len(bp.OriginalBytes) {
		return ErrShortBreakpointIO{Addr: bp.Addr, Want: len(bp.OriginalBytes), Got: n}
	}
	bp.enabled = false
	return nil
}

// Hit records one execution of the trap.
func (bp *Breakpoint) Hit() {
	bp.HitCount++
}

// covers reports whether the trap bytes overlap [addr, addr+n).
func (bp *Breakpoint) covers(addr uint64, n int) bool {
	return bp.Addr < addr+uint64(n) && addr < bp.Addr+uint64(bp.Size())
}
