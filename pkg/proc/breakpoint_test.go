package proc

import (
	"bytes"
	"testing"
)

func TestBreakpointKindEncodings(t *testing.T) {
	tests := []struct {
		kind BreakpointKind
		name string
		want []byte
	}{
		{BreakpointAutomatic, "automatic", []byte{0xcc}},
		{BreakpointInt3, "int3", []byte{0xcc}},
		{BreakpointInt1, "int1", []byte{0xf1}},
		{BreakpointHlt, "hlt", []byte{0xf4}},
		{BreakpointCli, "cli", []byte{0xfa}},
		{BreakpointSti, "sti", []byte{0xfb}},
		{BreakpointInsb, "insb", []byte{0x6c}},
		{BreakpointInsd, "insd", []byte{0x6d}},
		{BreakpointOutsb, "outsb", []byte{0x6e}},
		{BreakpointOutsd, "outsd", []byte{0x6f}},
		{BreakpointUd2, "ud2", []byte{0x0f, 0x0b}},
		{BreakpointUd0, "ud0", []byte{0x0f, 0xff}},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.name {
			t.Errorf("kind %d: expected name %q, got %q", tt.kind, tt.name, got)
		}
		if got := tt.kind.instr(); !bytes.Equal(got, tt.want) {
			t.Errorf("%s: expected encoding %x, got %x", tt.name, tt.want, got)
		}
		if len(tt.kind.instr()) > maxBreakpointSize {
			t.Errorf("%s: encoding wider than maxBreakpointSize", tt.name)
		}
	}

	if got := BreakpointKind(200).String(); got != "invalid" {
		t.Errorf("expected unknown kind to stringify as invalid, got %q", got)
	}
}

func TestBreakpointCovers(t *testing.T) {
	bp := &Breakpoint{Addr: 0x1000, Kind: BreakpointUd2}

	tests := []struct {
		addr uint64
		n    int
		want bool
	}{
		{0x1000, 1, true},
		{0x1001, 1, true},
		{0x0fff, 1, false},
		{0x1002, 1, false},
		{0x0ffe, 4, true},
		{0x0f00, 0x100, false},
		{0x0f00, 0x101, true},
	}
	for _, tt := range tests {
		if got := bp.covers(tt.addr, tt.n); got != tt.want {
			t.Errorf("covers(%#x, %d) = %v, want %v", tt.addr, tt.n, got, tt.want)
		}
	}
}

func TestFilterBreakpoints(t *testing.T) {
	dbp := &Process{breakpoints: make(map[uint64]*Breakpoint)}
	dbp.breakpoints[0x1002] = &Breakpoint{
		Addr:          0x1002,
		Kind:          BreakpointInt3,
		OriginalBytes: []byte{0x90},
		enabled:       true,
	}
	dbp.breakpoints[0x1005] = &Breakpoint{
		Addr:          0x1005,
		Kind:          BreakpointUd2,
		OriginalBytes: []byte{0x31, 0xc0},
		enabled:       true,
	}
	dbp.breakpoints[0x1008] = &Breakpoint{
		Addr:          0x1008,
		Kind:          BreakpointInt3,
		OriginalBytes: []byte{0xc3},
		enabled:       false,
	}

	buf := []byte{0x55, 0x48, 0xcc, 0x89, 0xe5, 0x0f, 0x0b, 0x5d, 0xcc, 0xc9}
	dbp.filterBreakpoints(0x1000, buf)

	want := []byte{0x55, 0x48, 0x90, 0x89, 0xe5, 0x31, 0xc0, 0x5d, 0xcc, 0xc9}
	if !bytes.Equal(buf, want) {
		t.Errorf("expected filtered read %x, got %x", want, buf)
	}
}

func TestFilterBreakpointsPartialOverlap(t *testing.T) {
	dbp := &Process{breakpoints: make(map[uint64]*Breakpoint)}
	dbp.breakpoints[0x0fff] = &Breakpoint{
		Addr:          0x0fff,
		Kind:          BreakpointUd2,
		OriginalBytes: []byte{0x39, 0xd8},
		enabled:       true,
	}

	// The read window catches only the second trap byte.
	buf := []byte{0x0b, 0x74}
	dbp.filterBreakpoints(0x1000, buf)
	want := []byte{0xd8, 0x74}
	if !bytes.Equal(buf, want) {
		t.Errorf("expected filtered read %x, got %x", want, buf)
	}
}

func TestSearchBreakpoint(t *testing.T) {
	dbp := &Process{breakpoints: make(map[uint64]*Breakpoint)}
	int3 := &Breakpoint{Addr: 0x1000, Kind: BreakpointInt3}
	ud2 := &Breakpoint{Addr: 0x2000, Kind: BreakpointUd2}
	dbp.breakpoints[int3.Addr] = int3
	dbp.breakpoints[ud2.Addr] = ud2

	// The stop address is past the trap encoding.
	if got := dbp.searchBreakpoint(0x1001); got != int3 {
		t.Errorf("expected the int3 breakpoint, got %v", got)
	}
	if got := dbp.searchBreakpoint(0x2002); got != ud2 {
		t.Errorf("expected the ud2 breakpoint, got %v", got)
	}

	// A one byte rewind must not land inside a two byte trap and the
	// other way around.
	if got := dbp.searchBreakpoint(0x1002); got != nil {
		t.Errorf("expected no breakpoint two bytes past an int3, got %v", got)
	}
	if got := dbp.searchBreakpoint(0x2001); got != nil {
		t.Errorf("expected no breakpoint one byte past a ud2, got %v", got)
	}
	if got := dbp.searchBreakpoint(0x3000); got != nil {
		t.Errorf("expected no breakpoint, got %v", got)
	}
}

func TestBreakpointHitCount(t *testing.T) {
	bp := &Breakpoint{Addr: 0x1000, Kind: BreakpointInt3}
	for i := 0; i < 3; i++ {
		bp.Hit()
	}
	if bp.HitCount != 3 {
		t.Errorf("expected hit count 3, got %d", bp.HitCount)
	}
}
