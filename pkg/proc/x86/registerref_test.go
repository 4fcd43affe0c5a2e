package x86

import (
	"testing"
)

func TestRegisterRefReadWidths(t *testing.T) {
	c := &Context{}
	c.Ctx64.Regs.Rax = 0x1122334455667788

	tests := []struct {
		reg  RegisterID
		name string
		size int
		want uint64
	}{
		{RegRAX, "rax", 8, 0x1122334455667788},
		{RegEAX, "eax", 4, 0x55667788},
		{RegAX, "ax", 2, 0x7788},
		{RegAL, "al", 1, 0x88},
		{RegAH, "ah", 1, 0x77},
	}
	for _, tt := range tests {
		r := c.get64(tt.reg)
		if !r.Valid() {
			t.Fatalf("%s: expected a valid reference", tt.name)
		}
		if r.Name() != tt.name {
			t.Errorf("expected name %q, got %q", tt.name, r.Name())
		}
		if r.Size() != tt.size {
			t.Errorf("%s: expected size %d, got %d", tt.name, tt.size, r.Size())
		}
		if got := r.Uint64(); got != tt.want {
			t.Errorf("%s: expected %#x, got %#x", tt.name, tt.want, got)
		}
	}
}

func TestRegisterRefSetUint64(t *testing.T) {
	c := &Context{}
	c.Ctx64.Regs.Rbx = 0xffffffffffffffff

	// A 32-bit store truncates and leaves the upper half untouched,
	// matching a direct store into the 4-byte slice.
	c.get64(RegEBX).SetUint64(0x11223344aabbccdd)
	if got := c.Ctx64.Regs.Rbx; got != 0xffffffffaabbccdd {
		t.Errorf("expected rbx %#x, got %#x", uint64(0xffffffffaabbccdd), got)
	}

	// A full width store replaces the whole register.
	c.get64(RegRBX).SetUint64(0x0102030405060708)
	if got := c.Ctx64.Regs.Rbx; got != 0x0102030405060708 {
		t.Errorf("expected rbx %#x, got %#x", uint64(0x0102030405060708), got)
	}

	// Storing through a register wider than 8 bytes zero extends into
	// the rest of the slot.
	for i := range c.Xstate.Simd.Registers[0] {
		c.Xstate.Simd.Registers[0][i] = 0xff
	}
	c.get64(RegXMM0).SetUint64(0xcafe)
	xmm0 := c.get64(RegXMM0)
	if got := xmm0.Uint64(); got != 0xcafe {
		t.Errorf("expected xmm0 low quad %#x, got %#x", uint64(0xcafe), got)
	}
	for i := 8; i < 16; i++ {
		if xmm0.Bytes()[i] != 0 {
			t.Errorf("expected xmm0 byte %d to be zeroed, got %#x", i, xmm0.Bytes()[i])
		}
	}
}

func TestRegisterRefArith(t *testing.T) {
	c := &Context{}
	c.Ctx64.Regs.Rip = 0x401000

	rip := c.get64(RegRIP)
	rip.Add(2)
	if got := c.Ctx64.Regs.Rip; got != 0x401002 {
		t.Errorf("expected rip %#x after Add, got %#x", uint64(0x401002), got)
	}
	rip.Sub(1)
	if got := c.Ctx64.Regs.Rip; got != 0x401001 {
		t.Errorf("expected rip %#x after Sub, got %#x", uint64(0x401001), got)
	}
	rip.Inc()
	rip.Dec()
	if got := c.Ctx64.Regs.Rip; got != 0x401001 {
		t.Errorf("expected rip %#x after Inc/Dec, got %#x", uint64(0x401001), got)
	}

	// Narrow registers wrap within their own width.
	c.Ctx64.Regs.Rcx = 0x12345678000000ff
	c.get64(RegCL).Inc()
	if got := c.Ctx64.Regs.Rcx; got != 0x1234567800000000 {
		t.Errorf("expected cl increment to wrap, got rcx %#x", got)
	}
}

func TestRegisterRefArithPanicsOnWideRegister(t *testing.T) {
	c := &Context{}
	defer func() {
		if recover() == nil {
			t.Fatal("expected arithmetic on a 16 byte register to panic")
		}
	}()
	c.get64(RegXMM1).Inc()
}

func TestRegisterRefInvalid(t *testing.T) {
	var r RegisterRef
	if r.Valid() {
		t.Fatal("expected the zero reference to be invalid")
	}
	if r.Size() != 0 {
		t.Errorf("expected size 0, got %d", r.Size())
	}
	if got := r.Uint64(); got != 0 {
		t.Errorf("expected zero value read, got %#x", got)
	}

	// 64-bit only registers do not exist in the 32-bit file.
	c := &Context{}
	if c.get32(RegRAX).Valid() {
		t.Error("expected rax to be invalid in a 32-bit register file")
	}
	if !c.get32(RegEAX).Valid() {
		t.Error("expected eax to be valid in a 32-bit register file")
	}
}

func TestRegisterRefEqual(t *testing.T) {
	c := &Context{}
	c.Ctx64.Regs.Rdx = 0xdead
	c.Ctx64.Regs.Rsi = 0xdead

	if !c.get64(RegRDX).Equal(c.get64(RegRSI)) {
		t.Error("expected registers with identical contents to be equal")
	}
	if c.get64(RegRDX).Equal(c.get64(RegEDX)) {
		t.Error("expected views of different widths to be unequal")
	}
}

func TestWidthGenericRegisters(t *testing.T) {
	c := &Context{}
	c.Ctx64.Regs.Rip = 0x401000
	if got := c.get64(RegXIP).Name(); got != "rip" {
		t.Errorf("expected xip to resolve to rip, got %q", got)
	}

	c32 := &Context{}
	c32.Ctx32.Regs.Eip = 0x8048000
	if got := c32.get32(RegXIP).Name(); got != "eip" {
		t.Errorf("expected xip to resolve to eip, got %q", got)
	}
	if got := c32.get32(RegXIP).Uint64(); got != 0x8048000 {
		t.Errorf("expected xip read %#x, got %#x", uint64(0x8048000), got)
	}
}
