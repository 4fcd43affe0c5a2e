package x86

import (
	"bytes"
	"fmt"
	"unsafe"
)

// RegisterRef is a borrowed view onto one register slice of a Context.
// It owns nothing; reads and writes go straight through to the Context
// storage it was created from and it must not outlive that Context.
//
// All multi-byte accesses are little endian, which is the only byte
// order an x86 register file exists in.
type RegisterRef struct {
	name string
	data []byte
}

// Valid reports whether the reference names a register that exists for
// the Context and bitness it was looked up in.
func (r RegisterRef) Valid() bool {
	return r.data != nil
}

// Name returns the canonical lower case name of the register.
func (r RegisterRef) Name() string {
	return r.name
}

// Size returns the width of the register in bytes.
func (r RegisterRef) Size() int {
	return len(r.data)
}

// Bytes returns the underlying storage of the register. Mutating the
// returned slice mutates the Context.
func (r RegisterRef) Bytes() []byte {
	return r.data
}

// Equal compares two register views byte for byte. Views of different
// sizes are never equal.
func (r RegisterRef) Equal(other RegisterRef) bool {
	return bytes.Equal(r.data, other.data)
}

// Uint64 reads the register zero extended to 64 bits. Registers wider
// than 8 bytes are truncated to their low 8 bytes.
func (r RegisterRef) Uint64() uint64 {
	var v uint64
	n := len(r.data)
	if n > 8 {
		n = 8
	}
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint64(r.data[i])
	}
	return v
}

// Uint32 reads the register truncated or zero extended to 32 bits.
func (r RegisterRef) Uint32() uint32 { return uint32(r.Uint64()) }

// Uint16 reads the register truncated or zero extended to 16 bits.
func (r RegisterRef) Uint16() uint16 { return uint16(r.Uint64()) }

// Uint8 reads the low byte of the register.
func (r RegisterRef) Uint8() uint8 { return uint8(r.Uint64()) }

// SetUint64 assigns v to the register, truncating if the register is
// narrower than 8 bytes and zero extending into the remainder of the
// slot if it is wider.
func (r RegisterRef) SetUint64(v uint64) {
	for i := range r.data {
		if i < 8 {
			r.data[i] = byte(v >> (8 * i))
		} else {
			r.data[i] = 0
		}
	}
}

// Add increments the register value in place. Only power of two
// register sizes up to 8 bytes support arithmetic.
func (r RegisterRef) Add(delta uint64) {
	r.checkArith()
	r.SetUint64(r.Uint64() + delta)
}

// Sub decrements the register value in place.
func (r RegisterRef) Sub(delta uint64) {
	r.checkArith()
	r.SetUint64(r.Uint64() - delta)
}

// Inc increments the register by one.
func (r RegisterRef) Inc() { r.Add(1) }

// Dec decrements the register by one.
func (r RegisterRef) Dec() { r.Sub(1) }

func (r RegisterRef) checkArith() {
	switch len(r.data) {
	case 1, 2, 4, 8:
	default:
		panic(fmt.Sprintf("register %s: arithmetic on %d byte register", r.name, len(r.data)))
	}
}

// bytesRef makes a view over storage that is already addressable as a
// byte slice.
func bytesRef(name string, b []byte) RegisterRef {
	return RegisterRef{name: name, data: b}
}

// fieldRef makes a view of size bytes at byte offset off inside the
// integer field at p. off is nonzero only for the AH/BH/CH/DH views.
func fieldRef(name string, p unsafe.Pointer, size, off int) RegisterRef {
	b := unsafe.Slice((*byte)(p), off+size)
	return RegisterRef{name: name, data: b[off:]}
}

func ref64(name string, p *uint64) RegisterRef {
	return fieldRef(name, unsafe.Pointer(p), 8, 0)
}

func ref32(name string, p *uint32) RegisterRef {
	return fieldRef(name, unsafe.Pointer(p), 4, 0)
}

func ref16(name string, p *uint16) RegisterRef {
	return fieldRef(name, unsafe.Pointer(p), 2, 0)
}

// sub64 makes a narrow view into a 64-bit register field.
func sub64(name string, p *uint64, size, off int) RegisterRef {
	return fieldRef(name, unsafe.Pointer(p), size, off)
}

// sub32 makes a narrow view into a 32-bit register field.
func sub32(name string, p *uint32, size, off int) RegisterRef {
	return fieldRef(name, unsafe.Pointer(p), size, off)
}
