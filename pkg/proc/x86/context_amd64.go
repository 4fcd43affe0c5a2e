//go:build amd64
// +build amd64

package x86

// Get returns a reference to the given register. On a 64-bit tracer
// the 64-bit layout is authoritative for every target, because
// PTRACE_GETREGS normalizes 32-bit targets into 64-bit slots.
func (c *Context) Get(reg RegisterID) RegisterRef {
	return c.get64(reg)
}
