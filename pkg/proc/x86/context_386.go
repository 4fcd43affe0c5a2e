//go:build 386
// +build 386

package x86

// Get returns a reference to the given register, dispatching on the
// bitness of the target the context was read from.
func (c *Context) Get(reg RegisterID) RegisterRef {
	if c.is64Bit {
		return c.get64(reg)
	}
	return c.get32(reg)
}
