// Package proc is a low-level package that provides methods to manipulate
// the process we are debugging.
//
// proc implements all core functionality including:
// * spawning / attaching to a process
// * process manipulation (step, continue, halt, kill)
// * software breakpoints with original byte shadowing
// * reading and writing target memory and registers
// * the debug event pump that drives thread stop reporting
package proc
