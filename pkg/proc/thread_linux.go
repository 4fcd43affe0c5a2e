package proc

import (
	"fmt"
	"syscall"

	sys "golang.org/x/sys/unix"

	"github.com/pdbg/pdbg/pkg/proc/x86"
)

// ThreadState tracks whether a task is running or sitting in a
// ptrace stop from the tracer's point of view.
type ThreadState uint8

const (
	ThreadRunning ThreadState = iota
	ThreadStopped
)

func (s ThreadState) String() string {
	if s == ThreadStopped {
		return "stopped"
	}
	return "running"
}

// ThreadFlags select how a Thread is brought under trace.
type ThreadFlags uint8

const (
	// FlagAttach issues PTRACE_ATTACH and awaits the attach stop.
	// Without it the task is assumed to already be traced, either
	// through TRACEME or through clone option inheritance.
	FlagAttach ThreadFlags = 1 << iota
	// FlagKillOnTracerExit arms PTRACE_O_EXITKILL so the target dies
	// with the tracer.
	FlagKillOnTracerExit
)

// traceOptions is applied to every traced task so the kernel reports
// clone and fork births and the pre-exit stop.
const traceOptions = sys.PTRACE_O_TRACECLONE | sys.PTRACE_O_TRACEFORK | sys.PTRACE_O_TRACEEXIT

// Thread represents one traced task of the target process.
type Thread struct {
	ID     int
	Status sys.WaitStatus

	// dbp is a non-owning back reference; the Process outlives its
	// threads by construction.
	dbp      *Process
	state    ThreadState
	is64Bit  bool
	detached bool
}

// newThread brings tid under trace. When attach is requested the
// attach stop is consumed here; a TRACEME child's exec stop is also
// consumed here (awaitStop); a clone-adopted task's stop was already
// drained by the pump and the caller passes awaitStop false.
func newThread(dbp *Process, tid int, flags ThreadFlags, awaitStop bool) (*Thread, error) {
	t := &Thread{ID: tid, dbp: dbp, state: ThreadRunning}

	var err error
	if flags&FlagAttach != 0 {
		dbp.execPtraceFunc(func() { err = ptraceAttach(tid) })
		if err != nil && err != sys.EPERM {
			// EPERM may mean the task is already traced through
			// TRACECLONE; a real permission problem will resurface
			// on the next ptrace call.
			return nil, opError("attach", dbp.pid, tid, err)
		}
	}
	if flags&FlagAttach != 0 || awaitStop {
		wpid, status, err := dbp.waitFast(tid)
		if err != nil {
			return nil, opError("wait for initial stop", dbp.pid, tid, err)
		}
		t.Status = status
		if status.Exited() || status.Signaled() {
			if flags&FlagAttach != 0 {
				return nil, opError("wait for initial stop", dbp.pid, tid, fmt.Errorf("thread %d already exited", wpid))
			}
			// A spawned child that died before its exec stop; hand
			// the thread back so the caller can report what it saw.
			t.state = ThreadStopped
			return t, nil
		}
	}
	t.state = ThreadStopped

	opts := traceOptions
	if flags&FlagKillOnTracerExit != 0 {
		opts |= sys.PTRACE_O_EXITKILL
	}
	dbp.execPtraceFunc(func() { err = sys.PtraceSetOptions(tid, opts) })
	if err == syscall.ESRCH {
		// The task was not in ptrace-stop yet; consume the pending
		// stop and retry once.
		if _, _, err = dbp.waitFast(tid); err != nil {
			return nil, opError("wait before setting options", dbp.pid, tid, err)
		}
		dbp.execPtraceFunc(func() { err = sys.PtraceSetOptions(tid, opts) })
	}
	if err != nil {
		return nil, opError("set ptrace options", dbp.pid, tid, err)
	}

	if err := t.detectBitness(); err != nil {
		return nil, err
	}
	return t, nil
}

// detectBitness discriminates the target layout by the length the
// kernel reports for NT_PRSTATUS: 68 bytes for the 32-bit
// user_regs_struct, 216 for the 64-bit one.
func (t *Thread) detectBitness() error {
	buf := make([]byte, x86.Regs64Size)
	var n int
	var err error
	t.dbp.execPtraceFunc(func() { n, err = ptraceGetRegset(t.ID, _NT_PRSTATUS, buf) })
	if err != nil {
		return opError("detect target bitness", t.dbp.pid, t.ID, err)
	}
	switch n {
	case x86.Regs32Size:
		t.is64Bit = false
	case x86.Regs64Size:
		t.is64Bit = true
	default:
		return opError("detect target bitness", t.dbp.pid, t.ID,
			fmt.Errorf("unexpected NT_PRSTATUS length %d", n))
	}
	return nil
}

// Is64Bit reports whether the target task runs in 64-bit mode.
func (t *Thread) Is64Bit() bool { return t.is64Bit }

// State returns the tracer-side run state of the task.
func (t *Thread) State() ThreadState { return t.state }

// Stopped reports whether the task is in a ptrace stop.
func (t *Thread) Stopped() bool { return t.state == ThreadStopped }

func (t *Thread) assertStopped(op string) {
	if t.state != ThreadStopped {
		panic(fmt.Sprintf("thread %d: %s requires a stopped thread", t.ID, op))
	}
}

func (t *Thread) assertRunning(op string) {
	if t.state != ThreadRunning {
		panic(fmt.Sprintf("thread %d: %s requires a running thread", t.ID, op))
	}
}

// Resume lets a stopped task run.
func (t *Thread) Resume() error {
	return t.ResumeWithSignal(0)
}

// ResumeWithSignal lets a stopped task run, delivering sig on the way
// out if it is nonzero.
func (t *Thread) ResumeWithSignal(sig int) error {
	t.assertStopped("resume")
	var err error
	t.dbp.execPtraceFunc(func() { err = ptraceCont(t.ID, sig) })
	if err != nil {
		return opError("continue", t.dbp.pid, t.ID, err)
	}
	t.state = ThreadRunning
	return nil
}

// StepInstruction executes one instruction of a stopped task. The
// completion trap arrives through the event pump like any other stop.
func (t *Thread) StepInstruction() error {
	t.assertStopped("single step")
	var err error
	t.dbp.execPtraceFunc(func() { err = ptraceSingleStep(t.ID, 0) })
	if err != nil {
		return opError("single step", t.dbp.pid, t.ID, err)
	}
	t.state = ThreadRunning
	return nil
}

// Stop asks the kernel to stop a running task with SIGSTOP.
func (t *Thread) Stop() error {
	t.assertRunning("stop")
	if err := tgkill(t.dbp.pid, t.ID, sys.SIGSTOP); err != nil {
		return opError("stop", t.dbp.pid, t.ID, err)
	}
	return nil
}

// Kill sends SIGKILL to a running task.
func (t *Thread) Kill() error {
	t.assertRunning("kill")
	if err := tgkill(t.dbp.pid, t.ID, sys.SIGKILL); err != nil {
		return opError("kill", t.dbp.pid, t.ID, err)
	}
	return nil
}

// Wait blocks until the running task changes state and records the
// resulting status.
func (t *Thread) Wait() error {
	t.assertRunning("wait")
	_, status, err := t.dbp.waitFast(t.ID)
	if err != nil {
		return opError("wait", t.dbp.pid, t.ID, err)
	}
	t.Status = status
	t.state = ThreadStopped
	return nil
}

// Detach releases the task from tracing. Detaching twice is a no-op.
func (t *Thread) Detach() error {
	if t.detached {
		return nil
	}
	var err error
	t.dbp.execPtraceFunc(func() { err = ptraceDetach(t.ID, 0) })
	if err != nil && err != syscall.ESRCH {
		return opError("detach", t.dbp.pid, t.ID, err)
	}
	t.detached = true
	return nil
}

// Wait-status decoders. All require the tracer to have observed a stop
// for this task; consulting them on a running task is a bug in the
// caller.

// Exited reports whether the last status says the task exited.
func (t *Thread) Exited() bool {
	t.assertStopped("exit query")
	return t.Status.Exited()
}

// ExitStatus returns the exit code of an exited task.
func (t *Thread) ExitStatus() int {
	t.assertStopped("exit status query")
	return t.Status.ExitStatus()
}

// Signaled reports whether the task was terminated by a signal.
func (t *Thread) Signaled() bool {
	t.assertStopped("signal query")
	return t.Status.Signaled()
}

// TerminationSignal returns the signal that terminated the task.
func (t *Thread) TerminationSignal() syscall.Signal {
	t.assertStopped("termination signal query")
	return t.Status.Signal()
}

// SignalStopped reports whether the task is stopped by a signal.
func (t *Thread) SignalStopped() bool {
	t.assertStopped("stop query")
	return t.Status.Stopped()
}

// StopSignal returns the signal that stopped the task.
func (t *Thread) StopSignal() syscall.Signal {
	t.assertStopped("stop signal query")
	return t.Status.StopSignal()
}

// Continued reports whether the last status was a SIGCONT
// notification.
func (t *Thread) Continued() bool {
	t.assertStopped("continue query")
	return t.Status.Continued()
}

// xsaveBufLen covers the architectural XSAVE regions up to and
// including Hi16_ZMM. The kernel truncates the reply to what the CPU
// actually saves.
const xsaveBufLen = 2688

// GetContext fills ctx with the complete architectural state of a
// stopped task: general purpose registers, extended x87/SIMD state,
// debug registers and segment bases.
func (t *Thread) GetContext(ctx *x86.Context) error {
	t.assertStopped("get context")
	ctx.MarkSet(t.is64Bit)
	if err := t.getRegisters(ctx); err != nil {
		return err
	}
	if err := t.getXstate(ctx); err != nil {
		return err
	}
	if err := t.getDebugRegisters(ctx); err != nil {
		return err
	}
	return t.getSegmentBases(ctx)
}

// SetContext writes ctx back into the task. Extended state components
// are written only when the context flags them as filled.
func (t *Thread) SetContext(ctx *x86.Context) error {
	t.assertStopped("set context")
	if err := t.setRegisters(ctx); err != nil {
		return err
	}
	if err := t.setXstate(ctx); err != nil {
		return err
	}
	return t.setDebugRegisters(ctx)
}

func (t *Thread) getXstate(ctx *x86.Context) error {
	raw := make([]byte, xsaveBufLen)
	var n int
	var err error
	t.dbp.execPtraceFunc(func() { n, err = ptraceGetRegset(t.ID, _NT_X86_XSTATE, raw) })
	if err != nil {
		return t.getXstateFallback(ctx)
	}
	ctx.XsaveRaw = raw[:n]
	if err := x86.XsaveRead(ctx.XsaveRaw, t.is64Bit, &ctx.Xstate); err != nil {
		return opError("decode xsave area", t.dbp.pid, t.ID, err)
	}
	return nil
}

func (t *Thread) setXstate(ctx *x86.Context) error {
	if ctx.XsaveRaw == nil {
		return t.setXstateFallback(ctx)
	}
	if err := x86.XsaveWrite(&ctx.Xstate, ctx.XsaveRaw, t.is64Bit); err != nil {
		return opError("encode xsave area", t.dbp.pid, t.ID, err)
	}
	var err error
	t.dbp.execPtraceFunc(func() { err = ptraceSetRegset(t.ID, _NT_X86_XSTATE, ctx.XsaveRaw) })
	if err != nil {
		return opError("write xsave area", t.dbp.pid, t.ID, err)
	}
	return nil
}
