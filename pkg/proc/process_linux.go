package proc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"syscall"
	"time"

	sys "golang.org/x/sys/unix"

	"github.com/pdbg/pdbg/pkg/logflags"
	"github.com/pdbg/pdbg/pkg/proc/linutil"
	"github.com/pdbg/pdbg/pkg/proc/x86"
)

// Process owns every traced task of one target process along with the
// installed breakpoints and the /proc/<pid>/mem handle used for
// memory I/O.
type Process struct {
	pid int

	// memfd is nil when /proc/<pid>/mem could not be opened; memory
	// I/O then goes through the ptrace word-at-a-time path.
	memfd *os.File

	// ptyMaster is the master side of the pseudo terminal handed to a
	// target spawned with a dedicated pty; nil otherwise.
	ptyMaster *os.File

	threads      map[int]*Thread
	breakpoints  map[uint64]*Breakpoint
	activeThread *Thread

	// sigchld is the channel the pump parks on; it is owned by the
	// Debugger that created this Process.
	sigchld <-chan os.Signal

	// ptrace calls must all come from the same OS thread; they are
	// funneled through ptraceChan into a locked goroutine.
	ptraceChan     chan func()
	ptraceDoneChan chan interface{}

	childProcess bool
	exited       bool
	detached     bool

	log     logflags.Logger
	pumpLog logflags.Logger
}

func newProcess(pid int, sigchld <-chan os.Signal) *Process {
	dbp := &Process{
		pid:            pid,
		threads:        make(map[int]*Thread),
		breakpoints:    make(map[uint64]*Breakpoint),
		sigchld:        sigchld,
		ptraceChan:     make(chan func()),
		ptraceDoneChan: make(chan interface{}),
		log:            logflags.DebuggerLogger(),
		pumpLog:        logflags.EventPumpLogger(),
	}
	go dbp.handlePtraceFuncs()
	return dbp
}

func (dbp *Process) handlePtraceFuncs() {
	// We must ensure here that we are running on the same thread during
	// the execution of dbg. This is due to the fact that ptrace(2) expects
	// all commands after PTRACE_ATTACH to come from the same thread.
	runtime.LockOSThread()

	for fn := range dbp.ptraceChan {
		fn()
		dbp.ptraceDoneChan <- nil
	}
}

func (dbp *Process) execPtraceFunc(fn func()) {
	dbp.ptraceChan <- fn
	<-dbp.ptraceDoneChan
}

// attachToProcess brings every task of pid under trace. The task list
// is re-enumerated until a pass inserts nothing, which closes the race
// against threads spawned mid-attach.
func attachToProcess(pid int, sigchld <-chan os.Signal) (*Process, error) {
	dbp := newProcess(pid, sigchld)
	for {
		tids, err := linutil.Threads(pid)
		if err != nil {
			return nil, opError("enumerate threads", pid, 0, err)
		}
		inserted := false
		for _, tid := range tids {
			if _, ok := dbp.threads[tid]; ok {
				continue
			}
			th, err := newThread(dbp, tid, FlagAttach|FlagKillOnTracerExit, false)
			if err != nil {
				return nil, err
			}
			dbp.threads[tid] = th
			if dbp.activeThread == nil {
				dbp.activeThread = th
			}
			inserted = true
		}
		if !inserted {
			break
		}
	}
	dbp.openMem()
	dbp.log.Debugf("attached to process %d with %d threads", pid, len(dbp.threads))
	return dbp, nil
}

// adoptSpawnedProcess wraps a child that requested TRACEME and is
// headed for its exec stop, which is consumed here.
func adoptSpawnedProcess(pid int, sigchld <-chan os.Signal) (*Process, error) {
	dbp := newProcess(pid, sigchld)
	dbp.childProcess = true
	th, err := newThread(dbp, pid, FlagKillOnTracerExit, true)
	if err != nil {
		return nil, err
	}
	dbp.threads[pid] = th
	dbp.activeThread = th
	dbp.openMem()
	return dbp, nil
}

func (dbp *Process) openMem() {
	f, err := os.OpenFile(fmt.Sprintf("/proc/%d/mem", dbp.pid), os.O_RDWR, 0)
	if err != nil {
		// Not fatal: memory I/O falls back to PEEKDATA/POKEDATA.
		dbp.log.Warnf("cannot open memory of process %d: %v", dbp.pid, err)
		return
	}
	dbp.memfd = f
}

// Pid returns the process ID of the target.
func (dbp *Process) Pid() int { return dbp.pid }

// Exited reports whether the target has exited.
func (dbp *Process) Exited() bool { return dbp.exited }

// FindThread returns the traced task with the given tid, or nil.
func (dbp *Process) FindThread(tid int) *Thread {
	return dbp.threads[tid]
}

// ThreadList returns all traced tasks of the target.
func (dbp *Process) ThreadList() []*Thread {
	r := make([]*Thread, 0, len(dbp.threads))
	for _, t := range dbp.threads {
		r = append(r, t)
	}
	return r
}

// ActiveThread returns the task that reported the most recent stop, or
// nil if no stop has been observed yet.
func (dbp *Process) ActiveThread() *Thread { return dbp.activeThread }

// SwitchThread changes the active thread to tid.
func (dbp *Process) SwitchThread(tid int) error {
	th := dbp.FindThread(tid)
	if th == nil {
		return fmt.Errorf("no thread with id %d", tid)
	}
	dbp.activeThread = th
	return nil
}

// Detached reports whether Detach has released the target.
func (dbp *Process) Detached() bool { return dbp.detached }

func (dbp *Process) waitFast(pid int) (int, sys.WaitStatus, error) {
	var s sys.WaitStatus
	wpid, err := sys.Wait4(pid, &s, sys.WALL, nil)
	return wpid, s, err
}

func (dbp *Process) wait(pid, options int) (int, sys.WaitStatus, error) {
	var s sys.WaitStatus
	wpid, err := sys.Wait4(pid, &s, sys.WALL|options, nil)
	return wpid, s, err
}

// ReadMemory reads len(buf) bytes of target memory at addr and masks
// out installed breakpoints so the caller sees the program's true
// instruction bytes.
func (dbp *Process) ReadMemory(addr uint64, buf []byte) (int, error) {
	if dbp.exited {
		return 0, ErrProcessExited{Pid: dbp.pid}
	}
	if len(buf) == 0 {
		return 0, nil
	}
	n, err := dbp.readMemoryRaw(addr, buf)
	if n > 0 {
		dbp.filterBreakpoints(addr, buf[:n])
	}
	return n, err
}

func (dbp *Process) readMemoryRaw(addr uint64, buf []byte) (int, error) {
	if dbp.memfd != nil {
		n, err := dbp.memfd.ReadAt(buf, int64(addr))
		if err == io.EOF && n > 0 {
			err = nil
		}
		if errors.Is(err, syscall.ESRCH) {
			return 0, nil
		}
		return n, err
	}
	var n int
	var err error
	dbp.execPtraceFunc(func() { n, err = sys.PtracePeekData(dbp.pid, uintptr(addr), buf) })
	if err == syscall.ESRCH {
		return 0, nil
	}
	return n, err
}

// WriteMemory writes buf into target memory at addr. A target that
// vanished mid-write reports zero bytes rather than an error; the
// caller learns of the death through the next wait notification.
func (dbp *Process) WriteMemory(addr uint64, buf []byte) (int, error) {
	if dbp.exited {
		return 0, ErrProcessExited{Pid: dbp.pid}
	}
	if len(buf) == 0 {
		return 0, nil
	}
	if dbp.memfd != nil {
		n, err := dbp.memfd.WriteAt(buf, int64(addr))
		if errors.Is(err, syscall.ESRCH) {
			return 0, nil
		}
		return n, err
	}
	var n int
	var err error
	dbp.execPtraceFunc(func() { n, err = sys.PtracePokeData(dbp.pid, uintptr(addr), buf) })
	if err == syscall.ESRCH {
		return 0, nil
	}
	return n, err
}

// filterBreakpoints overwrites trap bytes in buf with the original
// instruction bytes of every breakpoint that overlaps [addr,
// addr+len(buf)).
func (dbp *Process) filterBreakpoints(addr uint64, buf []byte) {
	for _, bp := range dbp.breakpoints {
		if !bp.Enabled() || !bp.covers(addr, len(buf)) {
			continue
		}
		for i, b := range bp.OriginalBytes {
			pos := int64(bp.Addr) + int64(i) - int64(addr)
			if pos >= 0 && pos < int64(len(buf)) {
				buf[pos] = b
			}
		}
	}
}

// AddBreakpoint installs an INT3 breakpoint at addr.
func (dbp *Process) AddBreakpoint(addr uint64) (*Breakpoint, error) {
	return dbp.AddBreakpointOfKind(addr, BreakpointAutomatic)
}

// AddBreakpointOfKind installs a breakpoint using the given trap
// instruction.
func (dbp *Process) AddBreakpointOfKind(addr uint64, kind BreakpointKind) (*Breakpoint, error) {
	if _, ok := dbp.breakpoints[addr]; ok {
		return nil, ErrBreakpointExists{Addr: addr}
	}
	bp, err := newBreakpoint(dbp, addr, kind)
	if err != nil {
		return nil, err
	}
	dbp.breakpoints[addr] = bp
	return bp, nil
}

// RemoveBreakpoint uninstalls the breakpoint at addr, restoring the
// original instruction bytes.
func (dbp *Process) RemoveBreakpoint(addr uint64) error {
	bp, ok := dbp.breakpoints[addr]
	if !ok {
		return ErrNoBreakpoint{Addr: addr}
	}
	if err := bp.Disable(); err != nil {
		return err
	}
	delete(dbp.breakpoints, addr)
	return nil
}

// FindBreakpoint returns the breakpoint that starts exactly at addr.
func (dbp *Process) FindBreakpoint(addr uint64) (*Breakpoint, bool) {
	bp, ok := dbp.breakpoints[addr]
	return bp, ok
}

// Breakpoints returns the address keyed breakpoint registry.
func (dbp *Process) Breakpoints() map[uint64]*Breakpoint {
	return dbp.breakpoints
}

// searchBreakpoint finds an installed breakpoint whose trap bytes END
// at ip. Executing a trap advances the instruction pointer past the
// instruction, so the stop reports an address past the breakpoint
// start.
func (dbp *Process) searchBreakpoint(ip uint64) *Breakpoint {
	for dist := uint64(1); dist <= maxBreakpointSize; dist++ {
		if bp, ok := dbp.breakpoints[ip-dist]; ok && uint64(bp.Size()) == dist {
			return bp
		}
	}
	return nil
}

// Resume lets every stopped task run.
func (dbp *Process) Resume() error {
	for _, th := range dbp.threads {
		if th.Stopped() {
			if err := th.Resume(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Step single-steps the active thread only. With no active thread a
// stopped task is promoted first; having none at all is a bug in the
// caller.
func (dbp *Process) Step() error {
	if dbp.activeThread == nil {
		for _, th := range dbp.threads {
			if th.Stopped() {
				dbp.activeThread = th
				break
			}
		}
	}
	if dbp.activeThread == nil {
		panic("step with no stopped thread")
	}
	return dbp.activeThread.StepInstruction()
}

// Stop sends SIGSTOP to a running task, preferring the active thread.
// The resulting group stop halts the remaining tasks and the pump
// reports one notification per task. With nothing running this is a
// no-op.
func (dbp *Process) Stop() error {
	if dbp.activeThread != nil && !dbp.activeThread.Stopped() {
		return dbp.activeThread.Stop()
	}
	for _, th := range dbp.threads {
		if !th.Stopped() {
			return th.Stop()
		}
	}
	return nil
}

// Kill terminates the whole thread group with SIGKILL. The kernel
// honors it even for tasks sitting in a ptrace stop; the resulting
// termination notifications arrive through the pump.
func (dbp *Process) Kill() error {
	if dbp.exited {
		return nil
	}
	if err := sys.Kill(dbp.pid, sys.SIGKILL); err != nil {
		return opError("kill", dbp.pid, 0, err)
	}
	return nil
}

// Detach removes every breakpoint, releases every task from tracing
// and closes the memory handle. The Process is unusable afterwards.
func (dbp *Process) Detach() error {
	if dbp.detached {
		return nil
	}
	for addr, bp := range dbp.breakpoints {
		if err := bp.Disable(); err != nil {
			dbp.log.Warnf("could not restore breakpoint at 0x%x: %v", addr, err)
		}
		delete(dbp.breakpoints, addr)
	}
	for tid, th := range dbp.threads {
		if err := th.Detach(); err != nil {
			dbp.log.Warnf("could not detach thread %d: %v", tid, err)
		}
		delete(dbp.threads, tid)
	}
	dbp.activeThread = nil
	if dbp.memfd != nil {
		dbp.memfd.Close()
		dbp.memfd = nil
	}
	if dbp.ptyMaster != nil {
		dbp.ptyMaster.Close()
		dbp.ptyMaster = nil
	}
	dbp.detached = true
	close(dbp.ptraceChan)
	return nil
}

// NextDebugEvent parks until a child-state change arrives or timeout
// elapses, then drains every pending notification, delivering events
// to cb. It reports whether any notification was handled. A single
// call can deliver multiple events.
func (dbp *Process) NextDebugEvent(timeout time.Duration, cb EventCallback) (bool, error) {
	if dbp.exited {
		return false, ErrProcessExited{Pid: dbp.pid}
	}

	// Notifications can already be queued in the kernel while the
	// signal that announced them was coalesced into one delivery, so
	// probe before parking.
	if handled := dbp.drainEvents(cb); handled {
		return true, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-dbp.sigchld:
			if handled := dbp.drainEvents(cb); handled {
				return true, nil
			}
		case <-timer.C:
			return false, nil
		}
	}
}

// drainEvents consumes every pending wait notification without
// blocking and dispatches each one.
func (dbp *Process) drainEvents(cb EventCallback) bool {
	handled := false
	firstStop := true
	for {
		wpid, status, err := dbp.wait(-1, sys.WNOHANG)
		if err != nil {
			if err != syscall.ECHILD {
				dbp.pumpLog.Errorf("wait: %v", err)
			}
			break
		}
		if wpid == 0 {
			break
		}
		handled = true

		th, ok := dbp.threads[wpid]
		if !ok {
			dbp.pumpLog.Debugf("event for untraced thread %d, ignoring", wpid)
			continue
		}
		th.Status = status
		th.state = ThreadStopped

		switch {
		case status.Exited():
			dbp.pumpLog.Debugf("thread %d exited with status %d", wpid, status.ExitStatus())
			dbp.removeThread(wpid)
			cb(&Event{Pid: dbp.pid, Tid: wpid, Status: status, Type: EventExited})

		case status.Continued():
			// Rarely observable; nothing to reconcile.

		case status.Signaled():
			dbp.pumpLog.Debugf("thread %d terminated by signal %d", wpid, status.Signal())
			if firstStop {
				dbp.activeThread = th
				firstStop = false
			}
			dbp.removeThread(wpid)
			cb(&Event{Pid: dbp.pid, Tid: wpid, Status: status, Type: EventTerminated})

		case status.Stopped():
			if firstStop {
				dbp.activeThread = th
				firstStop = false
			}
			dbp.dispatchStop(th, status, cb)

		default:
			cb(&Event{Pid: dbp.pid, Tid: wpid, Status: status, Type: EventUnknown})
		}
	}
	return handled
}

// dispatchStop reconciles one stop notification: clone births adopt
// the new task, trap stops are checked against the breakpoint registry
// and the instruction pointer is rewound over the consumed trap bytes.
func (dbp *Process) dispatchStop(th *Thread, status sys.WaitStatus, cb EventCallback) {
	ev := &Event{Pid: dbp.pid, Tid: th.ID, Status: status, Type: EventStopped}

	if status.StopSignal() == sys.SIGTRAP {
		var si SigInfo
		var err error
		dbp.execPtraceFunc(func() { si, err = ptraceGetSigInfo(th.ID) })
		if err != nil {
			dbp.pumpLog.Errorf("siginfo of thread %d: %v", th.ID, err)
		} else {
			ev.SigInfo = si
		}

		switch status.TrapCause() {
		case sys.PTRACE_EVENT_EXIT:
			// The task has not exited yet; the exit arrives as a
			// separate notification. Beyond that this is a normal
			// trap.

		case sys.PTRACE_EVENT_CLONE:
			var cloned uint
			dbp.execPtraceFunc(func() { cloned, err = ptraceGetEventMsg(th.ID) })
			if err != nil {
				dbp.pumpLog.Errorf("clone event message of thread %d: %v", th.ID, err)
				break
			}
			// The new task inherited tracing from its parent, no
			// attach needed; its birth stop was consumed by the
			// kernel before reporting the clone.
			newTh, err := newThread(dbp, int(cloned), FlagKillOnTracerExit, false)
			if err != nil {
				dbp.pumpLog.Errorf("adopt cloned thread %d: %v", cloned, err)
				break
			}
			dbp.threads[int(cloned)] = newTh
			dbp.pumpLog.Debugf("thread %d cloned %d", th.ID, cloned)
			if err := newTh.Resume(); err != nil {
				dbp.pumpLog.Errorf("resume cloned thread %d: %v", cloned, err)
			}

		default:
			// Single step completion, a stop request or a breakpoint.
			dbp.reconcileBreakpoint(th)
		}
	} else {
		// A trap instruction that does not advance the instruction
		// pointer stops with the breakpoint address still current.
		if ip, err := th.InstructionPointer(); err == nil {
			if bp, ok := dbp.breakpoints[ip]; ok && bp.Enabled() {
				bp.Hit()
			}
		}
	}

	if cb(ev) == EventStatusStop {
		return
	}
	if err := th.Resume(); err != nil {
		dbp.pumpLog.Errorf("resume thread %d: %v", th.ID, err)
	}
}

// reconcileBreakpoint checks whether the trap the thread reported was
// one of ours and, if so, rewinds the instruction pointer back over
// the trap bytes and records the hit.
func (dbp *Process) reconcileBreakpoint(th *Thread) {
	var ctx x86.Context
	if err := th.GetContext(&ctx); err != nil {
		dbp.pumpLog.Errorf("context of thread %d: %v", th.ID, err)
		return
	}
	ipRef := ctx.Get(x86.RegXIP)
	ip := ipRef.Uint64()
	bp := dbp.searchBreakpoint(ip)
	if bp == nil {
		return
	}
	bp.Hit()
	ipRef.Sub(uint64(bp.Size()))
	if err := th.SetContext(&ctx); err != nil {
		dbp.pumpLog.Errorf("rewind thread %d over breakpoint at 0x%x: %v", th.ID, bp.Addr, err)
	}
}

func (dbp *Process) removeThread(tid int) {
	delete(dbp.threads, tid)
	if dbp.activeThread != nil && dbp.activeThread.ID == tid {
		dbp.activeThread = nil
		for _, th := range dbp.threads {
			dbp.activeThread = th
			break
		}
	}
	if len(dbp.threads) == 0 {
		dbp.exited = true
	}
}

// Report writes a diagnostic description of every task and its full
// context. It changes no state.
func (dbp *Process) Report(w io.Writer) {
	for tid, th := range dbp.threads {
		name := linutil.TaskName(dbp.pid, tid)
		if !th.Stopped() {
			fmt.Fprintf(w, "Thread: %d (%s) [RUNNING]\n", tid, name)
			continue
		}
		switch {
		case th.Exited():
			fmt.Fprintf(w, "Thread: %d (%s) [EXITED] [%d]\n", tid, name, th.ExitStatus())
		case th.Signaled():
			fmt.Fprintf(w, "Thread: %d (%s) [SIGNALED] [%d]\n", tid, name, th.TerminationSignal())
		case th.SignalStopped():
			fmt.Fprintf(w, "Thread: %d (%s) [STOPPED] [%d]\n", tid, name, th.StopSignal())
		case th.Continued():
			fmt.Fprintf(w, "Thread: %d (%s) [CONTINUED]\n", tid, name)
		}
		var ctx x86.Context
		if err := th.GetContext(&ctx); err != nil {
			fmt.Fprintf(w, "  context unavailable: %v\n", err)
			continue
		}
		ctx.Dump(w)
	}
}
