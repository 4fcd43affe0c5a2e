package proc

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/creack/pty"
	sys "golang.org/x/sys/unix"

	"github.com/pdbg/pdbg/pkg/logflags"
)

// Debugger is the tracer-wide entry point. It owns the SIGCHLD routing
// the event pump parks on and produces at most one traced Process at a
// time.
type Debugger struct {
	target  *Process
	sigchld chan os.Signal

	disableASLR        bool
	disableLazyBinding bool
	spawnPty           bool

	log logflags.Logger
}

// NewDebugger routes SIGCHLD into a channel so child-state changes can
// only be consumed synchronously by the event pump, never by an async
// handler. ASLR and lazy-binding suppression default to on.
func NewDebugger() *Debugger {
	d := &Debugger{
		sigchld:            make(chan os.Signal, 1),
		disableASLR:        true,
		disableLazyBinding: true,
		log:                logflags.DebuggerLogger(),
	}
	signal.Notify(d.sigchld, sys.SIGCHLD)
	return d
}

// Close restores the default SIGCHLD disposition and detaches from the
// target if one is still traced.
func (d *Debugger) Close() error {
	var err error
	if d.target != nil {
		err = d.target.Detach()
		d.target = nil
	}
	signal.Stop(d.sigchld)
	return err
}

// SetDisableASLR controls address space randomization of future
// spawns. Already running targets are unaffected.
func (d *Debugger) SetDisableASLR(v bool) { d.disableASLR = v }

// SetDisableLazyBinding controls lazy PLT binding of future spawns.
func (d *Debugger) SetDisableLazyBinding(v bool) { d.disableLazyBinding = v }

// SetSpawnPty routes the stdio of future spawns through a dedicated
// pseudo terminal instead of inheriting the debugger's descriptors.
// Target output is forwarded to the debugger's stdout.
func (d *Debugger) SetSpawnPty(v bool) { d.spawnPty = v }

// Target returns the currently traced process, or nil.
func (d *Debugger) Target() *Process { return d.target }

// Attach brings every task of an already running process under trace.
func (d *Debugger) Attach(pid int) (*Process, error) {
	dbp, err := attachToProcess(pid, d.sigchld)
	if err != nil {
		return nil, err
	}
	d.target = dbp
	return dbp, nil
}

// Spawn starts argv[0] under trace. The child requests tracing before
// exec, so its first stop is the exec SIGTRAP, which is verified here;
// any other observed state is a startup anomaly. cwd selects the
// child's working directory and env its environment, both optional.
func (d *Debugger) Spawn(cwd string, argv []string, env []string) (*Process, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("spawn: empty argv")
	}

	cmd := exec.Command(argv[0])
	cmd.Args = argv
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}

	var ptmx, tts *os.File
	if d.spawnPty {
		var err error
		ptmx, tts, err = pty.Open()
		if err != nil {
			return nil, opError("open pty", 0, 0, err)
		}
		cmd.Stdin = tts
		cmd.Stdout = tts
		cmd.Stderr = tts
		// The slave becomes the controlling terminal of the child's
		// new session; Ctty refers to the child's fd 0.
		cmd.SysProcAttr.Setsid = true
		cmd.SysProcAttr.Setctty = true
	} else {
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	if cwd != "" {
		cmd.Dir = cwd
	}
	if env != nil {
		cmd.Env = env
	}
	if d.disableLazyBinding {
		if cmd.Env == nil {
			cmd.Env = os.Environ()
		}
		cmd.Env = append(cmd.Env, "LD_BIND_NOW=1")
	}

	// The personality is inherited across fork, so flip it in the
	// parent around Start and restore it afterwards.
	if d.disableASLR {
		oldPersonality, _, errno := syscall.Syscall(sys.SYS_PERSONALITY, personalityGetPersonality, 0, 0)
		if errno == syscall.Errno(0) {
			newPersonality := oldPersonality | _ADDR_NO_RANDOMIZE
			syscall.Syscall(sys.SYS_PERSONALITY, newPersonality, 0, 0)
			defer syscall.Syscall(sys.SYS_PERSONALITY, oldPersonality, 0, 0)
		}
	}

	if err := cmd.Start(); err != nil {
		if ptmx != nil {
			ptmx.Close()
			tts.Close()
		}
		return nil, opError("spawn", 0, 0, err)
	}
	if tts != nil {
		tts.Close()
	}
	pid := cmd.Process.Pid
	d.log.Debugf("debugging new process %d", pid)

	dbp, err := adoptSpawnedProcess(pid, d.sigchld)
	if err != nil {
		if ptmx != nil {
			ptmx.Close()
		}
		return nil, err
	}
	if ptmx != nil {
		dbp.ptyMaster = ptmx
		go io.Copy(os.Stdout, ptmx)
	}

	th := dbp.FindThread(pid)
	if th == nil {
		return nil, &ErrSpawnAnomaly{Pid: pid, What: "initial thread not found"}
	}
	switch {
	case th.Exited():
		return nil, &ErrSpawnAnomaly{Pid: pid, What: fmt.Sprintf("exited with code %d", th.ExitStatus())}
	case th.Signaled():
		return nil, &ErrSpawnAnomaly{Pid: pid, What: fmt.Sprintf("killed by signal %d", th.TerminationSignal())}
	case th.SignalStopped() && th.StopSignal() == sys.SIGABRT:
		return nil, &ErrSpawnAnomaly{Pid: pid, What: "aborted before exec"}
	case !th.SignalStopped() || th.StopSignal() != sys.SIGTRAP:
		return nil, &ErrSpawnAnomaly{Pid: pid, What: fmt.Sprintf("stopped by signal %d, not SIGTRAP", th.StopSignal())}
	}

	d.target = dbp
	return dbp, nil
}
