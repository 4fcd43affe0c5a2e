package proc

import (
	"bytes"
	"testing"
	"time"
)

// spawnTarget starts /bin/sleep under trace. Environments that deny
// ptrace (hardened containers) skip instead of failing.
func spawnTarget(t *testing.T) (*Debugger, *Process) {
	t.Helper()
	dbg := NewDebugger()
	tgt, err := dbg.Spawn("", []string{"/bin/sleep", "60"}, nil)
	if err != nil {
		dbg.Close()
		t.Skipf("cannot spawn a traced process: %v", err)
	}
	return dbg, tgt
}

func drainUntilExit(t *testing.T, tgt *Process) {
	t.Helper()
	for i := 0; i < 100 && !tgt.Exited(); i++ {
		if _, err := tgt.NextDebugEvent(100*time.Millisecond, func(ev *Event) EventStatus {
			return EventStatusContinue
		}); err != nil {
			t.Fatalf("NextDebugEvent: %v", err)
		}
	}
	if !tgt.Exited() {
		t.Fatal("target did not exit after kill")
	}
}

func TestSpawnStopsAtEntry(t *testing.T) {
	dbg, tgt := spawnTarget(t)
	defer dbg.Close()

	if tgt.Pid() <= 0 {
		t.Fatalf("expected a positive pid, got %d", tgt.Pid())
	}
	if tgt.Exited() {
		t.Fatal("expected the target to be alive")
	}

	th := tgt.ActiveThread()
	if th == nil {
		t.Fatal("expected an active thread after spawn")
	}
	if !th.Stopped() {
		t.Fatal("expected the initial thread to be in ptrace stop")
	}
	if th.ID != tgt.Pid() {
		t.Errorf("expected the active thread to be the leader, got tid %d", th.ID)
	}

	ip, err := th.InstructionPointer()
	if err != nil {
		t.Fatalf("InstructionPointer: %v", err)
	}
	if ip == 0 {
		t.Error("expected a nonzero instruction pointer")
	}

	if err := tgt.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	drainUntilExit(t, tgt)
}

func TestBreakpointMasksMemoryReads(t *testing.T) {
	dbg, tgt := spawnTarget(t)
	defer dbg.Close()
	defer func() {
		if !tgt.Exited() {
			tgt.Kill()
			drainUntilExit(t, tgt)
		}
	}()

	th := tgt.ActiveThread()
	ip, err := th.InstructionPointer()
	if err != nil {
		t.Fatalf("InstructionPointer: %v", err)
	}

	orig := make([]byte, 4)
	if _, err := tgt.ReadMemory(ip, orig); err != nil {
		t.Fatalf("ReadMemory: %v", err)
	}

	bp, err := tgt.AddBreakpoint(ip)
	if err != nil {
		t.Fatalf("AddBreakpoint: %v", err)
	}
	if !bp.Enabled() {
		t.Fatal("expected the breakpoint to be enabled")
	}
	if bp.OriginalBytes[0] != orig[0] {
		t.Errorf("expected saved byte %#x, got %#x", orig[0], bp.OriginalBytes[0])
	}

	// A filtered read hides the trap byte.
	masked := make([]byte, 4)
	if _, err := tgt.ReadMemory(ip, masked); err != nil {
		t.Fatalf("ReadMemory: %v", err)
	}
	if !bytes.Equal(masked, orig) {
		t.Errorf("expected the read to mask the trap, got %x want %x", masked, orig)
	}

	// The raw bytes hold the trap encoding.
	raw := make([]byte, 1)
	if _, err := tgt.readMemoryRaw(ip, raw); err != nil {
		t.Fatalf("readMemoryRaw: %v", err)
	}
	if raw[0] != 0xcc {
		t.Errorf("expected an int3 byte at the site, got %#x", raw[0])
	}

	if err := tgt.RemoveBreakpoint(ip); err != nil {
		t.Fatalf("RemoveBreakpoint: %v", err)
	}
	restored := make([]byte, 4)
	if _, err := tgt.readMemoryRaw(ip, restored); err != nil {
		t.Fatalf("readMemoryRaw: %v", err)
	}
	if !bytes.Equal(restored, orig) {
		t.Errorf("expected the site to be restored, got %x want %x", restored, orig)
	}

	if _, err := tgt.AddBreakpoint(ip); err != nil {
		t.Fatalf("AddBreakpoint: %v", err)
	}
	if _, err := tgt.AddBreakpoint(ip); err == nil {
		t.Error("expected a duplicate breakpoint to be rejected")
	}
}

func TestStepAdvancesInstructionPointer(t *testing.T) {
	dbg, tgt := spawnTarget(t)
	defer dbg.Close()
	defer func() {
		if !tgt.Exited() {
			tgt.Kill()
			drainUntilExit(t, tgt)
		}
	}()

	th := tgt.ActiveThread()
	before, err := th.InstructionPointer()
	if err != nil {
		t.Fatalf("InstructionPointer: %v", err)
	}

	if err := tgt.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	var sawStop bool
	for i := 0; i < 50 && !sawStop; i++ {
		if _, err := tgt.NextDebugEvent(100*time.Millisecond, func(ev *Event) EventStatus {
			if ev.Type == EventStopped {
				sawStop = true
				return EventStatusStop
			}
			return EventStatusContinue
		}); err != nil {
			t.Fatalf("NextDebugEvent: %v", err)
		}
	}
	if !sawStop {
		t.Fatal("expected a stop notification after a single step")
	}

	after, err := th.InstructionPointer()
	if err != nil {
		t.Fatalf("InstructionPointer: %v", err)
	}
	if after == before {
		t.Error("expected the instruction pointer to move after a step")
	}
}

func TestSwitchThread(t *testing.T) {
	dbg, tgt := spawnTarget(t)
	defer dbg.Close()
	defer func() {
		if !tgt.Exited() {
			tgt.Kill()
			drainUntilExit(t, tgt)
		}
	}()

	if err := tgt.SwitchThread(tgt.Pid()); err != nil {
		t.Errorf("expected switching to the leader to work, got %v", err)
	}
	if err := tgt.SwitchThread(-1); err == nil {
		t.Error("expected switching to a nonexistent thread to fail")
	}
}

func TestReadMemoryAfterExit(t *testing.T) {
	dbg, tgt := spawnTarget(t)
	defer dbg.Close()

	if err := tgt.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	drainUntilExit(t, tgt)

	if _, err := tgt.ReadMemory(0x1000, make([]byte, 4)); err == nil {
		t.Error("expected reads from an exited target to fail")
	} else if _, ok := err.(ErrProcessExited); !ok {
		t.Errorf("expected ErrProcessExited, got %T", err)
	}
}
