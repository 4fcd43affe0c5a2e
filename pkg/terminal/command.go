package terminal

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"
	sys "golang.org/x/sys/unix"

	"github.com/pdbg/pdbg/pkg/config"
	"github.com/pdbg/pdbg/pkg/proc"
	"github.com/pdbg/pdbg/pkg/proc/linutil"
	"github.com/pdbg/pdbg/pkg/proc/x86"
)

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases []string
	helpMsg string
	cmdFn   cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands for the terminal.
type Commands struct {
	cmds        []command
	lastCmd     cmdfunc
	completions *trie.Trie
	regionCache *linutil.RegionCache
}

// regionCacheSize bounds how many parsed memory maps the maps command
// keeps between stops.
const regionCacheSize = 16

// DebugCommands returns a Commands object with the default commands defined.
func DebugCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"break", "b"}, cmdFn: breakpointSet, helpMsg: `Sets a breakpoint.

	break <address> [kind]

The address is parsed with a 0x prefix for hexadecimal. The optional kind
selects the trap instruction (int3, int1, hlt, cli, sti, insb, insd, outsb,
outsd, ud2, ud0); the default is int3.`},
		{aliases: []string{"clear"}, cmdFn: breakpointClear, helpMsg: `Deletes a breakpoint.

	clear <address>`},
		{aliases: []string{"breakpoints", "bp"}, cmdFn: breakpointList, helpMsg: "Print out info for active breakpoints."},
		{aliases: []string{"continue", "c"}, cmdFn: cont, helpMsg: "Run until breakpoint or program termination."},
		{aliases: []string{"step", "si", "s"}, cmdFn: step, helpMsg: "Single step the active thread."},
		{aliases: []string{"halt"}, cmdFn: halt, helpMsg: "Stop the running process."},
		{aliases: []string{"threads"}, cmdFn: threads, helpMsg: "Print out info for every traced thread."},
		{aliases: []string{"thread", "tr"}, cmdFn: thread, helpMsg: `Switch the active thread.

	thread <id>`},
		{aliases: []string{"regs"}, cmdFn: regs, helpMsg: "Print the register context of the active thread."},
		{aliases: []string{"status", "report"}, cmdFn: report, helpMsg: "Print the state and context of every thread."},
		{aliases: []string{"examine", "x"}, cmdFn: examineMemory, helpMsg: `Examine raw memory.

	examine <address> [length]

Prints a hex dump of length bytes (default 64) starting at address.
Breakpoint trap bytes are masked out of the dump.`},
		{aliases: []string{"write-memory", "wm"}, cmdFn: writeMemory, helpMsg: `Write raw memory.

	write-memory <address> <byte> [byte ...]

Each byte is a hexadecimal value.`},
		{aliases: []string{"disassemble", "disass"}, cmdFn: disassemble, helpMsg: `Disassemble target memory.

	disassemble [address] [count]

Decodes count instructions (default 10) in Intel syntax. With no address
decoding starts at the instruction pointer of the active thread.
Breakpoint trap bytes are masked, so the original instructions are shown.`},
		{aliases: []string{"maps", "vmmap"}, cmdFn: memoryMaps, helpMsg: "Print the memory map of the target."},
		{aliases: []string{"restart", "r"}, cmdFn: restart, helpMsg: `Restart a spawned process.

	restart [newargs...]

Kills the current target and spawns it again. If new arguments are given
they replace the old ones; the binary stays the same. Only available for
targets started with exec.`},
		{aliases: []string{"alias"}, cmdFn: aliasCommand, helpMsg: `Defines a command alias and saves it to the configuration file.

	alias <newalias> <command>`},
		{aliases: []string{"detach"}, cmdFn: detach, helpMsg: "Release the target and exit. The process keeps running."},
		{aliases: []string{"kill"}, cmdFn: kill, helpMsg: "Kill the target process."},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: "Exit the debugger."},
	}

	c.completions = trie.New()
	for _, cmd := range c.cmds {
		for _, a := range cmd.aliases {
			c.completions.Add(a, nil)
		}
	}

	if rc, err := linutil.NewRegionCache(regionCacheSize); err == nil {
		c.regionCache = rc
	}

	return c
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
			for _, a := range aliases {
				c.completions.Add(a, nil)
			}
		}
	}
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
// If the command is an empty string it will replay the last command.
func (c *Commands) Find(cmdstr string) cmdfunc {
	// If <enter> use last command, if there was one.
	if cmdstr == "" {
		if c.lastCmd != nil {
			return c.lastCmd
		}
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			c.lastCmd = v.cmdFn
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return c.Find(cmdname)(t, args)
}

func noCmdAvailable(t *Term, args string) error {
	return errors.New("command not available")
}

func nullCommand(t *Term, args string) error {
	return nil
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return noCmdAvailable(t, args)
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 0, '-', 0)
	for _, cmd := range c.cmds {
		h := cmd.helpMsg
		if idx := strings.Index(h, "\n"); idx >= 0 {
			h = h[:idx]
		}
		if len(cmd.aliases) > 1 {
			fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
		} else {
			fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// ExitRequestError is returned when the user exits the debugger.
type ExitRequestError struct{}

func (ExitRequestError) Error() string {
	return "exit"
}

func exitCommand(t *Term, args string) error {
	return ExitRequestError{}
}

func (t *Term) target() (*proc.Process, error) {
	tgt := t.dbg.Target()
	if tgt == nil {
		return nil, errors.New("no process being debugged")
	}
	if tgt.Exited() {
		return nil, proc.ErrProcessExited{Pid: tgt.Pid()}
	}
	return tgt, nil
}

func parseAddr(s string) (uint64, error) {
	addr, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return addr, nil
}

var breakpointKinds = map[string]proc.BreakpointKind{
	"int3":  proc.BreakpointInt3,
	"int1":  proc.BreakpointInt1,
	"hlt":   proc.BreakpointHlt,
	"cli":   proc.BreakpointCli,
	"sti":   proc.BreakpointSti,
	"insb":  proc.BreakpointInsb,
	"insd":  proc.BreakpointInsd,
	"outsb": proc.BreakpointOutsb,
	"outsd": proc.BreakpointOutsd,
	"ud2":   proc.BreakpointUd2,
	"ud0":   proc.BreakpointUd0,
}

func breakpointSet(t *Term, args string) error {
	tgt, err := t.target()
	if err != nil {
		return err
	}
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return errors.New("not enough arguments")
	}
	addr, err := parseAddr(fields[0])
	if err != nil {
		return err
	}
	kind := proc.BreakpointAutomatic
	if len(fields) > 1 {
		k, ok := breakpointKinds[strings.ToLower(fields[1])]
		if !ok {
			return fmt.Errorf("unknown breakpoint kind %q", fields[1])
		}
		kind = k
	}
	bp, err := tgt.AddBreakpointOfKind(addr, kind)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Breakpoint set at %#x (%s)\n", bp.Addr, bp.Kind)
	return nil
}

func breakpointClear(t *Term, args string) error {
	tgt, err := t.target()
	if err != nil {
		return err
	}
	addr, err := parseAddr(args)
	if err != nil {
		return err
	}
	if err := tgt.RemoveBreakpoint(addr); err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Breakpoint cleared at %#x\n", addr)
	return nil
}

func breakpointList(t *Term, args string) error {
	tgt, err := t.target()
	if err != nil {
		return err
	}
	bps := tgt.Breakpoints()
	addrs := make([]uint64, 0, len(bps))
	for addr := range bps {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	for _, addr := range addrs {
		bp := bps[addr]
		fmt.Fprintf(t.stdout, "Breakpoint at %#x (%s) hit %d time(s)\n", bp.Addr, bp.Kind, bp.HitCount)
	}
	return nil
}

// defaultEventTimeout is how long one pump poll waits when the
// configuration sets no positive event timeout.
const defaultEventTimeout = 250 * time.Millisecond

func (t *Term) eventTimeout() time.Duration {
	if t.conf != nil && t.conf.EventTimeout != nil && *t.conf.EventTimeout > 0 {
		return time.Duration(*t.conf.EventTimeout) * time.Millisecond
	}
	return defaultEventTimeout
}

// printEvent describes ev on the terminal. It runs inside the pump
// callback, while the reporting thread is still stopped.
func (t *Term) printEvent(tgt *proc.Process, ev *proc.Event) {
	switch ev.Type {
	case proc.EventExited:
		t.Println("=> ", fmt.Sprintf("thread %d exited with status %d", ev.Tid, ev.Status.ExitStatus()))
	case proc.EventTerminated:
		t.Println("=> ", fmt.Sprintf("thread %d terminated by signal %s", ev.Tid, ev.Status.Signal()))
	case proc.EventStopped:
		sig := ev.Status.StopSignal()
		if sig == sys.SIGTRAP {
			switch ev.Status.TrapCause() {
			case sys.PTRACE_EVENT_CLONE:
				t.Println("=> ", fmt.Sprintf("thread %d spawned a new thread", ev.Tid))
			case sys.PTRACE_EVENT_FORK:
				t.Println("=> ", fmt.Sprintf("thread %d forked", ev.Tid))
			case sys.PTRACE_EVENT_EXIT:
				t.Println("=> ", fmt.Sprintf("thread %d is exiting", ev.Tid))
			default:
				if th := tgt.FindThread(ev.Tid); th != nil {
					if ip, err := th.InstructionPointer(); err == nil {
						if bp, ok := tgt.FindBreakpoint(ip); ok {
							t.Println("=> ", fmt.Sprintf("thread %d hit breakpoint at %#x (hit count %d)", ev.Tid, bp.Addr, bp.HitCount))
							return
						}
					}
				}
				t.Println("=> ", fmt.Sprintf("thread %d stopped (trap)", ev.Tid))
			}
		} else {
			t.Println("=> ", fmt.Sprintf("thread %d stopped with %s", ev.Tid, sig))
		}
	default:
		t.Println("=> ", fmt.Sprintf("thread %d reported an unclassified event", ev.Tid))
	}
}

// eventVerdict decides whether ev should hand control back to the
// user. Thread management traps are internal and keep the target
// running.
func eventVerdict(ev *proc.Event) proc.EventStatus {
	if ev.Type != proc.EventStopped {
		return proc.EventStatusContinue
	}
	if ev.Status.StopSignal() == sys.SIGTRAP {
		switch ev.Status.TrapCause() {
		case sys.PTRACE_EVENT_CLONE, sys.PTRACE_EVENT_FORK, sys.PTRACE_EVENT_EXIT:
			return proc.EventStatusContinue
		}
	}
	return proc.EventStatusStop
}

// waitForStop pumps debug events until one leaves a thread stopped for
// the user or the process exits.
func (t *Term) waitForStop(tgt *proc.Process) error {
	for {
		stopped := false
		handled, err := tgt.NextDebugEvent(t.eventTimeout(), func(ev *proc.Event) proc.EventStatus {
			t.printEvent(tgt, ev)
			verdict := eventVerdict(ev)
			if verdict == proc.EventStatusStop {
				stopped = true
			}
			return verdict
		})
		if err != nil {
			return err
		}
		if tgt.Exited() {
			fmt.Fprintf(t.stdout, "Process %d has exited\n", tgt.Pid())
			return nil
		}
		if handled && stopped {
			return nil
		}
	}
}

func cont(t *Term, args string) error {
	tgt, err := t.target()
	if err != nil {
		return err
	}
	if err := tgt.Resume(); err != nil {
		return err
	}
	return t.waitForStop(tgt)
}

func step(t *Term, args string) error {
	tgt, err := t.target()
	if err != nil {
		return err
	}
	if th := tgt.ActiveThread(); th != nil && !th.Stopped() {
		return fmt.Errorf("thread %d is running, halt it first", th.ID)
	}
	if err := tgt.Step(); err != nil {
		return err
	}
	return t.waitForStop(tgt)
}

func halt(t *Term, args string) error {
	tgt, err := t.target()
	if err != nil {
		return err
	}
	running := false
	for _, th := range tgt.ThreadList() {
		if !th.Stopped() {
			running = true
			break
		}
	}
	if !running {
		fmt.Fprintln(t.stdout, "Process is already stopped")
		return nil
	}
	if err := tgt.Stop(); err != nil {
		return err
	}
	return t.waitForStop(tgt)
}

func threads(t *Term, args string) error {
	tgt, err := t.target()
	if err != nil {
		return err
	}
	list := tgt.ThreadList()
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	active := tgt.ActiveThread()
	for _, th := range list {
		prefix := "  "
		if active != nil && th.ID == active.ID {
			prefix = "* "
		}
		name := linutil.TaskName(tgt.Pid(), th.ID)
		fmt.Fprintf(t.stdout, "%sThread %d (%s) [%s]\n", prefix, th.ID, name, th.State())
	}
	return nil
}

func thread(t *Term, args string) error {
	tgt, err := t.target()
	if err != nil {
		return err
	}
	if args == "" {
		return errors.New("not enough arguments")
	}
	tid, err := strconv.Atoi(args)
	if err != nil {
		return fmt.Errorf("invalid thread id %q", args)
	}
	if err := tgt.SwitchThread(tid); err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Switched to thread %d\n", tid)
	return nil
}

func regs(t *Term, args string) error {
	tgt, err := t.target()
	if err != nil {
		return err
	}
	th := tgt.ActiveThread()
	if th == nil {
		return errors.New("no active thread")
	}
	if !th.Stopped() {
		return fmt.Errorf("thread %d is running", th.ID)
	}
	var ctx x86.Context
	if err := th.GetContext(&ctx); err != nil {
		return err
	}
	ctx.Dump(t.stdout)
	return nil
}

func report(t *Term, args string) error {
	tgt, err := t.target()
	if err != nil {
		return err
	}
	tgt.Report(t.stdout)
	return nil
}

func examineMemory(t *Term, args string) error {
	tgt, err := t.target()
	if err != nil {
		return err
	}
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return errors.New("not enough arguments")
	}
	addr, err := parseAddr(fields[0])
	if err != nil {
		return err
	}
	length := 64
	if len(fields) > 1 {
		length, err = strconv.Atoi(fields[1])
		if err != nil || length <= 0 {
			return fmt.Errorf("invalid length %q", fields[1])
		}
	}
	buf := make([]byte, length)
	n, err := tgt.ReadMemory(addr, buf)
	if err != nil {
		return err
	}
	hexdump(t, addr, buf[:n])
	return nil
}

func hexdump(t *Term, addr uint64, data []byte) {
	for i := 0; i < len(data); i += 16 {
		end := i + 16
		if end > len(data) {
			end = len(data)
		}
		row := data[i:end]
		var hexpart strings.Builder
		var asciipart strings.Builder
		for j, b := range row {
			if j == 8 {
				hexpart.WriteByte(' ')
			}
			fmt.Fprintf(&hexpart, "%02x ", b)
			if b >= 0x20 && b < 0x7f {
				asciipart.WriteByte(b)
			} else {
				asciipart.WriteByte('.')
			}
		}
		fmt.Fprintf(t.stdout, "%016x  %-49s |%s|\n", addr+uint64(i), hexpart.String(), asciipart.String())
	}
}

func writeMemory(t *Term, args string) error {
	tgt, err := t.target()
	if err != nil {
		return err
	}
	fields := strings.Fields(args)
	if len(fields) < 2 {
		return errors.New("not enough arguments")
	}
	addr, err := parseAddr(fields[0])
	if err != nil {
		return err
	}
	data := make([]byte, 0, len(fields)-1)
	for _, f := range fields[1:] {
		b, err := strconv.ParseUint(strings.TrimPrefix(f, "0x"), 16, 8)
		if err != nil {
			return fmt.Errorf("invalid byte %q", f)
		}
		data = append(data, byte(b))
	}
	n, err := tgt.WriteMemory(addr, data)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Wrote %d byte(s) at %#x\n", n, addr)
	return nil
}

func disassemble(t *Term, args string) error {
	tgt, err := t.target()
	if err != nil {
		return err
	}
	fields := strings.Fields(args)
	var addr uint64
	if len(fields) > 0 {
		addr, err = parseAddr(fields[0])
		if err != nil {
			return err
		}
	} else {
		th := tgt.ActiveThread()
		if th == nil {
			return errors.New("no active thread")
		}
		if !th.Stopped() {
			return fmt.Errorf("thread %d is running, halt it first", th.ID)
		}
		addr, err = th.InstructionPointer()
		if err != nil {
			return err
		}
	}
	count := 10
	if len(fields) > 1 {
		count, err = strconv.Atoi(fields[1])
		if err != nil || count <= 0 {
			return fmt.Errorf("invalid count %q", fields[1])
		}
	}
	instrs, err := tgt.Disassemble(addr, count)
	if err != nil {
		return err
	}
	for _, inst := range instrs {
		fmt.Fprintf(t.stdout, "%016x  %-30x %s\n", inst.Addr, inst.Bytes, inst.Text)
	}
	return nil
}

func memoryMaps(t *Term, args string) error {
	tgt, err := t.target()
	if err != nil {
		return err
	}
	var regions []linutil.Region
	if t.cmds.regionCache != nil {
		regions, err = t.cmds.regionCache.Regions(tgt.Pid())
	} else {
		regions, err = linutil.Regions(tgt.Pid())
	}
	if err != nil {
		return err
	}
	for i := range regions {
		fmt.Fprintln(t.stdout, regions[i].String())
	}
	return nil
}

// killAndDrain kills the target and pumps events until every thread is
// gone.
func killAndDrain(t *Term, tgt *proc.Process) error {
	if err := tgt.Kill(); err != nil {
		return err
	}
	for !tgt.Exited() {
		if _, err := tgt.NextDebugEvent(t.eventTimeout(), func(ev *proc.Event) proc.EventStatus {
			return proc.EventStatusContinue
		}); err != nil {
			return err
		}
	}
	return nil
}

func kill(t *Term, args string) error {
	tgt, err := t.target()
	if err != nil {
		return err
	}
	if err := killAndDrain(t, tgt); err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Process %d killed\n", tgt.Pid())
	return nil
}

func parseNewArgv(args string) ([]string, error) {
	if args == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("Backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal commandline '%s'", args)
	}
	return v[0], nil
}

func restart(t *Term, args string) error {
	if t.spawnArgv == nil {
		return errors.New("restart is only available for spawned processes")
	}
	tgt := t.dbg.Target()
	if tgt != nil && !tgt.Exited() {
		if err := killAndDrain(t, tgt); err != nil {
			return err
		}
	}

	newArgs, err := parseNewArgv(args)
	if err != nil {
		return err
	}
	if newArgs != nil {
		t.spawnArgv = append([]string{t.spawnArgv[0]}, newArgs...)
	}

	tgt, err = t.dbg.Spawn(t.spawnDir, t.spawnArgv, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Process restarted with PID %d\n", tgt.Pid())
	return nil
}

func aliasCommand(t *Term, args string) error {
	fields := config.SplitQuotedFields(args, '\'')
	if len(fields) != 2 {
		return errors.New("wrong number of arguments")
	}
	alias, cmd := fields[0], fields[1]
	if t.conf.Aliases == nil {
		t.conf.Aliases = make(map[string][]string)
	}
	t.conf.Aliases[cmd] = append(t.conf.Aliases[cmd], alias)
	t.cmds.Merge(map[string][]string{cmd: {alias}})
	return config.SaveConfig(t.conf)
}

func detach(t *Term, args string) error {
	tgt, err := t.target()
	if err != nil {
		return err
	}
	if err := tgt.Detach(); err != nil {
		return err
	}
	t.detached = true
	fmt.Fprintf(t.stdout, "Detached from process %d\n", tgt.Pid())
	return ExitRequestError{}
}
