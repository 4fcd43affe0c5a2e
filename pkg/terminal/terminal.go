// Package terminal implements the interactive session: it reads user
// input and dispatches to the appropriate debugger commands.
package terminal

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-delve/liner"

	"github.com/pdbg/pdbg/pkg/config"
	"github.com/pdbg/pdbg/pkg/proc"
)

const (
	historyFile                 string = ".pdbg_history"
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiBlack     = 30
	ansiRed       = 31
	ansiGreen     = 32
	ansiYellow    = 33
	ansiBlue      = 34
	ansiMagenta   = 35
	ansiCyan      = 36
	ansiWhite     = 37
	ansiBrBlack   = 90
	ansiBrRed     = 91
	ansiBrGreen   = 92
	ansiBrYellow  = 93
	ansiBrBlue    = 94
	ansiBrMagenta = 95
	ansiBrCyan    = 96
	ansiBrWhite   = 97
)

// Term represents the terminal running pdbg.
type Term struct {
	dbg    *proc.Debugger
	conf   *config.Config
	prompt string
	line   *liner.State
	cmds   *Commands
	dumb   bool
	stdout io.Writer

	// spawnArgv and spawnDir record how the target was started so
	// restart can reproduce it; both are empty for attached targets.
	spawnArgv []string
	spawnDir  string

	// detached is set by the detach command so handleExit leaves the
	// target alone.
	detached bool
}

// New returns a new Term driving dbg.
func New(dbg *proc.Debugger, conf *config.Config) *Term {
	cmds := DebugCommands()
	if conf != nil && conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if conf == nil {
		conf = &config.Config{}
	}

	var w io.Writer

	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb"
	if dumb {
		w = os.Stdout
	} else {
		w = getColorableWriter()
	}

	if (conf.RegisterDumpColor > ansiWhite &&
		conf.RegisterDumpColor < ansiBrBlack) ||
		conf.RegisterDumpColor < ansiBlack ||
		conf.RegisterDumpColor > ansiBrWhite {
		conf.RegisterDumpColor = ansiBlue
	}

	return &Term{
		dbg:    dbg,
		conf:   conf,
		prompt: "(pdbg) ",
		line:   liner.NewLiner(),
		cmds:   cmds,
		dumb:   dumb,
		stdout: w,
	}
}

// SetSpawn records the argv and working directory the target was
// spawned with so the restart command can reproduce the launch.
func (t *Term) SetSpawn(argv []string, wd string) {
	t.spawnArgv = argv
	t.spawnDir = wd
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	t.line.Close()
}

func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		tgt := t.dbg.Target()
		if tgt == nil || tgt.Exited() {
			continue
		}
		fmt.Printf("received SIGINT, stopping process (will not forward signal)\n")
		if err := tgt.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
	}
}

// Run begins running pdbg in the terminal.
func (t *Term) Run() (int, error) {
	defer t.Close()

	// Stop the target on SIGINT instead of dying with it.
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	go t.sigintGuard(ch)

	t.line.SetCompleter(func(line string) []string {
		return t.cmds.completions.PrefixSearch(strings.ToLower(line))
	})

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}
	t.line.ReadHistory(f)
	f.Close()
	fmt.Println("Type 'help' for list of commands.")

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Println("exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("Prompt for input failed.\n")
		}

		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}
	}
}

// Println prints a line to the terminal with the prefix highlighted.
func (t *Term) Println(prefix, str string) {
	if !t.dumb {
		terminalColorEscapeCode := fmt.Sprintf(terminalHighlightEscapeCode, t.conf.RegisterDumpColor)
		prefix = fmt.Sprintf("%s%s%s", terminalColorEscapeCode, prefix, terminalResetEscapeCode)
	}
	fmt.Fprintf(t.stdout, "%s%s\n", prefix, str)
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func yesno(line *liner.State, question string) (bool, error) {
	for {
		answer, err := line.Prompt(question)
		if err != nil {
			return false, err
		}
		answer = strings.ToLower(strings.TrimSpace(answer))
		switch answer {
		case "n", "no":
			return false, nil
		case "y", "yes":
			return true, nil
		}
	}
}

func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
	} else {
		if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR, 0666); err == nil {
			_, err = t.line.WriteHistory(f)
			if err != nil {
				fmt.Println("readline history error:", err)
			}
			f.Close()
		}
	}

	tgt := t.dbg.Target()
	if tgt == nil || tgt.Exited() || t.detached {
		return 0, nil
	}

	if t.spawnArgv != nil {
		kill, err := yesno(t.line, "Would you like to kill the process? [Y/n] ")
		if err != nil {
			return 2, io.EOF
		}
		if kill {
			if err := killAndDrain(t, tgt); err != nil {
				return 1, err
			}
			return 0, nil
		}
	}
	if err := tgt.Detach(); err != nil {
		return 1, err
	}
	return 0, nil
}
