// Package cmds implements the command line interface of pdbg.
package cmds

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pdbg/pdbg/pkg/config"
	"github.com/pdbg/pdbg/pkg/logflags"
	"github.com/pdbg/pdbg/pkg/proc"
	"github.com/pdbg/pdbg/pkg/proc/linutil"
	"github.com/pdbg/pdbg/pkg/terminal"
	"github.com/pdbg/pdbg/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// workingDir is the working directory for running the program.
	workingDir string
	// disableASLR controls whether the spawned target runs with address
	// space randomization suppressed.
	disableASLR bool
	// disableLazyBinding controls whether the spawned target runs with
	// LD_BIND_NOW=1 in its environment.
	disableLazyBinding bool
	// allocTTY controls whether the spawned target gets a dedicated
	// pseudo terminal instead of sharing the debugger's.
	allocTTY bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const pdbgCommandLongDesc = `pdbg is a debugger for x86 and x86-64 Linux processes.

pdbg controls the execution of a target process with ptrace: it starts or
attaches to the process, follows every thread it creates, stops it at
software breakpoints and gives full access to its registers and memory.

Pass flags to the program you are debugging using ` + "`--`" + `:

	pdbg exec ./hello -- server --config conf/config.toml`

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()

	// Main pdbg root command.
	rootCommand = &cobra.Command{
		Use:   "pdbg",
		Short: "pdbg is a debugger for x86 and x86-64 Linux processes.",
		Long:  pdbgCommandLongDesc,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debug logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", "Comma separated list of components that should produce debug output (debugger, events, ptrace)")
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor.")

	// 'attach' subcommand.
	attachCommand := &cobra.Command{
		Use:   "attach pid",
		Short: "Attach to running process and begin debugging.",
		Long: `Attach to an already running process and begin debugging it.

This command will cause pdbg to take control of an already running process.
You will then be able to set breakpoints, inspect registers and memory and
otherwise manipulate the process.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("you must provide a PID")
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			pid, err := strconv.Atoi(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Invalid pid: %s\n", args[0])
				os.Exit(1)
			}
			os.Exit(execute(pid, nil, conf))
		},
	}
	rootCommand.AddCommand(attachCommand)

	// 'exec' subcommand.
	execCommand := &cobra.Command{
		Use:   "exec <path/to/binary>",
		Short: "Execute a precompiled binary, and begin a debug session.",
		Long: `Execute a precompiled binary and begin a debug session.

The target is spawned stopped at its exec trap, before the first
instruction of the program runs, so breakpoints placed from the initial
prompt are in effect from the very start.`,
		Args: cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(execute(0, args, conf))
		},
	}
	execCommand.Flags().StringVar(&workingDir, "wd", "", "Working directory for running the program.")
	execCommand.Flags().BoolVar(&disableASLR, "disable-aslr", config.BoolOrDefault(conf.DisableASLR, true), "Disable address space randomization of the spawned process.")
	execCommand.Flags().BoolVar(&disableLazyBinding, "disable-lazy-binding", config.BoolOrDefault(conf.DisableLazyBinding, true), "Resolve all dynamic symbols of the spawned process at startup.")
	execCommand.Flags().BoolVar(&allocTTY, "tty", false, "Allocate a dedicated pseudo terminal for the spawned process.")
	rootCommand.AddCommand(execCommand)

	// 'ps' subcommand.
	psCommand := &cobra.Command{
		Use:   "ps",
		Short: "List the processes on the system.",
		Run: func(cmd *cobra.Command, args []string) {
			pids, err := linutil.Processes()
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			for _, pid := range pids {
				fmt.Printf("%6d  %s\n", pid, linutil.ProcessName(pid))
			}
		},
	}
	rootCommand.AddCommand(psCommand)

	// 'regions' subcommand.
	regionsCommand := &cobra.Command{
		Use:   "regions pid",
		Short: "Print the memory map of a process.",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			pid, err := strconv.Atoi(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Invalid pid: %s\n", args[0])
				os.Exit(1)
			}
			regions, err := linutil.Regions(pid)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			for i := range regions {
				fmt.Println(regions[i].String())
			}
		},
	}
	rootCommand.AddCommand(regionsCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pdbg %s\n%s\n", version.PdbgVersion, version.BuildInfo())
		},
	}
	rootCommand.AddCommand(versionCommand)

	return rootCommand
}

func execute(attachPid int, processArgs []string, conf *config.Config) int {
	if log && logOutput == "" {
		logOutput = conf.LogFlags
	}
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	dbg := proc.NewDebugger()
	defer dbg.Close()

	var err error
	if attachPid > 0 {
		_, err = dbg.Attach(attachPid)
	} else {
		dbg.SetDisableASLR(disableASLR)
		dbg.SetDisableLazyBinding(disableLazyBinding)
		dbg.SetSpawnPty(allocTTY)
		_, err = dbg.Spawn(workingDir, processArgs, nil)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	term := terminal.New(dbg, conf)
	if attachPid == 0 {
		term.SetSpawn(processArgs, workingDir)
	}
	status, err := term.Run()
	if err != nil {
		fmt.Println(err)
	}
	return status
}
