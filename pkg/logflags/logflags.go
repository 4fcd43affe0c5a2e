// Package logflags provides the logging facade used by the rest of
// pdbg. Each subsystem has an enable flag controlled by Setup; loggers
// for disabled subsystems are created at PanicLevel so formatting work
// is skipped entirely.
package logflags

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var debugger = false
var eventPump = false
var ptrace = false

var logOut io.WriteCloser

func makeLogger(flag bool, fields Fields) Logger {
	lf := loggerFactory
	if lf == nil {
		lf = defaultLoggerFactory
	}
	return lf(flag, fields, logOut)
}

func defaultLoggerFactory(flag bool, fields Fields, out io.Writer) Logger {
	logger := logrus.New().WithFields(logrus.Fields(fields))
	if out != nil {
		logger.Logger.Out = out
	}
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.PanicLevel
	}
	return &logrusLogger{logger}
}

// Debugger returns true if the debugger layer should log.
func Debugger() bool {
	return debugger
}

// DebuggerLogger returns a logger for the debugger layer.
func DebuggerLogger() Logger {
	return makeLogger(debugger, Fields{"layer": "debugger"})
}

// EventPump returns true if the debug event pump should log each
// wait-status notification it drains.
func EventPump() bool {
	return eventPump
}

// EventPumpLogger returns a logger for the debug event pump.
func EventPumpLogger() Logger {
	return makeLogger(eventPump, Fields{"layer": "proc", "kind": "events"})
}

// Ptrace returns true if individual ptrace requests should be logged.
func Ptrace() bool {
	return ptrace
}

// PtraceLogger returns a logger for the ptrace request layer.
func PtraceLogger() Logger {
	return makeLogger(ptrace, Fields{"layer": "proc", "kind": "ptrace"})
}

// WriteError writes a one-off error message to the log destination.
func WriteError(msg string) {
	if logOut != nil {
		fmt.Fprintln(logOut, msg)
		return
	}
	fmt.Fprintln(os.Stderr, msg)
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the subsystem flags based on the contents of logstr. If
// logDest is non-empty logs are redirected there; it is interpreted as
// a file descriptor number if numeric, a file path otherwise.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "pdbg-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return err
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "debugger"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch logcmd {
		case "debugger":
			debugger = true
		case "events":
			eventPump = true
		case "ptrace":
			ptrace = true
		}
	}
	return nil
}

// Close closes the log destination if Setup redirected it.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}
