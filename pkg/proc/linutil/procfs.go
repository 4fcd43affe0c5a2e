// Package linutil enumerates Linux procfs state for the debugger
// core: task lists, process lists, memory regions and their hashes.
package linutil

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// enumerateNumeric returns the numeric directory entries under path,
// which is how procfs names pids and tids.
func enumerateNumeric(path string) ([]int, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// Threads returns the tids of every task of pid.
func Threads(pid int) ([]int, error) {
	return enumerateNumeric(fmt.Sprintf("/proc/%d/task/", pid))
}

// Processes returns the pids of every process on the system.
func Processes() ([]int, error) {
	return enumerateNumeric("/proc/")
}

// TaskName returns the comm name of one task of pid, or an empty
// string if it cannot be read.
func TaskName(pid, tid int) string {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/task/%d/comm", pid, tid))
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(string(b), "\n")
}

// ProcessName returns the comm name of pid, or an empty string if it
// cannot be read.
func ProcessName(pid int) string {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(string(b), "\n")
}
