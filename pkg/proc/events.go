package proc

import sys "golang.org/x/sys/unix"

// EventType classifies a debug event by the wait status that produced
// it.
type EventType uint8

const (
	// EventUnknown is a notification the pump could not classify.
	EventUnknown EventType = iota
	// EventExited reports a thread that exited normally.
	EventExited
	// EventTerminated reports a thread killed by a signal.
	EventTerminated
	// EventStopped reports a thread stopped by a signal or trap.
	EventStopped
)

func (t EventType) String() string {
	switch t {
	case EventExited:
		return "exited"
	case EventTerminated:
		return "terminated"
	case EventStopped:
		return "stopped"
	}
	return "unknown"
}

// EventStatus is the callback's verdict on an event. EventStatusStop
// leaves the reporting thread in its ptrace stop; every other value
// resumes it after the callback returns. The richer continue values
// exist for callers that distinguish why they resumed.
type EventStatus uint8

const (
	EventStatusStop EventStatus = iota
	EventStatusContinue
	EventStatusContinueStep
	EventStatusContinueBreakPoint
	EventStatusExceptionNotHandled
	EventStatusNextHandler
)

// SigInfo is the portable prefix of the kernel siginfo record attached
// to a stop, retrieved with PTRACE_GETSIGINFO.
type SigInfo struct {
	Signo int32
	Errno int32
	Code  int32
}

// Event is one debug notification as delivered to the user callback.
type Event struct {
	SigInfo SigInfo
	Pid     int
	Tid     int
	Status  sys.WaitStatus
	Type    EventType
}

// EventCallback receives debug events from the pump. The returned
// status decides whether the reporting thread stays stopped; see
// EventStatus.
type EventCallback func(ev *Event) EventStatus
