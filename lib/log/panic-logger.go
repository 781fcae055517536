package log

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

// PanicCleanup is run before the crash report is written. main replaces it
// to close the ipc socket.
var PanicCleanup = func() {}

// PanicHandler writes a stack trace to /tmp/composerd-crash-*.log and passes
// the panic on. It must be deferred at the top of every goroutine.
func PanicHandler() {
	r := recover()

	if r == nil {
		return
	}

	PanicCleanup()

	filename := time.Now().Format("/tmp/composerd-crash-20060102-150405.log")

	panicLog, err := os.OpenFile(filename, os.O_SYNC|os.O_APPEND|os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		// we tried, not possible. bye
		panic(r)
	}
	defer panicLog.Close()

	outputs := io.MultiWriter(panicLog, os.Stderr)

	// if any error happens here, we do not care.
	fmt.Fprintln(panicLog, strings.Repeat("#", 80))
	fmt.Fprint(panicLog, strings.Repeat(" ", 34))
	fmt.Fprintln(panicLog, "PANIC CAUGHT!")
	fmt.Fprint(panicLog, strings.Repeat(" ", 24))
	fmt.Fprintln(panicLog, time.Now().Format("2006-01-02T15:04:05.000000-0700"))
	fmt.Fprintln(panicLog, strings.Repeat("#", 80))
	fmt.Fprintf(outputs, "%s\n", panicMessage)
	fmt.Fprintf(panicLog, "Error: %v\n\n", r)
	panicLog.Write(debug.Stack()) //nolint:errcheck // we are crashing anyway
	fmt.Fprintf(os.Stderr, "\nThis error was also written to: %s\n", filename)
	panic(r)
}

// Recover logs a recovered panic without crashing. It is used where a
// failure must stay isolated, e.g. around event handlers.
func Recover(what string) {
	if r := recover(); r != nil {
		Errorf("%s: recovered from panic: %v\n%s", what, r, debug.Stack())
	}
}

const panicMessage = `
composerd has encountered a critical error and has terminated. Open drafts
were autosaved up to the last completed save; reopen them with "load".
`
