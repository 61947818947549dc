package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"taskweaver/internal/sched"
)

// dotPrinter streams one character per completed task: "." passed,
// "f" failed, "s" skipped, with a closing newline at scheduler-done. It is
// the default progress output.
type dotPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func newDotPrinter(w io.Writer) *dotPrinter { return &dotPrinter{w: w} }

func (p *dotPrinter) taskDone(_, _ string, status sched.Status, _ int, _ ...any) {
	char := "."
	switch status {
	case sched.StatusFailed:
		char = "f"
	case sched.StatusSkipped:
		char = "s"
	}
	p.mu.Lock()
	fmt.Fprint(p.w, char)
	p.mu.Unlock()
}

func (p *dotPrinter) schedulerDone(_ *sched.Summary, _ ...any) {
	p.mu.Lock()
	fmt.Fprintln(p.w)
	p.mu.Unlock()
}

// linePrinter writes one aligned line per completed task:
//
//	[thread_03] build ............................ PASSED [ 42% ]
//
// Thread numbers are zero-padded to a consistent width for the pool size.
type linePrinter struct {
	mu      sync.Mutex
	w       io.Writer
	total   int
	workers int
}

func newLinePrinter(w io.Writer, total, workers int) *linePrinter {
	return &linePrinter{w: w, total: total, workers: workers}
}

func (p *linePrinter) taskDone(name, thread string, status sched.Status, count int, _ ...any) {
	base := name
	if thread != sched.ThreadUnassigned {
		base = fmt.Sprintf("[%s] %s", padThreadName(thread, p.workers), name)
	}
	percent := fmt.Sprintf("%s [%3d%% ]", status, count*100/p.total)
	dots := 75 - len(base) - len(percent)
	if dots < 0 {
		dots = 0
	}
	p.mu.Lock()
	fmt.Fprintf(p.w, "%s %s %s\n", base, strings.Repeat(".", dots), percent)
	p.mu.Unlock()
}

// padThreadName zero-pads the trailing number of a worker id so columns
// line up across the pool ("thread_3" -> "thread_03" for 11 to 100 workers).
func padThreadName(name string, workers int) string {
	width := len(strconv.Itoa(workers - 1))
	i := len(name)
	for i > 0 && name[i-1] >= '0' && name[i-1] <= '9' {
		i--
	}
	digits := name[i:]
	if digits == "" || len(digits) >= width {
		return name
	}
	return name[:i] + strings.Repeat("0", width-len(digits)) + digits
}
