// Package testutil provides shared test utilities.
package testutil

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/banshee-data/spikestream/internal/monitoring"
)

// Reports collects lines written through monitoring.Logf.
type Reports struct {
	mu    sync.Mutex
	lines []string
}

// CaptureReports redirects the monitoring logger into a Reports value for
// the duration of the test. Tests using it must not run in parallel.
func CaptureReports(t *testing.T) *Reports {
	t.Helper()
	r := &Reports{}
	original := monitoring.Logf
	monitoring.SetLogger(func(format string, v ...interface{}) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.lines = append(r.lines, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { monitoring.Logf = original })
	return r
}

// SetReportLevel changes the monitoring threshold for the duration of the
// test.
func SetReportLevel(t *testing.T, l monitoring.Level) {
	t.Helper()
	original := monitoring.CurrentLevel()
	monitoring.SetLevel(l)
	t.Cleanup(func() { monitoring.SetLevel(original) })
}

// Lines returns a copy of the captured lines.
func (r *Reports) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// Count returns how many captured lines start with the given level.
func (r *Reports) Count(level monitoring.Level) int {
	prefix := level.String() + ":"
	n := 0
	for _, l := range r.Lines() {
		if strings.HasPrefix(l, prefix) {
			n++
		}
	}
	return n
}

// Reset discards captured lines.
func (r *Reports) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = nil
}
