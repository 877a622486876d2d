package output

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/MeKo-Tech/tilecompose/internal/composite"
)

// ProgressFunc receives running tile counts after each write.
type ProgressFunc func(done, total, failed int)

// Progress renders a single status line while a job writes its tiles and
// summarizes the finished job.
type Progress struct {
	start  time.Time
	w      io.Writer
	done   int
	total  int
	failed int
	mu     sync.Mutex
}

// NewProgress creates a tracker for total tiles. A nil writer disables the
// status line; Summary still works.
func NewProgress(w io.Writer, total int) *Progress {
	return &Progress{w: w, total: total, start: time.Now()}
}

// Update matches ProgressFunc.
func (p *Progress) Update(done, total, failed int) {
	p.mu.Lock()
	p.done, p.total, p.failed = done, total, failed
	line := p.line()
	p.mu.Unlock()

	if p.w != nil {
		fmt.Fprint(p.w, "\r"+line)
	}
}

func (p *Progress) line() string {
	pct := 100
	if p.total > 0 {
		pct = p.done * 100 / p.total
	}

	s := fmt.Sprintf("%3d%% %d/%d tiles", pct, p.done, p.total)
	if p.failed > 0 {
		s += fmt.Sprintf(", %d failed", p.failed)
	}
	if secs := time.Since(p.start).Seconds(); p.done > 0 && secs > 0 {
		s += fmt.Sprintf(", %.1f tiles/s", float64(p.done)/secs)
	}
	return s
}

// Done ends the status line.
func (p *Progress) Done() {
	if p.w != nil {
		fmt.Fprintln(p.w)
	}
}

// Summary describes the written tiles together with the routing work of res.
// A nil res (job never ran) reports tile counts only.
func (p *Progress) Summary(res *composite.Result) string {
	p.mu.Lock()
	done, total, failed := p.done, p.total, p.failed
	p.mu.Unlock()

	s := fmt.Sprintf("Composited %d/%d tiles (%d failed)", done-failed, total, failed)
	if res == nil {
		return s
	}

	st := res.Routing
	routed := st.Ops - st.Unresolved - st.Dropped
	return s + fmt.Sprintf(" in %s: %d/%d ops routed to %d tile pairs, %d unresolved, %d dropped",
		res.Elapsed.Round(time.Millisecond), routed, st.Ops, st.Pairs, st.Unresolved, st.Dropped)
}
