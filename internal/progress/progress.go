package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/go-scripts/crmcrawl/internal/types"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("110"))
	skippedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// PageReport is what the crawl knows after finishing one page.
type PageReport struct {
	Position types.Position
	Total    int
	Merged   int
	Skipped  bool
	Last     *types.Record
	Skips    []int
}

// Tracker prints a progress block after every page: the page label, how long
// the page took, the running average, totals and the skipped pages so far.
//
// A page's time runs from the end of the previous page, so it covers the
// navigation to it and its checkpoint. The first page is timed from its
// StartPage.
type Tracker struct {
	out     io.Writer
	bar     progress.Model
	now     func() time.Time
	mu      sync.Mutex
	start   time.Time
	running bool
	pages   int
	spent   time.Duration
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates a Tracker that writes to out.
func New(out io.Writer, opts ...Option) *Tracker {
	t := &Tracker{
		out: out,
		bar: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.start = t.now()
	return t
}

// StartPage prints the page label. Only the first call starts the clock.
func (t *Tracker) StartPage(pos types.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		t.start = t.now()
		t.running = true
	}
	fmt.Fprintln(t.out, headerStyle.Render(pos.Label()))
}

// FinishPage records the page's duration, restarts the clock for the next
// page and prints the report.
func (t *Tracker) FinishPage(r PageReport) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	elapsed := now.Sub(t.start)
	t.start = now
	t.running = true
	t.pages++
	t.spent += elapsed

	var b strings.Builder
	fmt.Fprintf(&b, "  %s done in %s (average %s per page)\n",
		r.Position.Label(), elapsed.Round(time.Millisecond), t.average().Round(time.Millisecond))
	fmt.Fprintf(&b, "  records: %d (+%d this page)\n", r.Total, r.Merged)
	if r.Last != nil {
		fmt.Fprintf(&b, "  last record: %s\n", formatRecord(*r.Last))
	}
	if r.Skipped {
		fmt.Fprintf(&b, "  %s\n", skippedStyle.Render("page skipped after retry"))
	}
	fmt.Fprintf(&b, "  skipped pages: %v\n", r.Skips)
	if total := r.Position.TotalPages(); total > 0 {
		fmt.Fprintf(&b, "  %s %d/%d\n", t.bar.ViewAs(ratio(r.Position.Page, total)), r.Position.Page, total)
	}
	io.WriteString(t.out, b.String())
}

// Average returns the mean time spent per finished page.
func (t *Tracker) Average() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.average()
}

func (t *Tracker) average() time.Duration {
	if t.pages == 0 {
		return 0
	}
	return t.spent / time.Duration(t.pages)
}

func ratio(page, total int) float64 {
	if total <= 0 {
		return 0
	}
	r := float64(page) / float64(total)
	if r > 1 {
		return 1
	}
	return r
}

func formatRecord(r types.Record) string {
	parts := make([]string, 0, r.Len())
	for _, name := range r.Names() {
		v, _ := r.Get(name)
		parts = append(parts, name+"="+v)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
