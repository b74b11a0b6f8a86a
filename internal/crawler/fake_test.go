package crawler

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/go-scripts/crmcrawl/internal/progress"
	"github.com/go-scripts/crmcrawl/internal/types"
)

// fakeSite is an in-memory paginated listing. Only the pages within window
// of the active one render a clickable control, and the active page has none.
type fakeSite struct {
	mu sync.Mutex

	pages  [][]types.Record
	window int

	current int
	shown   []types.Record
	stale   bool
	loads   map[int]int

	// staleLoads[p] loads of page p re-render the previous content.
	staleLoads map[int]int
	// unsettled[p] makes WaitFreshResults fail while p is active.
	unsettled map[int]error
	panicOn   map[int]bool
	openErr   error
	filterErr error
	nextErr   error
	totalErr  error

	// openBlocks and totalBlocks hold the call until ctx ends, like a
	// selector that never renders.
	openBlocks  bool
	totalBlocks bool

	filterSubmitted bool
}

func newFakeSite(pages ...[]types.Record) *fakeSite {
	return &fakeSite{
		pages:      pages,
		window:     3,
		loads:      map[int]int{},
		staleLoads: map[int]int{},
		unsettled:  map[int]error{},
		panicOn:    map[int]bool{},
	}
}

func (f *fakeSite) deps(cp Checkpointer, rep Reporter) Deps {
	return Deps{Site: f, Widget: f, Source: f, Checkpoint: cp, Reporter: rep}
}

func (f *fakeSite) Open(ctx context.Context) error {
	if f.openBlocks {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.current = 1
	if len(f.pages) > 0 {
		f.shown = f.pages[0]
	}
	return nil
}

func (f *fakeSite) AwaitFilterSubmission(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.filterErr != nil {
		return f.filterErr
	}
	f.filterSubmitted = true
	return nil
}

func (f *fakeSite) TotalPages(ctx context.Context) (string, error) {
	if f.totalBlocks {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.totalErr != nil {
		return "", f.totalErr
	}
	return strconv.Itoa(len(f.pages)), nil
}

func (f *fakeSite) MarkResultsStale(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stale = true
	return nil
}

func (f *fakeSite) rendered(n int) bool {
	if n < 1 || n > len(f.pages) || n == f.current {
		return false
	}
	d := n - f.current
	if d < 0 {
		d = -d
	}
	return d <= f.window
}

func (f *fakeSite) TriggerPage(_ context.Context, n int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.rendered(n) {
		return false, nil
	}
	f.loads[n]++
	if f.staleLoads[n] > 0 {
		f.staleLoads[n]--
	} else {
		f.shown = f.pages[n-1]
	}
	f.current = n
	f.stale = false
	return true, nil
}

func (f *fakeSite) WaitFreshResults(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unsettled[f.current]; err != nil {
		return err
	}
	if f.stale {
		return errors.New("timed out waiting for fresh results")
	}
	return nil
}

func (f *fakeSite) NextPageNumber(context.Context) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nextErr != nil {
		return 0, false, f.nextErr
	}
	if f.current < len(f.pages) {
		return f.current + 1, true, nil
	}
	return 0, false, nil
}

func (f *fakeSite) WaitContentReady(context.Context) error { return nil }

func (f *fakeSite) ExtractRecords(context.Context) ([]types.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOn[f.current] {
		panic("card markup changed")
	}
	out := make([]types.Record, len(f.shown))
	for i, r := range f.shown {
		out[i] = r.Clone()
	}
	return out, nil
}

func (f *fakeSite) loadCount(n int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads[n]
}

type recordingCheckpoint struct {
	mu        sync.Mutex
	calls     int
	records   []types.Record
	skipped   []int
	onPersist func(calls int)
}

func (c *recordingCheckpoint) Persist(_ context.Context, records []types.Record, skipped []int) error {
	c.mu.Lock()
	c.calls++
	c.records = records
	c.skipped = skipped
	calls := c.calls
	hook := c.onPersist
	c.mu.Unlock()
	if hook != nil {
		hook(calls)
	}
	return nil
}

type recordingReporter struct {
	mu       sync.Mutex
	started  []types.Position
	finished []progress.PageReport
}

func (r *recordingReporter) StartPage(pos types.Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, pos)
}

func (r *recordingReporter) FinishPage(rep progress.PageReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, rep)
}

func doctor(crm, name string, extra ...string) types.Record {
	return types.NewRecord(append([]string{"Nome", name, "CRM", crm}, extra...)...)
}

func keys(records []types.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		v, _ := r.Get("CRM")
		out = append(out, v)
	}
	return out
}
