package crawler

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/go-scripts/crmcrawl/internal/progress"
	"github.com/go-scripts/crmcrawl/internal/types"
	"github.com/go-scripts/crmcrawl/internal/writer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quiet() Option { return WithLogger(log.New(io.Discard)) }

func TestRunCollectsEveryPage(t *testing.T) {
	site := newFakeSite(
		[]types.Record{doctor("111", "A"), doctor("222", "B")},
		[]types.Record{doctor("333", "C"), doctor("444", "D")},
		[]types.Record{doctor("555", "E")},
	)
	cp := &recordingCheckpoint{}
	rep := &recordingReporter{}
	c := New(site.deps(cp, rep), quiet())

	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, Done, c.State())
	assert.True(t, site.filterSubmitted)
	assert.Equal(t, []string{"111", "222", "333", "444", "555"}, keys(c.Records().Snapshot()))
	assert.Empty(t, c.Skips().Pages())
	assert.Equal(t, 3, cp.calls)
	assert.Equal(t, []string{"111", "222", "333", "444", "555"}, keys(cp.records))
	assert.Equal(t, []int{}, nonNil(cp.skipped))

	rec, ok := c.Records().Get("333")
	require.True(t, ok)
	page, _ := rec.Get("Página")
	assert.Equal(t, "2", page)

	require.Len(t, rep.started, 3)
	assert.Equal(t, "Page 1/3", rep.started[0].Label())
	assert.Equal(t, "Page 3/3", rep.started[2].Label())
	assert.Equal(t, 5, rep.finished[2].Total)
	require.NotNil(t, rep.finished[2].Last)
	last, _ := rep.finished[2].Last.Get("CRM")
	assert.Equal(t, "555", last)
}

func nonNil(p []int) []int {
	if p == nil {
		return []int{}
	}
	return p
}

func TestRunSkipsStaleDuplicatePageAfterOneRetry(t *testing.T) {
	site := newFakeSite(
		[]types.Record{doctor("111", "A"), doctor("222", "B")},
		[]types.Record{doctor("111", "A")},
	)
	cp := &recordingCheckpoint{}
	rep := &recordingReporter{}
	var hooked []int
	c := New(site.deps(cp, rep), quiet(), WithSkipHook(func(_ context.Context, page int) {
		hooked = append(hooked, page)
	}))

	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, []int{2}, c.Skips().Pages())
	assert.Equal(t, 2, c.Records().Len())
	assert.Equal(t, []int{2}, cp.skipped)
	assert.Equal(t, []int{2}, hooked)
	assert.Equal(t, 2, site.loadCount(2), "page 2 loaded once plus exactly one retry")
	assert.Equal(t, 1, site.loadCount(1))

	require.Len(t, rep.finished, 2)
	assert.True(t, rep.finished[1].Skipped)
	assert.Zero(t, rep.finished[1].Merged)
}

func TestRunRecoversPageOnRetry(t *testing.T) {
	site := newFakeSite(
		[]types.Record{doctor("111", "A"), doctor("222", "B")},
		[]types.Record{doctor("333", "C")},
	)
	site.staleLoads[2] = 1
	cp := &recordingCheckpoint{}
	c := New(site.deps(cp, &recordingReporter{}), quiet())

	require.NoError(t, c.Run(context.Background()))

	assert.Empty(t, c.Skips().Pages())
	assert.Equal(t, []string{"111", "222", "333"}, keys(c.Records().Snapshot()))
	assert.Equal(t, 2, site.loadCount(2))
}

func TestRunSkipsEmptyFirstPage(t *testing.T) {
	site := newFakeSite(
		[]types.Record{},
		[]types.Record{doctor("111", "A")},
	)
	c := New(site.deps(&recordingCheckpoint{}, &recordingReporter{}), quiet())

	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, []int{1}, c.Skips().Pages())
	assert.Equal(t, []string{"111"}, keys(c.Records().Snapshot()))
}

func TestRunWidensCSVHeader(t *testing.T) {
	dir := t.TempDir()
	cp, err := writer.New(dir, writer.WithLeadingColumns("Nome", "CRM"))
	require.NoError(t, err)

	site := newFakeSite(
		[]types.Record{doctor("111", "A")},
		[]types.Record{doctor("333", "C", "Telefone", "(11) 5555-0000")},
	)
	var out bytes.Buffer
	c := New(site.deps(cp, progress.New(&out)), quiet())

	require.NoError(t, c.Run(context.Background()))

	f, err := os.Open(cp.CSVPath())
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Nome", "CRM", "Página", "Telefone"}, rows[0])
	assert.Equal(t, []string{"A", "111", "1", ""}, rows[1])
	assert.Equal(t, []string{"C", "333", "2", "(11) 5555-0000"}, rows[2])
	assert.Contains(t, out.String(), "Page 2/2")
}

func TestRunStopsWhenNextPageCannotBeRead(t *testing.T) {
	site := newFakeSite(
		[]types.Record{doctor("111", "A")},
		[]types.Record{doctor("222", "B")},
	)
	site.nextErr = errors.New("node detached")
	cp := &recordingCheckpoint{}
	c := New(site.deps(cp, &recordingReporter{}), quiet())

	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, Done, c.State())
	assert.Equal(t, 1, cp.calls)
	assert.Equal(t, []string{"111"}, keys(cp.records))
}

func TestRunContinuesWhenNextPageDoesNotSettle(t *testing.T) {
	site := newFakeSite(
		[]types.Record{doctor("111", "A")},
		[]types.Record{doctor("222", "B")},
	)
	site.unsettled[2] = errors.New("timed out")
	c := New(site.deps(&recordingCheckpoint{}, &recordingReporter{}), quiet())

	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, []string{"111", "222"}, keys(c.Records().Snapshot()))
	assert.Equal(t, 2, c.Position().Page)
}

func TestRunContainsPanicToOnePage(t *testing.T) {
	site := newFakeSite(
		[]types.Record{doctor("111", "A")},
		[]types.Record{doctor("222", "B")},
		[]types.Record{doctor("333", "C")},
	)
	site.panicOn[2] = true
	cp := &recordingCheckpoint{}
	c := New(site.deps(cp, &recordingReporter{}), quiet())

	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, []int{2}, c.Skips().Pages())
	assert.Equal(t, []string{"111", "333"}, keys(c.Records().Snapshot()))
	assert.Equal(t, []int{2}, cp.skipped)
}

func TestRunStartupFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*fakeSite)
		wantErr string
	}{
		{
			name:    "open",
			setup:   func(f *fakeSite) { f.openErr = errors.New("net::ERR_NAME_NOT_RESOLVED") },
			wantErr: "failed to open search page",
		},
		{
			name:    "open never loads",
			setup:   func(f *fakeSite) { f.openBlocks = true },
			wantErr: "failed to open search page",
		},
		{
			name:    "filter gate",
			setup:   func(f *fakeSite) { f.filterErr = errors.New("form not found") },
			wantErr: "failed to wait for filter submission",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site := newFakeSite([]types.Record{doctor("111", "A")})
			tt.setup(site)
			cp := &recordingCheckpoint{}
			c := New(site.deps(cp, &recordingReporter{}), quiet(), WithOperationTimeout(50*time.Millisecond))

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			err := c.Run(ctx)
			assert.ErrorContains(t, err, tt.wantErr)
			assert.Equal(t, Done, c.State())
			assert.Zero(t, cp.calls)
		})
	}
}

func TestRunWithoutTotalPages(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeSite)
	}{
		{
			name:  "last page control never renders",
			setup: func(f *fakeSite) { f.totalBlocks = true },
		},
		{
			name:  "read fails",
			setup: func(f *fakeSite) { f.totalErr = errors.New("could not find node") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site := newFakeSite([]types.Record{doctor("111", "A")})
			tt.setup(site)
			cp := &recordingCheckpoint{}
			rep := &recordingReporter{}
			c := New(site.deps(cp, rep), quiet(), WithOperationTimeout(50*time.Millisecond))

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			require.NoError(t, c.Run(ctx))
			require.NoError(t, ctx.Err(), "run must not wait for the parent context")

			assert.Equal(t, Done, c.State())
			assert.Equal(t, []string{"111"}, keys(c.Records().Snapshot()))
			assert.Equal(t, 1, cp.calls)
			require.Len(t, rep.started, 1)
			assert.Equal(t, types.UnknownTotal, rep.started[0].Total)
			assert.Equal(t, "Page 1/?", rep.started[0].Label())
		})
	}
}

func TestRunStopsWhenContextEnds(t *testing.T) {
	site := newFakeSite(
		[]types.Record{doctor("111", "A")},
		[]types.Record{doctor("222", "B")},
		[]types.Record{doctor("333", "C")},
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cp := &recordingCheckpoint{onPersist: func(calls int) {
		if calls == 1 {
			cancel()
		}
	}}
	c := New(site.deps(cp, &recordingReporter{}), quiet())

	require.NoError(t, c.Run(ctx))

	assert.Equal(t, 1, cp.calls)
	assert.Equal(t, []string{"111"}, keys(c.Records().Snapshot()))
	assert.Equal(t, Done, c.State())
}

func TestRunWithPageRate(t *testing.T) {
	site := newFakeSite(
		[]types.Record{doctor("111", "A")},
		[]types.Record{doctor("222", "B")},
	)
	c := New(site.deps(&recordingCheckpoint{}, &recordingReporter{}), quiet(), WithPageRate(1000))

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, 2, c.Records().Len())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "initializing", Initializing.String())
	assert.Equal(t, "awaiting-filter-submission", AwaitingUserFilterSubmission.String())
	assert.Equal(t, "paging", Paging.String())
	assert.Equal(t, "done", Done.String())
	assert.Equal(t, "state(9)", State(9).String())
}
