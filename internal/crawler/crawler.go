// Package crawler drives the paginated search: it waits for the user to submit
// the search filters, then walks the result pages in order, extracting,
// deduplicating and checkpointing after every page.
package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/go-scripts/crmcrawl/internal/progress"
	"github.com/go-scripts/crmcrawl/internal/store"
	"github.com/go-scripts/crmcrawl/internal/types"
)

// State is the controller's lifecycle stage.
type State int

const (
	Initializing State = iota
	AwaitingUserFilterSubmission
	Paging
	Done
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case AwaitingUserFilterSubmission:
		return "awaiting-filter-submission"
	case Paging:
		return "paging"
	case Done:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Site covers the page-level steps around the paging loop.
type Site interface {
	Open(ctx context.Context) error
	// AwaitFilterSubmission blocks until the user has submitted the search form.
	AwaitFilterSubmission(ctx context.Context) error
	// TotalPages reads the total page count, or types.UnknownTotal.
	TotalPages(ctx context.Context) (string, error)
}

// Checkpointer persists the current snapshot.
type Checkpointer interface {
	Persist(ctx context.Context, records []types.Record, skipped []int) error
}

// Reporter receives per-page progress.
type Reporter interface {
	StartPage(pos types.Position)
	FinishPage(r progress.PageReport)
}

// SkipHook is called once for every page recorded as skipped.
type SkipHook func(ctx context.Context, page int)

// Deps are the collaborators a Controller drives.
type Deps struct {
	Site       Site
	Widget     PaginationWidget
	Source     PageSource
	Checkpoint Checkpointer
	Reporter   Reporter
}

// Controller drives the crawl of one search.
type Controller struct {
	site       Site
	nav        *Navigator
	extractor  *Extractor
	records    *store.Records
	skips      *store.SkipTracker
	checkpoint Checkpointer
	reporter   Reporter

	keyField  string
	pageField string
	timeout   time.Duration
	limiter   *rate.Limiter
	onSkip    SkipHook
	logger    *log.Logger

	mu       sync.Mutex
	state    State
	position types.Position
}

// Option configures a Controller.
type Option func(*Controller)

func WithLogger(logger *log.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithFields names the deduplication key and the page annotation field.
func WithFields(keyField, pageField string) Option {
	return func(c *Controller) {
		c.keyField = keyField
		c.pageField = pageField
	}
}

// WithOperationTimeout bounds every single browser operation.
func WithOperationTimeout(d time.Duration) Option {
	return func(c *Controller) { c.timeout = d }
}

// WithPageRate limits page advances to perSecond. Zero disables the limit.
func WithPageRate(perSecond float64) Option {
	return func(c *Controller) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

func WithSkipHook(fn SkipHook) Option {
	return func(c *Controller) { c.onSkip = fn }
}

// New creates a Controller.
func New(deps Deps, opts ...Option) *Controller {
	c := &Controller{
		site:       deps.Site,
		checkpoint: deps.Checkpoint,
		reporter:   deps.Reporter,
		skips:      store.NewSkipTracker(),
		keyField:   "CRM",
		pageField:  "Página",
		timeout:    2 * time.Minute,
		logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithPrefix("crawler")
	c.records = store.NewRecords(c.keyField, c.pageField)
	c.nav = NewNavigator(deps.Widget, c.timeout, c.logger)
	c.extractor = NewExtractor(deps.Source, c.nav, c.records, c.timeout, c.logger)
	return c
}

// Records exposes the deduplicated store.
func (c *Controller) Records() *store.Records { return c.records }

// Skips exposes the skipped pages.
func (c *Controller) Skips() *store.SkipTracker { return c.skips }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Position is the page currently being processed.
func (c *Controller) Position() types.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// Run opens the site, waits for the user's search and pages through the
// results until no next page exists or ctx ends. It only returns an error
// when the crawl could not start; failures while paging are logged and the
// last checkpoint stays on disk.
func (c *Controller) Run(ctx context.Context) error {
	defer c.setState(Done)
	c.setState(Initializing)

	openCtx, cancel := c.withTimeout(ctx)
	err := c.site.Open(openCtx)
	cancel()
	if err != nil {
		return c.startupError(ctx, "open search page", err)
	}

	c.setState(AwaitingUserFilterSubmission)
	c.logger.Info("waiting for the search filters to be submitted")
	if err := c.site.AwaitFilterSubmission(ctx); err != nil {
		return c.startupError(ctx, "wait for filter submission", err)
	}

	totalCtx, cancel := c.withTimeout(ctx)
	total, err := c.site.TotalPages(totalCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			c.logger.Info("browser closed, stopping")
			return nil
		}
		c.logger.Warn("could not read total pages", "err", err)
		total = types.UnknownTotal
	}
	if total == "" {
		total = types.UnknownTotal
	}
	c.logger.Info("initiating extraction", "totalPages", total)

	c.setState(Paging)
	c.pageLoop(ctx, types.Position{Page: 1, Total: total})

	c.logger.Info("extraction finished",
		"records", c.records.Len(),
		"skippedPages", c.skips.Pages(),
		"droppedWithoutKey", c.records.Dropped())
	return nil
}

func (c *Controller) startupError(ctx context.Context, step string, err error) error {
	if ctx.Err() != nil {
		c.logger.Info("browser closed, stopping", "step", step)
		return nil
	}
	return fmt.Errorf("failed to %s: %w", step, err)
}

// withTimeout bounds one startup step. The filter gate waits for a person and
// runs without it.
func (c *Controller) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Controller) pageLoop(ctx context.Context, pos types.Position) {
	for {
		if ctx.Err() != nil {
			c.logger.Info("browser closed, stopping", "page", pos.Page)
			return
		}
		c.setPosition(pos)
		c.processPage(ctx, pos)
		if ctx.Err() != nil {
			c.logger.Info("browser closed, stopping", "page", pos.Page)
			return
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return
			}
		}

		next, ok, err := c.nav.AdvanceToNextPage(ctx)
		switch {
		case err != nil && ok:
			c.logger.Warn("next page did not settle, extracting anyway", "page", next, "err", err)
		case err != nil:
			if ctx.Err() == nil {
				c.logger.Error("navigation failed, stopping", "page", pos.Page, "err", err)
			}
			return
		case !ok:
			c.logger.Info("no next page", "page", pos.Page)
			return
		}
		pos.Page = next
	}
}

// processPage extracts, merges and checkpoints one page. A panic is contained
// to the page, which is then counted as skipped.
func (c *Controller) processPage(ctx context.Context, pos types.Position) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("recovered from panic while processing page", "page", pos.Page, "panic", r)
			c.markSkipped(ctx, pos.Page)
			c.persist(ctx)
		}
	}()

	c.reporter.StartPage(pos)
	records, skipped := c.extractor.ExtractValidated(ctx, pos)
	if ctx.Err() != nil {
		return
	}

	merged := 0
	if skipped {
		c.markSkipped(ctx, pos.Page)
	} else {
		merged = c.records.Merge(records, pos.Page)
		c.logger.Debug("page merged", "page", pos.Page, "extracted", len(records), "new", merged)
	}

	report := progress.PageReport{
		Position: pos,
		Total:    c.records.Len(),
		Merged:   merged,
		Skipped:  skipped,
		Skips:    c.skips.Pages(),
	}
	if last, ok := c.records.Last(); ok {
		report.Last = &last
	}
	c.persist(ctx)
	c.reporter.FinishPage(report)
}

func (c *Controller) markSkipped(ctx context.Context, page int) {
	if !c.skips.Add(page) {
		return
	}
	if c.onSkip != nil {
		c.onSkip(ctx, page)
	}
}

func (c *Controller) persist(ctx context.Context) {
	if err := c.checkpoint.Persist(ctx, c.records.Snapshot(), c.skips.Pages()); err != nil {
		c.logger.Error("failed to write partial results", "err", err)
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.logger.Debug("state changed", "state", s)
}

func (c *Controller) setPosition(pos types.Position) {
	c.mu.Lock()
	c.position = pos
	c.mu.Unlock()
}
