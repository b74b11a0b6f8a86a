package crawler

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/go-scripts/crmcrawl/internal/store"
	"github.com/go-scripts/crmcrawl/internal/types"
)

// PageSource reads the result cards of the page currently rendered.
type PageSource interface {
	// WaitContentReady blocks until the cards and their lazily loaded rows are in place.
	WaitContentReady(ctx context.Context) error
	ExtractRecords(ctx context.Context) ([]types.Record, error)
}

// Extractor pulls the records of one page and rejects degenerate results.
// A page whose every key is already stored usually means the widget never
// replaced the previous page's content; it gets exactly one recovery attempt
// (back one page, then forward again) before being reported as skipped.
type Extractor struct {
	source  PageSource
	nav     *Navigator
	records *store.Records
	timeout time.Duration
	logger  *log.Logger
}

func NewExtractor(source PageSource, nav *Navigator, records *store.Records, timeout time.Duration, logger *log.Logger) *Extractor {
	if logger == nil {
		logger = log.Default()
	}
	return &Extractor{source: source, nav: nav, records: records, timeout: timeout, logger: logger}
}

// ExtractValidated returns the records of the page at pos. skipped is true
// when the result is still degenerate after the retry; the caller discards
// the records in that case.
func (e *Extractor) ExtractValidated(ctx context.Context, pos types.Position) (records []types.Record, skipped bool) {
	records = e.extract(ctx, pos.Page)
	if !e.records.AllKnown(records) {
		return records, false
	}
	if ctx.Err() != nil {
		return records, false
	}

	e.logger.Info("no new records, retrying page", "page", pos.Page, "extracted", len(records))
	e.retry(ctx, pos.Page)

	records = e.extract(ctx, pos.Page)
	if e.records.AllKnown(records) {
		e.logger.Warn("page is still skipped after retrying", "page", pos.Page)
		return records, true
	}
	return records, false
}

func (e *Extractor) retry(ctx context.Context, page int) {
	e.logger.Debug("loading previous page again", "page", page-1)
	if _, err := e.nav.AdvanceToPage(ctx, page-1); err != nil {
		e.logger.Warn("retry: previous page did not load", "page", page-1, "err", err)
	}

	e.logger.Debug("waiting for data to load")
	waitCtx, cancel := e.withTimeout(ctx)
	if err := e.source.WaitContentReady(waitCtx); err != nil {
		e.logger.Warn("retry: content not ready", "page", page-1, "err", err)
	}
	cancel()

	e.logger.Debug("loading page again", "page", page)
	ok, err := e.nav.AdvanceToPage(ctx, page)
	switch {
	case err != nil:
		e.logger.Warn("retry: page did not load", "page", page, "err", err)
	case !ok:
		e.logger.Warn("retry: page control not rendered", "page", page)
	}
}

// extract treats any failure as an empty page so it flows into the retry path.
func (e *Extractor) extract(ctx context.Context, page int) []types.Record {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	if err := e.source.WaitContentReady(ctx); err != nil {
		e.logger.Warn("content not ready", "page", page, "err", err)
		return nil
	}
	records, err := e.source.ExtractRecords(ctx)
	if err != nil {
		e.logger.Warn("extraction failed", "page", page, "err", err)
		return nil
	}
	return records
}

func (e *Extractor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.timeout)
}
