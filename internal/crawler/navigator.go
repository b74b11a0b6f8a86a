package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
)

// PaginationWidget is the DOM side of the result listing's pagination control.
type PaginationWidget interface {
	// MarkResultsStale tags every rendered result item so fresh content can be told apart.
	MarkResultsStale(ctx context.Context) error
	// TriggerPage clicks the control for page, reporting whether it was rendered.
	TriggerPage(ctx context.Context, page int) (bool, error)
	// WaitFreshResults blocks until at least one untagged result item exists.
	WaitFreshResults(ctx context.Context) error
	// NextPageNumber reads the entry right after the active one.
	NextPageNumber(ctx context.Context) (int, bool, error)
}

// Navigator moves the listing between pages. The widget re-renders in place
// without a navigation event, so stale-marking the old items and waiting for
// an unmarked one is the only reliable load signal.
type Navigator struct {
	widget  PaginationWidget
	timeout time.Duration
	logger  *log.Logger
}

// NewNavigator wraps widget. Every call runs under timeout when it is positive.
func NewNavigator(widget PaginationWidget, timeout time.Duration, logger *log.Logger) *Navigator {
	if logger == nil {
		logger = log.Default()
	}
	return &Navigator{widget: widget, timeout: timeout, logger: logger}
}

// AdvanceToPage loads target. It returns false without error when the widget
// does not render a control for target, which includes out-of-range pages and
// pages outside the window of links around the current one. A true result
// with an error means the click happened but the new content never settled.
func (n *Navigator) AdvanceToPage(ctx context.Context, target int) (bool, error) {
	if target < 1 {
		return false, nil
	}
	ctx, cancel := n.withTimeout(ctx)
	defer cancel()

	if err := n.widget.MarkResultsStale(ctx); err != nil {
		return false, fmt.Errorf("failed to mark results stale: %w", err)
	}
	ok, err := n.widget.TriggerPage(ctx, target)
	if err != nil {
		return false, fmt.Errorf("failed to trigger page %d: %w", target, err)
	}
	if !ok {
		n.logger.Debug("page control not rendered", "page", target)
		return false, nil
	}
	n.logger.Debug("page load: triggered", "page", target)

	if err := n.widget.WaitFreshResults(ctx); err != nil {
		return true, fmt.Errorf("failed waiting for page %d to load: %w", target, err)
	}
	n.logger.Debug("page load: done", "page", target)
	return true, nil
}

// AdvanceToNextPage moves to the page after the active one and returns its
// number. ok is false when there is no next page, which ends the crawl.
func (n *Navigator) AdvanceToNextPage(ctx context.Context) (next int, ok bool, err error) {
	readCtx, cancel := n.withTimeout(ctx)
	next, found, err := n.widget.NextPageNumber(readCtx)
	cancel()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read next page: %w", err)
	}
	if !found {
		n.logger.Debug("no next page")
		return 0, false, nil
	}

	triggered, err := n.AdvanceToPage(ctx, next)
	switch {
	case err != nil && triggered:
		return next, true, err
	case err != nil:
		return 0, false, err
	case !triggered:
		return 0, false, nil
	}
	return next, true, nil
}

func (n *Navigator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if n.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, n.timeout)
}
