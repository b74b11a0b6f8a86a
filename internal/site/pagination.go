package site

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"

	"github.com/go-scripts/crmcrawl/internal/types"
)

// MarkResultsStale adds the stale class to every rendered result card.
func (s *Site) MarkResultsStale(ctx context.Context) error {
	script := fmt.Sprintf(`(() => {
		const items = document.querySelectorAll(%s);
		items.forEach((item) => item.classList.add(%s));
		return items.length;
	})()`, jsString(s.sel.ResultItem), jsString(s.sel.StaleClass))

	var n int
	return chromedp.Run(ctx, chromedp.Evaluate(script, &n))
}

// TriggerPage clicks the link for page when the widget renders one.
func (s *Site) TriggerPage(ctx context.Context, page int) (bool, error) {
	script := fmt.Sprintf(`(() => {
		const trigger = document.querySelector(%s);
		if (!(trigger instanceof HTMLElement)) return false;
		trigger.click();
		return true;
	})()`, jsString(fmt.Sprintf(s.sel.PageLink, page)))

	var clicked bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &clicked)); err != nil {
		return false, err
	}
	return clicked, nil
}

// WaitFreshResults waits for a card without the stale class.
func (s *Site) WaitFreshResults(ctx context.Context) error {
	fresh := fmt.Sprintf("%s:not(.%s)", s.sel.ResultItem, s.sel.StaleClass)
	return chromedp.Run(ctx, chromedp.WaitReady(fresh, chromedp.ByQuery))
}

// NextPageNumber reads data-num of the page entry right after the active one.
func (s *Site) NextPageNumber(ctx context.Context) (int, bool, error) {
	script := fmt.Sprintf(`(() => {
		const trigger = document.querySelector(%s);
		if (!(trigger instanceof HTMLElement)) return 0;
		const n = parseInt(trigger.parentElement?.dataset.num ?? "", 10);
		return isNaN(n) ? 0 : n;
	})()`, jsString(s.sel.NextPageLink))

	var n int
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &n)); err != nil {
		return 0, false, err
	}
	return n, n > 0, nil
}

// WaitContentReady waits for the cards, then for the address and phone rows
// that load after them, then for the network to settle.
func (s *Site) WaitContentReady(ctx context.Context) error {
	if err := chromedp.Run(ctx, chromedp.WaitReady(s.sel.ResultItem, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("result cards not loaded: %w", err)
	}
	s.logger.Debug("items loaded, waiting for additional info")

	err := chromedp.Run(ctx,
		chromedp.WaitVisible(s.sel.AddressRow, chromedp.ByQuery),
		chromedp.WaitVisible(s.sel.PhoneRow, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("additional info not loaded: %w", err)
	}
	if err := s.browser.WaitNetworkIdle(ctx, s.opts.NetworkIdle); err != nil {
		return fmt.Errorf("network did not settle: %w", err)
	}
	s.logger.Debug("additional info loaded, extracting data")
	return nil
}

// ExtractRecords parses every result card currently rendered.
func (s *Site) ExtractRecords(ctx context.Context) ([]types.Record, error) {
	script := fmt.Sprintf(`[...document.querySelectorAll(%s)].map((item) => item.outerHTML)`, jsString(s.sel.ResultItem))

	var cards []string
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &cards)); err != nil {
		return nil, fmt.Errorf("failed to read result cards: %w", err)
	}
	return s.parser.Parse(cards)
}
