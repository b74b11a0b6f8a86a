package site

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chromedp/chromedp"
)

// unresolvedCaptchasJS lists one id per visible reCAPTCHA checkbox whose
// response field is still empty.
const unresolvedCaptchasJS = `(() => {
	const frames = document.querySelectorAll(
		'iframe[src*="/recaptcha/api2/anchor"], iframe[src*="/recaptcha/enterprise/anchor"]'
	);
	const ids = [];
	frames.forEach((frame, i) => {
		if (frame.src.includes("size=invisible")) return;
		const box = frame.closest(".g-recaptcha") ?? frame.parentElement?.parentElement;
		const answer = box?.querySelector('textarea[name="g-recaptcha-response"]');
		if (answer && answer.value) return;
		ids.push(frame.name || frame.src || String(i));
	});
	return ids;
})()`

// UnresolvedCaptchas returns the ids of reCAPTCHA widgets waiting for the user.
func (s *Site) UnresolvedCaptchas(ctx context.Context) ([]string, error) {
	var ids []string
	if err := chromedp.Run(ctx, chromedp.Evaluate(unresolvedCaptchasJS, &ids)); err != nil {
		return nil, err
	}
	return ids, nil
}

// CaptchaWatcher polls the page for reCAPTCHA challenges and asks the user to
// solve each one once. It never touches crawl state.
type CaptchaWatcher struct {
	detect   func(ctx context.Context) ([]string, error)
	notify   func(ctx context.Context) error
	interval time.Duration
	logger   *log.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewCaptchaWatcher watches s, focusing the tab and raising the captcha
// prompt whenever a new challenge appears.
func NewCaptchaWatcher(s *Site, interval time.Duration) *CaptchaWatcher {
	return &CaptchaWatcher{
		detect: s.UnresolvedCaptchas,
		notify: func(ctx context.Context) error {
			if err := s.browser.BringToFront(ctx); err != nil {
				return fmt.Errorf("failed to focus tab: %w", err)
			}
			return s.Alert(ctx, s.opts.CaptchaPrompt)
		},
		interval: interval,
		logger:   s.logger.WithPrefix("captcha"),
		seen:     make(map[string]struct{}),
	}
}

// Observe records ids and reports whether any of them was not seen before.
func (w *CaptchaWatcher) Observe(ids []string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	fresh := false
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := w.seen[id]; !ok {
			w.seen[id] = struct{}{}
			fresh = true
		}
	}
	return fresh
}

// Run polls until ctx ends. Detection errors are expected while the page is
// navigating and only logged at debug level.
func (w *CaptchaWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

func (w *CaptchaWatcher) check(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, w.interval*5)
	defer cancel()

	ids, err := w.detect(checkCtx)
	if err != nil {
		w.logger.Debug("captcha check failed", "err", err)
		return
	}
	if !w.Observe(ids) {
		return
	}
	w.logger.Warn("recaptcha detected", "ids", ids)
	if err := w.notify(checkCtx); err != nil {
		w.logger.Warn("failed to prompt for recaptcha", "err", err)
	}
}
