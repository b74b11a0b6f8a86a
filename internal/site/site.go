// Package site knows the markup of the doctor search portal: the filter form,
// the pagination widget and the result cards.
package site

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/charmbracelet/log"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/go-scripts/crmcrawl/internal/config"
	"github.com/go-scripts/crmcrawl/internal/types"
)

// Browser is what the site needs from the running tab besides DOM access.
type Browser interface {
	WaitNetworkIdle(ctx context.Context, quiet time.Duration) error
	BringToFront(ctx context.Context) error
}

// Options configures a Site.
type Options struct {
	URL           string
	NameField     string
	FilterPrompt  string
	CaptchaPrompt string
	Selectors     config.SelectorsConfig
	NetworkIdle   time.Duration
	Logger        *log.Logger
	// SpinnerWriter receives the spinner shown while the user picks filters.
	SpinnerWriter io.Writer
}

// FromConfig maps the site section of cfg to Options.
func FromConfig(cfg *config.Config) Options {
	return Options{
		URL:           cfg.Site.URL,
		NameField:     cfg.Site.NameField,
		FilterPrompt:  cfg.Site.FilterPrompt,
		CaptchaPrompt: cfg.Site.CaptchaPrompt,
		Selectors:     cfg.Site.Selectors,
		NetworkIdle:   cfg.Timeouts.NetworkIdle,
	}
}

// Site drives the search page. Every ctx passed to its methods must carry
// the chromedp tab.
type Site struct {
	opts    Options
	sel     config.SelectorsConfig
	browser Browser
	parser  CardParser
	logger  *log.Logger
}

func New(b Browser, opts Options) *Site {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.SpinnerWriter == nil {
		opts.SpinnerWriter = os.Stdout
	}
	return &Site{
		opts:    opts,
		sel:     opts.Selectors,
		browser: b,
		parser: CardParser{
			NameField:     opts.NameField,
			NameSelector:  opts.Selectors.ItemName,
			LabelSelector: opts.Selectors.ItemLabel,
		},
		logger: opts.Logger.WithPrefix("site"),
	}
}

// Open navigates to the search page and waits for the search form.
func (s *Site) Open(ctx context.Context) error {
	s.logger.Info("opening search page", "url", s.opts.URL)
	return chromedp.Run(ctx,
		chromedp.Navigate(s.opts.URL),
		chromedp.WaitReady(s.sel.SearchButton, chromedp.ByQuery),
	)
}

// AwaitFilterSubmission scrolls the filter form into view, prompts the user
// and blocks until the search button is clicked. There is no time limit
// besides ctx: a person is choosing filters.
func (s *Site) AwaitFilterSubmission(ctx context.Context) error {
	spin := spinner.New(spinner.CharSets[9], 100*time.Millisecond, spinner.WithWriter(s.opts.SpinnerWriter))
	spin.Suffix = " " + s.opts.FilterPrompt
	spin.Start()
	defer spin.Stop()

	script := fmt.Sprintf(`new Promise((resolve, reject) => {
		const button = document.querySelector(%s);
		if (!(button instanceof HTMLButtonElement)) {
			reject(new Error("search button not found"));
			return;
		}
		button.addEventListener("click", () => resolve(true), { once: true });
		const form = document.querySelector(%s);
		(form?.closest("article") ?? form)?.scrollIntoView();
		setTimeout(() => alert(%s), 0);
	})`, jsString(s.sel.SearchButton), jsString(s.sel.FilterForm), jsString(s.opts.FilterPrompt))

	var clicked bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &clicked, awaitPromise)); err != nil {
		return fmt.Errorf("search was not submitted: %w", err)
	}
	s.logger.Info("search submitted")
	return nil
}

// TotalPages reads the label of the last-page control.
func (s *Site) TotalPages(ctx context.Context) (string, error) {
	var text string
	err := chromedp.Run(ctx,
		chromedp.WaitReady(s.sel.LastPage, chromedp.ByQuery),
		chromedp.Text(s.sel.LastPage, &text, chromedp.ByQuery),
	)
	if err != nil {
		return types.UnknownTotal, fmt.Errorf("failed to read total pages: %w", err)
	}
	if text = strings.TrimSpace(text); text == "" {
		return types.UnknownTotal, nil
	}
	return text, nil
}

// Alert opens a browser alert without waiting for it to be dismissed.
func (s *Site) Alert(ctx context.Context, message string) error {
	script := fmt.Sprintf(`setTimeout(() => alert(%s), 0); true`, jsString(message))
	var ok bool
	return chromedp.Run(ctx, chromedp.Evaluate(script, &ok))
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
