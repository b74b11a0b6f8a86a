// Package browser owns the Chrome process: launch, the incognito tab the crawl
// runs in, detection of the user closing it, and the page's network activity.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// Options configures the launched browser.
type Options struct {
	Headless       bool
	DevTools       bool
	StartMaximized bool
	ExecPath       string
	UserAgent      string
	Logger         *log.Logger
}

// Session is one visible browser window with a single incognito tab.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc

	tabCancel     context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc

	network *NetworkMonitor
	logger  *log.Logger

	closeOnce sync.Once
	closed    chan struct{}
	onClose   []func()
	mu        sync.Mutex
}

// allocatorFlags lists the command line switches on top of chromedp's defaults.
func allocatorFlags(o Options) map[string]any {
	flags := map[string]any{
		"headless":               o.Headless,
		"disable-blink-features": "AutomationControlled",
		"enable-automation":      false,
	}
	if o.StartMaximized {
		flags["start-maximized"] = true
	}
	if o.DevTools && !o.Headless {
		flags["auto-open-devtools-for-tabs"] = true
	}
	if o.Headless {
		flags["disable-gpu"] = true
	}
	return flags
}

// AllocatorOptions builds the exec allocator options for o.
func AllocatorOptions(o Options) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range allocatorFlags(o) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	if !o.StartMaximized {
		opts = append(opts, chromedp.WindowSize(1366, 900))
	}
	if o.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(o.ExecPath))
	}
	if o.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(o.UserAgent))
	}
	return opts
}

// Launch starts Chrome, opens an incognito tab and enables network tracking.
// The session context is canceled when parent ends, when Close is called or
// when the user closes the tab or the browser.
func Launch(parent context.Context, o Options) (*Session, error) {
	logger := o.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.WithPrefix("browser")

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, AllocatorOptions(o)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logger.Debugf),
		chromedp.WithErrorf(logger.Debugf),
	)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx, chromedp.WithNewBrowserContext())
	ctx, cancel := context.WithCancel(tabCtx)

	s := &Session{
		ctx:           ctx,
		cancel:        cancel,
		tabCancel:     tabCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		network:       NewNetworkMonitor(),
		logger:        logger,
		closed:        make(chan struct{}),
	}

	chromedp.ListenTarget(tabCtx, func(ev any) {
		s.network.handle(ev)
		if e, ok := ev.(*inspector.EventDetached); ok {
			s.markClosed("inspector detached: " + e.Reason.String())
		}
	})

	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	tabID := chromedp.FromContext(tabCtx).Target.TargetID
	chromedp.ListenBrowser(browserCtx, func(ev any) {
		if e, ok := ev.(*target.EventTargetDestroyed); ok && e.TargetID == tabID {
			s.markClosed("tab closed")
		}
	})
	go func() {
		select {
		case <-tabCtx.Done():
			s.markClosed("browser disconnected")
		case <-s.closed:
		}
	}()

	logger.Info("browser launched", "headless", o.Headless)
	return s, nil
}

// Context is the tab's context. Every page operation runs under it.
func (s *Session) Context() context.Context { return s.ctx }

// Done is closed once the tab is gone.
func (s *Session) Done() <-chan struct{} { return s.closed }

// Network reports the tab's in-flight requests.
func (s *Session) Network() *NetworkMonitor { return s.network }

// OnClose registers fn to run once when the tab goes away.
func (s *Session) OnClose(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = append(s.onClose, fn)
}

func (s *Session) markClosed(reason string) {
	s.closeOnce.Do(func() {
		s.logger.Info("browser closed", "reason", reason)
		s.mu.Lock()
		hooks := s.onClose
		s.mu.Unlock()
		for _, fn := range hooks {
			fn()
		}
		close(s.closed)
		s.cancel()
	})
}

// Close shuts the tab and the browser process down.
func (s *Session) Close() error {
	s.markClosed("session closed")
	s.tabCancel()
	err := chromedp.Cancel(s.browserCtx)
	s.browserCancel()
	s.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}

// BringToFront focuses the tab.
func (s *Session) BringToFront(ctx context.Context) error {
	return chromedp.Run(ctx, page.BringToFront())
}

// Screenshot captures the whole page as PNG into path.
func (s *Session) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := chromedp.Run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return fmt.Errorf("failed to capture screenshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("failed to write screenshot: %w", err)
	}
	return nil
}

// WaitNetworkIdle blocks until the tab had no request in flight for quiet.
func (s *Session) WaitNetworkIdle(ctx context.Context, quiet time.Duration) error {
	return s.network.WaitIdle(ctx, quiet)
}
