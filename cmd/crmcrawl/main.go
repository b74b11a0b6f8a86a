package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-scripts/crmcrawl/internal/browser"
	"github.com/go-scripts/crmcrawl/internal/config"
	"github.com/go-scripts/crmcrawl/internal/crawler"
	"github.com/go-scripts/crmcrawl/internal/logging"
	"github.com/go-scripts/crmcrawl/internal/progress"
	"github.com/go-scripts/crmcrawl/internal/site"
	"github.com/go-scripts/crmcrawl/internal/writer"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "crmcrawl",
	Short: "Collect doctor records from the CFM search portal",
	Long: `crmcrawl opens the CFM doctor search in a browser window, waits for you to
pick the search filters, then walks every result page and keeps output/data.json
and output/data.csv up to date after each one.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a config file (default ./crmcrawl.yaml when present)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	var mirror *logging.MirrorSink
	if cfg.Logger.MirrorPage {
		mirror = logging.NewMirrorSink(256)
		defer mirror.Close()
	}

	out, err := logging.Setup(logging.Options{
		Level:      cfg.Logger.Level,
		OutputDir:  cfg.Output.Dir,
		StdoutLog:  cfg.Output.StdoutLog,
		StderrLog:  cfg.Output.StderrLog,
		MaxSizeMB:  cfg.Logger.MaxSizeMB,
		MaxBackups: cfg.Logger.MaxBackups,
		Mirror:     mirror,
	})
	if err != nil {
		return err
	}
	defer out.Close()
	logger := out.Logger

	checkpoint, err := writer.New(cfg.Output.Dir,
		writer.WithFileNames(cfg.Output.JSON, cfg.Output.CSV),
		writer.WithLeadingColumns(cfg.Site.NameField, cfg.Site.KeyField),
	)
	if err != nil {
		logger.Error("failed to prepare output", "err", err)
		return err
	}

	session, err := browser.Launch(ctx, browser.Options{
		Headless:       cfg.Browser.Headless,
		DevTools:       cfg.Browser.DevTools,
		StartMaximized: cfg.Browser.StartMaximized,
		ExecPath:       cfg.Browser.ExecPath,
		UserAgent:      cfg.Browser.UserAgent,
		Logger:         logger,
	})
	if err != nil {
		logger.Error("failed to launch browser", "err", err)
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("browser did not close cleanly", "err", err)
		}
	}()
	session.BridgeConsole(logger, mirror)

	siteOpts := site.FromConfig(cfg)
	siteOpts.Logger = logger
	siteOpts.SpinnerWriter = out.Stdout
	cfm := site.New(session, siteOpts)

	opts := []crawler.Option{
		crawler.WithLogger(logger),
		crawler.WithFields(cfg.Site.KeyField, cfg.Site.PageField),
		crawler.WithOperationTimeout(cfg.Timeouts.Operation),
		crawler.WithPageRate(cfg.Crawl.PageRate),
	}
	if cfg.Debug.ScreenshotSkipped {
		opts = append(opts, crawler.WithSkipHook(screenshotSkipped(session, logger, filepath.Join(cfg.Output.Dir, cfg.Debug.ScreenshotDir))))
	}
	controller := crawler.New(crawler.Deps{
		Site:       cfm,
		Widget:     cfm,
		Source:     cfm,
		Checkpoint: checkpoint,
		Reporter:   progress.New(out.Stdout),
	}, opts...)

	sessionCtx := session.Context()
	watchCtx, stopWatch := context.WithCancel(sessionCtx)
	var g errgroup.Group
	if cfg.Captcha.Enabled {
		watcher := site.NewCaptchaWatcher(cfm, cfg.Captcha.PollInterval)
		g.Go(func() error { return watcher.Run(watchCtx) })
	}

	runErr := controller.Run(sessionCtx)
	stopWatch()
	_ = g.Wait()

	if runErr != nil {
		logger.Error("crawl could not start", "err", runErr)
		return runErr
	}
	logger.Info("results saved",
		"records", controller.Records().Len(),
		"skippedPages", controller.Skips().Pages(),
		"json", checkpoint.JSONPath(),
		"csv", checkpoint.CSVPath())
	return nil
}

func screenshotSkipped(session *browser.Session, logger *log.Logger, dir string) crawler.SkipHook {
	return func(ctx context.Context, page int) {
		path := filepath.Join(dir, fmt.Sprintf("page-%d.png", page))
		if err := session.Screenshot(ctx, path); err != nil {
			logger.Warn("failed to save screenshot", "page", page, "err", err)
			return
		}
		logger.Info("saved screenshot of skipped page", "page", page, "path", path)
	}
}
