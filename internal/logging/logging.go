package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the process loggers.
type Options struct {
	Level      string
	OutputDir  string
	StdoutLog  string
	StderrLog  string
	MaxSizeMB  int
	MaxBackups int
	Stdout     io.Writer
	Stderr     io.Writer
	Mirror     *MirrorSink
}

// Outputs bundles the logger with the console stream used for progress
// reports. Both are mirrored to files in the output directory.
type Outputs struct {
	Logger *log.Logger
	Stdout io.Writer

	closers []io.Closer
}

// Setup builds the leveled logger (stderr, stderr.log, optional page mirror)
// and the report stream (stdout, stdout.log). It also installs the logger as
// the package default.
func Setup(opts Options) (*Outputs, error) {
	level, err := log.ParseLevel(opts.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	out := &Outputs{}
	stdout := []io.Writer{opts.Stdout}
	stderr := []io.Writer{opts.Stderr}

	if opts.OutputDir != "" {
		if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
		if opts.StdoutLog != "" {
			f := out.rotating(filepath.Join(opts.OutputDir, opts.StdoutLog), opts)
			stdout = append(stdout, f)
		}
		if opts.StderrLog != "" {
			f := out.rotating(filepath.Join(opts.OutputDir, opts.StderrLog), opts)
			stderr = append(stderr, f)
		}
	}
	if opts.Mirror != nil {
		stderr = append(stderr, opts.Mirror)
	}

	out.Stdout = io.MultiWriter(stdout...)
	out.Logger = log.NewWithOptions(io.MultiWriter(stderr...), log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	})
	log.SetDefault(out.Logger)
	return out, nil
}

func (o *Outputs) rotating(path string, opts Options) io.Writer {
	l := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
	}
	o.closers = append(o.closers, l)
	return l
}

// Close flushes and closes the mirrored log files.
func (o *Outputs) Close() error {
	var errs []error
	for _, c := range o.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
