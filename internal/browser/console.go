package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/go-scripts/crmcrawl/internal/logging"
)

// BridgeConsole relays the page's console output into logger and, when sink
// is set, mirrors host log lines into the page's console. Lines carrying
// logging.Marker came from the host and are not relayed back.
func (s *Session) BridgeConsole(logger *log.Logger, sink *logging.MirrorSink) {
	pageLog := logger.WithPrefix("page")
	chromedp.ListenTarget(s.ctx, func(ev any) {
		e, ok := ev.(*runtime.EventConsoleAPICalled)
		if !ok {
			return
		}
		text := consoleText(e.Args)
		if strings.HasPrefix(text, logging.Marker) {
			return
		}
		switch e.Type {
		case runtime.APITypeError, runtime.APITypeAssert:
			pageLog.Error(text)
		case runtime.APITypeWarning:
			pageLog.Warn(text)
		case runtime.APITypeDebug:
			pageLog.Debug(text)
		default:
			pageLog.Info(text)
		}
	})

	if sink == nil {
		return
	}
	sink.Attach(func(line string) error {
		return s.ConsoleDebug(s.ctx, line)
	})
	s.OnClose(sink.Detach)
}

// ConsoleDebug writes line to the page console at debug level.
func (s *Session) ConsoleDebug(ctx context.Context, line string) error {
	arg, err := json.Marshal(line)
	if err != nil {
		return err
	}
	return chromedp.Run(ctx, chromedp.Evaluate(fmt.Sprintf("console.debug(%s)", arg), nil))
}

// consoleText renders console arguments the way the devtools console prints them.
func consoleText(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == nil {
			continue
		}
		parts = append(parts, remoteObjectText(arg))
	}
	return strings.Join(parts, " ")
}

func remoteObjectText(o *runtime.RemoteObject) string {
	if len(o.Value) > 0 {
		var s string
		if err := json.Unmarshal([]byte(o.Value), &s); err == nil {
			return s
		}
		return string(o.Value)
	}
	if o.UnserializableValue != "" {
		return string(o.UnserializableValue)
	}
	if o.Description != "" {
		return o.Description
	}
	return string(o.Type)
}
