package logging

import (
	"strings"
	"sync"
)

// Marker prefixes every line mirrored into the page console. The page-side
// console listener drops lines carrying it so the two directions never echo.
const Marker = "[crmcrawl]"

// Forwarder delivers one log line to the page console.
type Forwarder func(line string) error

// MirrorSink is an io.Writer that copies log lines into the browser page's
// console. It holds no ownership of the page: the owner attaches a forwarder
// once the page is up and detaches it when the page closes, after which lines
// are dropped. Writes never block on the browser; lines are queued and
// delivered by a single goroutine, and dropped when the queue is full.
type MirrorSink struct {
	mu      sync.RWMutex
	forward Forwarder

	lines   chan string
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewMirrorSink starts the delivery goroutine. Call Close to stop it.
func NewMirrorSink(buffer int) *MirrorSink {
	if buffer <= 0 {
		buffer = 256
	}
	m := &MirrorSink{
		lines:   make(chan string, buffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go m.pump()
	return m
}

// Attach sets the forwarder used for subsequent lines.
func (m *MirrorSink) Attach(fn Forwarder) {
	m.mu.Lock()
	m.forward = fn
	m.mu.Unlock()
}

// Detach invalidates the page handle.
func (m *MirrorSink) Detach() { m.Attach(nil) }

// Attached reports whether a forwarder is set.
func (m *MirrorSink) Attached() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.forward != nil
}

func (m *MirrorSink) Write(p []byte) (int, error) {
	if !m.Attached() {
		return len(p), nil
	}
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line == "" {
			continue
		}
		select {
		case <-m.done:
			return len(p), nil
		case m.lines <- Marker + " " + line:
		default:
		}
	}
	return len(p), nil
}

// Close stops the delivery goroutine and waits for it to exit.
func (m *MirrorSink) Close() error {
	m.once.Do(func() { close(m.done) })
	<-m.stopped
	return nil
}

func (m *MirrorSink) pump() {
	defer close(m.stopped)
	for {
		select {
		case <-m.done:
			return
		case line := <-m.lines:
			m.mu.RLock()
			fn := m.forward
			m.mu.RUnlock()
			if fn != nil {
				_ = fn(line)
			}
		}
	}
}
