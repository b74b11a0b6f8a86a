package browser

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
)

const networkIdleCheckFrequency = 25 * time.Millisecond

// NetworkMonitor tracks the requests a tab has in flight.
type NetworkMonitor struct {
	mu       sync.RWMutex
	inflight map[network.RequestID]struct{}
}

func NewNetworkMonitor() *NetworkMonitor {
	return &NetworkMonitor{inflight: make(map[network.RequestID]struct{})}
}

// handle consumes target events. Redirects reuse the request ID, so tracking
// IDs instead of a bare counter keeps the count from drifting.
func (m *NetworkMonitor) handle(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		m.mu.Lock()
		m.inflight[e.RequestID] = struct{}{}
		m.mu.Unlock()
	case *network.EventLoadingFinished:
		m.done(e.RequestID)
	case *network.EventLoadingFailed:
		m.done(e.RequestID)
	}
}

func (m *NetworkMonitor) done(id network.RequestID) {
	m.mu.Lock()
	delete(m.inflight, id)
	m.mu.Unlock()
}

// Active returns the number of requests in flight.
func (m *NetworkMonitor) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.inflight)
}

// WaitIdle blocks until no request has been in flight for quiet.
func (m *NetworkMonitor) WaitIdle(ctx context.Context, quiet time.Duration) error {
	timer := time.NewTimer(quiet)
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	defer timer.Stop()

	ticker := time.NewTicker(networkIdleCheckFrequency)
	defer ticker.Stop()

	idle := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if m.Active() > 0 {
				if idle {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					idle = false
				}
				continue
			}
			if !idle {
				timer.Reset(quiet)
				idle = true
			}
		case <-timer.C:
			return nil
		}
	}
}
