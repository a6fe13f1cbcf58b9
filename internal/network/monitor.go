// Package network tracks connectivity for the sync engine: a single
// source of truth for "can we currently reach the network," with
// subscribe/publish on transitions and active reachability probing.
package network

import (
	"context"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/fieldops/fieldsync/internal/errors"
	"github.com/fieldops/fieldsync/internal/logging"
)

// Quality is a coarse classification of link quality from probe latency.
type Quality string

const (
	QualityOffline   Quality = "offline"
	QualityPoor      Quality = "poor"
	QualityFair      Quality = "fair"
	QualityGood      Quality = "good"
	QualityExcellent Quality = "excellent"
)

// Subscriber is invoked with the new state on every transition.
type Subscriber func(online bool)

// Config configures the Monitor.
type Config struct {
	BaseURL       string        // probed endpoint; reachability means "server answered", not "healthy"
	ProbeInterval time.Duration // how often the background loop probes (default 30s)
	ProbeTimeout  time.Duration // per-probe bound (default 5s)
}

// Monitor is an explicit service object owned by the composition root.
// It holds no package-level state; inject it wherever connectivity is
// consulted.
type Monitor struct {
	baseURL       string
	probeInterval time.Duration
	probeTimeout  time.Duration
	client        *http.Client

	mu     sync.Mutex
	online bool
	subs   map[int]Subscriber
	nextID int

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewMonitor creates a Monitor. Initial state is offline until the first
// probe (or SetOnline call) says otherwise.
func NewMonitor(cfg Config) *Monitor {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	return &Monitor{
		baseURL:       cfg.BaseURL,
		probeInterval: cfg.ProbeInterval,
		probeTimeout:  cfg.ProbeTimeout,
		client:        &http.Client{},
		subs:          make(map[int]Subscriber),
		stopCh:        make(chan struct{}),
	}
}

// Start launches the background probe loop. The first probe runs
// immediately so startup state settles fast.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go m.probeLoop(ctx)

	logging.Info("network monitor started", logging.Fields{"probe_interval": m.probeInterval.String()})
}

// Stop halts probing. Subscribers remain registered but receive no
// further notifications until Start is called again.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	logging.Info("network monitor stopped", nil)
}

func (m *Monitor) probeLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()

	m.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	if m.baseURL == "" {
		return
	}
	m.SetOnline(m.CheckReachability(ctx, m.baseURL))
}

// IsOnline returns the current cached state. It is set from transition
// events, not probed per call.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline injects a state transition, for hosts that have their own
// connectivity signal. Transitions fan out synchronously to every
// subscriber; no-op when the state is unchanged.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	// Snapshot so a subscriber may unsubscribe from inside its callback.
	subs := make([]Subscriber, 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	logging.Info("connectivity transition", logging.Fields{"online": online})
	for _, fn := range subs {
		notify(fn, online)
	}
}

// notify isolates subscriber panics so one bad callback cannot prevent
// the rest from being told.
func notify(fn Subscriber, online bool) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warn("network subscriber panicked", logging.Fields{"panic": r})
		}
	}()
	fn(online)
}

// Subscribe registers a callback for transitions and returns its
// unsubscribe function. Unsubscribing twice is harmless.
func (m *Monitor) Subscribe(fn Subscriber) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// SubscriberCount reports the number of registered subscribers.
func (m *Monitor) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// CheckReachability issues a bounded lightweight request against baseURL.
// Any HTTP response counts as reachable, including an authentication
// rejection: the server is up even if the caller isn't authorized. A
// transport error or timeout is unreachable. Never returns an error.
func (m *Monitor) CheckReachability(ctx context.Context, baseURL string) bool {
	reqCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, baseURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// WaitForOnline blocks until the state becomes online or the timeout
// elapses. Resolves immediately if already online. The temporary
// subscription is released on every exit path.
func (m *Monitor) WaitForOnline(ctx context.Context, timeout time.Duration) error {
	if m.IsOnline() {
		return nil
	}

	onlineCh := make(chan struct{}, 1)
	unsubscribe := m.Subscribe(func(online bool) {
		if online {
			select {
			case onlineCh <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-onlineCh:
		return nil
	case <-timer.C:
		return apperrors.New(apperrors.ErrTimeout, "still offline after "+timeout.String())
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MeasureQuality classifies link quality from the round-trip latency of a
// cheap probe, bounded by timeout. Probe failures classify as poor (or
// offline when the monitor already knows the device is offline); they are
// never surfaced as errors.
func (m *Monitor) MeasureQuality(ctx context.Context, timeout time.Duration) Quality {
	if m.baseURL == "" || !m.IsOnline() {
		return QualityOffline
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, m.baseURL, nil)
	if err != nil {
		return QualityPoor
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return QualityPoor
	}
	resp.Body.Close()

	return classifyLatency(time.Since(start))
}

func classifyLatency(rtt time.Duration) Quality {
	switch {
	case rtt < 100*time.Millisecond:
		return QualityExcellent
	case rtt < 300*time.Millisecond:
		return QualityGood
	case rtt < 800*time.Millisecond:
		return QualityFair
	default:
		return QualityPoor
	}
}
