package durable

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SignalSource delivers platform connectivity transitions.
// Subscribe returns a function that detaches the handler; it must be safe to
// call more than once.
type SignalSource interface {
	Subscribe(handler func(online bool)) (unsubscribe func())
}

// ConnectivityStatus is recomputed on demand and broadcast to subscribers on
// every transition or queue change.
type ConnectivityStatus struct {
	IsOnline       bool       `json:"isOnline"`
	LastOnline     *time.Time `json:"lastOnline"`
	LastOffline    *time.Time `json:"lastOffline"`
	QueuedWrites   int        `json:"queuedWrites"`
	ConnectionType string     `json:"connectionType,omitempty"`
}

// MonitorOptions configures retry and timing behaviour.
type MonitorOptions struct {
	MaxRetries      int
	Backoff         BackoffPolicy
	ItemDelay       time.Duration
	SettleDelay     time.Duration
	InitiallyOnline bool
	ConnectionType  string
}

// DefaultMonitorOptions returns the standard policy: 3 retries, 5s backoff
// base, 100ms between items, 1s settle after reconnect, start online.
func DefaultMonitorOptions() MonitorOptions {
	return MonitorOptions{
		MaxRetries:      DefaultMaxRetries,
		Backoff:         DefaultBackoffPolicy(),
		ItemDelay:       100 * time.Millisecond,
		SettleDelay:     time.Second,
		InitiallyOnline: true,
	}
}

// Monitor tracks online/offline state and owns the offline write queue.
// The internal online flag is authoritative; platform signals only move it
// through HandleOnline and HandleOffline.
type Monitor struct {
	store   *Store
	source  SignalSource
	clock   Clock
	sched   Scheduler
	idgen   IDGenerator
	logger  Logger
	metrics Metrics
	opts    MonitorOptions

	mu          sync.Mutex
	online      bool
	lastOnline  *time.Time
	lastOffline *time.Time
	queue       []QueuedWrite
	processing  bool
	drainTimer  Timer
	drainAt     time.Time
	started     bool
	stopped     bool
	detach      func()
	ctx         context.Context
	cancel      context.CancelFunc

	subs   subscribers[ConnectivityStatus]
	drains sync.WaitGroup
}

// NewMonitor creates a Monitor. source may be nil when transitions are driven
// only through HandleOnline/HandleOffline.
func NewMonitor(store *Store, source SignalSource, opts MonitorOptions, clock Clock, sched Scheduler, idgen IDGenerator, logger Logger, metrics Metrics) *Monitor {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Backoff.BaseDelay <= 0 {
		opts.Backoff = DefaultBackoffPolicy()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		store:   store,
		source:  source,
		clock:   clock,
		sched:   sched,
		idgen:   idgen,
		logger:  logger,
		metrics: metrics,
		opts:    opts,
		online:  opts.InitiallyOnline,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start loads the persisted queue, attaches to the signal source, and
// schedules a drain if writes are waiting and the monitor is online.
// Calling Start twice is a no-op.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	res := m.store.GetItem(QueueKey)
	var loaded []QueuedWrite
	switch {
	case !res.OK():
		m.logger.Warn("could not read persisted queue, starting empty", "error", res.Err.Message)
	case res.Found:
		q, err := decodeQueue(res.Data)
		if err != nil {
			m.logger.Warn("persisted queue is corrupt, starting empty", "error", err)
		} else {
			loaded = q
		}
	}

	m.mu.Lock()
	m.queue = append(loaded, m.queue...)
	sortQueue(m.queue)
	pending := len(m.queue)
	online := m.online
	m.mu.Unlock()

	if m.source != nil {
		detach := m.source.Subscribe(func(online bool) {
			if online {
				m.HandleOnline()
			} else {
				m.HandleOffline()
			}
		})
		m.mu.Lock()
		m.detach = detach
		m.mu.Unlock()
	}

	m.metrics.QueueDepth(pending)
	m.logger.Info("connectivity monitor started", "online", online, "queued", pending)
	if online && pending > 0 {
		m.scheduleDrain(0)
	}
	return nil
}

// Stop detaches from the signal source, cancels pending timers, and waits for
// an in-flight drain to finish. It is safe to call more than once.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	detach := m.detach
	m.detach = nil
	if m.drainTimer != nil {
		m.drainTimer.Stop()
		m.drainTimer = nil
	}
	m.mu.Unlock()

	if detach != nil {
		detach()
	}
	m.cancel()
	m.drains.Wait()
	m.logger.Info("connectivity monitor stopped")
}

// HandleOnline records an online transition, notifies subscribers, and
// schedules a drain after the settle delay. It is a no-op when already online.
func (m *Monitor) HandleOnline() {
	m.mu.Lock()
	if m.online {
		m.mu.Unlock()
		return
	}
	now := m.clock.Now()
	m.online = true
	m.lastOnline = &now
	m.mu.Unlock()

	m.logger.Info("connection restored")
	m.notify()
	m.scheduleDrain(m.opts.SettleDelay)
}

// HandleOffline records an offline transition and notifies subscribers.
func (m *Monitor) HandleOffline() {
	m.mu.Lock()
	if !m.online {
		m.mu.Unlock()
		return
	}
	now := m.clock.Now()
	m.online = false
	m.lastOffline = &now
	m.mu.Unlock()

	m.logger.Info("connection lost, writes will be queued")
	m.notify()
}

// IsOnline reports the authoritative connectivity flag.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Status returns the current connectivity status.
func (m *Monitor) Status() ConnectivityStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Monitor) statusLocked() ConnectivityStatus {
	return ConnectivityStatus{
		IsOnline:       m.online,
		LastOnline:     m.lastOnline,
		LastOffline:    m.lastOffline,
		QueuedWrites:   len(m.queue),
		ConnectionType: m.opts.ConnectionType,
	}
}

// Subscribe registers cb for status changes.
func (m *Monitor) Subscribe(cb func(ConnectivityStatus)) (unsubscribe func()) {
	return m.subs.add(cb)
}

// QueuedWrites returns a copy of the queue in FIFO order.
func (m *Monitor) QueuedWrites() []QueuedWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]QueuedWrite(nil), m.queue...)
}

// QueueWrite appends a write to the queue, persists it, and schedules an
// immediate drain when online.
func (m *Monitor) QueueWrite(op WriteOperation, key string, data *string) QueuedWrite {
	w := QueuedWrite{
		ID:        m.idgen.New(),
		Timestamp: m.clock.Now(),
		Operation: op,
		Key:       key,
		Data:      data,
	}

	m.mu.Lock()
	m.queue = append(m.queue, w)
	depth := len(m.queue)
	online := m.online
	m.mu.Unlock()

	m.logger.Debug("write queued", "op", string(op), "key", key, "depth", depth)
	m.persist()
	m.metrics.QueueDepth(depth)
	m.notify()

	if online {
		m.scheduleDrain(0)
	}
	return w
}

// ClearQueue discards every queued write and returns how many were dropped.
func (m *Monitor) ClearQueue() int {
	m.mu.Lock()
	n := len(m.queue)
	m.queue = nil
	m.mu.Unlock()

	m.persist()
	m.metrics.QueueDepth(0)
	m.notify()
	m.logger.Warn("write queue cleared", "dropped", n)
	return n
}

// ProcessQueue runs one FIFO pass over the queue. At most one pass runs at a
// time; a call that arrives during a pass returns immediately with Skipped
// set, and anything queued meanwhile is picked up by the next pass.
func (m *Monitor) ProcessQueue(ctx context.Context) DrainReport {
	m.mu.Lock()
	if m.processing || !m.online {
		report := DrainReport{Skipped: true, Remaining: len(m.queue)}
		m.mu.Unlock()
		return report
	}
	m.processing = true
	pending := append([]QueuedWrite(nil), m.queue...)
	m.mu.Unlock()

	sortQueue(pending)

	var report DrainReport
	done := make(map[string]bool)
	retries := make(map[string]int)

	for i, item := range pending {
		if ctx.Err() != nil || !m.IsOnline() {
			break
		}
		report.Attempted++

		if m.execute(item) {
			done[item.ID] = true
			report.Succeeded++
		} else {
			item.RetryCount++
			if item.RetryCount >= m.opts.MaxRetries {
				done[item.ID] = true
				report.Dropped++
				m.logger.Error("dropping queued write after max retries",
					"id", item.ID, "op", string(item.Operation), "key", item.Key, "retries", item.RetryCount)
			} else {
				retries[item.ID] = item.RetryCount
			}
		}

		if i < len(pending)-1 && m.opts.ItemDelay > 0 {
			if err := sleepContext(ctx, m.opts.ItemDelay); err != nil {
				break
			}
		}
	}

	m.mu.Lock()
	remaining := m.queue[:0:0]
	for _, w := range m.queue {
		if done[w.ID] {
			continue
		}
		if n, ok := retries[w.ID]; ok {
			w.RetryCount = n
		}
		remaining = append(remaining, w)
	}
	m.queue = remaining
	report.Remaining = len(remaining)
	var next time.Duration
	if len(remaining) > 0 {
		next = m.opts.Backoff.Delay(remaining[0].RetryCount)
	}
	m.processing = false
	m.mu.Unlock()

	m.persist()
	m.metrics.QueueDepth(report.Remaining)
	m.metrics.QueueDrained(report.Succeeded, report.Dropped)
	m.notify()
	m.logger.Info("queue drain finished",
		"attempted", report.Attempted, "succeeded", report.Succeeded,
		"dropped", report.Dropped, "remaining", report.Remaining)

	if report.Remaining > 0 {
		m.scheduleDrain(next)
	}
	return report
}

// execute replays one queued write against the store.
func (m *Monitor) execute(w QueuedWrite) bool {
	switch w.Operation {
	case OpSave, OpUpdate:
		if w.Data == nil {
			m.logger.Warn("queued write has no data", "id", w.ID, "key", w.Key)
			return false
		}
		return m.store.SetItem(w.Key, *w.Data).OK()
	case OpDelete:
		return m.store.RemoveItem(w.Key).OK()
	default:
		m.logger.Warn("unknown queued operation", "id", w.ID, "op", string(w.Operation))
		return false
	}
}

// persist writes the whole queue under QueueKey. A failed write is logged;
// the in-memory queue stays authoritative until the next successful persist.
func (m *Monitor) persist() {
	m.mu.Lock()
	data, err := encodeQueue(m.queue)
	m.mu.Unlock()
	if err != nil {
		m.logger.Error("encoding queue failed", "error", err)
		return
	}
	if res := m.store.SetItem(QueueKey, data); !res.OK() {
		m.logger.Warn("persisting queue failed", "error", res.Err.Message)
	}
}

func (m *Monitor) notify() {
	m.subs.notify(m.Status(), m.logger, "connectivity")
}

// scheduleDrain arranges a ProcessQueue call after delay. If a drain is
// already scheduled to run no later than that, it is kept.
func (m *Monitor) scheduleDrain(delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	at := m.clock.Now().Add(delay)
	if m.drainTimer != nil {
		if !m.drainAt.After(at) {
			return
		}
		m.drainTimer.Stop()
	}

	var timer Timer
	timer = m.sched.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.drainTimer == timer {
			m.drainTimer = nil
		}
		if m.stopped {
			m.mu.Unlock()
			return
		}
		m.drains.Add(1)
		m.mu.Unlock()

		defer m.drains.Done()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("queue drain panicked", "panic", fmt.Sprint(r))
			}
		}()
		m.ProcessQueue(m.ctx)
	})
	m.drainTimer = timer
	m.drainAt = at
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
