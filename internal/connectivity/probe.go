// Package connectivity turns periodic reachability checks into the online and
// offline signals the durable monitor consumes.
package connectivity

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"inkwell/internal/config"
	"inkwell/internal/durable"
)

// DialFunc opens a connection. net.Dialer.DialContext satisfies it.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Probe dials a TCP address on an interval and notifies subscribers when
// reachability changes. The first completed check always notifies.
type Probe struct {
	address  string
	interval time.Duration
	timeout  time.Duration
	dial     DialFunc
	logger   durable.Logger

	mu       sync.Mutex
	handlers map[int]func(online bool)
	nextID   int
	known    bool
	online   bool
}

var _ durable.SignalSource = (*Probe)(nil)

// NewProbe creates a probe for address. A nil dial uses a net.Dialer.
func NewProbe(address string, interval, timeout time.Duration, dial DialFunc, logger durable.Logger) *Probe {
	if dial == nil {
		d := &net.Dialer{}
		dial = d.DialContext
	}
	if logger == nil {
		logger = durable.NewNopLogger()
	}
	return &Probe{
		address:  address,
		interval: interval,
		timeout:  timeout,
		dial:     dial,
		logger:   logger,
		handlers: make(map[int]func(bool)),
	}
}

// NewProbeFromConfig returns nil when no probe address is configured.
func NewProbeFromConfig(cfg config.ConnectivityConfig, logger durable.Logger) (*Probe, error) {
	if cfg.ProbeAddress == "" {
		return nil, nil
	}
	interval, err := config.ParseDuration("connectivity.probe_interval", cfg.ProbeInterval)
	if err != nil {
		return nil, err
	}
	if interval == 0 {
		return nil, fmt.Errorf("invalid connectivity.probe_interval %q: must be positive", cfg.ProbeInterval)
	}
	timeout, err := config.ParseDuration("connectivity.probe_timeout", cfg.ProbeTimeout)
	if err != nil {
		return nil, err
	}
	if timeout == 0 {
		return nil, fmt.Errorf("invalid connectivity.probe_timeout %q: must be positive", cfg.ProbeTimeout)
	}
	return NewProbe(cfg.ProbeAddress, interval, timeout, nil, logger), nil
}

// Subscribe registers handler. The returned function is idempotent.
func (p *Probe) Subscribe(handler func(online bool)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.handlers[id] = handler
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.handlers, id)
			p.mu.Unlock()
		})
	}
}

// Check dials once and publishes the result if it differs from the last one.
func (p *Probe) Check(ctx context.Context) bool {
	dctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	online := true
	conn, err := p.dial(dctx, "tcp", p.address)
	if err != nil {
		p.logger.Debug("probe failed", "address", p.address, "error", err)
		online = false
	} else {
		conn.Close()
	}

	p.mu.Lock()
	changed := !p.known || p.online != online
	p.known = true
	p.online = online
	handlers := make([]func(bool), 0, len(p.handlers))
	for _, h := range p.handlers {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()

	if changed {
		p.logger.Info("connectivity changed", "address", p.address, "online", online)
		for _, h := range handlers {
			h(online)
		}
	}
	return online
}

// Run checks immediately and then every interval until ctx is done.
func (p *Probe) Run(ctx context.Context) {
	p.Check(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}
