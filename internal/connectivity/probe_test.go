package connectivity_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkwell/internal/config"
	"inkwell/internal/connectivity"
)

// switchDialer fails or succeeds depending on up.
type switchDialer struct {
	mu sync.Mutex
	up bool
}

func (d *switchDialer) set(up bool) {
	d.mu.Lock()
	d.up = up
	d.mu.Unlock()
}

func (d *switchDialer) dial(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.up {
		return nil, errors.New("connection refused")
	}
	client, server := net.Pipe()
	server.Close()
	return client, nil
}

func TestProbe_NotifiesOnTransitionsOnly(t *testing.T) {
	d := &switchDialer{up: true}
	p := connectivity.NewProbe("example:443", time.Second, time.Second, d.dial, nil)

	var got []bool
	p.Subscribe(func(online bool) { got = append(got, online) })

	ctx := context.Background()
	assert.True(t, p.Check(ctx))
	assert.True(t, p.Check(ctx))
	d.set(false)
	assert.False(t, p.Check(ctx))
	assert.False(t, p.Check(ctx))
	d.set(true)
	p.Check(ctx)

	assert.Equal(t, []bool{true, false, true}, got)
}

func TestProbe_Unsubscribe(t *testing.T) {
	d := &switchDialer{up: true}
	p := connectivity.NewProbe("example:443", time.Second, time.Second, d.dial, nil)

	calls := 0
	unsub := p.Subscribe(func(bool) { calls++ })
	unsub()
	unsub()

	p.Check(context.Background())
	assert.Equal(t, 0, calls)
}

func TestProbe_RealListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	p := connectivity.NewProbe(ln.Addr().String(), time.Second, time.Second, nil, nil)
	assert.True(t, p.Check(context.Background()))

	ln.Close()
	assert.False(t, p.Check(context.Background()))
}

func TestProbe_RunStopsWithContext(t *testing.T) {
	d := &switchDialer{up: true}
	p := connectivity.NewProbe("example:443", 10*time.Millisecond, time.Second, d.dial, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewProbeFromConfig(t *testing.T) {
	p, err := connectivity.NewProbeFromConfig(config.ConnectivityConfig{}, nil)
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = connectivity.NewProbeFromConfig(config.ConnectivityConfig{
		ProbeAddress: "example:443", ProbeInterval: "30s", ProbeTimeout: "3s",
	}, nil)
	require.NoError(t, err)
	assert.NotNil(t, p)

	_, err = connectivity.NewProbeFromConfig(config.ConnectivityConfig{
		ProbeAddress: "example:443", ProbeInterval: "often", ProbeTimeout: "3s",
	}, nil)
	assert.Error(t, err)
}

func TestNewProbeFromConfig_RejectsZeroDurations(t *testing.T) {
	tests := []struct {
		name     string
		interval string
		timeout  string
		wantErr  string
	}{
		{"zero interval", "0s", "3s", "probe_interval"},
		{"zero timeout", "30s", "0", "probe_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := connectivity.NewProbeFromConfig(config.ConnectivityConfig{
				ProbeAddress: "example:443", ProbeInterval: tt.interval, ProbeTimeout: tt.timeout,
			}, nil)
			require.Error(t, err)
			assert.Nil(t, p)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
