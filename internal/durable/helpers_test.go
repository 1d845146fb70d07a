package durable_test

import (
	"testing"
	"time"

	"inkwell/internal/durable"
	"inkwell/internal/kv"
	"inkwell/internal/testutil"
)

// harness wires a full persistence stack over an in-memory KV with a manual
// scheduler, so nothing runs in the background unless a test fires it.
type harness struct {
	mem       *kv.MemoryKV
	kv        *testutil.FlakyKV
	store     *durable.Store
	clock     *testutil.StubClock
	sched     *testutil.ManualScheduler
	logger    *testutil.RecordingLogger
	monitor   *durable.Monitor
	snapshots *durable.SnapshotEngine
	orch      *durable.Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, durable.DefaultStoreOptions())
}

func newHarnessWith(t *testing.T, storeOpts durable.StoreOptions) *harness {
	t.Helper()
	h := &harness{
		mem:    testutil.NewTestKV(t, 0),
		clock:  testutil.NewStubClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		sched:  testutil.NewManualScheduler(),
		logger: testutil.NewRecordingLogger(),
	}
	h.kv = testutil.NewFlakyKV(h.mem)
	h.store = durable.NewStore(h.kv, storeOpts, h.logger, nil)

	monOpts := durable.DefaultMonitorOptions()
	monOpts.ItemDelay = 0
	h.monitor = durable.NewMonitor(h.store, nil, monOpts, h.clock, h.sched, testutil.NewStubIDGenerator(), h.logger, nil)
	h.snapshots = durable.NewSnapshotEngine(h.store, nil, durable.DefaultSnapshotEngineOptions(), h.clock, h.sched, h.logger, nil)
	h.orch = durable.NewOrchestrator(h.store, h.monitor, h.snapshots, h.clock, h.logger, nil)

	t.Cleanup(func() {
		h.orch.Close()
		h.monitor.Stop()
		h.store.Wait()
	})
	return h
}

func (h *harness) recovery(remote durable.RemoteSync) *durable.RecoverySequencer {
	return durable.NewRecoverySequencer(h.orch, h.store, remote, nil, h.clock, h.logger, nil)
}

// rawGet reads straight from the backing KV, bypassing failure injection.
func (h *harness) rawGet(t *testing.T, key string) (string, bool) {
	t.Helper()
	v, found, err := h.mem.Get(key)
	if err != nil {
		t.Fatalf("Get(%q) error = %v", key, err)
	}
	return v, found
}

// setAttemptsFor filters recorded Set calls down to keys with prefix.
func setAttemptsFor(f *testutil.FlakyKV, prefix string) []string {
	var out []string
	for _, k := range f.SetAttempts() {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, k)
		}
	}
	return out
}
