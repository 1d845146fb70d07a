package durable

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf16"

	"github.com/dustin/go-humanize"
)

// SizeEncoding selects how the fallback usage measurement counts bytes.
type SizeEncoding string

const (
	// SizeUTF16 counts two bytes per UTF-16 code unit, which is how browser
	// key/value storage charges quota.
	SizeUTF16 SizeEncoding = "utf16"
	// SizeUTF8 counts the encoded byte length.
	SizeUTF8 SizeEncoding = "utf8"
)

// DefaultFallbackQuota is assumed when the backend cannot report its own
// capacity (5 MiB, the common browser key/value allowance).
const DefaultFallbackQuota int64 = 5 * 1024 * 1024

// StoreOptions configures thresholds and cleanup for a Store.
type StoreOptions struct {
	WarningThreshold   float64
	CriticalThreshold  float64
	FallbackQuota      int64
	SizeEncoding       SizeEncoding
	DisposablePatterns []string
}

// DefaultStoreOptions returns the standard thresholds: warn at 80%, critical
// at 95%.
func DefaultStoreOptions() StoreOptions {
	return StoreOptions{
		WarningThreshold:   0.80,
		CriticalThreshold:  0.95,
		FallbackQuota:      DefaultFallbackQuota,
		SizeEncoding:       SizeUTF16,
		DisposablePatterns: DefaultDisposablePatterns,
	}
}

func (o StoreOptions) withDefaults() StoreOptions {
	d := DefaultStoreOptions()
	if o.WarningThreshold <= 0 {
		o.WarningThreshold = d.WarningThreshold
	}
	if o.CriticalThreshold <= 0 {
		o.CriticalThreshold = d.CriticalThreshold
	}
	if o.FallbackQuota <= 0 {
		o.FallbackQuota = d.FallbackQuota
	}
	if o.SizeEncoding == "" {
		o.SizeEncoding = d.SizeEncoding
	}
	if o.DisposablePatterns == nil {
		o.DisposablePatterns = d.DisposablePatterns
	}
	return o
}

// QuotaInfo is a point-in-time view of storage capacity. It is derived on
// every query and never persisted.
type QuotaInfo struct {
	Quota       int64   `json:"quota"`
	Usage       int64   `json:"usage"`
	Available   int64   `json:"available"`
	PercentUsed float64 `json:"percentUsed"`
}

func newQuotaInfo(quota, usage int64) QuotaInfo {
	info := QuotaInfo{Quota: quota, Usage: usage}
	info.Available = max(0, quota-usage)
	if quota > 0 {
		info.PercentUsed = min(1, float64(usage)/float64(quota))
	} else if usage > 0 {
		info.PercentUsed = 1
	}
	return info
}

// QuotaLevel buckets PercentUsed against the configured thresholds.
type QuotaLevel string

const (
	QuotaNormal   QuotaLevel = "normal"
	QuotaWarning  QuotaLevel = "warning"
	QuotaCritical QuotaLevel = "critical"
)

// QuotaUpdate is delivered to OnQuotaUpdate subscribers.
type QuotaUpdate struct {
	Info  QuotaInfo
	Level QuotaLevel
}

// Result is the outcome of a single Store operation. Err is nil on success.
// For reads, Found distinguishes a missing key from an empty value.
type Result struct {
	Data  string
	Found bool
	Err   *StorageError
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool { return r.Err == nil }

// CleanupReport describes what EmergencyCleanup removed.
type CleanupReport struct {
	FreedBytes int64
	Actions    []string
}

// Store wraps a KV with quota introspection, error classification and
// emergency eviction. No method panics or returns a bare error: failures come
// back as typed results so callers never crash on a storage hiccup.
type Store struct {
	kv         KV
	opts       StoreOptions
	disposable *KeyMatcher
	logger     Logger
	metrics    Metrics

	quotaSubs subscribers[QuotaUpdate]
	errorSubs subscribers[*StorageError]

	// checks tracks in-flight asynchronous quota re-checks.
	checks sync.WaitGroup
}

// NewStore creates a Store over kv. A nil metrics falls back to NopMetrics.
func NewStore(kv KV, opts StoreOptions, logger Logger, metrics Metrics) *Store {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	opts = opts.withDefaults()
	return &Store{
		kv:         kv,
		opts:       opts,
		disposable: NewKeyMatcher(opts.DisposablePatterns),
		logger:     logger,
		metrics:    metrics,
	}
}

// SetItem writes value under key. On success it schedules a non-blocking
// quota re-check that notifies subscribers when usage is near the limit.
func (s *Store) SetItem(key, value string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: s.fail(classifyWriteError(fmt.Errorf("panic: %v", r)), "set", key)}
		}
	}()

	if err := s.kv.Set(key, value); err != nil {
		return Result{Err: s.fail(classifyWriteError(err), "set", key)}
	}

	s.checks.Add(1)
	go func() {
		defer s.checks.Done()
		s.recheckQuota(context.Background())
	}()
	return Result{}
}

// GetItem reads key. Any store-level failure is classified as corruption.
func (s *Store) GetItem(key string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: s.fail(classifyReadError(fmt.Errorf("panic: %v", r)), "get", key)}
		}
	}()

	value, found, err := s.kv.Get(key)
	if err != nil {
		return Result{Err: s.fail(classifyReadError(err), "get", key)}
	}
	return Result{Data: value, Found: found}
}

// RemoveItem deletes key. Removing a missing key succeeds.
func (s *Store) RemoveItem(key string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: s.fail(classifyWriteError(fmt.Errorf("panic: %v", r)), "remove", key)}
		}
	}()

	if err := s.kv.Remove(key); err != nil {
		return Result{Err: s.fail(classifyWriteError(err), "remove", key)}
	}
	return Result{}
}

// Keys returns every stored key with the given prefix. Failures are logged and
// yield an empty list.
func (s *Store) Keys(prefix string) (keys []string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("listing keys panicked", "prefix", prefix, "panic", fmt.Sprint(r))
			keys = nil
		}
	}()

	all, err := s.kv.Keys()
	if err != nil {
		s.fail(classifyReadError(err), "keys", prefix)
		return nil
	}
	for _, k := range all {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}

// QuotaInfo reports current capacity. The backend's Estimator is preferred;
// otherwise usage is measured by summing every key and value.
func (s *Store) QuotaInfo(ctx context.Context) QuotaInfo {
	if est, ok := s.kv.(Estimator); ok {
		e, err := est.Estimate(ctx)
		if err == nil && e.Quota > 0 {
			return newQuotaInfo(e.Quota, e.Usage)
		}
		if err != nil {
			s.logger.Debug("storage estimate unavailable, measuring", "error", err)
		}
	}
	return newQuotaInfo(s.opts.FallbackQuota, s.measureUsage())
}

// NeedsMaintenance reports whether usage has reached the warning threshold.
func (s *Store) NeedsMaintenance(ctx context.Context) bool {
	return s.QuotaInfo(ctx).PercentUsed >= s.opts.WarningThreshold
}

// Level buckets info against the configured thresholds.
func (s *Store) Level(info QuotaInfo) QuotaLevel {
	switch {
	case info.PercentUsed >= s.opts.CriticalThreshold:
		return QuotaCritical
	case info.PercentUsed >= s.opts.WarningThreshold:
		return QuotaWarning
	default:
		return QuotaNormal
	}
}

// EmergencyCleanup deletes every key in a disposable namespace and reports
// the bytes freed. It never fails: internal errors become a logged action.
func (s *Store) EmergencyCleanup() (report CleanupReport) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("emergency cleanup panicked", "panic", fmt.Sprint(r))
			report = CleanupReport{Actions: []string{fmt.Sprintf("Emergency cleanup failed: %v", r)}}
		}
	}()

	keys, err := s.kv.Keys()
	if err != nil {
		s.logger.Error("emergency cleanup could not list keys", "error", err)
		return CleanupReport{Actions: []string{fmt.Sprintf("Emergency cleanup failed: %v", err)}}
	}

	removed := 0
	for _, key := range keys {
		if !s.disposable.Match(key) {
			continue
		}
		value, _, err := s.kv.Get(key)
		if err != nil {
			report.Actions = append(report.Actions, fmt.Sprintf("Skipped unreadable %s", key))
			continue
		}
		if err := s.kv.Remove(key); err != nil {
			report.Actions = append(report.Actions, fmt.Sprintf("Failed to remove %s: %v", key, err))
			continue
		}
		size := s.sizeOf(key) + s.sizeOf(value)
		report.FreedBytes += size
		removed++
		report.Actions = append(report.Actions, fmt.Sprintf("Removed %s (%s)", key, humanize.Bytes(uint64(size))))
	}

	if removed == 0 {
		report.Actions = append(report.Actions, "No disposable data found")
	} else {
		report.Actions = append(report.Actions, fmt.Sprintf("Freed %s from %d disposable entries",
			humanize.Bytes(uint64(report.FreedBytes)), removed))
	}
	s.logger.Info("emergency cleanup finished", "removed", removed, "freed_bytes", report.FreedBytes)
	return report
}

// OnQuotaUpdate registers cb for near-limit notifications. The returned
// function unsubscribes and is safe to call more than once.
func (s *Store) OnQuotaUpdate(cb func(QuotaUpdate)) (unsubscribe func()) {
	return s.quotaSubs.add(cb)
}

// OnStorageError registers cb for every classified failure.
func (s *Store) OnStorageError(cb func(*StorageError)) (unsubscribe func()) {
	return s.errorSubs.add(cb)
}

// Wait blocks until in-flight quota re-checks finish.
func (s *Store) Wait() {
	s.checks.Wait()
}

// Backend returns the wrapped KV.
func (s *Store) Backend() KV {
	return s.kv
}

func (s *Store) recheckQuota(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("quota re-check panicked", "panic", fmt.Sprint(r))
		}
	}()

	info := s.QuotaInfo(ctx)
	s.metrics.ObserveQuota(info)
	level := s.Level(info)
	if level == QuotaNormal {
		return
	}
	s.logger.Warn("storage nearly full", "level", string(level), "percent_used", info.PercentUsed)
	s.quotaSubs.notify(QuotaUpdate{Info: info, Level: level}, s.logger, "quota")
}

func (s *Store) fail(serr *StorageError, op, key string) *StorageError {
	s.logger.Warn("storage operation failed", "op", op, "key", key, "kind", string(serr.Kind), "error", serr.Message)
	s.metrics.StorageError(serr.Kind)
	s.errorSubs.notify(serr, s.logger, "storage_error")
	return serr
}

func (s *Store) measureUsage() int64 {
	keys, err := s.kv.Keys()
	if err != nil {
		s.logger.Warn("measuring usage failed", "error", err)
		return 0
	}
	var total int64
	for _, key := range keys {
		value, _, err := s.kv.Get(key)
		if err != nil {
			continue
		}
		total += s.sizeOf(key) + s.sizeOf(value)
	}
	return total
}

func (s *Store) sizeOf(v string) int64 {
	return SizeOf(v, s.opts.SizeEncoding)
}

// SizeOf returns the number of bytes v occupies under enc.
func SizeOf(v string, enc SizeEncoding) int64 {
	if enc == SizeUTF8 {
		return int64(len(v))
	}
	return int64(len(utf16.Encode([]rune(v))) * 2)
}
