package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"inkwell/internal/config"
	"inkwell/internal/connectivity"
	"inkwell/internal/durable"
	"inkwell/internal/encryption"
	"inkwell/internal/kv"
	"inkwell/internal/metrics"
	"inkwell/internal/remote"
)

// ErrNoRemote is returned by sync operations when no remote backend is
// configured.
var ErrNoRemote = errors.New("no remote configured")

// PassphraseFunc supplies the passphrase that unlocks the private key. It is
// only called when a remote pull needs to decrypt something.
type PassphraseFunc func() (string, error)

// InkwellApp is the application layer between the CLI and the durable
// persistence services. It constructs all dependencies from config, exposes
// high-level operations, and flushes and closes the backend on Close.
type InkwellApp struct {
	cfg       *config.Config
	kv        durable.KV
	store     *durable.Store
	monitor   *durable.Monitor
	snapshots *durable.SnapshotEngine
	orch      *durable.Orchestrator
	recovery  *durable.RecoverySequencer
	encryptor durable.Encryptor
	remote    *remote.Client
	probe     *connectivity.Probe
	metrics   *metrics.Collector
	clock     durable.Clock
	logger    durable.Logger
	op        *Operation
	logFile   *os.File
	cancel    context.CancelFunc
}

// NewInkwellApp creates a fully wired InkwellApp from the given config and
// starts the connectivity monitor. operation identifies the CLI command being
// run (e.g. "SaveProject", "Recover"). passphrase may be nil when the command
// never pulls from the remote. The caller must call Close when done.
func NewInkwellApp(ctx context.Context, cfg *config.Config, operation string, passphrase PassphraseFunc) (*InkwellApp, error) {
	clock := durable.RealClock{}
	op := NewOperation(operation, "", clock.Now())

	slogger, logFile, err := newLogger(cfg.LogDir, op.ID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	a, err := build(ctx, cfg, passphrase, clock, logger)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	a.op = op
	a.logFile = logFile

	logger.Info("operation started", "operation", op.Name, "storage", cfg.Storage.Type, "remote", cfg.Remote.Type)
	return a, nil
}

// build wires the services. It owns the KV until it returns successfully.
func build(ctx context.Context, cfg *config.Config, passphrase PassphraseFunc, clock durable.Clock, logger durable.Logger) (*InkwellApp, error) {
	collector, err := metrics.NewCollector()
	if err != nil {
		return nil, fmt.Errorf("creating metrics: %w", err)
	}

	monitorOpts, err := monitorOptions(cfg.Queue)
	if err != nil {
		return nil, err
	}
	snapshotOpts, err := snapshotOptions(cfg.Snapshots)
	if err != nil {
		return nil, err
	}
	hasher, err := durable.NewHasher(cfg.Snapshots.Checksum)
	if err != nil {
		return nil, fmt.Errorf("creating hasher: %w", err)
	}
	shadowMaxAge, err := config.ParseDuration("recovery.shadow_copy_max_age", cfg.Recovery.ShadowCopyMaxAge)
	if err != nil {
		return nil, err
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	probe, err := connectivity.NewProbeFromConfig(cfg.Connectivity, logger)
	if err != nil {
		return nil, fmt.Errorf("creating connectivity probe: %w", err)
	}

	backend, err := remote.NewBackendFromConfig(ctx, cfg.Remote)
	if err != nil {
		return nil, fmt.Errorf("creating remote backend: %w", err)
	}

	store, err := kv.NewKVFromConfig(cfg.Storage, cfg.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("creating storage: %w", err)
	}

	s := durable.NewStore(store, storeOptions(cfg.Storage), logger, collector)

	// A nil *Probe must not become a non-nil SignalSource.
	var source durable.SignalSource
	if probe != nil {
		source = probe
	}
	sched := durable.RealScheduler{}
	monitor := durable.NewMonitor(s, source, monitorOpts, clock, sched, durable.UUIDGenerator{}, logger, collector)
	snapshots := durable.NewSnapshotEngine(s, hasher, snapshotOpts, clock, sched, logger, collector)
	orch := durable.NewOrchestrator(s, monitor, snapshots, clock, logger, collector)

	a := &InkwellApp{
		cfg:       cfg,
		kv:        store,
		store:     s,
		monitor:   monitor,
		snapshots: snapshots,
		orch:      orch,
		encryptor: enc,
		probe:     probe,
		metrics:   collector,
		clock:     clock,
		logger:    logger,
	}

	var cloud durable.RemoteSync
	if backend != nil {
		a.remote = remote.NewClient(backend, enc, a.unlockFunc(passphrase), cfg.DeviceID, clock, logger)
		cloud = a.remote
	}
	a.recovery = durable.NewRecoverySequencer(orch, s, cloud, nil, clock, logger, collector)
	a.recovery.SetShadowCopyMaxAge(shadowMaxAge)

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	if err := monitor.Start(ctx); err != nil {
		cancel()
		closeKV(store)
		return nil, fmt.Errorf("starting connectivity monitor: %w", err)
	}
	if probe != nil {
		// Settle the initial state before any command decides between a
		// direct write and the queue.
		probe.Check(ctx)
		go probe.Run(runCtx)
	}
	return a, nil
}

func (a *InkwellApp) unlockFunc(passphrase PassphraseFunc) remote.UnlockFunc {
	if passphrase == nil {
		return nil
	}
	return func() (durable.DecryptionContext, error) {
		p, err := passphrase()
		if err != nil {
			return nil, fmt.Errorf("reading passphrase: %w", err)
		}
		return a.encryptor.Unlock(p)
	}
}

func storeOptions(cfg config.StorageConfig) durable.StoreOptions {
	opts := durable.DefaultStoreOptions()
	opts.WarningThreshold = cfg.WarningThreshold
	opts.CriticalThreshold = cfg.CriticalThreshold
	opts.SizeEncoding = durable.SizeEncoding(cfg.SizeEncoding)
	if cfg.QuotaBytes > 0 {
		opts.FallbackQuota = cfg.QuotaBytes
	}
	if len(cfg.Disposable) > 0 {
		opts.DisposablePatterns = cfg.Disposable
	}
	return opts
}

func monitorOptions(cfg config.QueueConfig) (durable.MonitorOptions, error) {
	opts := durable.DefaultMonitorOptions()
	base, err := config.ParseDuration("queue.base_delay", cfg.BaseDelay)
	if err != nil {
		return opts, err
	}
	item, err := config.ParseDuration("queue.item_delay", cfg.ItemDelay)
	if err != nil {
		return opts, err
	}
	settle, err := config.ParseDuration("queue.settle_delay", cfg.SettleDelay)
	if err != nil {
		return opts, err
	}
	opts.MaxRetries = cfg.MaxRetries
	opts.Backoff = durable.BackoffPolicy{BaseDelay: base, MaxMultiplier: cfg.MaxMultiplier}
	opts.ItemDelay = item
	opts.SettleDelay = settle
	opts.ConnectionType = "tcp"
	return opts, nil
}

func snapshotOptions(cfg config.SnapshotConfig) (durable.SnapshotEngineOptions, error) {
	opts := durable.DefaultSnapshotEngineOptions()
	interval, err := config.ParseDuration("snapshots.auto_interval", cfg.AutoInterval)
	if err != nil {
		return opts, err
	}
	opts.MaxAutomatic = cfg.MaxAutomatic
	opts.KeepLatest = cfg.KeepLatest
	opts.AutoInterval = interval
	return opts, nil
}

// SaveProject merges the given fields into the stored project (if any) and
// saves it through the orchestrator. Fields the caller leaves empty keep
// their stored values.
func (a *InkwellApp) SaveProject(ctx context.Context, id, title string, content io.Reader) (durable.SaveResult, error) {
	a.op.Parameters = id
	project := durable.Project{ID: id}
	existing, err := a.orch.LoadProject(id)
	switch {
	case err == nil:
		project = existing
	case !errors.Is(err, durable.ErrProjectNotFound):
		a.logger.Warn("overwriting unreadable project", "project", id, "error", err)
	}
	if title != "" {
		project.Title = title
	}
	if content != nil {
		data, err := io.ReadAll(content)
		if err != nil {
			return durable.SaveResult{}, fmt.Errorf("reading content: %w", err)
		}
		project.Content = string(data)
	}
	res := a.orch.SaveProjectSafe(ctx, project)
	a.recordResult(res)
	return res, nil
}

// LoadProject returns the stored project.
func (a *InkwellApp) LoadProject(id string) (durable.Project, error) {
	return a.orch.LoadProject(id)
}

// ListProjects returns every project, most recently updated first.
func (a *InkwellApp) ListProjects() []durable.Project {
	return a.orch.ListProjects()
}

// DeleteProject takes a backup snapshot and deletes the project, or queues
// the delete when offline.
func (a *InkwellApp) DeleteProject(ctx context.Context, id string) durable.SaveResult {
	a.op.Parameters = id
	res := a.orch.DeleteProjectSafe(ctx, id)
	a.recordResult(res)
	return res
}

// SaveChapter stores a chapter of an existing project.
func (a *InkwellApp) SaveChapter(ctx context.Context, c durable.Chapter) error {
	return a.trackErr(a.orch.SaveChapter(ctx, c))
}

// LoadChapters returns the chapters of a project in order.
func (a *InkwellApp) LoadChapters(projectID string) []durable.Chapter {
	return a.orch.LoadChapters(projectID)
}

// QueuedWrites returns the pending offline writes in FIFO order.
func (a *InkwellApp) QueuedWrites() []durable.QueuedWrite {
	return a.monitor.QueuedWrites()
}

// ClearQueue discards every pending write and returns how many were dropped.
func (a *InkwellApp) ClearQueue() int {
	return a.monitor.ClearQueue()
}

// DrainQueue replays the queue now.
func (a *InkwellApp) DrainQueue(ctx context.Context) durable.DrainReport {
	return a.monitor.ProcessQueue(ctx)
}

// Snapshots lists the snapshots of a project, newest first.
func (a *InkwellApp) Snapshots(projectID string) []durable.SnapshotMetadata {
	return a.snapshots.Snapshots(projectID)
}

// CreateSnapshot takes a manual snapshot of the stored project.
func (a *InkwellApp) CreateSnapshot(ctx context.Context, projectID, description string, tags []string) (durable.SnapshotMetadata, error) {
	a.op.Parameters = projectID
	project, err := a.orch.LoadProject(projectID)
	if err != nil {
		return durable.SnapshotMetadata{}, a.trackErr(fmt.Errorf("loading project: %w", err))
	}
	meta, err := a.snapshots.CreateSnapshot(ctx, project, durable.SnapshotOptions{
		Description: description,
		Tags:        tags,
	})
	return meta, a.trackErr(err)
}

// RestoreSnapshot returns the project stored in a snapshot. With apply set,
// the project is also saved back as the current version.
func (a *InkwellApp) RestoreSnapshot(ctx context.Context, id string, apply bool) (durable.Project, error) {
	a.op.Parameters = id
	project, err := a.snapshots.RestoreSnapshot(id)
	if err != nil {
		return durable.Project{}, a.trackErr(err)
	}
	if !apply {
		return project, nil
	}
	res := a.orch.SaveProjectSafe(ctx, project)
	a.recordResult(res)
	if !res.Success {
		return project, fmt.Errorf("saving restored project: %s", res.Error)
	}
	return project, nil
}

// VerifySnapshot recomputes the checksum of a snapshot.
func (a *InkwellApp) VerifySnapshot(id string) (bool, error) {
	return a.snapshots.VerifySnapshot(id)
}

// DeleteSnapshot removes one snapshot.
func (a *InkwellApp) DeleteSnapshot(id string) error {
	return a.trackErr(a.snapshots.DeleteSnapshot(id))
}

// PruneSnapshots keeps the newest keep snapshots of a project. keep <= 0 uses
// the configured default.
func (a *InkwellApp) PruneSnapshots(projectID string, keep int) (int, error) {
	n, err := a.snapshots.EmergencyCleanup(projectID, keep)
	return n, a.trackErr(err)
}

// SnapshotUsage reports the space taken by a project's snapshots.
func (a *InkwellApp) SnapshotUsage(projectID string) durable.SnapshotUsage {
	return a.snapshots.StorageUsage(projectID)
}

// PerformMaintenance prunes snapshots when storage is filling up.
func (a *InkwellApp) PerformMaintenance(ctx context.Context) durable.MaintenanceReport {
	report := a.orch.PerformMaintenance(ctx)
	if !report.Success {
		a.op.Status = StatusError
	}
	return report
}

// StorageStats totals what the store holds.
func (a *InkwellApp) StorageStats(ctx context.Context) durable.StorageStats {
	return a.orch.StorageStats(ctx)
}

// Health is the combined storage and connectivity status.
type Health struct {
	Storage      durable.HealthReport
	Quota        durable.QuotaInfo
	Level        durable.QuotaLevel
	Connectivity durable.ConnectivityStatus
	Queued       int
}

// Health checks the backend end to end and reports quota and queue state.
func (a *InkwellApp) Health(ctx context.Context) Health {
	quota := a.store.QuotaInfo(ctx)
	h := Health{
		Storage:      a.recovery.CheckStorageHealth(ctx),
		Quota:        quota,
		Level:        a.store.Level(quota),
		Connectivity: a.monitor.Status(),
		Queued:       len(a.monitor.QueuedWrites()),
	}
	if !h.Storage.Healthy {
		a.op.Status = StatusError
	}
	return h
}

// SaveShadowCopy replaces the shadow copy with everything currently stored.
func (a *InkwellApp) SaveShadowCopy() (durable.ShadowCopySummary, error) {
	s, err := a.recovery.SaveShadowCopyFromStore()
	return s, a.trackErr(err)
}

// ShadowCopyInfo describes the stored shadow copy.
func (a *InkwellApp) ShadowCopyInfo() (durable.ShadowCopySummary, error) {
	return a.recovery.ShadowCopyInfo()
}

// Recover runs the recovery tiers selected by opts.
func (a *InkwellApp) Recover(ctx context.Context, opts durable.RecoveryOptions) durable.RecoveryResult {
	res := a.recovery.AttemptRecovery(ctx, opts)
	if !res.Success {
		a.op.Status = StatusError
	}
	return res
}

// ExportBackup returns a backup document the upload tier can read back.
func (a *InkwellApp) ExportBackup() ([]byte, error) {
	return a.recovery.ExportBackup()
}

// ImportBackup restores a backup document produced by ExportBackup.
func (a *InkwellApp) ImportBackup(ctx context.Context, data []byte) (durable.RecoveryResult, error) {
	res, err := a.recovery.RecoverFromUserUpload(ctx, string(data))
	return res, a.trackErr(err)
}

// SyncPush uploads the current bundle to the remote.
func (a *InkwellApp) SyncPush(ctx context.Context) (durable.Bundle, error) {
	if a.remote == nil {
		return durable.Bundle{}, a.trackErr(ErrNoRemote)
	}
	bundle := a.recovery.CurrentBundle()
	if err := a.remote.Push(ctx, bundle); err != nil {
		return durable.Bundle{}, a.trackErr(fmt.Errorf("pushing bundle: %w", err))
	}
	return bundle, nil
}

// SyncPull restores the remote bundle into the local store.
func (a *InkwellApp) SyncPull(ctx context.Context) (durable.RecoveryResult, error) {
	if a.remote == nil {
		return durable.RecoveryResult{}, a.trackErr(ErrNoRemote)
	}
	res, err := a.recovery.RecoverFromRemote(ctx)
	return res, a.trackErr(err)
}

// IsOnline reports the monitor's view of connectivity.
func (a *InkwellApp) IsOnline() bool {
	return a.monitor.IsOnline()
}

func (a *InkwellApp) recordResult(res durable.SaveResult) {
	if !res.Success {
		a.op.Status = StatusError
	}
}

func (a *InkwellApp) trackErr(err error) error {
	if err != nil {
		a.op.Status = StatusError
	}
	return err
}

// Close stops background work, flushes the backend, writes metrics, and
// closes all resources.
func (a *InkwellApp) Close() error {
	var firstErr error

	a.cancel()
	a.orch.Close()
	a.monitor.Stop()
	a.store.Wait()

	if b, ok := a.kv.(*kv.BadgerKV); ok {
		if err := b.RunGC(); err != nil {
			a.logger.Warn("value log gc failed", "error", err)
		}
	}
	if err := closeKV(a.kv); err != nil {
		firstErr = fmt.Errorf("closing storage: %w", err)
	}

	if path := a.cfg.Metrics.TextfilePath; path != "" {
		if err := a.metrics.WriteTextfile(path); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.op != nil {
		if firstErr != nil {
			a.op.Status = StatusError
		}
		a.logger.Info("operation finished",
			"operation", a.op.Name,
			"parameters", a.op.Parameters,
			"status", a.op.Status,
			"duration", a.op.Elapsed(a.clock.Now()).Truncate(time.Millisecond))
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}

func closeKV(store durable.KV) error {
	if c, ok := store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
