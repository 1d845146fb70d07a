package durable

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SnapshotMetadata describes one immutable point-in-time copy of a project.
type SnapshotMetadata struct {
	ID            string   `json:"id"`
	ProjectID     string   `json:"projectId"`
	Timestamp     string   `json:"timestamp"`
	Version       string   `json:"version"`
	Description   string   `json:"description"`
	WordCount     int      `json:"wordCount"`
	ChaptersCount int      `json:"chaptersCount"`
	Size          int64    `json:"size"`
	Checksum      string   `json:"checksum"`
	IsAutomatic   bool     `json:"isAutomatic"`
	Tags          []string `json:"tags"`
}

// Time parses Timestamp. Unparseable timestamps sort as the zero time.
func (m SnapshotMetadata) Time() time.Time {
	t, err := time.Parse(time.RFC3339Nano, m.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// SnapshotRecord is metadata plus the canonical project body, stored together
// under SnapshotKeyPrefix+id.
type SnapshotRecord struct {
	Metadata SnapshotMetadata `json:"metadata"`
	Project  json.RawMessage  `json:"project"`
}

// SnapshotOptions are the caller-supplied parts of a snapshot.
type SnapshotOptions struct {
	Description string
	IsAutomatic bool
	Tags        []string
}

// SnapshotUsage reports how much space snapshots of a project occupy.
type SnapshotUsage struct {
	ProjectID     string
	TotalSize     int64
	SnapshotCount int
	Details       []SnapshotMetadata
}

// SnapshotEngineOptions configures retention and the auto-snapshot timer.
type SnapshotEngineOptions struct {
	// MaxAutomatic is the per-project ceiling for automatic snapshots.
	MaxAutomatic int
	// KeepLatest is the default for EmergencyCleanup.
	KeepLatest int
	// AutoInterval is the auto-snapshot period.
	AutoInterval time.Duration
	// Version is stamped into every snapshot.
	Version string
}

// DefaultSnapshotEngineOptions keeps 15 automatic snapshots per project,
// prunes to 5 in an emergency, and snapshots every 10 minutes.
func DefaultSnapshotEngineOptions() SnapshotEngineOptions {
	return SnapshotEngineOptions{
		MaxAutomatic: 15,
		KeepLatest:   5,
		AutoInterval: 10 * time.Minute,
		Version:      "1.0.0",
	}
}

// SnapshotEngine creates, lists, restores and prunes checksummed snapshots.
type SnapshotEngine struct {
	store   *Store
	hasher  Hasher
	clock   Clock
	sched   Scheduler
	logger  Logger
	metrics Metrics
	opts    SnapshotEngineOptions

	// mu guards the index read-modify-write cycle and lastProjectID.
	mu            sync.Mutex
	lastProjectID string

	autoMu      sync.Mutex
	autoProject *Project
	autoTimer   Timer
	autoRunning bool
	autoGen     int
	lastAuto    map[string]time.Time
}

// NewSnapshotEngine creates a SnapshotEngine. A nil hasher selects the
// rolling hash.
func NewSnapshotEngine(store *Store, hasher Hasher, opts SnapshotEngineOptions, clock Clock, sched Scheduler, logger Logger, metrics Metrics) *SnapshotEngine {
	if hasher == nil {
		hasher = RollingHasher{}
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	d := DefaultSnapshotEngineOptions()
	if opts.MaxAutomatic <= 0 {
		opts.MaxAutomatic = d.MaxAutomatic
	}
	if opts.KeepLatest <= 0 {
		opts.KeepLatest = d.KeepLatest
	}
	if opts.AutoInterval <= 0 {
		opts.AutoInterval = d.AutoInterval
	}
	if opts.Version == "" {
		opts.Version = d.Version
	}
	return &SnapshotEngine{
		store:    store,
		hasher:   hasher,
		clock:    clock,
		sched:    sched,
		logger:   logger,
		metrics:  metrics,
		opts:     opts,
		lastAuto: make(map[string]time.Time),
	}
}

// CreateSnapshot stores a checksummed copy of project. A project without an
// id is rejected with ErrInvalidProject; any later failure is wrapped in
// ErrSnapshotFailed. Callers saving user work should treat a failed snapshot
// as non-fatal.
func (e *SnapshotEngine) CreateSnapshot(ctx context.Context, project Project, opts SnapshotOptions) (SnapshotMetadata, error) {
	if strings.TrimSpace(project.ID) == "" {
		return SnapshotMetadata{}, fmt.Errorf("%w: project has no id", ErrInvalidProject)
	}

	meta, err := e.createSnapshot(project, opts)
	if err != nil {
		e.logger.Error("snapshot creation failed", "project", project.ID, "error", err)
		return SnapshotMetadata{}, fmt.Errorf("%w: %w", ErrSnapshotFailed, err)
	}

	e.metrics.SnapshotCreated(meta.IsAutomatic)
	e.logger.Info("snapshot created", "id", meta.ID, "automatic", meta.IsAutomatic, "size", meta.Size)
	return meta, nil
}

func (e *SnapshotEngine) createSnapshot(project Project, opts SnapshotOptions) (SnapshotMetadata, error) {
	body, err := canonicalJSON(project)
	if err != nil {
		return SnapshotMetadata{}, fmt.Errorf("encoding project: %w", err)
	}

	description := opts.Description
	if description == "" {
		if opts.IsAutomatic {
			description = "Automatic snapshot"
		} else {
			description = "Manual snapshot"
		}
	}
	tags := opts.Tags
	if tags == nil {
		tags = []string{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	index, err := e.loadIndexLocked()
	if err != nil {
		return SnapshotMetadata{}, err
	}

	now := e.clock.Now().UTC()
	meta := SnapshotMetadata{
		ID:            uniqueSnapshotID(project.ID, now, index),
		ProjectID:     project.ID,
		Timestamp:     now.Format(time.RFC3339Nano),
		Version:       e.opts.Version,
		Description:   description,
		WordCount:     project.CurrentWordCount,
		ChaptersCount: len(project.Chapters),
		Size:          int64(len(body)),
		Checksum:      e.hasher.Sum(body),
		IsAutomatic:   opts.IsAutomatic,
		Tags:          tags,
	}

	record, err := json.Marshal(SnapshotRecord{Metadata: meta, Project: body})
	if err != nil {
		return SnapshotMetadata{}, fmt.Errorf("encoding snapshot: %w", err)
	}
	if res := e.store.SetItem(SnapshotKeyPrefix+meta.ID, string(record)); !res.OK() {
		return SnapshotMetadata{}, fmt.Errorf("writing snapshot: %w", res.Err)
	}

	index = append(index, meta)
	if err := e.saveIndexLocked(index); err != nil {
		e.store.RemoveItem(SnapshotKeyPrefix + meta.ID)
		return SnapshotMetadata{}, err
	}
	e.lastProjectID = project.ID

	if pruned := e.pruneAutomaticLocked(index, project.ID); pruned > 0 {
		e.logger.Info("pruned automatic snapshots", "project", project.ID, "count", pruned)
	}
	return meta, nil
}

// uniqueSnapshotID builds <projectID>_<unixMillis>, adding a -N suffix when
// the same millisecond was already used for this project.
func uniqueSnapshotID(projectID string, t time.Time, index []SnapshotMetadata) string {
	base := projectID + "_" + strconv.FormatInt(t.UnixMilli(), 10)
	taken := make(map[string]bool, len(index))
	for _, m := range index {
		taken[m.ID] = true
	}
	id := base
	for n := 1; taken[id]; n++ {
		id = base + "-" + strconv.Itoa(n)
	}
	return id
}

// pruneAutomaticLocked deletes the oldest automatic snapshots of projectID
// beyond MaxAutomatic. Manual snapshots are never touched here.
func (e *SnapshotEngine) pruneAutomaticLocked(index []SnapshotMetadata, projectID string) int {
	var auto []SnapshotMetadata
	for _, m := range index {
		if m.ProjectID == projectID && m.IsAutomatic {
			auto = append(auto, m)
		}
	}
	if len(auto) <= e.opts.MaxAutomatic {
		return 0
	}
	sortNewestFirst(auto)
	n, err := e.deleteLocked(index, auto[e.opts.MaxAutomatic:])
	if err != nil {
		e.logger.Warn("pruning automatic snapshots failed", "project", projectID, "error", err)
	}
	return n
}

// Snapshots lists a project's snapshots, newest first.
func (e *SnapshotEngine) Snapshots(projectID string) []SnapshotMetadata {
	e.mu.Lock()
	index, err := e.loadIndexLocked()
	e.mu.Unlock()
	if err != nil {
		e.logger.Warn("listing snapshots failed", "project", projectID, "error", err)
		return nil
	}
	var out []SnapshotMetadata
	for _, m := range index {
		if m.ProjectID == projectID {
			out = append(out, m)
		}
	}
	sortNewestFirst(out)
	return out
}

// Snapshot returns the metadata for id.
func (e *SnapshotEngine) Snapshot(id string) (SnapshotMetadata, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	index, err := e.loadIndexLocked()
	if err != nil {
		return SnapshotMetadata{}, false
	}
	for _, m := range index {
		if m.ID == id {
			return m, true
		}
	}
	return SnapshotMetadata{}, false
}

// RestoreSnapshot loads the project stored in snapshot id. A checksum
// mismatch is logged as a warning and the body is still returned: a readable
// but possibly damaged snapshot beats none.
func (e *SnapshotEngine) RestoreSnapshot(id string) (Project, error) {
	res := e.store.GetItem(SnapshotKeyPrefix + id)
	if !res.OK() {
		return Project{}, fmt.Errorf("reading snapshot %s: %w", id, res.Err)
	}
	if !res.Found {
		return Project{}, fmt.Errorf("%w: snapshot %s not found", ErrSnapshotNotFound, id)
	}

	var record SnapshotRecord
	if err := json.Unmarshal([]byte(res.Data), &record); err != nil {
		return Project{}, fmt.Errorf("decoding snapshot %s: %w", id, newCorruptionError(SnapshotKeyPrefix+id, err))
	}

	body, err := canonicalize(record.Project)
	if err != nil {
		return Project{}, fmt.Errorf("decoding snapshot %s: %w", id, newCorruptionError(SnapshotKeyPrefix+id, err))
	}
	if sum := e.hasher.Sum(body); sum != record.Metadata.Checksum {
		e.logger.Warn("snapshot checksum mismatch, restoring anyway",
			"id", id, "expected", record.Metadata.Checksum, "actual", sum)
	}

	var project Project
	if err := json.Unmarshal(body, &project); err != nil {
		return Project{}, fmt.Errorf("decoding snapshot %s: %w", id, newCorruptionError(SnapshotKeyPrefix+id, err))
	}
	e.logger.Info("snapshot restored", "id", id, "project", project.ID)
	return project, nil
}

// VerifySnapshot recomputes the checksum of snapshot id and reports whether
// it matches the stored one.
func (e *SnapshotEngine) VerifySnapshot(id string) (bool, error) {
	res := e.store.GetItem(SnapshotKeyPrefix + id)
	if !res.OK() {
		return false, res.Err
	}
	if !res.Found {
		return false, fmt.Errorf("%w: snapshot %s not found", ErrSnapshotNotFound, id)
	}
	var record SnapshotRecord
	if err := json.Unmarshal([]byte(res.Data), &record); err != nil {
		return false, newCorruptionError(SnapshotKeyPrefix+id, err)
	}
	body, err := canonicalize(record.Project)
	if err != nil {
		return false, newCorruptionError(SnapshotKeyPrefix+id, err)
	}
	return e.hasher.Sum(body) == record.Metadata.Checksum, nil
}

// DeleteSnapshot removes snapshot id. Deleting an unknown id succeeds.
func (e *SnapshotEngine) DeleteSnapshot(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	index, err := e.loadIndexLocked()
	if err != nil {
		return err
	}
	var target []SnapshotMetadata
	for _, m := range index {
		if m.ID == id {
			target = append(target, m)
		}
	}
	if len(target) == 0 {
		// Not indexed; still clear any orphaned record.
		if res := e.store.RemoveItem(SnapshotKeyPrefix + id); !res.OK() {
			return fmt.Errorf("deleting snapshot %s: %w", id, res.Err)
		}
		return nil
	}
	_, err = e.deleteLocked(index, target)
	return err
}

// EmergencyCleanup deletes all but the keepLatest newest snapshots of a
// project, automatic or manual. keepLatest <= 0 uses the configured default.
func (e *SnapshotEngine) EmergencyCleanup(projectID string, keepLatest int) (int, error) {
	if keepLatest <= 0 {
		keepLatest = e.opts.KeepLatest
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	index, err := e.loadIndexLocked()
	if err != nil {
		return 0, err
	}
	var mine []SnapshotMetadata
	for _, m := range index {
		if m.ProjectID == projectID {
			mine = append(mine, m)
		}
	}
	if len(mine) <= keepLatest {
		return 0, nil
	}
	sortNewestFirst(mine)
	n, err := e.deleteLocked(index, mine[keepLatest:])
	if err != nil {
		return n, err
	}
	e.logger.Info("snapshot emergency cleanup", "project", projectID, "deleted", n, "kept", keepLatest)
	return n, nil
}

// deleteLocked removes the given snapshots' records and rewrites the index.
// It returns how many were removed from the index.
func (e *SnapshotEngine) deleteLocked(index []SnapshotMetadata, victims []SnapshotMetadata) (int, error) {
	drop := make(map[string]bool, len(victims))
	for _, v := range victims {
		if res := e.store.RemoveItem(SnapshotKeyPrefix + v.ID); !res.OK() {
			e.logger.Warn("removing snapshot record failed", "id", v.ID, "error", res.Err.Message)
			continue
		}
		drop[v.ID] = true
	}
	if len(drop) == 0 {
		return 0, nil
	}
	kept := make([]SnapshotMetadata, 0, len(index)-len(drop))
	for _, m := range index {
		if !drop[m.ID] {
			kept = append(kept, m)
		}
	}
	if err := e.saveIndexLocked(kept); err != nil {
		return 0, err
	}
	e.metrics.SnapshotsPruned(len(drop))
	return len(drop), nil
}

// StorageUsage reports snapshot space for projectID. An empty projectID
// scopes to the most recently snapshotted project, so a generic caller does
// not add up every project's history.
func (e *SnapshotEngine) StorageUsage(projectID string) SnapshotUsage {
	e.mu.Lock()
	if projectID == "" {
		projectID = e.lastProjectID
	}
	index, err := e.loadIndexLocked()
	if projectID == "" && err == nil {
		projectID = mostRecentProject(index)
	}
	e.mu.Unlock()

	usage := SnapshotUsage{ProjectID: projectID}
	if err != nil || projectID == "" {
		return usage
	}
	for _, m := range index {
		if m.ProjectID != projectID {
			continue
		}
		usage.TotalSize += m.Size
		usage.SnapshotCount++
		usage.Details = append(usage.Details, m)
	}
	sortNewestFirst(usage.Details)
	return usage
}

// AllSnapshotCount returns the number of indexed snapshots across all
// projects.
func (e *SnapshotEngine) AllSnapshotCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	index, err := e.loadIndexLocked()
	if err != nil {
		return 0
	}
	return len(index)
}

// ProjectIDs returns every project with at least one snapshot, sorted.
func (e *SnapshotEngine) ProjectIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	index, err := e.loadIndexLocked()
	if err != nil {
		return nil
	}
	seen := make(map[string]bool)
	var ids []string
	for _, m := range index {
		if !seen[m.ProjectID] {
			seen[m.ProjectID] = true
			ids = append(ids, m.ProjectID)
		}
	}
	sort.Strings(ids)
	return ids
}

// StartAutoSnapshots begins taking an automatic snapshot of project every
// AutoInterval. Calling it while already running only replaces the project.
func (e *SnapshotEngine) StartAutoSnapshots(project Project) {
	e.autoMu.Lock()
	defer e.autoMu.Unlock()

	p := project
	e.autoProject = &p
	if e.autoRunning {
		return
	}
	e.autoRunning = true
	e.autoGen++
	e.scheduleAutoLocked(e.autoGen)
	e.logger.Debug("auto snapshots started", "project", project.ID, "interval", e.opts.AutoInterval)
}

// UpdateAutoSnapshotProject replaces the project the next tick snapshots.
func (e *SnapshotEngine) UpdateAutoSnapshotProject(project Project) {
	e.autoMu.Lock()
	defer e.autoMu.Unlock()
	p := project
	e.autoProject = &p
}

// ClearAutoSnapshotProject stops the timer from snapshotting id. The timer
// keeps running and picks up the next project passed to
// UpdateAutoSnapshotProject.
func (e *SnapshotEngine) ClearAutoSnapshotProject(id string) {
	e.autoMu.Lock()
	defer e.autoMu.Unlock()
	if e.autoProject != nil && e.autoProject.ID == id {
		e.autoProject = nil
	}
}

// StopAutoSnapshots cancels the recurring timer. It is safe to call when
// auto snapshots are not running.
func (e *SnapshotEngine) StopAutoSnapshots() {
	e.autoMu.Lock()
	defer e.autoMu.Unlock()
	if !e.autoRunning {
		return
	}
	e.autoRunning = false
	e.autoGen++
	if e.autoTimer != nil {
		e.autoTimer.Stop()
		e.autoTimer = nil
	}
	e.logger.Debug("auto snapshots stopped")
}

// AutoSnapshotsRunning reports whether the recurring timer is active.
func (e *SnapshotEngine) AutoSnapshotsRunning() bool {
	e.autoMu.Lock()
	defer e.autoMu.Unlock()
	return e.autoRunning
}

func (e *SnapshotEngine) scheduleAutoLocked(gen int) {
	e.autoTimer = e.sched.AfterFunc(e.opts.AutoInterval, func() { e.autoTick(gen) })
}

func (e *SnapshotEngine) autoTick(gen int) {
	e.autoMu.Lock()
	if !e.autoRunning || gen != e.autoGen {
		e.autoMu.Unlock()
		return
	}
	var project Project
	have := e.autoProject != nil
	if have {
		project = *e.autoProject
	}
	e.autoMu.Unlock()

	if have {
		e.takeAutomatic(context.Background(), project)
	}

	e.autoMu.Lock()
	defer e.autoMu.Unlock()
	if e.autoRunning && gen == e.autoGen {
		e.scheduleAutoLocked(gen)
	}
}

// takeAutomatic snapshots project and records the time. Failures are logged
// and swallowed.
func (e *SnapshotEngine) takeAutomatic(ctx context.Context, project Project) (SnapshotMetadata, bool) {
	meta, err := e.CreateSnapshot(ctx, project, SnapshotOptions{IsAutomatic: true, Tags: []string{"auto-save"}})
	if err != nil {
		e.logger.Warn("automatic snapshot failed", "project", project.ID, "error", err)
		return SnapshotMetadata{}, false
	}
	e.autoMu.Lock()
	e.lastAuto[project.ID] = e.clock.Now()
	e.autoMu.Unlock()
	return meta, true
}

// SnapshotIfDue takes an automatic snapshot of project unless one was taken
// less than AutoInterval ago. It reports whether a snapshot was written.
func (e *SnapshotEngine) SnapshotIfDue(ctx context.Context, project Project) (SnapshotMetadata, bool) {
	e.autoMu.Lock()
	last, ok := e.lastAuto[project.ID]
	e.autoMu.Unlock()
	if ok && e.clock.Now().Sub(last) < e.opts.AutoInterval {
		return SnapshotMetadata{}, false
	}
	return e.takeAutomatic(ctx, project)
}

func (e *SnapshotEngine) loadIndexLocked() ([]SnapshotMetadata, error) {
	res := e.store.GetItem(SnapshotIndexKey)
	if !res.OK() {
		e.logger.Warn("snapshot index unreadable, rebuilding", "error", res.Err.Message)
		return e.rebuildIndexLocked(), nil
	}
	if !res.Found {
		return nil, nil
	}
	var index []SnapshotMetadata
	if err := json.Unmarshal([]byte(res.Data), &index); err != nil {
		e.logger.Warn("snapshot index corrupt, rebuilding", "error", err)
		return e.rebuildIndexLocked(), nil
	}
	return index, nil
}

// rebuildIndexLocked recovers the index from the snapshot records themselves.
func (e *SnapshotEngine) rebuildIndexLocked() []SnapshotMetadata {
	var index []SnapshotMetadata
	for _, key := range e.store.Keys(SnapshotKeyPrefix) {
		res := e.store.GetItem(key)
		if !res.OK() || !res.Found {
			continue
		}
		var record SnapshotRecord
		if err := json.Unmarshal([]byte(res.Data), &record); err != nil {
			e.logger.Warn("skipping unreadable snapshot record", "key", key, "error", err)
			continue
		}
		index = append(index, record.Metadata)
	}
	if err := e.saveIndexLocked(index); err != nil {
		e.logger.Warn("saving rebuilt snapshot index failed", "error", err)
	}
	return index
}

func (e *SnapshotEngine) saveIndexLocked(index []SnapshotMetadata) error {
	if index == nil {
		index = []SnapshotMetadata{}
	}
	data, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("encoding snapshot index: %w", err)
	}
	if res := e.store.SetItem(SnapshotIndexKey, string(data)); !res.OK() {
		return fmt.Errorf("writing snapshot index: %w", res.Err)
	}
	return nil
}

func sortNewestFirst(ms []SnapshotMetadata) {
	sort.SliceStable(ms, func(i, j int) bool {
		ti, tj := ms[i].Time(), ms[j].Time()
		if ti.Equal(tj) {
			return snapshotIDSuffix(ms[i].ID) > snapshotIDSuffix(ms[j].ID)
		}
		return ti.After(tj)
	})
}

// snapshotIDSuffix returns the -N collision counter of an ID built by
// uniqueSnapshotID, or 0 when there is none.
func snapshotIDSuffix(id string) int {
	i := strings.LastIndexByte(id, '_')
	j := strings.LastIndexByte(id, '-')
	if j <= i {
		return 0
	}
	n, err := strconv.Atoi(id[j+1:])
	if err != nil {
		return 0
	}
	return n
}

func mostRecentProject(index []SnapshotMetadata) string {
	var best SnapshotMetadata
	var found bool
	for _, m := range index {
		if !found || m.Time().After(best.Time()) {
			best, found = m, true
		}
	}
	return best.ProjectID
}
