package durable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Save outcomes reported through SaveResult and Metrics.SaveOutcome.
const (
	SaveErrQuotaExceeded  = "quota_exceeded"
	SaveErrInvalidProject = "invalid_project"
	SaveMsgQueued         = "queued"
)

// SaveResult is the outcome of SaveProjectSafe and DeleteProjectSafe.
// Success with Message "queued" means the write was deferred, not lost.
type SaveResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// Orchestrator is the entry point the rest of the application uses to
// persist projects. It decides between writing directly and queueing, runs
// cleanup when storage is full, and keeps snapshots flowing.
type Orchestrator struct {
	store     *Store
	monitor   *Monitor
	snapshots *SnapshotEngine
	clock     Clock
	logger    Logger
	metrics   Metrics

	mu          sync.Mutex
	lastSaved   *Project
	autoEnabled bool

	// background tracks snapshot attempts started after a save.
	background sync.WaitGroup
}

// NewOrchestrator creates an Orchestrator. Auto snapshots are enabled and
// start with the first successful save.
func NewOrchestrator(store *Store, monitor *Monitor, snapshots *SnapshotEngine, clock Clock, logger Logger, metrics Metrics) *Orchestrator {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Orchestrator{
		store:       store,
		monitor:     monitor,
		snapshots:   snapshots,
		clock:       clock,
		logger:      logger,
		metrics:     metrics,
		autoEnabled: true,
	}
}

// SaveProject writes project directly. Content, when present, is the source
// of truth for CurrentWordCount.
func (o *Orchestrator) SaveProject(ctx context.Context, project Project) error {
	key, data, err := o.prepareProject(&project)
	if err != nil {
		return err
	}
	if res := o.store.SetItem(key, data); !res.OK() {
		return fmt.Errorf("saving project %s: %w", project.ID, res.Err)
	}
	return nil
}

// RestoreProject writes a project recovered from a backup. Unlike
// SaveProject it keeps a non-zero UpdatedAt from the backup.
func (o *Orchestrator) RestoreProject(ctx context.Context, project Project) error {
	updated := project.UpdatedAt
	key, data, err := o.prepareProject(&project)
	if err != nil {
		return err
	}
	if !updated.IsZero() {
		project.UpdatedAt = updated
		encoded, err := json.Marshal(project)
		if err != nil {
			return fmt.Errorf("encoding project %s: %w", project.ID, err)
		}
		data = string(encoded)
	}
	if res := o.store.SetItem(key, data); !res.OK() {
		return fmt.Errorf("restoring project %s: %w", project.ID, res.Err)
	}
	return nil
}

// prepareProject validates and stamps project, returning its key and
// encoded form.
func (o *Orchestrator) prepareProject(project *Project) (string, string, error) {
	if strings.TrimSpace(project.ID) == "" {
		return "", "", fmt.Errorf("%w: project has no id", ErrInvalidProject)
	}
	if project.Content != "" {
		project.CurrentWordCount = CountWords(project.Content)
	}
	now := o.clock.Now().UTC()
	if project.CreatedAt.IsZero() {
		project.CreatedAt = now
	}
	project.UpdatedAt = now

	data, err := json.Marshal(project)
	if err != nil {
		return "", "", fmt.Errorf("encoding project %s: %w", project.ID, err)
	}
	return ProjectKey(project.ID), string(data), nil
}

// LoadProject reads a project. A missing project returns ErrProjectNotFound.
func (o *Orchestrator) LoadProject(id string) (Project, error) {
	key := ProjectKey(id)
	res := o.store.GetItem(key)
	if !res.OK() {
		return Project{}, fmt.Errorf("loading project %s: %w", id, res.Err)
	}
	if !res.Found {
		return Project{}, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	var p Project
	if err := json.Unmarshal([]byte(res.Data), &p); err != nil {
		return Project{}, fmt.Errorf("loading project %s: %w", id, newCorruptionError(key, err))
	}
	return p, nil
}

// UpdateProjectContent replaces a project's content and recomputes its word
// count.
func (o *Orchestrator) UpdateProjectContent(ctx context.Context, id, content string) (Project, error) {
	p, err := o.LoadProject(id)
	if err != nil {
		return Project{}, err
	}
	p.Content = content
	p.CurrentWordCount = CountWords(content)
	if err := o.SaveProject(ctx, p); err != nil {
		return Project{}, err
	}
	return o.LoadProject(id)
}

// DeleteProject removes a project and its chapters.
func (o *Orchestrator) DeleteProject(ctx context.Context, id string) error {
	for _, key := range o.store.Keys(ChapterKeyPrefix + id + "_") {
		if res := o.store.RemoveItem(key); !res.OK() {
			return fmt.Errorf("deleting chapter %s: %w", key, res.Err)
		}
	}
	if res := o.store.RemoveItem(ProjectKey(id)); !res.OK() {
		return fmt.Errorf("deleting project %s: %w", id, res.Err)
	}
	return nil
}

// ListProjects returns every readable project, most recently updated first.
// Entries that fail to decode are skipped with a warning.
func (o *Orchestrator) ListProjects() []Project {
	var projects []Project
	for _, key := range o.store.Keys(ProjectKeyPrefix) {
		res := o.store.GetItem(key)
		if !res.OK() || !res.Found {
			continue
		}
		var p Project
		if err := json.Unmarshal([]byte(res.Data), &p); err != nil {
			o.logger.Warn("skipping corrupt project", "key", key, "error", err)
			continue
		}
		projects = append(projects, p)
	}
	sort.SliceStable(projects, func(i, j int) bool {
		return projects[i].UpdatedAt.After(projects[j].UpdatedAt)
	})
	return projects
}

// SaveChapter writes a chapter under its project.
func (o *Orchestrator) SaveChapter(ctx context.Context, c Chapter) error {
	if strings.TrimSpace(c.ID) == "" || strings.TrimSpace(c.ProjectID) == "" {
		return fmt.Errorf("%w: chapter needs id and projectId", ErrInvalidProject)
	}
	if c.Content != "" {
		c.WordCount = CountWords(c.Content)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding chapter %s: %w", c.ID, err)
	}
	if res := o.store.SetItem(ChapterKey(c.ProjectID, c.ID), string(data)); !res.OK() {
		return fmt.Errorf("saving chapter %s: %w", c.ID, res.Err)
	}
	return nil
}

// LoadChapters returns a project's chapters in display order. Unreadable
// chapters are skipped with a warning.
func (o *Orchestrator) LoadChapters(projectID string) []Chapter {
	var chapters []Chapter
	for _, key := range o.store.Keys(ChapterKeyPrefix + projectID + "_") {
		res := o.store.GetItem(key)
		if !res.OK() || !res.Found {
			continue
		}
		var c Chapter
		if err := json.Unmarshal([]byte(res.Data), &c); err != nil {
			o.logger.Warn("skipping corrupt chapter", "key", key, "error", err)
			continue
		}
		chapters = append(chapters, c)
	}
	sort.SliceStable(chapters, func(i, j int) bool {
		return chapters[i].Order < chapters[j].Order
	})
	return chapters
}

// SaveProjectSafe is the resilient save path. Offline writes are queued and
// reported as success. A full store gets one emergency cleanup and one retry
// before quota_exceeded is reported. Unexpected failures are logged and
// reported as success so saving never blocks the writer.
func (o *Orchestrator) SaveProjectSafe(ctx context.Context, project Project) (result SaveResult) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("save panicked", "project", project.ID, "panic", fmt.Sprint(r))
			result = SaveResult{Success: true}
		}
		o.metrics.SaveOutcome(saveOutcome(result))
	}()

	key, data, err := o.prepareProject(&project)
	if err != nil {
		if errors.Is(err, ErrInvalidProject) {
			return SaveResult{Success: false, Error: SaveErrInvalidProject}
		}
		o.logger.Error("preparing project failed", "project", project.ID, "error", err)
		return SaveResult{Success: true}
	}

	if !o.monitor.IsOnline() {
		o.monitor.QueueWrite(OpSave, key, &data)
		return SaveResult{Success: true, Message: SaveMsgQueued}
	}

	res := o.store.SetItem(key, data)
	if !res.OK() && res.Err.Kind == ErrorKindQuota {
		report := o.store.EmergencyCleanup()
		o.logger.Warn("storage full, retrying after cleanup", "project", project.ID, "freed_bytes", report.FreedBytes)
		res = o.store.SetItem(key, data)
		if !res.OK() && res.Err.Kind == ErrorKindQuota {
			return SaveResult{Success: false, Error: SaveErrQuotaExceeded}
		}
	}
	if !res.OK() {
		o.logger.Warn("save failed, queueing for retry", "project", project.ID, "error", res.Err.Message)
		o.monitor.QueueWrite(OpSave, key, &data)
		return SaveResult{Success: true, Message: SaveMsgQueued}
	}

	o.afterSave(project)
	return SaveResult{Success: true}
}

// afterSave records the project for the auto-snapshot timer and starts a
// background snapshot attempt.
func (o *Orchestrator) afterSave(project Project) {
	o.mu.Lock()
	p := project
	o.lastSaved = &p
	enabled := o.autoEnabled
	o.mu.Unlock()

	if !enabled {
		return
	}
	if o.snapshots.AutoSnapshotsRunning() {
		o.snapshots.UpdateAutoSnapshotProject(project)
	} else {
		o.snapshots.StartAutoSnapshots(project)
	}

	o.background.Add(1)
	go func() {
		defer o.background.Done()
		defer func() {
			if r := recover(); r != nil {
				o.logger.Warn("background snapshot panicked", "project", project.ID, "panic", fmt.Sprint(r))
			}
		}()
		o.snapshots.SnapshotIfDue(context.Background(), project)
	}()
}

// DeleteProjectSafe takes a best-effort backup snapshot and then removes the
// project. Offline deletes are queued.
func (o *Orchestrator) DeleteProjectSafe(ctx context.Context, id string) SaveResult {
	if strings.TrimSpace(id) == "" {
		return SaveResult{Success: false, Error: SaveErrInvalidProject}
	}

	if p, err := o.LoadProject(id); err == nil {
		_, err := o.snapshots.CreateSnapshot(ctx, p, SnapshotOptions{
			Description: "Backup before deletion",
			Tags:        []string{"pre-delete"},
		})
		if err != nil {
			o.logger.Warn("backup before deletion failed, deleting anyway", "project", id, "error", err)
		}
	} else {
		o.logger.Warn("could not load project for backup", "project", id, "error", err)
	}

	o.mu.Lock()
	if o.lastSaved != nil && o.lastSaved.ID == id {
		o.lastSaved = nil
	}
	o.mu.Unlock()
	o.snapshots.ClearAutoSnapshotProject(id)

	if !o.monitor.IsOnline() {
		for _, key := range o.store.Keys(ChapterKeyPrefix + id + "_") {
			o.monitor.QueueWrite(OpDelete, key, nil)
		}
		o.monitor.QueueWrite(OpDelete, ProjectKey(id), nil)
		return SaveResult{Success: true, Message: SaveMsgQueued}
	}

	if err := o.DeleteProject(ctx, id); err != nil {
		o.logger.Error("delete failed", "project", id, "error", err)
		return SaveResult{Success: false, Error: err.Error()}
	}
	return SaveResult{Success: true}
}

// SetAutoSnapshotEnabled turns the auto-snapshot timer on or off. When
// enabled it follows the last project saved through SaveProjectSafe.
func (o *Orchestrator) SetAutoSnapshotEnabled(enabled bool) {
	o.mu.Lock()
	o.autoEnabled = enabled
	var last *Project
	if o.lastSaved != nil {
		p := *o.lastSaved
		last = &p
	}
	o.mu.Unlock()

	if !enabled {
		o.snapshots.StopAutoSnapshots()
		return
	}
	if last != nil {
		o.snapshots.StartAutoSnapshots(*last)
	}
}

// LastSavedProject returns the project most recently saved through
// SaveProjectSafe.
func (o *Orchestrator) LastSavedProject() (Project, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastSaved == nil {
		return Project{}, false
	}
	return *o.lastSaved, true
}

// Close stops auto snapshots and waits for background snapshot attempts.
func (o *Orchestrator) Close() {
	o.snapshots.StopAutoSnapshots()
	o.background.Wait()
}

// Wait blocks until background snapshot attempts finish.
func (o *Orchestrator) Wait() {
	o.background.Wait()
}

func saveOutcome(r SaveResult) string {
	switch {
	case r.Message == SaveMsgQueued:
		return SaveMsgQueued
	case r.Success:
		return "saved"
	case r.Error != "":
		return r.Error
	default:
		return "failed"
	}
}
