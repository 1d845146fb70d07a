package durable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RecoveryTier names where recovered data came from. The names are stable
// identifiers shared with other clients.
type RecoveryTier string

const (
	TierRemote     RecoveryTier = "supabase"
	TierShadowCopy RecoveryTier = "localStorage"
	TierUserUpload RecoveryTier = "userUpload"
	TierNone       RecoveryTier = "none"
)

// DefaultShadowCopyMaxAge is the oldest shadow copy recovery will accept.
const DefaultShadowCopyMaxAge = 7 * 24 * time.Hour

// BackupMarker is the top-level field that identifies a backup document.
const BackupMarker = "inkwellBackup"

// ShadowCopyData is the single last-known-good bundle kept in the store.
type ShadowCopyData struct {
	Projects  []Project `json:"projects"`
	Chapters  []Chapter `json:"chapters"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// ShadowCopySummary describes the stored shadow copy without its bodies.
type ShadowCopySummary struct {
	Timestamp time.Time
	Version   string
	Projects  int
	Chapters  int
	Age       time.Duration
}

// BackupDocument is the file format ExportBackup writes and the user-upload
// tier reads.
type BackupDocument struct {
	InkwellBackup bool      `json:"inkwellBackup"`
	Version       string    `json:"version"`
	ExportedAt    time.Time `json:"exportedAt"`
	Data          *Bundle   `json:"data"`
}

// RecoveryOptions selects which automatic tiers AttemptRecovery runs.
type RecoveryOptions struct {
	AttemptRemote     bool
	AttemptShadowCopy bool
	// RequireUserUpload runs the upload tier with UserUpload when the
	// automatic tiers fail.
	RequireUserUpload bool
	UserUpload        string
}

// RecoveryResult reports the tier that restored data, or TierNone.
type RecoveryResult struct {
	Success           bool         `json:"success"`
	Tier              RecoveryTier `json:"tier"`
	RecoveredProjects int          `json:"recoveredProjects"`
	RecoveredChapters int          `json:"recoveredChapters"`
	Error             string       `json:"error,omitempty"`
	Message           string       `json:"message,omitempty"`
}

// RecoverySequencer restores data after a catastrophic read failure, trying
// the remote tier, then the shadow copy, then a user-supplied backup.
type RecoverySequencer struct {
	orch      *Orchestrator
	store     *Store
	remote    RemoteSync
	validator Validator
	clock     Clock
	logger    Logger
	metrics   Metrics

	maxShadowAge time.Duration
	version      string
}

// NewRecoverySequencer creates a RecoverySequencer. remote may be nil when no
// cloud tier is configured; a nil validator uses SchemaValidator.
func NewRecoverySequencer(orch *Orchestrator, store *Store, remote RemoteSync, validator Validator, clock Clock, logger Logger, metrics Metrics) *RecoverySequencer {
	if validator == nil {
		validator = SchemaValidator{}
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &RecoverySequencer{
		orch:         orch,
		store:        store,
		remote:       remote,
		validator:    validator,
		clock:        clock,
		logger:       logger,
		metrics:      metrics,
		maxShadowAge: DefaultShadowCopyMaxAge,
		version:      "1.0.0",
	}
}

// SetShadowCopyMaxAge overrides the 7 day shadow copy limit.
func (r *RecoverySequencer) SetShadowCopyMaxAge(d time.Duration) {
	if d > 0 {
		r.maxShadowAge = d
	}
}

// RecoverFromRemote pulls the remote bundle and saves it locally.
func (r *RecoverySequencer) RecoverFromRemote(ctx context.Context) (RecoveryResult, error) {
	result, err := r.recoverFromRemote(ctx)
	r.metrics.RecoveryAttempt(TierRemote, err == nil)
	return result, err
}

func (r *RecoverySequencer) recoverFromRemote(ctx context.Context) (RecoveryResult, error) {
	if r.remote == nil || !r.remote.IsAuthenticated(ctx) {
		return RecoveryResult{}, ErrNotAuthenticated
	}
	bundle, err := r.remote.PullFromCloud(ctx)
	if err != nil {
		return RecoveryResult{}, fmt.Errorf("pulling from remote: %w", err)
	}
	return r.restore(ctx, TierRemote, bundle)
}

// RecoverFromShadowCopy restores the shadow copy if it is recent enough.
func (r *RecoverySequencer) RecoverFromShadowCopy(ctx context.Context) (RecoveryResult, error) {
	result, err := r.recoverFromShadowCopy(ctx)
	r.metrics.RecoveryAttempt(TierShadowCopy, err == nil)
	return result, err
}

func (r *RecoverySequencer) recoverFromShadowCopy(ctx context.Context) (RecoveryResult, error) {
	shadow, err := r.loadShadowCopy()
	if err != nil {
		return RecoveryResult{}, err
	}
	age := r.clock.Now().Sub(shadow.Timestamp)
	if age > r.maxShadowAge {
		return RecoveryResult{}, fmt.Errorf("%w: saved %s ago, limit %s",
			ErrShadowCopyTooOld, age.Round(time.Minute), r.maxShadowAge)
	}
	return r.restore(ctx, TierShadowCopy, Bundle{Projects: shadow.Projects, Chapters: shadow.Chapters})
}

// RecoverFromUserUpload restores a backup document supplied by the user.
// Malformed JSON or a missing marker fails with ErrInvalidBackup.
func (r *RecoverySequencer) RecoverFromUserUpload(ctx context.Context, text string) (RecoveryResult, error) {
	result, err := r.recoverFromUserUpload(ctx, text)
	r.metrics.RecoveryAttempt(TierUserUpload, err == nil)
	return result, err
}

func (r *RecoverySequencer) recoverFromUserUpload(ctx context.Context, text string) (RecoveryResult, error) {
	var doc BackupDocument
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return RecoveryResult{}, fmt.Errorf("%w: %w", ErrInvalidBackup, err)
	}
	if !doc.InkwellBackup {
		return RecoveryResult{}, fmt.Errorf("%w: missing %s marker", ErrInvalidBackup, BackupMarker)
	}
	if doc.Data == nil {
		return RecoveryResult{}, fmt.Errorf("%w: missing data", ErrInvalidBackup)
	}
	return r.restore(ctx, TierUserUpload, *doc.Data)
}

// AttemptRecovery runs the selected tiers in order and stops at the first
// that restores anything. When every tier fails the result asks the caller
// to prompt for a backup upload.
func (r *RecoverySequencer) AttemptRecovery(ctx context.Context, opts RecoveryOptions) RecoveryResult {
	var failures []error

	if opts.AttemptRemote {
		res, err := r.RecoverFromRemote(ctx)
		if err == nil {
			return res
		}
		r.logger.Warn("remote recovery failed", "error", err)
		failures = append(failures, fmt.Errorf("%s: %w", TierRemote, err))
	}

	if opts.AttemptShadowCopy {
		res, err := r.RecoverFromShadowCopy(ctx)
		if err == nil {
			return res
		}
		r.logger.Warn("shadow copy recovery failed", "error", err)
		failures = append(failures, fmt.Errorf("%s: %w", TierShadowCopy, err))
	}

	if opts.RequireUserUpload && opts.UserUpload != "" {
		res, err := r.RecoverFromUserUpload(ctx, opts.UserUpload)
		if err == nil {
			return res
		}
		r.logger.Warn("user upload recovery failed", "error", err)
		return RecoveryResult{
			Tier:    TierNone,
			Error:   err.Error(),
			Message: "The uploaded backup could not be restored",
		}
	}

	msg := "no recovery tier was attempted"
	if len(failures) > 0 {
		msg = errors.Join(failures...).Error()
	}
	return RecoveryResult{
		Tier:    TierNone,
		Error:   msg,
		Message: "Automatic recovery failed. Please upload a backup file to restore your projects.",
	}
}

// restore validates and saves every record in bundle. Invalid records are
// skipped with a warning. A bundle that restores nothing is a failure.
func (r *RecoverySequencer) restore(ctx context.Context, tier RecoveryTier, bundle Bundle) (RecoveryResult, error) {
	result := RecoveryResult{Tier: tier}
	for _, p := range bundle.Projects {
		if err := r.validator.ValidateProject(p); err != nil {
			r.logger.Warn("skipping invalid project", "tier", string(tier), "project", p.ID, "error", err)
			continue
		}
		if err := r.orch.RestoreProject(ctx, p); err != nil {
			return result, fmt.Errorf("restoring project %s: %w", p.ID, err)
		}
		result.RecoveredProjects++
	}
	for _, c := range bundle.Chapters {
		if err := r.validator.ValidateChapter(c); err != nil {
			r.logger.Warn("skipping invalid chapter", "tier", string(tier), "chapter", c.ID, "error", err)
			continue
		}
		if err := r.orch.SaveChapter(ctx, c); err != nil {
			return result, fmt.Errorf("restoring chapter %s: %w", c.ID, err)
		}
		result.RecoveredChapters++
	}
	if result.RecoveredProjects == 0 && result.RecoveredChapters == 0 {
		return result, fmt.Errorf("%s tier had nothing to restore", tier)
	}

	result.Success = true
	result.Message = fmt.Sprintf("Recovered %d projects and %d chapters", result.RecoveredProjects, result.RecoveredChapters)
	r.logger.Info("recovery succeeded", "tier", string(tier),
		"projects", result.RecoveredProjects, "chapters", result.RecoveredChapters)
	return result, nil
}

// SaveShadowCopy overwrites the shadow copy with a fresh timestamp.
func (r *RecoverySequencer) SaveShadowCopy(projects []Project, chapters []Chapter) error {
	if projects == nil {
		projects = []Project{}
	}
	if chapters == nil {
		chapters = []Chapter{}
	}
	data, err := json.Marshal(ShadowCopyData{
		Projects:  projects,
		Chapters:  chapters,
		Timestamp: r.clock.Now().UTC(),
		Version:   r.version,
	})
	if err != nil {
		return fmt.Errorf("encoding shadow copy: %w", err)
	}
	if res := r.store.SetItem(ShadowCopyKey, string(data)); !res.OK() {
		return fmt.Errorf("saving shadow copy: %w", res.Err)
	}
	return nil
}

// SaveShadowCopyFromStore snapshots every stored project and chapter into
// the shadow copy.
func (r *RecoverySequencer) SaveShadowCopyFromStore() (ShadowCopySummary, error) {
	bundle := r.CurrentBundle()
	if err := r.SaveShadowCopy(bundle.Projects, bundle.Chapters); err != nil {
		return ShadowCopySummary{}, err
	}
	return r.ShadowCopyInfo()
}

// ShadowCopyInfo describes the stored shadow copy.
func (r *RecoverySequencer) ShadowCopyInfo() (ShadowCopySummary, error) {
	shadow, err := r.loadShadowCopy()
	if err != nil {
		return ShadowCopySummary{}, err
	}
	return ShadowCopySummary{
		Timestamp: shadow.Timestamp,
		Version:   shadow.Version,
		Projects:  len(shadow.Projects),
		Chapters:  len(shadow.Chapters),
		Age:       r.clock.Now().Sub(shadow.Timestamp),
	}, nil
}

func (r *RecoverySequencer) loadShadowCopy() (ShadowCopyData, error) {
	res := r.store.GetItem(ShadowCopyKey)
	if !res.OK() {
		return ShadowCopyData{}, fmt.Errorf("reading shadow copy: %w", res.Err)
	}
	if !res.Found {
		return ShadowCopyData{}, ErrShadowCopyMissing
	}
	var shadow ShadowCopyData
	if err := json.Unmarshal([]byte(res.Data), &shadow); err != nil {
		return ShadowCopyData{}, fmt.Errorf("reading shadow copy: %w", newCorruptionError(ShadowCopyKey, err))
	}
	return shadow, nil
}

// ExportBackup writes every stored project and chapter as a backup document
// the user-upload tier accepts.
func (r *RecoverySequencer) ExportBackup() ([]byte, error) {
	bundle := r.CurrentBundle()
	doc := BackupDocument{
		InkwellBackup: true,
		Version:       r.version,
		ExportedAt:    r.clock.Now().UTC(),
		Data:          &bundle,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding backup: %w", err)
	}
	return data, nil
}

// CurrentBundle collects every stored project and chapter.
func (r *RecoverySequencer) CurrentBundle() Bundle {
	bundle := Bundle{Projects: r.orch.ListProjects(), Chapters: []Chapter{}}
	if bundle.Projects == nil {
		bundle.Projects = []Project{}
	}
	for _, p := range bundle.Projects {
		bundle.Chapters = append(bundle.Chapters, r.orch.LoadChapters(p.ID)...)
	}
	return bundle
}

// CheckStorageHealth reports whether the local store works end to end, so
// callers can skip straight to the shadow copy or upload tiers.
func (r *RecoverySequencer) CheckStorageHealth(ctx context.Context) HealthReport {
	return r.store.CheckHealth(ctx)
}
