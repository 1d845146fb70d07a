package durable

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
)

// StorageStats aggregates what the store holds.
type StorageStats struct {
	TotalProjects  int   `json:"totalProjects"`
	TotalWordCount int   `json:"totalWordCount"`
	StorageUsed    int64 `json:"storageUsed"`
	SnapshotCount  int   `json:"snapshotCount"`
}

// MaintenanceReport lists what PerformMaintenance did. Actions always has
// at least one entry.
type MaintenanceReport struct {
	Success bool     `json:"success"`
	Actions []string `json:"actions"`
}

// StorageStats totals projects, words and bytes. Projects that fail to
// decode are skipped with a warning.
func (o *Orchestrator) StorageStats(ctx context.Context) StorageStats {
	var stats StorageStats
	for _, key := range o.store.Keys(ProjectKeyPrefix) {
		res := o.store.GetItem(key)
		if !res.OK() || !res.Found {
			continue
		}
		var p Project
		if err := json.Unmarshal([]byte(res.Data), &p); err != nil {
			o.logger.Warn("skipping corrupt project in stats", "key", key, "error", err)
			continue
		}
		stats.TotalProjects++
		stats.TotalWordCount += p.CurrentWordCount
		stats.StorageUsed += o.store.sizeOf(key) + o.store.sizeOf(res.Data)
	}
	for _, id := range o.snapshots.ProjectIDs() {
		stats.StorageUsed += o.snapshots.StorageUsage(id).TotalSize
	}
	stats.SnapshotCount = o.snapshots.AllSnapshotCount()
	return stats
}

// PerformMaintenance prunes snapshots of every project when storage has
// reached the warning threshold.
func (o *Orchestrator) PerformMaintenance(ctx context.Context) (report MaintenanceReport) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("maintenance panicked", "panic", fmt.Sprint(r))
			report = MaintenanceReport{Success: false, Actions: []string{fmt.Sprintf("Maintenance failed: %v", r)}}
		}
	}()

	info := o.store.QuotaInfo(ctx)
	if info.PercentUsed < o.store.opts.WarningThreshold {
		return MaintenanceReport{
			Success: true,
			Actions: []string{fmt.Sprintf("No maintenance needed (%.0f%% of %s used)",
				info.PercentUsed*100, humanize.Bytes(uint64(info.Quota)))},
		}
	}

	report.Success = true
	total := 0
	for _, id := range o.snapshots.ProjectIDs() {
		n, err := o.snapshots.EmergencyCleanup(id, 0)
		if err != nil {
			report.Success = false
			report.Actions = append(report.Actions, fmt.Sprintf("Snapshot cleanup failed for %s: %v", id, err))
			continue
		}
		if n > 0 {
			report.Actions = append(report.Actions, fmt.Sprintf("Removed %d old snapshots of %s", n, id))
		}
		total += n
	}
	if total == 0 && report.Success {
		report.Actions = append(report.Actions, "Storage is nearly full but no snapshots could be pruned")
	}

	after := o.store.QuotaInfo(ctx)
	report.Actions = append(report.Actions, fmt.Sprintf("Storage now at %.0f%% (%s free)",
		after.PercentUsed*100, humanize.Bytes(uint64(after.Available))))
	o.logger.Info("maintenance finished", "removed_snapshots", total, "percent_used", after.PercentUsed)
	return report
}
