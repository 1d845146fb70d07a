package kv

import (
	"fmt"

	"github.com/shirou/gopsutil/disk"

	"inkwell/internal/durable"
)

// diskEstimate treats the free space on the volume holding dir as headroom:
// the quota is what the store already uses plus what the disk can still take.
func diskEstimate(dir string, used int64) (durable.StorageEstimate, error) {
	stat, err := disk.Usage(dir)
	if err != nil {
		return durable.StorageEstimate{}, fmt.Errorf("reading disk usage for %s: %w", dir, err)
	}
	return durable.StorageEstimate{
		Quota: used + int64(stat.Free),
		Usage: used,
	}, nil
}
