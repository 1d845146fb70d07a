package durable

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// HealthReport is the result of a storage health check.
type HealthReport struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// healthProbeKeyPrefix lives in a disposable namespace so a probe interrupted
// midway is swept by emergency cleanup.
const healthProbeKeyPrefix = "inkwell_temp_health_"

// CheckHealth verifies that the backend works end to end. Backends that
// implement HealthProber run their own probe, typically creating and
// deleting a throwaway database. Otherwise a throwaway key is written, read
// back and removed.
func (s *Store) CheckHealth(ctx context.Context) (report HealthReport) {
	defer func() {
		if r := recover(); r != nil {
			report = HealthReport{Error: fmt.Sprintf("health check panicked: %v", r)}
		}
	}()

	if p, ok := s.kv.(HealthProber); ok {
		if err := p.ProbeHealth(ctx); err != nil {
			s.logger.Warn("storage health probe failed", "error", err)
			return HealthReport{Error: err.Error()}
		}
		return HealthReport{Healthy: true}
	}

	key := healthProbeKeyPrefix + strconv.FormatInt(time.Now().UnixNano(), 10)
	const want = "ok"
	if err := s.kv.Set(key, want); err != nil {
		return HealthReport{Error: fmt.Sprintf("writing probe: %v", err)}
	}
	defer func() {
		if err := s.kv.Remove(key); err != nil && report.Healthy {
			report = HealthReport{Error: fmt.Sprintf("removing probe: %v", err)}
		}
	}()

	got, found, err := s.kv.Get(key)
	switch {
	case err != nil:
		return HealthReport{Error: fmt.Sprintf("reading probe: %v", err)}
	case !found || got != want:
		return HealthReport{Error: "probe read back a different value"}
	}
	return HealthReport{Healthy: true}
}
