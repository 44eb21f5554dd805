package monitoring

import "time"

// Reconciliation outcomes
const (
	OutcomeLaunchable         = "launchable"
	OutcomeDegraded           = "degraded"
	OutcomeMissingPermissions = "missing_permissions"
	OutcomeFailed             = "failed"
)

// Fetch results
const (
	FetchOK       = "ok"
	FetchNetwork  = "network"
	FetchNotFound = "not_found"
	FetchError    = "error"
)

// Digest check results
const (
	DigestMatch    = "match"
	DigestMismatch = "mismatch"
	DigestMissing  = "missing"
)

// Snapshot returns the current values for the JSON health endpoint
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.RLock()
	s := m.snapshot
	m.mu.RUnlock()
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}

// AverageRequestDuration returns the mean HTTP request duration in seconds
func (s MetricsSnapshot) AverageRequestDuration() float64 {
	if s.RequestCount == 0 {
		return 0
	}
	return s.TotalDuration / float64(s.RequestCount)
}
