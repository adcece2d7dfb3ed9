package ports

import "context"

// HealthChecker probes one backing service for /health. An absent ranked cache is
// normal operation; only an unreachable dependency fails the probe.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}
