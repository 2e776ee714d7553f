package observability

import (
	"context"
)

// Pinger is satisfied by storage that can verify it is usable, such as cache.BoltCache
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker adapts a Pinger to HealthChecker
type PingChecker struct {
	name string
	p    Pinger
}

// NewPingChecker names a Pinger for health reporting
func NewPingChecker(name string, p Pinger) *PingChecker {
	return &PingChecker{name: name, p: p}
}

// Name returns the component name
func (c *PingChecker) Name() string { return c.name }

// HealthCheck delegates to Ping
func (c *PingChecker) HealthCheck(ctx context.Context) error {
	return c.p.Ping(ctx)
}

// CheckerFunc adapts a function to HealthChecker
type CheckerFunc struct {
	ComponentName string
	Fn            func(ctx context.Context) error
}

// Name returns the component name
func (f CheckerFunc) Name() string { return f.ComponentName }

// HealthCheck calls Fn
func (f CheckerFunc) HealthCheck(ctx context.Context) error { return f.Fn(ctx) }
