package health

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/xekr/packsmith/internal/domain"
)

// SystemHealthChecker aggregates the health of registered components
type SystemHealthChecker struct {
	mu         sync.RWMutex
	components map[string]domain.ComponentChecker

	timeout   time.Duration
	startTime time.Time

	// Cached health status to avoid hitting remote components on every request
	lastCheck   time.Time
	lastHealth  domain.SystemHealth
	cacheTTL    time.Duration
	healthMutex sync.Mutex
}

// NewSystemHealthChecker creates a checker; nil components are ignored
func NewSystemHealthChecker(components map[string]domain.ComponentChecker) *SystemHealthChecker {
	h := &SystemHealthChecker{
		components: make(map[string]domain.ComponentChecker, len(components)),
		timeout:    5 * time.Second,
		cacheTTL:   30 * time.Second,
		startTime:  time.Now(),
	}
	for name, c := range components {
		h.Register(name, c)
	}
	return h
}

// Register adds or replaces a component and drops the cached result
func (h *SystemHealthChecker) Register(name string, c domain.ComponentChecker) {
	if c == nil {
		return
	}
	h.mu.Lock()
	h.components[name] = c
	h.mu.Unlock()

	h.healthMutex.Lock()
	h.lastCheck = time.Time{}
	h.healthMutex.Unlock()
}

// SetCacheTTL changes how long a health result is reused
func (h *SystemHealthChecker) SetCacheTTL(ttl time.Duration) {
	h.healthMutex.Lock()
	defer h.healthMutex.Unlock()
	h.cacheTTL = ttl
}

// CheckHealth checks every component and reports the worst status
func (h *SystemHealthChecker) CheckHealth(ctx context.Context) domain.SystemHealth {
	h.healthMutex.Lock()
	defer h.healthMutex.Unlock()

	if !h.lastCheck.IsZero() && time.Since(h.lastCheck) < h.cacheTTL {
		return h.lastHealth
	}

	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	h.mu.RLock()
	names := slices.Sorted(maps.Keys(h.components))
	checkers := maps.Clone(h.components)
	h.mu.RUnlock()

	now := time.Now()
	components := make(map[string]domain.HealthStatus, len(names))
	overallStatus := domain.HealthStatusHealthy

	for _, name := range names {
		status := checkers[name].HealthCheck(checkCtx)
		components[name] = status
		overallStatus = aggregateStatus(overallStatus, status.Status)
	}

	systemHealth := domain.SystemHealth{
		Status:     overallStatus,
		Timestamp:  now,
		Components: components,
		Metrics: map[string]any{
			"uptime_seconds": time.Since(h.startTime).Seconds(),
		},
		Uptime: time.Since(h.startTime),
	}

	h.lastCheck = now
	h.lastHealth = systemHealth

	return systemHealth
}

// CheckComponent performs a health check on a specific component
func (h *SystemHealthChecker) CheckComponent(ctx context.Context, component string) domain.HealthStatus {
	h.mu.RLock()
	c, ok := h.components[component]
	h.mu.RUnlock()

	if !ok {
		return domain.HealthStatus{
			Status:    domain.HealthStatusUnhealthy,
			Message:   "Unknown component",
			Timestamp: time.Now(),
			Details: map[string]any{
				"component": component,
				"error":     "Component not found",
			},
		}
	}

	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return c.HealthCheck(checkCtx)
}

// IsHealthy returns true if the system is healthy
func (h *SystemHealthChecker) IsHealthy(ctx context.Context) bool {
	return h.CheckHealth(ctx).Status == domain.HealthStatusHealthy
}

// aggregateStatus keeps the worse of two statuses: unhealthy > degraded > healthy
func aggregateStatus(current, componentStatus string) string {
	statusPriority := map[string]int{
		domain.HealthStatusHealthy:   0,
		domain.HealthStatusDegraded:  1,
		domain.HealthStatusUnhealthy: 2,
	}

	if statusPriority[componentStatus] > statusPriority[current] {
		return componentStatus
	}
	return current
}
