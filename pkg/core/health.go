// SPDX-License-Identifier: Apache-2.0
package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	// HealthHealthy indicates the component is fully operational.
	HealthHealthy HealthStatus = "HEALTHY"

	// HealthDegraded indicates the component works with reduced capacity,
	// for instance some skills are offline.
	HealthDegraded HealthStatus = "DEGRADED"

	// HealthUnhealthy indicates the component is not operational.
	HealthUnhealthy HealthStatus = "UNHEALTHY"
)

// HealthResult represents the result of a health check.
type HealthResult struct {
	Status    HealthStatus `json:"status"`
	Component string       `json:"component"`
	Message   string       `json:"message,omitempty"`
	LastCheck time.Time    `json:"last_check"`
	Error     error        `json:"-"`
}

// HealthChecker checks the health of a component.
type HealthChecker interface {
	// Check returns the current health status of the component.
	// The context can be used to implement timeouts.
	Check(ctx context.Context) HealthResult
}

// HealthFunc adapts a function to HealthChecker.
type HealthFunc func(ctx context.Context) HealthResult

// Check calls f and stamps LastCheck when unset.
func (f HealthFunc) Check(ctx context.Context) HealthResult {
	result := f(ctx)
	if result.LastCheck.IsZero() {
		result.LastCheck = time.Now()
	}
	return result
}

// StaticHealth returns a checker reporting a constant status.
func StaticHealth(status HealthStatus, message string) HealthChecker {
	return HealthFunc(func(context.Context) HealthResult {
		return HealthResult{Status: status, Message: message}
	})
}

// HealthRegistry aggregates named checkers. Results are cached for ttl so
// frequent probe requests do not hammer skill transports.
type HealthRegistry struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
	cache    map[string]HealthResult
	ttl      time.Duration
	now      func() time.Time
}

// NewHealthRegistry creates a registry. A zero ttl disables caching.
func NewHealthRegistry(ttl time.Duration) *HealthRegistry {
	return &HealthRegistry{
		checkers: make(map[string]HealthChecker),
		cache:    make(map[string]HealthResult),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Register adds or replaces a checker.
func (r *HealthRegistry) Register(name string, checker HealthChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = checker
	delete(r.cache, name)
}

// Check runs a single named checker.
func (r *HealthRegistry) Check(ctx context.Context, name string) (HealthResult, error) {
	r.mu.RLock()
	checker, ok := r.checkers[name]
	cached, hit := r.cache[name]
	r.mu.RUnlock()
	if !ok {
		return HealthResult{}, fmt.Errorf("checker not registered: %s", name)
	}
	if hit && r.ttl > 0 && r.now().Sub(cached.LastCheck) < r.ttl {
		return cached, nil
	}

	result := checker.Check(ctx)
	result.Component = name
	if result.LastCheck.IsZero() {
		result.LastCheck = r.now()
	}
	r.mu.Lock()
	r.cache[name] = result
	r.mu.Unlock()
	return result, nil
}

// CheckAll runs every checker and folds the results into an overall status:
// unhealthy wins over degraded, degraded over healthy. Results are sorted by
// component name.
func (r *HealthRegistry) CheckAll(ctx context.Context) ([]HealthResult, HealthStatus) {
	r.mu.RLock()
	names := make([]string, 0, len(r.checkers))
	for name := range r.checkers {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	overall := HealthHealthy
	results := make([]HealthResult, 0, len(names))
	for _, name := range names {
		result, err := r.Check(ctx, name)
		if err != nil {
			// Unregistered between snapshot and check.
			continue
		}
		results = append(results, result)
		switch result.Status {
		case HealthUnhealthy:
			overall = HealthUnhealthy
		case HealthDegraded:
			if overall == HealthHealthy {
				overall = HealthDegraded
			}
		}
	}
	return results, overall
}
