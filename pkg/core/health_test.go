// SPDX-License-Identifier: Apache-2.0
package core

import (
	"context"
	"testing"
	"time"
)

func TestStaticHealth(t *testing.T) {
	tests := []struct {
		name   string
		status HealthStatus
	}{
		{"healthy", HealthHealthy},
		{"degraded", HealthDegraded},
		{"unhealthy", HealthUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := StaticHealth(tt.status, "test message").Check(context.Background())
			if result.Status != tt.status {
				t.Errorf("expected %v, got %v", tt.status, result.Status)
			}
			if result.Message != "test message" {
				t.Errorf("expected message 'test message', got %q", result.Message)
			}
			if result.LastCheck.IsZero() {
				t.Errorf("expected LastCheck to be set")
			}
		})
	}
}

func TestHealthRegistryOverall(t *testing.T) {
	tests := []struct {
		name     string
		statuses map[string]HealthStatus
		want     HealthStatus
	}{
		{"all healthy", map[string]HealthStatus{"a": HealthHealthy, "b": HealthHealthy}, HealthHealthy},
		{"one degraded", map[string]HealthStatus{"a": HealthHealthy, "b": HealthDegraded}, HealthDegraded},
		{"unhealthy wins", map[string]HealthStatus{"a": HealthDegraded, "b": HealthUnhealthy, "c": HealthHealthy}, HealthUnhealthy},
		{"empty", map[string]HealthStatus{}, HealthHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewHealthRegistry(0)
			for name, status := range tt.statuses {
				reg.Register(name, StaticHealth(status, ""))
			}
			results, overall := reg.CheckAll(context.Background())
			if len(results) != len(tt.statuses) {
				t.Fatalf("expected %d results, got %d", len(tt.statuses), len(results))
			}
			if overall != tt.want {
				t.Errorf("expected %v overall, got %v", tt.want, overall)
			}
		})
	}
}

func TestHealthRegistrySortedResults(t *testing.T) {
	reg := NewHealthRegistry(0)
	reg.Register("zeta", StaticHealth(HealthHealthy, ""))
	reg.Register("alpha", StaticHealth(HealthHealthy, ""))

	results, _ := reg.CheckAll(context.Background())
	if results[0].Component != "alpha" || results[1].Component != "zeta" {
		t.Fatalf("unexpected order: %+v", results)
	}
}

func TestHealthRegistryCheckNotFound(t *testing.T) {
	reg := NewHealthRegistry(0)
	if _, err := reg.Check(context.Background(), "nonexistent"); err == nil {
		t.Errorf("expected error for nonexistent checker")
	}
}

func TestHealthRegistryCaches(t *testing.T) {
	calls := 0
	reg := NewHealthRegistry(time.Minute)
	reg.Register("skills", HealthFunc(func(context.Context) HealthResult {
		calls++
		return HealthResult{Status: HealthHealthy}
	}))

	for i := 0; i < 3; i++ {
		if _, err := reg.Check(context.Background(), "skills"); err != nil {
			t.Fatalf("Check failed: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected cached result after first call, got %d calls", calls)
	}

	reg.Register("skills", StaticHealth(HealthDegraded, "replaced"))
	result, _ := reg.Check(context.Background(), "skills")
	if result.Status != HealthDegraded {
		t.Fatalf("expected cache dropped on re-register, got %v", result.Status)
	}
}

func TestHealthFuncRespectsContext(t *testing.T) {
	reg := NewHealthRegistry(0)
	reg.Register("slow", HealthFunc(func(ctx context.Context) HealthResult {
		select {
		case <-ctx.Done():
			return HealthResult{Status: HealthUnhealthy, Message: "context timeout"}
		case <-time.After(100 * time.Millisecond):
			return HealthResult{Status: HealthHealthy}
		}
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	result, _ := reg.Check(ctx, "slow")
	if result.Status != HealthUnhealthy {
		t.Errorf("expected Unhealthy due to timeout, got %v", result.Status)
	}
}
