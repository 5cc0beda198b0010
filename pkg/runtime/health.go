// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jllopis/skillmesh/pkg/core"
	"github.com/jllopis/skillmesh/pkg/skills"
	"github.com/jllopis/skillmesh/pkg/telemetry"
)

// LifecycleCheck is healthy while ready, unhealthy once state reads
// "shutdown" and degraded in between.
func LifecycleCheck(state func() string, ready func() bool) core.HealthChecker {
	return core.HealthFunc(func(context.Context) core.HealthResult {
		st := state()
		switch {
		case ready():
			return core.HealthResult{Status: core.HealthHealthy, Message: "state " + st}
		case st == "shutdown":
			return core.HealthResult{Status: core.HealthUnhealthy, Message: "state " + st}
		default:
			return core.HealthResult{Status: core.HealthDegraded, Message: "state " + st}
		}
	})
}

// SkillsCheck compares enabled connecting skills with live connections.
// Some offline is degraded; all offline is unhealthy.
func SkillsCheck(list SkillLister, conns ConnectionChecker) core.HealthChecker {
	return core.HealthFunc(func(context.Context) core.HealthResult {
		var expected, live int
		var offline []string
		for _, d := range list.List() {
			if !d.Enabled || !d.Connects() {
				continue
			}
			expected++
			if conns.IsConnected(d.ID) {
				live++
			} else {
				offline = append(offline, d.ID)
			}
		}
		msg := fmt.Sprintf("%d/%d skills connected", live, expected)
		switch {
		case live == expected:
			return core.HealthResult{Status: core.HealthHealthy, Message: msg}
		case live == 0:
			return core.HealthResult{Status: core.HealthUnhealthy, Message: msg}
		default:
			return core.HealthResult{Status: core.HealthDegraded, Message: fmt.Sprintf("%s, offline %v", msg, offline)}
		}
	})
}

// StoreCheck lists descriptors to prove the store answers.
func StoreCheck(store skills.Store) core.HealthChecker {
	return core.HealthFunc(func(ctx context.Context) core.HealthResult {
		ds, err := store.ListSkills(ctx)
		if err != nil {
			return core.HealthResult{Status: core.HealthUnhealthy, Message: "store unavailable", Error: err}
		}
		return core.HealthResult{Status: core.HealthHealthy, Message: fmt.Sprintf("%d skills persisted", len(ds))}
	})
}

// Status describes an agent for the status endpoint.
type Status struct {
	Kind  string   `json:"kind"`
	State string   `json:"state"`
	Ready bool     `json:"ready"`
	Tools []string `json:"tools"`
}

// Status returns the chat agent's current status.
func (a *ChatAgent) Status() Status {
	return Status{Kind: a.kind, State: string(a.State()), Ready: a.IsReady(), Tools: a.Tools()}
}

// Status returns the ops agent's current status.
func (a *OpsAgent) Status() Status {
	return Status{Kind: a.kind, State: string(a.State()), Ready: a.IsReady(), Tools: a.Tools()}
}

// HealthHandler serves the probe and status endpoints.
type HealthHandler struct {
	checks  *core.HealthRegistry
	status  func() Status
	metrics *telemetry.Metrics
}

// NewHealthHandler builds a handler. status may be nil, in which case
// readiness only follows the checks.
func NewHealthHandler(checks *core.HealthRegistry, status func() Status, metrics *telemetry.Metrics) *HealthHandler {
	return &HealthHandler{checks: checks, status: status, metrics: metrics}
}

// Register mounts /healthz, /readyz and /v1/agent on r.
func (h *HealthHandler) Register(r gin.IRouter) {
	r.GET("/healthz", h.health)
	r.GET("/readyz", h.ready)
	r.GET("/v1/agent", h.agent)
}

func (h *HealthHandler) health(c *gin.Context) {
	results, overall := h.checks.CheckAll(c.Request.Context())
	for _, res := range results {
		h.metrics.RecordHealthStatus(c.Request.Context(), res.Component, statusValue(res.Status))
	}
	code := http.StatusOK
	if overall == core.HealthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": overall, "components": results})
}

func (h *HealthHandler) ready(c *gin.Context) {
	_, overall := h.checks.CheckAll(c.Request.Context())
	ready := overall != core.HealthUnhealthy
	if h.status != nil {
		ready = ready && h.status().Ready
	}
	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "status": overall})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true, "status": overall})
}

func (h *HealthHandler) agent(c *gin.Context) {
	if h.status == nil {
		c.JSON(http.StatusNotFound, gin.H{"err": "no agent attached"})
		return
	}
	c.JSON(http.StatusOK, h.status())
}

func statusValue(s core.HealthStatus) int64 {
	switch s {
	case core.HealthHealthy:
		return 2
	case core.HealthDegraded:
		return 1
	default:
		return 0
	}
}

// Serve runs handler on addr until ctx is done, then shuts down within five
// seconds.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	log := telemetry.Component(logger, "runtime")
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("runtime.http.listen", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	log.Info("runtime.http.shutdown", slog.String("addr", addr))
	return srv.Shutdown(shutCtx)
}
