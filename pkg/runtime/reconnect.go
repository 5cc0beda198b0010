package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jllopis/skillmesh/pkg/skills"
	"github.com/jllopis/skillmesh/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SkillLister lists the registered skills. *skills.Registry implements it.
type SkillLister interface {
	List() []skills.Descriptor
}

// SkillConnector reconnects one skill. *skills.Registry implements it.
type SkillConnector interface {
	SkillLister
	ConnectSkill(ctx context.Context, id string) error
}

// ConnectionChecker reports live connections. *mcp.Manager implements it.
type ConnectionChecker interface {
	IsConnected(skillID string) bool
}

// Reconnector periodically redials enabled skills whose connection was lost
// and calls OnChange when at least one came back.
type Reconnector struct {
	Skills   SkillConnector
	Conns    ConnectionChecker
	Interval time.Duration
	// Timeout bounds one sweep. Zero means no limit.
	Timeout  time.Duration
	OnChange func(ctx context.Context)
	Logger   *slog.Logger
	Metrics  *telemetry.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Start launches the sweep loop. A non-positive interval disables it.
func (r *Reconnector) Start() {
	log := telemetry.Component(r.Logger, "runtime")
	if r.Interval <= 0 || r.Skills == nil || r.Conns == nil {
		log.Info("runtime.reconnect.disabled", slog.Duration("interval", r.Interval))
		return
	}
	r.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.mu.Lock()
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(r.Interval)
		defer ticker.Stop()
		log.Info("runtime.reconnect.start", slog.Duration("interval", r.Interval))
		for {
			select {
			case <-ctx.Done():
				log.Info("runtime.reconnect.stop")
				return
			case <-ticker.C:
				r.Sweep(ctx)
			}
		}
	}()
}

// Stop ends the sweep loop and waits for it to exit.
func (r *Reconnector) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Sweep redials every enabled, disconnected skill once and returns the ids
// that reconnected.
func (r *Reconnector) Sweep(ctx context.Context) []string {
	log := telemetry.Component(r.Logger, "runtime")
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	ctx, span := otel.Tracer("skillmesh/runtime").Start(ctx, "Runtime.Reconnect.Sweep")
	defer span.End()
	traceID, spanID := traceIDs(span)

	var reconnected []string
	attempted := 0
	for _, d := range r.Skills.List() {
		if !d.Enabled || !d.Connects() || r.Conns.IsConnected(d.ID) {
			continue
		}
		attempted++
		start := time.Now()
		if err := r.Skills.ConnectSkill(ctx, d.ID); err != nil {
			span.AddEvent("reconnect.failed", trace.WithAttributes(attribute.String("skill.id", d.ID)))
			log.WarnContext(ctx, "runtime.reconnect.failed",
				slog.String("skill_id", d.ID),
				slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
				slog.String("trace_id", traceID),
				slog.String("span_id", spanID),
				slog.String("error", err.Error()),
			)
			continue
		}
		r.Metrics.RecordConnection(ctx, d.ID, "reconnected")
		reconnected = append(reconnected, d.ID)
	}
	span.SetAttributes(
		attribute.Int("attempted", attempted),
		attribute.Int("reconnected", len(reconnected)),
	)
	if attempted > 0 {
		log.InfoContext(ctx, "runtime.reconnect.sweep",
			slog.Int("attempted", attempted),
			slog.Int("reconnected", len(reconnected)),
			slog.String("trace_id", traceID),
			slog.String("span_id", spanID),
		)
	}
	if len(reconnected) > 0 && r.OnChange != nil {
		r.OnChange(ctx)
	}
	return reconnected
}
