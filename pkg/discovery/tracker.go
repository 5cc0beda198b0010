package discovery

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jllopis/skillmesh/pkg/errors"
	"github.com/jllopis/skillmesh/pkg/skills"
	"github.com/jllopis/skillmesh/pkg/telemetry"
)

// DefaultHeartbeatTimeout disables an extension skill after this much
// silence.
const DefaultHeartbeatTimeout = 90 * time.Second

// Registry is the part of the skill registry the tracker drives.
type Registry interface {
	Upsert(ctx context.Context, d skills.Descriptor) error
	Get(id string) (skills.Descriptor, bool)
	ConnectSkill(ctx context.Context, id string) error
}

// TrackerOption customizes a Tracker.
type TrackerOption func(*Tracker)

// WithTimeout sets the heartbeat timeout.
func WithTimeout(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) TrackerOption {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// WithMetrics records connection events for tracked skills.
func WithMetrics(m *telemetry.Metrics) TrackerOption {
	return func(t *Tracker) {
		t.metrics = m
	}
}

// WithOnChange is called after the set of enabled extension skills changed,
// typically to refresh the tool catalog.
func WithOnChange(fn func(ctx context.Context)) TrackerOption {
	return func(t *Tracker) {
		t.onChange = fn
	}
}

// Tracked describes one extension skill the tracker has heard from.
type Tracked struct {
	ID       string    `json:"id"`
	LastSeen time.Time `json:"last_seen"`
	Enabled  bool      `json:"enabled"`
}

// Tracker applies announcements to the registry.
type Tracker struct {
	registry Registry
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	onChange func(ctx context.Context)

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

// NewTracker creates a tracker over registry.
func NewTracker(registry Registry, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		registry: registry,
		timeout:  DefaultHeartbeatTimeout,
		now:      time.Now,
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = telemetry.Component(t.logger, "discovery")
	return t
}

// Handle applies one announcement. An announce upserts and connects the
// skill; a heartbeat refreshes its deadline and re-enables it if it had
// expired; a withdraw disables it. Skills not owned by extensions are never
// touched.
func (t *Tracker) Handle(ctx context.Context, a Announcement) error {
	if a.Kind == "" {
		a.Kind = KindAnnounce
	}
	if err := a.Validate(); err != nil {
		return err
	}
	existing, known := t.registry.Get(a.ID)
	if known && existing.Owner != skills.OwnerExtension {
		return errors.New(errors.CodeInvalidInput, "skill "+a.ID+" is not extension-owned", nil).
			WithContext("skill_id", a.ID).
			WithContext("owner", string(existing.Owner))
	}

	switch a.Kind {
	case KindWithdraw:
		t.forget(a.ID)
		if known && existing.Enabled {
			return t.disable(ctx, existing, "withdrawn")
		}
		return nil
	case KindHeartbeat:
		if !known {
			t.logger.DebugContext(ctx, "discovery.heartbeat.unknown", slog.String("skill_id", a.ID))
			return errors.New(errors.CodeNotFound, "heartbeat for unknown skill "+a.ID, nil).WithRecoverable(true)
		}
		t.touch(a.ID)
		if !existing.Enabled {
			existing.Enabled = true
			return t.apply(ctx, existing)
		}
		return nil
	default:
		t.touch(a.ID)
		d := a.Descriptor()
		if known && existing.Enabled && sameAnnouncement(existing, d) {
			return nil
		}
		return t.apply(ctx, d)
	}
}

func sameAnnouncement(a, b skills.Descriptor) bool {
	if a.URL != b.URL || a.Tier != b.Tier || a.Transport != b.Transport || a.Version != b.Version || len(a.Headers) != len(b.Headers) {
		return false
	}
	for k, v := range a.Headers {
		if b.Headers[k] != v {
			return false
		}
	}
	return true
}

func (t *Tracker) apply(ctx context.Context, d skills.Descriptor) error {
	if err := t.registry.Upsert(ctx, d); err != nil {
		return err
	}
	t.logger.InfoContext(ctx, "discovery.skill.enabled",
		slog.String("skill_id", d.ID),
		slog.String("url", d.URL),
	)
	if err := t.registry.ConnectSkill(ctx, d.ID); err != nil {
		t.metrics.RecordError(ctx, err, "discovery")
	}
	t.changed(ctx)
	return nil
}

func (t *Tracker) disable(ctx context.Context, d skills.Descriptor, reason string) error {
	d.Enabled = false
	if err := t.registry.Upsert(ctx, d); err != nil {
		return err
	}
	t.metrics.RecordConnection(ctx, d.ID, reason)
	t.logger.WarnContext(ctx, "discovery.skill.disabled",
		slog.String("skill_id", d.ID),
		slog.String("reason", reason),
	)
	t.changed(ctx)
	return nil
}

func (t *Tracker) changed(ctx context.Context) {
	if t.onChange != nil {
		t.onChange(ctx)
	}
}

func (t *Tracker) touch(id string) {
	t.mu.Lock()
	t.lastSeen[id] = t.now()
	t.mu.Unlock()
}

func (t *Tracker) forget(id string) {
	t.mu.Lock()
	delete(t.lastSeen, id)
	t.mu.Unlock()
}

// Sweep disables every tracked skill whose last heartbeat is older than the
// timeout and returns their ids.
func (t *Tracker) Sweep(ctx context.Context) []string {
	now := t.now()
	t.mu.Lock()
	var expired []string
	for id, seen := range t.lastSeen {
		if now.Sub(seen) > t.timeout {
			expired = append(expired, id)
			delete(t.lastSeen, id)
		}
	}
	t.mu.Unlock()
	sort.Strings(expired)

	for _, id := range expired {
		d, ok := t.registry.Get(id)
		if !ok || !d.Enabled || d.Owner != skills.OwnerExtension {
			continue
		}
		if err := t.disable(ctx, d, "expired"); err != nil {
			t.logger.ErrorContext(ctx, "discovery.expire.failed",
				slog.String("skill_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return expired
}

// Tracked lists the skills with a live deadline, sorted by id.
func (t *Tracker) Tracked() []Tracked {
	t.mu.Lock()
	out := make([]Tracked, 0, len(t.lastSeen))
	for id, seen := range t.lastSeen {
		out = append(out, Tracked{ID: id, LastSeen: seen})
	}
	t.mu.Unlock()
	for i := range out {
		if d, ok := t.registry.Get(out[i].ID); ok {
			out[i].Enabled = d.Enabled
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Run consumes bus until ctx ends, sweeping expired skills periodically.
func (t *Tracker) Run(ctx context.Context, bus Bus) error {
	msgs, err := bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	ticker := time.NewTicker(t.timeout / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.Sweep(ctx)
		case a, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := t.Handle(ctx, a); err != nil {
				t.logger.WarnContext(ctx, "discovery.announcement.rejected",
					slog.String("skill_id", a.ID),
					slog.String("kind", string(a.Kind)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
