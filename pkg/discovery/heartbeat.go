package discovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/jllopis/skillmesh/pkg/errors"
	"github.com/jllopis/skillmesh/pkg/telemetry"
)

const defaultHeartbeat = 30 * time.Second

// StartHeartbeat announces a on bus and then publishes heartbeats every
// interval until the returned cancel is called, which also withdraws the
// skill.
func StartHeartbeat(ctx context.Context, bus Bus, a Announcement, interval time.Duration, logger *slog.Logger) (context.CancelFunc, error) {
	if bus == nil {
		return nil, errors.New(errors.CodeInvalidInput, "discovery bus not configured", nil)
	}
	a.Kind = KindAnnounce
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = defaultHeartbeat
	}
	logger = telemetry.Component(logger, "discovery")
	ctx, cancel := context.WithCancel(ctx)

	publish := func(msg Announcement) {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		msg.SentAt = time.Now().UTC()
		if err := bus.Publish(pubCtx, msg); err != nil {
			logger.Warn("discovery.publish.failed",
				slog.String("skill_id", msg.ID),
				slog.String("kind", string(msg.Kind)),
				slog.String("error", err.Error()),
			)
		}
	}

	publish(a)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				publish(Announcement{Kind: KindWithdraw, ID: a.ID})
				return
			case <-ticker.C:
				publish(Announcement{Kind: KindHeartbeat, ID: a.ID})
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}, nil
}
