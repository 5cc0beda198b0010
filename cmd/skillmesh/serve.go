package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/jllopis/skillmesh/pkg/config"
	"github.com/jllopis/skillmesh/pkg/discovery"
	"github.com/jllopis/skillmesh/pkg/mcp"
	"github.com/jllopis/skillmesh/pkg/runtime"
	"github.com/jllopis/skillmesh/pkg/skills"
	"golang.org/x/sync/errgroup"
)

const reconnectInterval = 30 * time.Second

func runServe(ctx context.Context, global globalFlags, cfg *config.Config) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)
	cyan.Print(banner)
	gray.Printf("    version: %s\n\n", version)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	if err := a.agent.Start(ctx); err != nil {
		return err
	}

	green.Print("    ▶ ")
	fmt.Printf("Agent:     %s (%s)\n", cfg.Agent.Kind, a.agent.Status().State)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.ListenAddr)
	if cfg.Discovery.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Discovery: %s bus on %s\n", cfg.Discovery.Bus, cfg.Discovery.ListenAddr)
	}
	fmt.Println()

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	runtime.NewHealthHandler(a.health, a.agent.Status, a.metrics).Register(engine)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runtime.Serve(ctx, cfg.Server.ListenAddr, engine, a.logger) })

	if cfg.Discovery.Enabled {
		bus, err := newBus(cfg.Discovery, a.logger)
		if err != nil {
			return err
		}
		defer bus.Close()
		tracker := discovery.NewTracker(a.skills,
			discovery.WithTimeout(cfg.Discovery.HeartbeatTimeout),
			discovery.WithLogger(a.logger),
			discovery.WithMetrics(a.metrics),
			discovery.WithOnChange(func(ctx context.Context) { _ = a.agent.Refresh(ctx) }),
		)
		g.Go(func() error { return tracker.Run(ctx, bus) })
		handler := discovery.NewHandler(bus.Publish, tracker)
		g.Go(func() error { return runtime.Serve(ctx, cfg.Discovery.ListenAddr, handler.Engine(), a.logger) })
	}

	reconnector := &runtime.Reconnector{
		Skills:   a.skills,
		Conns:    a.manager,
		Interval: reconnectInterval,
		Timeout:  reconnectInterval / 2,
		OnChange: func(ctx context.Context) { _ = a.agent.Refresh(ctx) },
		Logger:   a.logger,
		Metrics:  a.metrics,
	}
	reconnector.Start()
	defer reconnector.Stop()

	if global.ConfigPath != "" {
		watcher, err := config.NewWatcher(global.ConfigPath,
			config.WithWatchProfile(global.Profile),
			config.WithWatchLogger(a.logger),
		)
		if err != nil {
			return err
		}
		watcher.OnChange(func(next *config.Config) { applySkills(ctx, a, next) })
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	a.logger.Info("skillmesh.serve.start",
		slog.String("kind", cfg.Agent.Kind),
		slog.String("addr", cfg.Server.ListenAddr),
		slog.Bool("discovery", cfg.Discovery.Enabled),
	)
	return g.Wait()
}

// applySkills resyncs the registry after a config reload. Loop limits and
// policies keep their startup values.
func applySkills(ctx context.Context, a *app, next *config.Config) {
	ds, err := next.Skills.Descriptors()
	if err != nil {
		a.logger.Warn("skillmesh.reload.skills", slog.String("error", err.Error()))
		return
	}
	if err := a.skills.Sync(ctx, ds); err != nil {
		a.logger.Warn("skillmesh.reload.sync", slog.String("error", err.Error()))
		return
	}
	if err := a.skills.Connect(ctx); err != nil {
		a.logger.Warn("skillmesh.reload.connect", slog.String("error", err.Error()))
	}
	a.skills.InvalidateInstructions()
	_ = a.agent.Refresh(ctx)
}

func newBus(cfg config.DiscoveryConfig, logger *slog.Logger) (discovery.Bus, error) {
	switch cfg.Bus {
	case "redis":
		return discovery.NewRedisBus(cfg.RedisURL, cfg.Channel, logger)
	default:
		return discovery.NewMemoryBus(), nil
	}
}

// runAnnounce registers a sidecar skill on the bus and heartbeats until
// interrupted, then withdraws it.
func runAnnounce(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("announce", flag.ContinueOnError)
	id := fs.String("id", "", "skill id")
	url := fs.String("url", "", "MCP endpoint of the skill")
	tier := fs.String("tier", string(skills.TierSidecar), "sidecar or service")
	transport := fs.String("transport", string(mcp.TransportStreamableHTTP), "streamable-http or sse")
	toolList := fs.String("tools", "", "comma separated tool names")
	interval := fs.Duration("interval", 30*time.Second, "heartbeat interval")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if cfg.Discovery.Bus != "redis" {
		return fmt.Errorf("announce needs discovery.bus=redis to reach other processes")
	}

	logger := slog.Default()
	bus, err := newBus(cfg.Discovery, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	var names []string
	for _, n := range strings.Split(*toolList, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	cancel, err := discovery.StartHeartbeat(ctx, bus, discovery.Announcement{
		ID:        *id,
		Tier:      skills.Tier(*tier),
		Transport: mcp.TransportKind(*transport),
		URL:       *url,
		Tools:     names,
	}, *interval, logger)
	if err != nil {
		return err
	}
	color.New(color.FgGreen).Printf("announced %s on %s\n", *id, cfg.Discovery.Channel)
	<-ctx.Done()
	cancel()
	return nil
}
