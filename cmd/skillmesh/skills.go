package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/jllopis/skillmesh/pkg/config"
	"github.com/jllopis/skillmesh/pkg/mcp"
	"github.com/jllopis/skillmesh/pkg/plugins"
)

func runSkills(ctx context.Context, cfg *config.Config, out io.Writer) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	if err := a.catalog.Refresh(ctx); err != nil {
		color.New(color.FgYellow).Fprintf(out, "catalog incomplete: %v\n\n", err)
	}
	return printSkills(a, out)
}

func printSkills(a *app, out io.Writer) error {
	bold := color.New(color.Bold)
	bold.Fprintln(out, "Skills")
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIER\tOWNER\tENABLED\tCONNECTED")
	for _, d := range a.skills.List() {
		connected := "-"
		if d.Connects() {
			connected = fmt.Sprint(a.manager.IsConnected(d.ID))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", d.ID, d.Tier, d.Owner, d.Enabled, connected)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out)
	bold.Fprintln(out, "Tools")
	tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSOURCE\tDESCRIPTION")
	for _, e := range a.catalog.Catalog() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Definition.Name, e.Source, e.Definition.Description)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if collisions := a.catalog.Collisions(); len(collisions) > 0 {
		color.New(color.FgYellow).Fprintf(out, "\nlegacy tools shadowed by skills: %v\n", collisions)
	}
	return nil
}

// runServePlugins exposes the legacy packs as an MCP stdio server so they
// can be registered as a stdio skill.
func runServePlugins(args []string) error {
	srv := mcp.NewServer("skillmesh-plugins", version)
	packs := []*plugins.Pack{plugins.ClockPack(nil), plugins.NotesPack()}
	for _, arg := range args {
		if arg == "--lifecycle" {
			packs = append(packs, plugins.LifecyclePack())
		}
	}
	for _, p := range packs {
		for _, t := range p.Tools {
			srv.RegisterTool(t.Definition, t.Handler)
		}
	}
	return srv.ServeStdio()
}
