// Command skillmesh runs a lifecycle-gated agent over skills and legacy
// tool packs.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/jllopis/skillmesh/pkg/config"
)

var version = "dev"

const banner = `
    ┌─┐┬┌─┬┬  ┬  ┌┬┐┌─┐┌─┐┬ ┬
    └─┐├┴┐││  │  │││├┤ └─┐├─┤
    └─┘┴ ┴┴┴─┘┴─┘┴ ┴└─┘└─┘┴ ┴
`

type globalFlags struct {
	ConfigArgs []string
	ConfigPath string
	Profile    string
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(err)
	}
	if global.Help || len(args) == 0 {
		printUsage()
		return
	}

	switch args[0] {
	case "version":
		printVersion()
		return
	case "help":
		printUsage()
		return
	}

	cfg, err := config.LoadWithCLI(global.ConfigArgs)
	if err != nil {
		fatal(err)
	}

	switch args[0] {
	case "chat":
		err = runChat(ctx, cfg, os.Stdin, os.Stdout)
	case "serve":
		err = runServe(ctx, global, cfg)
	case "skills":
		err = runSkills(ctx, cfg, os.Stdout)
	case "serve-plugins":
		err = runServePlugins(args[1:])
	case "announce":
		err = runAnnounce(ctx, cfg, args[1:])
	default:
		err = fmt.Errorf("unknown command %q", args[0])
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
}

// parseGlobalFlags splits the config flags understood by config.LoadWithCLI
// from the command and its arguments.
func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	var flags globalFlags
	var rest []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")
		switch name {
		case "-h", "--help":
			flags.Help = true
			continue
		case "--config", "--profile", "--env", "--set":
		default:
			rest = append(rest, arg)
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("%s requires a value", name)
			}
			i++
			value = args[i]
		}
		flags.ConfigArgs = append(flags.ConfigArgs, name, value)
		switch name {
		case "--config":
			flags.ConfigPath = value
		case "--profile", "--env":
			flags.Profile = value
		}
	}
	return flags, rest, nil
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	fmt.Print(`
Usage: skillmesh [--config FILE] [--profile NAME] [--set key=value]... <command>

Commands:
  chat            Interactive session with the configured agent
  serve           Run the agent with health, discovery and config reload
  skills          List configured skills and the merged tool catalog
  serve-plugins   Serve the legacy tool packs over MCP stdio
  announce        Announce a sidecar skill on the discovery bus and heartbeat
  version         Print the version
`)
}

func printVersion() {
	fmt.Printf("skillmesh %s\n", version)
}

func fatal(err error) {
	red := color.New(color.FgRed, color.Bold)
	red.Fprint(os.Stderr, "error: ")
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
