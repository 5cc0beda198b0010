package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/jllopis/skillmesh/pkg/config"
)

func runChat(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	if err := a.agent.Start(ctx); err != nil {
		return err
	}
	return repl(ctx, a, in, out)
}

// repl reads one message per line. Lines starting with "/" are commands.
func repl(ctx context.Context, a *app, in io.Reader, out io.Writer) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	gray := color.New(color.FgHiBlack)

	status := a.agent.Status()
	gray.Fprintf(out, "%s agent, state %s, %d tools. /help lists commands.\n", status.Kind, status.State, len(status.Tools))

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		cyan.Fprint(out, "you> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := command(ctx, a, line, out)
			if err != nil {
				red.Fprintf(out, "%v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		reply, err := a.agent.Chat(ctx, line)
		if reply.Text != "" {
			green.Fprint(out, "agent> ")
			fmt.Fprintln(out, reply.Text)
		}
		if reply.Capped {
			yellow.Fprintf(out, "(stopped after %d iterations)\n", reply.Iterations)
		}
		if reply.Transition != "" && err == nil {
			yellow.Fprintf(out, "(state is now %s)\n", a.agent.Status().State)
		}
		if err != nil {
			red.Fprintf(out, "%v\n", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func command(ctx context.Context, a *app, line string, out io.Writer) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(out, "/tools  /state  /refresh  /clear  /drain  /transition STATE  /quit")
	case "/tools":
		for _, name := range a.agent.Status().Tools {
			fmt.Fprintf(out, "  %s\n", name)
		}
	case "/state":
		fmt.Fprintln(out, a.agent.Status().State)
	case "/refresh":
		return false, a.agent.Refresh(ctx)
	case "/clear":
		if a.chat != nil {
			a.chat.Loop().ClearHistory()
		} else {
			a.ops.Loop().ClearHistory()
		}
	case "/drain":
		if a.chat == nil {
			return false, fmt.Errorf("/drain applies to the chat agent")
		}
		return false, a.chat.Drain()
	case "/transition":
		if a.ops == nil || len(fields) != 2 {
			return false, fmt.Errorf("usage: /transition STATE (ops agent only)")
		}
		return false, a.ops.Machine().TransitionTo(fields[1])
	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
	return false, nil
}
