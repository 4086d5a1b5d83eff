// Package cli implements the interactive RCON console and the table
// output shared by the one-shot commands.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/fadmin-project/fadmin/internal/bridge"
	"github.com/fadmin-project/fadmin/internal/metrics"
	"github.com/fadmin-project/fadmin/internal/rcon"
)

// Session is the part of rcon.Session the console uses.
type Session interface {
	State() rcon.State
	Version() string
	Send(ctx context.Context, command string) (string, error)
}

// Console reads commands line by line and runs them over one session.
type Console struct {
	session Session
	in      io.Reader
	out     io.Writer
}

// NewConsole creates a console reading from in and writing to out.
func NewConsole(session Session, in io.Reader, out io.Writer) *Console {
	return &Console{
		session: session,
		in:      in,
		out:     out,
	}
}

// Run reads commands until input ends, "quit" is entered or ctx is
// cancelled. Command failures are printed and do not stop the console.
func (c *Console) Run(ctx context.Context) error {
	fmt.Fprintln(c.out, "\nfadmin console ready. Type 'help' for available commands.")
	fmt.Fprintln(c.out, "─────────────────────────────────────────────────────")

	scanner := bufio.NewScanner(c.in)
	for {
		if ctx.Err() != nil {
			return nil
		}

		fmt.Fprint(c.out, "fadmin> ")
		if !scanner.Scan() {
			fmt.Fprintln(c.out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		quit, err := c.execute(ctx, line)
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// execute processes a single console line. Lines that are not console
// commands go to the game server verbatim.
func (c *Console) execute(ctx context.Context, line string) (bool, error) {
	switch strings.ToLower(line) {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		return false, c.printStatus(ctx)
	case "stats":
		return false, c.printStats(ctx)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Bye.")
		return true, nil
	default:
		out, err := c.session.Send(ctx, line)
		if err != nil {
			return false, err
		}
		if out != "" {
			fmt.Fprintln(c.out, strings.TrimRight(out, "\n"))
		}
	}
	return false, nil
}

// printHelp displays available commands.
func (c *Console) printHelp() {
	fmt.Fprintln(c.out, "\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(c.out, "║                    fadmin console commands                   ║")
	fmt.Fprintln(c.out, "╠══════════════════════════════════════════════════════════════╣")
	fmt.Fprintln(c.out, "║  status             Show connection and online players       ║")
	fmt.Fprintln(c.out, "║  stats              Show production statistics               ║")
	fmt.Fprintln(c.out, "║  /<command>         Run a server command, e.g. /time         ║")
	fmt.Fprintln(c.out, "║  <text>             Say something in game chat               ║")
	fmt.Fprintln(c.out, "║  quit               Leave the console                        ║")
	fmt.Fprintln(c.out, "║  help               Show this help message                   ║")
	fmt.Fprintln(c.out, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(c.out)
}

func (c *Console) printStatus(ctx context.Context) error {
	var players []string
	if c.session.State() == rcon.StateConnected {
		body, err := c.session.Send(ctx, bridge.PlayersCommand)
		if err != nil {
			return err
		}
		if players, err = bridge.ParsePlayers(body); err != nil {
			return err
		}
	}
	RenderStatus(c.out, c.session.State(), c.session.Version(), players)
	return nil
}

func (c *Console) printStats(ctx context.Context) error {
	snap, err := FetchStats(ctx, c.session)
	if err != nil {
		return err
	}
	RenderStats(c.out, snap)
	return nil
}

// FetchStats runs the stats command and parses the result.
func FetchStats(ctx context.Context, session interface {
	Send(ctx context.Context, command string) (string, error)
}) (*metrics.Snapshot, error) {
	body, err := session.Send(ctx, metrics.StatsCommand)
	if err != nil {
		return nil, err
	}
	return metrics.ParseSnapshot(body)
}

// RenderStatus prints the connection state and online players.
func RenderStatus(w io.Writer, state rcon.State, version string, players []string) {
	fmt.Fprintf(w, "\n  State:    %s\n", state)
	if version != "" {
		fmt.Fprintf(w, "  Version:  %s\n", version)
	}
	if state != rcon.StateConnected {
		fmt.Fprintln(w)
		return
	}
	fmt.Fprintf(w, "  Players:  %d\n", len(players))
	for _, name := range players {
		fmt.Fprintf(w, "    - %s\n", name)
	}
	fmt.Fprintln(w)
}

// RenderStats prints a snapshot as a table.
func RenderStats(w io.Writer, snap *metrics.Snapshot) {
	fmt.Fprintf(w, "\n  Game tick:  %d\n", snap.GameTick)
	fmt.Fprintf(w, "  Players:    %d\n\n", snap.PlayerCount)

	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"Force", "Statistic", "Direction", "Item", "Count"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	rows := append(snap.ForceFlows(), snap.GameFlows()...)
	for _, row := range rows {
		force := row.Force
		if force == "" {
			force = "-"
		}
		tw.Append([]string{
			force,
			strings.TrimSuffix(row.Statistic, "_statistics"),
			row.Direction,
			row.Item,
			formatCount(row.Value),
		})
	}

	tw.Render()
	fmt.Fprintln(w)
}

func formatCount(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}
