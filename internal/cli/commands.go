// Package cli implements the interactive operator console of the server.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/stepgame/internal/db"
	"github.com/energizer-project/stepgame/internal/events"
	"github.com/energizer-project/stepgame/internal/server"
)

// StateSource provides live dispatcher snapshots.
type StateSource interface {
	Snapshot(ctx context.Context) (server.Snapshot, error)
}

// HistorySource provides stored match history.
type HistorySource interface {
	Recent(ctx context.Context, limit int) ([]db.MatchRecord, error)
	Leaderboard(ctx context.Context, limit int) ([]db.Standing, error)
}

var errNoHistory = errors.New("match history is disabled")

// CLI provides an interactive command-line interface.
type CLI struct {
	state    StateSource
	history  HistorySource
	eventBus *events.EventBus
	out      io.Writer
}

// NewCLI creates a new CLI handler. history may be nil.
func NewCLI(state StateSource, history HistorySource, eventBus *events.EventBus, out io.Writer) *CLI {
	return &CLI{
		state:    state,
		history:  history,
		eventBus: eventBus,
		out:      out,
	}
}

// Start reads commands from in until EOF, quit or ctx is cancelled.
func (c *CLI) Start(ctx context.Context, in io.Reader) {
	fmt.Fprintln(c.out, "\nstepgame console ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Warn().Err(err).Msg("console input failed")
		}
	}()

	for {
		fmt.Fprint(c.out, "stepgame> ")

		var line string
		select {
		case <-ctx.Done():
			return
		case l, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(l)
		}

		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		quit, err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:])
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
		if quit {
			return
		}
	}
}

// execute runs one command. It reports whether the console should stop.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) (bool, error) {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		return false, c.printStatus(ctx)
	case "sessions":
		return false, c.printSessions(ctx)
	case "games", "g":
		return false, c.printGames(ctx, args)
	case "history":
		return false, c.printHistory(ctx, args)
	case "leaderboard", "top":
		return false, c.printLeaderboard(ctx, args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down stepgame...")
		if c.eventBus != nil {
			c.eventBus.Emit(ctx, events.Event{
				Type:   events.EventShutdown,
				Source: "cli",
			})
		}
		return true, nil
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return false, nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, `
  status             Show server counters
  sessions           List connected sessions
  games [id]         List active games or show one
  history [n]        Show the last n stored matches
  leaderboard [n]    Show the top n players
  quit               Shut the server down
  help               Show this help message`)
}

func (c *CLI) printStatus(ctx context.Context) error {
	snap, err := c.state.Snapshot(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "\n  Sessions:      %d / %d\n", len(snap.Sessions), snap.Capacity)
	fmt.Fprintf(c.out, "  Waiting:       %d\n", len(snap.Waiting))
	fmt.Fprintf(c.out, "  Games:         %d\n", len(snap.Games))
	fmt.Fprintf(c.out, "  Queued frames: %d (dropped %d)\n", snap.QueuedFrames, snap.DroppedFrames)
	fmt.Fprintf(c.out, "  Pending sends: %d\n", snap.PendingSends)
	fmt.Fprintf(c.out, "  Rules:         max move %d, board %d, rematch %s\n",
		snap.Rules.MaxMove, snap.Rules.BoardSize, snap.Rules.Rematch)
	fmt.Fprintf(c.out, "  Uptime:        %s\n\n", time.Since(snap.StartedAt).Truncate(time.Second))
	return nil
}

func (c *CLI) printSessions(ctx context.Context) error {
	snap, err := c.state.Snapshot(ctx)
	if err != nil {
		return err
	}

	tw := c.table("ID", "Name", "Phase", "Partner", "Address", "Connected")
	for _, s := range snap.Sessions {
		partner := "-"
		if s.Partner != nil {
			partner = strconv.Itoa(int(*s.Partner))
		}
		tw.Append([]string{
			strconv.Itoa(int(s.ID)),
			s.Name,
			s.Phase.String(),
			partner,
			s.RemoteAddr,
			s.ConnectedAt.Format(time.TimeOnly),
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) printGames(ctx context.Context, args []string) error {
	snap, err := c.state.Snapshot(ctx)
	if err != nil {
		return err
	}

	if len(args) > 0 {
		for _, g := range snap.Games {
			if g.ID == args[0] {
				c.printGameDetail(g)
				return nil
			}
		}
		return fmt.Errorf("game not found: %s", args[0])
	}

	tw := c.table("ID", "Players", "Phase", "Round", "Board", "Active")
	for _, g := range snap.Games {
		tw.Append([]string{
			g.ID,
			playerNames(g),
			g.Phase.String(),
			strconv.Itoa(g.Round),
			fmt.Sprintf("%d/%d", g.BoardLen, g.BoardSize),
			activeName(g),
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) printGameDetail(g server.GameInfo) {
	fmt.Fprintf(c.out, "\n  Game:     %s\n", g.ID)
	fmt.Fprintf(c.out, "  Players:  %s\n", playerNames(g))
	fmt.Fprintf(c.out, "  Phase:    %s\n", g.Phase)
	fmt.Fprintf(c.out, "  Round:    %d\n", g.Round)
	fmt.Fprintf(c.out, "  Board:    %d of %d (max move %d)\n", g.BoardLen, g.BoardSize, g.MaxMove)
	fmt.Fprintf(c.out, "  Active:   %s\n", activeName(g))
	fmt.Fprintf(c.out, "  Votes:    %d\n", g.Votes)
	fmt.Fprintf(c.out, "  Started:  %s\n\n", g.StartedAt.Format(time.RFC3339))
}

func (c *CLI) printHistory(ctx context.Context, args []string) error {
	if c.history == nil {
		return errNoHistory
	}
	limit, err := parseCount(args, 10)
	if err != nil {
		return err
	}

	matches, err := c.history.Recent(ctx, limit)
	if err != nil {
		return err
	}

	tw := c.table("Match", "Players", "Rounds", "Started", "Ended")
	for _, m := range matches {
		ended := "-"
		if m.EndedAt != nil {
			ended = fmt.Sprintf("%s (%s)", m.EndedAt.Format(time.DateTime), m.EndReason)
		}
		tw.Append([]string{
			m.ID,
			m.Players[0] + " vs " + m.Players[1],
			strconv.Itoa(m.Rounds),
			m.StartedAt.Format(time.DateTime),
			ended,
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) printLeaderboard(ctx context.Context, args []string) error {
	if c.history == nil {
		return errNoHistory
	}
	limit, err := parseCount(args, 10)
	if err != nil {
		return err
	}

	standings, err := c.history.Leaderboard(ctx, limit)
	if err != nil {
		return err
	}

	tw := c.table("#", "Name", "Wins", "Losses")
	for i, s := range standings {
		tw.Append([]string{
			strconv.Itoa(i + 1),
			s.Name,
			strconv.Itoa(s.Wins),
			strconv.Itoa(s.Losses),
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) table(header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func playerNames(g server.GameInfo) string {
	names := make([]string, 0, len(g.Players))
	for _, p := range g.Players {
		names = append(names, p.Name)
	}
	return strings.Join(names, " vs ")
}

func activeName(g server.GameInfo) string {
	if g.Active == nil {
		return "-"
	}
	for _, p := range g.Players {
		if uint8(p.ID) == *g.Active {
			return p.Name
		}
	}
	return "-"
}

func parseCount(args []string, def int) (int, error) {
	if len(args) < 1 {
		return def, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid count: %s", args[0])
	}
	return n, nil
}
