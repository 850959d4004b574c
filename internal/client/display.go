package client

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
)

// Display prints server events to the terminal.
type Display struct {
	out io.Writer

	serverColor  *color.Color
	gameColor    *color.Color
	selfColor    *color.Color
	enemyColor   *color.Color
	winColor     *color.Color
	loseColor    *color.Color
	warningColor *color.Color
	infoColor    *color.Color
}

// NewDisplay creates a display writing to out.
func NewDisplay(out io.Writer) *Display {
	return &Display{
		out:          out,
		serverColor:  color.New(color.FgCyan, color.Bold),
		gameColor:    color.New(color.FgYellow, color.Bold),
		selfColor:    color.New(color.FgCyan),
		enemyColor:   color.New(color.FgMagenta),
		winColor:     color.New(color.FgGreen, color.Bold),
		loseColor:    color.New(color.FgRed, color.Bold),
		warningColor: color.New(color.FgYellow),
		infoColor:    color.New(color.FgWhite),
	}
}

func stamp() string {
	return time.Now().Format(time.TimeOnly)
}

// Banner prints the client banner and the command summary.
func (d *Display) Banner(addr string) {
	d.gameColor.Fprintf(d.out, "stepgame client, connecting to %s\n", addr)
	d.infoColor.Fprintln(d.out, "Type a name to join, then a number to move, 'r' for a rematch, 'q' to leave the match, 'exit' to quit.")
}

// Prompt asks for the next line of input.
func (d *Display) Prompt(named bool) {
	if !named {
		fmt.Fprint(d.out, "Please enter user name: ")
		return
	}
	fmt.Fprint(d.out, "> ")
}

// Server prints a server notice.
func (d *Display) Server(format string, args ...interface{}) {
	d.serverColor.Fprintf(d.out, "[%s] [SERVER] %s\n", stamp(), fmt.Sprintf(format, args...))
}

// Game prints a match notice.
func (d *Display) Game(format string, args ...interface{}) {
	d.gameColor.Fprintf(d.out, "[%s] [GAME] %s\n", stamp(), fmt.Sprintf(format, args...))
}

// Move prints a move, coloured by who made it.
func (d *Display) Move(self bool, name string, size uint8, boardLen, boardSize int) {
	c := d.enemyColor
	if self {
		c = d.selfColor
	}
	c.Fprintf(d.out, "[%s] [MOVE] %s moved %d (%d/%d)\n", stamp(), name, size, boardLen, boardSize)
}

// Turn prints whose turn it is.
func (d *Display) Turn(self bool, name string, maxMove uint8) {
	if self {
		d.selfColor.Fprintf(d.out, "[%s] [TURN] Your move, enter 1-%d\n", stamp(), maxMove)
		return
	}
	d.enemyColor.Fprintf(d.out, "[%s] [TURN] Waiting for %s\n", stamp(), name)
}

// GameOver prints the result of a round.
func (d *Display) GameOver(selfLost bool, loser string) {
	if selfLost {
		d.loseColor.Fprintf(d.out, "[%s] [GAME OVER] You filled the board and lost. 'r' for a rematch, 'q' to leave.\n", stamp())
		return
	}
	d.winColor.Fprintf(d.out, "[%s] [GAME OVER] %s filled the board, you win! 'r' for a rematch, 'q' to leave.\n", stamp(), loser)
}

// Warning prints a local problem.
func (d *Display) Warning(format string, args ...interface{}) {
	d.warningColor.Fprintf(d.out, "[%s] [WARN] %s\n", stamp(), fmt.Sprintf(format, args...))
}
