package app

import (
	"bufio"
	"context"
	"strings"
)

// Console commands.
const (
	cmdNext    = "next"
	cmdRestart = "restart"
	cmdStatus  = "status"
	cmdQuit    = "quit"
)

// commandLoop reads one command per line until ctx ends or the user quits.
// It reports whether the user asked to quit. End of input stops reading but
// leaves the app running.
func (a *App) commandLoop(ctx context.Context) bool {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(a.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			a.logger.Warn("command input error", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return false
		case line, ok := <-lines:
			if !ok {
				a.logger.Debug("command input closed")
				return false
			}
			if a.execute(ctx, line) {
				return true
			}
		}
	}
}

// execute runs a single command line and reports whether it was quit.
func (a *App) execute(ctx context.Context, line string) bool {
	switch cmd := strings.ToLower(strings.TrimSpace(line)); cmd {
	case "", cmdNext:
		if !a.controller().Advance(a.Stable()) {
			a.logger.Debug("next ignored, session not active", "state", a.Snapshot().State)
		}
	case cmdRestart:
		a.startDialogue(ctx)
	case cmdStatus:
		a.console.Status(a.Snapshot(), a.Stable(), a.tracker.load().Stats())
	case cmdQuit, "exit", "q":
		return true
	default:
		a.console.Printf("unknown command %q (try: next, restart, status, quit)", cmd)
	}
	return false
}
