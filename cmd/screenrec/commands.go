package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/companyzero/screenrec/recorder"
	"github.com/decred/slog"
)

// errQuit is returned by runCommands when the user asks to quit.
var errQuit = errors.New("quit requested")

// controller is the part of the engine driven by interactive commands.
type controller interface {
	Toggle() error
	TogglePause() error
	State() recorder.State
	Status() string
}

// runCommand executes a single interactive command.
func runCommand(c controller, cmd string, log slog.Logger) error {
	switch strings.ToLower(strings.TrimSpace(cmd)) {
	case "":
		return nil
	case "r", "record":
		if err := c.Toggle(); err != nil {
			log.Errorf("Unable to toggle recording: %v", err)
		}
	case "p", "pause":
		if err := c.TogglePause(); err != nil {
			log.Errorf("Unable to toggle pause: %v", err)
		}
	case "s", "status":
		log.Infof("State: %s (%s)", c.State(), c.Status())
	case "q", "quit":
		return errQuit
	default:
		log.Warnf("Unknown command %q. Commands: r (record/stop), "+
			"p (pause/resume), s (status), q (quit)", cmd)
	}
	return nil
}

// runCommands reads commands from r, one per line, until the user quits,
// r is exhausted or ctx is done.
func runCommands(ctx context.Context, r io.Reader, c controller, log slog.Logger) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			// Input closed. Keep running until ctx is done so that
			// screenrec can run detached from a terminal.
			if err != nil {
				log.Warnf("Unable to read commands: %v", err)
			}
			readErr = nil
		case line := <-lines:
			if err := runCommand(c, line, log); err != nil {
				return err
			}
		}
	}
}
