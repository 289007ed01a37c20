// Package output inserts transcript text into the focused application.
package output

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

const (
	commandTimeout     = 2 * time.Second
	typeStabilizeDelay = 150 * time.Millisecond
)

// Commands holds the external tool argvs used for insertion. TypeArgv reads
// the text from stdin; ClipboardArgv reads the clipboard payload from stdin;
// PasteArgv dispatches the paste keystroke and takes no input.
type Commands struct {
	TypeArgv      []string
	ClipboardArgv []string
	PasteArgv     []string
}

// Inserter performs block text insertion via the typing tool, with one
// stabilization retry and a clipboard-paste fallback.
type Inserter struct {
	commands Commands
	logger   *slog.Logger
	run      func(ctx context.Context, argv []string, input string) error
}

// NewInserter constructs an inserter from resolved tool commands.
func NewInserter(commands Commands, logger *slog.Logger) *Inserter {
	return &Inserter{
		commands: commands,
		logger:   logger,
		run:      runCommandWithInput,
	}
}

// InsertText types text into the focused application. The typing tool gets
// one retry after a short delay, since focus changes right around dictation
// stop are common; if typing still fails the text goes through the
// clipboard with an optional paste keystroke. Returns whether the text was
// delivered by any path.
func (i *Inserter) InsertText(ctx context.Context, text string) bool {
	if text == "" {
		return true
	}

	if len(i.commands.TypeArgv) > 0 {
		err := i.timedRun(ctx, i.commands.TypeArgv, text)
		if err == nil {
			return true
		}
		i.logger.Warn("output: typing tool failed, retrying", "error", err)

		select {
		case <-ctx.Done():
			return false
		case <-time.After(typeStabilizeDelay):
		}

		err = i.timedRun(ctx, i.commands.TypeArgv, text)
		if err == nil {
			return true
		}
		i.logger.Warn("output: typing tool failed again, falling back to clipboard", "error", err)
	}

	if len(i.commands.ClipboardArgv) == 0 {
		i.logger.Error("output: no clipboard fallback configured, text dropped", "chars", len(text))
		return false
	}
	if err := i.timedRun(ctx, i.commands.ClipboardArgv, text); err != nil {
		i.logger.Error("output: clipboard fallback failed", "error", err)
		return false
	}
	if len(i.commands.PasteArgv) > 0 {
		if err := i.timedRun(ctx, i.commands.PasteArgv, ""); err != nil {
			i.logger.Error("output: paste dispatch failed, clipboard remains set", "error", err)
			return false
		}
	}
	return true
}

func (i *Inserter) timedRun(ctx context.Context, argv []string, input string) error {
	runCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	return i.run(runCtx, argv, input)
}

// runCommandWithInput executes argv and optionally writes input to stdin.
func runCommandWithInput(ctx context.Context, argv []string, input string) error {
	if len(argv) == 0 {
		return fmt.Errorf("command argv cannot be empty")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open stdin for %s: %w", argv[0], err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start command %s: %w", argv[0], err)
	}

	if input != "" {
		if _, err := stdin.Write([]byte(input)); err != nil {
			_ = stdin.Close()
			_ = cmd.Wait()
			return fmt.Errorf("write stdin for %s: %w", argv[0], err)
		}
	}
	_ = stdin.Close()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait for %s: %w", argv[0], err)
	}
	return nil
}
