package output

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/ewilde/mutter/internal/overlay"
)

// ErrInsertionFailed indicates every insertion strategy was exhausted.
var ErrInsertionFailed = errors.New("unable to insert dictated text")

// Committer delivers the uninserted remainder of a finished dictation and
// settles the overlay buffer phase accordingly.
type Committer struct {
	inserter TextInserter
	machine  *overlay.Machine
	logger   *slog.Logger
}

// NewCommitter wires a committer to an inserter and an optional overlay
// machine.
func NewCommitter(inserter TextInserter, machine *overlay.Machine, logger *slog.Logger) *Committer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Committer{inserter: inserter, machine: machine, logger: logger}
}

// Commit inserts text as one block. An empty or blank remainder still
// completes the overlay finalize cycle; realtime sessions often have nothing
// left to insert by the time dictation stops.
func (c *Committer) Commit(ctx context.Context, text string) error {
	if c.machine != nil {
		c.machine.BeginFinalize()
	}

	if strings.TrimSpace(text) == "" {
		if c.machine != nil {
			c.machine.CommitSucceeded()
		}
		return nil
	}

	if !c.inserter.InsertText(ctx, text) {
		if c.machine != nil {
			c.machine.CommitFailed(ErrInsertionFailed)
		}
		return ErrInsertionFailed
	}

	if c.machine != nil {
		c.machine.CommitSucceeded()
	}
	c.logger.Info("inserted finalized text", "chars", len(text))
	return nil
}
