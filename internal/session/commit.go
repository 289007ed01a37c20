package session

import "context"

// Committer delivers the uninserted remainder of a finished dictation into
// the focused application.
type Committer interface {
	Commit(context.Context, string) error
}

// CommitFunc adapts a function to the Committer interface.
type CommitFunc func(context.Context, string) error

func (f CommitFunc) Commit(ctx context.Context, text string) error {
	return f(ctx, text)
}
