// Package git provides the narrow git capability surface consumed by
// the reconciler. The core logic depends only on the Client interface;
// ShellClient implements it by shelling out to the git command.
package git

import "context"

// ChangeKind is the git name-status letter for a file change.
type ChangeKind string

const (
	Added    ChangeKind = "A"
	Modified ChangeKind = "M"
	Deleted  ChangeKind = "D"
)

// Identity is the committer identity recorded on automatic merge
// commits, kept distinct from any human user so sync commits are
// attributable to the tool.
type Identity struct {
	Name  string
	Email string
}

// Client provides the git operations needed for one reconciliation run.
//
// Callers own the target working directory for the duration of a run;
// concurrent runs against the same path are unsafe.
type Client interface {
	// IsRepo reports whether path is an initialized git checkout.
	IsRepo(path string) bool

	// Clone creates dest as a fresh checkout of branch from url.
	Clone(ctx context.Context, url, branch, dest string) error

	// Fetch updates the local record of upstream refs without touching
	// the working tree or local history.
	Fetch(ctx context.Context, dir string) error

	// UpstreamChanges returns the repository-relative paths touched
	// with the given status letter in the range HEAD..origin/<branch>.
	UpstreamChanges(ctx context.Context, dir, branch string, kind ChangeKind) ([]string, error)

	// UntrackedFiles returns working-tree paths not tracked by git and
	// not excluded by ignore rules.
	UntrackedFiles(ctx context.Context, dir string) ([]string, error)

	// ModifiedFiles returns tracked paths whose working-tree content
	// differs from the last-synced commit.
	ModifiedFiles(ctx context.Context, dir string) ([]string, error)

	// DeletedFiles returns tracked paths recorded in the index but
	// missing from the working tree.
	DeletedFiles(ctx context.Context, dir string) ([]string, error)

	// CheckoutPath restores a single file from origin/<branch>.
	CheckoutPath(ctx context.Context, dir, branch, file string) error

	// Merge merges origin/<branch> into the local branch, preferring
	// the upstream side on conflicting hunks, non-interactively and
	// with the given committer identity.
	Merge(ctx context.Context, dir, branch string, ident Identity) error

	// HeadCommit returns the full SHA of HEAD.
	HeadCommit(ctx context.Context, dir string) (string, error)
}
