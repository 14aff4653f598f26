package git

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	gogit "github.com/go-git/go-git/v5"

	"github.com/schaermu/nbsyncd/internal/proc"
)

// Auth configures optional authentication for network operations. At
// most one mechanism may be set; config validation enforces that the
// mechanism matches the upstream URL scheme.
type Auth struct {
	SSHKeyFile     string
	HTTPSTokenFile string
}

// ShellClient implements Client by shelling out to the git command,
// streaming each operation's output to the logger at debug level.
type ShellClient struct {
	auth   Auth
	logger *slog.Logger
}

// NewShellClient creates a git client that uses the git command.
func NewShellClient(logger *slog.Logger, auth Auth) *ShellClient {
	return &ShellClient{auth: auth, logger: logger}
}

// IsRepo reports whether path holds a valid git-controlled checkout,
// not merely an existing directory.
func (c *ShellClient) IsRepo(path string) bool {
	_, err := gogit.PlainOpen(path)
	return err == nil
}

func (c *ShellClient) Clone(ctx context.Context, url, branch, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return &CloneError{URL: url, Err: err}
	}
	spec, err := c.networkSpec("", "clone", "--branch", branch, url, dest)
	if err != nil {
		return &CloneError{URL: url, Err: err}
	}
	if err := proc.Run(ctx, c.logger, spec); err != nil {
		return &CloneError{URL: url, Err: err}
	}
	return nil
}

func (c *ShellClient) Fetch(ctx context.Context, dir string) error {
	spec, err := c.networkSpec(dir, "fetch", "origin")
	if err != nil {
		return &FetchError{Dir: dir, Err: err}
	}
	if err := proc.Run(ctx, c.logger, spec); err != nil {
		return &FetchError{Dir: dir, Err: err}
	}
	return nil
}

func (c *ShellClient) UpstreamChanges(ctx context.Context, dir, branch string, kind ChangeKind) ([]string, error) {
	out, err := proc.Output(ctx, c.spec(dir, "log", "..origin/"+branch, "--oneline", "--name-status"))
	if err != nil {
		return nil, &QueryError{Op: "log --name-status", Err: err}
	}
	return parseNameStatus(out, kind), nil
}

func (c *ShellClient) UntrackedFiles(ctx context.Context, dir string) ([]string, error) {
	out, err := proc.Output(ctx, c.spec(dir, "ls-files", "--others", "--exclude-standard"))
	if err != nil {
		return nil, &QueryError{Op: "ls-files --others", Err: err}
	}
	return splitPaths(out), nil
}

func (c *ShellClient) ModifiedFiles(ctx context.Context, dir string) ([]string, error) {
	out, err := proc.Output(ctx, c.spec(dir, "diff", "--name-only", "HEAD"))
	if err != nil {
		return nil, &QueryError{Op: "diff --name-only", Err: err}
	}
	return splitPaths(out), nil
}

func (c *ShellClient) DeletedFiles(ctx context.Context, dir string) ([]string, error) {
	out, err := proc.Output(ctx, c.spec(dir, "ls-files", "--deleted"))
	if err != nil {
		return nil, &QueryError{Op: "ls-files --deleted", Err: err}
	}
	return splitPaths(out), nil
}

func (c *ShellClient) CheckoutPath(ctx context.Context, dir, branch, file string) error {
	return proc.Run(ctx, c.logger, c.spec(dir, "checkout", "origin/"+branch, "--", file))
}

func (c *ShellClient) Merge(ctx context.Context, dir, branch string, ident Identity) error {
	spec := c.spec(dir,
		"-c", "user.name="+ident.Name,
		"-c", "user.email="+ident.Email,
		"merge", "--no-edit", "-X", "theirs", "origin/"+branch)
	err := proc.Run(ctx, c.logger, spec)
	if err == nil {
		return nil
	}

	// A merge stopped on unresolved conflicts leaves paths in the
	// unmerged state; abort so the repository is not left mid-merge.
	if files := c.conflictedFiles(ctx, dir); len(files) > 0 {
		if abortErr := proc.Run(ctx, c.logger, c.spec(dir, "merge", "--abort")); abortErr != nil {
			c.logger.Warn("merge --abort failed", "dir", dir, "error", abortErr)
		}
		return &ConflictError{Branch: branch, Files: files}
	}
	return &MergeError{Branch: branch, Err: err}
}

func (c *ShellClient) HeadCommit(ctx context.Context, dir string) (string, error) {
	out, err := proc.Output(ctx, c.spec(dir, "rev-parse", "HEAD"))
	if err != nil {
		return "", &QueryError{Op: "rev-parse HEAD", Err: err}
	}
	return strings.TrimSpace(out), nil
}

// conflictedFiles lists paths left unmerged by a failed merge. Errors
// are swallowed: this only refines failure classification.
func (c *ShellClient) conflictedFiles(ctx context.Context, dir string) []string {
	out, err := proc.Output(ctx, c.spec(dir, "diff", "--name-only", "--diff-filter=U"))
	if err != nil {
		return nil
	}
	return splitPaths(out)
}

// spec builds a plain git invocation in dir.
func (c *ShellClient) spec(dir string, args ...string) proc.Spec {
	return proc.Spec{Dir: dir, Name: "git", Args: args}
}

// networkSpec builds a git invocation with authentication wired in for
// operations that talk to the remote.
func (c *ShellClient) networkSpec(dir string, args ...string) (proc.Spec, error) {
	spec := c.spec(dir, args...)

	if c.auth.SSHKeyFile != "" {
		// The key path is shell-quoted to prevent injection via
		// crafted filenames.
		sshCmd := fmt.Sprintf("ssh -i %s -o StrictHostKeyChecking=accept-new -F /dev/null", shellQuote(c.auth.SSHKeyFile))
		spec.Env = append(spec.Env, "GIT_SSH_COMMAND="+sshCmd)
		return spec, nil
	}

	if c.auth.HTTPSTokenFile != "" {
		token, err := os.ReadFile(c.auth.HTTPSTokenFile)
		if err != nil {
			return proc.Spec{}, fmt.Errorf("read HTTPS token file: %w", err)
		}
		// Pass the token via environment and a credential helper that
		// reads it, keeping the secret out of the argument list.
		spec.Env = append(spec.Env,
			"GIT_TERMINAL_PROMPT=0",
			"NBSYNCD_GIT_TOKEN="+strings.TrimSpace(string(token)))
		spec.Args = append([]string{
			"-c", `credential.helper=!f() { echo "username=x-access-token"; echo "password=$NBSYNCD_GIT_TOKEN"; }; f`,
		}, spec.Args...)
		return spec, nil
	}

	return spec, nil
}

// parseNameStatus extracts paths with the given status letter from
// git log --name-status output. Each matching path appears once, in
// first-seen order.
func parseNameStatus(out string, kind ChangeKind) []string {
	var paths []string
	seen := make(map[string]bool)
	prefix := string(kind) + "\t"
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		p := strings.TrimSpace(strings.TrimPrefix(line, prefix))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		paths = append(paths, p)
	}
	return paths
}

// splitPaths splits newline-separated git output into non-empty paths.
func splitPaths(out string) []string {
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if p := strings.TrimSpace(line); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// shellQuote wraps s in single quotes, escaping any embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
