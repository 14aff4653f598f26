package reconcile

import (
	"path/filepath"
	"strings"
	"time"
)

// Rename relocates a local file to a timestamped backup beside it so
// the upstream version can occupy the original path.
type Rename struct {
	From string
	To   string
}

// Plan is the ordered set of conflict-avoidance actions computed for a
// single run: files to rename out of the merge's way and deleted files
// to restore from upstream.
type Plan struct {
	Renames  []Rename
	Restores []string
}

// Empty reports whether the plan requires no action.
func (p Plan) Empty() bool {
	return len(p.Renames) == 0 && len(p.Restores) == 0
}

// BuildPlan applies the conflict-avoidance policy:
//
//  1. every locally modified tracked file is renamed, unconditionally;
//  2. every untracked local file whose path collides with a file newly
//     added upstream is renamed;
//  3. every path deleted locally but recorded in the index is restored
//     from the upstream branch.
//
// Backup names embed the given timestamp; paths are deduplicated, so
// each backup target is distinct within the run.
func BuildPlan(modified, untracked, upstreamAdded, deleted []string, now time.Time) Plan {
	added := make(map[string]bool, len(upstreamAdded))
	for _, p := range upstreamAdded {
		added[p] = true
	}

	var plan Plan
	seen := make(map[string]bool)
	move := func(path string) {
		if path == "" || seen[path] {
			return
		}
		seen[path] = true
		plan.Renames = append(plan.Renames, Rename{From: path, To: BackupPath(path, now)})
	}

	for _, p := range modified {
		move(p)
	}
	for _, p := range untracked {
		if added[p] {
			move(p)
		}
	}

	for _, p := range deleted {
		if p != "" {
			plan.Restores = append(plan.Restores, p)
		}
	}

	return plan
}

// BackupPath derives the backup name for a file by inserting a
// __YYYYMMDDHHMMSS token immediately before the extension, or at the
// end when the file has none: "notes.txt" becomes
// "notes__20240102030405.txt", "README" becomes "README__20240102030405".
// The leading dot of a dotfile is part of the name, not an extension,
// so ".gitignore" becomes ".gitignore__20240102030405".
func BackupPath(path string, t time.Time) string {
	stamp := "__" + t.Format("20060102150405")
	ext := filepath.Ext(path)
	if ext == filepath.Base(path) {
		ext = ""
	}
	return strings.TrimSuffix(path, ext) + stamp + ext
}
