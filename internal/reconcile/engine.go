// Package reconcile implements the sync engine: it brings a local
// working copy up to date with its upstream branch while preserving
// user-made edits by renaming them to timestamped backups.
package reconcile

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/schaermu/nbsyncd/internal/config"
	"github.com/schaermu/nbsyncd/internal/git"
	"github.com/schaermu/nbsyncd/internal/metrics"
)

// Engine orchestrates one reconciliation run. Steps execute strictly
// in sequence; the engine assumes exclusive ownership of the target
// working directory for the duration of the run.
type Engine struct {
	cfg      *config.Config
	git      git.Client
	logger   *slog.Logger
	recorder metrics.Recorder
	dryRun   bool
	now      func() time.Time
}

// NewEngine creates a reconciliation engine.
func NewEngine(cfg *config.Config, gitClient git.Client, logger *slog.Logger, dryRun bool) *Engine {
	return &Engine{
		cfg:      cfg,
		git:      gitClient,
		logger:   logger,
		recorder: metrics.NoopRecorder{},
		dryRun:   dryRun,
		now:      time.Now,
	}
}

// WithRecorder injects a metrics recorder.
func (e *Engine) WithRecorder(r metrics.Recorder) *Engine {
	e.recorder = r
	return e
}

// Run executes a complete reconciliation: clone when the local copy is
// absent, otherwise fetch, avoid conflicts and merge upstream in.
func (e *Engine) Run(ctx context.Context) error {
	log := e.logger.With("run_id", uuid.NewString())
	start := time.Now()
	e.recorder.RunStarted()

	err := e.run(ctx, log)

	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeFailure
	}
	e.recorder.RunFinished(outcome, time.Since(start).Seconds())
	return err
}

func (e *Engine) run(ctx context.Context, log *slog.Logger) error {
	repo := e.cfg.Repo
	log.Info("starting sync",
		"url", repo.URL,
		"branch", repo.Branch,
		"dir", repo.Dir,
		"dry_run", e.dryRun)

	if !e.git.IsRepo(repo.Dir) {
		if e.dryRun {
			log.Info("[dry-run] would clone", "url", repo.URL, "branch", repo.Branch, "dir", repo.Dir)
			return nil
		}
		log.Info("local clone not found, cloning", "dir", repo.Dir)
		if err := e.git.Clone(ctx, repo.URL, repo.Branch, repo.Dir); err != nil {
			return err
		}
		log.Info("clone complete", "dir", repo.Dir)
		return nil
	}

	log.Info("fetching upstream refs", "url", repo.URL)
	if err := e.git.Fetch(ctx, repo.Dir); err != nil {
		return err
	}

	plan, err := e.buildPlan(ctx, log)
	if err != nil {
		return err
	}
	log.Info("conflict avoidance plan",
		"renames", len(plan.Renames),
		"restores", len(plan.Restores))

	if e.dryRun {
		e.logPlanDetails(log, plan)
		log.Info("dry-run complete, no changes applied")
		return nil
	}

	e.applyRenames(log, plan.Renames)
	e.applyRestores(ctx, log, plan.Restores)

	log.Info("merging upstream into local clone", "branch", repo.Branch)
	ident := git.Identity{Name: e.cfg.Sync.CommitterName, Email: e.cfg.Sync.CommitterEmail}
	if err := e.git.Merge(ctx, repo.Dir, repo.Branch, ident); err != nil {
		return err
	}

	if head, err := e.git.HeadCommit(ctx, repo.Dir); err == nil {
		log.Info("sync completed successfully", "commit", head)
	} else {
		log.Info("sync completed successfully")
	}
	return nil
}

// buildPlan enumerates local and upstream divergence and derives the
// conflict-avoidance actions for this run.
func (e *Engine) buildPlan(ctx context.Context, log *slog.Logger) (Plan, error) {
	dir, branch := e.cfg.Repo.Dir, e.cfg.Repo.Branch

	upstreamAdded, err := e.git.UpstreamChanges(ctx, dir, branch, git.Added)
	if err != nil {
		return Plan{}, err
	}
	for _, p := range upstreamAdded {
		log.Debug("new upstream file", "path", p)
	}

	untracked, err := e.git.UntrackedFiles(ctx, dir)
	if err != nil {
		return Plan{}, err
	}
	modified, err := e.git.ModifiedFiles(ctx, dir)
	if err != nil {
		return Plan{}, err
	}
	deleted, err := e.git.DeletedFiles(ctx, dir)
	if err != nil {
		return Plan{}, err
	}

	return BuildPlan(modified, untracked, upstreamAdded, deleted, e.now()), nil
}

// applyRenames moves planned files to their timestamped backups. Files
// missing at decision time are silently skipped.
func (e *Engine) applyRenames(log *slog.Logger, renames []Rename) {
	moved := 0
	for _, r := range renames {
		from := filepath.Join(e.cfg.Repo.Dir, r.From)
		to := filepath.Join(e.cfg.Repo.Dir, r.To)
		if _, err := os.Stat(from); err != nil {
			continue
		}
		if err := os.Rename(from, to); err != nil {
			log.Warn("failed to move file aside", "path", r.From, "error", err)
			continue
		}
		moved++
		log.Info("moved file to avoid conflict with upstream", "path", r.From, "backup", r.To)
	}
	e.recorder.FilesRenamed(moved)
}

// applyRestores checks locally deleted files back out of the upstream
// branch. A path no longer resolvable upstream is a per-file warning,
// not a run failure: upstream deletion is a legitimate terminal state.
func (e *Engine) applyRestores(ctx context.Context, log *slog.Logger, restores []string) {
	restored := 0
	for _, p := range restores {
		if err := e.git.CheckoutPath(ctx, e.cfg.Repo.Dir, e.cfg.Repo.Branch, p); err != nil {
			log.Warn("could not restore deleted file, upstream no longer has it", "path", p, "error", err)
			continue
		}
		restored++
		log.Info("restored locally deleted file", "path", p)
	}
	e.recorder.FilesRestored(restored)
}

func (e *Engine) logPlanDetails(log *slog.Logger, plan Plan) {
	for _, r := range plan.Renames {
		log.Info("[dry-run] would move", "path", r.From, "backup", r.To)
	}
	for _, p := range plan.Restores {
		log.Info("[dry-run] would restore", "path", p)
	}
	if plan.Empty() {
		log.Info("[dry-run] nothing to move or restore")
	}
}
