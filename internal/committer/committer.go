// Package committer takes the Scheduler's TaskResults and materializes
// each successful patch as its own branch in the host repository,
// rooted at a fixed anchor commit.
package committer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentfarm/agentfarm/internal/config"
	"github.com/agentfarm/agentfarm/internal/task"
)

// TaskRecord is one line of the Patch Committer's summary.
type TaskRecord struct {
	ID      string
	Title   string
	Branch  string
	Success bool
	Error   string
}

// Summary is the Patch Committer's batch output.
type Summary struct {
	Total      int
	Successful int
	Failed     int
	Tasks      []TaskRecord
}

// Committer applies TaskResult patches against a host git repository.
type Committer struct {
	repoDir  string
	runner   gitRunner
	recovery config.RecoveryPolicy
	log      zerolog.Logger

	anchor       string
	stashed      bool
	backupBranch string
}

// New captures the repository's current HEAD as the anchor commit and
// returns a Committer bound to repoDir.
func New(ctx context.Context, repoDir string, recovery config.RecoveryPolicy, log zerolog.Logger) (*Committer, error) {
	return newWithRunner(ctx, repoDir, newShellGitRunner(), recovery, log)
}

func newWithRunner(ctx context.Context, repoDir string, runner gitRunner, recovery config.RecoveryPolicy, log zerolog.Logger) (*Committer, error) {
	c := &Committer{
		repoDir:  repoDir,
		runner:   runner,
		recovery: recovery,
		log:      log.With().Str("component", "committer").Logger(),
	}

	anchor, _, err := runner.run(ctx, repoDir, "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("resolving anchor commit: %w", err)
	}
	c.anchor = strings.TrimSpace(anchor)

	return c, nil
}

// Commit processes results in order, producing a branch per successful
// non-empty patch, and leaves the working tree on the anchor commit
// when it returns.
func (c *Committer) Commit(ctx context.Context, results []task.TaskResult) (*Summary, error) {
	if err := c.prepareWorkingTree(ctx); err != nil {
		return nil, err
	}
	defer c.restoreWorkingTree(ctx)

	summary := &Summary{Total: len(results)}

	for _, r := range results {
		record := c.commitOne(ctx, r)
		summary.Tasks = append(summary.Tasks, record)
		if record.Success {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}

	return summary, nil
}

func (c *Committer) commitOne(ctx context.Context, r task.TaskResult) TaskRecord {
	record := TaskRecord{ID: r.ID, Title: r.Title}

	if r.ID == "" || r.Title == "" || r.Status == "" {
		record.Error = "result missing id, title, or status"
		return record
	}

	if strings.TrimSpace(r.Patch) == "" {
		record.Success = true
		return record
	}

	if err := c.resetToAnchor(ctx); err != nil {
		record.Error = fmt.Sprintf("resetting to anchor: %v", err)
		return record
	}

	branch := fmt.Sprintf("task-%s-%d", r.ID, time.Now().UnixMilli())
	if _, _, err := c.runner.run(ctx, c.repoDir, "checkout", "-b", branch); err != nil {
		record.Error = fmt.Sprintf("creating branch %s: %v", branch, err)
		return record
	}
	record.Branch = branch

	if _, _, err := c.runner.runWithStdin(ctx, c.repoDir, r.Patch, "apply", "--whitespace=fix", "-"); err != nil {
		record.Error = fmt.Sprintf("%v: %v", ErrPatchApply, err)
		return record
	}

	if _, _, err := c.runner.run(ctx, c.repoDir, "add", "-A"); err != nil {
		record.Error = fmt.Sprintf("staging changes: %v", err)
		return record
	}

	message := commitMessage(r)
	if _, _, err := c.runner.run(ctx, c.repoDir, "commit", "--allow-empty", "-m", message); err != nil {
		record.Error = fmt.Sprintf("committing: %v", err)
		return record
	}

	if _, _, err := c.runner.run(ctx, c.repoDir, "checkout", c.anchor); err != nil {
		c.log.Warn().Err(err).Str("task_id", r.ID).Msg("failed to return to anchor after commit")
	}

	record.Success = true
	return record
}

// prepareWorkingTree enforces the clean-or-recoverable precondition.
func (c *Committer) prepareWorkingTree(ctx context.Context) error {
	status, _, err := c.runner.run(ctx, c.repoDir, "status", "--porcelain")
	if err != nil {
		return fmt.Errorf("checking working tree status: %w", err)
	}
	if strings.TrimSpace(status) == "" {
		return nil
	}

	dirty := c.filterIgnoredUntracked(status)
	if dirty == "" {
		return nil
	}

	switch {
	case c.recovery.BackupBranch:
		branch := fmt.Sprintf("agentfarm-backup-%d", time.Now().UnixMilli())
		if _, _, err := c.runner.run(ctx, c.repoDir, "branch", branch); err != nil {
			return fmt.Errorf("creating backup branch: %w", err)
		}
		c.backupBranch = branch
		fallthrough
	case c.recovery.AutoStash:
		args := []string{"stash", "push", "-u"}
		if _, _, err := c.runner.run(ctx, c.repoDir, args...); err != nil {
			return fmt.Errorf("auto-stashing dirty tree: %w", err)
		}
		c.stashed = true
	case c.recovery.AutoCommit:
		if _, _, err := c.runner.run(ctx, c.repoDir, "add", "-A"); err != nil {
			return fmt.Errorf("staging for auto-commit: %w", err)
		}
		if _, _, err := c.runner.run(ctx, c.repoDir, "commit", "-m", "agentfarm: auto-commit before run"); err != nil {
			return fmt.Errorf("auto-committing dirty tree: %w", err)
		}
		anchor, _, err := c.runner.run(ctx, c.repoDir, "rev-parse", "HEAD")
		if err != nil {
			return fmt.Errorf("resolving new anchor after auto-commit: %w", err)
		}
		c.anchor = strings.TrimSpace(anchor)
	default:
		return ErrDirtyWorkingTree
	}

	return nil
}

// filterIgnoredUntracked returns status with untracked-file lines ("??")
// removed when ignore-untracked is configured, so a tree with only
// untracked files is treated as clean.
func (c *Committer) filterIgnoredUntracked(status string) string {
	if !c.recovery.IgnoreUntracked {
		return status
	}
	var kept []string
	for _, line := range strings.Split(status, "\n") {
		if line == "" || strings.HasPrefix(line, "??") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// resetToAnchor hard-resets to the anchor commit and removes untracked
// files, giving each task's branch a clean baseline.
func (c *Committer) resetToAnchor(ctx context.Context) error {
	if _, _, err := c.runner.run(ctx, c.repoDir, "checkout", c.anchor); err != nil {
		return err
	}
	if _, _, err := c.runner.run(ctx, c.repoDir, "reset", "--hard", c.anchor); err != nil {
		return err
	}
	if _, _, err := c.runner.run(ctx, c.repoDir, "clean", "-fd"); err != nil {
		return err
	}
	return nil
}

// restoreWorkingTree checks out the anchor one last time and, if the
// batch auto-stashed dirty state, pops it back. Stash-pop failure is
// logged, not fatal.
func (c *Committer) restoreWorkingTree(ctx context.Context) {
	if _, _, err := c.runner.run(ctx, c.repoDir, "checkout", c.anchor); err != nil {
		c.log.Warn().Err(err).Msg("failed to leave working tree on anchor")
	}

	if c.stashed {
		if _, _, err := c.runner.run(ctx, c.repoDir, "stash", "pop"); err != nil {
			c.log.Warn().Err(err).Msg("failed to pop stash after run")
		}
	}
}

func commitMessage(r task.TaskResult) string {
	glyph := "✗"
	if r.Status == task.StatusSuccess {
		glyph = "✓"
	}

	completed := "N/A"
	if !r.CompletedAt.IsZero() {
		completed = r.CompletedAt.UTC().Format(time.RFC3339)
	}

	return fmt.Sprintf("%s Task %s: %s\n\nTask Description: %s\n\nReport: %s\n\nStatus: %s\nCompleted: %s",
		glyph, r.ID, r.Title, r.Description, r.Report, r.Status, completed)
}
