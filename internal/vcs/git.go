// Package vcs provides the task's version control integration: repository
// setup, milestone commits, and the interested-file watcher that records
// file versions as the workspace changes.
package vcs

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/kodu-ai/kodu/internal/logging"
)

// Git runs version control operations in one working directory.
type Git struct {
	workDir string
}

// NewGit creates a git helper for workDir.
func NewGit(workDir string) *Git {
	return &Git{workDir: workDir}
}

// IsRepo reports whether workDir is inside a git repository.
func (g *Git) IsRepo() bool {
	cmd := exec.Command("git", "rev-parse", "--git-dir")
	cmd.Dir = g.workDir
	return cmd.Run() == nil
}

// Init initializes a repository in workDir when none exists yet.
func (g *Git) Init() error {
	if g.IsRepo() {
		return nil
	}
	if out, err := g.run("init"); err != nil {
		return fmt.Errorf("git init: %w: %s", err, out)
	}
	logging.Info().Str("dir", g.workDir).Msg("initialized git repository")
	return nil
}

// CommitOnMilestone stages everything and commits with the given summary.
// A clean tree is not an error; there is simply nothing to record.
func (g *Git) CommitOnMilestone(summary string) error {
	if summary == "" {
		summary = "task milestone"
	}
	if out, err := g.run("add", "-A"); err != nil {
		return fmt.Errorf("git add: %w: %s", err, out)
	}

	status, err := g.run("status", "--porcelain")
	if err != nil {
		return fmt.Errorf("git status: %w", err)
	}
	if strings.TrimSpace(status) == "" {
		return nil
	}

	if out, err := g.run("commit", "-m", summary); err != nil {
		return fmt.Errorf("git commit: %w: %s", err, out)
	}
	logging.Debug().Str("summary", summary).Msg("milestone committed")
	return nil
}

// CurrentBranch returns the checked-out branch name, empty outside a repo.
func (g *Git) CurrentBranch() string {
	out, err := g.run("rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

func (g *Git) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = g.workDir
	out, err := cmd.CombinedOutput()
	return string(out), err
}
