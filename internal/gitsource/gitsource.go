// Package gitsource keeps a local checkout of a remote question corpus
// in sync: clone on first use, pull afterwards.
package gitsource

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/go-git/go-git/v5"
)

// Sync clones the repository at url into localPath when the path does
// not exist yet, and pulls the latest changes when it does. An
// up-to-date checkout is not an error.
func Sync(url, localPath string, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	_, err := os.Stat(localPath)
	switch {
	case os.IsNotExist(err):
		log.Info("cloning question corpus", "url", url, "path", localPath)
		if _, err := git.PlainClone(localPath, false, &git.CloneOptions{URL: url}); err != nil {
			return fmt.Errorf("failed to clone corpus %s: %w", url, err)
		}
	case err == nil:
		log.Info("pulling question corpus", "path", localPath)
		repo, err := git.PlainOpen(localPath)
		if err != nil {
			return fmt.Errorf("failed to open corpus checkout at %s: %w", localPath, err)
		}
		worktree, err := repo.Worktree()
		if err != nil {
			return fmt.Errorf("failed to get worktree at %s: %w", localPath, err)
		}
		err = worktree.Pull(&git.PullOptions{RemoteName: "origin"})
		if err != nil && err != git.NoErrAlreadyUpToDate {
			return fmt.Errorf("failed to pull corpus at %s: %w", localPath, err)
		}
	default:
		return fmt.Errorf("error checking corpus path %s: %w", localPath, err)
	}
	return nil
}
