package core

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/giantswarm/appmock/internal/fileutil"
	"github.com/gofrs/flock"
)

// Artifact directories under a base dir. The host writes its logs and its
// runtime files there.
const (
	LogsDirName = "logs"
	RunDirName  = "run"
)

// fileLockRetryInterval is the interval between attempts to take the
// artifact lock.
const fileLockRetryInterval = 50 * time.Millisecond

// ArtifactDirs returns the directories removed by the cleanup on close.
func ArtifactDirs(baseDir string) []string {
	return []string{
		filepath.Join(baseDir, LogsDirName),
		filepath.Join(baseDir, RunDirName),
	}
}

// LockPath returns the path of the artifact lock file for baseDir. All
// processes cleaning the same base dir share it.
func LockPath(lockDir, baseDir string) string {
	return filepath.Join(lockDir, "appmock-"+pathHash(baseDir)+".lock")
}

// cleanArtifacts removes the artifact directories except the kept paths,
// which Resolve made absolute.
// It is best effort: failures are logged, never returned.
func (i *Instance) cleanArtifacts() {
	ctx, cancel := context.WithTimeout(context.Background(), i.settings.LockTimeout)
	defer cancel()

	if err := fileutil.EnsureDirs(i.settings.LockDir); err != nil {
		i.log.Warn("artifact cleanup skipped", "error", err)
		return
	}
	lockPath := LockPath(i.settings.LockDir, i.cfg.BaseDir)
	fl, err := acquireFileLock(ctx, lockPath)
	if err != nil {
		i.log.Warn("artifact cleanup skipped", "error", err)
		return
	}
	defer releaseFileLock(i.log, fl)

	for _, dir := range ArtifactDirs(i.cfg.BaseDir) {
		if err := fileutil.RemoveAllExcept(dir, i.cfg.Keep); err != nil {
			i.log.Warn("artifact cleanup failed", "dir", dir, "error", err)
			continue
		}
		i.log.Debug("artifacts removed", "dir", dir)
	}
}

func acquireFileLock(ctx context.Context, lockPath string) (*flock.Flock, error) {
	fl := flock.New(lockPath)

	locked, err := fl.TryLockContext(ctx, fileLockRetryInterval)
	if err != nil {
		return nil, fmt.Errorf("acquiring artifact lock %s: %w", lockPath, err)
	}
	if !locked {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("acquiring artifact lock %s: %w", lockPath, ctx.Err())
		}
		return nil, fmt.Errorf("acquiring artifact lock %s: lock not acquired", lockPath)
	}

	return fl, nil
}

// releaseFileLock closes the lock. The lock file stays on disk so a lock
// taken by another process through the same path remains valid.
func releaseFileLock(logger *slog.Logger, fl *flock.Flock) {
	if err := fl.Close(); err != nil {
		logger.Debug("failed to release artifact lock", "path", fl.Path(), "err", err)
	}
}
