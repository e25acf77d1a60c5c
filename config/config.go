/*
	Package config resolves this run's settings from the environment,
	following the same nil-means-disabled convention the teacher's
	config package uses for optional paths: the optional cache
	directory is absent when its environment variable is unset, not
	defaulted to some guessed-at path. The other settings fall back to
	fixed defaults when unset.
*/
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	envBlobDir        = "REDUCTOR_BLOB_DIR"
	envCacheDir       = "REDUCTOR_CACHE_DIR"
	envPollerTimeout  = "REDUCTOR_POLLER_TIMEOUT_MS"
	envLocalWorkDir   = "REDUCTOR_LOCAL_WORKDIR"
	envStatusInterval = "REDUCTOR_STATUS_INTERVAL_MS"
)

const (
	defaultPollerTimeout  = 100 * time.Millisecond
	defaultStatusInterval = 100 * time.Millisecond
)

// BlobDir returns the root of the content-addressed blob/reduction
// store. Unlike the optional CacheDir below, this one has no sensible
// nil case: a Reductor with nowhere to put blobs can't run at all.
func BlobDir() (string, error) {
	pth := os.Getenv(envBlobDir)
	if pth == "" {
		pth = "./.reductor-store"
	}
	return filepath.Abs(pth)
}

// CacheDir returns the directory reduction results are memoized
// under, or nil if REDUCTOR_CACHE_DIR is unset -- meaning this run
// memoizes in memory only and forgets everything on exit.
func CacheDir() (*string, error) {
	pth := os.Getenv(envCacheDir)
	if pth == "" {
		return nil, nil
	}
	abs, err := filepath.Abs(pth)
	if err != nil {
		return nil, err
	}
	return &abs, nil
}

// LocalWorkDir returns the scratch directory the local engine stages
// job workspaces under.
func LocalWorkDir() (string, error) {
	pth := os.Getenv(envLocalWorkDir)
	if pth == "" {
		pth = os.TempDir() + "/reductor-jobs"
	}
	return filepath.Abs(pth)
}

// PollerTimeout returns the base poll timeout the straggler-detection
// backoff grows from.
func PollerTimeout() (time.Duration, error) {
	raw := os.Getenv(envPollerTimeout)
	if raw == "" {
		return defaultPollerTimeout, nil
	}
	ms, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// StatusInterval returns how often the status line is allowed to
// repaint.
func StatusInterval() (time.Duration, error) {
	raw := os.Getenv(envStatusInterval)
	if raw == "" {
		return defaultStatusInterval, nil
	}
	ms, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}
