package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const dataDirLockFile = "warden.lock"

// DirLock keeps a second server from opening the same data directory.
type DirLock struct {
	fileLock   *flock.Flock
	lockPath   string
	acquiredAt time.Time
	mu         sync.RWMutex
}

type LockConfig struct {
	Timeout time.Duration
	Retry   time.Duration
}

func DefaultLockConfig() LockConfig {
	return LockConfig{Timeout: 5 * time.Second, Retry: 100 * time.Millisecond}
}

// AcquireDirLock creates dir if needed and takes its lock file, retrying until cfg.Timeout.
func AcquireDirLock(ctx context.Context, dir string, cfg LockConfig) (*DirLock, error) {
	if cfg.Timeout <= 0 || cfg.Retry <= 0 {
		cfg = DefaultLockConfig()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create dir %s: %w", dir, err)
	}

	lockPath := filepath.Join(dir, dataDirLockFile)
	fl := &DirLock{fileLock: flock.New(lockPath), lockPath: lockPath}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	locked, err := fl.fileLock.TryLockContext(ctx, cfg.Retry)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("data dir %s is locked by another instance (timeout after %v)", dir, cfg.Timeout)
		}
		return nil, fmt.Errorf("failed to attempt lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("data dir %s is locked by another instance", dir)
	}

	fl.acquiredAt = time.Now()
	slog.Info("Data dir lock acquired", "path", lockPath)
	return fl, nil
}

func (fl *DirLock) Unlock() {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.fileLock == nil {
		slog.Warn("Data dir lock already released", "path", fl.lockPath)
		return
	}
	if err := fl.fileLock.Unlock(); err != nil {
		slog.Error("Failed to release data dir lock", "path", fl.lockPath, "error", err)
	} else {
		slog.Info("Data dir lock released", "path", fl.lockPath, "held_duration_ms", time.Since(fl.acquiredAt).Milliseconds())
	}
	fl.fileLock = nil
}

func (fl *DirLock) IsLocked() bool {
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	return fl.fileLock != nil
}

func (fl *DirLock) Path() string {
	return fl.lockPath
}
