package components

import (
	"context"
	"fmt"

	"github.com/harunnryd/warden/internal/daemon"
	"github.com/harunnryd/warden/internal/store"
)

const DataDirName = "DataDir"

// DataDirComponent holds the data directory lock for the daemon's lifetime.
type DataDirComponent struct {
	dir  string
	cfg  store.LockConfig
	lock *store.DirLock
}

func NewDataDirComponent(dir string, cfg store.LockConfig) *DataDirComponent {
	return &DataDirComponent{dir: dir, cfg: cfg}
}

func (c *DataDirComponent) Name() string           { return DataDirName }
func (c *DataDirComponent) Dependencies() []string { return nil }

func (c *DataDirComponent) Init(ctx context.Context) error {
	if c.dir == "" {
		return fmt.Errorf("data dir is empty")
	}
	lock, err := store.AcquireDirLock(ctx, c.dir, c.cfg)
	if err != nil {
		return err
	}
	c.lock = lock
	return nil
}

func (c *DataDirComponent) Start(ctx context.Context) error {
	return nil
}

func (c *DataDirComponent) Stop(ctx context.Context) error {
	if c.lock != nil {
		c.lock.Unlock()
	}
	return nil
}

func (c *DataDirComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	if c.lock == nil || !c.lock.IsLocked() {
		return &daemon.ComponentHealth{Name: c.Name(), Error: fmt.Errorf("data dir not locked")}, nil
	}
	return &daemon.ComponentHealth{Name: c.Name(), Healthy: true}, nil
}
