package main

import (
	"context"
	"fmt"

	"github.com/harunnryd/warden/cmd/warden/runtime"
	"github.com/harunnryd/warden/internal/config"
	"github.com/harunnryd/warden/internal/store"

	"github.com/spf13/cobra"
)

func loadConfigForCommand(cmd *cobra.Command) (*config.Config, error) {
	if cfg != nil {
		return cfg, nil
	}
	return config.Load(cmd)
}

// executeWithRuntime builds the runtime at scope, runs fn and closes it.
// Full runtimes take the data dir lock so they never race a running server.
func executeWithRuntime(cmd *cobra.Command, scope runtime.Scope, fn func(context.Context, *runtime.Components) error) error {
	loaded, err := loadConfigForCommand(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	if scope == runtime.ScopeFull {
		lock, err := store.AcquireDirLock(ctx, loaded.Data.Dir, store.DefaultLockConfig())
		if err != nil {
			return fmt.Errorf("%w (is 'warden serve' running?)", err)
		}
		defer lock.Unlock()
	}

	components, err := runtime.NewRuntimeBuilder().
		WithContext(ctx).
		WithConfig(loaded).
		WithScope(scope).
		Build()
	if err != nil {
		return fmt.Errorf("failed to initialize runtime: %w", err)
	}
	defer components.Close()

	return fn(ctx, components)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
