package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// A store is guarded by "<store path>.lock". The daemon holds it for its
// whole run, offline commands only try once.

const lockRetryDelay = 500 * time.Millisecond

// StorePath makes a configured store path absolute.
func StorePath(p string) (string, error) {
	if p == "" {
		return "", errors.New("store path is empty")
	}
	return filepath.Abs(p)
}

// LockStore blocks until the store lock is held or ctx is done. The
// returned func releases the lock.
func LockStore(ctx context.Context, storePath string) (func(), error) {
	fl, err := storeFlock(storePath)
	if err != nil {
		return nil, err
	}
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", fl.Path(), err)
	}
	if !ok {
		Component("lock").Warnf("Store is in use by another beaconscope process, waiting for %s", fl.Path())
		if ok, err = fl.TryLockContext(ctx, lockRetryDelay); err != nil {
			return nil, fmt.Errorf("wait for %s: %w", fl.Path(), err)
		}
		if !ok {
			return nil, fmt.Errorf("could not lock %s", fl.Path())
		}
	}
	return release(fl), nil
}

// TryLockStore takes the store lock only if it is free. ok is false when
// another process holds it.
func TryLockStore(storePath string) (unlock func(), ok bool, err error) {
	fl, err := storeFlock(storePath)
	if err != nil {
		return nil, false, err
	}
	ok, err = fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("lock %s: %w", fl.Path(), err)
	}
	if !ok {
		return nil, false, nil
	}
	return release(fl), true, nil
}

func storeFlock(storePath string) (*flock.Flock, error) {
	abs, err := StorePath(storePath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return flock.New(abs + ".lock"), nil
}

func release(fl *flock.Flock) func() {
	return func() {
		if err := fl.Unlock(); err != nil && !os.IsNotExist(err) {
			Log.Warnf("Failed to release %s: %v", fl.Path(), err)
		}
	}
}
