package cmd

import (
	"errors"
	"fmt"

	"github.com/sw33tLie/beaconscope/internal/config"
	"github.com/sw33tLie/beaconscope/internal/utils"
	"github.com/sw33tLie/beaconscope/pkg/storage"
)

var errStoreBusy = errors.New("the store is in use by a running daemon; stop it or use the bridge commands")

// openStore opens the configured backend.
func openStore(s *config.Settings) (storage.Store, error) {
	opts := storage.Options{QuotaBytes: s.Store.QuotaBytes}
	switch s.Store.Driver {
	case config.DriverSQLite:
		path, err := utils.StorePath(s.Store.Path)
		if err != nil {
			return nil, err
		}
		return storage.Open(path, opts)
	case config.DriverBadger:
		cfg := storage.DefaultBadgerConfig(s.Store.Path)
		cfg.Options = opts
		cfg.Logger = utils.Component("badger")
		return storage.OpenBadger(cfg)
	case config.DriverMemory:
		return storage.NewMemory(opts), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", s.Store.Driver)
	}
}

// openLockedStore takes the store lock without waiting and opens the store.
// The returned func closes the store and releases the lock.
func openLockedStore(s *config.Settings) (storage.Store, func(), error) {
	if s.Store.Driver == config.DriverMemory {
		st, err := openStore(s)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { st.Close() }, nil
	}
	unlock, ok, err := utils.TryLockStore(s.Store.Path)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, errStoreBusy
	}
	st, err := openStore(s)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return st, func() {
		st.Close()
		unlock()
	}, nil
}
