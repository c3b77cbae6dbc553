// Package config loads and validates the daemon settings from viper.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/sw33tLie/beaconscope/pkg/reaper"
	"github.com/sw33tLie/beaconscope/pkg/storage"
	"github.com/sw33tLie/beaconscope/pkg/tablog"
)

// Viper keys.
const (
	KeyMaxEvents       = "capture.max_events"
	KeyStoreDriver     = "store.driver"
	KeyStorePath       = "store.path"
	KeyStoreQuota      = "store.quota_bytes"
	KeyServerListen    = "server.listen"
	KeyServerUsername  = "server.username"
	KeyServerPassword  = "server.password"
	KeyReaperInterval  = "reaper.interval"
	KeyReaperRetention = "reaper.retention"
)

const (
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
	DriverMemory = "memory"

	DefaultListen = "127.0.0.1:7411"
)

type Settings struct {
	Capture CaptureSettings `mapstructure:"capture"`
	Store   StoreSettings   `mapstructure:"store"`
	Server  ServerSettings  `mapstructure:"server"`
	Reaper  ReaperSettings  `mapstructure:"reaper"`
}

type CaptureSettings struct {
	MaxEvents int `mapstructure:"max_events" validate:"min=1,max=10000"`
}

type StoreSettings struct {
	Driver     string `mapstructure:"driver" validate:"oneof=sqlite badger memory"`
	Path       string `mapstructure:"path"`
	QuotaBytes int64  `mapstructure:"quota_bytes" validate:"gte=0"`
}

type ServerSettings struct {
	Listen   string `mapstructure:"listen" validate:"required,hostname_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password" validate:"required_with=Username"`
}

type ReaperSettings struct {
	Interval  time.Duration `mapstructure:"interval" validate:"gte=1m"`
	Retention time.Duration `mapstructure:"retention" validate:"gt=0"`
}

var validate = validator.New()

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyMaxEvents, tablog.DefaultMaxEvents)
	v.SetDefault(KeyStoreDriver, DriverSQLite)
	v.SetDefault(KeyStorePath, "")
	v.SetDefault(KeyStoreQuota, storage.DefaultQuotaBytes)
	v.SetDefault(KeyServerListen, DefaultListen)
	v.SetDefault(KeyServerUsername, "")
	v.SetDefault(KeyServerPassword, "")
	v.SetDefault(KeyReaperInterval, reaper.DefaultInterval)
	v.SetDefault(KeyReaperRetention, reaper.DefaultRetention)
}

// Load decodes and validates the settings held by v. An empty store path is
// resolved to the default location for the driver.
func Load(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validate.Struct(&s); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if s.Store.Path == "" && s.Store.Driver != DriverMemory {
		p, err := DefaultStorePath(s.Store.Driver)
		if err != nil {
			return nil, err
		}
		s.Store.Path = p
	}
	return &s, nil
}

// DefaultStorePath is ~/.config/beaconscope/store.sqlite, or the badger
// directory next to it.
func DefaultStorePath(driver string) (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".config", "beaconscope")
	if driver == DriverBadger {
		return filepath.Join(dir, "badger"), nil
	}
	return filepath.Join(dir, "store.sqlite"), nil
}
