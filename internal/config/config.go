// SPDX-License-Identifier: Apache 2.0

// Package config loads EngineConfig, the minimal settings the sync
// engine needs to run standalone (managed root, listen port, identity
// key path, protocol thresholds). The full settings loader and
// on-disk preferences file are out of scope; this mirrors the
// teacher's mapstructure-decoded nested config sections bound to
// cobra persistent flags, trimmed to the core's own needs.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/swarmsync/swarmsync/internal/ignore"
)

// ThresholdsConfig holds the protocol constants from spec §6.5. Each
// field defaults to the spec's stated value when unset.
type ThresholdsConfig struct {
	DeltaThresholdBytes     int64         `mapstructure:"delta-threshold-bytes"`
	SmallFileThresholdBytes int64         `mapstructure:"small-file-threshold-bytes"`
	BlockSizeBytes          int           `mapstructure:"block-size-bytes"`
	MaxConnectionsPerPeer   int           `mapstructure:"max-connections-per-peer"`
	MaxConcurrentInbound    int           `mapstructure:"max-concurrent-inbound"`
	DebounceWindow          time.Duration `mapstructure:"debounce-window"`
	DirRenameWindow         time.Duration `mapstructure:"dir-rename-window"`
	EchoSuppressionTTL      time.Duration `mapstructure:"echo-suppression-ttl"`
	PeerIdleTimeout         time.Duration `mapstructure:"peer-idle-timeout"`
	BroadcastInterval       time.Duration `mapstructure:"broadcast-interval"`
	FutureTimestampTolerance time.Duration `mapstructure:"future-timestamp-tolerance"`
}

// DefaultThresholds returns the spec §6.5 default threshold constants.
func DefaultThresholds() ThresholdsConfig {
	return ThresholdsConfig{
		DeltaThresholdBytes:      1 << 20,
		SmallFileThresholdBytes:  256 << 10,
		BlockSizeBytes:           64 << 10,
		MaxConnectionsPerPeer:    4,
		MaxConcurrentInbound:     50,
		DebounceWindow:           300 * time.Millisecond,
		DirRenameWindow:          500 * time.Millisecond,
		EchoSuppressionTTL:       3 * time.Second,
		PeerIdleTimeout:          60 * time.Second,
		BroadcastInterval:        5 * time.Second,
		FutureTimestampTolerance: 10 * time.Minute,
	}
}

// EngineConfig is the core's standalone run configuration, decoded
// from viper the way the teacher's FDOServerConfig is (mapstructure
// tags, a validate method called once after decode).
type EngineConfig struct {
	ManagedRoot     string            `mapstructure:"managed-root"`
	ListenPort      int               `mapstructure:"listen-port"`
	IdentityKeyPath string            `mapstructure:"identity-key-path"`
	StateDBPath     string            `mapstructure:"state-db-path"`
	StatusAddr      string            `mapstructure:"status-addr"`
	Debug           bool              `mapstructure:"debug"`
	Thresholds      ThresholdsConfig  `mapstructure:"thresholds"`
}

// Load decodes an EngineConfig from v, applying threshold defaults for
// any zero-valued field and validating required fields.
func Load(v *viper.Viper) (*EngineConfig, error) {
	cfg := &EngineConfig{Thresholds: DefaultThresholds()}
	if err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc())); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	applyThresholdDefaults(&cfg.Thresholds)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyThresholdDefaults(t *ThresholdsConfig) {
	d := DefaultThresholds()
	if t.DeltaThresholdBytes == 0 {
		t.DeltaThresholdBytes = d.DeltaThresholdBytes
	}
	if t.SmallFileThresholdBytes == 0 {
		t.SmallFileThresholdBytes = d.SmallFileThresholdBytes
	}
	if t.BlockSizeBytes == 0 {
		t.BlockSizeBytes = d.BlockSizeBytes
	}
	if t.MaxConnectionsPerPeer == 0 {
		t.MaxConnectionsPerPeer = d.MaxConnectionsPerPeer
	}
	if t.MaxConcurrentInbound == 0 {
		t.MaxConcurrentInbound = d.MaxConcurrentInbound
	}
	if t.DebounceWindow == 0 {
		t.DebounceWindow = d.DebounceWindow
	}
	if t.DirRenameWindow == 0 {
		t.DirRenameWindow = d.DirRenameWindow
	}
	if t.EchoSuppressionTTL == 0 {
		t.EchoSuppressionTTL = d.EchoSuppressionTTL
	}
	if t.PeerIdleTimeout == 0 {
		t.PeerIdleTimeout = d.PeerIdleTimeout
	}
	if t.BroadcastInterval == 0 {
		t.BroadcastInterval = d.BroadcastInterval
	}
	if t.FutureTimestampTolerance == 0 {
		t.FutureTimestampTolerance = d.FutureTimestampTolerance
	}
}

func (c *EngineConfig) validate() error {
	if c.ManagedRoot == "" {
		return errors.New("config: --managed-root is required")
	}
	if !filepath.IsAbs(c.ManagedRoot) {
		return fmt.Errorf("config: --managed-root must be an absolute path, got %q", c.ManagedRoot)
	}
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("config: --listen-port out of range: %d", c.ListenPort)
	}
	if c.IdentityKeyPath == "" {
		return errors.New("config: --identity-key-path is required")
	}
	if c.StateDBPath == "" {
		c.StateDBPath = filepath.Join(c.ManagedRoot, ignore.VaultDir, "state.db")
	}
	if c.StatusAddr == "" {
		c.StatusAddr = "127.0.0.1:7331"
	}
	return nil
}
