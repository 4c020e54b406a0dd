// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config defines the node's runtime parameters, the way the
// teacher's (now-removed) consensus config.Parameters/DefaultParams
// pair worked: one flat struct, one constructor of sane defaults, one
// Validate pass that collects every problem before returning.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/trumanellis/indranet/utils/wrappers"
)

// Config is every tunable the core reads (spec §6's Configuration
// list) plus the node-level items a runnable node additionally needs.
type Config struct {
	// StaleTimeout is how long a route-table entry may go without a
	// confirmed delivery before it is pruned.
	StaleTimeout time.Duration

	// BackpropTimeout is how long a back-propagation record may go
	// without an advance before it is swept as TimedOut.
	BackpropTimeout time.Duration

	// PendingMaxTotal is the admission cap across all peers' pending
	// queues combined.
	PendingMaxTotal int

	// PendingMaxPerPeer is the admission cap for a single peer's
	// pending queue.
	PendingMaxPerPeer int

	// AllowLegacyUnsigned accepts unsigned wire bytes when true.
	// Production deployments leave this false (spec §9 Open Question:
	// left as a deployment policy toggle, not hard-removed).
	AllowLegacyUnsigned bool

	// TTLDefault is the starting hop budget stamped on packets
	// originated locally.
	TTLDefault uint8

	// DataDir is the node's on-disk state root: CRDT document blobs,
	// pending.log, the blob store, and the kvstore databases all live
	// under it.
	DataDir string

	// ListenAddress is the node's transport bind address.
	ListenAddress string

	// DiagnosticsAddress serves /healthz and /metrics. Empty disables
	// the diagnostics server.
	DiagnosticsAddress string

	// BlobGCInterval is how often the node's gcLoop sweeps expired
	// artifact grants and timed-out back-prop records.
	BlobGCInterval time.Duration

	// SyncTickInterval is carried in the configuration, but no
	// component reads it: the node runs no periodic sync tick, and
	// sync happens only in response to a SyncRequest or a peer coming
	// online.
	SyncTickInterval time.Duration
}

// Default returns the parameter set spec §6 names as defaults.
func Default() Config {
	return Config{
		StaleTimeout:        5 * time.Minute,
		BackpropTimeout:     30 * time.Second,
		PendingMaxTotal:     1_000_000,
		PendingMaxPerPeer:   50_000,
		AllowLegacyUnsigned: false,
		TTLDefault:          16,
		DataDir:             "./indranet-data",
		ListenAddress:       "0.0.0.0:7700",
		DiagnosticsAddress:  "127.0.0.1:7701",
		BlobGCInterval:      10 * time.Minute,
		SyncTickInterval:    30 * time.Second,
	}
}

// Validate collects every configuration problem rather than failing
// on the first one, so a misconfigured node reports everything wrong
// in one pass.
func (c Config) Validate() error {
	var errs wrappers.Errs

	if c.StaleTimeout <= 0 {
		errs.Add(errInvalid("stale_timeout must be positive"))
	}
	if c.BackpropTimeout <= 0 {
		errs.Add(errInvalid("backprop_timeout must be positive"))
	}
	if c.PendingMaxTotal <= 0 {
		errs.Add(errInvalid("pending.max_total must be positive"))
	}
	if c.PendingMaxPerPeer <= 0 {
		errs.Add(errInvalid("pending.max_per_peer must be positive"))
	}
	if c.PendingMaxPerPeer > c.PendingMaxTotal {
		errs.Add(errInvalid("pending.max_per_peer cannot exceed pending.max_total"))
	}
	if c.TTLDefault == 0 {
		errs.Add(errInvalid("ttl_default must be nonzero"))
	}
	if c.DataDir == "" {
		errs.Add(errInvalid("data_dir must be set"))
	}
	if c.ListenAddress == "" {
		errs.Add(errInvalid("listen_address must be set"))
	}

	return errs.Err()
}

// ApplyEnv overrides c with any INDRANET_* environment variables set,
// the way NewConsensusFactory reads USE_C_CONSENSUS: presence wins,
// malformed values are ignored rather than failing startup (Validate
// catches anything that matters).
func (c Config) ApplyEnv() Config {
	if v, ok := os.LookupEnv("INDRANET_DATA_DIR"); ok {
		c.DataDir = v
	}
	if v, ok := os.LookupEnv("INDRANET_LISTEN_ADDRESS"); ok {
		c.ListenAddress = v
	}
	if v, ok := os.LookupEnv("INDRANET_DIAGNOSTICS_ADDRESS"); ok {
		c.DiagnosticsAddress = v
	}
	if v, ok := os.LookupEnv("INDRANET_ALLOW_LEGACY_UNSIGNED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.AllowLegacyUnsigned = b
		}
	}
	if v, ok := os.LookupEnv("INDRANET_TTL_DEFAULT"); ok {
		if n, err := strconv.ParseUint(v, 10, 8); err == nil {
			c.TTLDefault = uint8(n)
		}
	}
	if v, ok := os.LookupEnv("INDRANET_STALE_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			c.StaleTimeout = d
		}
	}
	if v, ok := os.LookupEnv("INDRANET_BACKPROP_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			c.BackpropTimeout = d
		}
	}
	return c
}

type invalidConfigError string

func (e invalidConfigError) Error() string { return string(e) }

func errInvalid(msg string) error { return invalidConfigError(msg) }
