// Package config loads the handful of environment variables the sync
// service honors (spec §6) through an injected lookup function, so tests
// need no real environment variables.
package config

import (
	"strings"
	"time"
)

const (
	// DefaultListenAddr is used unless VO_SYNC_ADDR overrides it.
	DefaultListenAddr = "127.0.0.1:18080"

	envListenAddr         = "VO_SYNC_ADDR"
	envAllowMemberControl = "VO_ALLOW_MEMBER_CONTROL"

	// RoomTTL is the inactivity window after which a room is swept.
	RoomTTL = 30 * time.Minute
	// TokenTTL is the lifetime of an issued media token.
	TokenTTL = 60 * time.Minute
	// SweepInterval is how often the background sweeper runs.
	SweepInterval = 60 * time.Second
)

// Config holds the process-wide settings derived from the environment.
type Config struct {
	ListenAddr         string
	AllowMemberControl bool
}

// envLookup is the sole environment accessor (shaped like os.LookupEnv),
// injected into Load for testability.
type envLookup func(string) (string, bool)

// Load reads Config from the process environment.
func Load(lookup envLookup) Config {
	cfg := Config{
		ListenAddr:         DefaultListenAddr,
		AllowMemberControl: true,
	}
	if v, ok := lookup(envListenAddr); ok && v != "" {
		cfg.ListenAddr = v
	}
	if v, ok := lookup(envAllowMemberControl); ok {
		cfg.AllowMemberControl = isTruthy(v)
	}
	return cfg
}

func isTruthy(v string) bool {
	v = strings.TrimSpace(v)
	return v == "1" || strings.EqualFold(v, "true")
}
