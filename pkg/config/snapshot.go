package config

import "time"

// Snapshot is one immutable, validated configuration generation delivered
// to subscribers on reload.
type Snapshot struct {
	// Generation increments on every successful reload, starting at 1.
	Generation uint64
	// LoadedAt records when the file was parsed.
	LoadedAt time.Time
	// Config is the validated configuration. Subscribers must not mutate it.
	Config *Config
}
