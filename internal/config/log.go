package config

import (
	"fmt"
	"log/slog"
)

// ParseLevel maps log.level (debug, info, warn, error) to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid config: log.level %q: %w", s, err)
	}
	return lvl, nil
}
