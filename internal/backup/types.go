// Package backup takes consistent snapshots of the engram SQLite database,
// prunes them with a tiered retention policy and restores them.
package backup

import (
	"log/slog"
	"time"
)

// FilePrefix and FileSuffix frame every snapshot file name.
const (
	FilePrefix = "engram-"
	FileSuffix = ".db"
	timeLayout = "20060102-150405.000000"
)

// Config holds backup service configuration.
type Config struct {
	// DBPath is the SQLite database to snapshot.
	DBPath string

	// Dir is where snapshots are written.
	Dir string

	// Interval between scheduled snapshots (default: 1 hour).
	Interval time.Duration

	// Schedule is a standard cron expression or descriptor such as
	// "0 3 * * *" or "@daily". When set it replaces Interval.
	Schedule string

	// Retention bounds how many snapshots are kept per age tier.
	Retention RetentionPolicy

	// Verify runs an integrity check on every new snapshot.
	Verify bool

	Logger *slog.Logger
}

// RetentionPolicy is the number of snapshots kept in each age tier:
// hourly (<24h), daily (<7d), weekly (<30d) and monthly (<365d). Anything
// older than a year is always removed.
type RetentionPolicy struct {
	Hourly  int
	Daily   int
	Weekly  int
	Monthly int
}

// DefaultRetention keeps a day of hourlies, a week of dailies, a month of
// weeklies and a year of monthlies.
func DefaultRetention() RetentionPolicy {
	return RetentionPolicy{Hourly: 24, Daily: 7, Weekly: 4, Monthly: 12}
}

// Info describes one snapshot file.
type Info struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

// Result is the outcome of one snapshot.
type Result struct {
	Path     string        `json:"path"`
	Duration time.Duration `json:"duration"`
	Size     int64         `json:"size"`
	Verified bool          `json:"verified"`
	Pruned   []string      `json:"pruned,omitempty"`
}
