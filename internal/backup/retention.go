package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// List returns the snapshots in dir, newest first. The timestamp is parsed
// from the file name; files that do not carry one use their modification time.
func List(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var out []Info
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, FileSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		ts, ok := parseName(name)
		if !ok {
			ts = info.ModTime()
		}
		out = append(out, Info{Path: filepath.Join(dir, name), Timestamp: ts, Size: info.Size()})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

func fileName(t time.Time) string {
	return FilePrefix + t.UTC().Format(timeLayout) + FileSuffix
}

func parseName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, FilePrefix) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, FilePrefix), FileSuffix)
	t, err := time.ParseInLocation(timeLayout, stamp, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// expired picks the snapshots policy does not keep, given backups sorted
// newest first.
func expired(backups []Info, policy RetentionPolicy, now time.Time) []string {
	tiers := []struct {
		maxAge time.Duration
		keep   int
		seen   int
	}{
		{24 * time.Hour, policy.Hourly, 0},
		{7 * 24 * time.Hour, policy.Daily, 0},
		{30 * 24 * time.Hour, policy.Weekly, 0},
		{365 * 24 * time.Hour, policy.Monthly, 0},
	}

	var drop []string
	for _, b := range backups {
		age := now.Sub(b.Timestamp)
		kept := false
		for i := range tiers {
			if age < tiers[i].maxAge {
				tiers[i].seen++
				kept = tiers[i].seen <= tiers[i].keep
				break
			}
		}
		if !kept {
			drop = append(drop, b.Path)
		}
	}
	return drop
}

// Prune removes the snapshots in dir that policy does not keep and returns
// their paths. Removal continues past individual failures.
func Prune(dir string, policy RetentionPolicy, now time.Time) ([]string, error) {
	backups, err := List(dir)
	if err != nil {
		return nil, err
	}

	var removed []string
	var errs []error
	for _, path := range expired(backups, policy, now) {
		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, path)
	}
	if len(errs) > 0 {
		return removed, fmt.Errorf("failed to delete some backups: %w", errors.Join(errs...))
	}
	return removed, nil
}
