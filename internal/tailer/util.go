// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

package tailer

import (
	"os"
	"regexp"
	"syscall"
	"time"
)

// inodeOf extracts the platform inode number so rotation detection can
// tell a genuinely new file from one that merely shrank.
func inodeOf(info os.FileInfo) uint64 {
	if sys, ok := info.Sys().(*syscall.Stat_t); ok {
		return sys.Ino
	}
	return 0
}

var timestampPattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:?\d{2})?`)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// parseLineTimestamp extracts the first timestamp found anywhere in the
// line, as UTC, if recognisable, otherwise falls back to wall-clock now (spec.md §3
// Error Event: "UTC timestamp (parsed from line if recognisable, else
// wall clock)").
func parseLineTimestamp(line string) time.Time {
	match := timestampPattern.FindString(line)
	if match == "" {
		return time.Now().UTC()
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, match); err == nil {
			return ts.UTC()
		}
	}
	return time.Now().UTC()
}
