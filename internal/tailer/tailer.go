// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

// Package tailer implements the File Tailer (C7, spec.md §4.1): one
// instance per enabled Monitored File Spec, following from
// end-of-file, matching keywords, classifying severity/priority,
// consulting the Suppression Cache, and emitting Error Events to the
// Broker Publisher.
package tailer

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hostwatch/agent/internal/log"
	"github.com/hostwatch/agent/internal/model"
)

var logger = log.For("tailer")

// Publisher is the subset of *broker.Publisher the Tailer depends on.
type Publisher interface {
	Publish(evt model.ErrorEvent) bool
}

// SuppressionChecker is the subset of *suppression.Cache the Tailer
// depends on.
type SuppressionChecker interface {
	ShouldSuppress(ctx context.Context, line, hostID string) (bool, *model.SuppressionRule)
}

// LiveLogBroadcaster is the subset of *broadcast.LogBroadcaster the
// Tailer depends on, for the live-logs WebSocket surface (C9).
type LiveLogBroadcaster interface {
	Broadcast(sourceLabel, line string)
}

// Config configures one Tailer instance.
type Config struct {
	Spec             model.FileSpec
	HostID           string
	NodeID           string
	Application      string
	SelfLogPath      string // the agent's own log file; lines tagged SelfLogTag are dropped
	SelfLogTag       string
	PollMissing      time.Duration
	PollNoData       time.Duration
	RotationEOFAfter time.Duration
}

// Tailer follows one Monitored File Spec.
type Tailer struct {
	cfg     Config
	matcher *Matcher
	pub     Publisher
	supp    SuppressionChecker
	live    LiveLogBroadcaster

	file       *os.File
	reader     *bufio.Reader
	lastOffset int64
	lastInode  uint64
	lastEOFAt  time.Time
}

// New constructs a Tailer. matcher is shared across all Tailers so a
// hot-reloaded keyword set applies to every running instance.
func New(cfg Config, matcher *Matcher, pub Publisher, supp SuppressionChecker, live LiveLogBroadcaster) *Tailer {
	return &Tailer{cfg: cfg, matcher: matcher, pub: pub, supp: supp, live: live}
}

// Run follows the file until ctx is cancelled, releasing the file
// handle on return (spec.md §4.1 "Termination", P10).
func (t *Tailer) Run(ctx context.Context) {
	defer t.closeFile()

	if err := t.waitForFile(ctx); err != nil {
		return // cancelled
	}

	for {
		if ctx.Err() != nil {
			return
		}

		line, err := t.readLine()
		if err != nil {
			if err == io.EOF {
				if t.lastEOFAt.IsZero() {
					t.lastEOFAt = time.Now()
				} else if time.Since(t.lastEOFAt) > t.cfg.RotationEOFAfter {
					t.checkRotation()
					t.lastEOFAt = time.Now()
				}
				if !t.sleep(ctx, t.cfg.PollNoData) {
					return
				}
				continue
			}
			logger.Errorf("read error on %s: %v; reopening", t.cfg.Spec.Path, err)
			t.closeFile()
			if err := t.waitForFile(ctx); err != nil {
				return
			}
			continue
		}

		t.lastEOFAt = time.Time{}
		t.handleLine(ctx, line)
	}
}

// waitForFile polls until the path exists, then opens it read-only and
// seeks to end-of-file (spec.md §4.1 "Startup", P1).
func (t *Tailer) waitForFile(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f, err := os.Open(t.cfg.Spec.Path)
		if err != nil {
			if !t.sleep(ctx, t.cfg.PollMissing) {
				return ctx.Err()
			}
			continue
		}
		info, serr := f.Stat()
		if serr != nil {
			f.Close()
			if !t.sleep(ctx, t.cfg.PollMissing) {
				return ctx.Err()
			}
			continue
		}
		if _, serr := f.Seek(0, io.SeekEnd); serr != nil {
			f.Close()
			return serr
		}
		t.file = f
		t.reader = bufio.NewReader(f)
		t.lastOffset = info.Size()
		t.lastInode = inodeOf(info)
		return nil
	}
}

func (t *Tailer) closeFile() {
	if t.file != nil {
		t.file.Close()
		t.file = nil
		t.reader = nil
	}
}

// readLine reads one newline-terminated line, trimmed of the trailing
// newline (spec.md §3 "raw line"). Returns io.EOF when no full line is
// currently available.
func (t *Tailer) readLine() (string, error) {
	if t.reader == nil {
		return "", io.EOF
	}
	line, err := t.reader.ReadString('\n')
	if err != nil {
		if len(line) > 0 {
			// partial line at EOF: rewind by pushing back via re-seek
			// so it's re-read whole once the writer finishes it.
			if t.file != nil {
				pos, _ := t.file.Seek(0, io.SeekCurrent)
				t.file.Seek(pos-int64(len(line)), io.SeekStart)
				t.reader.Reset(t.file)
			}
		}
		return "", io.EOF
	}
	t.lastOffset += int64(len(line))
	return strings.TrimRight(line, "\r\n"), nil
}

// checkRotation implements spec.md §4.1's rotation/truncation policy:
// if size decreased, reopen from 0; if the inode changed or the path
// reappeared after prolonged EOF, reopen.
func (t *Tailer) checkRotation() {
	info, err := os.Stat(t.cfg.Spec.Path)
	if err != nil {
		logger.Warnf("rotation check: %s missing, will reopen on next appearance: %v", t.cfg.Spec.Path, err)
		t.closeFile()
		return
	}
	if info.Size() < t.lastOffset {
		logger.Infof("truncation detected on %s, reopening from 0", t.cfg.Spec.Path)
		t.reopenFromStart()
		return
	}
	if inodeOf(info) != t.lastInode {
		logger.Infof("rotation detected on %s (inode changed), reopening", t.cfg.Spec.Path)
		t.reopenFromStart()
	}
}

func (t *Tailer) reopenFromStart() {
	t.closeFile()
	f, err := os.Open(t.cfg.Spec.Path)
	if err != nil {
		return
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return
	}
	t.file = f
	t.reader = bufio.NewReader(f)
	t.lastOffset = 0
	t.lastInode = inodeOf(info)
}

func (t *Tailer) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// handleLine runs one line through matching, self-suppression,
// classification, suppression consult, and emission.
func (t *Tailer) handleLine(ctx context.Context, line string) {
	if t.isSelfLog() && strings.Contains(line, t.cfg.SelfLogTag) {
		return // spec.md §4.1 self-suppression, the one hardcoded exception
	}

	if !t.matcher.MatchString(line) {
		return
	}

	if t.supp != nil {
		if suppress, rule := t.supp.ShouldSuppress(ctx, line, t.cfg.HostID); suppress {
			logger.Debugf("suppressed by rule %s: %s", rule.ID, line)
			return
		}
	}

	severity := classifySeverity(line)
	priority := derivePriority(t.cfg.Spec.Priority, line)

	evt := model.ErrorEvent{
		Timestamp:   parseLineTimestamp(line),
		HostID:      t.cfg.HostID,
		NodeID:      t.cfg.NodeID,
		LogPath:     t.cfg.Spec.Path,
		LogLabel:    t.cfg.Spec.Label,
		LogLine:     line,
		Severity:    severity,
		Priority:    priority,
		Application: t.cfg.Application,
	}

	if t.live != nil {
		t.live.Broadcast(t.cfg.Spec.Label, line)
	}

	if !t.pub.Publish(evt) {
		logger.Errorf("failed to publish error event from %s (dropped): %s", t.cfg.Spec.Path, truncate(line, 200))
	}
}

func (t *Tailer) isSelfLog() bool {
	return t.cfg.SelfLogPath != "" && t.cfg.Spec.Path == t.cfg.SelfLogPath
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
