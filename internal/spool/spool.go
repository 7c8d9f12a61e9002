// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

// Package spool implements the Telemetry Spool (C4, spec.md §4.4): a
// durable FIFO of pending Metric Snapshots, backed by an embedded
// bbolt database so it survives process restart.
package spool

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hostwatch/agent/internal/log"
	"github.com/hostwatch/agent/internal/model"
)

var logger = log.For("spool")

var entriesBucket = []byte("entries")

// entryRecord is the on-disk payload stored per id, matching spec.md
// §6's spool schema: id, timestamp, payload, retry_count, created_at,
// last_attempt_at.
type entryRecord struct {
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
	RetryCount  int             `json:"retry_count"`
	CreatedAt   time.Time       `json:"created_at"`
	LastAttempt time.Time       `json:"last_attempt_at"`
}

// Spool is a durable FIFO keyed by monotonic identifier (spec.md §4.4).
// Safe for one writer (Sampler) and one reader (Publisher)
// simultaneously; bbolt serializes transactions internally.
type Spool struct {
	db      *bolt.DB
	maxSize int

	mu sync.Mutex // serializes the eviction check around Enqueue
}

// Open opens (creating if absent) the bbolt file at path.
func Open(path string, maxSize int) (*Spool, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open spool db %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(entriesBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init spool bucket: %w", err)
	}
	return &Spool{db: db, maxSize: maxSize}, nil
}

func (s *Spool) Close() error { return s.db.Close() }

// Enqueue appends snapshot, evicting the oldest entry first if the
// spool is at capacity (spec.md §4.4).
func (s *Spool) Enqueue(snap model.MetricSnapshot) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	var id uint64
	now := time.Now().UTC()
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(entriesBucket)

		if b.Stats().KeyN >= s.maxSize {
			if err := evictOldest(b); err != nil {
				return err
			}
			logger.Warnf("spool at capacity (%d), evicted oldest entry", s.maxSize)
		}

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = seq
		rec := entryRecord{Timestamp: snap.Timestamp, Payload: payload, CreatedAt: now, LastAttempt: time.Time{}}
		buf, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(idKey(id), buf)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// evictOldest drops the entry with the smallest id (FIFO order by
// enqueue sequence, which is monotonic with snapshot timestamp under
// spec.md's "monotonic timestamps per host" invariant).
func evictOldest(b *bolt.Bucket) error {
	c := b.Cursor()
	k, _ := c.First()
	if k == nil {
		return nil
	}
	return b.Delete(k)
}

// Dequeue returns up to limit oldest entries without removing them,
// ordered by snapshot timestamp ascending (spec.md §4.4).
func (s *Spool) Dequeue(limit int) ([]model.SpoolEntry, error) {
	var out []model.SpoolEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec entryRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				logger.Errorf("dropping corrupt spool entry id=%d: %v", keyToID(k), err)
				continue
			}
			out = append(out, model.SpoolEntry{
				ID:          keyToID(k),
				Timestamp:   rec.Timestamp,
				Payload:     rec.Payload,
				RetryCount:  rec.RetryCount,
				CreatedAt:   rec.CreatedAt,
				LastAttempt: rec.LastAttempt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkSent removes the entry, implementing spec.md §4.4's MarkSent.
func (s *Spool) MarkSent(id uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).Delete(idKey(id))
	})
}

// MarkFailed increments the retry count; if it reaches maxRetries the
// entry is removed and stillQueued is false (spec.md §4.4).
func (s *Spool) MarkFailed(id uint64, maxRetries int) (stillQueued bool, err error) {
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		v := b.Get(idKey(id))
		if v == nil {
			stillQueued = false
			return nil
		}
		var rec entryRecord
		if uerr := json.Unmarshal(v, &rec); uerr != nil {
			return b.Delete(idKey(id))
		}
		rec.RetryCount++
		rec.LastAttempt = time.Now().UTC()
		if rec.RetryCount >= maxRetries {
			stillQueued = false
			return b.Delete(idKey(id))
		}
		stillQueued = true
		buf, merr := json.Marshal(rec)
		if merr != nil {
			return merr
		}
		return b.Put(idKey(id), buf)
	})
	return stillQueued, err
}

// Size returns the current entry count.
func (s *Spool) Size() int {
	var n int
	_ = s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(entriesBucket).Stats().KeyN
		return nil
	})
	return n
}

// Stats returns the observability summary from spec.md §4.4.
func (s *Spool) Stats() model.SpoolStats {
	stats := model.SpoolStats{ByRetryCount: map[int]int{}}
	_ = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		c := b.Cursor()
		first := true
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec entryRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			stats.Total++
			stats.ByRetryCount[rec.RetryCount]++
			if first {
				stats.OldestTimestamp = rec.Timestamp
				first = false
			}
		}
		return nil
	})
	return stats
}

func idKey(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

func keyToID(k []byte) uint64 {
	return binary.BigEndian.Uint64(k)
}
