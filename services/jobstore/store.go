// Copyright (C) 2026 CaseForge AI (dev@caseforge.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package jobstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned when a job or plan does not exist or has expired.
// Clients report it as "expired", a distinct condition from a failed job.
var ErrNotFound = errors.New("record not found or expired")

// ErrInvalidTransition is returned for a patch that would move a job's stage
// backward or transition out of a terminal status.
var ErrInvalidTransition = errors.New("invalid job transition")

const (
	jobKeyPrefix  = "job:"
	planKeyPrefix = "plan:"
)

// Config holds store configuration.
type Config struct {
	// Path is the BadgerDB directory. Ignored when InMemory is true.
	Path string

	// InMemory opens a non-persistent database. Used in tests.
	InMemory bool

	// TTL bounds how long job and plan records are retained, even if
	// abandoned mid-run. Zero uses the default of 24h.
	TTL time.Duration

	// Logger receives BadgerDB's internal logging. Nil disables it.
	Logger *slog.Logger
}

// Store is the durable job/plan state store.
//
// A single pipeline run is the only expected writer for a given job id.
// Per-key read-modify-write still runs inside one badger transaction so a
// misbehaving concurrent writer cannot interleave half a patch.
type Store struct {
	db  *badger.DB
	ttl time.Duration
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open creates a Store backed by BadgerDB at the configured path.
func Open(cfg Config) (*Store, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("path is required for persistent job store")
		}
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create job store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	return &Store{db: db, ttl: cfg.TTL}, nil
}

// OpenInMemory opens a non-persistent store for testing.
func OpenInMemory() (*Store, error) {
	return Open(Config{InMemory: true})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// Jobs
// =============================================================================

// CreateJob persists a new job record with the store's TTL. CreatedAt and
// UpdatedAt are stamped here.
func (s *Store) CreateJob(job Job) error {
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = StatusPending
	}
	return s.put(jobKeyPrefix+job.ID, job)
}

// GetJob reads a job. Returns ErrNotFound for unknown or expired ids.
func (s *Store) GetJob(id string) (Job, error) {
	var job Job
	err := s.get(jobKeyPrefix+id, &job)
	return job, err
}

// PatchJob applies a partial update to a job under the store's transition
// rules: stage never decreases, terminal statuses admit no further status or
// stage changes, and UpdatedAt strictly increases. Patching a job that no
// longer exists (expired) is a silent no-op.
func (s *Store) PatchJob(id string, patch Patch) error {
	key := []byte(jobKeyPrefix + id)
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			slog.Debug("Patch for missing job ignored", "job_id", id)
			return nil
		}
		if err != nil {
			return fmt.Errorf("read job %s: %w", id, err)
		}

		var job Job
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &job)
		}); err != nil {
			return fmt.Errorf("decode job %s: %w", id, err)
		}

		if job.Status.Terminal() && (patch.Status != nil || patch.Stage != nil) {
			return fmt.Errorf("%w: job %s is already %s", ErrInvalidTransition, id, job.Status)
		}
		if patch.Stage != nil && *patch.Stage < job.Stage {
			return fmt.Errorf("%w: stage %d -> %d on job %s", ErrInvalidTransition, job.Stage, *patch.Stage, id)
		}

		applyPatch(&job, patch)

		// UpdatedAt must strictly increase even if the wall clock has
		// not advanced between two patches.
		now := time.Now().UTC()
		if !now.After(job.UpdatedAt) {
			now = job.UpdatedAt.Add(time.Nanosecond)
		}
		job.UpdatedAt = now

		val, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("encode job %s: %w", id, err)
		}
		return txn.SetEntry(badger.NewEntry(key, val).WithTTL(s.ttl))
	})
}

func applyPatch(job *Job, patch Patch) {
	if patch.Status != nil {
		job.Status = *patch.Status
	}
	if patch.Stage != nil {
		job.Stage = *patch.Stage
	}
	if patch.Message != nil {
		job.Message = *patch.Message
	}
	if patch.Count != nil {
		job.Count = *patch.Count
	}
	if patch.Model != nil {
		job.Model = *patch.Model
	}
	if patch.Error != nil {
		job.Error = *patch.Error
	}
	if patch.IsPartial != nil {
		job.IsPartial = *patch.IsPartial
	}
	if patch.Progress != nil {
		job.Progress = *patch.Progress
	}
	if patch.TestIDCounts != nil {
		job.TestIDCounts = patch.TestIDCounts
	}
}

// =============================================================================
// Plans
// =============================================================================

// SavePlan persists a plan record, stamping CreatedAt on first save and
// bumping UpdatedAt on every save.
func (s *Store) SavePlan(plan TestPlan) error {
	now := time.Now().UTC()
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = now
	}
	if !now.After(plan.UpdatedAt) {
		now = plan.UpdatedAt.Add(time.Nanosecond)
	}
	plan.UpdatedAt = now
	return s.put(planKeyPrefix+plan.ID, plan)
}

// GetPlan reads a plan. Returns ErrNotFound for unknown or expired ids.
func (s *Store) GetPlan(id string) (TestPlan, error) {
	var plan TestPlan
	err := s.get(planKeyPrefix+id, &plan)
	return plan, err
}

// =============================================================================
// Internal helpers
// =============================================================================

func (s *Store) put(key string, record any) error {
	val, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(key), val).WithTTL(s.ttl))
	})
}

func (s *Store) get(key string, out any) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}
