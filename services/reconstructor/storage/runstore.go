// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/AleutianAI/AleutianTM/services/reconstructor/datatypes"
	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound indicates an unknown run or repetition.
var ErrNotFound = errors.New("not found")

// Repetitions live under their own prefix so listing runs never reads
// their matrices.
const (
	runPrefix = "run/"
	repPrefix = "rep/"
)

func runKey(id string) []byte { return []byte(runPrefix + id) }

func repKey(id string, rep int) []byte {
	return []byte(fmt.Sprintf("%s%s/%06d", repPrefix, id, rep))
}

// RunStore persists run records under run/<id> and repetition matrices
// under rep/<id>/<n>.
//
// # Thread Safety
//
// Safe for concurrent use.
type RunStore struct {
	db *badger.DB
	gc *gcRunner
}

// Open opens the run store described by cfg.
func Open(cfg Config) (*RunStore, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	s := &RunStore{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = startGC(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
	}
	return s, nil
}

// Close stops garbage collection and closes the database.
func (s *RunStore) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

// PutRun stores rec together with the matrices of its successful
// repetitions in one transaction.
func (s *RunStore) PutRun(rec *datatypes.RunRecord, data []datatypes.RepetitionData) error {
	if rec == nil || rec.RunID == "" {
		return errors.New("run record needs a run id")
	}
	// One repetition's matrices can exceed the transaction size limit, so
	// write through a batch.
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", rec.RunID, err)
	}
	if err := wb.Set(runKey(rec.RunID), val); err != nil {
		return err
	}
	for i := range data {
		d := &data[i]
		d.RunID = rec.RunID
		val, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("marshal repetition %d: %w", d.Repetition, err)
		}
		if err := wb.Set(repKey(rec.RunID, d.Repetition), val); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("write run %s: %w", rec.RunID, err)
	}
	return nil
}

// GetRun returns the record of run id.
func (s *RunStore) GetRun(id string) (*datatypes.RunRecord, error) {
	var rec datatypes.RunRecord
	if err := s.get(runKey(id), &rec); err != nil {
		return nil, fmt.Errorf("run %s: %w", id, err)
	}
	return &rec, nil
}

// GetRepetition returns the matrices of repetition rep of run id.
func (s *RunStore) GetRepetition(id string, rep int) (*datatypes.RepetitionData, error) {
	var d datatypes.RepetitionData
	if err := s.get(repKey(id, rep), &d); err != nil {
		return nil, fmt.Errorf("run %s repetition %d: %w", id, rep, err)
	}
	return &d, nil
}

// ListRuns returns every run record, newest first.
func (s *RunStore) ListRuns() ([]datatypes.RunRecord, error) {
	var out []datatypes.RunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(runPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var rec datatypes.RunRecord
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &rec) }); err != nil {
				return fmt.Errorf("decode %s: %w", item.Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *RunStore) get(key []byte, dst any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error { return json.Unmarshal(v, dst) })
	})
}
