// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package sagastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tomtom215/wavesaga/internal/wave"
)

var _ wave.Repository = (*Store)(nil)

// CreateWave inserts a new wave.
func (s *Store) CreateWave(ctx context.Context, w *wave.Wave) error {
	doc, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encode wave %s: %w", w.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO waves (wave_id, wave_number, status, target_system, saga_id, created_at, updated_at, document)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.WaveNumber, string(w.Status), w.TargetSystem, w.SagaID,
		toNanos(w.CreatedAt), toNanos(w.UpdatedAt), string(doc),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: wave %s", ErrAlreadyExists, w.ID)
		}
		return fmt.Errorf("insert wave %s: %w", w.ID, err)
	}
	return nil
}

// SaveWave replaces a stored wave.
func (s *Store) SaveWave(ctx context.Context, w *wave.Wave) error {
	doc, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encode wave %s: %w", w.ID, err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE waves
		   SET status = ?, saga_id = ?, updated_at = ?, document = ?
		 WHERE wave_id = ?`,
		string(w.Status), w.SagaID, toNanos(w.UpdatedAt), string(doc), w.ID,
	)
	if err != nil {
		return fmt.Errorf("update wave %s: %w", w.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", wave.ErrWaveNotFound, w.ID)
	}
	return nil
}

// GetWave returns the wave, or wave.ErrWaveNotFound.
func (s *Store) GetWave(ctx context.Context, id string) (*wave.Wave, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM waves WHERE wave_id = ?`, id).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", wave.ErrWaveNotFound, id)
		}
		return nil, fmt.Errorf("get wave %s: %w", id, err)
	}
	var w wave.Wave
	if err := json.Unmarshal([]byte(doc), &w); err != nil {
		return nil, fmt.Errorf("decode wave %s: %w", id, err)
	}
	return &w, nil
}

// ListWaves returns waves in the given statuses, or all waves, ordered by
// wave number and then creation time.
func (s *Store) ListWaves(ctx context.Context, statuses ...wave.Status) ([]*wave.Wave, error) {
	query := `SELECT document FROM waves`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + inClause(len(statuses)) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY wave_number, created_at, wave_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list waves: %w", err)
	}
	defer rows.Close()

	var out []*wave.Wave
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var w wave.Wave
		if err := json.Unmarshal([]byte(doc), &w); err != nil {
			return nil, fmt.Errorf("decode wave: %w", err)
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}
