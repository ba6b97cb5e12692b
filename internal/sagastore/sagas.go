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

	"github.com/tomtom215/wavesaga/internal/saga"
)

var _ saga.Repository = (*Store)(nil)

// Create inserts a new saga instance.
func (s *Store) Create(ctx context.Context, inst *saga.Instance) error {
	doc, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("encode saga %s: %w", inst.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sagas (saga_id, saga_type, correlation_id, state, trace_id, created_at, updated_at, document)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.Type, inst.CorrelationID, string(inst.State), inst.TraceID,
		toNanos(inst.CreatedAt), toNanos(inst.UpdatedAt), string(doc),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: saga %s", ErrAlreadyExists, inst.ID)
		}
		return fmt.Errorf("insert saga %s: %w", inst.ID, err)
	}
	if err := writeMilestones(ctx, tx, inst); err != nil {
		return err
	}
	return tx.Commit()
}

// Save replaces a stored saga instance and its milestone rows.
func (s *Store) Save(ctx context.Context, inst *saga.Instance) error {
	doc, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("encode saga %s: %w", inst.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE sagas
		   SET state = ?, trace_id = ?, updated_at = ?, document = ?
		 WHERE saga_id = ?`,
		string(inst.State), inst.TraceID, toNanos(inst.UpdatedAt), string(doc), inst.ID,
	)
	if err != nil {
		return fmt.Errorf("update saga %s: %w", inst.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%w: %s", saga.ErrSagaNotFound, inst.ID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM saga_milestones WHERE saga_id = ?`, inst.ID); err != nil {
		return fmt.Errorf("clear milestones of %s: %w", inst.ID, err)
	}
	if err := writeMilestones(ctx, tx, inst); err != nil {
		return err
	}
	return tx.Commit()
}

func writeMilestones(ctx context.Context, tx *sql.Tx, inst *saga.Instance) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO saga_milestones (saga_id, idx, name, status, forward_log_id, compensation_log_id, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range inst.Records {
		if _, err := stmt.ExecContext(ctx, inst.ID, r.Index, r.Name, string(r.Status),
			r.ForwardLogID, r.CompensationLogID, r.Error); err != nil {
			return fmt.Errorf("insert milestone %s/%s: %w", inst.ID, r.Name, err)
		}
	}
	return nil
}

// Get returns the saga instance, or saga.ErrSagaNotFound.
func (s *Store) Get(ctx context.Context, id string) (*saga.Instance, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM sagas WHERE saga_id = ?`, id).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", saga.ErrSagaNotFound, id)
		}
		return nil, fmt.Errorf("get saga %s: %w", id, err)
	}
	return decodeSaga(doc)
}

func decodeSaga(doc string) (*saga.Instance, error) {
	var inst saga.Instance
	if err := json.Unmarshal([]byte(doc), &inst); err != nil {
		return nil, fmt.Errorf("decode saga: %w", err)
	}
	return &inst, nil
}

// List returns matching sagas, oldest first.
func (s *Store) List(ctx context.Context, f saga.ListFilter) ([]*saga.Instance, error) {
	query := `SELECT document FROM sagas WHERE 1 = 1`
	var args []any
	if f.Type != "" {
		query += ` AND saga_type = ?`
		args = append(args, f.Type)
	}
	if f.CorrelationID != "" {
		query += ` AND correlation_id = ?`
		args = append(args, f.CorrelationID)
	}
	if len(f.States) > 0 {
		query += ` AND state IN (` + inClause(len(f.States)) + `)`
		for _, st := range f.States {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY created_at, saga_id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sagas: %w", err)
	}
	defer rows.Close()

	var out []*saga.Instance
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		inst, err := decodeSaga(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// MilestoneRow is one projected milestone record.
type MilestoneRow struct {
	SagaID            string
	Index             int
	Name              string
	Status            saga.MilestoneStatus
	ForwardLogID      string
	CompensationLogID string
	Error             string
}

// MilestonesByStatus lists milestone rows in the given status across all
// sagas, for example every compensation_failed milestone awaiting an operator.
func (s *Store) MilestonesByStatus(ctx context.Context, status saga.MilestoneStatus) ([]MilestoneRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT saga_id, idx, name, status, forward_log_id, compensation_log_id, error
		  FROM saga_milestones
		 WHERE status = ?
		 ORDER BY saga_id, idx`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list milestones: %w", err)
	}
	defer rows.Close()

	var out []MilestoneRow
	for rows.Next() {
		var r MilestoneRow
		var st string
		if err := rows.Scan(&r.SagaID, &r.Index, &r.Name, &st, &r.ForwardLogID, &r.CompensationLogID, &r.Error); err != nil {
			return nil, err
		}
		r.Status = saga.MilestoneStatus(st)
		out = append(out, r)
	}
	return out, rows.Err()
}
