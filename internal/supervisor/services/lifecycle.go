// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package services

import (
	"context"
	"fmt"
)

// StartStopper is the lifecycle of the background workers.
//
// Satisfied by *scheduler.Scheduler and *wal.Compactor.
type StartStopper interface {
	Start(ctx context.Context) error
	Stop()
	IsRunning() bool
}

// LoopService adapts a Start/Stop worker to suture.Service: it starts the
// worker, waits for cancellation, then stops it. Stop blocks until the
// worker's goroutine has exited.
type LoopService struct {
	worker StartStopper
	name   string
}

// NewLoopService wraps worker under the given service name.
func NewLoopService(name string, worker StartStopper) *LoopService {
	return &LoopService{worker: worker, name: name}
}

// NewSchedulerService wraps the retry scheduler.
func NewSchedulerService(worker StartStopper) *LoopService {
	return NewLoopService("retry-scheduler", worker)
}

// NewCompactorService wraps the WAL compactor.
func NewCompactorService(worker StartStopper) *LoopService {
	return NewLoopService("wal-compactor", worker)
}

// Serve implements suture.Service. A Start failure is returned so the
// supervisor restarts the service with backoff.
func (s *LoopService) Serve(ctx context.Context) error {
	if err := s.worker.Start(ctx); err != nil {
		return fmt.Errorf("%s start failed: %w", s.name, err)
	}
	<-ctx.Done()
	s.worker.Stop()
	return ctx.Err()
}

// String implements fmt.Stringer; suture logs services by this name.
func (s *LoopService) String() string {
	return s.name
}
