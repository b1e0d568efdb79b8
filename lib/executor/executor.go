// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
)

// PanicError is returned by Run when a task panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("executor: task panicked: %v", e.Value)
}

// Stats counts executor activity.
type Stats struct {
	TasksStarted   uint64
	TasksCompleted uint64
	TasksPanicked  uint64
	Suspensions    uint64
}

// Executor serializes tasks through a single execution slot.
type Executor struct {
	slot   chan struct{}
	logger *slog.Logger
	nextID atomic.Uint64

	tasksStarted   atomic.Uint64
	tasksCompleted atomic.Uint64
	tasksPanicked  atomic.Uint64
	suspensions    atomic.Uint64
}

// New returns an idle Executor.
func New(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Executor{
		slot:   make(chan struct{}, 1),
		logger: logger,
	}
}

// Task is the handle a running task uses to suspend.
type Task struct {
	executor *Executor
	id       uint64
}

// ID returns the task's identifier, unique within its Executor.
func (t *Task) ID() uint64 { return t.id }

// Run waits for the execution slot, runs fn, and frees the slot. If ctx
// is cancelled before the slot is acquired, fn does not run and Run
// returns ctx.Err(). A panic in fn is recovered and returned as a
// *PanicError; the slot is freed on every path.
func (e *Executor) Run(ctx context.Context, fn func(ctx context.Context, task *Task) error) error {
	select {
	case e.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer e.release()

	task := &Task{executor: e, id: e.nextID.Add(1)}
	e.tasksStarted.Add(1)
	return e.runTask(ctx, task, fn)
}

func (e *Executor) runTask(ctx context.Context, task *Task, fn func(context.Context, *Task) error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			e.tasksPanicked.Add(1)
			e.logger.Error("task panicked", "task", task.id, "panic", fmt.Sprint(recovered))
			err = &PanicError{Value: recovered, Stack: debug.Stack()}
			return
		}
		e.tasksCompleted.Add(1)
	}()
	return fn(ctx, task)
}

func (e *Executor) acquire() { e.slot <- struct{}{} }

func (e *Executor) release() { <-e.slot }

// Await frees the execution slot, runs fn, and waits for the slot again
// before returning fn's result. The slot is reacquired even when ctx is
// cancelled, so the caller always resumes holding it. If fn panics, the
// slot is reacquired before the panic continues.
func (t *Task) Await(ctx context.Context, fn func(ctx context.Context) error) error {
	e := t.executor
	e.suspensions.Add(1)
	e.release()
	defer e.acquire()
	return fn(ctx)
}

// Stats returns a snapshot of the executor's counters.
func (e *Executor) Stats() Stats {
	return Stats{
		TasksStarted:   e.tasksStarted.Load(),
		TasksCompleted: e.tasksCompleted.Load(),
		TasksPanicked:  e.tasksPanicked.Load(),
		Suspensions:    e.suspensions.Load(),
	}
}
