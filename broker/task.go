// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package broker implements background work dispatch: priority task queues
// with delayed delivery and dependencies, a durable dead-letter store, retry
// policies with configurable backoff and jitter, and a circuit breaker with
// selectable throttling strategies.
package broker

import (
	"time"
)

// Priority is a task's queue band. Higher bands are always drained first.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityNormal   Priority = "NORMAL"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Priorities is the dispatch order, most urgent first.
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}

// Valid reports membership in the closed priority set.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusWaiting   TaskStatus = "waiting" // unsatisfied dependencies
	TaskStatusDelayed   TaskStatus = "delayed" // countdown/ETA in the future
	TaskStatusInflight  TaskStatus = "inflight"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusDead      TaskStatus = "dead"
)

// Task is one unit of background work.
type Task struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Args     map[string]string `json:"args,omitempty"`
	Priority Priority          `json:"priority"`

	// NotBefore defers dispatch until the given time (countdown/ETA).
	NotBefore *time.Time `json:"not_before,omitempty"`

	// DependsOn defers dispatch until every listed task succeeds. A parent
	// failure dead-letters this task.
	DependsOn []string `json:"depends_on,omitempty"`

	// Group optionally names a chain or fan-out this task belongs to.
	Group string `json:"group,omitempty"`

	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
}

// Copy returns a deep copy of the task.
func (t *Task) Copy() *Task {
	if t == nil {
		return nil
	}
	nt := *t
	if t.Args != nil {
		nt.Args = make(map[string]string, len(t.Args))
		for k, v := range t.Args {
			nt.Args[k] = v
		}
	}
	nt.DependsOn = append([]string(nil), t.DependsOn...)
	if t.NotBefore != nil {
		ts := *t.NotBefore
		nt.NotBefore = &ts
	}
	return &nt
}

// DeadTask is a dead-lettered task with its cause.
type DeadTask struct {
	Task   *Task     `json:"task"`
	Cause  string    `json:"cause"`
	DeadAt time.Time `json:"dead_at"`
}

// Dead-letter causes.
const (
	CauseRetriesExhausted = "retries_exhausted"
	CauseDependencyFailed = "dependency_failed"
)
