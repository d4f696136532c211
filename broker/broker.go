// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/schedcu/autosched/helper/uuid"
)

// ErrQueueFull rejects an over-limit enqueue with a retry-after hint from
// the throttling ladder.
type ErrQueueFull struct {
	Priority   Priority
	Depth      int
	RetryAfter time.Duration
}

func (e *ErrQueueFull) Error() string {
	return fmt.Sprintf("queue %s full at depth %d, retry after %s",
		e.Priority, e.Depth, e.RetryAfter)
}

// Config tunes the broker.
type Config struct {
	// MaxDepthPerBand bounds each priority queue; zero means 1024.
	MaxDepthPerBand int

	// BaseRetryAfter is the retry-after hint at green utilization; the
	// adaptive ladder multiplies it as bands fill.
	BaseRetryAfter time.Duration

	// Throttle decides admission; nil means AdaptiveThrottle with
	// BaseRetryAfter as its wait unit.
	Throttle Throttle
}

// Broker is the in-process task broker: four bounded priority queues, a
// delay heap for countdown/ETA tasks and dependency deferral. All methods
// are safe for concurrent use.
type Broker struct {
	logger hclog.Logger
	config Config
	dead   *DeadLetters

	mu       sync.Mutex
	queues   map[Priority][]*Task
	delayed  delayHeap
	waiting  map[string]*Task
	children map[string][]string // parent task ID -> waiting dependent IDs
	status   map[string]TaskStatus
	inflight map[string]*Task

	// now is swappable for tests.
	now func() time.Time
}

// NewBroker builds a broker; dead may be nil when dead-lettering is handled
// elsewhere.
func NewBroker(logger hclog.Logger, config Config, dead *DeadLetters) *Broker {
	if config.MaxDepthPerBand <= 0 {
		config.MaxDepthPerBand = 1024
	}
	if config.BaseRetryAfter <= 0 {
		config.BaseRetryAfter = time.Second
	}
	if config.Throttle == nil {
		config.Throttle = AdaptiveThrottle{BaseWait: config.BaseRetryAfter}
	}
	b := &Broker{
		logger:   logger.Named("broker"),
		config:   config,
		dead:     dead,
		queues:   make(map[Priority][]*Task),
		waiting:  make(map[string]*Task),
		children: make(map[string][]string),
		status:   make(map[string]TaskStatus),
		inflight: make(map[string]*Task),
		now:      time.Now,
	}
	return b
}

// Enqueue accepts a task into the broker. Tasks with a future NotBefore go
// to the delay heap; tasks with unmet dependencies wait; everything else
// becomes immediately dispatchable. Over-depth enqueues are rejected with a
// retry-after hint.
func (b *Broker) Enqueue(ctx context.Context, task *Task) error {
	if !task.Priority.Valid() {
		return fmt.Errorf("unknown task priority %q", task.Priority)
	}
	if task.ID == "" {
		task.ID = uuid.Generate()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = b.now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	depth := len(b.queues[task.Priority])
	load := Load{Priority: task.Priority, Depth: depth, Capacity: b.config.MaxDepthPerBand}
	decision := b.config.Throttle.Admit(load)
	if !decision.Accept || depth >= b.config.MaxDepthPerBand {
		retryAfter := decision.Wait
		if retryAfter <= 0 {
			retryAfter = b.retryAfterLocked(task.Priority)
		}
		metrics.IncrCounter([]string{"autosched", "broker", "rejected"}, 1)
		return &ErrQueueFull{Priority: task.Priority, Depth: depth, RetryAfter: retryAfter}
	}

	task = task.Copy()

	// Accepted-with-wait throttling becomes delayed admission.
	if decision.Wait > 0 {
		ready := b.now().Add(decision.Wait)
		if task.NotBefore == nil || task.NotBefore.Before(ready) {
			task.NotBefore = &ready
		}
	}

	// A failed parent kills the dependent immediately.
	for _, parent := range task.DependsOn {
		switch b.status[parent] {
		case TaskStatusFailed, TaskStatusDead:
			b.status[task.ID] = TaskStatusDead
			b.deadLetterLocked(ctx, task, CauseDependencyFailed)
			return nil
		}
	}

	if b.unmetDependenciesLocked(task) > 0 {
		b.status[task.ID] = TaskStatusWaiting
		b.waiting[task.ID] = task
		for _, parent := range task.DependsOn {
			if b.status[parent] != TaskStatusSucceeded {
				b.children[parent] = append(b.children[parent], task.ID)
			}
		}
		return nil
	}

	b.admitLocked(task)
	return nil
}

// admitLocked routes a dependency-free task to the delay heap or its ready
// queue.
func (b *Broker) admitLocked(task *Task) {
	if task.NotBefore != nil && task.NotBefore.After(b.now()) {
		b.status[task.ID] = TaskStatusDelayed
		b.delayed.push(task, *task.NotBefore)
		return
	}
	b.status[task.ID] = TaskStatusPending
	b.queues[task.Priority] = append(b.queues[task.Priority], task)
}

// unmetDependenciesLocked counts parents that have not yet succeeded.
func (b *Broker) unmetDependenciesLocked(task *Task) int {
	unmet := 0
	for _, parent := range task.DependsOn {
		if b.status[parent] != TaskStatusSucceeded {
			unmet++
		}
	}
	return unmet
}

// Dequeue returns the next dispatchable task, draining priority bands from
// critical downward. Ready delayed tasks are promoted first.
func (b *Broker) Dequeue() (*Task, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, task := range b.delayed.popReady(b.now()) {
		b.status[task.ID] = TaskStatusPending
		b.queues[task.Priority] = append(b.queues[task.Priority], task)
	}

	for _, priority := range Priorities {
		q := b.queues[priority]
		if len(q) == 0 {
			continue
		}
		task := q[0]
		b.queues[priority] = q[1:]
		task.Attempts++
		b.status[task.ID] = TaskStatusInflight
		b.inflight[task.ID] = task
		return task, true
	}
	return nil, false
}

// Ack marks an inflight task succeeded and releases dependents whose
// parents have now all succeeded.
func (b *Broker) Ack(taskID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.inflight[taskID]; !ok {
		return fmt.Errorf("task %s is not inflight", taskID)
	}
	delete(b.inflight, taskID)
	b.status[taskID] = TaskStatusSucceeded

	for _, childID := range b.children[taskID] {
		child, ok := b.waiting[childID]
		if !ok {
			continue
		}
		if b.unmetDependenciesLocked(child) == 0 {
			delete(b.waiting, childID)
			b.admitLocked(child)
		}
	}
	delete(b.children, taskID)
	return nil
}

// Fail marks an inflight task permanently failed, dead-letters it and
// cascades "dependency_failed" to every waiting dependent.
func (b *Broker) Fail(ctx context.Context, taskID, cause string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	task, ok := b.inflight[taskID]
	if !ok {
		return fmt.Errorf("task %s is not inflight", taskID)
	}
	delete(b.inflight, taskID)
	b.status[taskID] = TaskStatusFailed
	b.deadLetterLocked(ctx, task, cause)

	b.failDependentsLocked(ctx, taskID)
	return nil
}

// failDependentsLocked dead-letters the waiting dependents of a failed
// parent, recursively.
func (b *Broker) failDependentsLocked(ctx context.Context, parentID string) {
	for _, childID := range b.children[parentID] {
		child, ok := b.waiting[childID]
		if !ok {
			continue
		}
		delete(b.waiting, childID)
		b.status[childID] = TaskStatusDead
		b.deadLetterLocked(ctx, child, CauseDependencyFailed)
		b.failDependentsLocked(ctx, childID)
	}
	delete(b.children, parentID)
}

// Requeue returns an inflight task to its queue after a transient failure,
// optionally delayed.
func (b *Broker) Requeue(taskID string, delay time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	task, ok := b.inflight[taskID]
	if !ok {
		return fmt.Errorf("task %s is not inflight", taskID)
	}
	delete(b.inflight, taskID)

	if delay > 0 {
		ready := b.now().Add(delay)
		task.NotBefore = &ready
	}
	b.admitLocked(task)
	return nil
}

// deadLetterLocked hands a task to the dead-letter store when one is wired.
func (b *Broker) deadLetterLocked(ctx context.Context, task *Task, cause string) {
	metrics.IncrCounter([]string{"autosched", "broker", "dead_letter"}, 1)
	b.logger.Warn("task dead-lettered", "task_id", task.ID, "name", task.Name, "cause", cause)
	if b.dead != nil {
		b.dead.Push(ctx, &DeadTask{Task: task, Cause: cause, DeadAt: b.now().UTC()})
	}
}

// retryAfterLocked computes the adaptive retry-after hint from the fullest
// band's utilization: 70/80/90/95% map onto the wait-multiplier ladder.
func (b *Broker) retryAfterLocked(priority Priority) time.Duration {
	depth := len(b.queues[priority])
	pct := 100 * float64(depth) / float64(b.config.MaxDepthPerBand)
	mult := waitMultiplier(pct)
	return time.Duration(float64(b.config.BaseRetryAfter) * mult)
}

// waitMultiplier mirrors the utilization ladder used by admission control.
func waitMultiplier(pct float64) float64 {
	switch {
	case pct < 70:
		return 1.0
	case pct < 80:
		return 1.5
	case pct < 90:
		return 2.0
	case pct < 95:
		return 3.0
	default:
		return 5.0
	}
}

// Depths returns the current ready-queue depth per priority band.
func (b *Broker) Depths() map[Priority]int {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[Priority]int, len(Priorities))
	for _, p := range Priorities {
		out[p] = len(b.queues[p])
	}
	return out
}

// Status returns a task's lifecycle status.
func (b *Broker) Status(taskID string) TaskStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status[taskID]
}
