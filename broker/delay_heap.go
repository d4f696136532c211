// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package broker

import (
	"container/heap"
	"time"
)

// delayedTask is one heap entry waiting for its NotBefore time.
type delayedTask struct {
	task  *Task
	ready time.Time
	index int
}

// delayHeap orders delayed tasks by readiness time.
type delayHeap []*delayedTask

func (h delayHeap) Len() int { return len(h) }

func (h delayHeap) Less(i, j int) bool {
	if !h[i].ready.Equal(h[j].ready) {
		return h[i].ready.Before(h[j].ready)
	}
	return h[i].task.ID < h[j].task.ID
}

func (h delayHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *delayHeap) Push(x any) {
	entry := x.(*delayedTask)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return entry
}

// push adds a task with its readiness time.
func (h *delayHeap) push(task *Task, ready time.Time) {
	heap.Push(h, &delayedTask{task: task, ready: ready})
}

// popReady removes and returns every task ready at now, soonest first.
func (h *delayHeap) popReady(now time.Time) []*Task {
	var out []*Task
	for h.Len() > 0 && !(*h)[0].ready.After(now) {
		entry := heap.Pop(h).(*delayedTask)
		out = append(out, entry.task)
	}
	return out
}

// nextReady returns the earliest readiness time, or zero when empty.
func (h *delayHeap) nextReady() time.Time {
	if h.Len() == 0 {
		return time.Time{}
	}
	return (*h)[0].ready
}
