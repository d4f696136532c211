// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package control

import (
	"context"

	"github.com/schedcu/autosched/structs"
)

// Event types emitted over a run's lifecycle.
const (
	EventNewBest     = "new_best"
	EventRunFinished = "run_finished"
	EventRunFailed   = "run_failed"
)

// Event is one lifecycle notification from the controller.
type Event struct {
	Type      string            `json:"type"`
	RunID     string            `json:"run_id"`
	Scenario  string            `json:"scenario"`
	Iteration int               `json:"iteration"`
	Score     float64           `json:"score"`
	Status    structs.RunStatus `json:"status,omitempty"`
}

// Notifier receives lifecycle events. The controller dispatches each event on
// its own goroutine, so implementations may block without stalling the loop.
type Notifier interface {
	Notify(event *Event)
}

// WebhookSink delivers an event to an external endpoint. Rendering and
// transport live outside the core; implementations own their own retries.
type WebhookSink interface {
	Deliver(ctx context.Context, event *Event) error
}

// emit hands the event to the notifier, if any, without blocking the loop.
func (c *Controller) emit(event *Event) {
	if c.notifier == nil {
		return
	}
	go c.notifier.Notify(event)
}
