// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/schedcu/autosched/ci"
)

func TestPriority_Valid(t *testing.T) {
	ci.Parallel(t)

	for _, p := range Priorities {
		require.True(t, p.Valid())
	}
	require.False(t, Priority("URGENT").Valid())
	require.False(t, Priority("").Valid())
}

func TestTask_Copy(t *testing.T) {
	ci.Parallel(t)

	ready := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	task := &Task{
		ID:        "t1",
		Name:      "evaluate",
		Args:      map[string]string{"run": "r1"},
		Priority:  PriorityHigh,
		NotBefore: &ready,
		DependsOn: []string{"t0"},
		Group:     "chain-1",
	}

	dup := task.Copy()
	require.Equal(t, task, dup)

	dup.Args["run"] = "r2"
	dup.DependsOn[0] = "tX"
	*dup.NotBefore = ready.Add(time.Hour)

	require.Equal(t, "r1", task.Args["run"])
	require.Equal(t, "t0", task.DependsOn[0])
	require.Equal(t, ready, *task.NotBefore)

	var nilTask *Task
	require.Nil(t, nilTask.Copy())
}
