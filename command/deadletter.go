// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hashicorp/cli"
	"github.com/redis/go-redis/v9"

	"github.com/schedcu/autosched/broker"
)

// DeadLetterCommand is the parent of the dead-letter subcommands.
type DeadLetterCommand struct {
	Meta
}

func (c *DeadLetterCommand) Help() string {
	helpText := `
Usage: autosched deadletter <subcommand> [options]

  Inspect and replay dead-lettered background tasks.

  List stored dead tasks:

      $ autosched deadletter list

  Re-enqueue every stored dead task (administrators only):

      $ autosched deadletter replay -admin
`
	return strings.TrimSpace(helpText)
}

func (c *DeadLetterCommand) Name() string { return "deadletter" }

func (c *DeadLetterCommand) Synopsis() string {
	return "Inspect and replay dead-lettered tasks"
}

func (c *DeadLetterCommand) Run(_ []string) int {
	return cli.RunResultHelp
}

func (m *Meta) openDeadLetters() (*broker.DeadLetters, error) {
	var rdb *redis.Client
	if m.redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: m.redisAddr})
	}
	return broker.NewDeadLetters(m.logger("deadletter"), rdb, filepath.Join(m.dataDir, "deadletter"))
}

// DeadLetterListCommand prints stored dead tasks.
type DeadLetterListCommand struct {
	Meta
}

func (c *DeadLetterListCommand) Help() string {
	helpText := `
Usage: autosched deadletter list [options]

  Lists every stored dead task with its cause.
` + generalOptionsUsage()
	return strings.TrimSpace(helpText)
}

func (c *DeadLetterListCommand) Name() string { return "deadletter list" }

func (c *DeadLetterListCommand) Synopsis() string {
	return "List dead-lettered tasks"
}

func (c *DeadLetterListCommand) Run(args []string) int {
	flags := c.FlagSet(c.Name())
	flags.Usage = func() { c.Ui.Output(c.Help()) }
	if err := flags.Parse(args); err != nil {
		return 1
	}

	dead, err := c.openDeadLetters()
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error opening dead-letter store: %s", err))
		return 1
	}

	stored, err := dead.List(context.Background())
	if err != nil {
		c.Ui.Warn(fmt.Sprintf("Partial listing: %s", err))
	}
	for _, dt := range stored {
		c.Ui.Output(fmt.Sprintf("%-36s %-24s attempts=%d cause=%s dead_at=%s",
			dt.Task.ID, dt.Task.Name, dt.Task.Attempts, dt.Cause,
			dt.DeadAt.Format("2006-01-02T15:04:05Z")))
	}
	c.Ui.Output(fmt.Sprintf("%d dead tasks", len(stored)))
	return 0
}

// DeadLetterReplayCommand re-enqueues stored dead tasks.
type DeadLetterReplayCommand struct {
	Meta
}

func (c *DeadLetterReplayCommand) Help() string {
	helpText := `
Usage: autosched deadletter replay [options]

  Drains the dead-letter store and re-enqueues every task with a fresh
  attempt count. Requires explicit administrator approval via -admin.
` + generalOptionsUsage() + `

Replay Options:

  -admin
    Confirm administrator approval for the replay.
`
	return strings.TrimSpace(helpText)
}

func (c *DeadLetterReplayCommand) Name() string { return "deadletter replay" }

func (c *DeadLetterReplayCommand) Synopsis() string {
	return "Re-enqueue dead-lettered tasks"
}

func (c *DeadLetterReplayCommand) Run(args []string) int {
	var admin bool

	flags := c.FlagSet(c.Name())
	flags.Usage = func() { c.Ui.Output(c.Help()) }
	flags.BoolVar(&admin, "admin", false, "")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	dead, err := c.openDeadLetters()
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error opening dead-letter store: %s", err))
		return 1
	}

	b := broker.NewBroker(c.logger("broker"), broker.Config{}, dead)
	replayed, err := dead.Replay(context.Background(), b, admin)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Replay failed: %s", err))
		return 1
	}
	c.Ui.Output(fmt.Sprintf("Replayed %d tasks", replayed))
	return 0
}
