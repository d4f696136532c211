// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/schedcu/autosched/constraint"
	"github.com/schedcu/autosched/control"
	"github.com/schedcu/autosched/resilience"
	"github.com/schedcu/autosched/scheduler"
	"github.com/schedcu/autosched/structs"
)

// RunCommand starts or resumes an autonomous scheduling run.
type RunCommand struct {
	Meta
}

func (c *RunCommand) Help() string {
	helpText := `
Usage: autosched run [options]

  Starts an autonomous scheduling run for the given problem definition and
  drives it until the target score is reached, the iteration budget is spent,
  or improvement stalls. Progress, the best schedule and its evaluation
  report are persisted under the data directory and survive restarts.

  With -resume, an interrupted run is picked up where its history left off
  instead of starting fresh.
` + generalOptionsUsage() + `

Run Options:

  -problem=<path>
    JSON problem definition: people, blocks, rotation templates, demands and
    absences. Always required; run directories persist progress and results
    but not the problem itself, so resuming needs it too.

  -scenario=<name>
    Scenario label used in the run directory name. Defaults to "default".

  -resume=<run-id>
    Resume the run with the given ID instead of creating a new one.

  -target=<score>
    Stop once the best score reaches this value. Defaults to 0.95.

  -max-iterations=<n>
    Iteration budget. Defaults to 500.

  -stagnation=<n>
    Stop after this many iterations without improvement. Defaults to 100.

  -seed=<n>
    Seed for deterministic candidate generation. Defaults to 1.
`
	return strings.TrimSpace(helpText)
}

func (c *RunCommand) Name() string { return "run" }

func (c *RunCommand) Synopsis() string {
	return "Start or resume an autonomous scheduling run"
}

func (c *RunCommand) Run(args []string) int {
	var problemPath, scenario, resumeID string
	var target float64
	var maxIterations, stagnation int
	var seed int64

	flags := c.FlagSet(c.Name())
	flags.Usage = func() { c.Ui.Output(c.Help()) }
	flags.StringVar(&problemPath, "problem", "", "")
	flags.StringVar(&scenario, "scenario", "default", "")
	flags.StringVar(&resumeID, "resume", "", "")
	flags.Float64Var(&target, "target", 0.95, "")
	flags.IntVar(&maxIterations, "max-iterations", 500, "")
	flags.IntVar(&stagnation, "stagnation", 100, "")
	flags.Int64Var(&seed, "seed", 1, "")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if problemPath == "" {
		c.Ui.Error("The -problem flag is required")
		return 1
	}

	problem, err := c.loadProblem(problemPath)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error loading problem: %s", err))
		return 1
	}

	logger := c.logger("autosched")
	store, err := control.NewStore(logger, filepath.Join(c.dataDir, "runs"))
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error opening run store: %s", err))
		return 1
	}

	engine := constraint.NewEngine(logger)
	generator := scheduler.NewGenerator(logger, engine)
	detector := resilience.NewDetector(logger, resilience.DetectorConfig{})
	controller := control.NewController(logger, generator, store, detector)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var state *structs.RunState
	if resumeID != "" {
		c.Ui.Output(fmt.Sprintf("Resuming run %s", resumeID))
		state, err = controller.Resume(ctx, resumeID, problem)
	} else {
		config := &control.Config{
			Scenario:        scenario,
			Start:           problem.Start,
			End:             problem.End,
			TargetScore:     target,
			MaxIterations:   maxIterations,
			StagnationLimit: stagnation,
			Seed:            seed,
		}
		state, err = controller.Run(ctx, config, problem)
	}
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Run failed: %s", err))
		return 1
	}

	c.Ui.Output(fmt.Sprintf("Run %s finished: status=%s best=%.4f at iteration %d/%d",
		state.ID, state.Status, state.BestScore, state.BestIteration, state.CurrentIteration))
	return 0
}
