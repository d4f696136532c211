// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/schedcu/autosched/control"
	"github.com/schedcu/autosched/resilience"
	"github.com/schedcu/autosched/structs"
)

// ContingencyCommand analyzes a published schedule for single and paired
// personnel-loss exposure.
type ContingencyCommand struct {
	Meta
}

func (c *ContingencyCommand) Help() string {
	helpText := `
Usage: autosched contingency [options]

  Runs loss-of-personnel analysis over a generated schedule: every single
  loss (N-1), and for the flagged critical population every paired loss
  (N-2). Losses that leave blocks uncovered are listed worst first.
` + generalOptionsUsage() + `

Contingency Options:

  -problem=<path>
    JSON problem definition the schedule was generated from. Required.

  -schedule=<path>
    schedule.json produced by a run. Required.

  -pairs
    Also run the N-2 pair analysis over critical persons.
`
	return strings.TrimSpace(helpText)
}

func (c *ContingencyCommand) Name() string { return "contingency" }

func (c *ContingencyCommand) Synopsis() string {
	return "Analyze a schedule for personnel-loss exposure"
}

func (c *ContingencyCommand) Run(args []string) int {
	var problemPath, schedulePath string
	var pairs bool

	flags := c.FlagSet(c.Name())
	flags.Usage = func() { c.Ui.Output(c.Help()) }
	flags.StringVar(&problemPath, "problem", "", "")
	flags.StringVar(&schedulePath, "schedule", "", "")
	flags.BoolVar(&pairs, "pairs", false, "")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if problemPath == "" || schedulePath == "" {
		c.Ui.Error("Both -problem and -schedule are required")
		return 1
	}

	problem, err := c.loadProblem(problemPath)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error loading problem: %s", err))
		return 1
	}

	raw, err := os.ReadFile(schedulePath)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error reading schedule: %s", err))
		return 1
	}
	var rows []control.ScheduleEntry
	if err := json.Unmarshal(raw, &rows); err != nil {
		c.Ui.Error(fmt.Sprintf("Error decoding schedule: %s", err))
		return 1
	}
	assignments := make([]*structs.Assignment, len(rows))
	for i, row := range rows {
		assignments[i] = &structs.Assignment{
			BlockID:            row.BlockID,
			PersonID:           row.PersonID,
			RotationTemplateID: row.RotationTemplateID,
			Role:               row.Role,
		}
		if b := problem.Blocks[row.BlockID]; b != nil {
			assignments[i].Date = b.Date
		}
	}

	analyzer := resilience.NewAnalyzer(c.logger("contingency"))

	impacts := analyzer.AnalyzeN1(problem.Persons, assignments)
	exposed := 0
	for _, impact := range impacts {
		if impact.Covered() {
			continue
		}
		exposed++
		c.Ui.Output(fmt.Sprintf("N-1 %-20s coverage %5.1f%%  uncovered: %s",
			impact.PersonID, impact.CoverageRate*100, strings.Join(impact.UncoveredBlocks, ", ")))
	}
	c.Ui.Output(fmt.Sprintf("%d of %d single losses leave blocks uncovered", exposed, len(impacts)))

	if pairs {
		fatal := analyzer.AnalyzeN2(problem.Persons, assignments)
		for _, pair := range fatal {
			c.Ui.Output(fmt.Sprintf("N-2 %s + %s  uncovered: %s",
				pair.PersonA, pair.PersonB, strings.Join(pair.UncoveredBlocks, ", ")))
		}
		c.Ui.Output(fmt.Sprintf("%d fatal pairs", len(fatal)))
	}
	return 0
}
