// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package command implements the autosched CLI: scheduling runs, contingency
// analysis and dead-letter administration.
package command

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/hashicorp/cli"
	"github.com/hashicorp/go-hclog"

	"github.com/schedcu/autosched/scheduler"
)

// Meta contains the options and helpers nearly every command inherits.
type Meta struct {
	Ui cli.Ui

	// dataDir is where run directories and dead-letter fallbacks live.
	dataDir string

	// redisAddr enables the Redis tiers when set.
	redisAddr string

	verbose bool
}

// FlagSet returns a FlagSet with the common flags every command implements.
func (m *Meta) FlagSet(n string) *flag.FlagSet {
	f := flag.NewFlagSet(n, flag.ContinueOnError)
	f.StringVar(&m.dataDir, "data-dir", "autosched-data", "")
	f.StringVar(&m.redisAddr, "redis-addr", "", "")
	f.BoolVar(&m.verbose, "verbose", false, "")
	f.SetOutput(&uiErrorWriter{ui: m.Ui})
	return f
}

// logger builds the process logger for a command invocation.
func (m *Meta) logger(name string) hclog.Logger {
	level := hclog.Info
	if m.verbose {
		level = hclog.Debug
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   name,
		Level:  level,
		Output: os.Stderr,
	})
}

// loadProblem decodes a scheduling problem definition from a JSON file.
func (m *Meta) loadProblem(path string) (*scheduler.Problem, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading problem file: %w", err)
	}
	var problem scheduler.Problem
	if err := json.Unmarshal(raw, &problem); err != nil {
		return nil, fmt.Errorf("decoding problem file %s: %w", path, err)
	}
	if err := problem.Validate(); err != nil {
		return nil, err
	}
	return &problem, nil
}

// generalOptionsUsage is appended to every command's help output.
func generalOptionsUsage() string {
	return `
General Options:

  -data-dir=<path>
    Directory holding run state and dead-letter fallbacks. Defaults to
    "autosched-data".

  -redis-addr=<addr>
    Redis address for the cache and dead-letter tiers. Both degrade to
    local-only operation when unset.

  -verbose
    Enable debug logging.`
}

// uiErrorWriter routes flag-parse errors through the UI.
type uiErrorWriter struct {
	ui cli.Ui
}

func (w *uiErrorWriter) Write(data []byte) (int, error) {
	w.ui.Error(string(data))
	return len(data), nil
}
