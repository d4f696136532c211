// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"os"

	"github.com/hashicorp/cli"
)

// Commands returns the mapping of CLI commands. The meta parameter lets you
// set options shared across all commands.
func Commands(metaPtr *Meta) map[string]cli.CommandFactory {
	if metaPtr == nil {
		metaPtr = new(Meta)
	}

	meta := *metaPtr
	if meta.Ui == nil {
		meta.Ui = &cli.BasicUi{
			Reader:      os.Stdin,
			Writer:      os.Stdout,
			ErrorWriter: os.Stderr,
		}
	}

	return map[string]cli.CommandFactory{
		"run": func() (cli.Command, error) {
			return &RunCommand{Meta: meta}, nil
		},
		"contingency": func() (cli.Command, error) {
			return &ContingencyCommand{Meta: meta}, nil
		},
		"deadletter": func() (cli.Command, error) {
			return &DeadLetterCommand{Meta: meta}, nil
		},
		"deadletter list": func() (cli.Command, error) {
			return &DeadLetterListCommand{Meta: meta}, nil
		},
		"deadletter replay": func() (cli.Command, error) {
			return &DeadLetterReplayCommand{Meta: meta}, nil
		},
		"version": func() (cli.Command, error) {
			return &VersionCommand{Meta: meta}, nil
		},
	}
}
