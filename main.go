// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/cli"

	"github.com/schedcu/autosched/command"
	"github.com/schedcu/autosched/version"
)

func main() {
	os.Exit(Run(os.Args[1:]))
}

// Run builds and executes the CLI for the given arguments.
func Run(args []string) int {
	c := cli.NewCLI("autosched", version.GetVersion().FullVersionNumber(true))
	c.Args = args
	c.Commands = command.Commands(nil)

	exitCode, err := c.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing CLI: %s\n", err)
		return 1
	}
	return exitCode
}
