// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

// Command agent is the hostwatch per-host monitoring agent entrypoint.
package main

import (
	"os"

	"github.com/hostwatch/agent/cmd/agent/command"
	"github.com/hostwatch/agent/cmd/agent/subcommands/run"
)

func main() {
	root := command.MakeCommand([]command.SubcommandFactory{
		run.Commands,
	})
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
