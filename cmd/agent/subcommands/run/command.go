// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

// Package run implements the "agent run" subcommand: constructs the
// Supervisor and blocks until an interrupt or terminate signal triggers
// the bounded graceful shutdown (spec.md §4.11).
package run

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hostwatch/agent/cmd/agent/command"
	"github.com/hostwatch/agent/internal/log"
	"github.com/hostwatch/agent/internal/supervisor"
)

var logger = log.For("main")

// Commands returns the run subcommand, following the
// command.SubcommandFactory shape used across cmd/agent/subcommands.
func Commands(globalParams *command.GlobalParams) []*cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run the agent in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(globalParams)
		},
	}
	return []*cobra.Command{runCmd}
}

func run(globalParams *command.GlobalParams) error {
	sup, err := supervisor.New(supervisor.Options{
		ConfigPath:  globalParams.ConfFilePath,
		SecretsPath: globalParams.SecretsFilePath,
		CachePath:   globalParams.CacheFilePath,
		DataDir:     globalParams.DataDir,
	})
	if err != nil {
		logger.Criticalf("agent failed to start: %v", err)
		log.Flush()
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := sup.Run(ctx); err != nil {
		logger.Criticalf("agent exited with error: %v", err)
		log.Flush()
		os.Exit(1)
	}
	return nil
}
