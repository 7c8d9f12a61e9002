// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

// Package command builds the root cobra command and the global flags
// shared by every subcommand, following the same GlobalParams/Commands
// split the rest of this codebase's command tree uses so subcommand
// packages never need to know about cobra's root wiring.
package command

import (
	"github.com/spf13/cobra"
)

// GlobalParams holds flags recognised by every subcommand.
type GlobalParams struct {
	ConfFilePath    string
	SecretsFilePath string
	CacheFilePath   string
	DataDir         string
}

// SubcommandFactory builds one subcommand against the resolved
// GlobalParams, the pattern every subcommands/<name> package implements.
type SubcommandFactory func(globalParams *GlobalParams) []*cobra.Command

// MakeCommand assembles the root "agent" command from a list of
// subcommand factories.
func MakeCommand(factories []SubcommandFactory) *cobra.Command {
	globalParams := GlobalParams{}

	root := &cobra.Command{
		Use:   "agent",
		Short: "hostwatch per-host monitoring agent",
		Long:  "Tails application logs, samples host metrics, evaluates alert thresholds, and exposes a local control API.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&globalParams.ConfFilePath, "config", "c", "/etc/hostwatch/hostwatch.yaml", "path to the agent configuration file")
	root.PersistentFlags().StringVar(&globalParams.SecretsFilePath, "secrets", "/etc/hostwatch/secrets.json", "path to the 0600 secrets file")
	root.PersistentFlags().StringVar(&globalParams.CacheFilePath, "config-cache", "/var/lib/hostwatch/config_cache.json", "path to the durable backend-config cache")
	root.PersistentFlags().StringVar(&globalParams.DataDir, "data-dir", "/var/lib/hostwatch", "path to the agent's persistent data directory (node id, spool)")

	for _, factory := range factories {
		for _, cmd := range factory(&globalParams) {
			root.AddCommand(cmd)
		}
	}
	return root
}
