// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package cmd is the CLI entry point tree for the tunnel proxy binary.
package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCommand builds the top-level command, with serve and version
// wired in as subcommands.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "l8tunnel",
		Short: "Encrypted tunnel proxy for browser-originated requests",
		Long: "l8tunnel normalizes outbound requests, keeps an nTor-authenticated\n" +
			"encrypted session open per backend, and relays traffic through a\n" +
			"forward proxy so a caller never needs a TLS client cert of its own.",
		SilenceUsage: true,
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newVersionCommand())
	return root
}
