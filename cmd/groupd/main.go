// nymstr-groupd - Single-Group Mixnet Relay
// Copyright (C) 2025 nymstr-project
//
// This file is part of nymstr-groupd.
//
// nymstr-groupd is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// nymstr-groupd is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with nymstr-groupd. If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "groupd",
	Short: "nymstr-groupd - single-group chat relay over the Nym mixnet",
	Long: `nymstr-groupd relays opaque ciphertext between members of a single
group. Clients reach it anonymously through a local nym-client; requests
are authenticated with detached PGP signatures against registered
identities, messages fan out through a Redis stream, and membership
lives in a local relational store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Running the bare binary serves.
		return runServe(cmd, args)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Subcommands are registered in their respective files:
	// - serve.go: serveCmd
	// - keygen.go: keygenCmd
	// - version.go: versionCmd
}
