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

	"github.com/nymstr-project/nymstr-groupd/crypto/vault"
)

var (
	keygenKeysDir    string
	keygenSecretPath string
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Initialize the server keypair without starting the relay",
	Long: `Generates the server's PGP keypair in KEYS_DIR, encrypting the
secret key with the passphrase at SECRET_PATH, and prints the armored
public key. An existing keypair is loaded and printed, never overwritten.`,
	RunE: runKeygen,
}

func init() {
	keygenCmd.Flags().StringVar(&keygenKeysDir, "keys-dir", os.Getenv("KEYS_DIR"), "directory for the server keypair")
	keygenCmd.Flags().StringVar(&keygenSecretPath, "secret-path", os.Getenv("SECRET_PATH"), "file holding the vault passphrase")
	rootCmd.AddCommand(keygenCmd)
}

func runKeygen(cmd *cobra.Command, args []string) error {
	if keygenKeysDir == "" {
		return fmt.Errorf("--keys-dir or KEYS_DIR is required")
	}
	if keygenSecretPath == "" {
		return fmt.Errorf("--secret-path or SECRET_PATH is required")
	}

	data, err := os.ReadFile(keygenSecretPath)
	if err != nil {
		return fmt.Errorf("read passphrase: %w", err)
	}
	pass := string(data)
	for len(pass) > 0 && (pass[len(pass)-1] == '\n' || pass[len(pass)-1] == '\r') {
		pass = pass[:len(pass)-1]
	}

	keys, err := vault.Open(keygenKeysDir, pass)
	if err != nil {
		return err
	}

	fmt.Println(keys.PublicArmored)
	return nil
}
