// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/swarmsync/swarmsync/internal/cryptoid"
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Print this device's persisted identity",
	RunE:  runIdentity,
}

func init() {
	rootCmd.AddCommand(identityCmd)
}

func runIdentity(cmd *cobra.Command, args []string) error {
	cfg, err := loadEngineConfig()
	if err != nil {
		return err
	}

	id, err := cryptoid.LoadOrCreateIdentity(cfg.IdentityKeyPath)
	if err != nil {
		return fmt.Errorf("identity: load: %w", err)
	}

	fp := id.Fingerprint()
	fmt.Fprintf(cmd.OutOrStdout(), "device id:   %s\n", id.ShortID())
	fmt.Fprintf(cmd.OutOrStdout(), "fingerprint: %s\n", hex.EncodeToString(fp[:]))
	return nil
}
