// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/swarmsync/swarmsync/internal/status"
)

var pairingCodeCmd = &cobra.Command{
	Use:   "pairing-code <device-id> <code>",
	Short: "Confirm a pairing code offered by a newly-discovered peer",
	Args:  cobra.ExactArgs(2),
	RunE:  runPairingCode,
}

func init() {
	rootCmd.AddCommand(pairingCodeCmd)
}

func runPairingCode(cmd *cobra.Command, args []string) error {
	deviceID, code := args[0], args[1]

	body, err := json.Marshal(status.PairingConfirmRequest{DeviceID: deviceID, Code: code})
	if err != nil {
		return fmt.Errorf("pairing-code: encode request: %w", err)
	}

	resp, err := statusClient().Post(statusURL("/status/pairing/confirm"), "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("pairing-code: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pairing-code: unexpected status %s", resp.Status)
	}

	var result status.PairingConfirmResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("pairing-code: decode response: %w", err)
	}

	if result.Confirmed {
		fmt.Fprintf(cmd.OutOrStdout(), "peer %s is now trusted\n", deviceID)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "pairing code did not match for peer %s\n", deviceID)
	}
	return nil
}
