// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/swarmsync/swarmsync/internal/status"
)

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List peers known to a running swarmsync process",
	RunE:  runPeers,
}

func init() {
	rootCmd.AddCommand(peersCmd)
}

func statusClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Second}
}

func statusURL(path string) string {
	return fmt.Sprintf("http://%s%s", viper.GetString("status-addr"), path)
}

func runPeers(cmd *cobra.Command, args []string) error {
	resp, err := statusClient().Get(statusURL("/status/peers"))
	if err != nil {
		return fmt.Errorf("peers: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("peers: unexpected status %s", resp.Status)
	}

	var peers []status.PeerSummary
	if err := json.NewDecoder(resp.Body).Decode(&peers); err != nil {
		return fmt.Errorf("peers: decode response: %w", err)
	}

	if len(peers) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no peers known")
		return nil
	}
	for _, p := range peers {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\ttrusted=%v\tsync=%v\tlast_seen=%s\n",
			p.DeviceID, p.DisplayName, p.Trusted, p.SyncEnabled, p.LastSeen.Format(time.RFC3339))
	}
	return nil
}
