// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/swarmsync/swarmsync/internal/config"
	"github.com/swarmsync/swarmsync/internal/logging"
)

var rootCmd = &cobra.Command{
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	Use:   "swarmsync",
	Short: "Peer-to-peer LAN file synchronization engine",
	Long: `swarmsync watches a managed directory, exchanges file
fingerprints with trusted peers on the local network over an
authenticated, encrypted channel, and applies the resulting deltas,
renames and deletions to keep every copy converged.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called once by main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	logging.Init(os.Stdout, false)

	rootCmd.PersistentFlags().Bool("debug", false, "print debug-level logs")
	rootCmd.PersistentFlags().String("managed-root", "", "directory to keep synchronized")
	rootCmd.PersistentFlags().Int("listen-port", 0, "TCP port to accept peer connections on")
	rootCmd.PersistentFlags().String("identity-key-path", "", "path to this device's persisted identity key")
	rootCmd.PersistentFlags().String("state-db-path", "", "path to the state store database (defaults under managed-root)")
	rootCmd.PersistentFlags().String("status-addr", "127.0.0.1:7331", "address the local status/control API listens on and the CLI talks to")
	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		slog.Error("bind persistent flags", "err", err)
		os.Exit(1)
	}

	viper.SetEnvPrefix("swarmsync")
	viper.AutomaticEnv()
}

// loadEngineConfig reads the bound viper state into an EngineConfig,
// applying defaults and validation, and wires --debug into the shared
// log level the way the teacher's rootCmdLoadConfig wires its own
// --debug flag.
func loadEngineConfig() (*config.EngineConfig, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if cfg.Debug {
		logging.LevelVar.Set(slog.LevelDebug)
	}
	return cfg, nil
}
