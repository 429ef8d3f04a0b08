// Package main implements the qmtool CLI: boot inspection, feature
// registry queries, audit trail administration and license diagnostics.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/layzieshin/QMToolV6-sub000/internal/appenv"
	"github.com/layzieshin/QMToolV6-sub000/internal/logging"
)

var (
	// Global flags
	verbose     bool
	projectRoot string
	configPath  string
	strictScan  bool

	// Loaded environment, available to every subcommand after PreRun.
	env *appenv.AppEnv
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "qmtool",
	Short: "QMTool runtime platform - feature loader, audit trail, licensing",
	Long: `qmtool is the runtime core of the modular quality-management platform.

It discovers feature descriptors, verifies the installation license,
computes a deterministic boot order and wires every feature's services
into the shared container. The audit trail is mandatory: a boot without
a working audit sink fails.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger, err := logging.NewProduction(verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logging.Initialize(logger)

		root := projectRoot
		if root == "" {
			root, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to determine project root: %w", err)
			}
		}
		path := configPath
		if path == "" {
			path = appenv.DefaultConfigPath(root)
		}
		env, err = appenv.Load(root, path)
		if err != nil {
			return fmt.Errorf("failed to load environment: %w", err)
		}
		return env.Validate()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&projectRoot, "root", "", "Project root (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to qmtool.ini (default: <root>/config/qmtool.ini)")
	rootCmd.PersistentFlags().BoolVar(&strictScan, "strict", false, "Abort on the first invalid feature descriptor")

	rootCmd.AddCommand(bootCmd)
	rootCmd.AddCommand(featuresCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(licenseCmd)
	rootCmd.AddCommand(fingerprintCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
