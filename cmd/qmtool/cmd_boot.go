package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/layzieshin/QMToolV6-sub000/internal/loader"
)

var skipFeatures []string

// bootCmd runs the full boot protocol and prints the resulting order.
var bootCmd = &cobra.Command{
	Use:   "boot",
	Short: "Run the boot protocol and print the registered feature order",
	Long: `Discovers features, applies the license gate, computes the boot
order and registers every feature's services. Fails if the audit sink
cannot be brought up.`,
	RunE: runBoot,
}

func init() {
	bootCmd.Flags().StringSliceVar(&skipFeatures, "skip", nil, "Feature ids to exclude from this boot")
}

func runBoot(cmd *cobra.Command, args []string) error {
	l := loader.New(env, loader.Options{
		Skip:              skipFeatures,
		StrictDescriptors: strictScan,
	})
	defer l.Shutdown()

	bootLog, err := l.Boot(cmd.Context())
	if err != nil {
		return fmt.Errorf("boot failed: %w", err)
	}

	fmt.Println("Boot order")
	fmt.Println(strings.Repeat("─", 50))
	for i, id := range bootLog {
		fmt.Printf("  %d. %s\n", i+1, id)
	}
	fmt.Println(strings.Repeat("─", 50))
	fmt.Printf("Total: %d features registered\n", len(bootLog))
	return nil
}

// bootLoader boots a loader for subcommands that need live services.
func bootLoader(cmd *cobra.Command) (*loader.Loader, error) {
	l := loader.New(env, loader.Options{StrictDescriptors: strictScan})
	if _, err := l.Boot(cmd.Context()); err != nil {
		l.Shutdown()
		return nil, fmt.Errorf("boot failed: %w", err)
	}
	return l, nil
}
