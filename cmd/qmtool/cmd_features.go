package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/layzieshin/QMToolV6-sub000/internal/configurator"
	"github.com/layzieshin/QMToolV6-sub000/internal/container"
	"github.com/layzieshin/QMToolV6-sub000/internal/loader"
)

var featuresRole string

// featuresCmd groups feature registry queries.
var featuresCmd = &cobra.Command{
	Use:   "features",
	Short: "Inspect discovered feature descriptors",
	RunE:  runFeaturesList,
}

var featuresListCmd = &cobra.Command{
	Use:   "list",
	Short: "List features, optionally filtered by role visibility",
	RunE:  runFeaturesList,
}

var featuresShowCmd = &cobra.Command{
	Use:   "show <feature-id>",
	Short: "Print one feature descriptor as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runFeaturesShow,
}

func init() {
	featuresCmd.PersistentFlags().StringVar(&featuresRole, "role", "", "Filter by role visibility (empty: all)")
	featuresCmd.AddCommand(featuresListCmd)
	featuresCmd.AddCommand(featuresShowCmd)
}

func runFeaturesList(cmd *cobra.Command, args []string) error {
	l, err := bootLoader(cmd)
	if err != nil {
		return err
	}
	defer l.Shutdown()

	cfg, err := container.ResolveAs[*configurator.Service](l.Registry(), loader.KeyConfigurator)
	if err != nil {
		return err
	}
	entries, err := cfg.GetAllFeatures(featuresRole)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("No features discovered.")
		return nil
	}

	fmt.Println("Features")
	fmt.Println(strings.Repeat("─", 70))
	for _, e := range entries {
		core := " "
		if e.Descriptor.IsCore {
			core = "*"
		}
		fmt.Printf("  %s %-20s %-8s order=%-4d %s\n",
			core, e.Descriptor.ID, e.Descriptor.Version, e.Descriptor.SortOrder, e.Descriptor.Label)
	}
	fmt.Println(strings.Repeat("─", 70))
	fmt.Printf("Total: %d features (* = core)\n", len(entries))
	return nil
}

func runFeaturesShow(cmd *cobra.Command, args []string) error {
	l, err := bootLoader(cmd)
	if err != nil {
		return err
	}
	defer l.Shutdown()

	cfg, err := container.ResolveAs[*configurator.Service](l.Registry(), loader.KeyConfigurator)
	if err != nil {
		return err
	}
	meta, err := cfg.GetFeatureMeta(args[0])
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
