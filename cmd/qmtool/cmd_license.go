package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/layzieshin/QMToolV6-sub000/internal/licensing"
)

// licenseCmd verifies the installed license against this machine.
var licenseCmd = &cobra.Command{
	Use:   "license",
	Short: "Show license verification status and entitlements",
	RunE:  runLicenseStatus,
}

// fingerprintCmd prints the machine fingerprint used for license binding.
var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint",
	Short: "Print this machine's hardware fingerprint",
	RunE:  runFingerprint,
}

func runLicenseStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	fp := licensing.NewFingerprintProvider().Collect(ctx)
	backend := licensing.NewBackend(env.LicensePath, env.PublicKeyPath)
	entitlements, result := backend.LoadAndVerify(ctx, fp.Hash)

	fmt.Println("License status")
	fmt.Println(strings.Repeat("─", 50))
	fmt.Printf("  Status:   %s\n", result.Status)
	if result.LicenseID != "" {
		fmt.Printf("  License:  %s\n", result.LicenseID)
	}
	if result.ErrorCode != "" {
		fmt.Printf("  Error:    %s\n", result.ErrorCode)
	}
	if result.Message != "" {
		fmt.Printf("  Detail:   %s\n", result.Message)
	}

	if len(entitlements) > 0 {
		codes := make([]string, 0, len(entitlements))
		for code, enabled := range entitlements {
			if enabled {
				codes = append(codes, code)
			}
		}
		sort.Strings(codes)
		fmt.Printf("  Features: %s\n", strings.Join(codes, ", "))
	}
	fmt.Println(strings.Repeat("─", 50))

	if result.Status != licensing.StatusValid {
		fmt.Println("Licensed features will be denied at boot; unrestricted features still load.")
	}
	return nil
}

func runFingerprint(cmd *cobra.Command, args []string) error {
	fp := licensing.NewFingerprintProvider().Collect(cmd.Context())
	fmt.Printf("Canonical: %s\n", fp.Canonical)
	fmt.Printf("Hash:      %s\n", fp.Hash)
	return nil
}
