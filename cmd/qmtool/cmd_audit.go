package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/layzieshin/QMToolV6-sub000/internal/audit"
	"github.com/layzieshin/QMToolV6-sub000/internal/container"
	"github.com/layzieshin/QMToolV6-sub000/internal/loader"
)

var (
	auditFeature  string
	auditUserID   int64
	auditLevel    string
	auditSeverity string
	auditLimit    int
	auditOffset   int
	auditSearch   string
	auditFormat   string
	auditOut      string
	auditDays     int
	auditCaller   int64
)

// auditCmd groups audit trail administration.
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query, export and clean up the audit trail",
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "List audit logs matching the given filters",
	RunE:  runAuditQuery,
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export audit logs as JSON or CSV (admin only)",
	RunE:  runAuditExport,
}

var auditCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete logs older than the retention window",
	RunE:  runAuditCleanup,
}

func init() {
	auditCmd.PersistentFlags().Int64Var(&auditCaller, "as-user", audit.SystemUserID, "Caller user id for access checks (0 = system)")

	auditQueryCmd.Flags().StringVar(&auditFeature, "feature", "", "Filter by feature id")
	auditQueryCmd.Flags().Int64Var(&auditUserID, "user", -1, "Filter by user id (-1: any)")
	auditQueryCmd.Flags().StringVar(&auditLevel, "level", "", "Filter by log level (DEBUG..CRITICAL)")
	auditQueryCmd.Flags().StringVar(&auditSeverity, "severity", "", "Filter by severity (INFO, WARNING, CRITICAL)")
	auditQueryCmd.Flags().IntVar(&auditLimit, "limit", 0, "Maximum rows (0: default cap)")
	auditQueryCmd.Flags().IntVar(&auditOffset, "offset", 0, "Pagination offset")
	auditQueryCmd.Flags().StringVar(&auditSearch, "search", "", "Substring search over action and details")

	auditExportCmd.Flags().StringVar(&auditFeature, "feature", "", "Filter by feature id")
	auditExportCmd.Flags().IntVar(&auditLimit, "limit", 0, "Maximum rows (0: default cap)")
	auditExportCmd.Flags().StringVar(&auditFormat, "format", "json", "Export format: json or csv")
	auditExportCmd.Flags().StringVar(&auditOut, "out", "", "Output file (default: stdout)")

	auditCleanupCmd.Flags().StringVar(&auditFeature, "feature", "", "Restrict cleanup to one feature")
	auditCleanupCmd.Flags().IntVar(&auditDays, "days", 0, "Retention days override (0: configured retention)")

	auditCmd.AddCommand(auditQueryCmd)
	auditCmd.AddCommand(auditExportCmd)
	auditCmd.AddCommand(auditCleanupCmd)
}

func auditService(cmd *cobra.Command) (*loader.Loader, *audit.Service, error) {
	l, err := bootLoader(cmd)
	if err != nil {
		return nil, nil, err
	}
	svc, err := container.ResolveAs[*audit.Service](l.Registry(), loader.KeyAuditService)
	if err != nil {
		l.Shutdown()
		return nil, nil, err
	}
	return l, svc, nil
}

func buildFilter() (audit.Filter, error) {
	f := audit.Filter{
		Feature: auditFeature,
		Limit:   auditLimit,
		Offset:  auditOffset,
	}
	if auditUserID >= 0 {
		id := auditUserID
		f.UserID = &id
	}
	if auditLevel != "" {
		level, err := audit.ParseLevel(auditLevel)
		if err != nil {
			return f, err
		}
		f.LogLevel = &level
	}
	if auditSeverity != "" {
		sev := audit.Severity(strings.ToUpper(auditSeverity))
		if !audit.IsValidSeverity(sev) {
			return f, fmt.Errorf("unknown severity %q", auditSeverity)
		}
		f.Severity = &sev
	}
	return f, nil
}

func runAuditQuery(cmd *cobra.Command, args []string) error {
	l, svc, err := auditService(cmd)
	if err != nil {
		return err
	}
	defer l.Shutdown()

	f, err := buildFilter()
	if err != nil {
		return err
	}

	var logs []audit.Log
	if auditSearch != "" {
		logs, err = svc.SearchLogs(auditCaller, auditSearch, f)
	} else {
		logs, err = svc.GetLogs(auditCaller, f)
	}
	if err != nil {
		return err
	}

	if len(logs) == 0 {
		fmt.Println("No audit logs match.")
		return nil
	}

	fmt.Println(strings.Repeat("─", 100))
	for _, entry := range logs {
		fmt.Printf("  #%-6d %s  %-8s %-8s %-16s %-12s %s\n",
			entry.ID,
			entry.Timestamp.UTC().Format(time.RFC3339),
			entry.LogLevel, entry.Severity,
			entry.Feature, entry.Username, entry.Action)
	}
	fmt.Println(strings.Repeat("─", 100))
	fmt.Printf("Total: %d logs\n", len(logs))
	return nil
}

func runAuditExport(cmd *cobra.Command, args []string) error {
	l, svc, err := auditService(cmd)
	if err != nil {
		return err
	}
	defer l.Shutdown()

	f, err := buildFilter()
	if err != nil {
		return err
	}
	data, err := svc.ExportLogs(auditCaller, f, auditFormat)
	if err != nil {
		return err
	}

	if auditOut == "" {
		fmt.Print(string(data))
		return nil
	}
	if err := os.WriteFile(auditOut, data, 0o644); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	fmt.Printf("Exported %d bytes to %s\n", len(data), auditOut)
	return nil
}

func runAuditCleanup(cmd *cobra.Command, args []string) error {
	l, svc, err := auditService(cmd)
	if err != nil {
		return err
	}
	defer l.Shutdown()

	deleted, err := svc.DeleteOldLogs(auditFeature, auditDays)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d expired audit logs\n", deleted)
	return nil
}
