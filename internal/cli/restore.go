package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/posvault/internal/restore"
)

// RestoreOptions holds flags for the restore commands.
type RestoreOptions struct {
	*RootOptions
	Yes bool
}

// RestoreResult is the output of the restore commands.
type RestoreResult struct {
	Timestamp string         `json:"timestamp"`
	TenantID  string         `json:"tenant_id"`
	Records   int            `json:"records"`
	Counts    map[string]int `json:"counts"`
}

// NewRestoreCommand creates the restore command group.
func NewRestoreCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RestoreOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Replace the store with a backup snapshot",
		Long: `Replace the contents of the store with a backup snapshot.

The snapshot is validated in full before anything is changed. Every
collection in the snapshot replaces the stored one in a single transaction;
an invalid snapshot leaves the store untouched.

Exit codes:
  0 - Snapshot restored
  1 - Snapshot invalid or store failure (store unchanged)
  2 - Command error (missing --yes, file not found, etc.)`,
	}
	cmd.PersistentFlags().BoolVarP(&opts.Yes, "yes", "y", false, "confirm replacing the store")

	cmd.AddCommand(&cobra.Command{
		Use:   "file <path>",
		Short: "Restore from a snapshot file ('-' reads stdin)",
		Example: `  posvault restore file --yes posvault_backup_shop-1_2024-03-01T12-00-00-000Z.json
  cat backup.json | posvault restore file --yes -`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireConfirmation(opts); err != nil {
				return err
			}
			data, err := readInput(cmd, args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read snapshot", err)
			}
			return runRestore(opts, cmd, func(e *restore.Engine) (*restore.Summary, error) {
				return e.RestoreFromDocument(commandContext(cmd), data)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "cloud <key>",
		Short:         "Restore from a snapshot in the cloud bucket",
		Example:       `  posvault backup list && posvault restore cloud --yes shop-1/posvault_backup_shop-1_2024-03-01T12-00-00-000Z.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireConfirmation(opts); err != nil {
				return err
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			sink, err := cloudSink(commandContext(cmd), opts.RootOptions, cfg)
			if err != nil {
				return err
			}
			return runRestore(opts, cmd, func(e *restore.Engine) (*restore.Summary, error) {
				return e.RestoreFromCloud(commandContext(cmd), sink, args[0])
			})
		},
	})

	return cmd
}

func requireConfirmation(opts *RestoreOptions) error {
	if !opts.Yes {
		return NewExitError(ExitCommandError, "restore replaces the current store; pass --yes to confirm")
	}
	return nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func runRestore(opts *RestoreOptions, cmd *cobra.Command, do func(*restore.Engine) (*restore.Summary, error)) error {
	_, st, closeFn, err := opts.openStore()
	if err != nil {
		return err
	}
	defer closeFn()

	sum, err := do(restore.New(st, slog.Default()))
	if err != nil {
		return WrapExitError(ExitFailure, "restore failed, store unchanged", err)
	}

	res := RestoreResult{
		Timestamp: sum.Timestamp,
		TenantID:  sum.TenantID,
		Records:   sum.Total(),
		Counts:    sum.Counts,
	}
	if opts.Format == "json" {
		return opts.formatter(cmd).Success(res)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Restored snapshot of %s taken %s (%d records)", res.TenantID, res.Timestamp, res.Records)
	for _, name := range sortedKeys(res.Counts) {
		fmt.Fprintf(&b, "\n  %-12s %d", name, res.Counts[name])
	}
	return opts.formatter(cmd).Success(b.String())
}
