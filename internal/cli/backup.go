package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/posvault/internal/backup"
	"github.com/roach88/posvault/internal/config"
	"github.com/roach88/posvault/internal/snapshot"
	"github.com/roach88/posvault/internal/store"
)

// BackupRunResult is the output of "backup now".
type BackupRunResult struct {
	File      string            `json:"file"`
	Bytes     int               `json:"bytes"`
	Timestamp string            `json:"timestamp"`
	Delivered []string          `json:"delivered"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// BackupStatus is the output of "backup status".
type BackupStatus struct {
	LastBackup   string   `json:"last_backup,omitempty"`
	AutoBackup   bool     `json:"auto_backup"`
	Interval     string   `json:"interval"`
	Destinations []string `json:"destinations"`
}

// NewBackupCommand creates the backup command group.
func NewBackupCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Back up the store and manage backup settings",
	}
	cmd.AddCommand(newBackupNowCommand(rootOpts))
	cmd.AddCommand(newBackupStatusCommand(rootOpts))
	cmd.AddCommand(newBackupListCommand(rootOpts))
	cmd.AddCommand(newBackupScheduleCommand(rootOpts))
	cmd.AddCommand(newBackupConfigCommand(rootOpts))
	cmd.AddCommand(newBackupSelectDirCommand(rootOpts))
	return cmd
}

func newBackupNowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "now",
		Short: "Take one backup and deliver it to every configured destination",
		Long: `Take one backup now.

The snapshot is delivered to each configured destination independently. The
command succeeds if at least one destination received it; the last backup
time is recorded only then.

Exit codes:
  0 - At least one destination received the backup
  1 - Every destination failed
  2 - Command error (bad config, database not found, etc.)`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackupNow(opts, cmd)
		},
	}
}

func runBackupNow(opts *RootOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	cfg, st, closeFn, err := opts.openStore()
	if err != nil {
		return err
	}
	defer closeFn()

	sched, err := newScheduler(ctx, opts, cfg, st)
	if err != nil {
		return err
	}

	res, runErr := sched.RunCycle(ctx)
	if res != nil {
		out := BackupRunResult{
			File:      res.FileName,
			Bytes:     res.Size,
			Timestamp: snapshot.FormatTimestamp(res.Timestamp),
			Delivered: res.Delivered,
		}
		if len(res.Failed) > 0 {
			out.Failed = make(map[string]string, len(res.Failed))
			for name, err := range res.Failed {
				out.Failed[name] = err.Error()
			}
		}
		f := opts.formatter(cmd)
		for _, name := range sortedKeys(out.Failed) {
			f.VerboseLog("  ✗ %s: %s", name, out.Failed[name])
		}
		if runErr == nil {
			return f.Success(formatBackupRun(out, opts.Format))
		}
	}
	if errors.Is(runErr, backup.ErrNoSinks) {
		return WrapExitError(ExitCommandError, "backup failed", runErr)
	}
	return WrapExitError(ExitFailure, "backup failed", runErr)
}

func formatBackupRun(r BackupRunResult, format string) any {
	if format == "json" {
		return r
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Backup %s (%d bytes)\n", r.File, r.Bytes)
	for _, name := range r.Delivered {
		fmt.Fprintf(&b, "  ✓ %s\n", name)
	}
	for _, name := range sortedKeys(r.Failed) {
		fmt.Fprintf(&b, "  ✗ %s: %s\n", name, r.Failed[name])
	}
	return strings.TrimRight(b.String(), "\n")
}

func newBackupStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "Show the last backup time and configured destinations",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, st, closeFn, err := opts.openStore()
			if err != nil {
				return err
			}
			defer closeFn()

			status := BackupStatus{
				AutoBackup:   cfg.Backup.AutoBackupEnabled,
				Interval:     cfg.Backup.Interval().String(),
				Destinations: destinations(cfg.Backup),
			}
			last, ok, err := backup.ReadLastBackup(ctx, st)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read last backup", err)
			}
			if ok {
				status.LastBackup = snapshot.FormatTimestamp(last)
			}

			if opts.Format == "json" {
				return opts.formatter(cmd).Success(status)
			}
			lastText := "never"
			if ok {
				lastText = status.LastBackup
			}
			return opts.formatter(cmd).Success(fmt.Sprintf(
				"Last backup:  %s\nAuto backup:  %t (every %s)\nDestinations: %s",
				lastText, status.AutoBackup, status.Interval, joinOrNone(status.Destinations)))
		},
	}
}

func newBackupListCommand(opts *RootOptions) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored backups, newest first",
		Long: `List stored backups from the cloud bucket or the local backup directory.

Examples:
  posvault backup list
  posvault backup list --source local --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			var lister backup.Lister
			switch source {
			case "cloud":
				sink, err := cloudSink(ctx, opts, cfg)
				if err != nil {
					return err
				}
				lister = sink
			case "local":
				sink, err := localSink(opts, cfg)
				if err != nil {
					return err
				}
				lister = sink
			default:
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid source %q: must be cloud or local", source))
			}

			entries, err := lister.List(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list backups", err)
			}
			if opts.Format == "json" {
				return opts.formatter(cmd).Success(entries)
			}
			if len(entries) == 0 {
				return opts.formatter(cmd).Success("No backups found.")
			}
			var b strings.Builder
			for _, e := range entries {
				fmt.Fprintf(&b, "%s  %8d  %s\n", e.LastModified.UTC().Format(time.RFC3339), e.Size, e.Path)
			}
			return opts.formatter(cmd).Success(strings.TrimRight(b.String(), "\n"))
		},
	}
	cmd.Flags().StringVar(&source, "source", "cloud", "where to list backups (cloud|local)")
	return cmd
}

func newBackupScheduleCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run automatic backups in the foreground",
		Long: `Run the backup scheduler until interrupted.

One backup is taken immediately and then one every configured interval.
Stopping the scheduler lets a backup that is already running finish.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedule(opts, cmd)
		},
	}
}

func runSchedule(opts *RootOptions, cmd *cobra.Command) error {
	cfg, st, closeFn, err := opts.openStore()
	if err != nil {
		return err
	}
	defer closeFn()

	if !cfg.Backup.AutoBackupEnabled {
		return NewExitError(ExitCommandError, "automatic backup is disabled; enable it with 'posvault backup config --auto'")
	}

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	sched, err := newScheduler(ctx, opts, cfg, st)
	if err != nil {
		return err
	}

	fmt.Fprintf(opts.formatter(cmd).GetErrWriter(), "Automatic backup every %s. Press Ctrl-C to stop.\n", cfg.Backup.Interval())
	sched.Enable(ctx)
	<-ctx.Done()
	sched.Disable()

	slog.Info("scheduler stopped")
	return nil
}

// BackupConfigOptions holds flags for "backup config".
type BackupConfigOptions struct {
	Auto     bool
	Interval int
	LocalDir string

	FTPHost     string
	FTPUser     string
	FTPPassword string
	FTPPath     string
	NoFTP       bool

	CloudBucket   string
	CloudPrefix   string
	CloudRegion   string
	CloudEndpoint string
	NoCloud       bool
}

func newBackupConfigCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BackupConfigOptions{}
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change backup settings",
		Long: `Show or change backup settings. Only the flags given are changed; the
result is validated and written back to the config file.

Examples:
  posvault backup config
  posvault backup config --auto --interval 30
  posvault backup config --ftp-host ftp.example.com:21 --ftp-user shop
  posvault backup config --no-cloud`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackupConfig(rootOpts, opts, cmd)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.Auto, "auto", false, "enable automatic backup (--auto=false disables it)")
	f.IntVar(&opts.Interval, "interval", 0, "minutes between automatic backups")
	f.StringVar(&opts.LocalDir, "local-dir", "", "local backup directory (empty disables)")
	f.StringVar(&opts.FTPHost, "ftp-host", "", "FTP server host:port")
	f.StringVar(&opts.FTPUser, "ftp-user", "", "FTP user")
	f.StringVar(&opts.FTPPassword, "ftp-password", "", "FTP password")
	f.StringVar(&opts.FTPPath, "ftp-path", "", "FTP directory")
	f.BoolVar(&opts.NoFTP, "no-ftp", false, "disable the FTP destination")
	f.StringVar(&opts.CloudBucket, "cloud-bucket", "", "S3 bucket")
	f.StringVar(&opts.CloudPrefix, "cloud-prefix", "", "S3 key prefix")
	f.StringVar(&opts.CloudRegion, "cloud-region", "", "S3 region")
	f.StringVar(&opts.CloudEndpoint, "cloud-endpoint", "", "S3-compatible endpoint URL")
	f.BoolVar(&opts.NoCloud, "no-cloud", false, "disable the cloud destination")
	return cmd
}

func runBackupConfig(rootOpts *RootOptions, opts *BackupConfigOptions, cmd *cobra.Command) error {
	cfg, err := rootOpts.loadConfig()
	if err != nil {
		return err
	}

	f := cmd.Flags()
	changed := false
	b := &cfg.Backup
	if f.Changed("auto") {
		b.AutoBackupEnabled, changed = opts.Auto, true
	}
	if f.Changed("interval") {
		b.IntervalMinutes, changed = opts.Interval, true
	}
	if f.Changed("local-dir") {
		b.LocalDir, changed = opts.LocalDir, true
	}

	if f.Changed("ftp-host") || f.Changed("ftp-user") || f.Changed("ftp-password") || f.Changed("ftp-path") {
		if b.FTP == nil {
			b.FTP = &config.FTPConfig{}
		}
		setIfChanged(f.Changed("ftp-host"), &b.FTP.Host, opts.FTPHost)
		setIfChanged(f.Changed("ftp-user"), &b.FTP.User, opts.FTPUser)
		setIfChanged(f.Changed("ftp-password"), &b.FTP.Password, opts.FTPPassword)
		setIfChanged(f.Changed("ftp-path"), &b.FTP.Path, opts.FTPPath)
		changed = true
	}
	if opts.NoFTP {
		b.FTP, changed = nil, true
	}

	if f.Changed("cloud-bucket") || f.Changed("cloud-prefix") || f.Changed("cloud-region") || f.Changed("cloud-endpoint") {
		if b.Cloud == nil {
			b.Cloud = &config.CloudConfig{}
		}
		setIfChanged(f.Changed("cloud-bucket"), &b.Cloud.Bucket, opts.CloudBucket)
		setIfChanged(f.Changed("cloud-prefix"), &b.Cloud.Prefix, opts.CloudPrefix)
		setIfChanged(f.Changed("cloud-region"), &b.Cloud.Region, opts.CloudRegion)
		setIfChanged(f.Changed("cloud-endpoint"), &b.Cloud.Endpoint, opts.CloudEndpoint)
		changed = true
	}
	if opts.NoCloud {
		b.Cloud, changed = nil, true
	}

	if changed {
		if err := cfg.Save(rootOpts.ConfigPath); err != nil {
			return WrapExitError(ExitCommandError, "failed to save config", err)
		}
		slog.Info("backup settings saved", "path", rootOpts.ConfigPath)
	}

	view := backupView(cfg.Backup)
	if rootOpts.Format == "json" {
		return rootOpts.formatter(cmd).Success(view)
	}
	return rootOpts.formatter(cmd).Success(fmt.Sprintf(
		"Auto backup:  %t (every %s)\nDestinations: %s",
		view.AutoBackupEnabled, cfg.Backup.Interval(), joinOrNone(destinations(cfg.Backup))))
}

func setIfChanged(changed bool, dst *string, v string) {
	if changed {
		*dst = v
	}
}

// backupView returns the settings with secrets masked.
func backupView(b config.Backup) config.Backup {
	if b.FTP != nil {
		ftp := *b.FTP
		if ftp.Password != "" {
			ftp.Password = "****"
		}
		b.FTP = &ftp
	}
	if b.Cloud != nil {
		cloud := *b.Cloud
		if cloud.SecretAccessKey != "" {
			cloud.SecretAccessKey = "****"
		}
		b.Cloud = &cloud
	}
	return b
}

func newBackupSelectDirCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "select-dir <dir>",
		Short: "Choose the local backup directory",
		Long: `Choose the local directory backups are written to.

The directory must exist and be writable. The choice is saved to the config
file and used by every later backup.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			c := opts.sinkDeps(cfg).Capability
			if c == nil {
				c = backup.Capability()
			}
			if err := c.Select(args[0]); err != nil {
				return WrapExitError(ExitCommandError, "directory not usable", err)
			}

			cfg.Backup.LocalDir = c.Dir()
			if err := cfg.Save(opts.ConfigPath); err != nil {
				return WrapExitError(ExitCommandError, "failed to save config", err)
			}
			return opts.formatter(cmd).Success(fmt.Sprintf("Backups will be written to %s", c.Dir()))
		},
	}
}

// newScheduler builds a scheduler for the configured tenant and
// destinations.
func newScheduler(ctx context.Context, opts *RootOptions, cfg *config.Config, st *store.Store) (*backup.Scheduler, error) {
	if cfg.TenantID == "" {
		return nil, WrapExitError(ExitCommandError, "tenant_id is required for backups",
			fmt.Errorf("%w: set tenant_id in %s or POSVAULT_TENANT_ID", config.ErrInvalidConfig, opts.ConfigPath))
	}
	sched, err := backup.NewScheduler(ctx, st, cfg.TenantID, cfg.Backup,
		backup.DefaultSinks(opts.sinkDeps(cfg)),
		backup.WithAppName(cfg.AppName),
		backup.WithClock(opts.now),
		backup.WithLogger(slog.Default()),
	)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to configure backups", err)
	}
	return sched, nil
}

// cloudSink builds the cloud destination from the config.
func cloudSink(ctx context.Context, opts *RootOptions, cfg *config.Config) (*backup.CloudSink, error) {
	if cfg.Backup.Cloud == nil {
		return nil, NewExitError(ExitCommandError, "no cloud destination configured")
	}
	newS3 := opts.sinkDeps(cfg).NewS3
	if newS3 == nil {
		newS3 = func(ctx context.Context, c config.CloudConfig) (backup.S3API, error) {
			return backup.NewS3Client(ctx, c)
		}
	}
	client, err := newS3(ctx, *cfg.Backup.Cloud)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create S3 client", err)
	}
	return backup.NewCloudSink(client, cfg.Backup.Cloud.Bucket, cfg.Backup.Cloud.Prefix), nil
}

// localSink builds the local destination. The saved directory is selected
// again if this process has not selected one yet.
func localSink(opts *RootOptions, cfg *config.Config) (*backup.LocalSink, error) {
	if cfg.Backup.LocalDir == "" {
		return nil, NewExitError(ExitCommandError, "no local backup directory configured; use 'posvault backup select-dir'")
	}
	deps := opts.sinkDeps(cfg)
	c := deps.Capability
	if c == nil {
		c = backup.Capability()
	}
	if c.Dir() == "" {
		if err := c.Select(cfg.Backup.LocalDir); err != nil {
			return nil, WrapExitError(ExitCommandError, "local backup directory not usable", err)
		}
	}
	return backup.NewLocalSink(c, cfg.Backup.LocalDir, deps.Downloader, slog.Default()), nil
}

func destinations(b config.Backup) []string {
	out := []string{}
	if b.LocalDir != "" {
		out = append(out, "local ("+filepath.Clean(b.LocalDir)+")")
	}
	if b.FTP != nil {
		out = append(out, "ftp ("+b.FTP.Host+")")
	}
	if b.Cloud != nil {
		out = append(out, "cloud (s3://"+b.Cloud.Bucket+"/"+b.Cloud.Prefix+")")
	}
	return out
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
