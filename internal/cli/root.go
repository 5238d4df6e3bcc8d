package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/posvault/internal/backup"
	"github.com/roach88/posvault/internal/config"
	"github.com/roach88/posvault/internal/ids"
	"github.com/roach88/posvault/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Database   string // overrides the config file when set

	// Clock overrides the time source (for testing). Defaults to time.Now.
	Clock func() time.Time

	// IDs overrides the order id generator (for testing). Defaults to
	// UUIDv7Generator.
	IDs ids.Generator

	// SinkDeps overrides how backup destinations are reached (for testing).
	SinkDeps *backup.SinkDeps
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the posvault CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "posvault",
		Short: "posvault - local-first order store with backup and restore",
		Long: `posvault keeps open table orders and the catalog in a local SQLite store,
backs the whole store up to a local directory, an FTP server or S3, and
restores it from any of those snapshots.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			setupLogging(cmd.ErrOrStderr(), opts.Verbose)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", config.DefaultPath, "path to config file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")

	cmd.AddCommand(NewBackupCommand(opts))
	cmd.AddCommand(NewRestoreCommand(opts))
	cmd.AddCommand(NewTablesCommand(opts))
	cmd.AddCommand(NewIngestCommand(opts))
	cmd.AddCommand(NewStockCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// setupLogging installs a text slog handler on w.
func setupLogging(w io.Writer, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

func (o *RootOptions) now() time.Time {
	if o.Clock != nil {
		return o.Clock()
	}
	return time.Now().UTC()
}

func (o *RootOptions) idGenerator() ids.Generator {
	if o.IDs != nil {
		return o.IDs
	}
	return ids.UUIDv7Generator{}
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// loadConfig reads the config file and applies the --db override.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Database != "" {
		cfg.Database = o.Database
	}
	return cfg, nil
}

// openStore loads the config and opens the store it names. The caller must
// call the returned close function.
func (o *RootOptions) openStore() (*config.Config, *store.Store, func(), error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	slog.Debug("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, nil, nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	closeFn := func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}
	return cfg, st, closeFn, nil
}

// sinkDeps returns the collaborators for building backup destinations.
func (o *RootOptions) sinkDeps(cfg *config.Config) backup.SinkDeps {
	if o.SinkDeps != nil {
		return *o.SinkDeps
	}
	return backup.SinkDeps{
		Capability: backup.Capability(),
		Downloader: backup.DirDownloader{Dir: cfg.DownloadDir},
		DialFTP:    backup.DialFTP,
		Logger:     slog.Default(),
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// Execute runs the root command and returns the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.Execute(); err != nil {
		reportError(cmd, err)
		return GetExitCode(err)
	}
	return ExitSuccess
}

// reportError prints a command error in the format the user asked for.
func reportError(cmd *cobra.Command, err error) {
	format := "text"
	if f := cmd.PersistentFlags().Lookup("format"); f != nil && isValidFormat(f.Value.String()) {
		format = f.Value.String()
	}
	out := &OutputFormatter{Format: format, Writer: cmd.ErrOrStderr()}
	if format == "json" {
		out.Writer = cmd.OutOrStdout()
	}
	_ = out.Error(ErrorCode(err), err.Error(), nil)
}
