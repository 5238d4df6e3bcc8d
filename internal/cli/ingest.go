package cli

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/posvault/internal/adapter"
)

// IngestResult is the output of the ingest command.
type IngestResult struct {
	Applied int `json:"applied"`
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <events-file>",
		Short: "Apply a feed of hosted-backend changes to the store",
		Long: `Apply a feed of changes exported from the hosted backend. The feed holds one
JSON event per line:

  {"op": "upsert", "collection": "products", "record": {"id": "p1", "price": "2.50"}}
  {"op": "delete", "collection": "products", "key": "p9"}

Every event is checked before anything is written, and the whole feed is
applied in one transaction. Use '-' to read the feed from stdin.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read feed", err)
			}
			events, err := adapter.DecodeEvents(bytes.NewReader(data))
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to parse feed", err)
			}

			_, st, closeFn, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			defer closeFn()

			n, err := adapter.New(st, slog.Default()).ApplyBatch(commandContext(cmd), events)
			if err != nil {
				return WrapExitError(ExitFailure, "feed rejected, nothing applied", err)
			}
			if rootOpts.Format == "json" {
				return rootOpts.formatter(cmd).Success(IngestResult{Applied: n})
			}
			return rootOpts.formatter(cmd).Success(fmt.Sprintf("Applied %d event(s).", n))
		},
	}
}
