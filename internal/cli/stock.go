package cli

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/roach88/posvault/internal/catalog"
)

// NewStockCommand creates the stock command group.
func NewStockCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stock",
		Short: "Manage ingredient stock",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "adjust <ingredient> <delta>",
		Short: "Add to or take from an ingredient's stock",
		Example: `  posvault stock adjust milk 12.5
  posvault stock adjust milk -- -2`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, err := decimal.NewFromString(args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid delta", err)
			}

			_, st, closeFn, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			defer closeFn()

			ing, err := catalog.New(st, slog.Default()).AdjustIngredientStock(commandContext(cmd), args[0], delta)
			if err != nil {
				return WrapExitError(ExitFailure, "stock not changed", err)
			}
			if rootOpts.Format == "json" {
				return rootOpts.formatter(cmd).Success(ing)
			}
			unit := ""
			if ing.Unit != "" {
				unit = " " + ing.Unit
			}
			return rootOpts.formatter(cmd).Success(fmt.Sprintf("%s: %s%s in stock", ing.Name, ing.Stock.String(), unit))
		},
	})
	return cmd
}
