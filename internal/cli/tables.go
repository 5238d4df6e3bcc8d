package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/roach88/posvault/internal/cart"
	"github.com/roach88/posvault/internal/catalog"
	"github.com/roach88/posvault/internal/config"
	"github.com/roach88/posvault/internal/model"
	"github.com/roach88/posvault/internal/store"
	"github.com/roach88/posvault/internal/tableorder"
)

// NewTablesCommand creates the tables command group.
func NewTablesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tables",
		Short: "Inspect and manage open table orders",
	}
	cmd.AddCommand(newTablesListCommand(rootOpts))
	cmd.AddCommand(newTablesShowCommand(rootOpts))
	cmd.AddCommand(newTablesAddCommand(rootOpts))
	cmd.AddCommand(newTablesCompleteCommand(rootOpts))
	cmd.AddCommand(newTablesCancelCommand(rootOpts))
	return cmd
}

// withManager opens the store and runs fn with a table order manager.
func withManager(opts *RootOptions, fn func(*config.Config, *store.Store, *tableorder.Manager) error) error {
	cfg, st, closeFn, err := opts.openStore()
	if err != nil {
		return err
	}
	defer closeFn()

	m := tableorder.NewManager(st, tableorder.StaticTax(cfg.Tax),
		tableorder.WithIDGenerator(opts.idGenerator()),
		tableorder.WithClock(opts.now),
	)
	return fn(cfg, st, m)
}

func newTablesListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List tables with an open order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(opts, func(_ *config.Config, _ *store.Store, m *tableorder.Manager) error {
				tables, err := m.ActiveTables(commandContext(cmd))
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to list tables", err)
				}
				if opts.Format == "json" {
					return opts.formatter(cmd).Success(tables)
				}
				if len(tables) == 0 {
					return opts.formatter(cmd).Success("No open tables.")
				}
				return opts.formatter(cmd).Success(strings.Join(tables, "\n"))
			})
		},
	}
}

func newTablesShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <table>",
		Short:         "Show the open order of a table",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(opts, func(_ *config.Config, _ *store.Store, m *tableorder.Manager) error {
				_, order, err := m.Load(commandContext(cmd), args[0])
				if err != nil {
					return WrapExitError(ExitFailure, "failed to load table", err)
				}
				return printOrder(opts, cmd, order)
			})
		},
	}
}

// TablesAddOptions holds flags for "tables add".
type TablesAddOptions struct {
	Quantity int
	Size     string
	Note     string
	Barcode  bool
}

func newTablesAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TablesAddOptions{}
	cmd := &cobra.Command{
		Use:   "add <table> <product>",
		Short: "Add a product to a table's order",
		Long: `Add a product to a table's order, creating the order if the table has none.
Adding a product that is already on the order with the same size raises its
quantity.

Examples:
  posvault tables add T1 p1 --qty 2
  posvault tables add T1 pizza --size large
  posvault tables add T1 7501234567890 --barcode`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			tableID, ref := args[0], args[1]
			return withManager(rootOpts, func(_ *config.Config, st *store.Store, m *tableorder.Manager) error {
				ctx := commandContext(cmd)
				c, _, err := m.Load(ctx, tableID)
				if err != nil && !isNoDraft(err) {
					return WrapExitError(ExitFailure, "failed to load table", err)
				}
				if c == nil {
					c = cart.New()
				}

				cat := catalog.New(st, nil)
				var key string
				if opts.Barcode {
					key, err = c.ScanBarcode(ctx, cat, ref, opts.Quantity)
				} else {
					var p model.Product
					p, err = cat.Product(ctx, ref)
					if err == nil {
						key, err = c.AddProduct(p, opts.Size, opts.Quantity)
					}
				}
				if err != nil {
					return WrapExitError(ExitFailure, "failed to add item", err)
				}
				if opts.Note != "" {
					if err := c.SetNote(key, opts.Note); err != nil {
						return WrapExitError(ExitFailure, "failed to set note", err)
					}
				}

				order, err := m.Save(ctx, tableID, c)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to save table", err)
				}
				return printOrder(rootOpts, cmd, order)
			})
		},
	}
	cmd.Flags().IntVarP(&opts.Quantity, "qty", "q", 1, "quantity to add")
	cmd.Flags().StringVar(&opts.Size, "size", "", "size variant")
	cmd.Flags().StringVar(&opts.Note, "note", "", "note for the line")
	cmd.Flags().BoolVar(&opts.Barcode, "barcode", false, "treat <product> as a barcode")
	return cmd
}

// TablesCompleteOptions holds flags for "tables complete".
type TablesCompleteOptions struct {
	Method string
	Splits []string
}

func newTablesCompleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TablesCompleteOptions{}
	cmd := &cobra.Command{
		Use:   "complete <table>",
		Short: "Take payment and close a table's order",
		Long: `Take payment for a table's order. The finalized order is recorded and the
table is freed in one step.

Examples:
  posvault tables complete T1 --method cash
  posvault tables complete T1 --method split --split cash=60 --split card=53`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			payment, err := parsePayment(opts.Method, opts.Splits)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid payment", err)
			}
			return withManager(rootOpts, func(_ *config.Config, _ *store.Store, m *tableorder.Manager) error {
				order, err := m.Complete(commandContext(cmd), args[0], payment)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to complete table", err)
				}
				return printOrder(rootOpts, cmd, order)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Method, "method", "cash", "payment method (cash|card|split)")
	cmd.Flags().StringArrayVar(&opts.Splits, "split", nil, "split leg as method=amount (repeatable)")
	return cmd
}

func parsePayment(method string, splits []string) (model.Payment, error) {
	p := model.Payment{Method: model.PaymentMethod(method)}
	for _, s := range splits {
		m, amount, ok := strings.Cut(s, "=")
		if !ok {
			return model.Payment{}, fmt.Errorf("split %q: want method=amount", s)
		}
		d, err := decimal.NewFromString(strings.TrimSpace(amount))
		if err != nil {
			return model.Payment{}, fmt.Errorf("split %q: %w", s, err)
		}
		p.Splits = append(p.Splits, model.SplitPayment{Method: model.PaymentMethod(strings.TrimSpace(m)), Amount: d})
	}
	return p, nil
}

func newTablesCancelCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "cancel <table>",
		Short:         "Discard a table's open order",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(opts, func(_ *config.Config, _ *store.Store, m *tableorder.Manager) error {
				if err := m.Cancel(commandContext(cmd), args[0]); err != nil {
					return WrapExitError(ExitFailure, "failed to cancel table", err)
				}
				return opts.formatter(cmd).Success(fmt.Sprintf("Table %s cancelled.", args[0]))
			})
		},
	}
}

func isNoDraft(err error) bool {
	return errors.Is(err, tableorder.ErrNoDraft)
}

func printOrder(opts *RootOptions, cmd *cobra.Command, o model.Order) error {
	if opts.Format == "json" {
		return opts.formatter(cmd).Success(o)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Order %s (%s", o.ID, o.Status)
	if o.TableID != "" {
		fmt.Fprintf(&b, ", table %s", o.TableID)
	}
	b.WriteString(")\n")
	for _, line := range o.Items {
		name := line.Name
		if line.Size != "" {
			name += " (" + line.Size + ")"
		}
		fmt.Fprintf(&b, "  %3d x %-24s %10s\n", line.Quantity, name, cart.LineTotal(line).StringFixed(2))
	}
	fmt.Fprintf(&b, "  Subtotal %30s\n", o.Subtotal.StringFixed(2))
	fmt.Fprintf(&b, "  Tax      %30s\n", o.Tax.StringFixed(2))
	fmt.Fprintf(&b, "  Total    %30s", o.Total.StringFixed(2))
	if o.PaymentMethod != "" {
		fmt.Fprintf(&b, "\n  Paid by %s", o.PaymentMethod)
	}
	return opts.formatter(cmd).Success(b.String())
}
