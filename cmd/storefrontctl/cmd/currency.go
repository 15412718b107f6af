package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pilab-dev/storefront/cmd/storefrontctl/app"
	"github.com/pilab-dev/storefront/currency"
)

var currencyCmd = &cobra.Command{
	Use:   "currency",
	Short: "Select a display currency and convert prices",
}

var currencyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List supported currencies and their rates",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(_ context.Context, a *app.App) error {
			st := a.Currency.State()
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CODE\tNAME\tSYMBOL\tRATE\tSELECTED")
			for _, info := range currency.Supported() {
				mark := ""
				if info.Code == st.Selected {
					mark = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%g\t%s\n", info.Code, info.Name, info.Symbol, st.Rates[info.Code], mark)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if !st.LastUpdated.IsZero() {
				fmt.Printf("Rates updated %s\n", st.LastUpdated.Format("2006-01-02 15:04:05"))
			}
			return nil
		})
	},
}

var currencySetCmd = &cobra.Command{
	Use:   "set <code>",
	Short: "Select the display currency",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := currency.ParseCode(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Currency.SetSelectedCurrency(ctx, code); err != nil {
				return err
			}
			fmt.Printf("Selected currency: %s\n", code)
			return nil
		})
	},
}

var currencyConvertCmd = &cobra.Command{
	Use:   "convert <amount>",
	Short: "Convert an amount between currencies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid amount %q", args[0])
		}
		from, err := codeFlag(cmd, "from")
		if err != nil {
			return err
		}
		to, err := codeFlag(cmd, "to")
		if err != nil {
			return err
		}

		return withApp(cmd, func(_ context.Context, a *app.App) error {
			if from == "" {
				from = currency.Base
			}
			if to == "" {
				to = a.Currency.Selected()
			}
			converted, err := a.Currency.ConvertPrice(amount, from, to)
			if err != nil {
				return err
			}
			fmt.Printf("%g %s = %g %s\n", amount, from, converted, to)
			return nil
		})
	},
}

var currencyFormatCmd = &cobra.Command{
	Use:   "format <amount>",
	Short: "Format an amount for display",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid amount %q", args[0])
		}

		var opts currency.FormatOptions
		if opts.Currency, err = codeFlag(cmd, "currency"); err != nil {
			return err
		}
		if opts.From, err = codeFlag(cmd, "from"); err != nil {
			return err
		}
		if cmd.Flags().Changed("decimals") {
			d, _ := cmd.Flags().GetInt("decimals")
			opts.Decimals = &d
		}
		opts.HideSymbol, _ = cmd.Flags().GetBool("hide-symbol")

		return withApp(cmd, func(_ context.Context, a *app.App) error {
			s, err := a.Currency.FormatPrice(amount, opts)
			if err != nil {
				return err
			}
			fmt.Println(s)
			return nil
		})
	},
}

var currencyRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh exchange rates now",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Currency.RefreshRates(ctx); err != nil {
				return err
			}
			return printYAML(os.Stdout, a.Currency.State())
		})
	},
}

// codeFlag parses an optional currency code flag.
func codeFlag(cmd *cobra.Command, name string) (currency.Code, error) {
	v, _ := cmd.Flags().GetString(name)
	if v == "" {
		return "", nil
	}
	return currency.ParseCode(v)
}

func init() {
	rootCmd.AddCommand(currencyCmd)
	currencyCmd.AddCommand(currencyListCmd, currencySetCmd, currencyConvertCmd, currencyFormatCmd, currencyRefreshCmd)

	currencyConvertCmd.Flags().String("from", "", "source currency (default base)")
	currencyConvertCmd.Flags().String("to", "", "target currency (default selected)")

	currencyFormatCmd.Flags().String("currency", "", "display currency (default selected)")
	currencyFormatCmd.Flags().String("from", "", "convert from this currency first")
	currencyFormatCmd.Flags().Int("decimals", 0, "override the ISO 4217 minor units")
	currencyFormatCmd.Flags().Bool("hide-symbol", false, "print the number only")
}
