package cmd

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/pilab-dev/storefront/auth"
	"github.com/pilab-dev/storefront/cmd/storefrontctl/app"
	"github.com/pilab-dev/storefront/currency"
	"github.com/pilab-dev/storefront/events"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print session and currency changes until interrupted",
	Long: `Prints every state change as a YAML document. Changes made by other
storefrontctl processes sharing the same Redis backend show up here as they happen.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			var mu sync.Mutex
			emit := func(kind string, v interface{}) {
				mu.Lock()
				defer mu.Unlock()
				fmt.Printf("--- # %s\n", kind)
				if err := printYAML(os.Stdout, v); err != nil {
					appLogger.Error(ctx, "failed to print state", err)
				}
			}

			emit("session", a.Manager.State())
			emit("currency", a.Currency.State())

			defer a.Manager.Subscribe(func(s auth.State) { emit("session", s) })()
			defer a.Currency.Subscribe(func(s currency.State) { emit("currency", s) })()
			defer a.Bus.Subscribe(events.TopicTokenExpired, func(e events.Event) {
				emit("event", e)
			})()

			<-ctx.Done()
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
