package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cdpwatch/pkg/api"
)

var (
	findFlagURL         string
	findFlagSelector    string
	findFlagMaxAttempts int
	findFlagInterval    time.Duration
	findFlagHTML        bool
)

var findCmd = &cobra.Command{
	Use:   "find",
	Short: "Poll a CSS selector until it matches",
	Long: `Open a page and query a CSS selector at a fixed interval until at least one
element matches or the attempts run out. Prints the element count.

Examples:
  cdpwatch find --url https://example.com --selector ".product"
  cdpwatch find --url https://example.com --selector "#cart li" --max-attempts 2 --interval 1s --html`,
	RunE: func(cmd *cobra.Command, args []string) error {
		attempts := cfg.Retry.MaxAttempts
		if cmd.Flags().Changed("max-attempts") {
			attempts = findFlagMaxAttempts
		}
		interval := time.Duration(cfg.Retry.IntervalMS) * time.Millisecond
		if cmd.Flags().Changed("interval") {
			interval = findFlagInterval
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc := api.NewService(api.Options{Logger: log, MaxAttempts: &attempts, Interval: &interval})
		defer func() { _ = svc.Close() }()

		id, err := svc.StartSession(ctx, cfg.Browser)
		if err != nil {
			return err
		}
		if findFlagURL != "" {
			if err := svc.Navigate(ctx, id, findFlagURL); err != nil {
				return err
			}
		}

		set, err := svc.ResolveWithRetry(ctx, id, findFlagSelector)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, set.Count())
		if !findFlagHTML {
			return nil
		}
		for i := 0; i < set.Count(); i++ {
			html, err := set.Nth(i).OuterHTML(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, html)
		}
		return nil
	},
}

func init() {
	f := findCmd.Flags()
	f.StringVarP(&findFlagURL, "url", "u", "", "Page to open before polling")
	f.StringVarP(&findFlagSelector, "selector", "s", "", "CSS selector")
	f.IntVar(&findFlagMaxAttempts, "max-attempts", 5, "Retries after the first query")
	f.DurationVar(&findFlagInterval, "interval", 3*time.Second, "Wait between queries")
	f.BoolVar(&findFlagHTML, "html", false, "Print the outer HTML of each match")
	_ = findCmd.MarkFlagRequired("selector")
}
