package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/tonal/internal/config"
	"github.com/satindergrewal/tonal/internal/ledger"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	var recent int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show mindful time and completed sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DB == "" {
				return errors.New("history is disabled: set TONAL_DB")
			}
			store, err := ledger.Open(cfg.DB)
			if err != nil {
				return err
			}
			defer store.Close()

			sum, err := store.Summary(cmd.Context(), recent)
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), rootOpts.Format, sum)
		},
	}

	cmd.Flags().IntVarP(&recent, "recent", "n", 10, "number of recent completions to list")

	return cmd
}

func printHistory(out io.Writer, format string, sum ledger.Summary) error {
	if format == "json" {
		return writeJSON(out, sum)
	}
	mindful := time.Duration(sum.MindfulSeconds * float64(time.Second)).Round(time.Second)
	fmt.Fprintf(out, "Mindful time: %s\n", mindful)
	fmt.Fprintf(out, "Completed sessions: %d\n", sum.Completions)
	for _, c := range sum.Recent {
		fmt.Fprintf(out, "  %s  %-20s %s\n",
			c.CompletedAt.Local().Format("2006-01-02 15:04"), c.SessionName,
			time.Duration(c.Seconds*float64(time.Second)).Round(time.Second))
	}
	return nil
}
