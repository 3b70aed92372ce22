package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/tonal/internal/catalog"
	"github.com/satindergrewal/tonal/internal/config"
	"github.com/satindergrewal/tonal/internal/synth"
)

// NewCatalogCommand creates the catalog command.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List the frequencies and sessions in the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			cat, err := catalog.Load(cfg.Catalog)
			if err != nil {
				return err
			}
			return printCatalog(cmd.OutOrStdout(), rootOpts.Format, cat)
		},
	}
}

func printCatalog(out io.Writer, format string, cat *catalog.Catalog) error {
	if format == "json" {
		return writeJSON(out, cat)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FREQUENCY\tMODE\tDETAIL\tNAME")
	for _, f := range cat.Frequencies {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.ID, f.Mode, describe(f), f.Name)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "SESSION\tSTEPS\tLENGTH\tNAME")
	for _, s := range cat.Sessions {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", s.ID, len(s.Steps), s.Total(), s.Name)
	}
	return tw.Flush()
}

func describe(f synth.Frequency) string {
	switch f.Mode {
	case synth.Pure:
		return fmt.Sprintf("%g Hz", f.Base)
	case synth.Binaural, synth.Isochronic:
		return fmt.Sprintf("%g Hz, %g Hz beat", f.Base, f.Beat)
	case synth.SplitBinaural:
		return fmt.Sprintf("L %g Hz, R %g Hz", *f.Left, *f.Right)
	case synth.Ambience:
		return string(f.Ambience)
	}
	return ""
}
