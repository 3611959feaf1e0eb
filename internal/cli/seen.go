package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/marketpan/internal/state"
)

var seenCmd = &cobra.Command{
	Use:   "seen",
	Short: "Show how many items of each source type have been processed",
	RunE:  seenAction,
}

func init() {
	rootCmd.AddCommand(seenCmd)
}

func seenAction(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	location := cfg.Storage.Dir
	if cfg.Storage.Backend == "sqlite" {
		location = cfg.Storage.Path
	}
	fmt.Fprintf(cmd.OutOrStdout(), "state: %s (%s)\n\n", location, cfg.Storage.Backend)
	printSeen(cmd.OutOrStdout(), st)
	return nil
}

func printSeen(w io.Writer, st state.Store) {
	kinds := st.SeenKinds()
	if len(kinds) == 0 {
		fmt.Fprintln(w, "No items processed yet.")
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if len(kinds) > 0 {
		fmt.Fprintln(tw, "TYPE\tSEEN")
		total := 0
		for _, kind := range kinds {
			n := st.SeenCount(kind)
			total += n
			fmt.Fprintf(tw, "%s\t%s\n", kind, humanize.Comma(int64(n)))
		}
		fmt.Fprintf(tw, "total\t%s\n", humanize.Comma(int64(total)))
	}
	fmt.Fprintf(tw, "identities\t%s\n", humanize.Comma(int64(len(st.Identities()))))
	_ = tw.Flush()
}
