package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/marketpan/internal/resolve"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve and cache the user IDs of all configured accounts",
	RunE:  resolveAction,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}

func resolveAction(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.TwitterEnabled() {
		return errors.New("no twitter accounts configured")
	}
	if cfg.Sources.Twitter.BearerToken == "" {
		return fmt.Errorf("missing environment variables: %s", cfg.Sources.Twitter.BearerTokenEnv)
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	client, err := newTwitterClient(cfg)
	if err != nil {
		return err
	}
	r := resolve.New(st, client, logger)
	resolved, failures := r.ResolveAll(cmd.Context(), cfg.Sources.Twitter.Accounts)

	printResolved(cmd.OutOrStdout(), resolved, failures)
	if len(failures) > 0 {
		return fmt.Errorf("%d of %d accounts could not be resolved", len(failures), len(cfg.Sources.Twitter.Accounts))
	}
	return nil
}

func printResolved(w io.Writer, resolved map[string]string, failures []resolve.Failure) {
	names := make([]string, 0, len(resolved))
	for name := range resolved {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tID")
	for _, name := range names {
		fmt.Fprintf(tw, "%s\t%s\n", name, resolved[name])
	}
	for _, f := range failures {
		fmt.Fprintf(tw, "%s\tFAILED: %v\n", f.Name, f.Err)
	}
	_ = tw.Flush()
}
