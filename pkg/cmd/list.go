package cmd

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"
)

// ListCmd returns the list command for displaying stored objects
func ListCmd(rt *Runtime) *cobra.Command {
	var match string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored files",
		Long: `List the objects directly under the storage root in ascending order.
Use --match to keep only names matching a glob pattern, e.g. "db-*.dump".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if match != "" && !doublestar.ValidatePattern(match) {
				return fmt.Errorf("invalid pattern: %q", match)
			}

			store, err := rt.OpenStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			names, err := store.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list %s: %w", store.Root(), err)
			}

			for _, name := range names {
				if match != "" {
					if ok, _ := doublestar.Match(match, name); !ok {
						continue
					}
				}
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&match, "match", "", "only list names matching this glob pattern")

	return cmd
}
