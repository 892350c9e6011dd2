package cmd

import (
	"errors"
	"fmt"

	"github.com/logandonley/backstore/pkg/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// DeleteCmd returns the delete command for removing stored objects
func DeleteCmd(rt *Runtime) *cobra.Command {
	var ignoreMissing bool

	cmd := &cobra.Command{
		Use:   "delete <name>...",
		Short: "Delete files from storage",
		Long: `Delete one or more objects from the storage root. Deleting a name that does
not exist is an error unless --ignore-missing is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := rt.OpenStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			for _, name := range args {
				err := store.Delete(cmd.Context(), name)
				switch {
				case err == nil:
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", name)
				case ignoreMissing && errors.Is(err, storage.ErrNotFound):
					rt.Logger.Debug("Skipping missing object", zap.String("name", name))
				default:
					return fmt.Errorf("failed to delete %s: %w", name, err)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&ignoreMissing, "ignore-missing", false, "do not fail when a name does not exist")

	return cmd
}
