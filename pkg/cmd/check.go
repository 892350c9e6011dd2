package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// CheckCmd returns the check command for validating the storage setup
func CheckCmd(rt *Runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and storage connectivity",
		Long: `Validate the configuration, connect to the configured storage backend
and list its root once. A non-zero exit status means the backend is
misconfigured, unreachable or refuses access.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := rt.OpenStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			names, err := store.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list %s: %w", store.Root(), err)
			}

			rt.Logger.Debug("Storage check passed",
				zap.String("backend", store.Type()),
				zap.Int("objects", len(names)))
			fmt.Fprintf(cmd.OutOrStdout(), "%s storage at %s is reachable (%d objects)\n",
				store.Type(), store.Root(), len(names))
			return nil
		},
	}

	return cmd
}
