package cmd

import (
	"fmt"
	"io"
	"os"
	"path"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// GetCmd returns the get command for downloading a stored object
func GetCmd(rt *Runtime) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "get <name> [local-file|-]",
		Short: "Download a file from storage",
		Long: `Download an object from the configured storage backend. The content is written
to local-file, which defaults to the object's base name, or to standard
output when local-file is "-".`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			dest := path.Base(name)
			if len(args) > 1 {
				dest = args[1]
			}

			if dest != "-" && !force {
				if _, err := os.Stat(dest); err == nil {
					return fmt.Errorf("%s already exists, use --force to overwrite", dest)
				}
			}

			store, err := rt.OpenStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			content, err := store.Read(cmd.Context(), name)
			if err != nil {
				return fmt.Errorf("failed to download %s: %w", name, err)
			}
			defer content.Close()

			if dest == "-" {
				if _, err := io.Copy(cmd.OutOrStdout(), content); err != nil {
					return fmt.Errorf("failed to write output: %w", err)
				}
				return nil
			}

			file, err := os.Create(dest)
			if err != nil {
				return fmt.Errorf("failed to create local file: %w", err)
			}
			if _, err := io.Copy(file, content); err != nil {
				file.Close()
				return fmt.Errorf("failed to copy file contents: %w", err)
			}
			if err := file.Close(); err != nil {
				return fmt.Errorf("failed to close local file: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Downloaded %s (%s) to %s\n",
				name, humanize.Bytes(uint64(content.Size())), dest)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing local file")

	return cmd
}
