package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// PutCmd returns the put command for uploading a local file
func PutCmd(rt *Runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <local-file> [name]",
		Short: "Upload a file to storage",
		Long: `Upload a local file to the configured storage backend. The file is stored
under the storage root as name, which defaults to the file's base name.
An existing object with the same name is replaced.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			localPath := args[0]
			name := filepath.Base(localPath)
			if len(args) > 1 {
				name = args[1]
			}

			file, err := os.Open(localPath)
			if err != nil {
				return fmt.Errorf("failed to open local file: %w", err)
			}
			defer file.Close()

			info, err := file.Stat()
			if err != nil {
				return fmt.Errorf("failed to stat local file: %w", err)
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory", localPath)
			}

			store, err := rt.OpenStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Write(cmd.Context(), file, name); err != nil {
				return fmt.Errorf("failed to upload %s: %w", name, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s (%s) to %s:%s%s\n",
				localPath, humanize.Bytes(uint64(info.Size())), store.Type(), store.Root(), name)
			return nil
		},
	}

	return cmd
}
