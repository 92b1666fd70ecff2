package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newIndexCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "index <dir>...",
		Short: "Hash every file under the given folders, including archive contents",
		Long: `Index walks the given folders, hashes every file, and extracts and
indexes every archive it finds, recursively. With a cache folder the
index is saved and reused by later runs, so unchanged files are not
read again.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			defer c.Close()

			idx, err := c.Index(cmd.Context(), args...)
			if err != nil {
				return err
			}
			var total int64
			roots := idx.Roots()
			for _, r := range roots {
				total += r.Size
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d files in %d top-level files (%s)\n", idx.Len(), len(roots), humanBytes(total))
			return nil
		},
	}
}
