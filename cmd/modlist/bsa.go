package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/meigma/modlist/bsa"
)

func newBSACmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bsa",
		Short: "Inspect and unpack game archives",
	}
	cmd.AddCommand(newBSAListCmd(), newBSAExtractCmd(a))
	return cmd
}

func newBSAListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <archive>",
		Short: "List the entries of a BSA or BA2 archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := bsa.OpenRead(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			st := r.State()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s version %d, %d entries\n", st.Format, st.Version, len(r.Files()))
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, f := range r.Files() {
				packed := ""
				if f.Compressed() {
					packed = "compressed"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", f.Path(), humanBytes(f.Size()), packed)
			}
			return tw.Flush()
		},
	}
}

func newBSAExtractCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "extract <archive> <dir>",
		Short: "Unpack every entry of a BSA or BA2 archive into a folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := bsa.OpenRead(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			written, err := bsa.Extract(cmd.Context(), r, args[1])
			if err != nil {
				return err
			}
			a.logger.Info("extracted archive", "path", args[0], "count", len(written))
			fmt.Fprintf(cmd.OutOrStdout(), "extracted %d entries to %s\n", len(written), args[1])
			return nil
		},
	}
}
