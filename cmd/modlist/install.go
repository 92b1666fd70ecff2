package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meigma/modlist"
	"github.com/meigma/modlist/install"
)

func newInstallCmd(a *app) *cobra.Command {
	var (
		layout     modlist.DirLayout
		noDownload bool
		failFast   bool
		parallel   int
	)
	cmd := &cobra.Command{
		Use:   "install <plan>",
		Short: "Install a plan",
		Long: `Install rebuilds the setup described by a plan. Archives already in
the downloads folder are used as they are; missing ones are downloaded
unless --no-download is given. Archives that must be fetched by hand are
listed at the end, as are files that fail verification.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			defer c.Close()

			if layout.Staging == "" {
				layout.Staging = a.v.GetString(keyStagingDir)
			}
			opts := []install.Option{
				install.WithIgnoreMissing(a.v.GetBool(keyInstallMissing)),
				install.WithDownloadParallelism(parallel),
			}
			if noDownload {
				opts = append(opts, install.WithoutDownloads())
			}
			if failFast {
				opts = append(opts, install.WithFailFast(true))
			}
			res, err := c.Install(cmd.Context(), args[0], layout, opts...)
			var failed *install.FailedFilesError
			if err != nil && !errors.As(err, &failed) {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "installed %s: %d files, %d archives downloaded\n", res.ModList.Name, res.Installed, res.Downloaded)
			for _, m := range res.Missing {
				fmt.Fprintf(out, "  missing %s (%s)\n", m.Name, humanBytes(m.Size))
			}
			if res.Skipped > 0 {
				fmt.Fprintf(out, "  %d files skipped\n", res.Skipped)
			}
			for _, f := range res.Failed {
				fmt.Fprintf(out, "  failed %s: %v\n", f.To, f.Err)
			}
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&layout.Output, "output", "o", "", "folder to install into (required)")
	flags.StringVar(&layout.Downloads, "downloads", "", "folder holding downloaded archives (required)")
	flags.StringVar(&layout.Game, "game-dir", "", "game installation folder")
	flags.BoolVar(&noDownload, "no-download", false, "do not fetch missing archives")
	flags.BoolVar(&failFast, "fail-fast", false, "stop at the first file that fails verification")
	flags.IntVar(&parallel, "parallel-downloads", install.DefaultDownloadParallelism, "concurrent archive downloads")
	flags.Bool("ignore-missing", false, "install what is possible when archives are missing")
	for _, name := range []string{"output", "downloads"} {
		_ = cmd.MarkFlagRequired(name) //nolint:errcheck // flag is registered above
	}
	_ = a.v.BindPFlag(keyInstallMissing, flags.Lookup("ignore-missing")) //nolint:errcheck // flag is registered above
	return cmd
}
