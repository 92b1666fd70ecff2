package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meigma/modlist"
	"github.com/meigma/modlist/compile"
)

type compileFlags struct {
	source       string
	downloads    string
	gameDir      string
	game         string
	output       string
	strongVerify bool
	verify       bool
	info         compile.Info
}

func newCompileCmd(a *app) *cobra.Command {
	var f compileFlags
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile an installed setup into a plan",
		Long: `Compile matches every file under the source folder against the
downloaded archives and the game installation, and writes a plan that
can rebuild the folder elsewhere. Downloads need a .meta file saying
where they came from.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.client(modlist.WithArchiveVerification(f.verify))
			if err != nil {
				return err
			}
			defer c.Close()

			res, err := c.Compile(cmd.Context(), modlist.CompileConfig{
				SourceRoot:    f.source,
				DownloadsRoot: f.downloads,
				GameRoot:      f.gameDir,
				Game:          f.game,
				Output:        f.output,
			},
				compile.WithInfo(f.info),
				compile.WithStrongVerify(f.strongVerify),
				compile.WithIgnoreMissing(a.v.GetBool(keyCompileMissing)),
			)
			var nm *compile.NoMatchError
			if errors.As(err, &nm) {
				for _, u := range nm.Files {
					a.logger.Error("no match", "path", u.To, "size", humanBytes(u.Size))
				}
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "wrote %s (%s)\n", res.Path, humanBytes(res.Meta.Size))
			fmt.Fprintf(out, "  %d archives, %s to download\n", res.Meta.ArchiveCount, humanBytes(res.Meta.ArchiveSize))
			fmt.Fprintf(out, "  %d files, %s installed\n", res.Meta.InstalledCount, humanBytes(res.Meta.InstalledSize))
			if len(res.Unmatched) > 0 {
				fmt.Fprintf(out, "  %d files left out\n", len(res.Unmatched))
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.source, "source", "", "installed setup to compile (required)")
	flags.StringVar(&f.downloads, "downloads", "", "folder holding the downloaded archives (required)")
	flags.StringVar(&f.gameDir, "game-dir", "", "game installation folder")
	flags.StringVar(&f.game, "game", "", "game name recorded for game files")
	flags.StringVarP(&f.output, "output", "o", "", "plan file to write (required)")
	flags.BoolVar(&f.strongVerify, "strong-verify", false, "confirm matches with sha256 as well")
	flags.BoolVar(&f.verify, "verify-archives", false, "check every archive can still be downloaded")
	flags.Bool("ignore-missing", false, "leave out files no archive can supply instead of failing")
	flags.StringVar(&f.info.Name, "name", "", "plan name")
	flags.StringVar(&f.info.Author, "author", "", "plan author")
	flags.StringVar(&f.info.Version, "plan-version", "", "plan version")
	flags.StringVar(&f.info.Description, "description", "", "plan description")
	flags.StringVar(&f.info.Website, "website", "", "plan website")
	for _, name := range []string{"source", "downloads", "output"} {
		_ = cmd.MarkFlagRequired(name) //nolint:errcheck // flag is registered above
	}
	_ = a.v.BindPFlag(keyCompileMissing, flags.Lookup("ignore-missing")) //nolint:errcheck // flag is registered above
	return cmd
}
