package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/meigma/modlist"
	"github.com/meigma/modlist/download"
)

// Version is the release version (set via -ldflags).
var Version = "dev"

// app carries the state shared by every command.
type app struct {
	v       *viper.Viper
	cfgFile string
	prof    profileFlags
	logger  *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: newViper()}
	root := &cobra.Command{
		Use:           "modlist",
		Short:         "Compile and install modded game setups",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `modlist records how every file of a modded game installation can be
rebuilt from the archives it came from, and replays that record on
another machine.

Examples:
  modlist compile --source ./mo2 --downloads ./mo2/downloads -o my.modlist
  modlist install my.modlist --output ./game --downloads ./downloads
  modlist bsa list Skyrim\ -\ Textures.bsa`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadConfigFile(a.v, a.cfgFile); err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), a.v.GetString(keyLogLevel))
			if err != nil {
				return err
			}
			a.logger = logger
			return a.prof.start()
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.prof.stop()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is $HOME/.config/modlist/config.yaml)")
	flags.String("cache-dir", "", "folder for the hash cache, patch cache and index snapshot")
	flags.Int("workers", 0, "concurrent workers (0 means one per CPU)")
	flags.String("staging-dir", "", "folder archives are extracted into")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	a.prof.register(flags)
	for key, name := range map[string]string{
		keyCacheDir:   "cache-dir",
		keyWorkers:    "workers",
		keyStagingDir: "staging-dir",
		keyLogLevel:   "log-level",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(name)) //nolint:errcheck // flag is registered above
	}

	root.AddCommand(
		newIndexCmd(a),
		newCompileCmd(a),
		newInstallCmd(a),
		newBSACmd(a),
		newPatchCmd(a),
	)
	return root
}

// newLogger returns a slog logger writing through charm's handler.
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	handler := log.NewWithOptions(w, log.Options{
		Level:           lvl,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	})
	return slog.New(handler), nil
}

// client builds a modlist client from the merged configuration.
func (a *app) client(opts ...modlist.Option) (*modlist.Client, error) {
	base := []modlist.Option{
		modlist.WithLogger(a.logger),
		modlist.WithWorkers(a.v.GetInt(keyWorkers)),
		modlist.WithDownloaders(
			download.NewHTTP(
				download.WithChunkSize(a.v.GetInt64(keyChunkSize)),
				download.WithRetries(a.v.GetInt(keyRetries)),
				download.WithHTTPLogger(a.logger),
			),
			download.NewOCI(
				download.WithPlainHTTP(a.v.GetBool(keyPlainHTTP)),
				download.WithDockerCredentials(),
				download.WithOCILogger(a.logger),
			),
		),
	}
	if dir := a.v.GetString(keyCacheDir); dir != "" {
		base = append(base, modlist.WithCacheDir(dir))
	}
	if dir := a.v.GetString(keyStagingDir); dir != "" {
		base = append(base, modlist.WithStagingDir(dir))
	}
	return modlist.NewClient(append(base, opts...)...)
}

func humanBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}
