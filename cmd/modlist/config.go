package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/meigma/modlist/download"
)

// EnvPrefix is prepended to configuration keys read from the environment,
// so cache.dir is read from MODLIST_CACHE_DIR.
const EnvPrefix = "MODLIST"

// Configuration keys.
const (
	keyCacheDir       = "cache.dir"
	keyWorkers        = "workers"
	keyStagingDir     = "staging.dir"
	keyLogLevel       = "log.level"
	keyCompileMissing = "compile.ignore_missing"
	keyInstallMissing = "install.ignore_missing"
	keyChunkSize      = "download.chunk_size"
	keyRetries        = "download.retries"
	keyPlainHTTP      = "registry.plain_http"
)

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault(keyCacheDir, "")
	v.SetDefault(keyWorkers, 0)
	v.SetDefault(keyStagingDir, "")
	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyCompileMissing, false)
	v.SetDefault(keyInstallMissing, false)
	v.SetDefault(keyChunkSize, download.DefaultChunkSize)
	v.SetDefault(keyRetries, download.DefaultRetries)
	v.SetDefault(keyPlainHTTP, false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// loadConfigFile merges the YAML file at path into v. Without a path the
// user config folder is searched and a missing file is not an error.
func loadConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME/.config/modlist")
	v.AddConfigPath(".")
	var notFound viper.ConfigFileNotFoundError
	if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}
