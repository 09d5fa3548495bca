package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/viper"
)

type ReloadConfigFunc func() error

var (
	reloadConfigFuncs []ReloadConfigFunc
	reloadMu          sync.Mutex
)

func RegisterReloadConfigFunc(fn ReloadConfigFunc) {
	reloadMu.Lock()
	defer reloadMu.Unlock()
	reloadConfigFuncs = append(reloadConfigFuncs, fn)
}

// ReloadConfig reads the config file, then applies every registered reload func.
// A missing config file is not an error, defaults stay in effect.
func ReloadConfig() error {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config file: %w", err)
		}
	}
	return ApplyReloadFuncs()
}

// ApplyReloadFuncs re-applies current viper values without reading the file.
func ApplyReloadFuncs() error {
	reloadMu.Lock()
	funcs := append([]ReloadConfigFunc(nil), reloadConfigFuncs...)
	reloadMu.Unlock()
	for _, f := range funcs {
		if err := f(); err != nil {
			return err
		}
	}
	return nil
}

// ConfigFile returns the file viper loaded, empty when none was found.
func ConfigFile() string {
	return viper.ConfigFileUsed()
}

func init() {
	viper.AutomaticEnv()
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.idorm")
	viper.SetConfigName("idorm")
	viper.SetConfigType("yaml")

	viper.SetDefault("server.addr", ":9090")
	viper.SetDefault("orm.validator-cache-size", 256)
	viper.SetDefault("orm.slow-query-threshold", "200ms")
	viper.SetDefault("orm.require-where", false)
	viper.SetDefault("orm.metrics", false)
	viper.SetDefault("orm.tracing", false)
	viper.SetDefault("event.kind", "none")
	viper.SetDefault("event.topic", "idorm.mutation")
	viper.SetDefault("event.poll-interval", "1s")
}
