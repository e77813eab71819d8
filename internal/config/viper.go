package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ConfigDirName is the per-user directory under $HOME.
const ConfigDirName = ".tablegen"

// NewViper binds TABLEGEN_* environment variables (dashes in keys become
// underscores) and reads configFile, or $HOME/.tablegen/config.* when
// configFile is empty. Only an explicitly named file is required to exist.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("TABLEGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := strings.TrimSpace(configFile); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
		return v, nil
	}

	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return v, nil
	}
	v.AddConfigPath(filepath.Join(home, ConfigDirName))
	v.SetConfigName("config")

	var notFound viper.ConfigFileNotFoundError
	if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
		return nil, err
	}
	return v, nil
}
