package config

import (
	"path/filepath"

	"github.com/spf13/viper"
)

// DefaultSettingsDir is where settings and logs live when no config file
// was loaded.
const DefaultSettingsDir = ".chatstream"

// SettingsDir returns the directory of the loaded config file. The
// config.path key overrides it.
func SettingsDir() string {
	if dir := viper.GetString("config.path"); dir != "" {
		return dir
	}
	if used := viper.ConfigFileUsed(); used != "" {
		return filepath.Dir(used)
	}
	return DefaultSettingsDir
}

// SettingsPath joins name onto SettingsDir
func SettingsPath(name string) string {
	return filepath.Join(SettingsDir(), name)
}
