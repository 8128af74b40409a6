package config

import "github.com/spf13/viper"

// SetDefaults registers the default value of every key.
func SetDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.file", "")

	viper.SetDefault("sandbox.dedicated_realm", false)
	viper.SetDefault("sandbox.module_dirs", []string{"node_modules"})
	viper.SetDefault("sandbox.watch", false)
	viper.SetDefault("sandbox.allowed_paths", []string{"~/.jsbox/", "/tmp"})
	viper.SetDefault("sandbox.max_write_size", 10*1024*1024)

	viper.SetDefault("storage.path", "~/.jsbox/data.db")

	viper.SetDefault("repl.history_file", "~/.jsbox/repl_history")
	viper.SetDefault("repl.prompt", "> ")
}
