package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// initConfig runs once per Execute, after flag parsing, so --config can
// point viper at an explicit file.
func initConfig() {
	// Environment variables
	viper.SetEnvPrefix("MEDIAPRESS")
	viper.AutomaticEnv()

	// Config file support
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("$HOME/.mediapress")
		viper.AddConfigPath(".")
	}

	// Load config file if it exists (ignore errors if it doesn't)
	_ = viper.ReadInConfig()

	// A repo-local .mediapress.yaml overrides the user-level config, so a
	// project can pin its own quality and exclude settings.
	if _, err := os.Stat(".mediapress.yaml"); err == nil {
		repoLocal := viper.New()
		repoLocal.SetConfigFile(".mediapress.yaml")
		if err := repoLocal.ReadInConfig(); err == nil {
			_ = viper.MergeConfigMap(repoLocal.AllSettings())
		}
	}
}

var rootCmd = &cobra.Command{
	Use:   "mediapress",
	Short: "Mediapress keeps committed media assets small",
	Long: `Mediapress compresses JPEG, PNG, GIF and SVG files with the standard
command line optimizers (jpegoptim, optipng, gifsicle, svgo) and keeps the
result only when it is strictly smaller. Installed as a git pre-commit hook
it optimizes staged media transparently and never blocks a commit.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
		os.Exit(1)
	},
}

func main() {
	cobra.OnInitialize(initConfig)

	// Add global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default $HOME/.mediapress/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "fmt", "Log format (fmt, json)")
	rootCmd.PersistentFlags().String("profile", "", "Configuration profile to use (overrides config)")

	// Bind flags to viper
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("profile", rootCmd.PersistentFlags().Lookup("profile"))

	// Add subcommands; the commands that run compressors get a root span
	rootCmd.AddCommand(withTracing(optimizeCmd))
	rootCmd.AddCommand(withTracing(preCommitCmd))
	rootCmd.AddCommand(installHookCmd)
	rootCmd.AddCommand(uninstallHookCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(withTracing(watchCmd))
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)

	// Execute
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
