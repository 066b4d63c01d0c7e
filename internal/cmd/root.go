package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "spindle",
	Short: "Spindle: a tiny static file server",
	Long: `Spindle serves a directory over plain HTTP/1.x: static files, directory
listings and trailing-slash redirects, one request per connection. Every
request is appended to a per-day access log that can be read back or
followed from the terminal.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: $HOME/.spindle.yaml)")
	rootCmd.PersistentFlags().String("logs", "./logs", "access log directory")
	_ = viper.BindPFlag("logs", rootCmd.PersistentFlags().Lookup("logs"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigName(".spindle")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("spindle")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			cobra.CheckErr(fmt.Errorf("read config %s: %w", cfgFile, err))
		}
	}
}
