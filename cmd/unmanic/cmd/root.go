package cmd

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/unmanic/unmanic/pkg/config"
	"github.com/unmanic/unmanic/pkg/logging"
	"github.com/unmanic/unmanic/pkg/version"
)

const envPrefix = "UNMANIC"

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "unmanic",
	Short:         "Unmanic installation session tools",
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	var result *multierror.Error
	if err := rootCmd.Execute(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := logging.CloseWriters(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close log writers: %w", err))
	}
	if err := result.ErrorOrNil(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

//nolint:gochecknoinits
func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is $HOME/.unmanic/config.yaml)")
}

// loadConfig reads the configuration file and UNMANIC_ environment variables, then validates the result.
func loadConfig() (*config.Config, error) {
	logger := logging.Default().WithField(logging.PhaseFieldKey, "startup")
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath(path.Join(home, ".unmanic"))
		viper.AddConfigPath("/etc/unmanic")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // support nested config
	// read in environment variables
	viper.AutomaticEnv()

	// read configuration file, running without one is fine
	err := viper.ReadInConfig()
	var errFileNotFound viper.ConfigFileNotFoundError
	if err != nil && !errors.As(err, &errFileNotFound) {
		return nil, fmt.Errorf("read config file %s: %w", viper.ConfigFileUsed(), err)
	}

	cfg, err := config.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger.WithField("file", viper.ConfigFileUsed()).WithFields(cfg.ToLoggerFields()).Debug("Config loaded")
	return cfg, nil
}
