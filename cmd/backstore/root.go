package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/logandonley/backstore/pkg/cmd"
	"github.com/logandonley/backstore/pkg/config"
	"github.com/logandonley/backstore/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/term"
)

var (
	cfgFile         string
	debug           bool
	askPassword     bool
	metricsTextfile string

	rt       = cmd.NewRuntime(viper.GetViper())
	registry = prometheus.NewRegistry()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "backstore",
	Short: "Store and fetch backup files on remote storage",
	Long: `Backstore uploads, downloads, lists and deletes backup files on a single
configured storage backend: an SFTP server, an S3-compatible bucket or a
local directory.`,
	SilenceUsage: true,
	PersistentPreRunE: func(c *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return err
		}

		logger, err := cmd.NewLogger(config.Log{
			Level:  viper.GetString("log.level"),
			Format: viper.GetString("log.format"),
		}, debug)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		rt.Logger = logger
		if used := viper.ConfigFileUsed(); used != "" {
			logger.Debug("Using config file", zap.String("path", used))
		}

		if askPassword {
			fmt.Fprint(os.Stderr, "Enter SFTP password: ")
			password, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			rt.Credential = string(password)
		}

		if metricsTextfile != "" {
			rt.Metrics = metrics.New(registry)
		}
		return nil
	},
}

// Execute runs the root command and writes the metrics textfile when
// requested, also after a failed operation.
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)

	if rt.Metrics != nil {
		if werr := prometheus.WriteToTextfile(metricsTextfile, registry); werr != nil {
			rt.Logger.Error("Failed to write metrics textfile", zap.String("path", metricsTextfile), zap.Error(werr))
		}
	}
	rt.Logger.Sync()

	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/backstore/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&askPassword, "ask-password", false, "prompt for the SFTP password instead of reading it from the config")
	rootCmd.PersistentFlags().StringVar(&metricsTextfile, "metrics-textfile", "", "write Prometheus metrics to this file on exit")

	rootCmd.AddCommand(cmd.PutCmd(rt))
	rootCmd.AddCommand(cmd.GetCmd(rt))
	rootCmd.AddCommand(cmd.ListCmd(rt))
	rootCmd.AddCommand(cmd.DeleteCmd(rt))
	rootCmd.AddCommand(cmd.CheckCmd(rt))
	rootCmd.AddCommand(cmd.InitCmd())
}

// initConfig reads in config file and ENV variables if set. A missing
// default config file is not an error, every option can come from the
// environment.
func initConfig() error {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		path, err := cmd.DefaultConfigPath()
		if err != nil {
			return err
		}
		viper.AddConfigPath(filepath.Dir(path))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// BACKSTORE_STORAGE_SFTP_HOST overrides storage.sftp.host
	viper.SetEnvPrefix("backstore")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	cmd.SetDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}
