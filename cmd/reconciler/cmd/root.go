package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"expense-reconciler/pkg/errors"
	"expense-reconciler/pkg/logger"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Overtime taxi expense reconciliation tool",
	Long: `Reconciler matches taxi invoices against ride-hailing trip-sheets and
books every matched ride on the workday whose overtime it belongs to.

Invoices and trip-sheets are paired by amount within a tolerance, then
leftovers are force-paired. Rides in the early morning are attributed to the
previous day's overtime. The result is an overtime expense ledger.

Examples:
  reconciler reconcile --invoices invoices.csv --trips trips.csv --attendance attendance.csv
  reconciler reconcile -i invoices.csv -t jan.csv,feb.csv --output-format json -o ledger.json
  reconciler history --history-db runs.db
  reconciler version`,
	Version:           getVersionString(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupLogging,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional; yaml, toml or json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text, json")
	rootCmd.PersistentFlags().String("log-file", "", "append logs to this file instead of stderr")
	rootCmd.PersistentFlags().String("history-db", "", "run history database file (empty disables history)")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("log-file", rootCmd.PersistentFlags().Lookup("log-file"))
	viper.BindPFlag("history-db", rootCmd.PersistentFlags().Lookup("history-db"))
}

// initConfig reads in config file and ENV variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)

		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(4)
		}
	}

	// RECONCILER_DAILY_LIMIT maps to daily-limit
	viper.SetEnvPrefix("RECONCILER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// setupLogging installs the global logger once flags and config are known
func setupLogging(cmd *cobra.Command, args []string) error {
	config := logger.DefaultConfig()
	if viper.GetBool("verbose") {
		config = logger.VerboseConfig()
	}
	config.Format = logger.Format(viper.GetString("log-format"))
	if file := viper.GetString("log-file"); file != "" {
		config.Output = logger.FileOutput
		config.File = file
	}

	log, err := logger.NewLogger(config)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log-format", config.Format, err)
	}
	logger.SetGlobalLogger(log)

	if viper.ConfigFileUsed() != "" {
		log.WithField("config_file", viper.ConfigFileUsed()).Debug("Using config file")
	}
	return nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
