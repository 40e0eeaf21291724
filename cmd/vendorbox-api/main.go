package main

import (
	"fmt"
	"os"

	"vendorbox/internal/config"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// configFile is set by the --config flag.
	configFile string

	v   = config.New("")
	cfg config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vendorbox-api",
	Short: "Vendor onboarding and edit-approval service",
	Long: `vendorbox-api serves the admin-defined vendor form schema, vendor
records flattened against it and the edit-request approval workflow.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(v)
		return err
	},
}

func init() {
	cobra.OnInitialize(func() {
		if configFile != "" {
			v.SetConfigFile(configFile)
		}
	})

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: ./vendorbox.yaml or /etc/vendorbox/vendorbox.yaml)")
	rootCmd.PersistentFlags().String("store", "", "persistence backend: postgres or memory")
	rootCmd.PersistentFlags().String("database-url", "", "PostgreSQL connection string")
	rootCmd.PersistentFlags().String("log-level", "", "debug, info, warn or error")
	_ = v.BindPFlag(config.KeyStore, rootCmd.PersistentFlags().Lookup("store"))
	_ = v.BindPFlag(config.KeyDatabaseURL, rootCmd.PersistentFlags().Lookup("database-url"))
	_ = v.BindPFlag(config.KeyLogLevel, rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(tokenCmd)
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
