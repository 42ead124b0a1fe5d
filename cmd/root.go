// Package cmd implements the tracker command-line interface: a development
// backend, a page scanner for debugging detection, and shared configuration
// loading.
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xzrsniper/affiliate-tracking-sub001/internal/config"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/logger"
)

const version = "0.3.0"

var (
	// cfgFile holds the path to the configuration file.
	cfgFile string

	// debug enables debug logging for all commands.
	debug bool

	rootCmd = &cobra.Command{
		Use:   "tracker",
		Short: "Affiliate conversion tracking agent",
		Long: `Tools around the affiliate tracking agent: a development backend
for local integration, and a scanner that shows how the agent would
classify and value a live page.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	_ = godotenv.Load()
	if err := initConfig(); err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tracker version %s\n", version)
		},
	})

	rootCmd.AddCommand(newScanCommand())
	rootCmd.AddCommand(newDevServerCommand())
}

// initConfig points viper at the config file and environment.
func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	viper.AutomaticEnv()
	if err := viper.BindEnv("site.id", "TRACKER_SITE_ID"); err != nil {
		return fmt.Errorf("failed to bind TRACKER_SITE_ID: %w", err)
	}
	if err := viper.BindEnv("backend.base_url", "TRACKER_BACKEND_URL"); err != nil {
		return fmt.Errorf("failed to bind TRACKER_BACKEND_URL: %w", err)
	}
	if err := viper.BindEnv("storage.redis_addr", "TRACKER_REDIS_ADDR"); err != nil {
		return fmt.Errorf("failed to bind TRACKER_REDIS_ADDR: %w", err)
	}
	if err := viper.BindEnv("logging.level", "LOG_LEVEL"); err != nil {
		return fmt.Errorf("failed to bind LOG_LEVEL: %w", err)
	}

	// Config file is optional; defaults and environment cover local use.
	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: config file not found: %v (using defaults)\n", err)
	}
	return nil
}

// newLogger builds the zap-backed logger from the loaded config and the
// --debug flag.
func newLogger(cfg *config.Config) (logger.Logger, error) {
	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	return logger.New(logger.Config{
		Level:       level,
		Development: cfg.Logging.Development || debug,
	})
}
