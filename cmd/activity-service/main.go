package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"ms-activity/internal/config"
	"ms-activity/internal/logger"
)

var (
	envFile string
	logDir  string

	cfg *config.Config
	log *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:          "activity-service <command>",
	Short:        "Social activity coordination service",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		envErr := godotenv.Load(envFile)

		var err error
		if cfg, err = config.Load(); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cmd.Flags().Changed("log-dir") {
			cfg.Log.Dir = logDir
		}

		log, err = logger.New(logger.Options{
			Service: "activity-service",
			Dir:     cfg.Log.Dir,
			Level:   cfg.Log.Level,
			NoColor: cfg.Log.NoColor,
		})
		if err != nil {
			return err
		}

		if envErr != nil {
			log.Warn("CONFIG", fmt.Sprintf("%s not loaded, using environment variables", envFile))
		} else {
			log.Info("CONFIG", fmt.Sprintf("Loaded environment variables from %s", envFile))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		log.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "logs", "directory for JSON log files (empty disables)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
