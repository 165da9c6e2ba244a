package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/mooncakeSG/neighbourbot/internal/config"
	"github.com/mooncakeSG/neighbourbot/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	verbose bool
	envFile string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "neighbourbot",
	Short: "NeighbourBot - conversational assistant for the neighbourhood platform",
	Long: `NeighbourBot turns chat messages into platform actions: posts, alerts,
marketplace listings, business search and more.

Commands:
  serve   answer host chat requests over NATS
  proxy   run the LLM proxy that holds the model credential
  chat    talk to the bot from the terminal`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env file is normal outside development.
		envErr := godotenv.Load(envFile)
		if envErr != nil && envFile != ".env" {
			return fmt.Errorf("failed to load %s: %w", envFile, envErr)
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		level := cfg.LogLevel
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, cfg.LogFormat)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if envErr != nil {
			logger.Debug("No .env file found, using environment variables")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	rootCmd.AddCommand(serveCmd, proxyCmd, chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
