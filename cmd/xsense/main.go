package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/benmeehan/xsense-agent/internal/utils"
	"github.com/benmeehan/xsense-agent/pkg/file"
)

var (
	configPath string
	envFile    string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:           "xsense",
	Short:         "X-Sense cloud client",
	Long:          "Logs in to the X-Sense cloud, lists smoke and CO sensors and streams their realtime events.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file with XSENSE_* overrides")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(devicesCmd, listenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setup loads the environment file and config, then builds the logger.
func setup() (*utils.Config, file.FileOperations, zerolog.Logger, error) {
	fileClient := file.NewFileService()

	if exists, _ := fileClient.IsFileExists(envFile); exists {
		if err := godotenv.Load(envFile); err != nil {
			return nil, nil, zerolog.Nop(), fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	path := configPath
	if exists, _ := fileClient.IsFileExists(path); !exists {
		path = ""
	}
	config, err := utils.LoadConfig(path, fileClient)
	if err != nil {
		return nil, nil, zerolog.Nop(), err
	}

	level, err := zerolog.ParseLevel(config.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()

	if path == "" {
		logger.Debug().Str("config", configPath).Msg("Config file not found, using defaults and environment")
	}
	return config, fileClient, logger, nil
}
