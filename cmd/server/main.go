// Command filedrop runs the resumable upload service.
package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/filedrop/internal/config"
	"github.com/JonMunkholm/filedrop/internal/logging"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "filedrop",
	Short: "Resumable chunked upload service",
	Long: `filedrop accepts single-shot and chunked uploads (Dropzone, Resumable.js,
simple-uploader.js and Content-Range), reassembles them, optionally compresses
images, and stores the result on a local or S3 disk.

Configuration is read from the environment and an optional .env file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Overload lets .env win over the inherited environment.
		if err := godotenv.Overload(); err != nil {
			slog.Debug("no .env file found, using environment variables")
		}

		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded

		logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
		slog.Debug("configuration loaded", "config", cfg.String())
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func main() {
	rootCmd.AddCommand(serveCmd, sweepCmd)
	if err := rootCmd.Execute(); err != nil {
		slog.Error("filedrop failed", "error", err)
		os.Exit(1)
	}
}
