package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor = os.Getenv("NO_COLOR") != ""

var rootCmd = &cobra.Command{
	Use:           "botdash",
	Short:         "Dashboard client for the chatbot builder",
	Long:          "botdash keeps a dashboard session, notifications, usage quotas and video selections in sync between the command line and a local agent.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", noColor, "disable colored output")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(passwordCmd)
	rootCmd.AddCommand(verifyEmailCmd)
	rootCmd.AddCommand(notificationsCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(videosCmd)
	rootCmd.AddCommand(transcriptsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(watchCmd)
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
