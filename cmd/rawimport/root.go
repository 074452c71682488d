package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var log *slog.Logger

var rootCmd = &cobra.Command{
	Use:   "rawimport",
	Short: "Download and cache raw disk images",
	Long: `rawimport downloads a remote disk image, transparently decompresses
an XZ-compressed stream, converts a QCOW2 container to flat raw form, and
caches the result under --image-root keyed by URL and ETag.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupLogging,
}

func init() {
	rootCmd.PersistentFlags().String("image-root", defaultImageRoot(), "directory the raw image cache lives under")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")

	viper.BindPFlag("image-root", rootCmd.PersistentFlags().Lookup("image-root"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	viper.SetEnvPrefix("RAWIMPORT")
	viper.AutomaticEnv()
}

func defaultImageRoot() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.cache/rawimport"
	}
	return "/var/cache/rawimport"
}

func setupLogging(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return nil
}
