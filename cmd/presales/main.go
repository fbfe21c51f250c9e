// Command presales runs the lead-qualification chat service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ent0n29/presales/internal/config"
	"github.com/ent0n29/presales/internal/logx"
)

var (
	envFile string
	version = "dev" // set via ldflags at build time
)

var rootCmd = &cobra.Command{
	Use:           "presales",
	Short:         "Presales lead-qualification chat agent",
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to a .env file (defaults to ./.env when present)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(estimateCmd)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("config error: %w", err)
	}
	logx.Init(cfg.Log)
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
