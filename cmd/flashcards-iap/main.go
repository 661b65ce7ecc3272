package main

import (
	"fmt"
	"os"

	"github.com/KayKostadinov/Go-Flashcards/internal/config"
	"github.com/KayKostadinov/Go-Flashcards/internal/logging"
	"github.com/spf13/cobra"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// loadConfig is swapped in tests.
var loadConfig = config.Load

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "flashcards-iap",
		Short:         "Public Library subscription service for Flashcards",
		Long:          `flashcards-iap validates App Store receipts, caches Public Library entitlements and runs subscription purchases.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newCheckCmd(),
		newProductsCmd(),
		newPurchaseCmd(),
		newEntitlementsCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "flashcards-iap %s\n", Version)
			if BuildTime != "unknown" {
				fmt.Fprintf(out, "Built: %s\n", BuildTime)
			}
			if GitCommit != "unknown" {
				fmt.Fprintf(out, "Commit: %s\n", GitCommit)
			}
		},
	}
}

// setup loads configuration and re-initializes logging from it.
func setup() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "flashcards-iap",
	})
	return cfg, nil
}

func main() {
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "flashcards-iap",
	})

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
