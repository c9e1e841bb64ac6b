package handlers

import (
	"fmt"
	"os"

	"bireport/internal/config"
	"bireport/internal/logger"

	"github.com/spf13/cobra"
)

var cfgFile string

// NewRootCmd creates the bireport command tree
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bireport",
		Short: "Turn a pile of documents into a topic-organized business intelligence report",
		Long: `bireport - Automated Business Intelligence Reports

Reads PDFs, web articles, text files and Google Docs, groups them into
topics by meaning, and writes an executive summary plus per-topic summaries
as an HTML report.

Sources:
  • local       a directory of .pdf, .html, .txt, .md and .docx files
  • urls        a list of web pages
  • drive       a Google Drive folder of PDFs and Google Docs
  • gdoc_links  a Google Doc listing article links

Examples:
  # Run once with the configured sources
  bireport run

  # Run against a local folder only
  bireport run --source local=./reports

  # Serve the HTTP control surface with scheduled monthly runs
  bireport serve --schedule

  # Inspect the embedding cache
  bireport cache stats`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .bireport.yaml)")

	rootCmd.AddCommand(NewRunCmd())
	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewCacheCmd())
	rootCmd.AddCommand(NewReportsCmd())
	rootCmd.AddCommand(NewConfigCmd())

	cobra.OnInitialize(initConfig)

	return rootCmd
}

// initConfig reads in config file and ENV variables
func initConfig() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to load config: %v\n", err)
		return
	}
	logger.Configure(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
}

// loadConfig returns the loaded configuration or the load error
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}
