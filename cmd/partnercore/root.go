package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"partnercore/internal/config"
)

// Version is set at build time.
var Version = "dev"

// RootOptions holds the flags shared by every command.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
}

// load reads the configuration and applies flag overrides.
func (o *RootOptions) load() (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	cfg.Log.Version = Version
	return cfg, cfg.Validate()
}

// NewRootCommand creates the partnercore command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	cmd := &cobra.Command{
		Use:           "partnercore",
		Short:         "Document workflow and permission service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file path (YAML)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level override (debug, info, warn, error)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMatrixCommand(opts))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "partnercore %s\n", Version)
		},
	})
	return cmd
}
