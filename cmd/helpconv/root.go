package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"helpconv/internal/config"
	"helpconv/internal/logging"
)

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
	pretty     bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "helpconv",
		Short:         "Help-conversation messaging server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"configuration file (JSON or YAML); env "+config.EnvPrefix+"CONFIG_FILE")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")
	cmd.PersistentFlags().BoolVar(&opts.pretty, "pretty", false, "human-readable log output")

	cmd.AddCommand(newServeCmd(opts), newInspectCmd(opts), newSessionCmd(opts))
	return cmd
}

// load resolves configuration and builds the logger from it.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	path := o.configPath
	if path == "" {
		path = os.Getenv(config.EnvPrefix + "CONFIG_FILE")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.pretty {
		cfg.Log.Pretty = true
	}
	log := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		Output: cmd.ErrOrStderr(),
	})
	return cfg, log, nil
}
