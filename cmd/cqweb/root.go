package main

import (
	"github.com/spf13/cobra"

	"github.com/Combine-Capital/cqweb/pkg/config"
)

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	envPrefix  string
	properties []string
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "cqweb",
		Short:         "Server-rendered web application over a mapped-statement data layer",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "config.yaml", "Path to the YAML or JSON configuration file")
	cmd.PersistentFlags().StringVar(&flags.envPrefix, "env-prefix", "CQWEB", "Prefix of environment variable overrides")
	cmd.PersistentFlags().StringSliceVar(&flags.properties, "properties",
		[]string{"configuration/db.properties", "configuration/path.properties"},
		"Properties files merged over the configuration file, in order")

	cmd.AddCommand(
		newServeCommand(flags),
		newSchemaInitCommand(flags),
		newStatementsCommand(flags),
	)
	return cmd
}

func (f *rootFlags) load() (*config.Config, error) {
	return config.Load(f.configPath, f.envPrefix, f.properties...)
}
