package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Combine-Capital/cqweb/pkg/resource"
	"github.com/Combine-Capital/cqweb/pkg/statement"
)

func newStatementsCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "statements",
		Short: "List the mapped statements",
		Long:  "Load every mapper file matched by mapper.locations and print the registered statement names.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}

			reg := statement.NewRegistry()
			if _, err := reg.Load(resource.NewFs(cfg.Resources.Root), cfg.Mapper.Locations...); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, name := range reg.Names() {
				d, _ := reg.Lookup(name)
				fmt.Fprintf(out, "%-32s %s\n", name, d.Kind)
			}
			return nil
		},
	}
}
