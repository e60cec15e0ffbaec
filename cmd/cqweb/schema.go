package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Combine-Capital/cqweb/pkg/database"
	"github.com/Combine-Capital/cqweb/pkg/logging"
	"github.com/Combine-Capital/cqweb/pkg/resource"
	"github.com/Combine-Capital/cqweb/pkg/retry"
)

func newSchemaInitCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "schema-init",
		Short: "Run the schema scripts and exit",
		Long:  "Execute every script matched by schema.locations, statement by statement, without starting the server.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			logger := logging.New(cfg.Log).WithServiceName(cfg.Service.Name)

			connect, err := database.PgxConnector(cfg.JDBC, cfg.Pool.ConnectTimeout)
			if err != nil {
				return err
			}
			pool, err := database.NewPool(ctx, connect, cfg.Pool,
				database.WithPoolLogger(logger),
				database.WithConnectRetry(retry.Startup(30*time.Second)),
			)
			if err != nil {
				return err
			}
			defer pool.Close(ctx)

			txm := database.NewTxManager(pool, database.WithTxLogger(logger))
			result, err := database.InitSchema(ctx, txm, resource.NewFs(cfg.Resources.Root), cfg.Schema, logger)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d scripts, %d statements executed, %d skipped\n",
				len(result.Scripts), result.Executed, result.Skipped)
			return nil
		},
	}
}
