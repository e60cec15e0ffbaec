package database

import (
	"context"
	"fmt"
	"regexp"

	"github.com/Combine-Capital/cqweb/pkg/config"
	"github.com/Combine-Capital/cqweb/pkg/errors"
	"github.com/Combine-Capital/cqweb/pkg/logging"
	"github.com/Combine-Capital/cqweb/pkg/resource"
	"github.com/jackc/pgx/v5/pgconn"
	pg_query "github.com/pganalyze/pg_query_go/v6"
	"github.com/spf13/afero"
)

// alreadyExists are the SQLSTATEs of re-running CREATE statements.
var alreadyExists = map[string]bool{
	"42P07": true, // duplicate_table
	"42710": true, // duplicate_object
	"42P06": true, // duplicate_schema
	"42723": true, // duplicate_function
	"42701": true, // duplicate_column
	"42P04": true, // duplicate_database
}

// missingObject are the SQLSTATEs of dropping something that is not there.
var missingObject = map[string]bool{
	"42P01": true, // undefined_table
	"42704": true, // undefined_object
	"3F000": true, // invalid_schema_name
}

var dropStatement = regexp.MustCompile(`(?is)^\s*(--[^\n]*\n\s*)*drop\s`)

// SchemaResult summarises a schema initialization run.
type SchemaResult struct {
	Scripts  []string
	Executed int
	Skipped  int
}

// InitSchema runs the SQL scripts matched by cfg.Locations, in lexical order,
// statement by statement. Re-creating existing objects is tolerated, as are
// failing DROPs when IgnoreFailedDrops is set. Any other failure stops the
// run unless ContinueOnError is set.
//
// Each statement runs in its own transaction.
func InitSchema(ctx context.Context, txm *TxManager, fs afero.Fs, cfg config.SchemaConfig, logger *logging.Logger) (*SchemaResult, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.WithComponent("schema")

	scripts, err := resource.ResolveAll(fs, cfg.Locations...)
	if err != nil {
		return nil, err
	}
	result := &SchemaResult{Scripts: scripts}

	for _, script := range scripts {
		body, err := afero.ReadFile(fs, script)
		if err != nil {
			return result, fmt.Errorf("failed to read schema script %s: %w", script, err)
		}
		stmts, err := pg_query.SplitWithScanner(string(body), true)
		if err != nil {
			return result, fmt.Errorf("failed to split schema script %s: %w", script, err)
		}

		for i, stmt := range stmts {
			if stmt == "" {
				continue
			}
			err := txm.WithTransaction(ctx, func(ctx context.Context, tx *Tx) error {
				_, err := tx.Exec(ctx, stmt)
				return err
			})
			if err == nil {
				result.Executed++
				continue
			}

			if tolerated(err, stmt, cfg.IgnoreFailedDrops) {
				result.Skipped++
				logger.Debug().Str(logging.Script, script).Int("statement", i+1).Err(err).Msg("tolerated schema error")
				continue
			}
			if cfg.ContinueOnError {
				result.Skipped++
				logger.Warn().Str(logging.Script, script).Int("statement", i+1).Err(err).Msg("schema statement failed, continuing")
				continue
			}
			return result, errors.NewPermanent(fmt.Sprintf("schema script %s statement %d failed", script, i+1), err)
		}

		logger.Info().Str(logging.Script, script).Int("statements", len(stmts)).Msg("schema script applied")
	}

	return result, nil
}

func tolerated(err error, stmt string, ignoreFailedDrops bool) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if alreadyExists[pgErr.Code] {
		return true
	}
	return ignoreFailedDrops && missingObject[pgErr.Code] && dropStatement.MatchString(stmt)
}
