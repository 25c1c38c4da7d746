// Command snapshot writes the fallback document (data/db.json) that the
// content layer reads when the API is unreachable.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/briangreenhill/farmstay/api"
	"github.com/briangreenhill/farmstay/internal/config"
	"github.com/briangreenhill/farmstay/snapshot"
)

// undefinedTable is the Postgres error code for a missing relation.
const undefinedTable = "42P01"

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Str("proc", "snapshot").Logger()
	if err := newRootCmd(logger).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(logger zerolog.Logger) *cobra.Command {
	var (
		out    string
		fromDB bool
	)
	cmd := &cobra.Command{
		Use:          "snapshot",
		Short:        "Export every collection into the fallback snapshot file",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var snap *snapshot.Snapshot
			if fromDB {
				if cfg.DatabaseURL == "" {
					return errors.New("--from-db needs DATABASE_URL")
				}
				pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
				if err != nil {
					return fmt.Errorf("connect db: %w", err)
				}
				defer pool.Close()
				snap, err = exportDB(ctx, pool, logger)
				if err != nil {
					return err
				}
			} else {
				if _, err := config.FixOrigins(&cfg, logger); err != nil {
					return err
				}
				c := api.New(
					api.WithBaseURL(cfg.APIOrigin),
					api.WithTimeout(cfg.HTTPTimeout),
					api.WithToken(cfg.APIToken),
				)
				snap, err = exportAPI(ctx, c, logger)
				if err != nil {
					return err
				}
			}

			if err := snapshot.WriteFile(out, snap); err != nil {
				return err
			}
			logger.Info().Str("path", out).Msg("snapshot written")
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "data/db.json", "file to write")
	cmd.Flags().BoolVar(&fromDB, "from-db", false, "read collections straight from Postgres instead of the API")
	return cmd
}

// exportAPI lists every collection through the API. Any failure aborts the
// export so a partial snapshot never replaces a good one.
func exportAPI(ctx context.Context, c *api.Client, logger zerolog.Logger) (*snapshot.Snapshot, error) {
	snap := snapshot.New()
	for _, name := range snapshot.Collections {
		resp, err := c.Get(ctx, "/api/"+name, nil, "")
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", name, err)
		}
		var recs []json.RawMessage
		if err := resp.Decode(&recs); err != nil {
			return nil, fmt.Errorf("list %s: %w", name, err)
		}
		snap.Set(name, recs)
		logger.Debug().Str("collection", name).Int("records", len(recs)).Msg("exported")
	}
	return snap, nil
}

// querier is the part of pgxpool.Pool the exporter uses.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgxRow
}

type pgxRow interface {
	Scan(dest ...any) error
}

type poolQuerier struct{ p *pgxpool.Pool }

func (q poolQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgxRow {
	return q.p.QueryRow(ctx, sql, args...)
}

func exportDB(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) (*snapshot.Snapshot, error) {
	return exportRows(ctx, poolQuerier{pool}, logger)
}

// exportRows reads each collection table as one JSON array. A missing table
// exports as an empty collection.
func exportRows(ctx context.Context, q querier, logger zerolog.Logger) (*snapshot.Snapshot, error) {
	snap := snapshot.New()
	for _, name := range snapshot.Collections {
		sql := fmt.Sprintf(`SELECT coalesce(json_agg(row_to_json(t)), '[]'::json) FROM %q t`, name)
		var raw []byte
		err := q.QueryRow(ctx, sql).Scan(&raw)
		var pgErr *pgconn.PgError
		switch {
		case errors.As(err, &pgErr) && pgErr.Code == undefinedTable:
			logger.Warn().Str("collection", name).Msg("table missing, exporting empty collection")
			continue
		case err != nil:
			return nil, fmt.Errorf("query %s: %w", name, err)
		}

		var recs []json.RawMessage
		if err := json.Unmarshal(raw, &recs); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		snap.Set(name, recs)
	}
	return snap, nil
}
