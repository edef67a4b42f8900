package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate creates the archive schema. The simulator itself is stateless
// between runs; only audit history lands in Postgres.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS emergency_archive (
			id UUID PRIMARY KEY,
			type TEXT NOT NULL,
			state TEXT NOT NULL,
			hospitals TEXT[] NOT NULL,
			extra_patients INT NOT NULL,
			triage_override JSONB,
			starts_at TIMESTAMPTZ NOT NULL,
			ends_at TIMESTAMPTZ NOT NULL,
			resolved_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS derivation_archive (
			id UUID PRIMARY KEY,
			patient_id UUID NOT NULL,
			hospital_from TEXT NOT NULL,
			hospital_to TEXT NOT NULL,
			triage_level INT NOT NULL,
			reason TEXT NOT NULL,
			decided_at TIMESTAMPTZ NOT NULL,
			executed BOOLEAN NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS run_summaries (
			id UUID PRIMARY KEY,
			seed BIGINT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL,
			sim_start TIMESTAMPTZ NOT NULL,
			sim_end TIMESTAMPTZ NOT NULL,
			totals JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_derivation_archive_decided_at
			ON derivation_archive (decided_at)`,
		`CREATE INDEX IF NOT EXISTS idx_emergency_archive_starts_at
			ON emergency_archive (starts_at)`,
	}

	for i, migration := range migrations {
		if _, err := pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}

	return nil
}
