package history

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coruna-salud/gemelo/internal/coordinator"
	"github.com/coruna-salud/gemelo/internal/shared/errors"
	"github.com/coruna-salud/gemelo/internal/shared/types"
	"github.com/coruna-salud/gemelo/internal/triage"
)

// Repository archives coordination history in Postgres. The twin itself
// is stateless between runs; only audit records land here.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// SaveEmergency upserts an emergency record; lifecycle transitions update
// the same row
func (r *Repository) SaveEmergency(ctx context.Context, e *coordinator.Emergency) error {
	var override []byte
	if e.TriageOverride != nil {
		var err error
		override, err = json.Marshal(e.TriageOverride)
		if err != nil {
			return errors.Wrap(err, "failed to encode triage override")
		}
	}

	hospitals := make([]string, len(e.Hospitals))
	for i, h := range e.Hospitals {
		hospitals[i] = string(h)
	}

	query := `
		INSERT INTO emergency_archive (
			id, type, state, hospitals, extra_patients,
			triage_override, starts_at, ends_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			resolved_at = EXCLUDED.resolved_at`

	_, err := r.pool.Exec(ctx, query,
		e.ID, string(e.Type), string(e.State), hospitals, e.ExtraPatients,
		override, e.StartsAt, e.EndsAt, e.ResolvedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to archive emergency")
	}
	return nil
}

// SaveDecision archives a derivation decision
func (r *Repository) SaveDecision(ctx context.Context, d coordinator.DerivationDecision) error {
	query := `
		INSERT INTO derivation_archive (
			id, patient_id, hospital_from, hospital_to,
			triage_level, reason, decided_at, executed
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		d.ID, d.Patient, string(d.From), string(d.To),
		int(d.Level), d.Reason, d.At, d.Executed,
	)
	if err != nil {
		return errors.Wrap(err, "failed to archive derivation decision")
	}
	return nil
}

// RunSummary records one simulation run end to end
type RunSummary struct {
	ID        types.ID       `json:"id"`
	Seed      int64          `json:"seed"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
	SimStart  time.Time      `json:"sim_start"`
	SimEnd    time.Time      `json:"sim_end"`
	Totals    map[string]any `json:"totals"`
}

// SaveRunSummary archives the final counters of a run at shutdown or reset
func (r *Repository) SaveRunSummary(ctx context.Context, s *RunSummary) error {
	totals, err := json.Marshal(s.Totals)
	if err != nil {
		return errors.Wrap(err, "failed to encode run totals")
	}

	query := `
		INSERT INTO run_summaries (
			id, seed, started_at, ended_at, sim_start, sim_end, totals
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = r.pool.Exec(ctx, query,
		s.ID, s.Seed, s.StartedAt, s.EndedAt, s.SimStart, s.SimEnd, totals,
	)
	if err != nil {
		return errors.Wrap(err, "failed to archive run summary")
	}
	return nil
}

// RecentDerivations returns the latest archived derivations, newest first
func (r *Repository) RecentDerivations(ctx context.Context, limit int) ([]coordinator.DerivationDecision, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, patient_id, hospital_from, hospital_to,
		       triage_level, reason, decided_at, executed
		FROM derivation_archive
		ORDER BY decided_at DESC
		LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query derivation archive")
	}
	defer rows.Close()

	var out []coordinator.DerivationDecision
	for rows.Next() {
		var d coordinator.DerivationDecision
		var from, to string
		var level int
		if err := rows.Scan(&d.ID, &d.Patient, &from, &to, &level, &d.Reason, &d.At, &d.Executed); err != nil {
			return nil, errors.Wrap(err, "failed to scan derivation row")
		}
		d.From = types.HospitalID(from)
		d.To = types.HospitalID(to)
		d.Level = triage.Level(level)
		out = append(out, d)
	}
	return out, rows.Err()
}
