package hrsql

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver

	"github.com/coruna-salud/gemelo/internal/shared/config"
	"github.com/coruna-salud/gemelo/internal/shared/types"
	"github.com/coruna-salud/gemelo/internal/staffing"
)

// Adapter polls the external HR system (SQL Server) for on-duty staffing
// counts per hospital/role/shift and refreshes a StaticProvider cache that
// the hospital simulators read from. Only aggregated counts cross this
// boundary; the employee directory stays in the HR system.
type Adapter struct {
	db    *sql.DB
	cfg   config.HRConfig
	cache *staffing.StaticProvider

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastPoll time.Time
}

// New creates an HR adapter writing into the given cache
func New(cfg config.HRConfig, cache *staffing.StaticProvider) *Adapter {
	return &Adapter{cfg: cfg, cache: cache}
}

// Start opens the connection and begins the poll loop
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return fmt.Errorf("adapter already running")
	}

	connStr := fmt.Sprintf("server=%s;port=%d;database=%s;user id=%s;password=%s",
		a.cfg.Host, a.cfg.Port, a.cfg.Database, a.cfg.User, a.cfg.Password)
	if a.cfg.SSLMode != "disable" {
		connStr += ";encrypt=true;TrustServerCertificate=true"
	}

	db, err := sql.Open("sqlserver", connStr)
	if err != nil {
		return fmt.Errorf("failed to open HR database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping HR database: %w", err)
	}

	a.db = db
	a.running = true

	pollCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	go a.pollLoop(pollCtx)

	return nil
}

// Stop stops the adapter and closes the connection. The mutex is released
// before waiting: the poll worker takes it to record lastPoll, so waiting
// while holding it would deadlock shutdown against an in-flight poll.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	cancel := a.cancel
	db := a.db
	a.mu.Unlock()

	cancel()
	a.wg.Wait()

	if db != nil {
		db.Close()
	}

	return nil
}

// pollLoop refreshes the cache on the configured interval
func (a *Adapter) pollLoop(ctx context.Context) {
	defer a.wg.Done()

	// Poll immediately, then on the ticker
	if err := a.poll(ctx); err != nil {
		log.Printf("hrsql: initial poll failed: %v", err)
	}

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.poll(ctx); err != nil {
				log.Printf("hrsql: poll failed, keeping cached roster: %v", err)
			}
		}
	}
}

// poll reads the aggregated on-duty view and updates the cache
func (a *Adapter) poll(ctx context.Context) error {
	const query = `
		SELECT hospital_code, shift, role, COUNT(*) AS on_duty
		FROM dbo.OnDutyAssignments
		WHERE valid_from <= SYSUTCDATETIME() AND valid_until > SYSUTCDATETIME()
		GROUP BY hospital_code, shift, role`

	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to query on-duty counts: %w", err)
	}
	defer rows.Close()

	type key struct {
		hospital types.HospitalID
		shift    staffing.Shift
	}
	counts := make(map[key]staffing.Counts)

	for rows.Next() {
		var hospitalCode, shift, role string
		var onDuty int
		if err := rows.Scan(&hospitalCode, &shift, &role, &onDuty); err != nil {
			return fmt.Errorf("failed to scan on-duty row: %w", err)
		}

		hospital, err := types.ParseHospitalID(hospitalCode)
		if err != nil {
			// HR covers more facilities than the twin simulates
			continue
		}

		k := key{hospital: hospital, shift: staffing.Shift(shift)}
		c := counts[k]
		switch staffing.Role(role) {
		case staffing.RolePhysician:
			c.Physicians = onDuty
		case staffing.RoleNurse:
			c.Nurses = onDuty
		case staffing.RoleAuxiliary:
			c.Auxiliaries = onDuty
		}
		counts[k] = c
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read on-duty rows: %w", err)
	}

	for k, c := range counts {
		a.cache.Update(k.hospital, k.shift, c)
	}

	a.mu.Lock()
	a.lastPoll = time.Now()
	a.mu.Unlock()

	return nil
}

// LastPoll returns the wall time of the last successful poll
func (a *Adapter) LastPoll() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastPoll
}
