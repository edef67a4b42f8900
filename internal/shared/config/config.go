package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/coruna-salud/gemelo/internal/shared/errors"
	"github.com/coruna-salud/gemelo/internal/shared/types"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	KurrentDB   KurrentDBConfig
	Auth        AuthConfig
	HR          HRConfig
	Simulation  SimulationConfig
	Coordinator CoordinatorConfig
	Hospitals   map[types.HospitalID]HospitalConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// KurrentDBConfig holds configuration for KurrentDB (EventStoreDB), the
// telemetry event store consumed by the dashboards.
type KurrentDBConfig struct {
	// Host is the KurrentDB server hostname
	Host string
	// Port is the gRPC port (default 2113)
	Port int
	// Insecure disables TLS (for development)
	Insecure bool
	// Username for authentication (optional)
	Username string
	// Password for authentication (optional)
	Password string
}

type AuthConfig struct {
	JWTSecret string
}

// HRConfig points at the external HR system (SQL Server) that supplies
// on-duty staffing counts. The simulator never reads the employee
// directory itself, only aggregated counts per hospital/role/shift.
type HRConfig struct {
	Enabled      bool
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	PollInterval time.Duration
}

// SimulationConfig holds the global simulation parameters.
type SimulationConfig struct {
	// Seed drives every random draw in the simulation. Two runs with the
	// same seed and configuration produce identical event sequences.
	Seed int64
	// StartTime is the initial simulated time (RFC3339)
	StartTime time.Time
	// Speed is the real-time multiplier (1.0 = real time)
	Speed float64
	// TickInterval is the wall-clock cadence of each hospital loop pass
	TickInterval time.Duration
	// SnapshotEvery is the simulated interval between published snapshots
	SnapshotEvery time.Duration
	// ServiceTimeFloor bounds staffing-driven service time scaling from below
	ServiceTimeFloor float64
	// WeatherFactor, HolidayFactor and EventFactor are the initial context
	// multipliers; external providers update them at runtime
	WeatherFactor float64
	HolidayFactor float64
	EventFactor   float64
}

// CoordinatorConfig holds derivation and alerting parameters. The numeric
// thresholds are deliberately configuration, not constants.
type CoordinatorConfig struct {
	// CycleEvery is the simulated interval between coordinator cycles
	CycleEvery time.Duration
	// SaturationThreshold is the minimum saturation for a hospital to derive
	SaturationThreshold float64
	// SaturationDelta is the minimum saturation gap between source and target
	SaturationDelta float64
	// MaxDerivationsPerCycle bounds how many patients move in one cycle
	MaxDerivationsPerCycle int
	// WarningThreshold and CriticalThreshold gate saturation alerts
	WarningThreshold  float64
	CriticalThreshold float64
	// AlertHysteresis is subtracted from a threshold before an alert clears
	AlertHysteresis float64
	// StaleCycles is how many missed snapshots exclude a hospital
	StaleCycles int
	// RandomEmergencies enables randomly injected emergencies
	RandomEmergencies bool
	// RandomEmergencyRate is expected random emergencies per simulated day
	RandomEmergencyRate float64
}

// HospitalConfig holds per-hospital capacity and demand parameters.
type HospitalConfig struct {
	Boxes            int
	ObservationBeds  int
	BaseArrivalsHour float64
	// NominalStaff is the on-duty headcount at which service times match
	// their configured means
	NominalStaff int
}

func Load() (*Config, error) {
	start, err := time.Parse(time.RFC3339, getEnv("SIM_START_TIME", "2025-01-13T08:00:00Z"))
	if err != nil {
		return nil, errors.Configf("invalid SIM_START_TIME: %v", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "gemelo"),
			Password: getEnv("DB_PASSWORD", "gemelo"),
			Database: getEnv("DB_NAME", "gemelo"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		KurrentDB: KurrentDBConfig{
			Host:     getEnv("KURRENTDB_HOST", "localhost"),
			Port:     getEnvInt("KURRENTDB_PORT", 2113),
			Insecure: getEnvBool("KURRENTDB_INSECURE", true),
			Username: getEnv("KURRENTDB_USERNAME", ""),
			Password: getEnv("KURRENTDB_PASSWORD", ""),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
		},
		HR: HRConfig{
			Enabled:      getEnvBool("HR_ENABLED", false),
			Host:         getEnv("HR_DB_HOST", "localhost"),
			Port:         getEnvInt("HR_DB_PORT", 1433),
			User:         getEnv("HR_DB_USER", "hr_reader"),
			Password:     getEnv("HR_DB_PASSWORD", ""),
			Database:     getEnv("HR_DB_NAME", "rrhh"),
			SSLMode:      getEnv("HR_DB_SSLMODE", "disable"),
			PollInterval: getEnvDuration("HR_POLL_INTERVAL", 5*time.Minute),
		},
		Simulation: SimulationConfig{
			Seed:             int64(getEnvInt("SIM_SEED", 1)),
			StartTime:        start,
			Speed:            getEnvFloat("SIM_SPEED", 60.0),
			TickInterval:     getEnvDuration("SIM_TICK_INTERVAL", 100*time.Millisecond),
			SnapshotEvery:    getEnvDuration("SIM_SNAPSHOT_EVERY", 1*time.Minute),
			ServiceTimeFloor: getEnvFloat("SIM_SERVICE_TIME_FLOOR", 0.5),
			WeatherFactor:    getEnvFloat("SIM_WEATHER_FACTOR", 1.0),
			HolidayFactor:    getEnvFloat("SIM_HOLIDAY_FACTOR", 1.0),
			EventFactor:      getEnvFloat("SIM_EVENT_FACTOR", 1.0),
		},
		Coordinator: CoordinatorConfig{
			CycleEvery:             getEnvDuration("COORD_CYCLE_EVERY", 10*time.Minute),
			SaturationThreshold:    getEnvFloat("COORD_SATURATION_THRESHOLD", 0.80),
			SaturationDelta:        getEnvFloat("COORD_SATURATION_DELTA", 0.10),
			MaxDerivationsPerCycle: getEnvInt("COORD_MAX_DERIVATIONS_PER_CYCLE", 3),
			WarningThreshold:       getEnvFloat("COORD_WARNING_THRESHOLD", 0.75),
			CriticalThreshold:      getEnvFloat("COORD_CRITICAL_THRESHOLD", 0.90),
			AlertHysteresis:        getEnvFloat("COORD_ALERT_HYSTERESIS", 0.05),
			StaleCycles:            getEnvInt("COORD_STALE_CYCLES", 2),
			RandomEmergencies:      getEnvBool("COORD_RANDOM_EMERGENCIES", false),
			RandomEmergencyRate:    getEnvFloat("COORD_RANDOM_EMERGENCY_RATE", 0.5),
		},
		Hospitals: map[types.HospitalID]HospitalConfig{
			types.HospitalCHUAC: {
				Boxes:            getEnvInt("CHUAC_BOXES", 24),
				ObservationBeds:  getEnvInt("CHUAC_OBSERVATION_BEDS", 16),
				BaseArrivalsHour: getEnvFloat("CHUAC_BASE_ARRIVALS_HOUR", 14.0),
				NominalStaff:     getEnvInt("CHUAC_NOMINAL_STAFF", 18),
			},
			types.HospitalModelo: {
				Boxes:            getEnvInt("MODELO_BOXES", 10),
				ObservationBeds:  getEnvInt("MODELO_OBSERVATION_BEDS", 6),
				BaseArrivalsHour: getEnvFloat("MODELO_BASE_ARRIVALS_HOUR", 5.0),
				NominalStaff:     getEnvInt("MODELO_NOMINAL_STAFF", 8),
			},
			types.HospitalSanRafael: {
				Boxes:            getEnvInt("SAN_RAFAEL_BOXES", 8),
				ObservationBeds:  getEnvInt("SAN_RAFAEL_OBSERVATION_BEDS", 4),
				BaseArrivalsHour: getEnvFloat("SAN_RAFAEL_BASE_ARRIVALS_HOUR", 3.5),
				NominalStaff:     getEnvInt("SAN_RAFAEL_NOMINAL_STAFF", 6),
			},
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects invalid simulation parameters before anything starts.
func (c *Config) Validate() error {
	if c.Simulation.Speed <= 0 {
		return errors.Configf("simulation speed must be positive, got %g", c.Simulation.Speed)
	}
	if c.Simulation.TickInterval <= 0 {
		return errors.Config("tick interval must be positive")
	}
	if c.Simulation.SnapshotEvery <= 0 {
		return errors.Config("snapshot interval must be positive")
	}
	if c.Simulation.ServiceTimeFloor <= 0 || c.Simulation.ServiceTimeFloor > 1 {
		return errors.Configf("service time floor must be in (0, 1], got %g", c.Simulation.ServiceTimeFloor)
	}
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"weather factor", c.Simulation.WeatherFactor},
		{"holiday factor", c.Simulation.HolidayFactor},
		{"event factor", c.Simulation.EventFactor},
	} {
		if f.value < 0 {
			return errors.Configf("%s must be >= 0, got %g", f.name, f.value)
		}
	}
	if c.Coordinator.CycleEvery <= 0 {
		return errors.Config("coordinator cycle interval must be positive")
	}
	if c.Coordinator.StaleCycles < 1 {
		return errors.Config("stale cycle count must be at least 1")
	}
	if c.Coordinator.SaturationThreshold <= 0 || c.Coordinator.SaturationThreshold > 1 {
		return errors.Configf("saturation threshold must be in (0, 1], got %g", c.Coordinator.SaturationThreshold)
	}
	if len(c.Hospitals) == 0 {
		return errors.Config("at least one hospital must be configured")
	}
	for id, h := range c.Hospitals {
		if !id.Valid() {
			return errors.Configf("unknown hospital %q in configuration", id)
		}
		if h.Boxes <= 0 {
			return errors.Configf("%s: box capacity must be positive, got %d", id, h.Boxes)
		}
		if h.ObservationBeds <= 0 {
			return errors.Configf("%s: observation capacity must be positive, got %d", id, h.ObservationBeds)
		}
		if h.BaseArrivalsHour <= 0 {
			return errors.Configf("%s: base arrival rate must be positive, got %g", id, h.BaseArrivalsHour)
		}
		if h.NominalStaff <= 0 {
			return errors.Configf("%s: nominal staff must be positive, got %d", id, h.NominalStaff)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
