package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/coruna-salud/gemelo/internal/control"
	"github.com/coruna-salud/gemelo/internal/coordinator"
	"github.com/coruna-salud/gemelo/internal/history"
	"github.com/coruna-salud/gemelo/internal/scenario"
	"github.com/coruna-salud/gemelo/internal/shared/auth"
	"github.com/coruna-salud/gemelo/internal/shared/config"
	"github.com/coruna-salud/gemelo/internal/shared/database"
	"github.com/coruna-salud/gemelo/internal/shared/events"
	"github.com/coruna-salud/gemelo/internal/shared/metrics"
	secmiddleware "github.com/coruna-salud/gemelo/internal/shared/middleware"
	"github.com/coruna-salud/gemelo/internal/shared/types"
	"github.com/coruna-salud/gemelo/internal/sim"
	"github.com/coruna-salud/gemelo/internal/staffing"
	"github.com/coruna-salud/gemelo/internal/staffing/hrsql"
)

// App holds all application dependencies
type App struct {
	Config  *config.Config
	DB      *database.DB
	Bus     events.EventBus
	Engine  *sim.Engine
	History *history.Repository
	HR      *hrsql.Adapter
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	app := &App{Config: cfg}

	// Archive database (optional - the twin runs without it)
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		fmt.Printf("Warning: archive database not available: %v\n", err)
		fmt.Println("Running without history archive...")
	} else {
		app.DB = db
		defer db.Close()

		if err := database.Migrate(ctx, db.Pool); err != nil {
			fmt.Printf("Warning: migration failed: %v\n", err)
		} else {
			app.History = history.NewRepository(db.Pool)
		}
	}

	// Telemetry bus: KurrentDB when reachable, in-memory otherwise
	bus, busKind := events.NewEventBus(ctx, cfg.KurrentDB)
	app.Bus = bus
	defer bus.Close()
	fmt.Printf("Telemetry bus: %s\n", busKind)

	publisher := events.NewAsyncPublisher(bus, 1024)
	publisher.Start(ctx)
	defer publisher.Stop()

	// Staffing: static roster, refreshed from the HR system when enabled
	nominal := make(map[types.HospitalID]int, len(cfg.Hospitals))
	for h, hc := range cfg.Hospitals {
		nominal[h] = hc.NominalStaff
	}
	provider := staffing.NewStaticProvider(staffing.DefaultRoster(nominal))

	if cfg.HR.Enabled {
		hrAdapter := hrsql.New(cfg.HR, provider)
		if err := hrAdapter.Start(ctx); err != nil {
			fmt.Printf("Warning: HR system not available: %v\n", err)
			fmt.Println("Running on static staffing roster...")
		} else {
			app.HR = hrAdapter
			defer hrAdapter.Stop()
			fmt.Printf("HR staffing adapter polling every %v\n", cfg.HR.PollInterval)
		}
	}

	engine, err := sim.NewEngine(cfg, provider, publisher, archiveOrNil(app.History))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build engine: %v\n", err)
		os.Exit(1)
	}
	app.Engine = engine

	if err := engine.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start engine: %v\n", err)
		os.Exit(1)
	}
	engine.Resume()

	projector := scenario.NewProjector(cfg, provider)
	ctrl := control.NewHandler(engine, projector, app.History)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(secmiddleware.BodyLimit(1 << 20))
	r.Use(metrics.Middleware)
	r.Use(secmiddleware.CORS)

	limiter := secmiddleware.NewIPRateLimiter(20, 40)
	r.Use(limiter.Middleware)

	// Health checks (unauthenticated)
	r.Get("/health", healthHandler(app))
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())

	r.Get("/", infoHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/twin", ctrl.Routes())

		r.Group(func(r chi.Router) {
			if cfg.Server.Env == "production" {
				r.Use(auth.Middleware(cfg.Auth))
				r.Use(auth.RequireRole("operator"))
			}
			r.Mount("/twin/control", ctrl.ControlRoutes())
		})
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		fmt.Println("\nShutting down...")

		engine.Pause()
		engine.Stop()
		saveRunSummary(app)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			fmt.Printf("Server shutdown error: %v\n", err)
		}
		close(done)
	}()

	fmt.Println("============================================")
	fmt.Println("Gemelo Digital - Urgencias A Coruna")
	fmt.Println("============================================")
	fmt.Printf("Environment:  %s\n", cfg.Server.Env)
	fmt.Printf("Server:       http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("API:          http://localhost:%d/api/v1/twin\n", cfg.Server.Port)
	fmt.Printf("Seed:         %d\n", cfg.Simulation.Seed)
	fmt.Printf("Speed:        %.1fx\n", cfg.Simulation.Speed)
	fmt.Printf("Sim start:    %s\n", cfg.Simulation.StartTime.Format(time.RFC3339))
	for _, h := range types.AllHospitals() {
		if _, ok := cfg.Hospitals[h]; ok {
			fmt.Printf("Hospital:     %s\n", h.DisplayName())
		}
	}
	fmt.Println("============================================")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}

	<-done
	fmt.Println("Server stopped")
}

// archiveOrNil avoids handing the engine a typed nil interface
func archiveOrNil(r *history.Repository) coordinator.Archive {
	if r == nil {
		return nil
	}
	return r
}

func saveRunSummary(app *App) {
	if app.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	summary := &history.RunSummary{
		ID:        types.NewID(),
		Seed:      app.Config.Simulation.Seed,
		StartedAt: app.Engine.StartedWall(),
		EndedAt:   time.Now(),
		SimStart:  app.Config.Simulation.StartTime,
		SimEnd:    app.Engine.Clock().Now(),
		Totals:    app.Engine.Totals(),
	}
	if err := app.History.SaveRunSummary(ctx, summary); err != nil {
		fmt.Printf("Warning: failed to save run summary: %v\n", err)
	}
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "Gemelo Digital de Urgencias",
		"version": "0.1.0",
		"docs":    "/api/v1/twin",
	})
}

func healthHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	}
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{"engine": "ok"}
		status := http.StatusOK

		if app.DB != nil {
			if err := app.DB.Health(r.Context()); err != nil {
				checks["database"] = "unavailable"
				status = http.StatusServiceUnavailable
			} else {
				checks["database"] = "ok"
			}
		}
		if err := app.Bus.Health(); err != nil {
			checks["bus"] = "degraded"
		} else {
			checks["bus"] = "ok"
		}
		if app.HR != nil {
			if last := app.HR.LastPoll(); last.IsZero() {
				checks["hr"] = "no poll yet"
			} else {
				checks["hr"] = "last poll " + last.UTC().Format(time.RFC3339)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(checks)
	}
}
