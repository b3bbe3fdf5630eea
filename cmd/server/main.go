// cmd/server/main.go
// This is the entry point for the Puckdrop API server.
// The "cmd/server" directory follows a common Go convention: the cmd/ folder holds executable
// binaries, and internal/ holds packages that are not meant to be imported by other projects.
//
// The binary has two commands (built with urfave/cli):
//
//	puckdrop serve   [--config config.yaml]   run the API (the default)
//	puckdrop migrate [--config config.yaml]   apply database migrations and exit
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	// Internal packages: our own code, imported by module path
	"github.com/trentd187/puckdrop/internal/auth"
	"github.com/trentd187/puckdrop/internal/config"
	"github.com/trentd187/puckdrop/internal/database"
	"github.com/trentd187/puckdrop/internal/jobs"
	"github.com/trentd187/puckdrop/internal/logging"
	"github.com/trentd187/puckdrop/internal/metrics"
	"github.com/trentd187/puckdrop/internal/push"
	"github.com/trentd187/puckdrop/internal/services"
	"github.com/trentd187/puckdrop/internal/websocket"
)

// shutdownTimeout bounds how long in-flight requests and running jobs get to finish.
const shutdownTimeout = 15 * time.Second

func main() {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to a YAML config file (environment variables still override it)",
		EnvVars: []string{"PUCKDROP_CONFIG"},
	}

	app := &cli.App{
		Name:  "puckdrop",
		Usage: "hockey pickup games and tournaments API",
		Flags: []cli.Flag{configFlag},
		// Running the binary with no command starts the server.
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API and background jobs",
				Flags:  []cli.Flag{configFlag},
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "apply database migrations and exit",
				Flags:  []cli.Flag{configFlag},
				Action: migrate,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "puckdrop:", err)
		os.Exit(1)
	}
}

// setup loads and validates the config and builds the logger. Every command starts here.
func setup(c *cli.Context) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	log, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// migrate applies the SQL migrations and River's own schema.
func migrate(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if err := runMigrations(c.Context, cfg, log); err != nil {
		return err
	}
	log.Info("migrations applied")
	return nil
}

func runMigrations(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	// Migrations are SQL scripts that create or alter tables. golang-migrate records
	// which ones already ran, so this is safe to do on every start.
	if err := database.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return err
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect pgx pool: %w", err)
	}
	defer pool.Close()
	if err := jobs.Migrate(ctx, pool); err != nil {
		return err
	}
	log.Debug("schema is current", zap.String("dir", cfg.MigrationsDir))
	return nil
}

// serve runs the API until SIGINT/SIGTERM, then shuts down gracefully.
func serve(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	// ctx is cancelled on Ctrl-C or when the platform stops the container.
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runMigrations(ctx, cfg, log); err != nil {
		return err
	}

	// GORM serves the API; River needs its own pgx pool.
	db, err := database.Connect(cfg.DatabaseURL, cfg.IsDevelopment())
	if err != nil {
		return err
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect pgx pool: %w", err)
	}
	defer pool.Close()

	m := metrics.New()

	// The Hub manages every live bracket WebSocket. "go hub.Run(ctx)" starts its event
	// loop in the background; it closes all connections when ctx is cancelled.
	hub := websocket.NewHub(log)
	go hub.Run(ctx)

	svc := newServices(db, cfg, hub, log, m)

	runner, err := jobs.New(pool, svc.sweeps, cfg.Sweeps, log, m)
	if err != nil {
		return err
	}
	if err := runner.Start(ctx); err != nil {
		return err
	}

	app := newApp(cfg, db, svc, hub, log, m)

	// Listen in the background so this goroutine can wait for a shutdown signal.
	listenErr := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		listenErr <- app.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-listenErr:
		// Listen only returns early when the port cannot be bound.
		stop()
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown http: %w", err))
	}
	if err := runner.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// serviceSet is every service the routes need, built once at startup.
type serviceSet struct {
	tokens        *auth.TokenIssuer
	users         *services.Users
	orgs          *services.Organizations
	events        *services.Events
	registrations *services.Registrations
	rosters       *services.Rosters
	tournaments   *services.Tournaments
	notifications *services.Notifications
	sweeps        *services.Sweeps
}

func newServices(db *gorm.DB, cfg *config.Config, hub *websocket.Hub, log *zap.Logger, m *metrics.Metrics) *serviceSet {
	tokens := auth.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.TTL)
	notify := services.NewNotifications(db, push.NewExpoClient(cfg.Push.ExpoURL, cfg.Push.AccessToken), log, m)
	orgs := services.NewOrganizations(db, notify, log)
	regs := services.NewRegistrations(db, notify, log, m)
	rosters := services.NewRosters(db, notify, log)

	return &serviceSet{
		tokens:        tokens,
		users:         services.NewUsers(db, tokens, log),
		orgs:          orgs,
		events:        services.NewEvents(db, orgs, regs, notify, log),
		registrations: regs,
		rosters:       rosters,
		// The hub receives every bracket change and pushes it to live viewers.
		tournaments:   services.NewTournaments(db, orgs, notify, hub, log),
		notifications: notify,
		sweeps:        services.NewSweeps(db, regs, rosters, notify, log),
	}
}
