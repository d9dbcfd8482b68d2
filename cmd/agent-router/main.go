// Package main is the entrypoint for the agent-router.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/agent-router/internal/config"
	"github.com/morezero/agent-router/internal/server"
	"github.com/morezero/agent-router/pkg/almanac"
	"github.com/morezero/agent-router/pkg/bootstrap"
	"github.com/morezero/agent-router/pkg/commsutil"
	"github.com/morezero/agent-router/pkg/db"
	"github.com/morezero/agent-router/pkg/endpoint"
)

const usage = `Usage: agent-router [command]
       agent-router serve                Start the agent (NATS inbox, HTTP submit, dispatch, registration).
       agent-router migrate up           Run database migrations.
       agent-router migrate down         Roll back one migration (optional; not all migrations support down).
       agent-router migrate status       Show migration status.
       agent-router ensure-db [name]     Create database if missing (default name: agent_router_test). Uses DATABASE_URL host/user.
       agent-router clear                Truncate almanac records, names and agent storage; schema is preserved.
       agent-router seed [file]          Seed almanac names from a bootstrap file.
       agent-router resolve <dest>       Resolve an address or name and print the endpoints.

Commands:
  serve            (default) Start the agent-router.
  migrate up       Run database migrations only.
  migrate down     Roll back last migration (optional).
  migrate status   Show current migration status.
  ensure-db [name] Create database (e.g. agent_router_test) on same host as DATABASE_URL; then run tests with that URL.
  clear            Truncate almanac data; schema preserved.
  seed [file]      Seed names (file defaults to RESOLVER_BOOTSTRAP_FILE).
  resolve <dest>   Resolve through bootstrap rules, the almanac on ALMANAC_SUBJECT and ALMANAC_API_URL.

Environment: AGENT_ADDRESS (required for serve), AGENT_ENDPOINTS, DATABASE_URL, COMMS_URL, RESOLVER_BOOTSTRAP_FILE. See README.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("agent-router migrate: require subcommand (up, down, status)")
		}
		sub := args[1]
		switch sub {
		case "up":
			if err := runMigrateUp(); err != nil {
				log.Fatalf("agent-router migrate up: %v", err)
			}
		case "status":
			if err := runMigrateStatus(); err != nil {
				log.Fatalf("agent-router migrate status: %v", err)
			}
		case "down":
			if err := runMigrateDown(); err != nil {
				log.Fatalf("agent-router migrate down: %v", err)
			}
		default:
			log.Fatalf("agent-router migrate: unknown subcommand %q (use up, down, status)", sub)
		}
		return
	case "clear":
		if err := runClear(); err != nil {
			log.Fatalf("agent-router clear: %v", err)
		}
		return
	case "seed":
		bootstrapFile := ""
		if len(args) > 1 {
			bootstrapFile = args[1]
		}
		if err := runSeed(bootstrapFile); err != nil {
			log.Fatalf("agent-router seed: %v", err)
		}
		return
	case "ensure-db":
		dbName := "agent_router_test"
		if len(args) > 1 && args[1] != "" {
			dbName = args[1]
		}
		if err := runEnsureDB(dbName); err != nil {
			log.Fatalf("agent-router ensure-db: %v", err)
		}
		return
	case "resolve":
		if len(args) < 2 || args[1] == "" {
			log.Fatalf("agent-router resolve: require a destination")
		}
		if err := runResolve(args[1]); err != nil {
			log.Fatalf("agent-router resolve: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
		break
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("agent-router: %v", err)
	}
}

// withPool loads config, validates it for DB commands and runs fn on a fresh pool.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func runMigrateUp() error {
	return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
		migrationSQL, err := db.LoadMigrationFiles(cfg.MigrationPath)
		if err != nil {
			return fmt.Errorf("load migrations: %w", err)
		}
		if err := db.RunMigrations(ctx, pool, migrationSQL); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		return nil
	})
}

func runMigrateStatus() error {
	return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
		return db.MigrationStatus(ctx, pool, cfg.MigrationPath)
	})
}

func runMigrateDown() error {
	return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
		return db.MigrationDown(ctx, pool, cfg.MigrationPath)
	})
}

func runClear() error {
	return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
		if err := db.ClearAlmanac(ctx, pool); err != nil {
			return fmt.Errorf("clear almanac: %w", err)
		}
		return nil
	})
}

func runEnsureDB(dbName string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	u, err := url.Parse(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	// Replace path with target database name; query (e.g. sslmode) is kept on u.RawQuery.
	u.Path = "/" + dbName
	if err := db.EnsureDatabase(context.Background(), u.String()); err != nil {
		return err
	}
	fmt.Printf("Database %q is ready.\n", dbName)
	return nil
}

func runSeed(bootstrapFileOverride string) error {
	return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
		bootstrapPath := bootstrapFileOverride
		if bootstrapPath == "" {
			bootstrapPath = cfg.BootstrapFile
		}
		n, err := db.SeedBootstrap(ctx, pool, bootstrapPath)
		if err != nil {
			return fmt.Errorf("seed bootstrap names: %w", err)
		}
		fmt.Printf("Seeded %d names.\n", n)
		return nil
	})
}

type resolveOutput struct {
	Destination string              `json:"destination"`
	Address     string              `json:"address"`
	Endpoints   []endpoint.Endpoint `json:"endpoints"`
}

func runResolve(destination string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	server.SetupLogging(cfg.LogLevel)

	bootstrapCfg, err := bootstrap.LoadBootstrapConfig(cfg.BootstrapFile)
	if err != nil {
		return fmt.Errorf("load bootstrap config: %w", err)
	}
	params := server.ResolverParams{
		Bootstrap:    bootstrap.CreateResolvedBootstrap(bootstrapCfg),
		MaxEndpoints: cfg.MaxEndpoints,
	}

	// The COMMS almanac is optional here; resolution continues without it.
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName+"-resolve")
	if err != nil {
		slog.Warn(fmt.Sprintf("resolve - COMMS unavailable, skipping almanac on %s: %v", cfg.AlmanacSubject, err))
	} else {
		defer nc.Close()
		client := almanac.NewCommsClient(nc, almanac.CommsClientOpts{Subject: cfg.AlmanacSubject, Timeout: cfg.AlmanacRequestTimeout})
		params.Records = append(params.Records, client)
		params.Names = append(params.Names, client)
	}
	if base := cfg.AlmanacAPIBase(); base != "" {
		api := almanac.NewAPIClient(base, &http.Client{Timeout: cfg.AlmanacRequestTimeout})
		params.Records = append(params.Records, api)
		params.Names = append(params.Names, api)
	}

	addr, eps := server.NewResolver(params).Resolve(context.Background(), destination)
	if eps == nil {
		eps = []endpoint.Endpoint{}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resolveOutput{Destination: destination, Address: addr, Endpoints: eps}); err != nil {
		return err
	}
	if len(eps) == 0 {
		return fmt.Errorf("%s is unroutable", destination)
	}
	return nil
}
