// Command migrate manages the domain event log schema: it applies, rolls
// back and inspects the SQL migrations under migrations/, and scaffolds new
// migration pairs.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/devtrack/backend/internal/infrastructure/config"
	"github.com/devtrack/backend/internal/infrastructure/logger"
	"github.com/devtrack/backend/internal/infrastructure/migration"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func main() {
	var (
		migrationsPath = flag.String("path", "", "migrations directory (default: ./migrations, resolved near the binary)")
		logLevel       = flag.String("log-level", "info", "log level: debug, info, warn, error")
	)
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	log, err := logger.New(&logger.Config{
		Level:      *logLevel,
		Format:     "console",
		Output:     "stdout",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	path, err := resolveMigrationsPath(*migrationsPath)
	if err != nil {
		log.Fatal("resolve migrations path", zap.Error(err))
	}

	if err := run(args[0], args[1:], path, log); err != nil {
		log.Fatal("command failed", zap.String("command", args[0]), zap.Error(err))
	}
}

func run(command string, args []string, migrationsPath string, log *zap.Logger) error {
	// create and list work on the filesystem alone
	switch command {
	case "create":
		return runCreate(args, migrationsPath, log)
	case "list":
		return runList(migrationsPath, log)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	mg, err := migration.New(db, migrationsPath, log)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer mg.Close()

	switch command {
	case "up":
		return mg.Up()
	case "down":
		return mg.Down()
	case "step":
		n, err := intArg(args, "step count")
		if err != nil {
			return err
		}
		return mg.Steps(n)
	case "goto":
		v, err := intArg(args, "target version")
		if err != nil || v < 0 {
			return fmt.Errorf("target version must be a non-negative integer")
		}
		return mg.GoTo(uint(v))
	case "version":
		version, dirty, err := mg.Version()
		if err != nil {
			return err
		}
		if version == 0 {
			log.Info("no migrations applied")
		} else {
			log.Info("current schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		}
		return nil
	case "force":
		v, err := intArg(args, "version")
		if err != nil {
			return err
		}
		return mg.Force(v)
	case "drop":
		if !hasConfirmFlag(args) {
			return fmt.Errorf("drop destroys the event log; re-run as 'migrate drop -confirm'")
		}
		return mg.Drop()
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func runCreate(args []string, migrationsPath string, log *zap.Logger) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: migrate create <name> [description]")
	}
	description := ""
	if len(args) > 1 {
		description = args[1]
	}

	mf, err := migration.CreateMigration(migrationsPath, args[0], description)
	if err != nil {
		return err
	}
	log.Info("migration pair created",
		zap.String("version", mf.Version),
		zap.String("up", mf.UpPath),
		zap.String("down", mf.DownPath),
	)
	return nil
}

func runList(migrationsPath string, log *zap.Logger) error {
	names, err := migration.ListMigrations(migrationsPath)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		log.Info("no migrations found", zap.String("path", migrationsPath))
		return nil
	}
	log.Info("available migrations", zap.Int("count", len(names)))
	for _, name := range names {
		fmt.Println("  -", name)
	}
	return nil
}

// resolveMigrationsPath finds the migrations directory: an explicit -path
// wins, then ./migrations, then migrations/ two levels above the binary
// (the layout a built cmd/migrate ships in).
func resolveMigrationsPath(explicit string) (string, error) {
	if explicit != "" {
		return filepath.Abs(explicit)
	}
	if _, err := os.Stat("migrations"); err == nil {
		return filepath.Abs("migrations")
	}
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "..", "..", "migrations")
		if _, err := os.Stat(candidate); err == nil {
			return filepath.Abs(candidate)
		}
	}
	return filepath.Abs("migrations")
}

func intArg(args []string, what string) (int, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("%s required", what)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", what, args[0])
	}
	return n, nil
}

func hasConfirmFlag(args []string) bool {
	for _, arg := range args {
		if arg == "-confirm" || arg == "--confirm" {
			return true
		}
	}
	return false
}

func usage() {
	fmt.Println(`migrate - schema tool for the domain event log

Usage:
  migrate [flags] <command> [arguments]

Commands:
  up                    apply every pending migration
  down                  roll back every applied migration
  step <n>              apply n migrations (negative n rolls back)
  goto <version>        migrate the schema to an exact version
  version               print the current schema version
  force <version>       overwrite the recorded version (repairs dirty state)
  drop -confirm         drop every database object, event log included
  create <name> [desc]  scaffold a timestamped up/down SQL pair
  list                  list migration pairs in the migrations directory

Flags:
  -path string          migrations directory (default: ./migrations)
  -log-level string     debug, info, warn, error (default: info)

The database connection comes from config.toml or DEVTRACK_DATABASE_*
environment variables (HOST, PORT, USER, PASSWORD, NAME, SSLMODE).`)
}
