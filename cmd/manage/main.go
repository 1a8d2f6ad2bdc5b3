// manage is the operator tool for the attendance database: schema
// migration, admin accounts, full resets and timetable imports.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"fingerattend/internal/auth"
	"fingerattend/internal/config"
	"fingerattend/internal/logging"
	"fingerattend/internal/model"
	"fingerattend/internal/store"
	"fingerattend/internal/timetable"
)

const usage = `usage: manage <command> [flags]

commands:
  migrate            create missing tables
  create-admin       add an admin account (--username, --password)
  reset-db           drop and recreate every table (requires --yes)
  import-timetable   load class sessions from a YAML file (--file)
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprint(out, usage)
		return nil
	}
	if _, err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd, rest := args[0], args[1:]
	fs := pflag.NewFlagSet("manage "+cmd, pflag.ContinueOnError)
	fs.SetOutput(out)
	dsn := fs.String("database-url", cfg.DatabaseURL, "postgres connection string")

	var exec func(ctx context.Context, db *store.DB, logger *zap.Logger) error
	switch cmd {
	case "migrate":
		exec = func(ctx context.Context, db *store.DB, _ *zap.Logger) error {
			if err := store.Migrate(ctx, db.Client); err != nil {
				return err
			}
			fmt.Fprintln(out, "schema up to date")
			return nil
		}
	case "create-admin":
		username := fs.String("username", "admin", "admin login name")
		password := fs.String("password", "", "admin password, at least 8 characters")
		exec = func(ctx context.Context, db *store.DB, _ *zap.Logger) error {
			if err := store.Migrate(ctx, db.Client); err != nil {
				return err
			}
			return createAdmin(ctx, store.NewPostgres(db.Client), *username, *password, out)
		}
	case "reset-db":
		yes := fs.Bool("yes", false, "confirm that every table is dropped")
		exec = func(ctx context.Context, db *store.DB, logger *zap.Logger) error {
			if !*yes {
				return errors.New("reset-db drops all data; pass --yes to confirm")
			}
			if err := store.DropAll(ctx, db.Client); err != nil {
				return err
			}
			logger.Warn("tables dropped")
			if err := store.Migrate(ctx, db.Client); err != nil {
				return err
			}
			fmt.Fprintln(out, "database reset successfully")
			return nil
		}
	case "import-timetable":
		file := fs.String("file", "", "YAML timetable file")
		exec = func(ctx context.Context, db *store.DB, logger *zap.Logger) error {
			if *file == "" {
				return errors.New("--file is required")
			}
			if err := store.Migrate(ctx, db.Client); err != nil {
				return err
			}
			return importTimetable(ctx, store.NewPostgres(db.Client), *file, logger, out)
		}
	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}

	if err := fs.Parse(rest); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	logger, err := logging.NewLogger(cfg.ServiceName+"-manage", true)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := store.NewDB(ctx, *dsn)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return err
	}
	defer db.Close()
	return exec(ctx, db, logger)
}

func createAdmin(ctx context.Context, admins store.Admins, username, password string, out io.Writer) error {
	if _, err := admins.AdminByUsername(ctx, username); err == nil {
		fmt.Fprintf(out, "admin %q already exists\n", username)
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if err := admins.CreateAdmin(ctx, &model.Admin{Username: username, PasswordHash: hash}); err != nil {
		return err
	}
	fmt.Fprintf(out, "admin %q created\n", username)
	return nil
}

func importTimetable(ctx context.Context, st store.Store, path string, logger *zap.Logger, out io.Writer) error {
	sessions, err := timetable.LoadFile(path)
	if err != nil {
		return err
	}
	n, err := timetable.Import(ctx, st, sessions)
	if err != nil {
		return fmt.Errorf("import %s: nothing stored: %w", path, err)
	}
	logger.Info("timetable imported", zap.String("file", path), zap.Int("sessions", n), zap.Int("skipped", len(sessions)-n))
	fmt.Fprintf(out, "imported %d class sessions (%d already present)\n", n, len(sessions)-n)
	return nil
}
