package main

import (
	"database/sql"
	"errors"
	"os"
	"strconv"

	"github.com/cleanroute/cleanroute/libs/config"
	"github.com/cleanroute/cleanroute/libs/runtime"
	"github.com/cleanroute/cleanroute/migrations"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Usage: migrate [up | down | force <version> | version]
func main() {
	config.LoadDotEnv()
	logger := runtime.NewLogger("migrate")

	databaseURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		logger.Error("config error", "err", err)
		os.Exit(1)
	}

	conn, err := sql.Open("pgx", databaseURL)
	if err != nil {
		logger.Error("open db failed", "err", err)
		os.Exit(1)
	}
	defer conn.Close()
	if err := conn.Ping(); err != nil {
		logger.Error("ping db failed", "err", err)
		os.Exit(1)
	}

	driver, err := postgres.WithInstance(conn, &postgres.Config{})
	if err != nil {
		logger.Error("db driver failed", "err", err)
		os.Exit(1)
	}
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		logger.Error("source driver failed", "err", err)
		os.Exit(1)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		logger.Error("create migrator failed", "err", err)
		os.Exit(1)
	}
	defer m.Close()

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	switch cmd {
	case "up":
		err = m.Up()
	case "down":
		err = m.Steps(-1)
	case "force":
		if len(os.Args) < 3 {
			logger.Error("force requires a version")
			os.Exit(2)
		}
		v, convErr := strconv.Atoi(os.Args[2])
		if convErr != nil {
			logger.Error("invalid version", "version", os.Args[2], "err", convErr)
			os.Exit(2)
		}
		err = m.Force(v)
	case "version":
		v, dirty, verr := m.Version()
		if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
			logger.Error("read version failed", "err", verr)
			os.Exit(1)
		}
		logger.Info("schema version", "version", v, "dirty", dirty)
		return
	default:
		logger.Error("unknown command", "command", cmd)
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Error("migration failed", "command", cmd, "err", err)
		os.Exit(1)
	}
	logger.Info("migrations complete", "command", cmd)
}
