package sqlstore

import (
	"embed"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

//go:embed migrations
var migrations embed.FS

func MigrateUp(db *sqlx.DB, driver string) error {
	return runMigrations(db, driver, func(m *migrate.Migrate) error { return m.Up() })
}

func MigrateDown(db *sqlx.DB, driver string) error {
	return runMigrations(db, driver, func(m *migrate.Migrate) error { return m.Down() })
}

func runMigrations(db *sqlx.DB, driver string, step func(m *migrate.Migrate) error) error {
	m, err := newMigrate(db, driver)
	if err != nil {
		return err
	}

	err = step(m)
	if errors.Is(err, migrate.ErrNoChange) {
		log.WithField("driver", driver).Info("database schema is up to date")
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "apply migrations")
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return errors.Wrap(err, "read schema version")
	}
	log.WithFields(log.Fields{"driver": driver, "version": version, "dirty": dirty}).Info("database migrated")
	return nil
}

func newMigrate(db *sqlx.DB, driver string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrations, "migrations/"+driver)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s migrations", driver)
	}

	var target database.Driver
	switch driver {
	case DriverMySQL:
		target, err = migratemysql.WithInstance(db.DB, &migratemysql.Config{})
	case DriverPostgres:
		target, err = migratepgx.WithInstance(db.DB, &migratepgx.Config{})
	default:
		return nil, errors.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "init %s migration driver", driver)
	}

	m, err := migrate.NewWithInstance("iofs", source, driver, target)
	if err != nil {
		return nil, errors.Wrap(err, "init migrations")
	}
	return m, nil
}
