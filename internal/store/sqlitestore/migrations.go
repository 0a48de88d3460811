package sqlitestore

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// errNoMigration indicates no migration has been applied yet.
var errNoMigration = errors.New("sqlitestore: no migration applied")

// migrationManager applies NNN_name.up.sql / NNN_name.down.sql pairs
// tracked in a schema_migrations table. Unlike the directory-scanning loader
// it is adapted from, it reads from a compiled-in embed.FS so the store
// never depends on migration files being present on disk at runtime.
type migrationManager struct {
	db *sql.DB
}

type migrationStep struct {
	version  uint
	name     string
	upFile   string
	downFile string
}

func newMigrationManager(db *sql.DB) (*migrationManager, error) {
	mgr := &migrationManager{db: db}
	if err := mgr.ensureSchemaTable(); err != nil {
		return nil, fmt.Errorf("sqlitestore: failed to create schema table: %w", err)
	}
	return mgr, nil
}

func (mgr *migrationManager) ensureSchemaTable() error {
	_, err := mgr.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func (mgr *migrationManager) up() error {
	migrations, err := mgr.loadMigrations()
	if err != nil {
		return fmt.Errorf("sqlitestore: failed to load migrations: %w", err)
	}

	currentVersion, err := mgr.version()
	if err != nil && !errors.Is(err, errNoMigration) {
		return fmt.Errorf("sqlitestore: failed to get current version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		sqlBytes, err := migrationFiles.ReadFile(m.upFile)
		if err != nil {
			return fmt.Errorf("sqlitestore: failed to read %s: %w", m.upFile, err)
		}

		if _, err := mgr.db.Exec(string(sqlBytes)); err != nil {
			return fmt.Errorf("sqlitestore: failed to apply version %d (%s): %w", m.version, m.name, err)
		}

		if _, err := mgr.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("sqlitestore: failed to record version %d: %w", m.version, err)
		}
	}

	return nil
}

func (mgr *migrationManager) version() (uint, error) {
	var version uint
	err := mgr.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: failed to query version: %w", err)
	}
	if version == 0 {
		return 0, errNoMigration
	}
	return version, nil
}

func (mgr *migrationManager) loadMigrations() ([]migrationStep, error) {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: failed to read embedded migrations: %w", err)
	}

	byVersion := make(map[uint]*migrationStep)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}

		underscoreIdx := strings.Index(name, "_")
		if underscoreIdx < 0 {
			continue
		}
		versionStr := name[:underscoreIdx]
		rest := name[underscoreIdx+1:]

		versionInt, err := strconv.ParseUint(versionStr, 10, 64)
		if err != nil {
			continue
		}
		version := uint(versionInt)

		fullPath := "migrations/" + name

		m, ok := byVersion[version]
		if !ok {
			m = &migrationStep{version: version}
			byVersion[version] = m
		}

		switch {
		case strings.HasSuffix(rest, ".up.sql"):
			m.name = strings.TrimSuffix(rest, ".up.sql")
			m.upFile = fullPath
		case strings.HasSuffix(rest, ".down.sql"):
			m.downFile = fullPath
		}
	}

	migrations := make([]migrationStep, 0, len(byVersion))
	for _, m := range byVersion {
		if m.upFile == "" {
			continue
		}
		migrations = append(migrations, *m)
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].version < migrations[j].version })
	return migrations, nil
}
