// Package repo implements the sqlite-backed persistence layer for every
// entity in the data model: projects, assets, deployment aliases, domain
// mappings, proxy rule sets/rules, cache rules, retention rules/logs, and
// API keys. It follows the teacher's direct-SQL repository style rather
// than an ORM: one struct per table, plain database/sql calls, JSON
// columns for nested substructures.
package repo

import (
	"database/sql"
	"embed"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"github.com/edgeserve/edgeserve/internal/crypto"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// OpenDB opens (or creates) the sqlite database at path with the
// single-writer pragmas recommended for an embedded WAL database.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q on %s: %w", p, path, err)
		}
	}
	return db, nil
}

// Migrate applies all pending schema migrations to db.
func Migrate(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrate: init source: %w", err)
	}
	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migrate: init db driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("migrate: init migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migrate: up: %w", err)
	}
	return nil
}

// Store bundles every entity repository behind a single open database
// handle. It does not invalidate in-memory caches (rulecache) after a
// write.
type Store struct {
	db *sql.DB

	Projects       *ProjectRepo
	Assets         *AssetRepo
	Aliases        *AliasRepo
	Domains        *DomainRepo
	RuleSets       *RuleSetRepo
	ProxyRules     *ProxyRuleRepo
	CacheRules     *CacheRuleRepo
	RetentionRules *RetentionRuleRepo
	RetentionLogs  *RetentionLogRepo
	APIKeys        *APIKeyRepo
}

// Open creates the state directory if needed, opens the database, applies
// migrations, and wires every entity repository against it. headerCipher
// is used by ProxyRuleRepo to encrypt/decrypt HeaderConfig.Add values.
func Open(stateDir string, headerCipher *crypto.HeaderCipher) (*Store, io.Closer, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create state dir %s: %w", stateDir, err)
	}
	dbPath := filepath.Join(stateDir, "edgeserve.db")

	db, err := OpenDB(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open edgeserve.db: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate edgeserve.db: %w", err)
	}

	s := &Store{
		db:             db,
		Projects:       &ProjectRepo{db: db},
		Assets:         &AssetRepo{db: db},
		Aliases:        &AliasRepo{db: db},
		Domains:        &DomainRepo{db: db},
		RuleSets:       &RuleSetRepo{db: db},
		ProxyRules:     &ProxyRuleRepo{db: db, cipher: headerCipher},
		CacheRules:     &CacheRuleRepo{db: db},
		RetentionRules: &RetentionRuleRepo{db: db},
		RetentionLogs:  &RetentionLogRepo{db: db},
		APIKeys:        &APIKeyRepo{db: db},
	}
	return s, db, nil
}
