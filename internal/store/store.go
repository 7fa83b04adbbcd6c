package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/roach88/objgraph/internal/querysql"
	"github.com/roach88/objgraph/internal/schema"
	"github.com/roach88/objgraph/internal/value"
)

//go:embed schema.sql
var schemaSQL string

// Storage format version tracking:
// 0 - no tables
// 1 - catalogue, objects, links
// 2 - index on links.target_id for inverse lookups and cascades
const currentFormatVersion = 2

const driverName = "sqlite3_objgraph"

var registerDriver sync.Once

// register installs a sqlite3 driver whose connections carry the fold
// function used by folded string predicates.
func register() {
	registerDriver.Do(func() {
		sql.Register(driverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				return conn.RegisterFunc("fold", foldSQL, true)
			},
		})
	})
}

// foldSQL is value.Fold exposed to SQL. Non-text arguments pass through.
func foldSQL(s any, mode int64) any {
	str, ok := s.(string)
	if !ok {
		return s
	}
	return value.Fold(str, value.FoldMode(mode))
}

// Store is the backing file of one object graph.
type Store struct {
	db    *sql.DB
	reg   *schema.Registry
	sql   *querysql.Compiler
	clock *versionClock
	log   *zap.Logger

	// writeMu serialises write transactions so versions commit in order.
	writeMu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// Open creates or opens the SQLite file at path for the entities of reg.
// reg must be sealed.
//
// A new file records reg's catalogue. An existing file must carry the
// same catalogue, otherwise Open fails with a *schema.SchemaError.
func Open(path string, reg *schema.Registry, opts ...Option) (*Store, error) {
	if !reg.Sealed() {
		return nil, &schema.SchemaError{Message: "registry must be sealed before opening a store"}
	}
	register()

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, storageErr("open", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, storageErr("connect", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, storageErr("pragmas", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, storageErr("schema", err)
	}

	s := &Store{
		db:  db,
		reg: reg,
		sql: querysql.New(reg),
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.checkCatalogue(); err != nil {
		db.Close()
		return nil, err
	}

	var maxVersion int64
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM objects").Scan(&maxVersion); err != nil {
		db.Close()
		return nil, storageErr("read version", err)
	}
	s.clock = newVersionClockAt(maxVersion)

	s.log.Debug("store opened",
		zap.String("path", path),
		zap.Int64("version", maxVersion),
	)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Registry returns the registry the store was opened with.
func (s *Store) Registry() *schema.Registry {
	return s.reg
}

// Version returns the version of the most recent write.
func (s *Store) Version() int64 {
	return s.clock.Current()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return runMigrations(db)
}

// runMigrations applies incremental format migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentFormatVersion {
		return fmt.Errorf("file format %d is newer than supported format %d", version, currentFormatVersion)
	}

	if version < 2 {
		if err := migrateToV2(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentFormatVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV2 indexes links by target for files created before format 2.
func migrateToV2(db *sql.DB) error {
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_links_target ON links(target_id)`)
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	return nil
}

// checkCatalogue records the registry's catalogue in a new file and
// compares it with the stored one otherwise.
func (s *Store) checkCatalogue() error {
	want, err := s.reg.Catalogue()
	if err != nil {
		return fmt.Errorf("encode catalogue: %w", err)
	}

	var have string
	err = s.db.QueryRow("SELECT definition FROM catalogue WHERE id = 1").Scan(&have)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.Exec("INSERT INTO catalogue (id, definition) VALUES (1, ?)", string(want)); err != nil {
			return storageErr("write catalogue", err)
		}
		return nil
	case err != nil:
		return storageErr("read catalogue", err)
	}

	if have != string(want) {
		return &schema.SchemaError{Message: "entity definitions differ from the catalogue stored in the file; open with the matching schema or reset the file"}
	}
	return nil
}

// Catalogue returns the catalogue JSON stored in the file.
func (s *Store) Catalogue(ctx context.Context) ([]byte, error) {
	var def string
	if err := s.db.QueryRowContext(ctx, "SELECT definition FROM catalogue WHERE id = 1").Scan(&def); err != nil {
		return nil, storageErr("read catalogue", err)
	}
	return []byte(def), nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var got string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&got); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if got != expected {
		return fmt.Errorf("%s = %q, expected %q", name, got, expected)
	}
	return nil
}
