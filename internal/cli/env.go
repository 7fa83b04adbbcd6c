package cli

import (
	"fmt"

	"github.com/mandelsoft/vfs/pkg/vfs"
	"go.uber.org/zap"

	"github.com/roach88/objgraph/internal/library"
	"github.com/roach88/objgraph/internal/schema"
	"github.com/roach88/objgraph/internal/session"
	"github.com/roach88/objgraph/internal/store"
)

// env is an open database with one root session.
type env struct {
	log     *zap.Logger
	store   *store.Store
	coord   *session.Coordinator
	session *session.Session
	lib     *library.SessionStorage
}

// openEnv loads the schema, opens the database and starts a root session.
// With reset the database file is removed first.
func openEnv(opts *RootOptions, reset bool) (*env, error) {
	log, err := newLogger(opts)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	reg, err := loadSchema(opts)
	if err != nil {
		return nil, err
	}

	if reset {
		if err := removeDatabase(opts.FS, opts.Database); err != nil {
			return nil, err
		}
		log.Info("database reset", zap.String("path", opts.Database))
	}

	st, err := store.Open(opts.Database, reg, store.WithLogger(log.Named("store")))
	if err != nil {
		return nil, err
	}
	coord := session.NewCoordinator(st, session.WithLogger(log.Named("session")))
	s := coord.NewSession(session.WithName("cli"))
	return &env{
		log:     log,
		store:   st,
		coord:   coord,
		session: s,
		lib:     library.New(s, library.WithLogger(log.Named("library"))),
	}, nil
}

// Close stops the session and closes the database.
func (e *env) Close() {
	e.session.Close()
	if err := e.store.Close(); err != nil {
		e.log.Error("error closing database", zap.Error(err))
	}
	_ = e.log.Sync()
}

func newLogger(opts *RootOptions) (*zap.Logger, error) {
	if opts.Logger != nil {
		return opts.Logger, nil
	}
	if !opts.Verbose {
		return zap.NewNop(), nil
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

// loadSchema compiles the --schema file, or returns the built-in catalogue.
func loadSchema(opts *RootOptions) (*schema.Registry, error) {
	if opts.Schema == "" {
		return schema.Workshop(), nil
	}
	src, err := vfs.ReadFile(opts.FS, opts.Schema)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return schema.CompileCUEBytes(opts.Schema, src)
}

// removeDatabase deletes the SQLite file and its WAL side files.
func removeDatabase(fsys vfs.FileSystem, path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := fsys.Remove(p); err != nil && !vfs.IsNotExist(err) {
			return fmt.Errorf("reset database: %w", err)
		}
	}
	return nil
}
