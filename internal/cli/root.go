package cli

import (
	"fmt"
	"os"

	"github.com/mandelsoft/vfs/pkg/osfs"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// EnvDatabase overrides the default database path when --db is not given.
const EnvDatabase = "OBJGRAPH_DB"

// DefaultDatabase is used when neither --db nor OBJGRAPH_DB is set.
const DefaultDatabase = "objgraph.db"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	Database string
	Schema   string // CUE schema file; empty selects the built-in catalogue

	// FS reads schema and import files and removes the database on reset.
	// Defaults to the OS filesystem.
	FS vfs.FileSystem

	// Logger overrides the logger built from --verbose (for testing).
	Logger *zap.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the objgraph CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "objgraph",
		Short: "objgraph - an embedded object-graph store",
		Long: `objgraph keeps a graph of objects in a single SQLite file.

Objects belong to entity types declared in a CUE schema. The built-in
schema is a song catalogue: songs performed by bands, collected into
playlists. The database path comes from --db, then $OBJGRAPH_DB, then
./objgraph.db.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.Database == "" {
				opts.Database = os.Getenv(EnvDatabase)
			}
			if opts.Database == "" {
				opts.Database = DefaultDatabase
			}
			if opts.FS == nil {
				opts.FS = osfs.New()
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (default $"+EnvDatabase+" or "+DefaultDatabase+")")
	cmd.PersistentFlags().StringVar(&opts.Schema, "schema", "", "CUE schema file (default: built-in song catalogue)")

	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewPlaylistCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewAggregateCommand(opts))
	cmd.AddCommand(NewBatchUpdateCommand(opts))
	cmd.AddCommand(NewBatchDeleteCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
