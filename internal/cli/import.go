package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/objgraph/internal/bootstrap"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Reset bool
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <file>...",
		Short: "Import song records",
		Long: `Import flat song records into the catalogue.

Each file holds a JSON or YAML list of records with the fields SongID,
Title, Duration, ArtistID and ArtistName (the format is chosen by the file
extension). Records with the same ArtistID share one band; bands already
in the database are reused. Records without a title or artist id are
skipped.

After the import the first playlist (created as "A and B playlist" if
there is none) holds every song whose name begins with A or B.

Examples:
  objgraph import songs.json
  objgraph import --reset --db ./demo.db songs.json more.yaml`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Reset, "reset", false, "delete the database before importing")

	return cmd
}

func runImport(opts *ImportOptions, files []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	var records []bootstrap.Record
	for _, path := range files {
		recs, err := bootstrap.LoadFile(opts.FS, path)
		if err != nil {
			return formatter.Fail("failed to read records", err)
		}
		formatter.VerboseLog("Read %d record(s) from %s", len(recs), path)
		records = append(records, recs...)
	}

	e, err := openEnv(opts.RootOptions, opts.Reset)
	if err != nil {
		return formatter.Fail("failed to open database", err)
	}
	defer e.Close()

	res, err := bootstrap.Import(commandContext(cmd), e.session, records, bootstrap.WithLogger(e.log.Named("bootstrap")))
	if err != nil {
		return formatter.Fail("import failed", err)
	}
	e.log.Info("import finished",
		zap.Int("songs", res.Songs),
		zap.Int("bands", res.Bands),
		zap.Int("skipped", res.Skipped),
	)

	if formatter.Format == "json" {
		return formatter.Success(res)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Imported %d song(s), %d new band(s), %d reused band(s), %d skipped record(s)\n",
		res.Songs, res.Bands, res.Reused, res.Skipped)
	writePlaylist(cmd, res.Playlist)
	return nil
}

// NewPlaylistCommand creates the playlist command.
func NewPlaylistCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "playlist",
		Short: "Rebuild the A and B playlist",
		Long: `Make the first playlist hold exactly the songs whose name begins
with A or B, ignoring case and diacritics. The playlist is created as
"A and B playlist" when none exists.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlaylist(rootOpts, cmd)
		},
	}
}

func runPlaylist(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	e, err := openEnv(opts, false)
	if err != nil {
		return formatter.Fail("failed to open database", err)
	}
	defer e.Close()

	res, err := bootstrap.PopulatePlaylist(commandContext(cmd), e.session)
	if err != nil {
		return formatter.Fail("failed to populate playlist", err)
	}
	if formatter.Format == "json" {
		return formatter.Success(res)
	}
	writePlaylist(cmd, res)
	return nil
}

func writePlaylist(cmd *cobra.Command, res bootstrap.PlaylistResult) {
	verb := "Updated"
	if res.Created {
		verb = "Created"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s playlist %s with %d song(s)\n", verb, res.ID, res.Songs)
}
