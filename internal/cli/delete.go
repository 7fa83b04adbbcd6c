package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/objgraph/internal/graph"
)

// DeleteResult reports the objects the delete command removed.
type DeleteResult struct {
	Deleted []graph.ObjectID `json:"deleted"`
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete objects and save",
		Long: `Delete objects by id (Entity/key), applying the delete rules of their
relationships, and save. Nothing is saved if any delete is refused.

Example:
  objgraph delete Song/0190...`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(rootOpts, args, cmd)
		},
	}
}

func runDelete(opts *RootOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	ctx := commandContext(cmd)

	ids := make([]graph.ObjectID, len(args))
	for i, arg := range args {
		id, err := graph.ParseObjectID(arg)
		if err != nil {
			return formatter.Fail("failed to delete", argErrorf("%v", err))
		}
		ids[i] = id
	}

	e, err := openEnv(opts, false)
	if err != nil {
		return formatter.Fail("failed to open database", err)
	}
	defer e.Close()

	for _, id := range ids {
		if err := e.lib.Delete(ctx, id); err != nil {
			return formatter.Fail("failed to delete", err)
		}
		formatter.VerboseLog("Deleted %s", id)
	}
	if err := e.lib.Save(ctx); err != nil {
		return formatter.Fail("failed to save", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(DeleteResult{Deleted: ids})
	}
	for _, id := range ids {
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
	}
	return nil
}
