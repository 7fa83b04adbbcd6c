package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/objgraph/internal/query"
	"github.com/roach88/objgraph/internal/schema"
)

// BatchOptions holds flags for the batch-update and batch-delete commands.
type BatchOptions struct {
	*RootOptions
	Where []string
	Any   bool
	Set   []string
}

// NewBatchUpdateCommand creates the batch-update command.
func NewBatchUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "batch-update <entity>",
		Short: "Update matching objects directly in the database",
		Long: `Assign attributes to every object of an entity matching the --where
conditions, directly in the database and without validation of
relationships. Prints the ids of the updated objects.

Example:
  objgraph batch-update Song --where 'name == b' --set 'name=Name is invalid'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(opts, args[0], false, cmd)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Where, "where", "w", nil, "condition (repeatable, combined with AND)")
	cmd.Flags().BoolVar(&opts.Any, "any", false, "combine conditions with OR")
	cmd.Flags().StringArrayVar(&opts.Set, "set", nil, "attribute assignment name=value (repeatable, required)")
	_ = cmd.MarkFlagRequired("set")

	return cmd
}

// NewBatchDeleteCommand creates the batch-delete command.
func NewBatchDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "batch-delete <entity>",
		Short: "Delete matching objects directly in the database",
		Long: `Delete every object of an entity matching the --where conditions,
directly in the database. Links to the deleted objects are removed; the
delete fails if it would leave another object without a required
relationship. Prints the ids of the deleted objects.

Example:
  objgraph batch-delete Song --where 'duration < 10'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(opts, args[0], true, cmd)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Where, "where", "w", nil, "condition (repeatable, combined with AND)")
	cmd.Flags().BoolVar(&opts.Any, "any", false, "combine conditions with OR")

	return cmd
}

func runBatch(opts *BatchOptions, entity string, del bool, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	e, err := openEnv(opts.RootOptions, false)
	if err != nil {
		return formatter.Fail("failed to open database", err)
	}
	defer e.Close()

	reg := e.coord.Registry()
	et, ok := reg.Entity(entity)
	if !ok {
		return formatter.Fail("invalid batch operation", &schema.SchemaError{Entity: entity, Message: "unknown entity"})
	}
	pred, err := query.ParseConditions(reg, entity, opts.Where, opts.Any)
	if err != nil {
		return formatter.Fail("invalid batch operation", err)
	}

	var res query.BatchResult
	if del {
		res, err = e.session.BatchDelete(ctx, query.BatchDeleteRequest{Entity: entity, Where: pred})
	} else {
		set, perr := parseAssignments(et, opts.Set)
		if perr != nil {
			return formatter.Fail("invalid batch operation", perr)
		}
		res, err = e.session.BatchUpdate(ctx, query.BatchUpdateRequest{Entity: entity, Where: pred, Set: set})
	}
	if err != nil {
		return formatter.Fail("batch operation failed", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(res)
	}
	w := cmd.OutOrStdout()
	for _, id := range res.IDs {
		fmt.Fprintln(w, id)
	}
	verb := "Updated"
	if del {
		verb = "Deleted"
	}
	fmt.Fprintf(w, "%s %d object(s)\n", verb, res.Count)
	return nil
}
