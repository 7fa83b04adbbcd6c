package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/objgraph/internal/graph"
	"github.com/roach88/objgraph/internal/schema"
)

// AddOptions holds flags for the add command.
type AddOptions struct {
	*RootOptions
	Set  []string
	Link []string
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add <entity>",
		Short: "Create an object and save it",
		Long: `Create an object with its default values, apply the assignments and
links given, and save. The save fails if a required attribute or
relationship is missing.

Examples:
  objgraph add Band --set name=Beatles
  objgraph add Song --set name=Yesterday --set duration=125 --link band=Band/0190...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Set, "set", nil, "attribute assignment name=value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Link, "link", nil, "relationship link rel=Entity/key (repeatable)")

	return cmd
}

func runAdd(opts *AddOptions, entity string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	e, err := openEnv(opts.RootOptions, false)
	if err != nil {
		return formatter.Fail("failed to open database", err)
	}
	defer e.Close()

	et, ok := e.coord.Registry().Entity(entity)
	if !ok {
		return formatter.Fail("failed to add", &schema.SchemaError{Entity: entity, Message: "unknown entity"})
	}
	values, err := parseAssignments(et, opts.Set)
	if err != nil {
		return formatter.Fail("failed to add", err)
	}

	inst, err := e.lib.Create(ctx, entity)
	if err != nil {
		return formatter.Fail("failed to add", err)
	}
	for name, v := range values {
		if err := inst.Set(name, v); err != nil {
			return formatter.Fail("failed to add", err)
		}
	}
	for _, link := range opts.Link {
		name, raw, ok := strings.Cut(link, "=")
		if !ok {
			return formatter.Fail("failed to add", argErrorf("invalid link %q: want rel=Entity/key", link))
		}
		rel, ok := et.Relationship(name)
		if !ok {
			return formatter.Fail("failed to add", &schema.SchemaError{Entity: entity, Field: name, Message: "unknown relationship"})
		}
		id, err := graph.ParseObjectID(raw)
		if err != nil {
			return formatter.Fail("failed to add", argErrorf("%v", err))
		}
		target, err := e.session.ExistingObject(ctx, id)
		if err != nil {
			return formatter.Fail("failed to add", err)
		}
		if rel.ToMany() {
			err = inst.AddRelated(name, target)
		} else {
			err = inst.SetRelated(name, target)
		}
		if err != nil {
			return formatter.Fail("failed to add", err)
		}
	}

	if err := e.lib.Save(ctx); err != nil {
		return formatter.Fail("failed to save", err)
	}

	view := newObjectView(inst)
	if formatter.Format == "json" {
		return formatter.Success(view)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", view)
	return nil
}
