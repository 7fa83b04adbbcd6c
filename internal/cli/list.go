package cli

import (
	"github.com/spf13/cobra"
)

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list [entity]",
		Short: "List every object of an entity",
		Long: `List every object of an entity, sorted by name when the entity has
a name attribute. The entity defaults to Song.

Examples:
  objgraph list
  objgraph list Band --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			entity := "Song"
			if len(args) == 1 {
				entity = args[0]
			}
			return runList(rootOpts, entity, cmd)
		},
	}
}

func runList(opts *RootOptions, entity string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	e, err := openEnv(opts, false)
	if err != nil {
		return formatter.Fail("failed to open database", err)
	}
	defer e.Close()

	insts, err := e.lib.GetAll(commandContext(cmd), entity)
	if err != nil {
		return formatter.Fail("failed to list "+entity, err)
	}
	views := newObjectViews(insts)
	if formatter.Format == "json" {
		return formatter.Success(views)
	}
	writeObjects(cmd.OutOrStdout(), views)
	return nil
}
