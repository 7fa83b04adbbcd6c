package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/objgraph/internal/schema"
	"github.com/roach88/objgraph/internal/value"
)

// SchemaOptions holds flags for the schema command.
type SchemaOptions struct {
	*RootOptions
	Source bool
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SchemaOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Show the entity types",
		Long: `Compile the schema and list its entity types with their attributes
and relationships. Does not open the database.

Examples:
  objgraph schema
  objgraph schema --schema ./catalogue.cue --format json
  objgraph schema --source > catalogue.cue`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Source, "source", false, "print the built-in CUE source")

	return cmd
}

func runSchema(opts *SchemaOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if opts.Source {
		_, err := cmd.OutOrStdout().Write(schema.WorkshopSource())
		return err
	}

	reg, err := loadSchema(opts.RootOptions)
	if err != nil {
		return formatter.Fail("failed to load schema", err)
	}

	entities := reg.Entities()
	defs := make([]schema.Definition, len(entities))
	for i, e := range entities {
		defs[i] = e.Definition()
	}

	if formatter.Format == "json" {
		return formatter.Success(defs)
	}
	writeDefinitions(cmd.OutOrStdout(), defs)
	return nil
}

func writeDefinitions(w io.Writer, defs []schema.Definition) {
	for _, d := range defs {
		fmt.Fprintln(w, d.Name)
		for _, a := range d.Attributes {
			var flags []string
			if a.Optional {
				flags = append(flags, "optional")
			}
			if !value.IsNull(a.Default) {
				flags = append(flags, "default "+formatValue(a.Default))
			}
			fmt.Fprintf(w, "  %-12s %-8s %s\n", a.Name, a.Type, strings.Join(flags, ", "))
		}
		for _, r := range d.Relationships {
			card := "to-many"
			if !r.ToMany() {
				card = "to-one"
			}
			flags := []string{card, "delete " + string(r.DeleteRule)}
			if r.Required() {
				flags = append(flags, fmt.Sprintf("min %d", r.MinCount))
			}
			if r.Inverse != "" {
				flags = append(flags, "inverse "+r.Inverse)
			}
			fmt.Fprintf(w, "  %-12s -> %-6s %s\n", r.Name, r.Target, strings.Join(flags, ", "))
		}
	}
}
