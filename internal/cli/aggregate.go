package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/objgraph/internal/query"
	"github.com/roach88/objgraph/internal/value"
)

// AggregateOptions holds flags for the aggregate command.
type AggregateOptions struct {
	*RootOptions
	Where       []string
	Any         bool
	Expressions []string
}

// NewAggregateCommand creates the aggregate command.
func NewAggregateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AggregateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "aggregate <entity>",
		Short: "Compute count, sum, avg, min and max",
		Long: `Compute aggregates over the objects of an entity matching the --where
conditions (see 'objgraph query --help' for the syntax).

Each --expr is name=func(attribute) with func one of count, sum, avg, min,
max; name=count counts objects. Over no objects count is 0 and every
other aggregate is null.

Example:
  objgraph aggregate Song --expr avgDuration='avg(duration)' --expr songs=count`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAggregate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Where, "where", "w", nil, "condition (repeatable, combined with AND)")
	cmd.Flags().BoolVar(&opts.Any, "any", false, "combine conditions with OR")
	cmd.Flags().StringArrayVar(&opts.Expressions, "expr", nil, "aggregate name=func(attr) (repeatable, required)")
	_ = cmd.MarkFlagRequired("expr")

	return cmd
}

func runAggregate(opts *AggregateOptions, entity string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	e, err := openEnv(opts.RootOptions, false)
	if err != nil {
		return formatter.Fail("failed to open database", err)
	}
	defer e.Close()

	reg := e.coord.Registry()
	pred, err := query.ParseConditions(reg, entity, opts.Where, opts.Any)
	if err != nil {
		return formatter.Fail("invalid aggregate", err)
	}
	r := query.AggregateRequest{Entity: entity, Where: pred, IncludesPendingChanges: true}
	for _, s := range opts.Expressions {
		x, err := query.ParseExpression(s)
		if err != nil {
			return formatter.Fail("invalid aggregate", err)
		}
		r.Expressions = append(r.Expressions, x)
	}
	if err := r.Validate(reg); err != nil {
		return formatter.Fail("invalid aggregate", err)
	}

	out, err := e.session.Aggregate(commandContext(cmd), r)
	if err != nil {
		return formatter.Fail("aggregate failed", err)
	}
	if formatter.Format == "json" {
		return formatter.Success(toGoMap(out))
	}
	for _, name := range value.SortedKeys(out) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", name, formatValue(out[name]))
	}
	return nil
}
