package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/objgraph/internal/graph"
	"github.com/roach88/objgraph/internal/query"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Where      []string
	Any        bool
	Sort       []string
	Limit      int
	Offset     int
	Count      bool
	IDs        bool
	Properties []string
	Prefetch   []string
	BatchSize  int
}

// CountResult is the output of query --count.
type CountResult struct {
	Count int `json:"count"`
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <entity>",
		Short: "Fetch objects matching conditions",
		Long: `Fetch objects of an entity matching every --where condition (or any,
with --any). A condition is one of

  path OP value          OP: == != < <= > >= BEGINSWITH CONTAINS ENDSWITH
  path OP[cd] value      case ([c]) and diacritic ([d]) insensitive
  path IS NULL           path IS NOT NULL
  relationship == Entity/key
  COUNT(relationship) OP n

where path is an attribute or relationship.attribute. A relationship path
matches when any related object matches.

Examples:
  objgraph query Song --where 'name BEGINSWITH[cd] a' --sort name
  objgraph query Playlist --where 'songs.name ==[cd] auguri cha cha'
  objgraph query Song --where 'duration > 200' --count
  objgraph query Song --props name,duration --limit 10`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Where, "where", "w", nil, "condition (repeatable, combined with AND)")
	cmd.Flags().BoolVar(&opts.Any, "any", false, "combine conditions with OR")
	cmd.Flags().StringArrayVar(&opts.Sort, "sort", nil, "sort key, key:asc or key:desc (repeatable)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of results (0 = unlimited)")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "number of results to skip")
	cmd.Flags().BoolVar(&opts.Count, "count", false, "print only the number of matches")
	cmd.Flags().BoolVar(&opts.IDs, "ids", false, "print only object ids")
	cmd.Flags().StringSliceVar(&opts.Properties, "props", nil, "print only these attributes")
	cmd.Flags().StringSliceVar(&opts.Prefetch, "prefetch", nil, "relationships to load with the results")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "materialise faults in batches of this size")

	return cmd
}

func runQuery(opts *QueryOptions, entity string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	e, err := openEnv(opts.RootOptions, false)
	if err != nil {
		return formatter.Fail("failed to open database", err)
	}
	defer e.Close()

	reg := e.coord.Registry()
	pred, err := query.ParseConditions(reg, entity, opts.Where, opts.Any)
	if err != nil {
		return formatter.Fail("invalid query", err)
	}
	r, err := query.NewFetchRequest(reg, entity,
		query.Where(pred),
		query.SortBy(query.ParseSort(opts.Sort)...),
		query.Limit(opts.Limit),
		query.Offset(opts.Offset),
		query.BatchSize(opts.BatchSize),
		query.Prefetch(opts.Prefetch...),
	)
	if err != nil {
		return formatter.Fail("invalid query", err)
	}
	if pred != nil {
		formatter.VerboseLog("Predicate: %s", query.String(pred))
	}

	w := cmd.OutOrStdout()
	switch {
	case opts.Count:
		n, err := e.session.Count(ctx, r)
		if err != nil {
			return formatter.Fail("query failed", err)
		}
		if formatter.Format == "json" {
			return formatter.Success(CountResult{Count: n})
		}
		fmt.Fprintln(w, n)

	case opts.IDs:
		ids, err := e.session.FetchIDs(ctx, r)
		if err != nil {
			return formatter.Fail("query failed", err)
		}
		if formatter.Format == "json" {
			if ids == nil {
				ids = []graph.ObjectID{}
			}
			return formatter.Success(ids)
		}
		for _, id := range ids {
			fmt.Fprintln(w, id)
		}

	case len(opts.Properties) > 0:
		rows, err := e.session.FetchProperties(ctx, r, opts.Properties...)
		if err != nil {
			return formatter.Fail("query failed", err)
		}
		if formatter.Format == "json" {
			out := make([]map[string]interface{}, len(rows))
			for i, row := range rows {
				out[i] = toGoMap(row)
			}
			return formatter.Success(out)
		}
		for _, row := range rows {
			fmt.Fprintln(w, formatValues(row))
		}

	default:
		insts, err := e.session.Fetch(ctx, r)
		if err != nil {
			return formatter.Fail("query failed", err)
		}
		views := newObjectViews(insts)
		if formatter.Format == "json" {
			return formatter.Success(views)
		}
		writeObjects(w, views)
	}
	return nil
}
