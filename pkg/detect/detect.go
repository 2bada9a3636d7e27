package detect

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/domino/pkg/graph"
	"github.com/gilchrisn/domino/pkg/partition"
	"github.com/gilchrisn/domino/pkg/viz"
)

// Layouter places the nodes of a partitioned graph.
type Layouter interface {
	Layout(ctx context.Context, g *graph.Graph, p partition.Partition) (map[int]viz.Position, error)
}

// Reporter summarizes a finished run. Returned fields are merged into
// Result.Report.
type Reporter interface {
	Report(g *graph.Graph, res *Result) (map[string]any, error)
}

// Extras selects the optional collaborators run by Detect. Nil Layout and
// Reporter fall back to viz.Generator and SummaryReporter.
type Extras struct {
	Viz      bool
	Report   bool
	Layout   Layouter
	Reporter Reporter
}

// Detect runs DetectCommunities and, when requested, attaches a layout and
// a report to the result.
func Detect(ctx context.Context, adj mat.Matrix, opts Options, extras Extras) (*Result, error) {
	res, g, err := run(ctx, adj, opts)
	if err != nil {
		return nil, err
	}

	if extras.Viz {
		layout := extras.Layout
		if layout == nil {
			layout = viz.NewGenerator(opts.Logger)
		}
		pos, err := layout.Layout(ctx, g, res.Partition)
		if err != nil {
			return nil, fmt.Errorf("layout failed: %w", err)
		}
		res.Positions = pos
	}

	if extras.Report {
		reporter := extras.Reporter
		if reporter == nil {
			reporter = SummaryReporter{}
		}
		fields, err := reporter.Report(g, res)
		if err != nil {
			return nil, fmt.Errorf("report failed: %w", err)
		}
		if res.Report == nil {
			res.Report = make(map[string]any, len(fields))
		}
		for k, v := range fields {
			res.Report[k] = v
		}
	}
	return res, nil
}
