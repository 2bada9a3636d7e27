package detect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/domino/pkg/factors"
	"github.com/gilchrisn/domino/pkg/graph"
	"github.com/gilchrisn/domino/pkg/leiden"
	"github.com/gilchrisn/domino/pkg/merge"
	"github.com/gilchrisn/domino/pkg/model"
	"github.com/gilchrisn/domino/pkg/partition"
	"github.com/gilchrisn/domino/pkg/viz"
)

// OuterState is the snapshot taken after one outer iteration.
type OuterState struct {
	Iteration   int                 `json:"iteration"`
	Partition   partition.Partition `json:"partition"`
	Parameters  *model.Parameters   `json:"-"`
	Score       model.BICResult     `json:"score"`
	LeidenMoves int                 `json:"leiden_moves"`
	Levels      int                 `json:"levels"`
	Merges      int                 `json:"merges"`
}

// RunStatistics summarizes a detection run.
type RunStatistics struct {
	OuterIterations int   `json:"outer_iterations"`
	BestIteration   int   `json:"best_iteration"`
	FixedPoint      bool  `json:"fixed_point"`
	TotalMoves      int   `json:"total_moves"`
	TotalMerges     int   `json:"total_merges"`
	TargetMerges    int   `json:"target_merges"`
	FactorSolves    int   `json:"factor_solves"`
	RuntimeMS       int64 `json:"runtime_ms"`
}

// Result is the output of a detection run.
type Result struct {
	Partition  partition.Partition `json:"partition"`
	BIC        float64             `json:"bic"`
	Score      model.BICResult     `json:"score"`
	Family     model.Kind          `json:"family"`
	Parameters *model.Parameters   `json:"parameters,omitempty"`
	Iterations []OuterState        `json:"iterations"`
	Warnings   []Warning           `json:"warnings,omitempty"`
	Statistics RunStatistics       `json:"statistics"`

	// Filled by Detect when a layout or report was requested.
	Positions map[int]viz.Position `json:"positions,omitempty"`
	Report    map[string]any       `json:"report,omitempty"`
}

// DetectCommunities partitions the graph given by adjacency matrix adj and
// returns the best partition found with its BIC.
func DetectCommunities(ctx context.Context, adj mat.Matrix, opts Options) (partition.Partition, float64, error) {
	res, _, err := run(ctx, adj, opts)
	if err != nil {
		return partition.Partition{}, 0, err
	}
	return res.Partition, res.BIC, nil
}

// buildGraph validates adj for opts.Mode and maps input errors onto the
// error taxonomy.
func buildGraph(adj mat.Matrix, opts *Options) (*graph.Graph, model.Kind, error) {
	mode, err := graph.ParseMode(opts.Mode)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if adj == nil {
		return nil, 0, configErr("adjacency matrix is nil")
	}
	g, err := graph.FromMatrix(adj, opts.Negative, mode)
	switch {
	case errors.Is(err, graph.ErrNoNegative):
		return nil, 0, fmt.Errorf("%w: %v", ErrModelMismatch, err)
	case err != nil:
		return nil, 0, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return g, model.KindFor(mode, opts.DegreeCorrected), nil
}

// ScorePartition computes the BIC of a caller supplied partition under the
// family selected by opts.
func ScorePartition(ctx context.Context, adj mat.Matrix, labels []int, opts Options) (model.BICResult, error) {
	g, kind, err := buildGraph(adj, &opts)
	if err != nil {
		return model.BICResult{}, err
	}
	if len(labels) != g.NumNodes {
		return model.BICResult{}, configErr("labels cover %d nodes, graph has %d", len(labels), g.NumNodes)
	}
	fam, err := model.New(kind)
	if err != nil {
		return model.BICResult{}, err
	}
	var x *factors.Result
	if kind.DegreeCorrected() {
		x = factors.Solve(g, opts.Solver, opts.Logger)
	}
	sc, err := score(ctx, g, fam, x, partition.FromLabels(labels), opts.Workers)
	if err != nil {
		return model.BICResult{}, err
	}
	return sc.bic, nil
}

type scored struct {
	stats  *model.Stats
	params *model.Parameters
	bic    model.BICResult
}

func score(ctx context.Context, g *graph.Graph, fam model.Family, x *factors.Result, p partition.Partition, workers int) (*scored, error) {
	st, err := model.ComputeStatistics(ctx, g, p, fam.Kind(), x, workers)
	if err != nil {
		return nil, err
	}
	params := model.FitParameters(fam, st, x)
	return &scored{stats: st, params: params, bic: model.EvaluateBIC(fam, st, params)}, nil
}

// iterationSeed derives the seed of one outer iteration from the base seed.
func iterationSeed(base uint64, iter int) uint64 {
	return base ^ (uint64(iter) * 0x9e3779b97f4a7c15)
}

// controller owns the state of one run.
type controller struct {
	g      *graph.Graph
	fam    model.Family
	opts   Options
	logger zerolog.Logger

	x        *factors.Result
	warnings []Warning
	stats    RunStatistics
}

func (c *controller) solveFactors(iter int) {
	c.x = factors.Solve(c.g, c.opts.Solver, c.logger)
	c.stats.FactorSolves++
	if !c.x.Converged {
		c.warn(WarnConvergence, iter, fmt.Sprintf("degree factors did not converge after %d iterations (max delta %.3g)", c.x.Iterations, c.x.MaxDelta))
	}
}

func (c *controller) warn(kind WarningKind, iter int, msg string) {
	c.warnings = append(c.warnings, Warning{Kind: kind, Iteration: iter, Message: msg})
	c.logger.Warn().Str("kind", string(kind)).Int("iteration", iter).Msg(msg)
}

func (c *controller) checkDegeneracy(iter int, sc *scored) {
	if n := sc.params.Clipped + sc.bic.Clipped; n > 0 {
		c.warn(WarnNumericDegeneracy, iter, fmt.Sprintf("%d block pair parameters were clipped", n))
	}
}

func (c *controller) startPartition() (partition.Partition, error) {
	p, err := c.opts.initial(c.g.NumNodes)
	if err != nil {
		return partition.Partition{}, err
	}
	if p != nil {
		return *p, nil
	}
	switch c.opts.Init {
	case InitModularity, InitPosModularity:
		seed, err := modularitySeed(c.g, c.opts.Init == InitPosModularity, c.opts.Seed)
		if err != nil {
			return partition.Partition{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		return seed, nil
	}
	return partition.Identity(c.g.NumNodes), nil
}

// run executes the outer alternation and returns the result with the graph
// it was computed on.
func run(ctx context.Context, adj mat.Matrix, opts Options) (*Result, *graph.Graph, error) {
	start := time.Now()
	if err := opts.validate(); err != nil {
		return nil, nil, err
	}
	g, kind, err := buildGraph(adj, &opts)
	if err != nil {
		return nil, nil, err
	}
	if opts.TargetK != nil && *opts.TargetK > g.NumNodes {
		return nil, nil, configErr("target_K=%d exceeds the %d nodes", *opts.TargetK, g.NumNodes)
	}
	fam, err := model.New(kind)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	c := &controller{g: g, fam: fam, opts: opts, logger: opts.Logger}
	c.logger.Info().
		Str("family", kind.String()).
		Int("nodes", g.NumNodes).
		Int("edges", g.NumEdges).
		Int("max_outer", opts.MaxOuter).
		Msg("Starting community detection")

	prev, err := c.startPartition()
	if err != nil {
		return nil, nil, err
	}
	if kind.DegreeCorrected() {
		c.solveFactors(1)
	}

	var states []OuterState
	best := -1
	var bestScore *scored
	for iter := 1; iter <= opts.MaxOuter; iter++ {
		if kind.DegreeCorrected() && !opts.fixFactors() && iter > 1 {
			c.solveFactors(iter)
		}

		lopts := opts.Leiden
		lopts.Theta = opts.Theta
		lopts.Gamma = opts.Gamma
		lopts.Seed = iterationSeed(opts.Seed, iter)
		lr, err := leiden.Run(ctx, g, fam, c.x, prev, lopts, c.logger)
		if err != nil {
			return nil, nil, err
		}
		p := lr.Partition
		fixed := p.Equal(prev)

		sc, err := score(ctx, g, fam, c.x, p, opts.Workers)
		if err != nil {
			return nil, nil, err
		}
		merges := 0
		if opts.MacroMerge {
			mr, err := merge.MacroMerge(ctx, fam, sc.stats, p, c.logger)
			if err != nil {
				return nil, nil, err
			}
			if merges = len(mr.Steps); merges > 0 {
				p = mr.Partition
				if sc, err = score(ctx, g, fam, c.x, p, opts.Workers); err != nil {
					return nil, nil, err
				}
			}
		}
		c.checkDegeneracy(iter, sc)

		states = append(states, OuterState{
			Iteration:   iter,
			Partition:   p,
			Parameters:  sc.params,
			Score:       sc.bic,
			LeidenMoves: lr.TotalMoves,
			Levels:      len(lr.Levels),
			Merges:      merges,
		})
		c.stats.TotalMoves += lr.TotalMoves
		c.stats.TotalMerges += merges
		if best < 0 || sc.bic.BIC < bestScore.bic.BIC {
			best, bestScore = len(states)-1, sc
		}

		c.logger.Info().
			Int("iteration", iter).
			Int("blocks", p.NumBlocks()).
			Int("moves", lr.TotalMoves).
			Int("merges", merges).
			Float64("bic", sc.bic.BIC).
			Float64("best_bic", bestScore.bic.BIC).
			Msg("Outer iteration completed")

		if fixed && merges == 0 {
			c.stats.FixedPoint = true
			break
		}
		prev = p
	}

	final := states[best].Partition
	finalScore := bestScore
	if opts.TargetK != nil {
		k := *opts.TargetK
		if k > final.NumBlocks() {
			return nil, nil, configErr("target_K=%d exceeds the %d blocks found", k, final.NumBlocks())
		}
		tr, err := merge.TargetK(ctx, fam, bestScore.stats, final, k, c.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		final = tr.Partition
		c.stats.TargetMerges = len(tr.Steps)
		if finalScore, err = score(ctx, g, fam, c.x, final, opts.Workers); err != nil {
			return nil, nil, err
		}
		c.checkDegeneracy(len(states)+1, finalScore)
	}

	c.stats.OuterIterations = len(states)
	c.stats.BestIteration = states[best].Iteration
	c.stats.RuntimeMS = time.Since(start).Milliseconds()
	res := &Result{
		Partition:  final,
		BIC:        finalScore.bic.BIC,
		Score:      finalScore.bic,
		Family:     kind,
		Parameters: finalScore.params,
		Iterations: states,
		Warnings:   c.warnings,
		Statistics: c.stats,
	}
	c.logger.Info().
		Str("family", kind.String()).
		Int("blocks", final.NumBlocks()).
		Float64("bic", res.BIC).
		Int("best_iteration", c.stats.BestIteration).
		Int64("runtime_ms", c.stats.RuntimeMS).
		Msg("Community detection completed")
	return res, g, nil
}
