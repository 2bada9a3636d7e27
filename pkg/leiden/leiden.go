// Package leiden partitions a graph by maximizing the penalized block-model
// log-likelihood of a model family with the Leiden scheme of local moving,
// refinement and aggregation.
package leiden

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/gilchrisn/domino/pkg/factors"
	"github.com/gilchrisn/domino/pkg/graph"
	"github.com/gilchrisn/domino/pkg/model"
	"github.com/gilchrisn/domino/pkg/partition"
)

// MinGain is the smallest quality improvement accepted as a local move.
const MinGain = 1e-10

type Options struct {
	// Theta > 0 samples uniformly among moves within Theta of the best gain.
	Theta float64 `json:"theta"`
	// Gamma is the well-connectedness density required during refinement.
	Gamma     float64 `json:"gamma"`
	MaxSweeps int     `json:"max_sweeps"`
	MaxLevels int     `json:"max_levels"`
	Randomize bool    `json:"randomize"`
	Seed      uint64  `json:"seed"`
}

func DefaultOptions() Options {
	return Options{
		MaxSweeps: 100,
		MaxLevels: 20,
		Randomize: true,
	}
}

// LevelInfo describes one level of the hierarchy.
type LevelInfo struct {
	Level       int     `json:"level"`
	Nodes       int     `json:"nodes"`
	Moves       int     `json:"moves"`
	Communities int     `json:"communities"`
	Refined     int     `json:"refined"`
	Quality     float64 `json:"quality"`
	RuntimeMS   int64   `json:"runtime_ms"`
}

type Result struct {
	Partition  partition.Partition `json:"partition"`
	Quality    float64             `json:"quality"`
	TotalMoves int                 `json:"total_moves"`
	Levels     []LevelInfo         `json:"levels"`
}

// Run optimizes the partition of g under fam starting from init. x holds
// the node factors of degree-corrected families and is ignored otherwise.
func Run(ctx context.Context, g *graph.Graph, fam model.Family, x *factors.Result, init partition.Partition, opts Options, logger zerolog.Logger) (*Result, error) {
	if init.Len() != g.NumNodes {
		return nil, fmt.Errorf("initial partition covers %d nodes, graph has %d", init.Len(), g.NumNodes)
	}
	if !fam.Kind().DegreeCorrected() {
		x = nil
	} else if x == nil {
		return nil, fmt.Errorf("%v needs node factors", fam.Kind())
	}
	if opts.MaxSweeps <= 0 {
		opts.MaxSweeps = DefaultOptions().MaxSweeps
	}
	if opts.MaxLevels <= 0 {
		opts.MaxLevels = DefaultOptions().MaxLevels
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	n := g.NumNodes
	lg := newLevelGraph(g, x)
	comm := init.Labels()
	flat := make([]int, n)
	for i := range flat {
		flat[i] = i
	}

	result := &Result{}
	for level := 0; level < opts.MaxLevels; level++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()

		st := newBlockState(lg, fam, n, comm)
		moves, err := localMove(ctx, st, rng, opts)
		if err != nil {
			return nil, err
		}
		var numComm int
		comm, numComm = compact(st.label)
		info := LevelInfo{
			Level:       level,
			Nodes:       lg.n,
			Moves:       moves,
			Communities: numComm,
			Refined:     numComm,
			Quality:     st.quality(),
		}
		result.TotalMoves += moves
		result.Quality = info.Quality

		if numComm == lg.n {
			info.RuntimeMS = time.Since(start).Milliseconds()
			result.Levels = append(result.Levels, info)
			logger.Debug().Int("level", level).Int("moves", moves).Int("blocks", numComm).Msg("Every node is its own block, stopping")
			break
		}

		refined, numRefined := refine(lg, fam, n, comm, numComm, rng, opts)
		if numRefined == lg.n {
			refined, numRefined = comm, numComm
		}
		info.Refined = numRefined
		info.RuntimeMS = time.Since(start).Milliseconds()
		result.Levels = append(result.Levels, info)

		logger.Debug().
			Int("level", level).
			Int("nodes", lg.n).
			Int("moves", moves).
			Int("blocks", numComm).
			Int("refined", numRefined).
			Float64("quality", info.Quality).
			Msg("Leiden level completed")

		next := lg.aggregate(refined, numRefined)
		superComm := make([]int, numRefined)
		for v := 0; v < lg.n; v++ {
			superComm[refined[v]] = comm[v]
		}
		for i := range flat {
			flat[i] = refined[flat[i]]
		}
		comm = superComm
		lg = next
	}

	labels := make([]int, n)
	for i := range labels {
		labels[i] = comm[flat[i]]
	}
	result.Partition = partition.FromLabels(labels)
	return result, nil
}

func compact(labels []int) ([]int, int) {
	p := partition.FromLabels(labels)
	return p.Labels(), p.NumBlocks()
}

type candidate struct {
	block int
	gain  float64
}

// choose picks the best candidate with gain above floor, breaking ties by
// the lowest block id. With theta > 0 it samples uniformly among candidates
// within theta of the best.
func choose(cands []candidate, floor, theta float64, rng *rand.Rand) (int, bool) {
	best := -1
	for i, c := range cands {
		if c.gain < floor {
			continue
		}
		if best < 0 || c.gain > cands[best].gain || (c.gain == cands[best].gain && c.block < cands[best].block) {
			best = i
		}
	}
	if best < 0 {
		return 0, false
	}
	if theta <= 0 {
		return cands[best].block, true
	}
	var pool []int
	for _, c := range cands {
		if c.gain >= floor && c.gain >= cands[best].gain-theta {
			pool = append(pool, c.block)
		}
	}
	return pool[rng.IntN(len(pool))], true
}

func visitOrder(n int, rng *rand.Rand, randomize bool) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if randomize {
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	return order
}

// localMove sweeps the nodes, moving each into the neighboring block with
// the largest positive gain, until a sweep makes no move. A node without
// neighbors is never moved, so isolated nodes stay singletons.
func localMove(ctx context.Context, st *blockState, rng *rand.Rand, opts Options) (int, error) {
	var cands []candidate
	total := 0
	for sweep := 0; sweep < opts.MaxSweeps; sweep++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		moved := 0
		for _, v := range visitOrder(st.lg.n, rng, opts.Randomize) {
			st.gather(v)
			r := st.label[v]
			cands = cands[:0]
			if len(st.evKeys) == 0 || (len(st.evKeys) == 1 && st.evKeys[0] == r) {
				continue
			}
			base := st.leave(v)
			for _, t := range st.evKeys {
				if t != r {
					cands = append(cands, candidate{t, st.joinGain(v, t, base)})
				}
			}
			if t, ok := choose(cands, MinGain, opts.Theta, rng); ok {
				st.move(v, t)
				moved++
			}
		}
		total += moved
		if moved == 0 {
			break
		}
	}
	return total, nil
}

// refine splits each community of comm into well-connected blocks. Every
// node starts alone; singleton nodes that are well connected to their
// community merge into a well-connected block of the same community.
func refine(lg *levelGraph, fam model.Family, numNodes int, comm []int, numComm int, rng *rand.Rand, opts Options) ([]int, int) {
	singles := make([]int, lg.n)
	for i := range singles {
		singles[i] = i
	}
	st := newBlockState(lg, fam, numNodes, singles)

	commSize := make([]float64, numComm)
	for v := 0; v < lg.n; v++ {
		commSize[comm[v]] += lg.agg[v].Size
	}
	cutV := make([]float64, lg.n)
	for v := 0; v < lg.n; v++ {
		for k, w := range lg.adj[v] {
			if comm[w] == comm[v] {
				cutV[v] += lg.links[v][k].Strength()
			}
		}
	}
	cut := append([]float64(nil), cutV...)
	connected := func(c int, size, e float64) bool {
		return e >= opts.Gamma*size*(commSize[c]-size)
	}

	var cands []candidate
	for _, v := range visitOrder(lg.n, rng, opts.Randomize) {
		r := st.label[v]
		c := comm[v]
		if st.count[r] != 1 || !connected(c, lg.agg[v].Size, cutV[v]) {
			continue
		}
		st.gather(v)
		base := st.leave(v)
		cands = cands[:0]
		for _, t := range st.evKeys {
			if t == r || comm[t] != c || !connected(c, st.agg[t].Size, cut[t]) {
				continue
			}
			cands = append(cands, candidate{t, st.joinGain(v, t, base)})
		}
		t, ok := choose(cands, 0, opts.Theta, rng)
		if !ok {
			continue
		}
		cut[t] += cutV[v] - 2*st.ev[t].Strength()
		st.move(v, t)
	}
	return compact(st.label)
}
