// Package detect runs BIC-driven block model community detection: Leiden
// passes alternate with parameter refits, optionally followed by greedy
// macro merging, and the best scoring partition is returned.
package detect

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/domino/pkg/factors"
	"github.com/gilchrisn/domino/pkg/leiden"
	"github.com/gilchrisn/domino/pkg/partition"
)

var (
	// ErrConfiguration reports invalid options or input shapes.
	ErrConfiguration = errors.New("configuration error")
	// ErrModelMismatch reports a signed run on a graph without negative edges.
	ErrModelMismatch = errors.New("model mismatch")
)

// Initial partition strategies.
const (
	InitIdentity      = "identity"
	InitModularity    = "modularity"
	InitPosModularity = "pos_modularity"
)

// WarningKind classifies non-fatal conditions.
type WarningKind string

const (
	WarnConvergence       WarningKind = "convergence"
	WarnNumericDegeneracy WarningKind = "numeric_degeneracy"
)

// Warning is a non-fatal condition met during a run.
type Warning struct {
	Kind      WarningKind `json:"kind"`
	Iteration int         `json:"iteration"`
	Message   string      `json:"message"`
}

// Options configures a detection run. Zero values of Theta, Gamma,
// MacroMerge, TargetK and FixFactors select the documented defaults.
type Options struct {
	// Mode is "binary", "signed" or "weighted".
	Mode string
	// Negative optionally holds the magnitudes of negative edges for signed mode.
	Negative        mat.Matrix
	DegreeCorrected bool

	// Init is identity (default), modularity or pos_modularity. It is
	// ignored when InitialLabels or InitialSets is given.
	Init          string
	InitialLabels []int
	InitialSets   [][]int

	Theta      float64
	Gamma      float64
	MaxOuter   int
	MacroMerge bool
	TargetK    *int
	// FixFactors freezes degree factors after the first solve; nil means true.
	FixFactors *bool

	Seed    uint64
	Workers int

	Leiden leiden.Options
	Solver factors.Options
	Logger zerolog.Logger
}

func DefaultOptions() Options {
	return Options{
		Mode:     "binary",
		Init:     InitIdentity,
		MaxOuter: 5,
		Workers:  1,
		Leiden:   leiden.DefaultOptions(),
		Solver:   factors.DefaultOptions(),
		Logger:   zerolog.Nop(),
	}
}

// Int returns a pointer to v, for Options.TargetK.
func Int(v int) *int { return &v }

// Bool returns a pointer to v, for Options.FixFactors.
func Bool(v bool) *bool { return &v }

func configErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func (o *Options) validate() error {
	switch {
	case o.Theta < 0:
		return configErr("theta must be non-negative, got %g", o.Theta)
	case o.Gamma < 0:
		return configErr("gamma must be non-negative, got %g", o.Gamma)
	case o.MaxOuter < 1:
		return configErr("max_outer must be at least 1, got %d", o.MaxOuter)
	case o.TargetK != nil && *o.TargetK < 1:
		return configErr("target_K must be at least 1, got %d", *o.TargetK)
	case o.InitialLabels != nil && o.InitialSets != nil:
		return configErr("give either initial labels or initial sets, not both")
	}
	switch o.Init {
	case "", InitIdentity, InitModularity, InitPosModularity:
	default:
		return configErr("unknown initial partition %q", o.Init)
	}
	if o.Workers < 1 {
		o.Workers = 1
	}
	return nil
}

func (o *Options) fixFactors() bool {
	return o.FixFactors == nil || *o.FixFactors
}

// initial builds the caller supplied starting partition, if any.
func (o *Options) initial(n int) (*partition.Partition, error) {
	switch {
	case o.InitialLabels != nil:
		if len(o.InitialLabels) != n {
			return nil, configErr("initial labels cover %d nodes, graph has %d", len(o.InitialLabels), n)
		}
		p := partition.FromLabels(o.InitialLabels)
		return &p, nil
	case o.InitialSets != nil:
		p, err := partition.FromSets(n, o.InitialSets)
		if err != nil {
			return nil, fmt.Errorf("%w: initial sets: %v", ErrConfiguration, err)
		}
		return &p, nil
	}
	return nil, nil
}
