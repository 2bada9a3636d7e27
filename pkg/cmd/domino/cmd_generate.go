package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gilchrisn/domino/pkg/graph"
	"github.com/gilchrisn/domino/pkg/partition"
	"github.com/gilchrisn/domino/pkg/synth"
)

var (
	generateKind   string
	generateOutput string
	generateTruth  string
	generateSeed   uint64
	generateSizes  []int

	generateCmd = &cobra.Command{
		Use:   "generate",
		Short: "Generate a planted partition graph",
		Long: `Samples a binary, signed or weighted block model graph and writes it as an
edge list, optionally with its planted labels.`,
		RunE: runGenerate,
	}
)

func init() {
	f := generateCmd.Flags()
	f.StringVar(&generateKind, "kind", "binary", "binary, signed or weighted")
	f.StringVarP(&generateOutput, "output", "o", "", "edge list output file (default stdout)")
	f.StringVar(&generateTruth, "truth", "", "write planted labels to this file")
	f.Uint64Var(&generateSeed, "seed", 0, "random seed (0 keeps the default of each kind)")
	f.IntSliceVar(&generateSizes, "sizes", nil, "block sizes (default depends on kind)")
}

func generate() (*synth.Instance, graph.Mode, error) {
	switch generateKind {
	case "binary":
		opts := synth.DefaultBinary()
		if generateSeed != 0 {
			opts.Seed = generateSeed
		}
		if generateSizes != nil {
			opts.BlockSizes = generateSizes
		}
		inst, err := synth.Binary(opts)
		return inst, graph.Binary, err
	case "signed":
		opts := synth.DefaultSigned()
		if generateSeed != 0 {
			opts.Seed = generateSeed
		}
		if generateSizes != nil {
			opts.BlockSizes = generateSizes
		}
		inst, err := synth.Signed(opts)
		return inst, graph.Signed, err
	case "weighted":
		opts := synth.DefaultWeighted()
		if generateSeed != 0 {
			opts.Seed = generateSeed
		}
		if generateSizes != nil {
			opts.BlockSizes = generateSizes
		}
		inst, err := synth.Weighted(opts)
		return inst, graph.Weighted, err
	}
	return nil, 0, fmt.Errorf("unknown kind %q", generateKind)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	inst, mode, err := generate()
	if err != nil {
		return err
	}
	g, err := graph.FromMatrix(inst.A, nil, mode)
	if err != nil {
		return err
	}

	out, err := createOutput(generateOutput)
	if err != nil {
		return err
	}
	if err := graph.WriteEdgeList(out, g, nil); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	if generateTruth != "" {
		tf, err := createOutput(generateTruth)
		if err != nil {
			return err
		}
		if err := partition.WriteLabels(tf, inst.Truth, nil); err != nil {
			tf.Close()
			return err
		}
		if err := tf.Close(); err != nil {
			return err
		}
	}

	logger.Info().
		Str("kind", generateKind).
		Int("nodes", g.NumNodes).
		Int("edges", g.NumEdges).
		Int("blocks", inst.Truth.NumBlocks()).
		Uint64("seed", generateSeed).
		Msg("Graph generated")
	return nil
}
