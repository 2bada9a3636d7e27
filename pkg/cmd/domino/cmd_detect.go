package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/gilchrisn/domino/pkg/api"
	"github.com/gilchrisn/domino/pkg/compare"
	"github.com/gilchrisn/domino/pkg/detect"
	"github.com/gilchrisn/domino/pkg/graph"
	"github.com/gilchrisn/domino/pkg/partition"
)

var (
	detectInput  string
	detectOutput string
	detectJSON   string
	detectTruth  string
	detectInit   string
	detectMax    = api.DefaultLimits().MaxNodes

	detectCmd = &cobra.Command{
		Use:   "detect",
		Short: "Detect communities in an edge list",
		Long: `Reads "from to [weight]" lines, runs block model community detection and
writes one "node block" line per node. Negative weights mark negative edges
in signed mode.`,
		RunE: runDetect,
	}
)

func init() {
	f := detectCmd.Flags()
	f.StringVarP(&detectInput, "input", "i", "", "edge list file (default stdin)")
	f.StringVarP(&detectOutput, "output", "o", "", "labels output file (default stdout)")
	f.StringVar(&detectJSON, "json", "", "write the full result as JSON to this file")
	f.StringVar(&detectTruth, "truth", "", "ground truth labels to compare against")
	f.StringVar(&detectInit, "initial", "", "initial labels file (overrides --init)")
	f.IntVar(&detectMax, "max-nodes", detectMax, "largest graph read, 0 for no limit (the graph is held as a dense matrix)")

	f.String("mode", "binary", "binary, signed or weighted")
	f.Bool("dc", false, "use the degree corrected family")
	f.String("init", detect.InitIdentity, "initial partition: identity, modularity or pos_modularity")
	f.Int("max-outer", 5, "maximum outer iterations")
	f.Float64("theta", 0, "stochastic tie breaking window")
	f.Float64("gamma", 0, "refinement well-connectedness density")
	f.Bool("macro-merge", false, "greedily merge blocks while BIC decreases")
	f.Int("target-k", 0, "merge down to exactly this many blocks (0 disables)")
	f.Uint64("seed", 42, "random seed")
	f.Bool("fix-x", true, "solve degree factors once")
	f.Int("workers", 1, "goroutines used for block statistics")
	f.Bool("layout", false, "compute node positions (JSON output only)")
	f.Bool("report", false, "attach a block summary (JSON output only)")

	for flag, key := range map[string]string{
		"mode":        "model.mode",
		"dc":          "model.degree_corrected",
		"init":        "model.init",
		"max-outer":   "algorithm.max_outer",
		"theta":       "algorithm.theta",
		"gamma":       "algorithm.gamma",
		"macro-merge": "algorithm.macro_merge",
		"target-k":    "algorithm.target_k",
		"seed":        "algorithm.random_seed",
		"fix-x":       "algorithm.fix_x",
		"workers":     "performance.num_workers",
		"layout":      "output.layout",
		"report":      "output.report",
	} {
		mustBind(cfg.Viper().BindPFlag(key, f.Lookup(flag)))
	}
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

func createOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopWriteCloser{os.Stdout}, nil
	}
	return os.Create(path)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func readLabels(path string, names []string) (partition.Partition, error) {
	f, err := os.Open(path)
	if err != nil {
		return partition.Partition{}, err
	}
	defer f.Close()
	index := make(map[string]int, len(names))
	for i, name := range names {
		index[name] = i
	}
	return partition.ReadLabels(f, len(names), index)
}

func runDetect(cmd *cobra.Command, args []string) error {
	in, err := openInput(detectInput)
	if err != nil {
		return err
	}
	adj, names, err := graph.ReadEdgeList(in, detectMax)
	in.Close()
	if err != nil {
		return fmt.Errorf("failed to read graph: %w", err)
	}

	opts := cfg.Options()
	opts.Logger = logger
	if detectInit != "" {
		p, err := readLabels(detectInit, names)
		if err != nil {
			return fmt.Errorf("failed to read initial labels: %w", err)
		}
		opts.InitialLabels = p.Labels()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := detect.Detect(ctx, adj, opts, detect.Extras{Viz: cfg.Layout(), Report: cfg.Report()})
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s (iteration %d): %s\n", w.Kind, w.Iteration, w.Message)
	}

	out, err := createOutput(detectOutput)
	if err != nil {
		return err
	}
	if err := partition.WriteLabels(out, res.Partition, names); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	if detectJSON != "" {
		if err := writeJSON(detectJSON, res); err != nil {
			return err
		}
	}

	logger.Info().
		Str("family", res.Family.String()).
		Int("blocks", res.Partition.NumBlocks()).
		Float64("bic", res.BIC).
		Msg("Detection finished")

	if detectTruth != "" {
		truth, err := readLabels(detectTruth, names)
		if err != nil {
			return fmt.Errorf("failed to read truth labels: %w", err)
		}
		m, err := compare.Compare(res.Partition, truth)
		if err != nil {
			return err
		}
		logger.Info().
			Float64("nmi", m.NMI).
			Float64("ari", m.ARI).
			Str("similarity", m.Similarity).
			Msg("Compared with ground truth")
	}
	return nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
