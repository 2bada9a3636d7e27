package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/domino/pkg/detect"
	"github.com/gilchrisn/domino/pkg/model"
	"github.com/gilchrisn/domino/pkg/viz"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Limits bounds the work a single request may ask for.
type Limits struct {
	MaxNodes   int
	MaxBody    int64
	RunTimeout time.Duration
}

func DefaultLimits() Limits {
	return Limits{MaxNodes: 5000, MaxBody: 64 << 20, RunTimeout: 2 * time.Minute}
}

// Handlers serves detection requests. Defaults for fields a request leaves
// out come from the base options.
type Handlers struct {
	base   detect.Options
	limits Limits
	logger zerolog.Logger
}

func NewHandlers(base detect.Options, limits Limits, logger zerolog.Logger) *Handlers {
	return &Handlers{base: base, limits: limits, logger: logger}
}

// Edge is one entry of an edge list request. Weight 0 means 1.
type Edge struct {
	Source int     `json:"source"`
	Target int     `json:"target"`
	Weight float64 `json:"weight"`
}

// DetectRequest is the body of POST /api/v1/detect. The graph is given
// either as a dense matrix or as an edge list over NumNodes nodes.
type DetectRequest struct {
	Matrix   [][]float64 `json:"matrix,omitempty"`
	Edges    []Edge      `json:"edges,omitempty"`
	NumNodes int         `json:"num_nodes,omitempty"`
	Negative [][]float64 `json:"negative,omitempty"`

	Mode            string   `json:"mode"`
	DegreeCorrected bool     `json:"degree_corrected"`
	Init            string   `json:"init,omitempty"`
	InitialLabels   []int    `json:"initial_labels,omitempty"`
	Theta           *float64 `json:"theta,omitempty"`
	Gamma           *float64 `json:"gamma,omitempty"`
	MaxOuter        *int     `json:"max_outer,omitempty"`
	MacroMerge      *bool    `json:"macro_merge,omitempty"`
	TargetK         *int     `json:"target_k,omitempty"`
	FixX            *bool    `json:"fix_x,omitempty"`
	Seed            *uint64  `json:"seed,omitempty"`

	Viz    bool `json:"viz"`
	Report bool `json:"report"`
}

// DetectResponse is the data of a successful detection.
type DetectResponse struct {
	Family     string               `json:"family"`
	BIC        float64              `json:"bic"`
	NumBlocks  int                  `json:"num_blocks"`
	Labels     []int                `json:"labels"`
	Score      model.BICResult      `json:"score"`
	Warnings   []detect.Warning     `json:"warnings,omitempty"`
	Statistics detect.RunStatistics `json:"statistics"`
	Positions  map[int]viz.Position `json:"positions,omitempty"`
	Report     map[string]any       `json:"report,omitempty"`
}

func dense(rows [][]float64, what string) (*mat.Dense, error) {
	n := len(rows)
	if n == 0 {
		return nil, fmt.Errorf("%s is empty", what)
	}
	data := make([]float64, 0, n*n)
	for i, row := range rows {
		if len(row) != n {
			return nil, fmt.Errorf("%s row %d has %d entries, want %d", what, i, len(row), n)
		}
		data = append(data, row...)
	}
	return mat.NewDense(n, n, data), nil
}

// adjacency builds the request graph as a matrix.
func (req *DetectRequest) adjacency(maxNodes int) (mat.Matrix, error) {
	switch {
	case req.Matrix != nil && req.Edges != nil:
		return nil, errors.New("give either matrix or edges, not both")
	case req.Matrix != nil:
		if len(req.Matrix) > maxNodes {
			return nil, fmt.Errorf("graph has %d nodes, limit is %d", len(req.Matrix), maxNodes)
		}
		return dense(req.Matrix, "matrix")
	case req.Edges != nil:
		n := req.NumNodes
		if n <= 0 {
			return nil, errors.New("num_nodes is required with edges")
		}
		if n > maxNodes {
			return nil, fmt.Errorf("graph has %d nodes, limit is %d", n, maxNodes)
		}
		a := mat.NewDense(n, n, nil)
		for k, e := range req.Edges {
			if e.Source < 0 || e.Source >= n || e.Target < 0 || e.Target >= n {
				return nil, fmt.Errorf("edge %d (%d, %d) is out of range", k, e.Source, e.Target)
			}
			w := e.Weight
			if w == 0 {
				w = 1
			}
			a.Set(e.Source, e.Target, a.At(e.Source, e.Target)+w)
			if e.Source != e.Target {
				a.Set(e.Target, e.Source, a.At(e.Target, e.Source)+w)
			}
		}
		return a, nil
	}
	return nil, errors.New("request has no graph")
}

func (h *Handlers) options(req *DetectRequest) (detect.Options, error) {
	opts := h.base
	if req.Mode != "" {
		opts.Mode = req.Mode
	}
	opts.DegreeCorrected = req.DegreeCorrected
	if req.Init != "" {
		opts.Init = req.Init
	}
	opts.InitialLabels = req.InitialLabels
	if req.Theta != nil {
		opts.Theta = *req.Theta
	}
	if req.Gamma != nil {
		opts.Gamma = *req.Gamma
	}
	if req.MaxOuter != nil {
		opts.MaxOuter = *req.MaxOuter
	}
	if req.MacroMerge != nil {
		opts.MacroMerge = *req.MacroMerge
	}
	if req.TargetK != nil {
		opts.TargetK = detect.Int(*req.TargetK)
	}
	if req.FixX != nil {
		opts.FixFactors = detect.Bool(*req.FixX)
	}
	if req.Seed != nil {
		opts.Seed = *req.Seed
	}
	if req.Negative != nil {
		neg, err := dense(req.Negative, "negative")
		if err != nil {
			return opts, err
		}
		opts.Negative = neg
	}
	return opts, nil
}

// statusFor maps detection errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, detect.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, detect.ErrModelMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Detect runs community detection on the posted graph.
func (h *Handlers) Detect(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(r, "application/json") {
		WriteErrorResponse(w, r, http.StatusUnsupportedMediaType, "Content-Type must be application/json", nil)
		return
	}
	var req DetectRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.limits.MaxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		WriteErrorResponse(w, r, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	adj, err := req.adjacency(h.limits.MaxNodes)
	if err != nil {
		WriteErrorResponse(w, r, http.StatusBadRequest, "Invalid graph", err)
		return
	}
	opts, err := h.options(&req)
	if err != nil {
		WriteErrorResponse(w, r, http.StatusBadRequest, "Invalid graph", err)
		return
	}
	opts.Logger = h.logger.With().Str("request_id", RequestID(r.Context())).Logger()

	ctx := r.Context()
	if h.limits.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.limits.RunTimeout)
		defer cancel()
	}

	res, err := detect.Detect(ctx, adj, opts, detect.Extras{Viz: req.Viz, Report: req.Report})
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("request_id", RequestID(r.Context())).
			Msg("Detection failed")
		WriteErrorResponse(w, r, statusFor(err), "Detection failed", err)
		return
	}

	WriteSuccessResponse(w, r, "Detection completed", DetectResponse{
		Family:     res.Family.String(),
		BIC:        res.BIC,
		NumBlocks:  res.Partition.NumBlocks(),
		Labels:     res.Partition.Labels(),
		Score:      res.Score,
		Warnings:   res.Warnings,
		Statistics: res.Statistics,
		Positions:  res.Positions,
		Report:     res.Report,
	})
}

// FamilyInfo describes one block model family.
type FamilyInfo struct {
	Name            string `json:"name"`
	Mode            string `json:"mode"`
	DegreeCorrected bool   `json:"degree_corrected"`
}

// ListFamilies lists the supported block model families.
func (h *Handlers) ListFamilies(w http.ResponseWriter, r *http.Request) {
	kinds := model.Kinds()
	out := make([]FamilyInfo, len(kinds))
	for i, k := range kinds {
		out[i] = FamilyInfo{Name: k.String(), Mode: k.Mode().String(), DegreeCorrected: k.DegreeCorrected()}
	}
	WriteSuccessResponse(w, r, "Families retrieved", out)
}

// HealthCheck reports service health.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	WriteSuccessResponse(w, r, "Service is healthy", map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"version":   Version,
	})
}
