package behavior

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
)

// ErrDimensionMismatch is returned when a point's dimensionality does not
// match the engine's fixed feature dimension. This is a configuration bug,
// never a transient condition.
var ErrDimensionMismatch = errors.New("feature vector dimension mismatch")

const (
	// DefaultMaxClusters bounds the cluster set.
	DefaultMaxClusters = 3
	// DefaultOutlierSigma is the sensitivity multiplier applied to the
	// distance-stream standard deviation when deriving the adaptive
	// outlier and dispersion thresholds.
	DefaultOutlierSigma = 2.67
)

// Config tunes the online clustering engine.
type Config struct {
	Dimension    int
	MaxClusters  int
	OutlierSigma float64
}

func (c *Config) applyDefaults() {
	if c.MaxClusters <= 0 {
		c.MaxClusters = DefaultMaxClusters
	}
	if c.OutlierSigma <= 0 {
		c.OutlierSigma = DefaultOutlierSigma
	}
}

// Engine maintains a small bounded set of clusters over the feature stream
// and classifies each point entirely online. It is single-writer: only the
// tick loop calls Classify.
type Engine struct {
	mu       sync.Mutex // Classify is single-writer; mu covers snapshot reads
	cfg      Config
	clusters []*Cluster
	nextID   int
	dist     DistanceStats
	logger   *zap.Logger
}

// NewEngine creates an engine with one empty, unlabeled cluster.
func NewEngine(cfg Config, logger *zap.Logger) (*Engine, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("behavior: dimension must be positive, got %d", cfg.Dimension)
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{cfg: cfg, nextID: 1, logger: logger}
	e.clusters = append(e.clusters, newCluster(e.nextID, cfg.Dimension))
	e.nextID++
	return e, nil
}

// Classify assigns point to its nearest cluster, updating the cluster set
// (outlier-driven creation, dispersion-driven split, relabeling) as a side
// effect, and returns the label of the cluster the point was matched to.
//
// The dispersion check runs against the nearest cluster even on ticks where
// the point was rejected as an outlier and merged into nothing.
func (e *Engine) Classify(point []float64) (Label, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(point) != e.cfg.Dimension {
		return LabelUnset, fmt.Errorf("%w: engine dimension %d, point dimension %d",
			ErrDimensionMismatch, e.cfg.Dimension, len(point))
	}

	// Nearest cluster by Euclidean distance, first minimal wins.
	assigned := e.clusters[0]
	minDist := assigned.DistanceTo(point)
	for _, c := range e.clusters[1:] {
		if d := c.DistanceTo(point); d < minDist {
			minDist = d
			assigned = c
		}
	}

	e.dist.Observe(minDist)

	switch {
	case minDist > e.outlierThreshold() && len(e.clusters) < e.cfg.MaxClusters:
		nc := newCluster(e.nextID, e.cfg.Dimension)
		e.nextID++
		nc.AddPoint(point)
		e.clusters = append(e.clusters, nc)
		e.logger.Debug("spawned cluster for distant point",
			zap.Int("cluster_id", nc.ID),
			zap.Float64("distance", minDist))
	case minDist > e.outlierThreshold():
		// Cap reached: the point mutates nothing.
		e.logger.Debug("point rejected as outlier", zap.Float64("distance", minDist))
	default:
		assigned.AddPoint(point)
	}

	if assigned.TotalVariance() > e.dispersionThreshold() && len(e.clusters) < e.cfg.MaxClusters {
		e.split(assigned)
	}

	e.updateLabels()
	return assigned.Label, nil
}

// outlierThreshold is mean + sigma*stddev over the distance stream, or +Inf
// before two observations exist (cold-start guard: the first two points can
// never spawn a cluster).
func (e *Engine) outlierThreshold() float64 {
	if e.dist.Count() <= 1 {
		return math.Inf(1)
	}
	return e.dist.Mean() + e.cfg.OutlierSigma*e.dist.StdDev()
}

// dispersionThreshold uses the same formula but defaults to 1.0 at cold
// start: a cluster always needs some dispersion ceiling.
func (e *Engine) dispersionThreshold() float64 {
	if e.dist.Count() <= 1 {
		return 1.0
	}
	return e.dist.Mean() + e.cfg.OutlierSigma*e.dist.StdDev()
}

// split replaces parent with two empty clusters whose centroids are offset
// by ±0.5×variance along the dimension of maximal variance. Both child
// centroids are clamped non-negative in every dimension.
func (e *Engine) split(parent *Cluster) {
	dim := floats.MaxIdx(parent.Variance)
	spread := 0.5 * parent.Variance[dim]

	lo := newCluster(e.nextID, e.cfg.Dimension)
	hi := newCluster(e.nextID+1, e.cfg.Dimension)
	e.nextID += 2

	copy(lo.Mean, parent.Mean)
	copy(hi.Mean, parent.Mean)
	lo.Mean[dim] = parent.Mean[dim] - spread
	hi.Mean[dim] = parent.Mean[dim] + spread
	for i := range lo.Mean {
		lo.Mean[i] = math.Max(0, lo.Mean[i])
		hi.Mean[i] = math.Max(0, hi.Mean[i])
	}

	kept := e.clusters[:0]
	for _, c := range e.clusters {
		if c != parent {
			kept = append(kept, c)
		}
	}
	e.clusters = append(kept, lo, hi)

	e.logger.Debug("split cluster",
		zap.Int("parent_id", parent.ID),
		zap.Int("low_id", lo.ID),
		zap.Int("high_id", hi.ID),
		zap.Int("dimension", dim))
}

// updateLabels reassigns labels from the centroid norms. With one cluster
// everything is normal; with two, the smaller norm is cautious and the other
// aggressive; with three or more, argmin is cautious, argmax aggressive and
// the rest normal.
func (e *Engine) updateLabels() {
	switch len(e.clusters) {
	case 1:
		e.clusters[0].Label = LabelNormal
	case 2:
		a, b := e.clusters[0], e.clusters[1]
		if a.Norm() < b.Norm() {
			a.Label, b.Label = LabelCautious, LabelAggressive
		} else {
			a.Label, b.Label = LabelAggressive, LabelCautious
		}
	default:
		minIdx, maxIdx := 0, 0
		minNorm, maxNorm := e.clusters[0].Norm(), e.clusters[0].Norm()
		for i, c := range e.clusters[1:] {
			n := c.Norm()
			if n < minNorm {
				minNorm, minIdx = n, i+1
			}
			if n > maxNorm {
				maxNorm, maxIdx = n, i+1
			}
		}
		for i, c := range e.clusters {
			switch i {
			case minIdx:
				c.Label = LabelCautious
			case maxIdx:
				c.Label = LabelAggressive
			default:
				c.Label = LabelNormal
			}
		}
	}
}

// ClusterCount reports the current size of the cluster set.
func (e *Engine) ClusterCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.clusters)
}

// ClusterView is a read-only copy of one cluster's state.
type ClusterView struct {
	ID       int       `json:"id"`
	Count    int       `json:"count"`
	Mean     []float64 `json:"mean"`
	Variance []float64 `json:"variance"`
	Label    Label     `json:"label"`
}

// Snapshot copies the cluster set for inspection endpoints.
func (e *Engine) Snapshot() []ClusterView {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ClusterView, len(e.clusters))
	for i, c := range e.clusters {
		out[i] = ClusterView{
			ID:       c.ID,
			Count:    c.Count,
			Mean:     append([]float64(nil), c.Mean...),
			Variance: append([]float64(nil), c.Variance...),
			Label:    c.Label,
		}
	}
	return out
}
