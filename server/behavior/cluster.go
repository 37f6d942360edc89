package behavior

import (
	"gonum.org/v1/gonum/floats"
)

// Label is the live classification a cluster represents.
type Label string

const (
	LabelUnset      Label = ""
	LabelCautious   Label = "cautious"
	LabelNormal     Label = "normal"
	LabelAggressive Label = "aggressive"
)

// Cluster is a labeled centroid with running per-dimension mean and variance.
// Clusters are owned exclusively by the Engine and are replaced, never
// mutated, on a split.
type Cluster struct {
	ID       int
	Count    int
	Mean     []float64
	Variance []float64
	Label    Label
}

func newCluster(id, dimension int) *Cluster {
	return &Cluster{
		ID:       id,
		Mean:     make([]float64, dimension),
		Variance: make([]float64, dimension),
	}
}

// AddPoint merges one point into the centroid using the incremental
// mean/variance recurrence. The first point leaves variance at zero.
func (c *Cluster) AddPoint(point []float64) {
	c.Count++
	n := float64(c.Count)
	for i, x := range point {
		oldMean := c.Mean[i]
		c.Mean[i] = oldMean + (x-oldMean)/n
		if c.Count > 1 {
			c.Variance[i] = ((n-2)*c.Variance[i] + (x-oldMean)*(x-c.Mean[i])) / (n - 1)
		} else {
			c.Variance[i] = 0
		}
	}
}

// Norm is the Euclidean norm of the centroid, used for relabeling.
func (c *Cluster) Norm() float64 {
	return floats.Norm(c.Mean, 2)
}

// TotalVariance sums the per-dimension variances.
func (c *Cluster) TotalVariance() float64 {
	return floats.Sum(c.Variance)
}

// DistanceTo is the Euclidean distance from the centroid to point.
func (c *Cluster) DistanceTo(point []float64) float64 {
	return floats.Distance(c.Mean, point, 2)
}
