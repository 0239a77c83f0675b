// Package deadzone finds stat ranges that a roster leaves unused or crowds.
package deadzone

import (
	"fmt"
	"math"
	"sort"

	"github.com/lawnchairsociety/balancelab/internal/dataset"
	"github.com/lawnchairsociety/balancelab/internal/logger"
)

// Kind classifies an issue.
type Kind string

const (
	Gap     Kind = "gap"
	Cluster Kind = "cluster"
	Uniform Kind = "uniform"
)

const (
	DefaultGapFactor     = 3.0
	DefaultClusterFactor = 2.5

	minValues      = 3
	minBins        = 3
	minClusterSize = 3
)

// Options calibrates DetectDeadZones. Zero fields take the defaults.
type Options struct {
	GapFactor     float64 `yaml:"gap_factor" json:"gapFactor"`
	ClusterFactor float64 `yaml:"cluster_factor" json:"clusterFactor"`
}

// Issue is one flagged range of a stat. For gaps Lower and Upper are the
// values on either side of the unused band and Count is zero.
type Issue struct {
	StatKey string  `json:"statKey"`
	Kind    Kind    `json:"kind"`
	Lower   float64 `json:"lower"`
	Upper   float64 `json:"upper"`
	Count   int     `json:"count"`
	Reason  string  `json:"reason"`
}

// DetectDeadZones inspects one stat across records. Gaps are consecutive
// sorted values further apart than GapFactor times the average spacing.
// Clusters are histogram bins, ceil(sqrt(n)) of them and at least three,
// holding at least three values and more than ClusterFactor times the
// per-bin count a uniform spread would give. A stat on which every record
// agrees is reported once as uniform.
func DetectDeadZones(records []dataset.Record, statKey string, opts Options) []Issue {
	if opts.GapFactor <= 0 {
		opts.GapFactor = DefaultGapFactor
	}
	if opts.ClusterFactor <= 0 {
		opts.ClusterFactor = DefaultClusterFactor
	}

	values := dataset.Column(records, statKey)
	issues := []Issue{}
	n := len(values)
	if n < minValues {
		return issues
	}
	sort.Float64s(values)
	lo, hi := values[0], values[n-1]

	if lo == hi {
		return append(issues, Issue{
			StatKey: statKey,
			Kind:    Uniform,
			Lower:   lo,
			Upper:   hi,
			Count:   n,
			Reason:  fmt.Sprintf("All %d units share %s = %s; the stat does not differentiate them.", n, statKey, num(lo)),
		})
	}

	avgGap := (hi - lo) / float64(n-1)
	for i := 1; i < n; i++ {
		gap := values[i] - values[i-1]
		if gap > opts.GapFactor*avgGap {
			issues = append(issues, Issue{
				StatKey: statKey,
				Kind:    Gap,
				Lower:   values[i-1],
				Upper:   values[i],
				Reason: fmt.Sprintf("No unit has %s between %s and %s (gap %.1fx the average spacing).",
					statKey, num(values[i-1]), num(values[i]), gap/avgGap),
			})
		}
	}

	bins := int(math.Ceil(math.Sqrt(float64(n))))
	if bins < minBins {
		bins = minBins
	}
	width := (hi - lo) / float64(bins)
	counts := make([]int, bins)
	for _, v := range values {
		idx := int((v - lo) / width)
		if idx >= bins {
			idx = bins - 1
		}
		counts[idx]++
	}
	expected := float64(n) / float64(bins)
	for i, c := range counts {
		if c >= minClusterSize && float64(c) > opts.ClusterFactor*expected {
			lower := lo + float64(i)*width
			upper := lower + width
			if i == bins-1 {
				upper = hi
			}
			issues = append(issues, Issue{
				StatKey: statKey,
				Kind:    Cluster,
				Lower:   lower,
				Upper:   upper,
				Count:   c,
				Reason: fmt.Sprintf("%d of %d units have %s in [%s, %s]; expected about %.1f.",
					c, n, statKey, num(lower), num(upper), expected),
			})
		}
	}

	if len(issues) > 0 {
		logger.Debug("Dead zones detected", "stat", statKey, "values", n, "issues", len(issues))
	}
	return issues
}

func num(v float64) string {
	return fmt.Sprintf("%.4g", v)
}
