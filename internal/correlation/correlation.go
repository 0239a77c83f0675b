// Package correlation measures pairwise linear relationships between stats.
package correlation

import (
	"encoding/json"
	"math"

	"github.com/montanaflynn/stats"

	"github.com/lawnchairsociety/balancelab/internal/dataset"
	"github.com/lawnchairsociety/balancelab/internal/logger"
)

// Strength bands |r|.
type Strength string

const (
	None     Strength = "none"
	Weak     Strength = "weak"
	Moderate Strength = "moderate"
	Strong   Strength = "strong"
)

// Direction is the sign of r.
type Direction string

const (
	Positive  Direction = "positive"
	Negative  Direction = "negative"
	Unrelated Direction = "none"
)

// minAligned is the fewest aligned values r is computed from.
const minAligned = 2

// Band thresholds on |r|, lower bounds inclusive.
const (
	WeakThreshold     = 0.1
	ModerateThreshold = 0.3
	StrongThreshold   = 0.7
)

// Result is the correlation of one unordered stat pair. Correlation is NaN
// when the pair is degenerate; it marshals to JSON null.
type Result struct {
	Stat1       string    `json:"stat1"`
	Stat2       string    `json:"stat2"`
	Correlation float64   `json:"correlation"`
	Strength    Strength  `json:"strength"`
	Direction   Direction `json:"direction"`
	SampleSize  int       `json:"sampleSize"`
	Degenerate  bool      `json:"degenerate"`
}

// MarshalJSON writes a NaN correlation as null.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	out := struct {
		plain
		Correlation *float64 `json:"correlation"`
	}{plain: plain(r)}
	if !math.IsNaN(r.Correlation) {
		c := r.Correlation
		out.Correlation = &c
	}
	return json.Marshal(out)
}

// Classify bands |r|: none below 0.1, weak below 0.3, moderate below 0.7,
// strong otherwise. NaN is none.
func Classify(r float64) Strength {
	a := math.Abs(r)
	switch {
	case math.IsNaN(r) || a < WeakThreshold:
		return None
	case a < ModerateThreshold:
		return Weak
	case a < StrongThreshold:
		return Moderate
	default:
		return Strong
	}
}

// AnalyzeCorrelations computes Pearson's r for every unordered pair of keys,
// in key order, over the records that carry both stats. Pairs with fewer
// than two aligned values or with a constant column are reported degenerate.
func AnalyzeCorrelations(records []dataset.Record, keys []string) []Result {
	results := make([]Result, 0, len(keys)*(len(keys)-1)/2)
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			results = append(results, pair(records, keys[i], keys[j]))
		}
	}
	logger.Debug("Correlations analyzed", "records", len(records), "keys", len(keys), "pairs", len(results))
	return results
}

func pair(records []dataset.Record, k1, k2 string) Result {
	xs, ys := dataset.Aligned(records, k1, k2)
	res := Result{Stat1: k1, Stat2: k2, SampleSize: len(xs), Correlation: math.NaN(), Strength: None, Direction: Unrelated}
	if len(xs) < minAligned || constant(xs) || constant(ys) {
		res.Degenerate = true
		return res
	}

	r, err := stats.Pearson(xs, ys)
	if err != nil || math.IsNaN(r) {
		res.Degenerate = true
		return res
	}
	r = math.Max(-1, math.Min(1, r))
	res.Correlation = r
	res.Strength = Classify(r)
	switch {
	case res.Strength == None:
		res.Direction = Unrelated
	case r > 0:
		res.Direction = Positive
	default:
		res.Direction = Negative
	}
	return res
}

func constant(vs []float64) bool {
	for _, v := range vs[1:] {
		if v != vs[0] {
			return false
		}
	}
	return true
}
