// Package curve fits level→power progression data to candidate growth models
// and points out where a progression strays from its best fit.
package curve

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"

	"github.com/lawnchairsociety/balancelab/internal/logger"
	"github.com/lawnchairsociety/balancelab/internal/validation"
)

// CurveType names a candidate model.
type CurveType string

const (
	Linear      CurveType = "linear"
	Exponential CurveType = "exponential"
	Logarithmic CurveType = "logarithmic"
	Unknown     CurveType = "unknown"
)

// DefaultOutlierThreshold is the residual spread multiple beyond which a
// sample counts as an outlier.
const DefaultOutlierThreshold = 2.0

// weakFitR2 is the R² below which no model is considered a good description.
const weakFitR2 = 0.8

// Sample is one observed (level, power) point.
type Sample struct {
	Level float64 `yaml:"level" json:"level"`
	Power float64 `yaml:"power" json:"power"`
}

// Options controls AnalyzePowerCurve.
type Options struct {
	OutlierThreshold float64 `yaml:"outlier_threshold" json:"outlierThreshold"`
}

// Fit is one candidate model. Linear and logarithmic fits are
// power = A·x + B with x = level or ln(level); exponential is power = A·e^(B·level).
type Fit struct {
	CurveType CurveType `json:"curveType"`
	A         float64   `json:"a"`
	B         float64   `json:"b"`
	R2        float64   `json:"r2"`
	Formula   string    `json:"formula"`
}

// Predict evaluates the fitted model at level.
func (f Fit) Predict(level float64) float64 {
	switch f.CurveType {
	case Exponential:
		return f.A * math.Exp(f.B*level)
	case Logarithmic:
		return f.A*math.Log(level) + f.B
	default:
		return f.A*level + f.B
	}
}

// Outlier is a sample far from the chosen curve. Deviation is actual − expected.
type Outlier struct {
	Level     float64 `json:"level"`
	Actual    float64 `json:"actual"`
	Expected  float64 `json:"expected"`
	Deviation float64 `json:"deviation"`
}

// Analysis is the result of AnalyzePowerCurve.
type Analysis struct {
	CurveType       CurveType `json:"curveType"`
	R2              float64   `json:"r2"`
	Formula         string    `json:"formula"`
	Outliers        []Outlier `json:"outliers"`
	Recommendations []string  `json:"recommendations"`
	Fits            []Fit     `json:"fits"`
	LowConfidence   bool      `json:"lowConfidence"`
	Reason          string    `json:"reason,omitempty"`
}

// AnalyzePowerCurve fits linear, exponential and logarithmic models by least
// squares and keeps the one with the highest R² measured on the untransformed
// curve. Exponential needs every power positive and logarithmic needs every
// level positive; a candidate whose domain does not hold is skipped.
//
// One sample or fewer is invalid input. Two samples, or samples that all sit
// on the same level, return a result flagged LowConfidence.
func AnalyzePowerCurve(samples []Sample, opts Options) (*Analysis, error) {
	if len(samples) <= 1 {
		return nil, validation.Errorf("power curve needs at least 2 samples, got %d", len(samples))
	}
	for i, s := range samples {
		if !validation.Finite(s.Level) || !validation.Finite(s.Power) {
			return nil, validation.Errorf("sample %d is not finite", i)
		}
	}
	if opts.OutlierThreshold <= 0 {
		opts.OutlierThreshold = DefaultOutlierThreshold
	}

	sorted := append([]Sample(nil), samples...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Level < sorted[j].Level })
	levels := make([]float64, len(sorted))
	powers := make([]float64, len(sorted))
	for i, s := range sorted {
		levels[i] = s.Level
		powers[i] = s.Power
	}

	if sorted[0].Level == sorted[len(sorted)-1].Level {
		mean, _ := stats.Mean(powers)
		return &Analysis{
			CurveType:       Unknown,
			Formula:         fmt.Sprintf("power = %s", num(mean)),
			Outliers:        []Outlier{},
			Recommendations: []string{"Every sample sits on the same level; add samples across more levels to fit a curve."},
			Fits:            []Fit{},
			LowConfidence:   true,
			Reason:          "no variance in level",
		}, nil
	}

	fits := candidates(levels, powers)
	best := fits[0]
	for _, f := range fits[1:] {
		if f.R2 > best.R2 {
			best = f
		}
	}

	a := &Analysis{
		CurveType: best.CurveType,
		R2:        best.R2,
		Formula:   best.Formula,
		Outliers:  findOutliers(sorted, best, opts.OutlierThreshold),
		Fits:      fits,
	}
	if len(sorted) == 2 {
		a.LowConfidence = true
		a.Reason = "two samples always fit exactly"
	}
	a.Recommendations = recommend(a, levels[0], levels[len(levels)-1])

	logger.Debug("Power curve fitted", "samples", len(sorted), "curve", a.CurveType, "r2", a.R2, "outliers", len(a.Outliers))
	return a, nil
}

// candidates returns the feasible fits in linear, exponential, logarithmic order.
func candidates(levels, powers []float64) []Fit {
	fits := make([]Fit, 0, 3)

	slope, intercept := ols(levels, powers)
	fits = append(fits, finish(Fit{CurveType: Linear, A: slope, B: intercept}, levels, powers))

	if all(powers, func(v float64) bool { return v > 0 }) {
		ln := make([]float64, len(powers))
		for i, p := range powers {
			ln[i] = math.Log(p)
		}
		b, lnA := ols(levels, ln)
		fits = append(fits, finish(Fit{CurveType: Exponential, A: math.Exp(lnA), B: b}, levels, powers))
	}

	if all(levels, func(v float64) bool { return v > 0 }) {
		ln := make([]float64, len(levels))
		for i, l := range levels {
			ln[i] = math.Log(l)
		}
		slope, intercept := ols(ln, powers)
		fits = append(fits, finish(Fit{CurveType: Logarithmic, A: slope, B: intercept}, levels, powers))
	}
	return fits
}

func finish(f Fit, levels, powers []float64) Fit {
	f.R2 = rSquared(f, levels, powers)
	switch f.CurveType {
	case Exponential:
		f.Formula = fmt.Sprintf("power = %s × e^(%s × level)", num(f.A), num(f.B))
	case Logarithmic:
		f.Formula = fmt.Sprintf("power = %s × ln(level) %s", num(f.A), signed(f.B))
	default:
		f.Formula = fmt.Sprintf("power = %s × level %s", num(f.A), signed(f.B))
	}
	return f
}

// ols is ordinary least squares y = slope·x + intercept. x must have variance.
func ols(xs, ys []float64) (slope, intercept float64) {
	mx, _ := stats.Mean(xs)
	my, _ := stats.Mean(ys)
	var sxy, sxx float64
	for i := range xs {
		dx := xs[i] - mx
		sxy += dx * (ys[i] - my)
		sxx += dx * dx
	}
	if sxx == 0 {
		return 0, my
	}
	slope = sxy / sxx
	return slope, my - slope*mx
}

// rSquared compares the model against the raw powers, clamped to [0,1].
// Constant powers score 1 when the model reproduces them and 0 otherwise.
func rSquared(f Fit, levels, powers []float64) float64 {
	mean, _ := stats.Mean(powers)
	var ssRes, ssTot float64
	for i, l := range levels {
		d := powers[i] - f.Predict(l)
		ssRes += d * d
		t := powers[i] - mean
		ssTot += t * t
	}
	if math.IsNaN(ssRes) || math.IsInf(ssRes, 0) {
		return 0
	}
	if ssTot == 0 {
		if ssRes < 1e-12 {
			return 1
		}
		return 0
	}
	return math.Max(0, math.Min(1, 1-ssRes/ssTot))
}

// findOutliers flags samples whose residual exceeds threshold times the
// population standard deviation of all residuals.
func findOutliers(samples []Sample, f Fit, threshold float64) []Outlier {
	residuals := make([]float64, len(samples))
	for i, s := range samples {
		residuals[i] = s.Power - f.Predict(s.Level)
	}
	sd, err := stats.StandardDeviationPopulation(residuals)
	out := []Outlier{}
	if err != nil || sd == 0 {
		return out
	}
	for i, s := range samples {
		if math.Abs(residuals[i]) > threshold*sd {
			out = append(out, Outlier{
				Level:     s.Level,
				Actual:    s.Power,
				Expected:  f.Predict(s.Level),
				Deviation: residuals[i],
			})
		}
	}
	return out
}

func recommend(a *Analysis, minLevel, maxLevel float64) []string {
	var recs []string
	switch a.CurveType {
	case Exponential:
		recs = append(recs, "Power grows exponentially; late levels will outscale content quickly. Consider a lower growth rate or soft caps.")
	case Logarithmic:
		recs = append(recs, "Power gains flatten at higher levels; late levels may feel unrewarding. Consider adding late-game power sources.")
	case Linear:
		recs = append(recs, "Power grows linearly; progression is steady and predictable.")
	}
	if a.R2 < weakFitR2 {
		recs = append(recs, fmt.Sprintf("No model fits well (R² %.2f); the progression is irregular and may feel inconsistent.", a.R2))
	}

	third := (maxLevel - minLevel) / 3
	var early, late, mid []string
	for _, o := range a.Outliers {
		label := fmt.Sprintf("%s (%s)", num(o.Level), kind(o))
		switch {
		case o.Level < minLevel+third:
			early = append(early, label)
		case o.Level > maxLevel-third:
			late = append(late, label)
		default:
			mid = append(mid, label)
		}
	}
	if len(early) > 0 {
		recs = append(recs, "Early-game irregularity at level "+strings.Join(early, ", ")+"; new players will notice uneven power jumps.")
	}
	if len(mid) > 0 {
		recs = append(recs, "Mid-game irregularity at level "+strings.Join(mid, ", ")+"; smooth these levels toward the curve.")
	}
	if len(late) > 0 {
		recs = append(recs, "Late-game irregularity at level "+strings.Join(late, ", ")+"; check endgame rewards against the curve.")
	}
	if a.LowConfidence {
		recs = append(recs, "Too few samples for a reliable fit; add more levels.")
	}
	if len(recs) == 0 {
		recs = []string{}
	}
	return recs
}

func kind(o Outlier) string {
	if o.Deviation > 0 {
		return "spike"
	}
	return "dip"
}

func all(vs []float64, pred func(float64) bool) bool {
	for _, v := range vs {
		if !pred(v) {
			return false
		}
	}
	return true
}

func num(v float64) string {
	return fmt.Sprintf("%.4g", v)
}

func signed(v float64) string {
	if v < 0 {
		return "- " + num(-v)
	}
	return "+ " + num(v)
}
