// Package montecarlo aggregates many repeated battles between two fixed units.
package montecarlo

import (
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"

	"github.com/lawnchairsociety/balancelab/internal/combat"
	"github.com/lawnchairsociety/balancelab/internal/logger"
	"github.com/lawnchairsociety/balancelab/internal/rng"
	"github.com/lawnchairsociety/balancelab/internal/validation"
)

const (
	DefaultSampleBattles = 10
	DefaultHistogramBins = 20

	// z-score of the two-sided 95% normal interval.
	z95 = 1.96
)

// ProgressFunc receives completion percentages in [0,100], non-decreasing.
type ProgressFunc func(percent float64)

// Options controls a Monte Carlo run.
type Options struct {
	Runs   int
	Config combat.BattleConfig

	// SaveSampleBattles is the number of full battle logs kept. Zero means
	// DefaultSampleBattles; negative keeps none.
	SaveSampleBattles int
	OnProgress        ProgressFunc

	// Seed fixes the base of every per-run stream. Zero draws a fresh seed.
	Seed int64

	// Workers bounds parallelism. Zero means GOMAXPROCS.
	Workers int

	// HistogramBins is the bin count of every histogram. Zero means DefaultHistogramBins.
	HistogramBins int
}

// ConfidenceInterval bounds a proportion.
type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Bin is one histogram bucket covering [Lower, Upper); the last bin also
// includes Upper.
type Bin struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int     `json:"count"`
}

// Histogram is a fixed-bin distribution with reported boundaries.
type Histogram struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Bins []Bin   `json:"bins"`
}

// Result is the aggregate of many repeated fights between two fixed units.
type Result struct {
	Unit1 string `json:"unit1"`
	Unit2 string `json:"unit2"`

	TotalRuns int `json:"totalRuns"`
	Unit1Wins int `json:"unit1Wins"`
	Unit2Wins int `json:"unit2Wins"`
	Draws     int `json:"draws"`

	Unit1WinRate float64            `json:"unit1WinRate"`
	Unit2WinRate float64            `json:"unit2WinRate"`
	DrawRate     float64            `json:"drawRate"`
	Unit1CI      ConfidenceInterval `json:"unit1Ci"`
	Unit2CI      ConfidenceInterval `json:"unit2Ci"`

	AvgDuration       float64   `json:"avgDuration"`
	MinDuration       float64   `json:"minDuration"`
	MaxDuration       float64   `json:"maxDuration"`
	MedianDuration    float64   `json:"medianDuration"`
	DurationHistogram Histogram `json:"durationHistogram"`

	Unit1DamageHistogram Histogram `json:"unit1DamageHistogram"`
	Unit2DamageHistogram Histogram `json:"unit2DamageHistogram"`

	Unit1AvgDPS         float64 `json:"unit1AvgDps"`
	Unit2AvgDPS         float64 `json:"unit2AvgDps"`
	Unit1AvgTTK         float64 `json:"unit1AvgTtk"`
	Unit2AvgTTK         float64 `json:"unit2AvgTtk"`
	Unit1TheoreticalDPS float64 `json:"unit1TheoreticalDps"`
	Unit2TheoreticalDPS float64 `json:"unit2TheoreticalDps"`

	SampleBattles []combat.Outcome `json:"sampleBattles,omitempty"`
	Seed          int64            `json:"seed"`
}

// run is the compact per-battle record kept until aggregation.
type run struct {
	winner   combat.Side
	duration float64
	damageA  float64
	damageB  float64
}

// Run executes opts.Runs independent battles between a and b and aggregates
// them. Run i always draws from rng.Derive(seed, i), so a fixed seed gives
// the same result for any worker count.
func Run(a, b combat.UnitStats, opts Options) (*Result, error) {
	if opts.Runs <= 0 {
		return nil, validation.Errorf("runs must be positive, got %d", opts.Runs)
	}
	na, err := a.Normalize()
	if err != nil {
		return nil, err
	}
	nb, err := b.Normalize()
	if err != nil {
		return nil, err
	}
	cfg, err := opts.Config.Normalize()
	if err != nil {
		return nil, err
	}
	opts = withDefaults(opts)
	seed := rng.Resolve(opts.Seed)

	silent := cfg
	silent.Silent = true

	runs := make([]run, opts.Runs)
	progress := newProgress(opts.Runs, opts.OnProgress)

	workers := opts.Workers
	if workers > opts.Runs {
		workers = opts.Runs
	}
	chunkSize := opts.Runs / workers

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		lo := w * chunkSize
		hi := lo + chunkSize
		if w == workers-1 {
			hi = opts.Runs
		}
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				out, err := combat.ResolveBattle(na, nb, silent, rng.New(rng.Derive(seed, i)))
				if err != nil {
					return err
				}
				runs[i] = run{winner: out.Winner, duration: out.Duration, damageA: out.TotalDamageA, damageB: out.TotalDamageB}
				progress.step()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := aggregate(runs, opts.HistogramBins)
	res.Unit1 = na.Label()
	res.Unit2 = nb.Label()
	res.Seed = seed
	res.Unit1TheoreticalDPS = combat.TheoreticalDPS(na, nb, cfg)
	res.Unit2TheoreticalDPS = combat.TheoreticalDPS(nb, na, cfg)

	for _, i := range sampleIndices(opts.Runs, opts.SaveSampleBattles) {
		s := rng.Derive(seed, i)
		out, err := combat.ResolveBattle(na, nb, cfg, rng.New(s))
		if err != nil {
			return nil, err
		}
		out.Seed = s
		res.SampleBattles = append(res.SampleBattles, out)
	}

	progress.finish()
	logger.Debug("Monte Carlo run complete",
		"unit1", res.Unit1, "unit2", res.Unit2, "runs", res.TotalRuns,
		"unit1_win_rate", res.Unit1WinRate, "draws", res.Draws, "seed", seed)
	return res, nil
}

func withDefaults(opts Options) Options {
	if opts.SaveSampleBattles == 0 {
		opts.SaveSampleBattles = DefaultSampleBattles
	}
	if opts.HistogramBins <= 0 {
		opts.HistogramBins = DefaultHistogramBins
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	return opts
}

// aggregate folds the per-run records in index order.
func aggregate(runs []run, bins int) *Result {
	n := len(runs)
	res := &Result{TotalRuns: n}

	durations := make([]float64, n)
	damageA := make([]float64, n)
	damageB := make([]float64, n)
	var totalTime, totalDmgA, totalDmgB, wonTimeA, wonTimeB float64

	for i, r := range runs {
		durations[i] = r.duration
		damageA[i] = r.damageA
		damageB[i] = r.damageB
		totalTime += r.duration
		totalDmgA += r.damageA
		totalDmgB += r.damageB

		switch r.winner {
		case combat.SideA:
			res.Unit1Wins++
			wonTimeA += r.duration
		case combat.SideB:
			res.Unit2Wins++
			wonTimeB += r.duration
		default:
			res.Draws++
		}
	}

	res.Unit1WinRate = float64(res.Unit1Wins) / float64(n)
	res.Unit2WinRate = float64(res.Unit2Wins) / float64(n)
	res.DrawRate = float64(res.Draws) / float64(n)
	res.Unit1CI = ConfidenceInterval95(res.Unit1Wins, n)
	res.Unit2CI = ConfidenceInterval95(res.Unit2Wins, n)

	res.AvgDuration = totalTime / float64(n)
	res.MinDuration, _ = stats.Min(durations)
	res.MaxDuration, _ = stats.Max(durations)
	res.MedianDuration, _ = stats.Median(durations)
	res.DurationHistogram = BuildHistogram(durations, bins)
	res.Unit1DamageHistogram = BuildHistogram(damageA, bins)
	res.Unit2DamageHistogram = BuildHistogram(damageB, bins)

	if totalTime > 0 {
		res.Unit1AvgDPS = totalDmgA / totalTime
		res.Unit2AvgDPS = totalDmgB / totalTime
	}
	if res.Unit1Wins > 0 {
		res.Unit1AvgTTK = wonTimeA / float64(res.Unit1Wins)
	}
	if res.Unit2Wins > 0 {
		res.Unit2AvgTTK = wonTimeB / float64(res.Unit2Wins)
	}
	return res
}

// ConfidenceInterval95 is the normal approximation to the binomial
// proportion interval, p ± 1.96·sqrt(p(1-p)/n), clamped to [0,1].
func ConfidenceInterval95(successes, n int) ConfidenceInterval {
	if n <= 0 {
		return ConfidenceInterval{}
	}
	p := float64(successes) / float64(n)
	margin := z95 * math.Sqrt(p*(1-p)/float64(n))
	return ConfidenceInterval{
		Lower: math.Max(0, p-margin),
		Upper: math.Min(1, p+margin),
	}
}

// BuildHistogram bins values into a fixed number of equal-width bins spanning
// the observed range. A zero-width range collapses into a single bin.
func BuildHistogram(values []float64, bins int) Histogram {
	if len(values) == 0 || bins <= 0 {
		return Histogram{}
	}
	lo, _ := stats.Min(values)
	hi, _ := stats.Max(values)
	h := Histogram{Min: lo, Max: hi}

	if hi == lo {
		h.Bins = []Bin{{Lower: lo, Upper: hi, Count: len(values)}}
		return h
	}

	width := (hi - lo) / float64(bins)
	h.Bins = make([]Bin, bins)
	for i := range h.Bins {
		h.Bins[i].Lower = lo + float64(i)*width
		h.Bins[i].Upper = lo + float64(i+1)*width
	}
	h.Bins[bins-1].Upper = hi

	for _, v := range values {
		idx := int((v - lo) / width)
		if idx >= bins {
			idx = bins - 1
		}
		if idx < 0 {
			idx = 0
		}
		h.Bins[idx].Count++
	}
	return h
}

// sampleIndices picks up to k evenly spaced run indices out of n.
func sampleIndices(n, k int) []int {
	if k <= 0 {
		return nil
	}
	if k > n {
		k = n
	}
	idx := make([]int, k)
	for j := range idx {
		idx[j] = j * n / k
	}
	return idx
}

// progress reports completion from worker goroutines. Reports are serialized
// and never go backwards; the callback never sees aggregation state.
type progress struct {
	total    int64
	every    int64
	done     atomic.Int64
	mu       sync.Mutex
	last     float64
	callback ProgressFunc
}

func newProgress(total int, cb ProgressFunc) *progress {
	every := int64(total / 100)
	if every < 1 {
		every = 1
	}
	return &progress{total: int64(total), every: every, last: -1, callback: cb}
}

func (p *progress) step() {
	n := p.done.Add(1)
	// 100 is left to finish, after sample battles are recorded.
	if p.callback == nil || n%p.every != 0 || n >= p.total {
		return
	}
	p.report(float64(n) / float64(p.total) * 100)
}

func (p *progress) finish() {
	if p.callback != nil {
		p.report(100)
	}
}

func (p *progress) report(pct float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pct <= p.last {
		return
	}
	p.last = pct
	p.callback(pct)
}
