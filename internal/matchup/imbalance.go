package matchup

import (
	"fmt"
	"math"
	"sort"

	"github.com/lawnchairsociety/balancelab/internal/validation"
)

// ImbalanceOptions calibrates AnalyzePerfectImbalance. Zero thresholds and
// limits take the defaults. A nil CycleMargin takes the default; an explicit 0
// counts any win rate above 0.5 as a counter edge.
type ImbalanceOptions struct {
	DominantThreshold float64  `yaml:"dominant_threshold" json:"dominantThreshold"`
	WeakThreshold     float64  `yaml:"weak_threshold" json:"weakThreshold"`
	CycleMargin       *float64 `yaml:"cycle_margin,omitempty" json:"cycleMargin,omitempty"`
	MaxCycleLength    int     `yaml:"max_cycle_length" json:"maxCycleLength"`
	MaxCycles         int     `yaml:"max_cycles" json:"maxCycles"`
}

// DefaultCycleMargin is how far above 0.5 a win rate must be to count as a
// counter edge.
const DefaultCycleMargin = 0.1

// Margin returns a cycle margin for ImbalanceOptions.
func Margin(v float64) *float64 {
	return &v
}

// DefaultImbalanceOptions returns the default thresholds.
func DefaultImbalanceOptions() ImbalanceOptions {
	return ImbalanceOptions{
		DominantThreshold: 0.65,
		WeakThreshold:     0.35,
		CycleMargin:       Margin(DefaultCycleMargin),
		MaxCycleLength:    5,
		MaxCycles:         5,
	}
}

func (o ImbalanceOptions) withDefaults() ImbalanceOptions {
	def := DefaultImbalanceOptions()
	if o.DominantThreshold <= 0 {
		o.DominantThreshold = def.DominantThreshold
	}
	if o.WeakThreshold <= 0 {
		o.WeakThreshold = def.WeakThreshold
	}
	if o.CycleMargin == nil || *o.CycleMargin < 0 || !validation.Finite(*o.CycleMargin) {
		o.CycleMargin = def.CycleMargin
	}
	if o.MaxCycleLength < 3 {
		o.MaxCycleLength = def.MaxCycleLength
	}
	if o.MaxCycles <= 0 {
		o.MaxCycles = def.MaxCycles
	}
	return o
}

// ImbalanceResult is the diagnosis of a matchup matrix.
type ImbalanceResult struct {
	BalanceScore    float64            `json:"balanceScore"`
	DominantUnits   []string           `json:"dominantUnits"`
	WeakUnits       []string           `json:"weakUnits"`
	Cycles          [][]string         `json:"cycles"`
	AverageWinRates map[string]float64 `json:"averageWinRates"`
	Notes           []string           `json:"notes,omitempty"`
}

// AnalyzePerfectImbalance scores how far the matrix sits from even matchups,
// flags units whose average win rate is extreme, and reports counter cycles
// of length three or more.
//
// The score is 100·(1 − 2·MAD), where MAD is the mean absolute deviation of
// the off-diagonal win rates from 0.5, so a matrix of coin flips scores 100
// and a matrix of certain outcomes scores 0.
func AnalyzePerfectImbalance(m *Matrix, opts ImbalanceOptions) ImbalanceResult {
	opts = opts.withDefaults()
	res := ImbalanceResult{
		BalanceScore:    100,
		DominantUnits:   []string{},
		WeakUnits:       []string{},
		Cycles:          [][]string{},
		AverageWinRates: map[string]float64{},
	}
	if m == nil || m.Size() < 2 {
		res.Notes = append(res.Notes, "At least two units are needed to compare matchups.")
		return res
	}

	n := m.Size()
	var deviation float64
	for i := 0; i < n; i++ {
		var sum float64
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			sum += m.WinRates[i][j]
			deviation += math.Abs(m.WinRates[i][j] - 0.5)
		}
		avg := sum / float64(n-1)
		res.AverageWinRates[m.Units[i]] = avg
		switch {
		case avg > opts.DominantThreshold:
			res.DominantUnits = append(res.DominantUnits, m.Units[i])
		case avg < opts.WeakThreshold:
			res.WeakUnits = append(res.WeakUnits, m.Units[i])
		}
	}

	mad := deviation / float64(n*(n-1))
	res.BalanceScore = math.Max(0, math.Min(100, 100*(1-2*mad)))

	for _, cycle := range findCycles(m, opts) {
		names := make([]string, len(cycle))
		for k, idx := range cycle {
			names[k] = m.Units[idx]
		}
		res.Cycles = append(res.Cycles, names)
	}

	for _, u := range res.DominantUnits {
		res.Notes = append(res.Notes, fmt.Sprintf("%s wins %.0f%% of its matchups on average; consider toning it down.", u, res.AverageWinRates[u]*100))
	}
	for _, u := range res.WeakUnits {
		res.Notes = append(res.Notes, fmt.Sprintf("%s wins only %.0f%% of its matchups on average; consider a buff or a niche.", u, res.AverageWinRates[u]*100))
	}
	if len(res.Cycles) > 0 {
		res.Notes = append(res.Notes, fmt.Sprintf("%d counter cycle(s) found; these are intentional rock-paper-scissors relations if designed.", len(res.Cycles)))
	}
	return res
}

// findCycles returns chordless directed cycles of length 3..MaxCycleLength
// over edges i→j with WinRates[i][j] > 0.5+margin. Shorter cycles come
// first; each cycle starts at its lowest index, so no cycle is reported
// twice. Search stops after MaxCycles cycles.
func findCycles(m *Matrix, opts ImbalanceOptions) [][]int {
	n := m.Size()
	threshold := 0.5 + *opts.CycleMargin
	beats := make([][]bool, n)
	for i := range beats {
		beats[i] = make([]bool, n)
		for j := range beats[i] {
			beats[i][j] = i != j && m.WinRates[i][j] > threshold
		}
	}

	var cycles [][]int
	path := make([]int, 0, opts.MaxCycleLength)
	onPath := make([]bool, n)

	var walk func(start, length int) bool
	walk = func(start, length int) bool {
		last := path[len(path)-1]
		if len(path) == length {
			if beats[last][start] && chordless(path, beats) {
				cycles = append(cycles, append([]int(nil), path...))
				return len(cycles) >= opts.MaxCycles
			}
			return false
		}
		for next := start + 1; next < n; next++ {
			if onPath[next] || !beats[last][next] {
				continue
			}
			path = append(path, next)
			onPath[next] = true
			done := walk(start, length)
			onPath[next] = false
			path = path[:len(path)-1]
			if done {
				return true
			}
		}
		return false
	}

	for length := 3; length <= opts.MaxCycleLength && length <= n; length++ {
		for start := 0; start < n; start++ {
			path = append(path[:0], start)
			onPath[start] = true
			done := walk(start, length)
			onPath[start] = false
			if done {
				return cycles
			}
		}
	}
	return cycles
}

// chordless reports whether the closed walk over path has no edge between
// non-consecutive members, meaning no shorter cycle hides inside it.
func chordless(path []int, beats [][]bool) bool {
	k := len(path)
	for a := 0; a < k; a++ {
		for b := 0; b < k; b++ {
			if a == b || b == (a+1)%k {
				continue
			}
			if beats[path[a]][path[b]] {
				return false
			}
		}
	}
	return true
}

// Ranking returns unit names ordered by average win rate, strongest first.
func (r ImbalanceResult) Ranking() []string {
	names := make([]string, 0, len(r.AverageWinRates))
	for name := range r.AverageWinRates {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if r.AverageWinRates[names[i]] != r.AverageWinRates[names[j]] {
			return r.AverageWinRates[names[i]] > r.AverageWinRates[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}
