// Package matchup builds roster-wide win-rate matrices and diagnoses them for
// accidental imbalance and deliberate counter cycles.
package matchup

import (
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lawnchairsociety/balancelab/internal/combat"
	"github.com/lawnchairsociety/balancelab/internal/logger"
	"github.com/lawnchairsociety/balancelab/internal/montecarlo"
	"github.com/lawnchairsociety/balancelab/internal/rng"
	"github.com/lawnchairsociety/balancelab/internal/validation"
)

// SelfMatchup is the placeholder stored on the matrix diagonal.
const SelfMatchup = 0.5

// Matrix is a win-rate grid over a roster. WinRates[i][j] is the probability
// that Units[i] beats Units[j]; DrawRates[i][j] is the draw probability of
// the same pairing.
type Matrix struct {
	Units     []string    `json:"units"`
	WinRates  [][]float64 `json:"winRates"`
	DrawRates [][]float64 `json:"drawRates"`
	Seed      int64       `json:"seed"`
}

// Size returns the roster size.
func (m *Matrix) Size() int {
	return len(m.Units)
}

// MatrixOptions controls BuildMatrix.
type MatrixOptions struct {
	Config     combat.BattleConfig
	Seed       int64
	Workers    int
	OnProgress montecarlo.ProgressFunc
}

// NewMatrix returns a matrix with the diagonal placeholders filled in and
// every off-diagonal entry zero.
func NewMatrix(units []string) *Matrix {
	n := len(units)
	m := &Matrix{
		Units:     append([]string(nil), units...),
		WinRates:  make([][]float64, n),
		DrawRates: make([][]float64, n),
	}
	for i := 0; i < n; i++ {
		m.WinRates[i] = make([]float64, n)
		m.DrawRates[i] = make([]float64, n)
		m.WinRates[i][i] = SelfMatchup
	}
	return m
}

// BuildMatrix runs the Monte Carlo aggregator once per ordered pair (i, j),
// i != j, with runsPerMatch battles each. Pairs run in parallel; every pair
// draws from its own seed so the matrix is reproducible for a fixed seed.
func BuildMatrix(units []combat.UnitStats, runsPerMatch int, opts MatrixOptions) (*Matrix, error) {
	if len(units) == 0 {
		return nil, validation.Errorf("roster is empty")
	}
	if runsPerMatch <= 0 {
		return nil, validation.Errorf("runs per match must be positive, got %d", runsPerMatch)
	}
	roster := make([]combat.UnitStats, len(units))
	names := make([]string, len(units))
	for i, u := range units {
		nu, err := u.Normalize()
		if err != nil {
			return nil, err
		}
		roster[i] = nu
		names[i] = nu.Label()
	}
	if _, err := opts.Config.Normalize(); err != nil {
		return nil, err
	}

	seed := rng.Resolve(opts.Seed)
	m := NewMatrix(names)
	m.Seed = seed

	n := len(roster)
	totalPairs := n * (n - 1)
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	var mu sync.Mutex
	finished := 0

	var g errgroup.Group
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			g.Go(func() error {
				res, err := montecarlo.Run(roster[i], roster[j], montecarlo.Options{
					Runs:              runsPerMatch,
					Config:            opts.Config,
					Seed:              rng.Derive2(seed, i, j),
					Workers:           1,
					SaveSampleBattles: -1,
				})
				if err != nil {
					return err
				}

				mu.Lock()
				defer mu.Unlock()
				m.WinRates[i][j] = res.Unit1WinRate
				m.DrawRates[i][j] = res.DrawRate
				finished++
				if opts.OnProgress != nil {
					opts.OnProgress(float64(finished) / float64(totalPairs) * 100)
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if totalPairs == 0 && opts.OnProgress != nil {
		opts.OnProgress(100)
	}

	logger.Debug("Matchup matrix built", "units", n, "runs_per_match", runsPerMatch, "seed", seed)
	return m, nil
}
