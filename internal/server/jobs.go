package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lawnchairsociety/balancelab/internal/combat"
	"github.com/lawnchairsociety/balancelab/internal/config"
	"github.com/lawnchairsociety/balancelab/internal/correlation"
	"github.com/lawnchairsociety/balancelab/internal/curve"
	"github.com/lawnchairsociety/balancelab/internal/dataset"
	"github.com/lawnchairsociety/balancelab/internal/deadzone"
	"github.com/lawnchairsociety/balancelab/internal/economy"
	"github.com/lawnchairsociety/balancelab/internal/matchup"
	"github.com/lawnchairsociety/balancelab/internal/montecarlo"
	"github.com/lawnchairsociety/balancelab/internal/validation"
)

// errLimit marks requests refused by the service limits rather than by the
// engine.
var errLimit = errors.New("request exceeds service limits")

// job is a decoded request payload.
type job interface {
	// applyDefaults fills unset settings from the engine config so that the
	// fingerprint covers the settings actually used.
	applyDefaults(cfg *config.EngineConfig)

	// checkLimits refuses work the service will not do.
	checkLimits(limits config.ServerConfig) error

	// deterministic reports whether equal payloads always give equal results.
	deterministic() bool

	run(cfg *config.EngineConfig, onProgress montecarlo.ProgressFunc) (any, error)
}

var jobKinds = map[string]func() job{
	KindBattle:       func() job { return &battleJob{} },
	KindMonteCarlo:   func() job { return &monteCarloJob{} },
	KindMatrix:       func() job { return &matrixJob{} },
	KindImbalance:    func() job { return &imbalanceJob{} },
	KindCurve:        func() job { return &curveJob{} },
	KindCorrelation:  func() job { return &correlationJob{} },
	KindDeadZones:    func() job { return &deadZonesJob{} },
	KindEconomy:      func() job { return &economyJob{} },
	KindSinglePlayer: func() job { return &singlePlayerJob{} },
}

// decodeJob decodes payload into the job type registered for kind. Unknown
// fields are rejected.
func decodeJob(kind string, payload json.RawMessage) (job, error) {
	newJob, ok := jobKinds[kind]
	if !ok {
		return nil, fmt.Errorf("unknown request kind %q", kind)
	}
	j := newJob()
	if len(bytes.TrimSpace(payload)) == 0 {
		return j, nil
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(j); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", kind, err)
	}
	return j, nil
}

func battleConfig(c *combat.BattleConfig, cfg *config.EngineConfig) *combat.BattleConfig {
	if c != nil {
		return c
	}
	def := cfg.Combat
	return &def
}

func checkRuns(runs int, limits config.ServerConfig) error {
	if limits.MaxRuns > 0 && runs > limits.MaxRuns {
		return fmt.Errorf("%w: %d runs requested, at most %d allowed", errLimit, runs, limits.MaxRuns)
	}
	return nil
}

func checkRoster(n int, limits config.ServerConfig) error {
	if limits.MaxRosterSize > 0 && n > limits.MaxRosterSize {
		return fmt.Errorf("%w: %d units requested, at most %d allowed", errLimit, n, limits.MaxRosterSize)
	}
	return nil
}

type battleJob struct {
	UnitA  combat.UnitStats     `json:"unitA"`
	UnitB  combat.UnitStats     `json:"unitB"`
	Config *combat.BattleConfig `json:"config,omitempty"`
	Seed   int64                `json:"seed,omitempty"`
}

func (j *battleJob) applyDefaults(cfg *config.EngineConfig) {
	j.Config = battleConfig(j.Config, cfg)
}

func (j *battleJob) checkLimits(config.ServerConfig) error { return nil }

func (j *battleJob) deterministic() bool { return j.Seed != 0 }

func (j *battleJob) run(_ *config.EngineConfig, _ montecarlo.ProgressFunc) (any, error) {
	return combat.ResolveBattleSeeded(j.UnitA, j.UnitB, *j.Config, j.Seed)
}

type monteCarloJob struct {
	UnitA         combat.UnitStats     `json:"unitA"`
	UnitB         combat.UnitStats     `json:"unitB"`
	Runs          int                  `json:"runs,omitempty"`
	Config        *combat.BattleConfig `json:"config,omitempty"`
	Seed          int64                `json:"seed,omitempty"`
	SampleBattles int                  `json:"sampleBattles,omitempty"`
	HistogramBins int                  `json:"histogramBins,omitempty"`
}

func (j *monteCarloJob) applyDefaults(cfg *config.EngineConfig) {
	j.Config = battleConfig(j.Config, cfg)
	if j.Runs == 0 {
		j.Runs = cfg.MonteCarlo.Runs
	}
	if j.SampleBattles == 0 {
		j.SampleBattles = cfg.MonteCarlo.SampleBattles
	}
	if j.HistogramBins == 0 {
		j.HistogramBins = cfg.MonteCarlo.HistogramBins
	}
}

func (j *monteCarloJob) checkLimits(limits config.ServerConfig) error {
	return checkRuns(j.Runs, limits)
}

func (j *monteCarloJob) deterministic() bool { return j.Seed != 0 }

func (j *monteCarloJob) run(cfg *config.EngineConfig, onProgress montecarlo.ProgressFunc) (any, error) {
	return montecarlo.Run(j.UnitA, j.UnitB, montecarlo.Options{
		Runs:              j.Runs,
		Config:            *j.Config,
		SaveSampleBattles: j.SampleBattles,
		OnProgress:        onProgress,
		Seed:              j.Seed,
		Workers:           cfg.MonteCarlo.Workers,
		HistogramBins:     j.HistogramBins,
	})
}

type matrixJob struct {
	Units        []combat.UnitStats   `json:"units"`
	RunsPerMatch int                  `json:"runsPerMatch,omitempty"`
	Config       *combat.BattleConfig `json:"config,omitempty"`
	Seed         int64                `json:"seed,omitempty"`
}

func (j *matrixJob) applyDefaults(cfg *config.EngineConfig) {
	j.Config = battleConfig(j.Config, cfg)
	if j.RunsPerMatch == 0 {
		j.RunsPerMatch = cfg.MonteCarlo.RunsPerMatch
	}
}

func (j *matrixJob) checkLimits(limits config.ServerConfig) error {
	if err := checkRoster(len(j.Units), limits); err != nil {
		return err
	}
	return checkRuns(j.RunsPerMatch, limits)
}

func (j *matrixJob) deterministic() bool { return j.Seed != 0 }

func (j *matrixJob) run(cfg *config.EngineConfig, onProgress montecarlo.ProgressFunc) (any, error) {
	return matchup.BuildMatrix(j.Units, j.RunsPerMatch, matchup.MatrixOptions{
		Config:     *j.Config,
		Seed:       j.Seed,
		Workers:    cfg.MonteCarlo.Workers,
		OnProgress: onProgress,
	})
}

// imbalanceJob analyzes a supplied matrix, or builds one from a roster first.
type imbalanceJob struct {
	matrixJob
	Matrix  *matchup.Matrix           `json:"matrix,omitempty"`
	Options *matchup.ImbalanceOptions `json:"options,omitempty"`
}

type imbalanceReport struct {
	Matrix   *matchup.Matrix         `json:"matrix"`
	Analysis matchup.ImbalanceResult `json:"analysis"`
	Ranking  []string                `json:"ranking"`
}

func (j *imbalanceJob) applyDefaults(cfg *config.EngineConfig) {
	if j.Options == nil {
		opts := cfg.Imbalance
		j.Options = &opts
	}
	if j.Matrix == nil {
		j.matrixJob.applyDefaults(cfg)
	}
}

func (j *imbalanceJob) checkLimits(limits config.ServerConfig) error {
	if j.Matrix != nil {
		return checkRoster(j.Matrix.Size(), limits)
	}
	return j.matrixJob.checkLimits(limits)
}

func (j *imbalanceJob) deterministic() bool { return j.Matrix != nil || j.Seed != 0 }

func (j *imbalanceJob) run(cfg *config.EngineConfig, onProgress montecarlo.ProgressFunc) (any, error) {
	m := j.Matrix
	if m == nil {
		built, err := j.matrixJob.run(cfg, onProgress)
		if err != nil {
			return nil, err
		}
		m = built.(*matchup.Matrix)
	} else if err := checkMatrixShape(m); err != nil {
		return nil, err
	}

	analysis := matchup.AnalyzePerfectImbalance(m, *j.Options)
	return &imbalanceReport{Matrix: m, Analysis: analysis, Ranking: analysis.Ranking()}, nil
}

func checkMatrixShape(m *matchup.Matrix) error {
	n := m.Size()
	if len(m.WinRates) != n {
		return validation.Errorf("matrix has %d rows for %d units", len(m.WinRates), n)
	}
	for i, row := range m.WinRates {
		if len(row) != n {
			return validation.Errorf("matrix row %d has %d entries for %d units", i, len(row), n)
		}
		for _, v := range row {
			if !validation.Fraction(v) {
				return validation.Errorf("matrix win rate %v outside [0,1]", v)
			}
		}
	}
	return nil
}

type curveJob struct {
	Samples []curve.Sample `json:"samples"`
	Options *curve.Options `json:"options,omitempty"`
}

func (j *curveJob) applyDefaults(cfg *config.EngineConfig) {
	if j.Options == nil {
		opts := cfg.Curve
		j.Options = &opts
	}
}

func (j *curveJob) checkLimits(config.ServerConfig) error { return nil }

func (j *curveJob) deterministic() bool { return true }

func (j *curveJob) run(*config.EngineConfig, montecarlo.ProgressFunc) (any, error) {
	return curve.AnalyzePowerCurve(j.Samples, *j.Options)
}

type correlationJob struct {
	Records  []dataset.Record `json:"records"`
	StatKeys []string         `json:"statKeys,omitempty"`
}

func (j *correlationJob) applyDefaults(*config.EngineConfig) {
	if len(j.StatKeys) == 0 {
		j.StatKeys = dataset.Keys(j.Records)
	}
}

func (j *correlationJob) checkLimits(config.ServerConfig) error { return nil }

func (j *correlationJob) deterministic() bool { return true }

func (j *correlationJob) run(*config.EngineConfig, montecarlo.ProgressFunc) (any, error) {
	return correlation.AnalyzeCorrelations(j.Records, j.StatKeys), nil
}

type deadZonesJob struct {
	Records  []dataset.Record  `json:"records"`
	StatKeys []string          `json:"statKeys,omitempty"`
	Options  *deadzone.Options `json:"options,omitempty"`
}

func (j *deadZonesJob) applyDefaults(cfg *config.EngineConfig) {
	if len(j.StatKeys) == 0 {
		j.StatKeys = dataset.Keys(j.Records)
	}
	if j.Options == nil {
		opts := cfg.DeadZone
		j.Options = &opts
	}
}

func (j *deadZonesJob) checkLimits(config.ServerConfig) error { return nil }

func (j *deadZonesJob) deterministic() bool { return true }

func (j *deadZonesJob) run(*config.EngineConfig, montecarlo.ProgressFunc) (any, error) {
	issues := []deadzone.Issue{}
	for _, key := range j.StatKeys {
		issues = append(issues, deadzone.DetectDeadZones(j.Records, key, *j.Options)...)
	}
	return issues, nil
}

type economyJob struct {
	Faucets []economy.Faucet `json:"faucets"`
	Sinks   []economy.Sink   `json:"sinks"`
	Config  economy.Config   `json:"config"`
}

func (j *economyJob) applyDefaults(*config.EngineConfig) {}

func (j *economyJob) checkLimits(config.ServerConfig) error { return nil }

func (j *economyJob) deterministic() bool { return true }

func (j *economyJob) run(*config.EngineConfig, montecarlo.ProgressFunc) (any, error) {
	return economy.SimulateEconomy(j.Faucets, j.Sinks, j.Config)
}

type singlePlayerJob struct {
	Sources []economy.Source           `json:"sources"`
	Sinks   []economy.StageSink        `json:"sinks"`
	Config  economy.SinglePlayerConfig `json:"config"`
}

func (j *singlePlayerJob) applyDefaults(*config.EngineConfig) {}

func (j *singlePlayerJob) checkLimits(config.ServerConfig) error { return nil }

func (j *singlePlayerJob) deterministic() bool { return true }

func (j *singlePlayerJob) run(*config.EngineConfig, montecarlo.ProgressFunc) (any, error) {
	return economy.SimulateSinglePlayer(j.Sources, j.Sinks, j.Config)
}
