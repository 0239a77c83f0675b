package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lawnchairsociety/balancelab/internal/archive"
	"github.com/lawnchairsociety/balancelab/internal/combat"
	"github.com/lawnchairsociety/balancelab/internal/correlation"
	"github.com/lawnchairsociety/balancelab/internal/curve"
	"github.com/lawnchairsociety/balancelab/internal/dataset"
	"github.com/lawnchairsociety/balancelab/internal/deadzone"
	"github.com/lawnchairsociety/balancelab/internal/economy"
	"github.com/lawnchairsociety/balancelab/internal/logger"
	"github.com/lawnchairsociety/balancelab/internal/matchup"
	"github.com/lawnchairsociety/balancelab/internal/montecarlo"
	"github.com/lawnchairsociety/balancelab/internal/scenario"
	"github.com/lawnchairsociety/balancelab/internal/server"
)

// shutdownTimeout bounds how long serve waits for running analyses on exit.
const shutdownTimeout = 30 * time.Second

// matchupInput is what combat and montecarlo archive as their input.
type matchupInput struct {
	UnitA  combat.UnitStats    `json:"unitA"`
	UnitB  combat.UnitStats    `json:"unitB"`
	Config combat.BattleConfig `json:"config"`
	Runs   int                 `json:"runs,omitempty"`
	Seed   int64               `json:"seed,omitempty"`
}

type matrixInput struct {
	Units        []combat.UnitStats       `json:"units"`
	RunsPerMatch int                      `json:"runsPerMatch"`
	Config       combat.BattleConfig      `json:"config"`
	Seed         int64                    `json:"seed,omitempty"`
	Options      matchup.ImbalanceOptions `json:"options"`
}

// matrixReport pairs a matrix with its balance analysis.
type matrixReport struct {
	Matrix   *matchup.Matrix         `json:"matrix"`
	Analysis matchup.ImbalanceResult `json:"analysis"`
	Ranking  []string                `json:"ranking"`
}

type statsInput struct {
	Records  []dataset.Record  `json:"records"`
	StatKeys []string          `json:"statKeys"`
	Options  *deadzone.Options `json:"options,omitempty"`
}

func runCombat(args []string) error {
	fs := flag.NewFlagSet("combat", flag.ExitOnError)
	cf := addCommonFlags(fs)
	unitA := fs.String("a", "", "First unit (defaults to the first unit in the scenario)")
	unitB := fs.String("b", "", "Second unit (defaults to the second unit in the scenario)")
	seed := fs.Int64("seed", 0, "Random seed (0 uses the scenario seed, or a fresh one)")
	showLog := fs.Bool("log", false, "Print the full battle log")
	fs.Parse(args)

	a, err := setup(cf, true)
	if err != nil {
		return err
	}
	defer a.close()

	ua, ub, err := pickPair(a.scenario, *unitA, *unitB)
	if err != nil {
		return err
	}
	input := matchupInput{
		UnitA:  ua,
		UnitB:  ub,
		Config: a.scenario.BattleConfig(a.cfg.Combat),
		Seed:   seedOr(*seed, a.scenario.Seed),
	}

	outcome, err := combat.ResolveBattleSeeded(input.UnitA, input.UnitB, input.Config, input.Seed)
	if err != nil {
		return err
	}
	input.Seed = outcome.Seed

	return a.emit(server.KindBattle, input, outcome, reportFunc(func(r *reporter) {
		r.battle(ua, ub, input.Config, outcome, *showLog)
	}))
}

func runMonteCarlo(args []string) error {
	fs := flag.NewFlagSet("montecarlo", flag.ExitOnError)
	cf := addCommonFlags(fs)
	unitA := fs.String("a", "", "First unit (defaults to the first unit in the scenario)")
	unitB := fs.String("b", "", "Second unit (defaults to the second unit in the scenario)")
	runs := fs.Int("runs", 0, "Number of battles (0 uses the scenario, then the config)")
	seed := fs.Int64("seed", 0, "Base random seed (0 uses the scenario seed, or a fresh one)")
	samples := fs.Int("samples", 0, "Full battle logs to keep (0 uses the config)")
	fs.Parse(args)

	a, err := setup(cf, true)
	if err != nil {
		return err
	}
	defer a.close()

	ua, ub, err := pickPair(a.scenario, *unitA, *unitB)
	if err != nil {
		return err
	}
	input := matchupInput{
		UnitA:  ua,
		UnitB:  ub,
		Config: a.scenario.BattleConfig(a.cfg.Combat),
		Runs:   runsOr(*runs, a.scenario.RunsOr(a.cfg.MonteCarlo.Runs)),
		Seed:   seedOr(*seed, a.scenario.Seed),
	}
	sampleBattles := *samples
	if sampleBattles == 0 {
		sampleBattles = a.cfg.MonteCarlo.SampleBattles
	}

	start := time.Now()
	result, err := montecarlo.Run(ua, ub, montecarlo.Options{
		Runs:              input.Runs,
		Config:            input.Config,
		SaveSampleBattles: sampleBattles,
		OnProgress:        a.progress("Simulating"),
		Seed:              input.Seed,
		Workers:           a.cfg.MonteCarlo.Workers,
		HistogramBins:     a.cfg.MonteCarlo.HistogramBins,
	})
	if err != nil {
		return err
	}
	input.Seed = result.Seed
	logger.Always("Monte Carlo complete", "unit1", result.Unit1, "unit2", result.Unit2,
		"runs", result.TotalRuns, "elapsed", time.Since(start).Round(time.Millisecond))

	return a.emit(server.KindMonteCarlo, input, result, reportFunc(func(r *reporter) {
		r.monteCarlo(result)
	}))
}

func runMatrix(args []string) error {
	fs := flag.NewFlagSet("matrix", flag.ExitOnError)
	cf := addCommonFlags(fs)
	runs := fs.Int("runs", 0, "Battles per ordered pair (0 uses the scenario, then the config)")
	seed := fs.Int64("seed", 0, "Base random seed (0 uses the scenario seed, or a fresh one)")
	fs.Parse(args)

	a, err := setup(cf, true)
	if err != nil {
		return err
	}
	defer a.close()

	input := matrixInput{
		Units:        a.scenario.Units,
		RunsPerMatch: runsOr(*runs, a.scenario.RunsOr(a.cfg.MonteCarlo.RunsPerMatch)),
		Config:       a.scenario.BattleConfig(a.cfg.Combat),
		Seed:         seedOr(*seed, a.scenario.Seed),
		Options:      a.cfg.Imbalance,
	}

	m, err := matchup.BuildMatrix(input.Units, input.RunsPerMatch, matchup.MatrixOptions{
		Config:     input.Config,
		Seed:       input.Seed,
		Workers:    a.cfg.MonteCarlo.Workers,
		OnProgress: a.progress("Building matrix"),
	})
	if err != nil {
		return err
	}
	input.Seed = m.Seed

	analysis := matchup.AnalyzePerfectImbalance(m, input.Options)
	report := matrixReport{Matrix: m, Analysis: analysis, Ranking: analysis.Ranking()}

	return a.emit(server.KindImbalance, input, report, reportFunc(func(r *reporter) {
		r.matrix(report, input.RunsPerMatch)
	}))
}

func runCurve(args []string) error {
	fs := flag.NewFlagSet("curve", flag.ExitOnError)
	cf := addCommonFlags(fs)
	threshold := fs.Float64("outlier-threshold", 0, "Relative deviation that marks an outlier (0 uses the config)")
	fs.Parse(args)

	a, err := setup(cf, true)
	if err != nil {
		return err
	}
	defer a.close()

	opts := a.cfg.Curve
	if *threshold > 0 {
		opts.OutlierThreshold = *threshold
	}

	analysis, err := curve.AnalyzePowerCurve(a.scenario.Samples, opts)
	if err != nil {
		return err
	}

	input := struct {
		Samples []curve.Sample `json:"samples"`
		Options curve.Options  `json:"options"`
	}{a.scenario.Samples, opts}

	return a.emit(server.KindCurve, input, analysis, reportFunc(func(r *reporter) {
		r.curve(analysis, len(a.scenario.Samples))
	}))
}

func runCorrelate(args []string) error {
	fs := flag.NewFlagSet("correlate", flag.ExitOnError)
	cf := addCommonFlags(fs)
	keys := fs.String("keys", "", "Comma-separated stat keys (defaults to the scenario's, then every key)")
	fs.Parse(args)

	a, err := setup(cf, true)
	if err != nil {
		return err
	}
	defer a.close()

	input := statsInput{Records: a.scenario.StatRecords()}
	input.StatKeys = statKeys(*keys, a.scenario, input.Records)

	results := correlation.AnalyzeCorrelations(input.Records, input.StatKeys)

	return a.emit(server.KindCorrelation, input, results, reportFunc(func(r *reporter) {
		r.correlations(results, len(input.Records))
	}))
}

func runDeadZones(args []string) error {
	fs := flag.NewFlagSet("deadzones", flag.ExitOnError)
	cf := addCommonFlags(fs)
	keys := fs.String("keys", "", "Comma-separated stat keys (defaults to the scenario's, then every key)")
	fs.Parse(args)

	a, err := setup(cf, true)
	if err != nil {
		return err
	}
	defer a.close()

	opts := a.cfg.DeadZone
	input := statsInput{Records: a.scenario.StatRecords(), Options: &opts}
	input.StatKeys = statKeys(*keys, a.scenario, input.Records)

	issues := []deadzone.Issue{}
	for _, key := range input.StatKeys {
		issues = append(issues, deadzone.DetectDeadZones(input.Records, key, opts)...)
	}

	return a.emit(server.KindDeadZones, input, issues, reportFunc(func(r *reporter) {
		r.deadZones(issues, input.StatKeys)
	}))
}

func runEconomy(args []string) error {
	fs := flag.NewFlagSet("economy", flag.ExitOnError)
	cf := addCommonFlags(fs)
	days := fs.Int("days", 0, "Days to project (0 uses the scenario)")
	players := fs.Int("players", 0, "Player count (0 uses the scenario)")
	fs.Parse(args)

	a, err := setup(cf, true)
	if err != nil {
		return err
	}
	defer a.close()

	section := a.scenario.Economy
	if section == nil {
		return fmt.Errorf("scenario has no economy section")
	}
	input := *section
	if *days > 0 {
		input.Config.SimulationDays = *days
	}
	if *players > 0 {
		input.Config.PlayerCount = *players
	}

	result, err := economy.SimulateEconomy(input.Faucets, input.Sinks, input.Config)
	if err != nil {
		return err
	}

	return a.emit(server.KindEconomy, input, result, reportFunc(func(r *reporter) {
		r.economy(result, input.Config)
	}))
}

func runSinglePlayer(args []string) error {
	fs := flag.NewFlagSet("singleplayer", flag.ExitOnError)
	cf := addCommonFlags(fs)
	stages := fs.Int("stages", 0, "Total stages (0 uses the scenario)")
	showStages := fs.Bool("stages-table", false, "Print the per-stage table")
	fs.Parse(args)

	a, err := setup(cf, true)
	if err != nil {
		return err
	}
	defer a.close()

	section := a.scenario.SinglePlayer
	if section == nil {
		return fmt.Errorf("scenario has no single_player section")
	}
	input := *section
	if *stages > 0 {
		input.Config.TotalStages = *stages
	}

	result, err := economy.SimulateSinglePlayer(input.Sources, input.Sinks, input.Config)
	if err != nil {
		return err
	}

	return a.emit(server.KindSinglePlayer, input, result, reportFunc(func(r *reporter) {
		r.singlePlayer(result, *showStages)
	}))
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cf := &commonFlags{
		configPath:   fs.String("config", defaultConfigPath, "Path to balance.yaml"),
		archive:      fs.Bool("archive", false, "Archive results even if the config leaves the archive off"),
		scenarioPath: new(string),
		jsonOut:      new(bool),
	}
	address := fs.String("address", "", "Listen address (overrides the config)")
	fs.Parse(args)

	a, err := setup(cf, false)
	if err != nil {
		return err
	}
	defer a.close()

	if *address != "" {
		a.cfg.Server.Address = *address
	}

	srv, err := server.New(a.cfg, a.archive)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("Press Ctrl+C to shutdown")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errCh:
		return err
	case <-sigChan:
	}

	logger.Info("Shutting down analysis service")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("Analysis service stopped")
	return nil
}

func runHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	cf := &commonFlags{
		configPath:   fs.String("config", defaultConfigPath, "Path to balance.yaml"),
		jsonOut:      fs.Bool("json", false, "Print runs as JSON"),
		scenarioPath: new(string),
		archive:      new(bool),
	}
	kind := fs.String("kind", "", "Only list runs of this kind")
	limit := fs.Int("limit", archive.DefaultListLimit, "Maximum runs to list")
	id := fs.String("id", "", "Show one run in full")
	fs.Parse(args)

	*cf.archive = true
	a, err := setup(cf, false)
	if err != nil {
		return err
	}
	defer a.close()

	if *id != "" {
		run, err := a.archive.GetRun(*id)
		if errors.Is(err, archive.ErrRunNotFound) {
			return fmt.Errorf("no archived run with id %s", *id)
		}
		if err != nil {
			return err
		}
		if a.jsonOut {
			return writeJSON(a.out, run)
		}
		newReporter(a.out).run(run)
		return nil
	}

	runs, err := a.archive.ListRuns(*kind, *limit)
	if err != nil {
		return err
	}
	if a.jsonOut {
		return writeJSON(a.out, runs)
	}
	newReporter(a.out).runs(runs, *kind)
	return nil
}

// pickPair resolves the two units of a matchup. Empty names fall back to
// the first and second unit of the scenario.
func pickPair(s *scenario.Scenario, nameA, nameB string) (combat.UnitStats, combat.UnitStats, error) {
	pick := func(name string, fallback int) (combat.UnitStats, error) {
		if name == "" {
			if len(s.Units) <= fallback {
				return combat.UnitStats{}, fmt.Errorf("scenario needs at least two units, has %d", len(s.Units))
			}
			return s.Units[fallback], nil
		}
		u, ok := s.Unit(name)
		if !ok {
			return combat.UnitStats{}, fmt.Errorf("unit %q not found in scenario", name)
		}
		return u, nil
	}

	a, err := pick(nameA, 0)
	if err != nil {
		return a, combat.UnitStats{}, err
	}
	b, err := pick(nameB, 1)
	return a, b, err
}

// statKeys picks the keys to analyze: the flag, then the scenario, then
// every key present in the records.
func statKeys(flagValue string, s *scenario.Scenario, records []dataset.Record) []string {
	if flagValue != "" {
		var keys []string
		for _, k := range strings.Split(flagValue, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		return keys
	}
	if len(s.StatKeys) > 0 {
		return s.StatKeys
	}
	return dataset.Keys(records)
}

func seedOr(flagSeed, scenarioSeed int64) int64 {
	if flagSeed != 0 {
		return flagSeed
	}
	return scenarioSeed
}

func runsOr(flagRuns, def int) int {
	if flagRuns > 0 {
		return flagRuns
	}
	return def
}

// progress returns a callback that redraws a percentage on stderr, or nil
// when output is JSON or stderr is not a terminal.
func (a *app) progress(label string) montecarlo.ProgressFunc {
	if a.jsonOut || !isTerminal() {
		return nil
	}
	return func(pct float64) {
		fmt.Fprintf(os.Stderr, "\r%s... %3.0f%%", label, pct)
		if pct >= 100 {
			fmt.Fprintln(os.Stderr)
		}
	}
}
