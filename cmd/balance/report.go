package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/lawnchairsociety/balancelab/internal/archive"
	"github.com/lawnchairsociety/balancelab/internal/combat"
	"github.com/lawnchairsociety/balancelab/internal/correlation"
	"github.com/lawnchairsociety/balancelab/internal/curve"
	"github.com/lawnchairsociety/balancelab/internal/deadzone"
	"github.com/lawnchairsociety/balancelab/internal/economy"
	"github.com/lawnchairsociety/balancelab/internal/montecarlo"
)

const (
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorReset  = "\033[0m"
)

// reporter prints the human-readable form of each analysis.
type reporter struct {
	w     io.Writer
	color bool
}

func newReporter(w io.Writer) *reporter {
	return &reporter{w: w, color: w == io.Writer(os.Stdout) && isTerminal()}
}

func reportFunc(f func(*reporter)) func(io.Writer) {
	return func(w io.Writer) { f(newReporter(w)) }
}

func (r *reporter) printf(format string, args ...any) {
	fmt.Fprintf(r.w, format, args...)
}

func (r *reporter) println(args ...any) {
	fmt.Fprintln(r.w, args...)
}

func (r *reporter) header(title string) {
	r.printf("=== %s ===\n\n", title)
}

func (r *reporter) paint(text, color string) string {
	if !r.color || color == "" {
		return text
	}
	return color + text + colorReset
}

func (r *reporter) list(title string, items []string) {
	if len(items) == 0 {
		return
	}
	r.println()
	r.printf("%s:\n", title)
	for _, item := range items {
		r.printf("  - %s\n", item)
	}
}

func (r *reporter) battleConfig(cfg combat.BattleConfig) {
	r.printf("Rules: %s damage, %s defense, %.0fs limit, %.2fs step\n",
		cfg.DamageFormula, cfg.DefenseFormula, cfg.MaxDuration, cfg.TimeStep)
}

func (r *reporter) unit(tag string, u combat.UnitStats) {
	r.printf("%s %-12s HP %-6.0f ATK %-5.0f DEF %-5.0f SPD %-5.2f Crit %.0f%% x%.2f\n",
		tag, u.Label(), u.HP, u.Atk, u.Def, u.Speed, u.CritRate*100, u.CritDamage)
}

func (r *reporter) battle(a, b combat.UnitStats, cfg combat.BattleConfig, out combat.Outcome, showLog bool) {
	r.header("Combat Simulation")
	r.unit("A:", a)
	r.unit("B:", b)
	r.battleConfig(cfg)
	r.printf("Seed: %d\n\n", out.Seed)

	winner := "Draw (time limit reached)"
	switch out.Winner {
	case combat.SideA:
		winner = a.Label()
	case combat.SideB:
		winner = b.Label()
	}
	r.printf("Winner:     %s\n", winner)
	r.printf("Duration:   %.2fs\n", out.Duration)
	r.printf("Damage A:   %.1f\n", out.TotalDamageA)
	r.printf("Damage B:   %.1f\n", out.TotalDamageB)

	if !showLog {
		return
	}
	r.println()
	r.println("Battle log:")
	for _, e := range out.Log {
		switch {
		case e.Action == combat.ActionDeath:
			r.printf("  %7.2fs  %s is defeated\n", e.Time, e.Actor)
		case e.IsMiss:
			r.printf("  %7.2fs  %s misses %s\n", e.Time, e.Actor, e.Target)
		default:
			crit := ""
			if e.IsCrit {
				crit = " (crit)"
			}
			r.printf("  %7.2fs  %s hits %s for %.1f%s, %.1f HP left\n",
				e.Time, e.Actor, e.Target, e.Damage, crit, e.RemainingHP)
		}
	}
}

func (r *reporter) monteCarlo(res *montecarlo.Result) {
	r.header("Monte Carlo Simulation")
	r.printf("Results (%d battles, seed %d):\n", res.TotalRuns, res.Seed)
	r.printf("  %-12s wins %5.1f%% (95%% CI %.1f-%.1f%%), %d wins\n", res.Unit1,
		res.Unit1WinRate*100, res.Unit1CI.Lower*100, res.Unit1CI.Upper*100, res.Unit1Wins)
	r.printf("  %-12s wins %5.1f%% (95%% CI %.1f-%.1f%%), %d wins\n", res.Unit2,
		res.Unit2WinRate*100, res.Unit2CI.Lower*100, res.Unit2CI.Upper*100, res.Unit2Wins)
	r.printf("  Draws:         %5.1f%% (%d)\n", res.DrawRate*100, res.Draws)
	r.printf("  Duration:      avg %.2fs, median %.2fs (min %.2fs, max %.2fs)\n",
		res.AvgDuration, res.MedianDuration, res.MinDuration, res.MaxDuration)
	r.printf("  DPS:           %s %.1f (theory %.1f), %s %.1f (theory %.1f)\n",
		res.Unit1, res.Unit1AvgDPS, res.Unit1TheoreticalDPS, res.Unit2, res.Unit2AvgDPS, res.Unit2TheoreticalDPS)
	r.printf("  Time to kill:  %s %.2fs, %s %.2fs\n", res.Unit1, res.Unit1AvgTTK, res.Unit2, res.Unit2AvgTTK)

	r.println()
	r.histogram("Battle duration (s)", res.DurationHistogram)

	verdict, color := matchupVerdict(res.Unit1WinRate, res.Unit2WinRate)
	r.println()
	r.printf("Assessment: %s\n", r.paint(verdict, color))
}

// histogramWidth is the longest bar drawn for a histogram bin.
const histogramWidth = 40

func (r *reporter) histogram(title string, h montecarlo.Histogram) {
	r.printf("%s:\n", title)
	peak := 0
	for _, b := range h.Bins {
		peak = max(peak, b.Count)
	}
	if peak == 0 {
		r.println("  (no data)")
		return
	}
	for _, b := range h.Bins {
		bar := strings.Repeat("#", b.Count*histogramWidth/peak)
		r.printf("  %8.2f - %-8.2f %6d %s\n", b.Lower, b.Upper, b.Count, bar)
	}
}

// matchupVerdict grades a matchup by the gap between the two win rates.
func matchupVerdict(winRate1, winRate2 float64) (string, string) {
	switch gap := math.Abs(winRate1 - winRate2); {
	case gap < 0.05:
		return "EVEN", colorGreen
	case gap < 0.15:
		return "SLIGHT EDGE", colorGreen
	case gap < 0.30:
		return "FAVORED", colorYellow
	default:
		return "LOPSIDED", colorRed
	}
}

// rosterVerdict grades a roster by its balance score.
func rosterVerdict(score float64) (string, string) {
	switch {
	case score >= 80:
		return "BALANCED", colorGreen
	case score >= 60:
		return "UNEVEN", colorYellow
	default:
		return "IMBALANCED", colorRed
	}
}

func (r *reporter) matrix(rep matrixReport, runsPerMatch int) {
	m := rep.Matrix
	r.header("Matchup Matrix")
	r.printf("%d units, %d battles per ordered pair, seed %d\n\n", m.Size(), runsPerMatch, m.Seed)

	width := 8
	for _, name := range m.Units {
		width = max(width, len(name)+1)
	}
	r.printf("%-*s", width, "")
	for _, name := range m.Units {
		r.printf("%*s", width, name)
	}
	r.println()
	for i, name := range m.Units {
		r.printf("%-*s", width, name)
		for j := range m.Units {
			cell := fmt.Sprintf("%.1f%%", m.WinRates[i][j]*100)
			if i == j {
				cell = "-"
			}
			r.printf("%*s", width, cell)
		}
		r.println()
	}

	a := rep.Analysis
	r.println()
	r.println("Average win rate:")
	for i, name := range rep.Ranking {
		r.printf("  %2d. %-*s %5.1f%%\n", i+1, width, name, a.AverageWinRates[name]*100)
	}

	r.list("Dominant", a.DominantUnits)
	r.list("Weak", a.WeakUnits)
	if len(a.Cycles) > 0 {
		cycles := make([]string, len(a.Cycles))
		for i, c := range a.Cycles {
			cycles[i] = strings.Join(append(append([]string(nil), c...), c[0]), " > ")
		}
		r.list("Counter cycles", cycles)
	}
	r.list("Notes", a.Notes)

	verdict, color := rosterVerdict(a.BalanceScore)
	r.println()
	r.printf("Balance score: %.1f / 100  %s\n", a.BalanceScore, r.paint(verdict, color))
}

func (r *reporter) curve(a *curve.Analysis, samples int) {
	r.header("Power Curve Analysis")
	r.printf("Samples: %d\n\n", samples)

	if len(a.Fits) > 0 {
		r.println("Candidate fits:")
		for _, f := range a.Fits {
			marker := " "
			if f.CurveType == a.CurveType {
				marker = "*"
			}
			r.printf(" %s %-12s R² %.4f  %s\n", marker, f.CurveType, f.R2, f.Formula)
		}
		r.println()
	}

	r.printf("Best fit: %s", a.CurveType)
	if a.Formula != "" {
		r.printf(" (%s, R² %.4f)", a.Formula, a.R2)
	}
	r.println()
	if a.LowConfidence {
		r.printf("%s %s\n", r.paint("Low confidence:", colorYellow), a.Reason)
	}

	if len(a.Outliers) > 0 {
		r.println()
		r.println("Outliers:")
		r.printf("  %8s %12s %12s %12s\n", "Level", "Actual", "Expected", "Deviation")
		for _, o := range a.Outliers {
			r.printf("  %8.1f %12.2f %12.2f %+12.2f\n", o.Level, o.Actual, o.Expected, o.Deviation)
		}
	}
	r.list("Recommendations", a.Recommendations)
}

func (r *reporter) correlations(results []correlation.Result, records int) {
	r.header("Stat Correlations")
	r.printf("Records: %d\n\n", records)
	if len(results) == 0 {
		r.println("Need at least two stat keys to correlate.")
		return
	}

	sorted := append([]correlation.Result(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return correlationRank(sorted[i]) > correlationRank(sorted[j])
	})

	r.printf("  %-14s %-14s %8s  %-9s %-9s %s\n", "Stat", "Stat", "r", "Strength", "Direction", "n")
	for _, c := range sorted {
		value := "n/a"
		if !c.Degenerate {
			value = fmt.Sprintf("%+.3f", c.Correlation)
		}
		color := ""
		if c.Strength == correlation.Strong {
			color = colorYellow
		}
		r.printf("  %-14s %-14s %8s  %-9s %-9s %d\n", c.Stat1, c.Stat2, value,
			r.paint(fmt.Sprintf("%-9s", c.Strength), color), c.Direction, c.SampleSize)
	}
}

// correlationRank orders correlations by magnitude with degenerate pairs last.
func correlationRank(c correlation.Result) float64 {
	if c.Degenerate || math.IsNaN(c.Correlation) {
		return -1
	}
	return math.Abs(c.Correlation)
}

func (r *reporter) deadZones(issues []deadzone.Issue, keys []string) {
	r.header("Dead Zone Detection")
	r.printf("Stats checked: %s\n\n", strings.Join(keys, ", "))
	if len(issues) == 0 {
		r.println(r.paint("No dead zones found.", colorGreen))
		return
	}
	for _, is := range issues {
		color := colorYellow
		if is.Kind == deadzone.Gap {
			color = colorRed
		}
		r.printf("  %-14s %s [%.2f, %.2f] %d values: %s\n", is.StatKey,
			r.paint(fmt.Sprintf("%-8s", is.Kind), color), is.Lower, is.Upper, is.Count, is.Reason)
	}
}

func (r *reporter) economy(res *economy.Result, cfg economy.Config) {
	r.header("Economy Simulation")
	r.printf("Currency: %s, %d players, %d days\n\n", res.CurrencyName, cfg.PlayerCount, cfg.SimulationDays)

	r.printf("Per player per hour:\n")
	r.printf("  Faucets:        %10.2f\n", res.TotalFaucetPerHour)
	r.printf("  Sinks:          %10.2f (required %.2f)\n", res.TotalSinkPerHour, res.RequiredSinkPerHour)
	r.printf("  Net:            %+10.2f\n", res.NetFlowPerHour)
	r.printf("Population net:   %+10.2f per hour\n", res.PopulationNetFlowPerHour)
	if res.FaucetSinkRatio != nil {
		r.printf("Faucet:sink:      %10.2f\n", *res.FaucetSinkRatio)
	}
	r.printf("Inflation:        %9.2f%% per day\n", res.InflationRate*100)
	if res.DaysToDouble != nil {
		r.printf("Days to double:   %10.1f\n", *res.DaysToDouble)
	}
	if n := len(res.SupplyOverTime); n > 0 {
		r.printf("Supply:           %.0f -> %.0f\n", res.SupplyOverTime[0], res.SupplyOverTime[n-1])
	}

	r.flows("Faucets", res.FaucetBreakdown)
	r.flows("Sinks", res.SinkBreakdown)
	r.list("Warnings", res.Warnings)

	color := colorGreen
	switch res.PinchPoint.Severity {
	case economy.SeverityWarning:
		color = colorYellow
	case economy.SeverityCritical:
		color = colorRed
	}
	r.println()
	r.printf("Assessment: %s %s\n", r.paint(strings.ToUpper(string(res.PinchPoint.Severity)), color),
		res.PinchPoint.Recommendation)
}

func (r *reporter) flows(title string, flows []economy.FlowShare) {
	if len(flows) == 0 {
		return
	}
	r.println()
	r.printf("%s:\n", title)
	for _, f := range flows {
		r.printf("  %-20s %10.2f/h %5.1f%%\n", f.Name, f.PerHour, f.Share*100)
	}
}

func (r *reporter) singlePlayer(res *economy.SinglePlayerResult, showStages bool) {
	r.header("Single Player Economy")
	r.printf("Currency: %s, %d stages\n\n", res.CurrencyName, len(res.StageData))

	r.printf("Total income:   %10.2f\n", res.TotalIncome)
	r.printf("Total expense:  %10.2f\n", res.TotalExpense)
	r.printf("Final balance:  %10.2f\n", res.FinalBalance)
	if res.IncomeToExpenseRatio != nil {
		r.printf("Income:expense: %10.2f\n", *res.IncomeToExpenseRatio)
	}

	p := res.Pacing
	pacing, color := "BALANCED", colorGreen
	if !p.IsBalanced {
		pacing, color = "UNBALANCED", colorYellow
	}
	r.println()
	r.printf("Pacing: early %.2f, mid %.2f, late %.2f  %s\n",
		p.EarlyGameRatio, p.MidGameRatio, p.LateGameRatio, r.paint(pacing, color))

	if showStages {
		r.println()
		r.printf("  %5s %10s %10s %10s %10s\n", "Stage", "Income", "Expense", "Required", "Balance")
		for _, s := range res.StageData {
			r.printf("  %5d %10.2f %10.2f %10.2f %10.2f\n", s.Stage, s.Income, s.Expense, s.RequiredExpense, s.Balance)
		}
	}

	if len(res.PinchPoints) > 0 {
		r.println()
		r.println("Pinch points:")
		for _, pp := range res.PinchPoints {
			color := colorYellow
			if pp.Severity == economy.PinchCritical {
				color = colorRed
			}
			r.printf("  stage %-4d %s balance %.2f: %s\n", pp.Stage,
				r.paint(fmt.Sprintf("%-8s", pp.Severity), color), pp.Balance, pp.Reason)
		}
	}
	r.list("Recommendations", res.Recommendations)
}

func (r *reporter) runs(runs []*archive.Run, kind string) {
	title := "Archived Runs"
	if kind != "" {
		title += " (" + kind + ")"
	}
	r.header(title)
	if len(runs) == 0 {
		r.println("No runs archived yet.")
		return
	}
	r.printf("  %-36s %-14s %-20s %s\n", "ID", "Kind", "Created", "Fingerprint")
	for _, run := range runs {
		r.printf("  %-36s %-14s %-20s %.12s\n", run.ID, run.Kind,
			run.CreatedAt.Local().Format("2006-01-02 15:04:05"), run.Fingerprint)
	}
}

func (r *reporter) run(run *archive.Run) {
	r.header("Archived Run")
	r.printf("ID:          %s\n", run.ID)
	r.printf("Kind:        %s\n", run.Kind)
	r.printf("Created:     %s\n", run.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	r.printf("Fingerprint: %s\n", run.Fingerprint)
	r.println()
	r.println("Input:")
	r.rawJSON(run.Input)
	r.println()
	r.println("Result:")
	r.rawJSON(run.Result)
}

func (r *reporter) rawJSON(data json.RawMessage) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		r.printf("  %s\n", data)
		return
	}
	out, _ := json.MarshalIndent(v, "  ", "  ")
	r.printf("  %s\n", out)
}

func isTerminal() bool {
	// Simple check - could be improved
	return os.Getenv("TERM") != "" && !strings.Contains(os.Getenv("TERM"), "dumb")
}
