package economy

import (
	"fmt"
	"math"
	"strings"

	"github.com/lawnchairsociety/balancelab/internal/logger"
	"github.com/lawnchairsociety/balancelab/internal/validation"
)

// GrowthType shapes how an amount scales with the stage number.
type GrowthType string

const (
	GrowthLinear      GrowthType = "linear"
	GrowthExponential GrowthType = "exponential"
	GrowthLogarithmic GrowthType = "logarithmic"
)

// Occurrence decides on which stages, and how often, an entry fires.
type Occurrence string

const (
	PerStage  Occurrence = "per_stage"
	PerEnemy  Occurrence = "per_enemy"
	PerBoss   Occurrence = "per_boss"
	Milestone Occurrence = "milestone"
)

// PinchSeverity grades a single-player pinch point.
type PinchSeverity string

const (
	PinchMinor    PinchSeverity = "minor"
	PinchWarning  PinchSeverity = "warning"
	PinchCritical PinchSeverity = "critical"
)

const (
	DefaultBossEvery       = 5
	DefaultMilestoneEvery  = 10
	DefaultEnemiesPerStage = 1

	// Phase income:expense ratios inside this band count as balanced.
	minBalancedRatio = 0.8
	maxBalancedRatio = 1.5

	uncategorized = "uncategorized"
)

// Source is a single-player income entry.
type Source struct {
	ID              string     `yaml:"id" json:"id"`
	Name            string     `yaml:"name" json:"name"`
	Category        string     `yaml:"category" json:"category,omitempty"`
	BaseAmount      float64    `yaml:"base_amount" json:"baseAmount"`
	GrowthType      GrowthType `yaml:"growth_type" json:"growthType"`
	GrowthRate      float64    `yaml:"growth_rate" json:"growthRate"`
	Occurrence      Occurrence `yaml:"occurrence" json:"occurrence"`
	OccurrenceCount int        `yaml:"occurrence_count" json:"occurrenceCount"`
	Frequency       int        `yaml:"frequency" json:"frequency"`
}

// StageSink is a single-player expense entry.
type StageSink struct {
	ID              string     `yaml:"id" json:"id"`
	Name            string     `yaml:"name" json:"name"`
	Category        string     `yaml:"category" json:"category,omitempty"`
	BaseCost        float64    `yaml:"base_cost" json:"baseCost"`
	GrowthType      GrowthType `yaml:"growth_type" json:"growthType"`
	GrowthRate      float64    `yaml:"growth_rate" json:"growthRate"`
	Occurrence      Occurrence `yaml:"occurrence" json:"occurrence"`
	OccurrenceCount int        `yaml:"occurrence_count" json:"occurrenceCount"`
	Frequency       int        `yaml:"frequency" json:"frequency"`
	IsRequired      bool       `yaml:"is_required" json:"isRequired"`
}

// SinglePlayerConfig describes the stage run. Zero cadences take the
// defaults; zero phase bounds split the run into thirds.
type SinglePlayerConfig struct {
	CurrencyName    string  `yaml:"currency_name" json:"currencyName"`
	TotalStages     int     `yaml:"total_stages" json:"totalStages"`
	InitialCurrency float64 `yaml:"initial_currency" json:"initialCurrency"`
	EnemiesPerStage int     `yaml:"enemies_per_stage" json:"enemiesPerStage"`
	BossEvery       int     `yaml:"boss_every" json:"bossEvery"`
	MilestoneEvery  int     `yaml:"milestone_every" json:"milestoneEvery"`
	Milestones      []int   `yaml:"milestones" json:"milestones,omitempty"`
	EarlyGameEnd    int     `yaml:"early_game_end" json:"earlyGameEnd"`
	MidGameEnd      int     `yaml:"mid_game_end" json:"midGameEnd"`
}

// StageData is the ledger of one stage. Balance is the running balance
// after the stage.
type StageData struct {
	Stage           int     `json:"stage"`
	Income          float64 `json:"income"`
	Expense         float64 `json:"expense"`
	RequiredExpense float64 `json:"requiredExpense"`
	Balance         float64 `json:"balance"`
}

// StagePinch is a stage where the player runs short.
type StagePinch struct {
	Stage    int           `json:"stage"`
	Severity PinchSeverity `json:"severity"`
	Balance  float64       `json:"balance"`
	Reason   string        `json:"reason"`
}

// Pacing holds the average per-stage income:expense ratio of each phase.
// A ratio is 0 when its phase has no expense.
type Pacing struct {
	EarlyGameRatio float64 `json:"earlyGameRatio"`
	MidGameRatio   float64 `json:"midGameRatio"`
	LateGameRatio  float64 `json:"lateGameRatio"`
	IsBalanced     bool    `json:"isBalanced"`
}

// SinglePlayerResult is the outcome of SimulateSinglePlayer.
type SinglePlayerResult struct {
	CurrencyName         string             `json:"currencyName"`
	TotalIncome          float64            `json:"totalIncome"`
	TotalExpense         float64            `json:"totalExpense"`
	FinalBalance         float64            `json:"finalBalance"`
	IncomeToExpenseRatio *float64           `json:"incomeToExpenseRatio"`
	StageData            []StageData        `json:"stageData"`
	Pacing               Pacing             `json:"pacing"`
	PinchPoints          []StagePinch       `json:"pinchPoints"`
	Recommendations      []string           `json:"recommendations"`
	IncomeByCategory     map[string]float64 `json:"incomeByCategory"`
	ExpenseByCategory    map[string]float64 `json:"expenseByCategory"`
}

// entry is the shared shape of sources and sinks.
type entry struct {
	name       string
	category   string
	base       float64
	growth     GrowthType
	rate       float64
	occurrence Occurrence
	count      int
	frequency  int
	required   bool
}

// SimulateSinglePlayer walks stages 1..TotalStages, firing every source and
// sink its occurrence allows and keeping a running balance.
func SimulateSinglePlayer(sources []Source, sinks []StageSink, cfg SinglePlayerConfig) (*SinglePlayerResult, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	income := make([]entry, len(sources))
	for i, s := range sources {
		e := entry{name: label(s.Name, s.ID), category: s.Category, base: s.BaseAmount, growth: s.GrowthType,
			rate: s.GrowthRate, occurrence: s.Occurrence, count: s.OccurrenceCount, frequency: s.Frequency}
		if income[i], err = e.normalize(fmt.Sprintf("source %d", i)); err != nil {
			return nil, err
		}
	}
	expense := make([]entry, len(sinks))
	for i, s := range sinks {
		e := entry{name: label(s.Name, s.ID), category: s.Category, base: s.BaseCost, growth: s.GrowthType,
			rate: s.GrowthRate, occurrence: s.Occurrence, count: s.OccurrenceCount, frequency: s.Frequency, required: s.IsRequired}
		if expense[i], err = e.normalize(fmt.Sprintf("sink %d", i)); err != nil {
			return nil, err
		}
	}

	res := &SinglePlayerResult{
		CurrencyName:      currency(cfg.CurrencyName),
		StageData:         make([]StageData, 0, cfg.TotalStages),
		PinchPoints:       []StagePinch{},
		IncomeByCategory:  map[string]float64{},
		ExpenseByCategory: map[string]float64{},
	}

	balance := cfg.InitialCurrency
	for stage := 1; stage <= cfg.TotalStages; stage++ {
		sd := StageData{Stage: stage}
		for _, e := range income {
			amt := e.amountAt(stage, cfg)
			sd.Income += amt
			if amt != 0 {
				res.IncomeByCategory[e.category] += amt
			}
		}
		for _, e := range expense {
			amt := e.amountAt(stage, cfg)
			sd.Expense += amt
			if e.required {
				sd.RequiredExpense += amt
			}
			if amt != 0 {
				res.ExpenseByCategory[e.category] += amt
			}
		}

		carried := balance
		balance += sd.Income - sd.Expense
		sd.Balance = balance
		res.StageData = append(res.StageData, sd)
		res.TotalIncome += sd.Income
		res.TotalExpense += sd.Expense

		if p, ok := pinchAt(sd, carried); ok {
			res.PinchPoints = append(res.PinchPoints, p)
		}
	}

	res.FinalBalance = balance
	if res.TotalExpense > 0 {
		r := res.TotalIncome / res.TotalExpense
		res.IncomeToExpenseRatio = &r
	}
	res.Pacing = pacing(res.StageData, cfg)
	res.Recommendations = singlePlayerRecommendations(res, len(sinks))

	logger.Debug("Single-player economy simulated",
		"stages", cfg.TotalStages, "income", res.TotalIncome, "expense", res.TotalExpense,
		"pinch_points", len(res.PinchPoints))
	return res, nil
}

func (cfg SinglePlayerConfig) normalize() (SinglePlayerConfig, error) {
	if cfg.TotalStages <= 0 {
		return cfg, validation.Errorf("total stages must be positive, got %d", cfg.TotalStages)
	}
	if !validation.Finite(cfg.InitialCurrency) || cfg.InitialCurrency < 0 {
		return cfg, validation.Errorf("initial currency must be a non-negative number, got %v", cfg.InitialCurrency)
	}
	if cfg.EnemiesPerStage < 0 || cfg.BossEvery < 0 || cfg.MilestoneEvery < 0 {
		return cfg, validation.Errorf("stage cadences must not be negative")
	}
	if cfg.EnemiesPerStage == 0 {
		cfg.EnemiesPerStage = DefaultEnemiesPerStage
	}
	if cfg.BossEvery == 0 {
		cfg.BossEvery = DefaultBossEvery
	}
	if cfg.MilestoneEvery == 0 {
		cfg.MilestoneEvery = DefaultMilestoneEvery
	}
	if cfg.EarlyGameEnd < 0 || cfg.MidGameEnd < 0 {
		return cfg, validation.Errorf("phase bounds must not be negative")
	}
	if cfg.EarlyGameEnd == 0 {
		cfg.EarlyGameEnd = cfg.TotalStages / 3
	}
	if cfg.MidGameEnd == 0 {
		cfg.MidGameEnd = 2 * cfg.TotalStages / 3
	}
	if cfg.MidGameEnd < cfg.EarlyGameEnd {
		return cfg, validation.Errorf("mid game end %d is before early game end %d", cfg.MidGameEnd, cfg.EarlyGameEnd)
	}
	return cfg, nil
}

func (e entry) normalize(fallback string) (entry, error) {
	e.name = label(e.name, fallback)
	if e.category == "" {
		e.category = uncategorized
	}
	if !validation.Finite(e.base) || e.base < 0 {
		return e, validation.Errorf("%s: base amount must be a non-negative number", e.name)
	}
	if !validation.Finite(e.rate) {
		return e, validation.Errorf("%s: growth rate must be finite", e.name)
	}
	e.growth = GrowthType(strings.ToLower(string(e.growth)))
	switch e.growth {
	case "":
		e.growth = GrowthLinear
	case GrowthLinear, GrowthExponential, GrowthLogarithmic:
	default:
		return e, validation.Errorf("%s: unknown growth type %q", e.name, e.growth)
	}
	e.occurrence = Occurrence(strings.ToLower(string(e.occurrence)))
	switch e.occurrence {
	case "":
		e.occurrence = PerStage
	case PerStage, PerEnemy, PerBoss, Milestone:
	default:
		return e, validation.Errorf("%s: unknown occurrence %q", e.name, e.occurrence)
	}
	if e.count < 0 || e.frequency < 0 {
		return e, validation.Errorf("%s: occurrence count and frequency must not be negative", e.name)
	}
	return e, nil
}

// amountAt is the total the entry contributes at stage.
func (e entry) amountAt(stage int, cfg SinglePlayerConfig) float64 {
	if e.frequency > 1 && stage%e.frequency != 0 {
		return 0
	}
	times := e.timesAt(stage, cfg)
	if times == 0 {
		return 0
	}
	return Grow(e.growth, e.base, e.rate, stage) * float64(times)
}

func (e entry) timesAt(stage int, cfg SinglePlayerConfig) int {
	count := e.count
	switch e.occurrence {
	case PerEnemy:
		if count == 0 {
			count = cfg.EnemiesPerStage
		}
		return count
	case PerBoss:
		if stage%cfg.BossEvery != 0 {
			return 0
		}
	case Milestone:
		if !isMilestone(stage, cfg) {
			return 0
		}
	}
	if count == 0 {
		count = 1
	}
	return count
}

func isMilestone(stage int, cfg SinglePlayerConfig) bool {
	if len(cfg.Milestones) == 0 {
		return stage%cfg.MilestoneEvery == 0
	}
	for _, m := range cfg.Milestones {
		if m == stage {
			return true
		}
	}
	return false
}

// Grow evaluates a growth curve at stage s (1-based):
// linear base·(1+rate·(s−1)), exponential base·(1+rate)^(s−1),
// logarithmic base·(1+rate·ln s).
func Grow(g GrowthType, base, rate float64, stage int) float64 {
	s := float64(stage)
	switch g {
	case GrowthExponential:
		return base * math.Pow(1+rate, s-1)
	case GrowthLogarithmic:
		return base * (1 + rate*math.Log(s))
	default:
		return base * (1 + rate*(s-1))
	}
}

// pinchAt flags a stage that ends in debt, graded by the deficit relative to
// the stage's expense, or one whose expense alone exceeds what the player
// carried into it.
func pinchAt(sd StageData, carried float64) (StagePinch, bool) {
	if sd.Balance < 0 {
		deficit := -sd.Balance
		sev := PinchMinor
		share := math.Inf(1)
		if sd.Expense > 0 {
			share = deficit / sd.Expense
		}
		switch {
		case share >= 0.5:
			sev = PinchCritical
		case share >= 0.2:
			sev = PinchWarning
		}
		return StagePinch{
			Stage:    sd.Stage,
			Severity: sev,
			Balance:  sd.Balance,
			Reason:   fmt.Sprintf("Balance falls to %.1f after stage %d.", sd.Balance, sd.Stage),
		}, true
	}
	if sd.Expense > carried {
		return StagePinch{
			Stage:    sd.Stage,
			Severity: PinchMinor,
			Balance:  sd.Balance,
			Reason:   fmt.Sprintf("Stage %d costs %.1f but the player enters it with %.1f.", sd.Stage, sd.Expense, carried),
		}, true
	}
	return StagePinch{}, false
}

func pacing(stages []StageData, cfg SinglePlayerConfig) Pacing {
	type band struct {
		sum float64
		n   int
	}
	var early, mid, late band
	for _, sd := range stages {
		if sd.Expense <= 0 {
			continue
		}
		b := &late
		switch {
		case sd.Stage <= cfg.EarlyGameEnd:
			b = &early
		case sd.Stage <= cfg.MidGameEnd:
			b = &mid
		}
		b.sum += sd.Income / sd.Expense
		b.n++
	}
	avg := func(b band) float64 {
		if b.n == 0 {
			return 0
		}
		return b.sum / float64(b.n)
	}
	p := Pacing{EarlyGameRatio: avg(early), MidGameRatio: avg(mid), LateGameRatio: avg(late), IsBalanced: true}
	for _, b := range []band{early, mid, late} {
		if b.n == 0 {
			continue
		}
		if r := avg(b); r < minBalancedRatio || r > maxBalancedRatio {
			p.IsBalanced = false
		}
	}
	return p
}

func singlePlayerRecommendations(res *SinglePlayerResult, sinkCount int) []string {
	recs := []string{}
	if sinkCount == 0 || res.TotalExpense == 0 {
		recs = append(recs, fmt.Sprintf("Nothing costs %s; add sinks so income has a purpose.", res.CurrencyName))
	}

	critical := 0
	for _, p := range res.PinchPoints {
		if p.Severity == PinchCritical {
			critical++
		}
	}
	if critical > 0 {
		recs = append(recs, fmt.Sprintf("%d stage(s) leave the player deep in debt; raise income before stage %d or cut its costs.", critical, firstCritical(res.PinchPoints)))
	}

	phases := []struct {
		name  string
		ratio float64
	}{
		{"Early game", res.Pacing.EarlyGameRatio},
		{"Mid game", res.Pacing.MidGameRatio},
		{"Late game", res.Pacing.LateGameRatio},
	}
	for _, ph := range phases {
		switch {
		case ph.ratio == 0:
		case ph.ratio < minBalancedRatio:
			recs = append(recs, fmt.Sprintf("%s is tight (income:expense %.2f); increase rewards or lower costs.", ph.name, ph.ratio))
		case ph.ratio > maxBalancedRatio:
			recs = append(recs, fmt.Sprintf("%s is generous (income:expense %.2f); players will hoard surplus.", ph.name, ph.ratio))
		}
	}
	return recs
}

func firstCritical(pinches []StagePinch) int {
	for _, p := range pinches {
		if p.Severity == PinchCritical {
			return p.Stage
		}
	}
	return 0
}
