// Package economy projects currency flows: a steady-state multi-player
// faucet/sink model and a stage-by-stage single-player model.
package economy

import (
	"fmt"
	"math"
	"sort"

	"github.com/lawnchairsociety/balancelab/internal/logger"
	"github.com/lawnchairsociety/balancelab/internal/validation"
)

// Severity grades a multi-player economy.
type Severity string

const (
	SeverityGood     Severity = "good"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Ratio distances from 1.0 at which the faucet:sink balance is graded.
const (
	warningRatioDistance  = 0.2
	criticalRatioDistance = 0.5

	// dominantShare is the share of total inflow or outflow above which a
	// single faucet or sink is called out.
	dominantShare = 0.5
)

// Faucet is a currency source earned at a steady hourly rate by a fraction
// of the player base.
type Faucet struct {
	ID               string  `yaml:"id" json:"id"`
	Name             string  `yaml:"name" json:"name"`
	Category         string  `yaml:"category" json:"category,omitempty"`
	RatePerHour      float64 `yaml:"rate_per_hour" json:"ratePerHour"`
	PlayerPercentage float64 `yaml:"player_percentage" json:"playerPercentage"`
}

// Sink is a currency drain: a cost paid UsesPerHour times an hour by a
// fraction of the player base.
type Sink struct {
	ID               string  `yaml:"id" json:"id"`
	Name             string  `yaml:"name" json:"name"`
	Category         string  `yaml:"category" json:"category,omitempty"`
	CostPerUse       float64 `yaml:"cost_per_use" json:"costPerUse"`
	UsesPerHour      float64 `yaml:"uses_per_hour" json:"usesPerHour"`
	PlayerPercentage float64 `yaml:"player_percentage" json:"playerPercentage"`
	IsRequired       bool    `yaml:"is_required" json:"isRequired"`
}

// Config describes the simulated server.
type Config struct {
	CurrencyName        string  `yaml:"currency_name" json:"currencyName"`
	PlayerCount         int     `yaml:"player_count" json:"playerCount"`
	InitialSupply       float64 `yaml:"initial_supply" json:"initialSupply"`
	SimulationDays      int     `yaml:"simulation_days" json:"simulationDays"`
	TargetInflationRate float64 `yaml:"target_inflation_rate" json:"targetInflationRate"`
}

// FlowShare is one faucet's or sink's part of the total flow.
type FlowShare struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	PerHour float64 `json:"perHour"`
	Share   float64 `json:"share"`
}

// PinchPoint is the overall verdict on a multi-player economy.
type PinchPoint struct {
	Severity       Severity `json:"severity"`
	Recommendation string   `json:"recommendation"`
}

// Result is the projection returned by SimulateEconomy. Flow rates are per
// average player; PopulationNetFlowPerHour scales the net flow by PlayerCount.
type Result struct {
	CurrencyName             string      `json:"currencyName"`
	TotalFaucetPerHour       float64     `json:"totalFaucetPerHour"`
	TotalSinkPerHour         float64     `json:"totalSinkPerHour"`
	RequiredSinkPerHour      float64     `json:"requiredSinkPerHour"`
	NetFlowPerHour           float64     `json:"netFlowPerHour"`
	PopulationNetFlowPerHour float64     `json:"populationNetFlowPerHour"`
	SupplyOverTime           []float64   `json:"supplyOverTime"`
	InflationRate            float64     `json:"inflationRate"`
	DaysToDouble             *float64    `json:"daysToDouble"`
	FaucetSinkRatio          *float64    `json:"faucetSinkRatio"`
	FaucetBreakdown          []FlowShare `json:"faucetBreakdown"`
	SinkBreakdown            []FlowShare `json:"sinkBreakdown"`
	Warnings                 []string    `json:"warnings"`
	PinchPoint               PinchPoint  `json:"pinchPoint"`
}

// SimulateEconomy projects a constant-rate economy. Per player, inflow is
// Σ rate·pct and outflow Σ cost·uses·pct; supply on day d is
// InitialSupply + net·24·d for d in [0, SimulationDays]. The daily inflation
// rate is net·24 / InitialSupply, and the doubling time follows from
// ln 2 / ln(1 + rate) when the rate is positive.
func SimulateEconomy(faucets []Faucet, sinks []Sink, cfg Config) (*Result, error) {
	if err := validateEconomy(faucets, sinks, cfg); err != nil {
		return nil, err
	}

	res := &Result{
		CurrencyName:    currency(cfg.CurrencyName),
		FaucetBreakdown: make([]FlowShare, 0, len(faucets)),
		SinkBreakdown:   make([]FlowShare, 0, len(sinks)),
		Warnings:        []string{},
	}
	for _, f := range faucets {
		flow := f.RatePerHour * f.PlayerPercentage
		res.TotalFaucetPerHour += flow
		res.FaucetBreakdown = append(res.FaucetBreakdown, FlowShare{ID: f.ID, Name: label(f.Name, f.ID), PerHour: flow})
	}
	for _, s := range sinks {
		flow := s.CostPerUse * s.UsesPerHour * s.PlayerPercentage
		res.TotalSinkPerHour += flow
		if s.IsRequired {
			res.RequiredSinkPerHour += flow
		}
		res.SinkBreakdown = append(res.SinkBreakdown, FlowShare{ID: s.ID, Name: label(s.Name, s.ID), PerHour: flow})
	}
	shares(res.FaucetBreakdown, res.TotalFaucetPerHour)
	shares(res.SinkBreakdown, res.TotalSinkPerHour)

	res.NetFlowPerHour = res.TotalFaucetPerHour - res.TotalSinkPerHour
	res.PopulationNetFlowPerHour = res.NetFlowPerHour * float64(cfg.PlayerCount)

	daily := res.NetFlowPerHour * 24
	res.SupplyOverTime = make([]float64, cfg.SimulationDays+1)
	for d := range res.SupplyOverTime {
		res.SupplyOverTime[d] = cfg.InitialSupply + daily*float64(d)
	}

	if cfg.InitialSupply > 0 {
		res.InflationRate = daily / cfg.InitialSupply
	} else {
		res.Warnings = append(res.Warnings, "Initial supply is zero; inflation rate cannot be measured and is reported as 0.")
	}
	if res.InflationRate > 0 {
		days := math.Ln2 / math.Log1p(res.InflationRate)
		res.DaysToDouble = &days
	}
	if res.TotalSinkPerHour > 0 {
		ratio := res.TotalFaucetPerHour / res.TotalSinkPerHour
		res.FaucetSinkRatio = &ratio
	}

	res.Warnings = append(res.Warnings, economyWarnings(res, sinks, cfg)...)
	res.PinchPoint = grade(res, cfg)

	logger.Debug("Economy simulated",
		"currency", res.CurrencyName, "net_flow_per_hour", res.NetFlowPerHour,
		"inflation", res.InflationRate, "severity", res.PinchPoint.Severity)
	return res, nil
}

func validateEconomy(faucets []Faucet, sinks []Sink, cfg Config) error {
	if cfg.SimulationDays <= 0 {
		return validation.Errorf("simulation days must be positive, got %d", cfg.SimulationDays)
	}
	if cfg.PlayerCount < 0 {
		return validation.Errorf("player count must not be negative, got %d", cfg.PlayerCount)
	}
	if !validation.Finite(cfg.InitialSupply) || cfg.InitialSupply < 0 {
		return validation.Errorf("initial supply must be a non-negative number, got %v", cfg.InitialSupply)
	}
	if !validation.Finite(cfg.TargetInflationRate) || cfg.TargetInflationRate < 0 {
		return validation.Errorf("target inflation rate must be a non-negative number, got %v", cfg.TargetInflationRate)
	}
	for i, f := range faucets {
		name := label(f.Name, fmt.Sprintf("faucet %d", i))
		if !validation.Finite(f.RatePerHour) || f.RatePerHour < 0 {
			return validation.Errorf("%s: rate per hour must be a non-negative number", name)
		}
		if !validation.Fraction(f.PlayerPercentage) {
			return validation.Errorf("%s: player percentage %v outside [0,1]", name, f.PlayerPercentage)
		}
	}
	for i, s := range sinks {
		name := label(s.Name, fmt.Sprintf("sink %d", i))
		if !validation.Finite(s.CostPerUse) || s.CostPerUse < 0 {
			return validation.Errorf("%s: cost per use must be a non-negative number", name)
		}
		if !validation.Finite(s.UsesPerHour) || s.UsesPerHour < 0 {
			return validation.Errorf("%s: uses per hour must be a non-negative number", name)
		}
		if !validation.Fraction(s.PlayerPercentage) {
			return validation.Errorf("%s: player percentage %v outside [0,1]", name, s.PlayerPercentage)
		}
	}
	return nil
}

func economyWarnings(res *Result, sinks []Sink, cfg Config) []string {
	var w []string
	if res.TotalFaucetPerHour == 0 && res.TotalSinkPerHour == 0 {
		w = append(w, "No currency flows: every faucet and sink is idle.")
	}
	if res.TotalFaucetPerHour > 0 && res.TotalSinkPerHour == 0 {
		w = append(w, fmt.Sprintf("No active sinks: %s accumulates without limit.", res.CurrencyName))
	}
	if len(sinks) > 0 && res.RequiredSinkPerHour == 0 {
		w = append(w, "No required sinks; players can avoid every expense.")
	}
	if cfg.TargetInflationRate > 0 && res.InflationRate > cfg.TargetInflationRate {
		w = append(w, fmt.Sprintf("Daily inflation %.2f%% exceeds the %.2f%% target.", res.InflationRate*100, cfg.TargetInflationRate*100))
	}
	for d, s := range res.SupplyOverTime {
		if s < 0 {
			w = append(w, fmt.Sprintf("Supply drops below zero on day %d; players cannot sustain the sinks.", d))
			break
		}
	}
	for _, f := range res.FaucetBreakdown {
		if len(res.FaucetBreakdown) > 1 && f.Share > dominantShare {
			w = append(w, fmt.Sprintf("%s provides %.0f%% of all income.", f.Name, f.Share*100))
		}
	}
	for _, s := range res.SinkBreakdown {
		if len(res.SinkBreakdown) > 1 && s.Share > dominantShare {
			w = append(w, fmt.Sprintf("%s absorbs %.0f%% of all spending.", s.Name, s.Share*100))
		}
	}
	return w
}

// grade combines the faucet:sink distance from 1.0 with inflation against
// the target; the worse of the two wins.
func grade(res *Result, cfg Config) PinchPoint {
	if res.FaucetSinkRatio == nil {
		if res.TotalFaucetPerHour > 0 {
			return PinchPoint{SeverityCritical, "Add sinks: currency enters the economy with no way out."}
		}
		return PinchPoint{SeverityWarning, "Add faucets and sinks so the currency has a purpose."}
	}

	ratio := *res.FaucetSinkRatio
	dist := math.Abs(ratio - 1)
	sev := SeverityGood
	switch {
	case dist >= criticalRatioDistance:
		sev = SeverityCritical
	case dist >= warningRatioDistance:
		sev = SeverityWarning
	}
	if t := cfg.TargetInflationRate; t > 0 {
		switch {
		case res.InflationRate > 2*t:
			sev = SeverityCritical
		case res.InflationRate > t && sev == SeverityGood:
			sev = SeverityWarning
		}
	}

	var rec string
	switch {
	case sev == SeverityGood:
		rec = "Faucets and sinks are in balance."
	case ratio > 1:
		rec = fmt.Sprintf("Income outpaces spending %.2f:1; add sinks or reduce faucet rates.", ratio)
	default:
		rec = fmt.Sprintf("Spending outpaces income (ratio %.2f); add faucets or lower costs.", ratio)
	}
	return PinchPoint{Severity: sev, Recommendation: rec}
}

func shares(flows []FlowShare, total float64) {
	if total <= 0 {
		return
	}
	for i := range flows {
		flows[i].Share = flows[i].PerHour / total
	}
	sort.SliceStable(flows, func(i, j int) bool { return flows[i].PerHour > flows[j].PerHour })
}

func currency(name string) string {
	if name == "" {
		return "currency"
	}
	return name
}

func label(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
