// Package scenario reads the YAML files that describe what to analyze: a
// roster, battle rules, curve samples, stat records and economy models.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lawnchairsociety/balancelab/internal/combat"
	"github.com/lawnchairsociety/balancelab/internal/curve"
	"github.com/lawnchairsociety/balancelab/internal/dataset"
	"github.com/lawnchairsociety/balancelab/internal/economy"
	"github.com/lawnchairsociety/balancelab/internal/validation"
)

// Scenario is one analysis input file. Every section is optional; each
// command reads the sections it needs.
type Scenario struct {
	Name   string               `yaml:"name"`
	Battle *combat.BattleConfig `yaml:"battle"`
	Units  []combat.UnitStats   `yaml:"units"`
	Runs   int                  `yaml:"runs"`
	Seed   int64                `yaml:"seed"`

	Samples  []curve.Sample   `yaml:"samples"`
	Records  []dataset.Record `yaml:"records"`
	StatKeys []string         `yaml:"stat_keys"`

	Economy      *EconomySection      `yaml:"economy"`
	SinglePlayer *SinglePlayerSection `yaml:"single_player"`
}

// EconomySection is the input of a multiplayer economy simulation.
type EconomySection struct {
	Faucets []economy.Faucet `yaml:"faucets" json:"faucets"`
	Sinks   []economy.Sink   `yaml:"sinks" json:"sinks"`
	Config  economy.Config   `yaml:"config" json:"config"`
}

// SinglePlayerSection is the input of a stage-based economy simulation.
type SinglePlayerSection struct {
	Sources []economy.Source           `yaml:"sources" json:"sources"`
	Sinks   []economy.StageSink        `yaml:"sinks" json:"sinks"`
	Config  economy.SinglePlayerConfig `yaml:"config" json:"config"`
}

// Load reads and validates the scenario at path.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse decodes and validates a scenario document. Unknown keys are
// rejected so a misspelled stat does not silently read as zero.
func Parse(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Scenario
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, validation.Errorf("scenario is empty")
		}
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks that every unit has a name and that names are unique.
// Names are compared case-insensitively since reports match on them.
func (s *Scenario) Validate() error {
	if s.Runs < 0 {
		return validation.Errorf("runs must not be negative, got %d", s.Runs)
	}
	seen := make(map[string]int, len(s.Units))
	for i, u := range s.Units {
		label := strings.TrimSpace(u.Label())
		if label == "" {
			return validation.Errorf("unit %d has neither id nor name", i+1)
		}
		key := strings.ToLower(label)
		if prev, ok := seen[key]; ok {
			return validation.Errorf("unit %d duplicates the name %q of unit %d", i+1, label, prev+1)
		}
		seen[key] = i
	}
	return nil
}

// Unit returns the unit with the given name or id, ignoring case.
func (s *Scenario) Unit(name string) (combat.UnitStats, bool) {
	for _, u := range s.Units {
		if strings.EqualFold(u.Label(), name) || strings.EqualFold(u.ID, name) {
			return u, true
		}
	}
	return combat.UnitStats{}, false
}

// BattleConfig returns the scenario's battle rules, or def when the file
// has none.
func (s *Scenario) BattleConfig(def combat.BattleConfig) combat.BattleConfig {
	if s.Battle == nil {
		return def
	}
	return *s.Battle
}

// RunsOr returns the scenario's run count, or def when unset.
func (s *Scenario) RunsOr(def int) int {
	if s.Runs > 0 {
		return s.Runs
	}
	return def
}

// StatRecords returns the explicit records, or one record per unit built
// from its stat block when the file lists none.
func (s *Scenario) StatRecords() []dataset.Record {
	if len(s.Records) > 0 {
		return s.Records
	}
	records := make([]dataset.Record, 0, len(s.Units))
	for _, u := range s.Units {
		records = append(records, dataset.Record(u.Fields()))
	}
	return records
}
