package scenario

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/lawnchairsociety/balancelab/internal/combat"
	"github.com/lawnchairsociety/balancelab/internal/economy"
	"github.com/lawnchairsociety/balancelab/internal/validation"
)

const fullScenario = `
name: starter roster
runs: 2000
seed: 42
battle:
  damage_formula: mmorpg
  defense_formula: divisive
  max_duration: 90
units:
  - name: Knight
    hp: 120
    atk: 18
    def: 12
    speed: 1
  - name: Rogue
    hp: 80
    atk: 22
    def: 4
    speed: 1.6
    crit_rate: 0.25
    crit_damage: 2
samples:
  - {level: 1, power: 10}
  - {level: 2, power: 20}
  - {level: 3, power: 30}
records:
  - {atk: 10, win_rate: 0.4}
  - {atk: 20, win_rate: 0.6}
stat_keys: [atk, win_rate]
economy:
  faucets:
    - {name: quests, rate_per_hour: 100, player_percentage: 1}
  sinks:
    - {name: repairs, cost_per_use: 20, uses_per_hour: 3, player_percentage: 0.8}
  config:
    currency_name: gold
    player_count: 500
    initial_supply: 100000
single_player:
  sources:
    - {name: loot, base_amount: 10, occurrence: per_enemy}
  sinks:
    - {name: potions, base_cost: 15, is_required: true}
  config:
    total_stages: 20
    enemies_per_stage: 3
`

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write scenario: %v", err)
	}
	return path
}

func TestLoadFullScenario(t *testing.T) {
	s, err := Load(writeScenario(t, fullScenario))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if s.Name != "starter roster" || s.Runs != 2000 || s.Seed != 42 {
		t.Errorf("header = %q/%d/%d", s.Name, s.Runs, s.Seed)
	}
	if len(s.Units) != 2 || s.Units[1].CritRate != 0.25 {
		t.Errorf("units = %+v", s.Units)
	}
	cfg := s.BattleConfig(combat.DefaultBattleConfig())
	if cfg.DamageFormula != combat.DamageMMORPG || cfg.DefenseFormula != combat.DefenseDivisive || cfg.MaxDuration != 90 {
		t.Errorf("battle = %+v", cfg)
	}
	if len(s.Samples) != 3 || s.Samples[2].Power != 30 {
		t.Errorf("samples = %+v", s.Samples)
	}
	if len(s.Records) != 2 || s.Records[1]["win_rate"] != 0.6 {
		t.Errorf("records = %+v", s.Records)
	}
	if len(s.StatKeys) != 2 {
		t.Errorf("stat_keys = %v", s.StatKeys)
	}
	if s.Economy == nil || s.Economy.Config.PlayerCount != 500 || len(s.Economy.Sinks) != 1 {
		t.Errorf("economy = %+v", s.Economy)
	}
	if s.SinglePlayer == nil || s.SinglePlayer.Sources[0].Occurrence != economy.PerEnemy {
		t.Errorf("single_player = %+v", s.SinglePlayer)
	}
	if !s.SinglePlayer.Sinks[0].IsRequired || s.SinglePlayer.Config.TotalStages != 20 {
		t.Errorf("single_player sinks/config = %+v", s.SinglePlayer)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load accepted a missing file")
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		invalid bool
	}{
		{"empty", "", true},
		{"malformed", "units: [unclosed", false},
		{"unknown key", "units:\n  - name: Knight\n    hp: 10\n    strength: 5\n", false},
		{"duplicate names", "units:\n  - {name: Knight, hp: 10}\n  - {name: knight, hp: 12}\n", true},
		{"unnamed unit", "units:\n  - {hp: 10}\n", true},
		{"negative runs", "runs: -1\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			if err == nil {
				t.Fatal("Parse accepted the document")
			}
			if got := errors.Is(err, validation.ErrInvalidInput); got != tt.invalid {
				t.Errorf("errors.Is(ErrInvalidInput) = %v, want %v (err: %v)", got, tt.invalid, err)
			}
		})
	}
}

func TestUnitLookup(t *testing.T) {
	s, err := Parse([]byte("units:\n  - {id: kn, name: Knight, hp: 10}\n  - {id: rg, hp: 8}\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if u, ok := s.Unit("knight"); !ok || u.ID != "kn" {
		t.Errorf("Unit(knight) = %+v, %v", u, ok)
	}
	if u, ok := s.Unit("RG"); !ok || u.HP != 8 {
		t.Errorf("Unit(RG) = %+v, %v", u, ok)
	}
	if _, ok := s.Unit("mage"); ok {
		t.Error("Unit(mage) found a unit")
	}
}

func TestDefaults(t *testing.T) {
	s, err := Parse([]byte("units:\n  - {name: Knight, hp: 10, atk: 3}\n  - {name: Rogue, hp: 8, atk: 4}\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	def := combat.DefaultBattleConfig()
	if got := s.BattleConfig(def); got != def {
		t.Errorf("BattleConfig without battle section = %+v, want defaults", got)
	}
	if got := s.RunsOr(750); got != 750 {
		t.Errorf("RunsOr = %d, want 750", got)
	}

	records := s.StatRecords()
	if len(records) != 2 || records[1]["atk"] != 4 || records[0]["hp"] != 10 {
		t.Errorf("StatRecords from units = %+v", records)
	}
}
