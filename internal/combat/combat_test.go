package combat

import (
	"errors"
	"math"
	"testing"

	"github.com/lawnchairsociety/balancelab/internal/rng"
	"github.com/lawnchairsociety/balancelab/internal/validation"
)

func knight() UnitStats {
	return UnitStats{ID: "knight", Name: "Knight", HP: 120, MaxHP: 120, Atk: 14, Def: 6, Speed: 1.0, CritRate: 0.1, CritDamage: 1.5, Accuracy: 0.95, Evasion: 0.05}
}

func rogue() UnitStats {
	return UnitStats{ID: "rogue", Name: "Rogue", HP: 80, MaxHP: 80, Atk: 10, Def: 2, Speed: 1.6, CritRate: 0.3, CritDamage: 2.0, Accuracy: 0.9, Evasion: 0.2}
}

func TestResolveBattleTerminatesWithinMaxDuration(t *testing.T) {
	formulas := []DamageFormula{DamageSimple, DamageMMORPG, DamagePercentage, DamageRandom, DamageMultiplicative}
	defenses := []DefenseFormula{DefenseSubtractive, DefenseDivisive, DefenseMultiplicative, DefenseLogarithmic}

	for _, df := range formulas {
		for _, mf := range defenses {
			t.Run(string(df)+"/"+string(mf), func(t *testing.T) {
				cfg := BattleConfig{DamageFormula: df, DefenseFormula: mf, MaxDuration: 30, TimeStep: 0.1}
				for seed := int64(1); seed <= 20; seed++ {
					out, err := ResolveBattle(knight(), rogue(), cfg, rng.New(seed))
					if err != nil {
						t.Fatalf("ResolveBattle returned error: %v", err)
					}
					switch out.Winner {
					case SideA, SideB, Draw:
					default:
						t.Fatalf("unexpected winner %q", out.Winner)
					}
					if out.Duration > cfg.MaxDuration {
						t.Errorf("duration %v exceeds max %v", out.Duration, cfg.MaxDuration)
					}
					for i, e := range out.Log {
						if e.Time > cfg.MaxDuration {
							t.Fatalf("log entry %d at %v exceeds max duration", i, e.Time)
						}
						if i > 0 && e.Time < out.Log[i-1].Time {
							t.Fatalf("log not ordered by time at entry %d", i)
						}
					}
				}
			})
		}
	}
}

func TestResolveBattleDeathEndsLog(t *testing.T) {
	out, err := ResolveBattle(knight(), rogue(), DefaultBattleConfig(), rng.New(3))
	if err != nil {
		t.Fatalf("ResolveBattle returned error: %v", err)
	}
	if out.Winner == Draw {
		t.Skip("battle ended in a draw for this seed")
	}
	last := out.Log[len(out.Log)-1]
	if last.Action != ActionDeath {
		t.Fatalf("last log entry = %q, want death", last.Action)
	}
	loser := "Rogue"
	if out.Winner == SideB {
		loser = "Knight"
	}
	if last.Actor != loser {
		t.Errorf("death logged for %q, want %q", last.Actor, loser)
	}
	if last.Time != out.Duration {
		t.Errorf("death at %v but duration %v", last.Time, out.Duration)
	}
}

func TestResolveBattleDrawAtMaxDuration(t *testing.T) {
	// Both sides always miss against full evasion.
	a := UnitStats{Name: "A", HP: 100, Atk: 10, Speed: 1, Evasion: 1}
	b := UnitStats{Name: "B", HP: 100, Atk: 10, Speed: 1, Evasion: 1}
	cfg := BattleConfig{MaxDuration: 5, TimeStep: 0.5}

	out, err := ResolveBattle(a, b, cfg, rng.New(1))
	if err != nil {
		t.Fatalf("ResolveBattle returned error: %v", err)
	}
	if out.Winner != Draw {
		t.Fatalf("winner = %q, want draw", out.Winner)
	}
	if out.Duration != 5 {
		t.Errorf("duration = %v, want 5", out.Duration)
	}
	for _, e := range out.Log {
		if !e.IsMiss {
			t.Fatalf("expected only misses, got %+v", e)
		}
	}
	if out.TotalDamageA != 0 || out.TotalDamageB != 0 {
		t.Errorf("damage recorded on a draw of misses: %v/%v", out.TotalDamageA, out.TotalDamageB)
	}
}

func TestResolveBattleDeterministicWithSeed(t *testing.T) {
	cfg := BattleConfig{DamageFormula: DamageRandom, DefenseFormula: DefenseDivisive, MaxDuration: 60}
	first, err := ResolveBattleSeeded(knight(), rogue(), cfg, 777)
	if err != nil {
		t.Fatalf("ResolveBattleSeeded returned error: %v", err)
	}
	second, _ := ResolveBattleSeeded(knight(), rogue(), cfg, 777)

	if first.Winner != second.Winner || first.Duration != second.Duration {
		t.Fatalf("same seed produced different outcomes: %+v vs %+v", first.Winner, second.Winner)
	}
	if len(first.Log) != len(second.Log) {
		t.Fatalf("log lengths differ: %d vs %d", len(first.Log), len(second.Log))
	}
	if first.Seed != 777 {
		t.Errorf("Seed = %d, want 777", first.Seed)
	}
}

func TestResolveBattleFreshSeedReported(t *testing.T) {
	out, err := ResolveBattleSeeded(knight(), rogue(), DefaultBattleConfig(), 0)
	if err != nil {
		t.Fatalf("ResolveBattleSeeded returned error: %v", err)
	}
	if out.Seed == 0 {
		t.Error("fresh seed was not reported on the outcome")
	}
}

func TestResolveBattleSilentSkipsLog(t *testing.T) {
	cfg := DefaultBattleConfig()
	cfg.Silent = true
	out, err := ResolveBattle(knight(), rogue(), cfg, rng.New(11))
	if err != nil {
		t.Fatalf("ResolveBattle returned error: %v", err)
	}
	if len(out.Log) != 0 {
		t.Errorf("silent battle recorded %d log entries", len(out.Log))
	}
	if out.TotalDamageA == 0 && out.TotalDamageB == 0 {
		t.Error("silent battle recorded no damage")
	}
}

func TestResolveBattleInvalidInput(t *testing.T) {
	dead := UnitStats{Name: "Ghost"}
	tests := []struct {
		name string
		a, b UnitStats
		cfg  BattleConfig
	}{
		{"both units without HP", dead, dead, DefaultBattleConfig()},
		{"one unit without HP", knight(), dead, DefaultBattleConfig()},
		{"unknown damage formula", knight(), rogue(), BattleConfig{DamageFormula: "laser"}},
		{"unknown defense formula", knight(), rogue(), BattleConfig{DefenseFormula: "shield"}},
		{"negative max duration", knight(), rogue(), BattleConfig{MaxDuration: -1}},
		{"penetration percent above one", knight(), rogue(), BattleConfig{ArmorPenetration: &ArmorPenetration{Percent: 1.5}}},
		{"crit rate above one", UnitStats{Name: "X", HP: 10, CritRate: 2}, rogue(), DefaultBattleConfig()},
		{"negative HP", UnitStats{Name: "X", HP: -50, MaxHP: 100, Atk: 10, Speed: 1}, UnitStats{Name: "Y", HP: -50, MaxHP: 100, Atk: 10, Speed: 1}, DefaultBattleConfig()},
		{"negative max HP", UnitStats{Name: "X", HP: 50, MaxHP: -100, Atk: 10, Speed: 1}, rogue(), DefaultBattleConfig()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveBattle(tt.a, tt.b, tt.cfg, rng.New(1))
			if !errors.Is(err, validation.ErrInvalidInput) {
				t.Errorf("error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestNormalizeRejectsNonFiniteStats(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*UnitStats)
	}{
		{"infinite speed", func(u *UnitStats) { u.Speed = math.Inf(1) }},
		{"nan speed", func(u *UnitStats) { u.Speed = math.NaN() }},
		{"infinite atk", func(u *UnitStats) { u.Atk = math.Inf(1) }},
		{"nan def", func(u *UnitStats) { u.Def = math.NaN() }},
		{"infinite hp", func(u *UnitStats) { u.HP = math.Inf(1) }},
		{"infinite max hp", func(u *UnitStats) { u.MaxHP = math.Inf(1) }},
		{"nan crit damage", func(u *UnitStats) { u.CritDamage = math.NaN() }},
		{"nan accuracy", func(u *UnitStats) { u.Accuracy = math.NaN() }},
		{"negative infinite evasion", func(u *UnitStats) { u.Evasion = math.Inf(-1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := knight()
			tt.mod(&u)
			if _, err := u.Normalize(); !errors.Is(err, validation.ErrInvalidInput) {
				t.Errorf("Normalize error = %v, want ErrInvalidInput", err)
			}
			if _, err := ResolveBattle(u, rogue(), DefaultBattleConfig(), rng.New(1)); !errors.Is(err, validation.ErrInvalidInput) {
				t.Errorf("ResolveBattle error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestResolveBattleTimesNeverPassMaxDuration(t *testing.T) {
	tank := UnitStats{Name: "Tank", HP: 1e6, Atk: 5, Speed: 7}
	cfg := BattleConfig{MaxDuration: 0.3, TimeStep: 0.1}
	for seed := int64(1); seed <= 50; seed++ {
		out, err := ResolveBattle(tank, tank, cfg, rng.New(seed))
		if err != nil {
			t.Fatalf("ResolveBattle returned error: %v", err)
		}
		if out.Duration > cfg.MaxDuration {
			t.Fatalf("seed %d: duration %v exceeds max %v", seed, out.Duration, cfg.MaxDuration)
		}
		for i, e := range out.Log {
			if e.Time > cfg.MaxDuration {
				t.Fatalf("seed %d: log entry %d at %v exceeds max %v", seed, i, e.Time, cfg.MaxDuration)
			}
		}
	}
}

func TestSpeedFloor(t *testing.T) {
	u, err := UnitStats{Name: "Slug", HP: 10, Speed: -3}.Normalize()
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if u.Speed != MinSpeed {
		t.Errorf("Speed = %v, want %v", u.Speed, MinSpeed)
	}
}

func TestNormalizeFillsHP(t *testing.T) {
	u, err := UnitStats{Name: "Imp", MaxHP: 40}.Normalize()
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if u.HP != 40 {
		t.Errorf("HP = %v, want 40", u.HP)
	}
	u, _ = UnitStats{Name: "Imp", HP: 25}.Normalize()
	if u.MaxHP != 25 {
		t.Errorf("MaxHP = %v, want 25", u.MaxHP)
	}
}

func TestFasterUnitActsMoreOften(t *testing.T) {
	fast := UnitStats{Name: "Fast", HP: 1000, Atk: 1, Speed: 4}
	slow := UnitStats{Name: "Slow", HP: 1000, Atk: 1, Speed: 1}
	out, err := ResolveBattle(fast, slow, BattleConfig{MaxDuration: 10, TimeStep: 0.05}, rng.New(2))
	if err != nil {
		t.Fatalf("ResolveBattle returned error: %v", err)
	}
	counts := map[string]int{}
	for _, e := range out.Log {
		if e.Action == ActionAttack {
			counts[e.Actor]++
		}
	}
	if counts["Fast"] < 3*counts["Slow"] {
		t.Errorf("fast attacked %d times, slow %d; expected roughly 4x", counts["Fast"], counts["Slow"])
	}
}

func TestEffectiveDefense(t *testing.T) {
	tests := []struct {
		name string
		def  float64
		pen  *ArmorPenetration
		want float64
	}{
		{"no penetration", 50, nil, 50},
		{"flat only", 50, &ArmorPenetration{Flat: 10}, 40},
		{"percent only", 50, &ArmorPenetration{Percent: 0.5}, 25},
		{"flat then percent", 50, &ArmorPenetration{Flat: 10, Percent: 0.5}, 20},
		{"flat exceeds defense", 5, &ArmorPenetration{Flat: 10, Percent: 0.5}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EffectiveDefense(tt.def, tt.pen); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("EffectiveDefense = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRawDamage(t *testing.T) {
	tests := []struct {
		formula DamageFormula
		atk     float64
		def     float64
		want    float64
	}{
		{DamageSimple, 20, 10, 20},
		{DamageMMORPG, 20, 20, 10},
		{DamagePercentage, 20, 25, 15},
		{DamagePercentage, 20, 150, 0},
		{DamageMultiplicative, 20, 100, 10},
	}
	for _, tt := range tests {
		t.Run(string(tt.formula), func(t *testing.T) {
			if got := RawDamage(tt.formula, tt.atk, tt.def, nil); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RawDamage(%s, %v, %v) = %v, want %v", tt.formula, tt.atk, tt.def, got, tt.want)
			}
		})
	}
}

func TestRawDamageRandomSpread(t *testing.T) {
	r := rng.New(4)
	for i := 0; i < 1000; i++ {
		got := RawDamage(DamageRandom, 100, 0, r)
		if got < 80 || got >= 120 {
			t.Fatalf("random damage %v outside [80,120)", got)
		}
	}
}

func TestMitigate(t *testing.T) {
	tests := []struct {
		formula DefenseFormula
		raw     float64
		def     float64
		want    float64
	}{
		{DefenseSubtractive, 20, 5, 15},
		{DefenseSubtractive, 20, 50, MinDamage},
		{DefenseDivisive, 20, 100, 10},
		{DefenseMultiplicative, 20, 50, 10},
		{DefenseMultiplicative, 100, 500, 10},
		{DefenseLogarithmic, 20, 9, 10},
	}
	for _, tt := range tests {
		t.Run(string(tt.formula), func(t *testing.T) {
			if got := Mitigate(tt.formula, tt.raw, tt.def); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Mitigate(%s, %v, %v) = %v, want %v", tt.formula, tt.raw, tt.def, got, tt.want)
			}
		})
	}
}

func TestTheoreticalDPS(t *testing.T) {
	a := UnitStats{Name: "A", HP: 10, Atk: 20, Speed: 2, CritRate: 0.5, CritDamage: 2}
	d := UnitStats{Name: "D", HP: 10, Def: 0}
	// (0.5*20 + 0.5*40) * 2 attacks/s
	if got := TheoreticalDPS(a, d, DefaultBattleConfig()); math.Abs(got-60) > 1e-9 {
		t.Errorf("TheoreticalDPS = %v, want 60", got)
	}
	d.Evasion = 0.5
	if got := TheoreticalDPS(a, d, DefaultBattleConfig()); math.Abs(got-30) > 1e-9 {
		t.Errorf("TheoreticalDPS with evasion = %v, want 30", got)
	}
}

func TestFieldsRecord(t *testing.T) {
	f := knight().Fields()
	if f["atk"] != 14 || f["speed"] != 1.0 {
		t.Errorf("Fields() = %v", f)
	}
}
