package combat

import (
	"math"
	"math/rand"

	"github.com/lawnchairsociety/balancelab/internal/rng"
)

// Spread of the random damage formula around attack.
const (
	randomDamageLow  = 0.8
	randomDamageHigh = 1.2
)

// multiplicativeDefenseCap limits percent-style mitigation so a hit always lands something.
const multiplicativeDefenseCap = 90.0

// EffectiveDefense applies armor penetration to def: flat first, then percent.
func EffectiveDefense(def float64, pen *ArmorPenetration) float64 {
	if pen == nil {
		return math.Max(0, def)
	}
	eff := math.Max(0, def-pen.Flat)
	return eff * (1 - pen.Percent)
}

// RawDamage computes pre-crit, pre-mitigation damage. r is only drawn from
// by the random formula and may be nil for the others.
func RawDamage(f DamageFormula, atk, effDef float64, r *rand.Rand) float64 {
	switch f {
	case DamageMMORPG:
		if atk+effDef <= 0 {
			return 0
		}
		return atk * atk / (atk + effDef)
	case DamagePercentage:
		return atk * math.Max(0, 1-effDef/100)
	case DamageRandom:
		if r == nil {
			return atk
		}
		return atk * rng.Between(r, randomDamageLow, randomDamageHigh)
	case DamageMultiplicative:
		return atk * 100 / (100 + effDef)
	default:
		return atk
	}
}

// Mitigate reduces raw damage by the defender's effective defense.
func Mitigate(f DefenseFormula, raw, effDef float64) float64 {
	var dmg float64
	switch f {
	case DefenseDivisive:
		dmg = raw / (1 + effDef/100)
	case DefenseMultiplicative:
		dmg = raw * (1 - math.Min(effDef, multiplicativeDefenseCap)/100)
	case DefenseLogarithmic:
		dmg = raw / (1 + math.Log10(1+effDef))
	default:
		dmg = raw - effDef
	}
	if dmg < MinDamage {
		return MinDamage
	}
	return dmg
}

// HitChance is the probability an attack from attacker lands on defender.
func HitChance(attacker, defender UnitStats) float64 {
	acc := attacker.Accuracy
	if acc <= 0 || acc > 1 {
		acc = 1
	}
	return clamp01(acc * (1 - clamp01(defender.Evasion)))
}

// TheoreticalDPS is the expected damage per second attacker deals to
// defender, ignoring overkill and battle length.
func TheoreticalDPS(attacker, defender UnitStats, cfg BattleConfig) float64 {
	a, err := attacker.Normalize()
	if err != nil {
		return 0
	}
	d, err := defender.Normalize()
	if err != nil {
		return 0
	}
	cfg, err = cfg.Normalize()
	if err != nil {
		return 0
	}
	effDef := EffectiveDefense(d.Def, cfg.ArmorPenetration)
	// The random formula has mean atk, which is what RawDamage returns without a stream.
	raw := RawDamage(cfg.DamageFormula, a.Atk, effDef, nil)
	normal := Mitigate(cfg.DefenseFormula, raw, effDef)
	crit := Mitigate(cfg.DefenseFormula, raw*a.CritDamage, effDef)
	expected := (1-a.CritRate)*normal + a.CritRate*crit
	return a.Speed * HitChance(a, d) * expected
}
