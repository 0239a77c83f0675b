// Package combat resolves a single battle between two stat blocks.
package combat

import (
	"strings"

	"github.com/lawnchairsociety/balancelab/internal/validation"
)

// MinSpeed is the floor applied to unit speed so turn pacing never divides by zero.
const MinSpeed = 0.1

// MinDamage is the least damage a landed hit deals after all reductions.
const MinDamage = 1.0

// DamageFormula selects how raw damage is derived from attack.
type DamageFormula string

const (
	DamageSimple         DamageFormula = "simple"
	DamageMMORPG         DamageFormula = "mmorpg"
	DamagePercentage     DamageFormula = "percentage"
	DamageRandom         DamageFormula = "random"
	DamageMultiplicative DamageFormula = "multiplicative"
)

// IsValid returns true if f names a known damage formula.
func (f DamageFormula) IsValid() bool {
	switch f {
	case DamageSimple, DamageMMORPG, DamagePercentage, DamageRandom, DamageMultiplicative:
		return true
	}
	return false
}

// DefenseFormula selects how defense reduces incoming damage.
type DefenseFormula string

const (
	DefenseSubtractive    DefenseFormula = "subtractive"
	DefenseDivisive       DefenseFormula = "divisive"
	DefenseMultiplicative DefenseFormula = "multiplicative"
	DefenseLogarithmic    DefenseFormula = "logarithmic"
)

// IsValid returns true if f names a known defense formula.
func (f DefenseFormula) IsValid() bool {
	switch f {
	case DefenseSubtractive, DefenseDivisive, DefenseMultiplicative, DefenseLogarithmic:
		return true
	}
	return false
}

// UnitStats is one combatant's resolved numeric profile.
type UnitStats struct {
	ID         string  `yaml:"id" json:"id"`
	Name       string  `yaml:"name" json:"name"`
	HP         float64 `yaml:"hp" json:"hp"`
	MaxHP      float64 `yaml:"max_hp" json:"maxHp"`
	Atk        float64 `yaml:"atk" json:"atk"`
	Def        float64 `yaml:"def" json:"def"`
	Speed      float64 `yaml:"speed" json:"speed"`
	CritRate   float64 `yaml:"crit_rate" json:"critRate"`
	CritDamage float64 `yaml:"crit_damage" json:"critDamage"`
	Accuracy   float64 `yaml:"accuracy" json:"accuracy"` // 0 means always hits
	Evasion    float64 `yaml:"evasion" json:"evasion"`
}

// Label returns the name used in battle logs.
func (u UnitStats) Label() string {
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}

// Fields exposes the numeric stats as a name/value record.
func (u UnitStats) Fields() map[string]float64 {
	return map[string]float64{
		"hp":          u.HP,
		"max_hp":      u.MaxHP,
		"atk":         u.Atk,
		"def":         u.Def,
		"speed":       u.Speed,
		"crit_rate":   u.CritRate,
		"crit_damage": u.CritDamage,
		"accuracy":    u.Accuracy,
		"evasion":     u.Evasion,
	}
}

// Normalize validates u and returns a copy with coercions applied. Non-finite
// stats and negative hit points are rejected. Missing HP/MaxHP are filled
// from each other, speed floored at MinSpeed, crit damage at
// least 1, accuracy defaulted and evasion clamped.
func (u UnitStats) Normalize() (UnitStats, error) {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"hp", u.HP}, {"max hp", u.MaxHP}, {"atk", u.Atk}, {"def", u.Def},
		{"speed", u.Speed}, {"crit rate", u.CritRate}, {"crit damage", u.CritDamage},
		{"accuracy", u.Accuracy}, {"evasion", u.Evasion},
	} {
		if !validation.Finite(f.v) {
			return u, validation.Errorf("unit %q has a non-finite %s: %v", u.Label(), f.name, f.v)
		}
	}
	if u.HP < 0 || u.MaxHP < 0 {
		return u, validation.Errorf("unit %q has negative hit points (hp %v, max hp %v)", u.Label(), u.HP, u.MaxHP)
	}
	if u.MaxHP == 0 && u.HP == 0 {
		return u, validation.Errorf("unit %q has no hit points", u.Label())
	}
	if u.MaxHP == 0 {
		u.MaxHP = u.HP
	}
	if u.HP == 0 || u.HP > u.MaxHP {
		u.HP = u.MaxHP
	}
	if !validation.Fraction(u.CritRate) {
		return u, validation.Errorf("unit %q crit rate %v outside [0,1]", u.Label(), u.CritRate)
	}
	if u.Speed < MinSpeed {
		u.Speed = MinSpeed
	}
	if u.CritDamage < 1 {
		u.CritDamage = 1
	}
	if u.Accuracy <= 0 || u.Accuracy > 1 {
		u.Accuracy = 1
	}
	u.Evasion = clamp01(u.Evasion)
	if u.Atk < 0 {
		u.Atk = 0
	}
	if u.Def < 0 {
		u.Def = 0
	}
	return u, nil
}

// ArmorPenetration reduces the defender's defense before mitigation.
// Flat is subtracted first, then Percent is applied to the remainder.
type ArmorPenetration struct {
	Flat    float64 `yaml:"flat" json:"flat"`
	Percent float64 `yaml:"percent" json:"percent"`
}

// BattleConfig holds the rules governing one simulated fight.
type BattleConfig struct {
	DamageFormula    DamageFormula     `yaml:"damage_formula" json:"damageFormula"`
	DefenseFormula   DefenseFormula    `yaml:"defense_formula" json:"defenseFormula"`
	MaxDuration      float64           `yaml:"max_duration" json:"maxDuration"` // seconds
	TimeStep         float64           `yaml:"time_step" json:"timeStep"`       // seconds
	ArmorPenetration *ArmorPenetration `yaml:"armor_penetration" json:"armorPenetration,omitempty"`

	// Silent skips log recording; bulk simulations only need the totals.
	Silent bool `yaml:"-" json:"-"`
}

// DefaultBattleConfig returns the rules used when a caller leaves fields unset.
func DefaultBattleConfig() BattleConfig {
	return BattleConfig{
		DamageFormula:  DamageSimple,
		DefenseFormula: DefenseSubtractive,
		MaxDuration:    60,
		TimeStep:       0.1,
	}
}

// Normalize fills zero fields from DefaultBattleConfig and validates the rest.
func (c BattleConfig) Normalize() (BattleConfig, error) {
	def := DefaultBattleConfig()
	c.DamageFormula = DamageFormula(strings.ToLower(string(c.DamageFormula)))
	c.DefenseFormula = DefenseFormula(strings.ToLower(string(c.DefenseFormula)))
	if c.DamageFormula == "" {
		c.DamageFormula = def.DamageFormula
	}
	if c.DefenseFormula == "" {
		c.DefenseFormula = def.DefenseFormula
	}
	if !c.DamageFormula.IsValid() {
		return c, validation.Errorf("unknown damage formula %q", c.DamageFormula)
	}
	if !c.DefenseFormula.IsValid() {
		return c, validation.Errorf("unknown defense formula %q", c.DefenseFormula)
	}
	if c.MaxDuration < 0 || !validation.Finite(c.MaxDuration) {
		return c, validation.Errorf("max duration must be positive, got %v", c.MaxDuration)
	}
	if c.MaxDuration == 0 {
		c.MaxDuration = def.MaxDuration
	}
	if c.TimeStep < 0 || !validation.Finite(c.TimeStep) {
		return c, validation.Errorf("time step must be positive, got %v", c.TimeStep)
	}
	if c.TimeStep == 0 {
		c.TimeStep = def.TimeStep
	}
	if c.TimeStep > c.MaxDuration {
		c.TimeStep = c.MaxDuration
	}
	if pen := c.ArmorPenetration; pen != nil {
		if !validation.Fraction(pen.Percent) {
			return c, validation.Errorf("armor penetration percent %v outside [0,1]", pen.Percent)
		}
		if pen.Flat < 0 {
			return c, validation.Errorf("flat armor penetration must not be negative, got %v", pen.Flat)
		}
	}
	return c, nil
}

// Side identifies a participant, or a draw when used as a winner.
type Side string

const (
	SideA Side = "A"
	SideB Side = "B"
	Draw  Side = "draw"
)

// Action is the kind of a logged battle event.
type Action string

const (
	ActionAttack Action = "attack"
	ActionDeath  Action = "death"
)

// LogEntry is one observable event in a fight.
type LogEntry struct {
	Time        float64 `json:"time"`
	Actor       string  `json:"actor"`
	Action      Action  `json:"action"`
	Target      string  `json:"target,omitempty"`
	Damage      float64 `json:"damage,omitempty"`
	IsCrit      bool    `json:"isCrit,omitempty"`
	IsMiss      bool    `json:"isMiss,omitempty"`
	RemainingHP float64 `json:"remainingHp,omitempty"`
}

// Outcome is the result of one resolved battle.
type Outcome struct {
	Winner       Side       `json:"winner"`
	Duration     float64    `json:"duration"`
	Log          []LogEntry `json:"log,omitempty"`
	TotalDamageA float64    `json:"totalDamageA"`
	TotalDamageB float64    `json:"totalDamageB"`
	Seed         int64      `json:"seed,omitempty"`
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
