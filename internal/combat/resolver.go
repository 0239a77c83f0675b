package combat

import (
	"math"
	"math/rand"

	"github.com/lawnchairsociety/balancelab/internal/rng"
	"github.com/lawnchairsociety/balancelab/internal/validation"
)

// tickEpsilon absorbs float drift when comparing scheduled action times to tick times.
const tickEpsilon = 1e-9

// fighter is the mutable per-battle state of one side.
type fighter struct {
	stats    UnitStats
	side     Side
	hp       float64
	interval float64
	next     float64
	dealt    float64
}

// ResolveBattleSeeded resolves a battle on a stream seeded with seed. A zero
// seed draws a fresh one; the seed used is reported on the outcome.
func ResolveBattleSeeded(a, b UnitStats, cfg BattleConfig, seed int64) (Outcome, error) {
	seed = rng.Resolve(seed)
	out, err := ResolveBattle(a, b, cfg, rng.New(seed))
	out.Seed = seed
	return out, err
}

// ResolveBattle simulates one fight between a and b under cfg, drawing all
// randomness from r. Inputs are validated before any simulation work; once
// running, a battle always ends by a death or by reaching cfg.MaxDuration.
//
// Per tick:
//  1. Collect the actions each side has due at this tick
//  2. If both sides act, a coin flip decides who strikes first, then they alternate
//  3. Each action rolls to hit, computes damage, rolls crit, applies mitigation
//  4. A side reduced to 0 HP ends the battle with a death entry
func ResolveBattle(a, b UnitStats, cfg BattleConfig, r *rand.Rand) (Outcome, error) {
	if r == nil {
		return Outcome{}, validation.Errorf("random stream is required")
	}
	na, errA := a.Normalize()
	nb, errB := b.Normalize()
	if errA != nil {
		return Outcome{}, errA
	}
	if errB != nil {
		return Outcome{}, errB
	}
	cfg, err := cfg.Normalize()
	if err != nil {
		return Outcome{}, err
	}

	fa := &fighter{stats: na, side: SideA, hp: na.HP, interval: 1 / na.Speed}
	fb := &fighter{stats: nb, side: SideB, hp: nb.HP, interval: 1 / nb.Speed}

	var log []LogEntry
	if !cfg.Silent {
		log = make([]LogEntry, 0, 64)
	}

	totalTicks := int(math.Floor(cfg.MaxDuration/cfg.TimeStep + tickEpsilon))
	for tick := 0; tick <= totalTicks; tick++ {
		t := math.Min(float64(tick)*cfg.TimeStep, cfg.MaxDuration)
		dueA := fa.due(t)
		dueB := fb.due(t)
		if dueA == 0 && dueB == 0 {
			continue
		}

		first, second := fa, fb
		firstDue, secondDue := dueA, dueB
		if dueA > 0 && dueB > 0 && r.Intn(2) == 1 {
			first, second = fb, fa
			firstDue, secondDue = dueB, dueA
		}

		for firstDue > 0 || secondDue > 0 {
			if firstDue > 0 {
				firstDue--
				if strike(first, second, cfg, r, t, &log) {
					return finish(fa, fb, first.side, t, log), nil
				}
			}
			if secondDue > 0 {
				secondDue--
				if strike(second, first, cfg, r, t, &log) {
					return finish(fa, fb, second.side, t, log), nil
				}
			}
		}
	}

	return finish(fa, fb, Draw, cfg.MaxDuration, log), nil
}

// due returns how many actions f has scheduled at or before t and advances
// its schedule past them.
func (f *fighter) due(t float64) int {
	n := 0
	for f.next <= t+tickEpsilon {
		n++
		f.next += f.interval
	}
	return n
}

// strike performs one attack and reports whether the defender died.
func strike(att, def *fighter, cfg BattleConfig, r *rand.Rand, t float64, log *[]LogEntry) bool {
	record := !cfg.Silent
	if !rng.Chance(r, HitChance(att.stats, def.stats)) {
		if record {
			*log = append(*log, LogEntry{
				Time:        t,
				Actor:       att.stats.Label(),
				Action:      ActionAttack,
				Target:      def.stats.Label(),
				IsMiss:      true,
				RemainingHP: def.hp,
			})
		}
		return false
	}

	effDef := EffectiveDefense(def.stats.Def, cfg.ArmorPenetration)
	raw := RawDamage(cfg.DamageFormula, att.stats.Atk, effDef, r)
	crit := rng.Chance(r, att.stats.CritRate)
	if crit {
		raw *= att.stats.CritDamage
	}
	dmg := Mitigate(cfg.DefenseFormula, raw, effDef)

	def.hp -= dmg
	att.dealt += dmg
	if def.hp < 0 {
		def.hp = 0
	}

	if record {
		*log = append(*log, LogEntry{
			Time:        t,
			Actor:       att.stats.Label(),
			Action:      ActionAttack,
			Target:      def.stats.Label(),
			Damage:      dmg,
			IsCrit:      crit,
			RemainingHP: def.hp,
		})
	}

	if def.hp > 0 {
		return false
	}
	if record {
		*log = append(*log, LogEntry{Time: t, Actor: def.stats.Label(), Action: ActionDeath})
	}
	return true
}

func finish(fa, fb *fighter, winner Side, t float64, log []LogEntry) Outcome {
	return Outcome{
		Winner:       winner,
		Duration:     t,
		Log:          log,
		TotalDamageA: fa.dealt,
		TotalDamageB: fb.dealt,
	}
}
