// Package dataset holds the tabular rows shared by the correlation and
// dead-zone analyses.
package dataset

import (
	"math"
	"sort"
)

// Record is one row: stat key to numeric value. A missing key means the row
// carries no value for that stat.
type Record map[string]float64

// Value returns the finite value stored under key.
func (r Record) Value(key string) (float64, bool) {
	v, ok := r[key]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Column collects the finite values of key across records, in record order.
func Column(records []Record, key string) []float64 {
	out := make([]float64, 0, len(records))
	for _, r := range records {
		if v, ok := r.Value(key); ok {
			out = append(out, v)
		}
	}
	return out
}

// Aligned returns the values of two keys from the records that carry both,
// so xs[i] and ys[i] always come from the same row.
func Aligned(records []Record, keyX, keyY string) (xs, ys []float64) {
	for _, r := range records {
		x, okX := r.Value(keyX)
		y, okY := r.Value(keyY)
		if okX && okY {
			xs = append(xs, x)
			ys = append(ys, y)
		}
	}
	return xs, ys
}

// Keys returns every key present in any record, sorted.
func Keys(records []Record) []string {
	seen := map[string]bool{}
	for _, r := range records {
		for k := range r {
			seen[k] = true
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
