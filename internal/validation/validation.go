// Package validation holds the error taxonomy shared by the analysis packages.
package validation

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidInput is returned before any simulation work starts when the
// caller supplied inputs an analysis cannot run on.
var ErrInvalidInput = errors.New("invalid input")

// Errorf wraps ErrInvalidInput with a formatted reason.
func Errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Fraction reports whether v lies in [0,1].
func Fraction(v float64) bool {
	return v >= 0 && v <= 1
}

// Finite reports whether v is neither NaN nor infinite.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
