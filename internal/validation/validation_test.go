package validation

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestErrorfWrapsSentinel(t *testing.T) {
	err := Errorf("runs must be positive, got %d", -3)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("Errorf result does not wrap ErrInvalidInput: %v", err)
	}
	if !strings.Contains(err.Error(), "got -3") {
		t.Errorf("error message missing reason: %q", err.Error())
	}
}

func TestFraction(t *testing.T) {
	tests := []struct {
		v    float64
		want bool
	}{
		{0, true},
		{1, true},
		{0.5, true},
		{-0.01, false},
		{1.01, false},
		{math.NaN(), false},
	}
	for _, tt := range tests {
		if got := Fraction(tt.v); got != tt.want {
			t.Errorf("Fraction(%v) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestFinite(t *testing.T) {
	if Finite(math.Inf(1)) || Finite(math.NaN()) {
		t.Error("Finite accepted a non-finite value")
	}
	if !Finite(42) {
		t.Error("Finite rejected 42")
	}
}
