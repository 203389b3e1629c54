package stage

import (
	"math"
	"testing"
)

func TestServoCalibration_ToUnits(t *testing.T) {
	cal := ServoCalibration{
		RangeMin: 1000,
		RangeMax: 3000,
		UnitMin:  0,
		UnitMax:  17,
	}

	tests := []struct {
		raw      int
		expected float64
	}{
		{1000, 0},     // min -> unit min
		{3000, 17},    // max -> unit max
		{2000, 8.5},   // mid
		{1500, 4.25},  // quarter
		{2500, 12.75}, // three-quarter
	}

	for _, tt := range tests {
		got := cal.ToUnits(tt.raw)
		if math.Abs(got-tt.expected) > 0.001 {
			t.Errorf("ToUnits(%d) = %f, want %f", tt.raw, got, tt.expected)
		}
	}
}

func TestServoCalibration_ToRaw(t *testing.T) {
	cal := ServoCalibration{
		RangeMin: 1000,
		RangeMax: 3000,
		UnitMin:  -180,
		UnitMax:  180,
	}

	tests := []struct {
		units    float64
		expected int
	}{
		{-180, 1000},
		{180, 3000},
		{0, 2000},
		{-90, 1500},
		{90, 2500},
		{400, 3000},  // beyond range is limited
		{-400, 1000}, // beyond range is limited
	}

	for _, tt := range tests {
		got := cal.ToRaw(tt.units)
		if got != tt.expected {
			t.Errorf("ToRaw(%f) = %d, want %d", tt.units, got, tt.expected)
		}
	}
}

func TestServoCalibration_Inverted(t *testing.T) {
	cal := ServoCalibration{RangeMin: 0, RangeMax: 4000, UnitMin: 0, UnitMax: 10, Inverted: true}

	if got := cal.ToUnits(0); math.Abs(got-10) > 1e-9 {
		t.Errorf("ToUnits(0) = %f, want 10", got)
	}
	if got := cal.ToRaw(10); got != 0 {
		t.Errorf("ToRaw(10) = %d, want 0", got)
	}
}

func TestServoCalibration_RoundTrip(t *testing.T) {
	cal := ServoCalibration{
		RangeMin: 823,
		RangeMax: 3540,
		UnitMin:  0,
		UnitMax:  17,
	}

	// raw -> units -> raw
	for raw := cal.RangeMin; raw <= cal.RangeMax; raw += 100 {
		units := cal.ToUnits(raw)
		back := cal.ToRaw(units)
		if math.Abs(float64(back-raw)) > 1 {
			t.Errorf("Round-trip failed: %d -> %f -> %d", raw, units, back)
		}
	}
}

func TestServoCalibration_ZeroRange(t *testing.T) {
	cal := ServoCalibration{RangeMin: 500, RangeMax: 500, UnitMin: 2, UnitMax: 4}
	if got := cal.ToUnits(700); got != 2 {
		t.Errorf("ToUnits on zero range = %f, want 2", got)
	}
	if got := cal.UnitsPerStep(); got != 0 {
		t.Errorf("UnitsPerStep on zero range = %f, want 0", got)
	}
}
