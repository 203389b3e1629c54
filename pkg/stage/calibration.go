package stage

// ServoCalibration maps a bus servo's raw position range onto axis units.
type ServoCalibration struct {
	ID       int     `json:"id" yaml:"id"`
	RangeMin int     `json:"range_min" yaml:"range_min"`
	RangeMax int     `json:"range_max" yaml:"range_max"`
	UnitMin  float64 `json:"unit_min" yaml:"unit_min"`
	UnitMax  float64 `json:"unit_max" yaml:"unit_max"`
	Inverted bool    `json:"inverted,omitempty" yaml:"inverted,omitempty"`
}

// ToUnits converts a raw servo position to axis units.
func (c ServoCalibration) ToUnits(raw int) float64 {
	rangeSize := float64(c.RangeMax - c.RangeMin)
	if rangeSize == 0 {
		return c.UnitMin
	}
	frac := float64(raw-c.RangeMin) / rangeSize
	if c.Inverted {
		frac = 1 - frac
	}
	return c.UnitMin + frac*(c.UnitMax-c.UnitMin)
}

// ToRaw converts axis units to a raw servo position, limited to the calibrated range.
func (c ServoCalibration) ToRaw(units float64) int {
	span := c.UnitMax - c.UnitMin
	if span == 0 {
		return c.RangeMin
	}
	frac := (units - c.UnitMin) / span
	frac = max(0, min(1, frac))
	if c.Inverted {
		frac = 1 - frac
	}
	return int(frac*float64(c.RangeMax-c.RangeMin)+0.5) + c.RangeMin
}

// UnitsPerStep returns how many axis units one raw step covers.
func (c ServoCalibration) UnitsPerStep() float64 {
	rangeSize := c.RangeMax - c.RangeMin
	if rangeSize == 0 {
		return 0
	}
	span := c.UnitMax - c.UnitMin
	if span < 0 {
		span = -span
	}
	return span / float64(rangeSize)
}
