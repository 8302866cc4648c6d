package servo

import "github.com/gwillem/drillrig/pkg/rig"

// deadband is how many raw steps from either end of the range still count
// as sitting exactly at that end. Servos rarely settle on the exact step.
const deadband = 4

// Calibration maps a servo's raw position range onto piston travel.
type Calibration struct {
	RangeMin int
	RangeMax int
	Travel   rig.Travel
}

// ToTravel converts a raw servo position to a travel position.
func (c Calibration) ToTravel(raw int) float64 {
	rangeSize := c.RangeMax - c.RangeMin
	if rangeSize == 0 {
		return c.Travel.Min
	}
	switch {
	case abs(raw-c.RangeMin) <= deadband:
		return c.Travel.Min
	case abs(raw-c.RangeMax) <= deadband:
		return c.Travel.Max
	}
	span := c.Travel.Max - c.Travel.Min
	pos := float64(raw-c.RangeMin)/float64(rangeSize)*span + c.Travel.Min
	return min(max(pos, c.Travel.Min), c.Travel.Max)
}

// FromTravel converts a travel position to a raw servo position.
func (c Calibration) FromTravel(pos float64) int {
	span := c.Travel.Max - c.Travel.Min
	if span == 0 {
		return c.RangeMin
	}
	rangeSize := float64(c.RangeMax - c.RangeMin)
	return int((pos-c.Travel.Min)/span*rangeSize) + c.RangeMin
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
