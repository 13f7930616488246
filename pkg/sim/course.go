// Package sim provides a simulated rover speaking the radio protocol
// over an in-memory link, for running a ground station without
// hardware.
package sim

import "math"

// Angle is a normalized angle in radians within (-pi, pi].
type Angle float64

// AngleFromDegrees creates Angle from degrees.
func AngleFromDegrees(d float64) Angle {
	return Angle(normalizeRadians(d * math.Pi / 180.0))
}

// AngleFromRadians creates Angle from radians.
func AngleFromRadians(r float64) Angle {
	return Angle(normalizeRadians(r))
}

// Radians gets angle in radians.
func (a Angle) Radians() float64 {
	return float64(a)
}

// Degrees gets angle in degrees.
func (a Angle) Degrees() float64 {
	return float64(a) * 180 / math.Pi
}

// Heading gets the angle as a compass heading in [0, 360).
func (a Angle) Heading() uint16 {
	d := a.Degrees()
	if d < 0 {
		d += 360
	}
	return uint16(math.Round(d)) % 360
}

func normalizeRadians(r float64) float64 {
	if r >= 2*math.Pi || r <= -2*math.Pi {
		r = math.Remainder(r, 2*math.Pi)
	}
	if r > math.Pi {
		r -= 2 * math.Pi
	} else if r < -math.Pi {
		r += 2 * math.Pi
	}
	return r
}

// Fix is a position in degrees.
type Fix struct {
	Lat  float64
	Long float64
}

// Bearing computes the compass bearing from one fix to another on a
// flat-earth approximation, good enough for short sim courses.
func Bearing(from, to Fix) Angle {
	dLat := to.Lat - from.Lat
	dLong := (to.Long - from.Long) * math.Cos(from.Lat*math.Pi/180)
	return AngleFromRadians(math.Atan2(dLong, dLat))
}

// Distance is the flat-earth distance between fixes in degrees.
func Distance(from, to Fix) float64 {
	dLat := to.Lat - from.Lat
	dLong := (to.Long - from.Long) * math.Cos(from.Lat*math.Pi/180)
	return math.Hypot(dLat, dLong)
}

// StepToward moves from toward to by at most step degrees.
func StepToward(from, to Fix, step float64) Fix {
	dist := Distance(from, to)
	if dist <= step || dist == 0 {
		return to
	}
	frac := step / dist
	return Fix{
		Lat:  from.Lat + (to.Lat-from.Lat)*frac,
		Long: from.Long + (to.Long-from.Long)*frac,
	}
}
