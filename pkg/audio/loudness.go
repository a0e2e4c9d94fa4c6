package audio

import "math"

// Default meter settings. RMS at or below DefaultDeadZone is treated as the
// ambient noise floor and reported as silence.
const (
	DefaultDeadZone = 0.005
	DefaultGain     = 12.0
)

// RMS returns the root-mean-square loudness of samples, or 0 for an empty
// frame.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Meter maps frame loudness to a display intensity.
type Meter struct {
	// DeadZone is the RMS threshold at or below which intensity is zero.
	DeadZone float64

	// Gain scales RMS values above the dead zone.
	Gain float64
}

// DefaultMeter returns a Meter with [DefaultDeadZone] and [DefaultGain].
func DefaultMeter() Meter {
	return Meter{DeadZone: DefaultDeadZone, Gain: DefaultGain}
}

// Intensity converts an RMS value to a display intensity.
func (m Meter) Intensity(rms float64) float64 {
	if rms <= m.DeadZone {
		return 0
	}
	return rms * m.Gain
}

// Measure computes the display intensity of a frame.
func (m Meter) Measure(samples []float32) float64 {
	return m.Intensity(RMS(samples))
}
