// Package audio provides the realtime audio primitives: level metering,
// the rolling pre-trigger buffer, trigger detection and audio sources.
package audio

import "math"

// levelEpsilon keeps the logarithm finite for digital silence.
const levelEpsilon = 1e-10

// RMS returns the root mean square of the samples, or 0 for an empty block.
func RMS(block []float32) float64 {
	if len(block) == 0 {
		return 0
	}
	var sum float64
	for _, s := range block {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(block)))
}

// Peak returns the largest absolute sample value in the block.
func Peak(block []float32) float64 {
	var peak float64
	for _, s := range block {
		if v := math.Abs(float64(s)); v > peak {
			peak = v
		}
	}
	return peak
}

// Level returns the block level in dBFS, relative to a full-scale amplitude of 1.0.
// All channels are pooled into a single measurement. An empty block reports
// negative infinity, which never exceeds any threshold.
func Level(block []float32) float64 {
	if len(block) == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(RMS(block)+levelEpsilon)
}
