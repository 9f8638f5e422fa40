// Package audio provides microphone acquisition, spectrum analysis and level metering.
package audio

import (
	"encoding/binary"
	"math"
)

const (
	// MaxSampleValue is the maximum absolute value for 16-bit signed audio.
	MaxSampleValue = 32768.0
	// ThresholdMean is the mean byte magnitude above which the loud-sound hook fires.
	ThresholdMean = 150
)

// DecodeS16LE converts little-endian 16-bit PCM into samples, reusing dst.
func DecodeS16LE(buf []byte, dst []int16) []int16 {
	dst = dst[:0]
	for i := 0; i+1 < len(buf); i += 2 {
		dst = append(dst, int16(binary.LittleEndian.Uint16(buf[i:])))
	}
	return dst
}

// MeanMagnitude returns the arithmetic mean of byte frequency magnitudes.
func MeanMagnitude(buf []byte) float64 {
	if len(buf) == 0 {
		return 0
	}
	var sum int
	for _, v := range buf {
		sum += int(v)
	}
	return float64(sum) / float64(len(buf))
}

// LevelPercent maps a mean byte magnitude onto the 0-100 display level.
func LevelPercent(mean float64) int {
	level := int(math.Round(mean / 255 * 100))
	return min(max(level, 0), 100)
}
