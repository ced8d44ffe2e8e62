package util

import (
	"fmt"
	"math"
)

// MHzToString renders an integer frequency in Hz as a log-friendly string.
func MHzToString(hz int) string {
	return fmt.Sprintf("%0.4f MHz", float64(hz)/1e6)
}

// FrequencyRange returns the lowest and highest of the given frequencies.
func FrequencyRange(freqs ...int) (low, high int) {
	low = math.MaxInt
	high = math.MinInt

	for _, freq := range freqs {
		if freq < low {
			low = freq
		}
		if freq > high {
			high = freq
		}
	}

	return
}

// CenterFrequency returns the midpoint of a band delimited by low and high.
func CenterFrequency(low, high int) int {
	return (low + high) / 2
}
