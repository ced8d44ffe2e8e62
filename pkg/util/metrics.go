package util

import "time"

// TimeOperationMicroseconds runs op and returns its wall-clock duration in
// microseconds, for feeding stage timings into the metrics writer.
func TimeOperationMicroseconds(op func()) int64 {
	start := time.Now()
	op()
	return time.Since(start).Microseconds()
}
