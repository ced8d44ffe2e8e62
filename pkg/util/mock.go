package util

import "github.com/influxdata/influxdb-client-go/api/write"

// MockWriteAPI satisfies the influxdb WriteAPI when no metrics backend is
// configured. All writes are discarded.
type MockWriteAPI struct{}

// WriteRecord discards a line protocol record.
func (m *MockWriteAPI) WriteRecord(line string) {}

// WritePoint discards a point.
func (m *MockWriteAPI) WritePoint(point *write.Point) {}

// Flush is a no-op.
func (m *MockWriteAPI) Flush() {}

// Close is a no-op.
func (m *MockWriteAPI) Close() {}

// Errors returns a nil channel; no errors are ever produced.
func (m *MockWriteAPI) Errors() <-chan error { return nil }
