package buffer

import (
	"sync/atomic"
	"time"
)

// Statistics tracks queue activity. All counters are atomic so that writers
// never serialize on the statistics themselves.
type Statistics struct {
	writes      atomic.Int64
	reads       atomic.Int64
	currentSize atomic.Int64
	maxSize     atomic.Int64
	startTime   time.Time
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

// Write records a write operation.
func (s *Statistics) Write() {
	s.writes.Add(1)
}

// Read records a read operation.
func (s *Statistics) Read() {
	s.reads.Add(1)
}

// UpdateSize records the current size and raises the high-water mark if needed.
func (s *Statistics) UpdateSize(size int64) {
	s.currentSize.Store(size)
	for {
		high := s.maxSize.Load()
		if size <= high || s.maxSize.CompareAndSwap(high, size) {
			return
		}
	}
}

// Writes returns the total number of write operations.
func (s *Statistics) Writes() int64 {
	return s.writes.Load()
}

// Reads returns the total number of read operations.
func (s *Statistics) Reads() int64 {
	return s.reads.Load()
}

// CurrentSize returns the most recently recorded size.
func (s *Statistics) CurrentSize() int64 {
	return s.currentSize.Load()
}

// MaxSize returns the largest size the queue has reached.
func (s *Statistics) MaxSize() int64 {
	return s.maxSize.Load()
}

// Uptime returns how long the queue has existed.
func (s *Statistics) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// StatsSummary is a point-in-time snapshot of Statistics.
type StatsSummary struct {
	Writes      int64         `json:"writes"`
	Reads       int64         `json:"reads"`
	CurrentSize int64         `json:"current_size"`
	MaxSize     int64         `json:"max_size"`
	Uptime      time.Duration `json:"uptime"`
}

// Summary returns a snapshot of all statistics.
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		Writes:      s.Writes(),
		Reads:       s.Reads(),
		CurrentSize: s.CurrentSize(),
		MaxSize:     s.MaxSize(),
		Uptime:      s.Uptime(),
	}
}
