package report

import "sync"

// DefaultRecentSize is how many signal decisions the reporter remembers.
const DefaultRecentSize = 50

// EnforcementLog keeps the most recent signal decisions for the /enforcements
// endpoint, so an operator can see what was killed without reading the
// record stream.
type EnforcementLog struct {
	records []Record
	maxSize int
	mu      sync.RWMutex
}

// NewEnforcementLog creates a log with fixed size
func NewEnforcementLog(maxSize int) *EnforcementLog {
	if maxSize <= 0 {
		maxSize = DefaultRecentSize
	}
	return &EnforcementLog{
		records: make([]Record, 0, maxSize),
		maxSize: maxSize,
	}
}

// Record adds a record, dropping the oldest when full.
func (l *EnforcementLog) Record(r Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.records) >= l.maxSize {
		l.records = l.records[1:]
	}
	l.records = append(l.records, r)
}

// GetRecent returns up to n records, newest first. n <= 0 returns all.
func (l *EnforcementLog) GetRecent(n int) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > len(l.records) {
		n = len(l.records)
	}

	result := make([]Record, n)
	for i := 0; i < n; i++ {
		result[i] = l.records[len(l.records)-1-i]
	}
	return result
}

// Count returns the number of stored records.
func (l *EnforcementLog) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}
