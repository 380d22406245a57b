package coordinator

import (
	"sync"
	"time"
)

// Metrics tracks statistics about step execution.
type Metrics struct {
	StepsExecuted    int
	StepsSuccessful  int
	StepsFailed      int
	TotalDuration    time.Duration
	LongestStepTime  time.Duration
	ShortestStepTime time.Duration

	mu sync.Mutex
}

func (m *Metrics) recordStep(duration time.Duration, succeeded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.StepsExecuted++
	if succeeded {
		m.StepsSuccessful++
	} else {
		m.StepsFailed++
	}
	m.TotalDuration += duration
	if duration > m.LongestStepTime {
		m.LongestStepTime = duration
	}
	if m.ShortestStepTime == 0 || duration < m.ShortestStepTime {
		m.ShortestStepTime = duration
	}
}

// Copy returns the counters without the mutex.
func (m *Metrics) Copy() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Metrics{
		StepsExecuted:    m.StepsExecuted,
		StepsSuccessful:  m.StepsSuccessful,
		StepsFailed:      m.StepsFailed,
		TotalDuration:    m.TotalDuration,
		LongestStepTime:  m.LongestStepTime,
		ShortestStepTime: m.ShortestStepTime,
	}
}
