package domain

import (
	"sync"
	"time"
)

// ProducerTypeStats accumulates per-entity-type producer statistics, held
// by the Producer Manager's cache entries.
type ProducerTypeStats struct {
	mu                sync.Mutex
	ProducersCreated  int64
	CreationFailures  int64
	TotalMessages     int64
	SuccessfulMessages int64
	FailedMessages    int64
	TotalBatches      int64
	SuccessfulBatches int64
	FailedBatches     int64
	TotalSendTime     time.Duration
	LastActivity      time.Time
}

// ProducerTypeStatsSnapshot is a read-only copy with the derived
// AverageSendTime field computed.
type ProducerTypeStatsSnapshot struct {
	ProducersCreated   int64
	CreationFailures   int64
	TotalMessages      int64
	SuccessfulMessages int64
	FailedMessages     int64
	TotalBatches       int64
	SuccessfulBatches  int64
	FailedBatches      int64
	TotalSendTime      time.Duration
	AverageSendTime    time.Duration
	LastActivity       time.Time
}

func (s *ProducerTypeStats) RecordSend(success bool, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalMessages++
	if success {
		s.SuccessfulMessages++
	} else {
		s.FailedMessages++
	}
	s.TotalSendTime += latency
	s.LastActivity = time.Now()
}

func (s *ProducerTypeStats) RecordBatch(allOK bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalBatches++
	if allOK {
		s.SuccessfulBatches++
	} else {
		s.FailedBatches++
	}
	s.LastActivity = time.Now()
}

func (s *ProducerTypeStats) Snapshot() ProducerTypeStatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	avg := time.Duration(0)
	if s.TotalMessages > 0 {
		avg = s.TotalSendTime / time.Duration(s.TotalMessages)
	}
	return ProducerTypeStatsSnapshot{
		ProducersCreated:   s.ProducersCreated,
		CreationFailures:   s.CreationFailures,
		TotalMessages:      s.TotalMessages,
		SuccessfulMessages: s.SuccessfulMessages,
		FailedMessages:     s.FailedMessages,
		TotalBatches:       s.TotalBatches,
		SuccessfulBatches:  s.SuccessfulBatches,
		FailedBatches:      s.FailedBatches,
		TotalSendTime:      s.TotalSendTime,
		AverageSendTime:    avg,
		LastActivity:       s.LastActivity,
	}
}

// ProcessProducerStats aggregates every entity type's producer stats into a
// single process-wide view, recomputing throughput at most once per
// refresh interval.
type ProcessProducerStats struct {
	mu                    sync.Mutex
	TotalProducersCreated int64
	TotalMessages         int64
	TotalBatches          int64
	totalLatency          time.Duration
	lastThroughputCalc    time.Time
	throughputWindowCount int64
	ThroughputPerSecond   float64
}

const throughputRefreshInterval = 60 * time.Second

func NewProcessProducerStats() *ProcessProducerStats {
	return &ProcessProducerStats{lastThroughputCalc: time.Now()}
}

func (p *ProcessProducerStats) RecordSend(latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TotalMessages++
	p.throughputWindowCount++
	p.totalLatency += latency
	p.maybeRefreshThroughput()
}

func (p *ProcessProducerStats) RecordBatch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TotalBatches++
}

func (p *ProcessProducerStats) RecordProducerCreated() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TotalProducersCreated++
}

func (p *ProcessProducerStats) maybeRefreshThroughput() {
	elapsed := time.Since(p.lastThroughputCalc)
	if elapsed < throughputRefreshInterval {
		return
	}
	p.ThroughputPerSecond = float64(p.throughputWindowCount) / elapsed.Seconds()
	p.throughputWindowCount = 0
	p.lastThroughputCalc = time.Now()
}

// AverageLatency returns the mean send latency across all recorded sends.
func (p *ProcessProducerStats) AverageLatency() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.TotalMessages == 0 {
		return 0
	}
	return p.totalLatency / time.Duration(p.TotalMessages)
}

// ConsumerTypeStats mirrors ProducerTypeStats for the consume path.
type ConsumerTypeStats struct {
	mu               sync.Mutex
	ConsumersCreated int64
	CreationFailures int64
	TotalMessages    int64
	ProcessedOK      int64
	ProcessedFailed  int64
	TotalProcessTime time.Duration
	LastActivity     time.Time
}

func (s *ConsumerTypeStats) RecordProcessed(success bool, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalMessages++
	if success {
		s.ProcessedOK++
	} else {
		s.ProcessedFailed++
	}
	s.TotalProcessTime += duration
	s.LastActivity = time.Now()
}
