package broker

import "github.com/twmb/franz-go/pkg/kgo"

// targetPartitioner routes a record to its MessageContext.TargetPartition
// (typed/producer.go's buildRecord stamps this onto kgo.Record.Partition,
// leaving it at -1 when unset) and otherwise defers to kgo's default
// sticky-key partitioner, so records without an explicit target keep the
// usual key-hash distribution across partitions instead of all landing on
// partition 0.
type targetPartitioner struct {
	fallback kgo.Partitioner
}

// newTargetPartitioner builds the kgo.Partitioner wired into every pooled
// producer client via kgo.RecordPartitioner.
func newTargetPartitioner() kgo.Partitioner {
	return &targetPartitioner{fallback: kgo.StickyKeyPartitioner(nil)}
}

func (t *targetPartitioner) ForTopic(topic string) kgo.TopicPartitioner {
	return &targetTopicPartitioner{fallback: t.fallback.ForTopic(topic)}
}

type targetTopicPartitioner struct {
	fallback kgo.TopicPartitioner
}

func (t *targetTopicPartitioner) Partition(r *kgo.Record, n int) int {
	if r.Partition >= 0 {
		return int(r.Partition)
	}
	return t.fallback.Partition(r, n)
}

func (t *targetTopicPartitioner) RequiresConsistency(r *kgo.Record) bool {
	if r.Partition >= 0 {
		return true
	}
	return t.fallback.RequiresConsistency(r)
}

func (t *targetTopicPartitioner) OnNewBatch() { t.fallback.OnNewBatch() }
