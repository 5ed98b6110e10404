// Package kafka wraps the Sarama client behind the two handle shapes the
// bridge needs: a per-instance consumer that can subscribe, poll, commit and
// seek, and a dual-mode producer. The rest of the bridge treats both as
// opaque; everything Sarama-specific stays inside this package.
package kafka

import (
	"context"
	"regexp"
	"time"
)

// Message is a record flowing through the bridge, in either direction.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
}

// TopicPartition identifies one partition of a topic.
type TopicPartition struct {
	Topic     string
	Partition int32
}

// Offset is a committed position with its optional metadata.
type Offset struct {
	Offset   int64
	Metadata string
}

// Assignment is a manual partition assignment with an optional starting
// position. A nil Offset starts from the committed position, falling back to
// the configured initial offset.
type Assignment struct {
	TopicPartition
	Offset *int64
}

// Consumer is the handle owned by exactly one consumer instance. The owning
// session serializes its operations, except that a multi-partition seek calls
// Seek for several partitions at once; implementations must allow that.
type Consumer interface {
	// Subscribe replaces the current subscription with the given topic list.
	Subscribe(topics []string) error
	// SubscribePattern replaces the current subscription with all topics
	// matching the pattern at subscription time.
	SubscribePattern(pattern *regexp.Regexp) error
	// Assign replaces the current subscription with a manual assignment.
	Assign(assignments []Assignment) error
	// Unsubscribe drops the subscription; a following Poll fails until a new
	// subscription is established.
	Unsubscribe() error
	// Poll waits up to timeout for records and returns whatever arrived.
	Poll(ctx context.Context, timeout time.Duration) ([]Message, error)
	// Commit commits the given offsets, or the offsets of the most recently
	// delivered records when offsets is nil.
	Commit(offsets map[TopicPartition]Offset) error
	// Seek moves the position of an assigned partition.
	Seek(tp TopicPartition, offset int64) error
	// SeekToBeginning rewinds the given assigned partitions.
	SeekToBeginning(tps []TopicPartition) error
	// SeekToEnd fast-forwards the given assigned partitions.
	SeekToEnd(tps []TopicPartition) error
	// Close releases the underlying client.
	Close() error
}

// Producer is the dual-mode producer handle backing one HTTP connection.
type Producer interface {
	// Send produces one record with acks=all and waits for the broker
	// acknowledgment.
	Send(topic string, partition *int32, key, value []byte) (int32, int64, error)
	// SendAsync produces one record fire-and-forget with acks=0.
	SendAsync(topic string, partition *int32, key, value []byte)
	// Close releases both underlying producers.
	Close() error
}

// ErrNotSubscribed is the message a poll surfaces when the consumer has no
// subscription and no assignment.
const ErrNotSubscribed = "Consumer is not subscribed to any topics or assigned any partitions"
