package bridge

import (
	"github.com/goccy/go-json"
)

// Wire shapes of the v2 REST contract.

// ProduceRequest is the body of POST /topics/{topic}.
type ProduceRequest struct {
	Records []ProduceRecord `json:"records"`
}

// ProduceRecord is one record to produce. Key and Value are raw JSON: for the
// binary format they are base64 strings, for the json format arbitrary JSON.
type ProduceRecord struct {
	Key       json.RawMessage `json:"key,omitempty"`
	Value     json.RawMessage `json:"value"`
	Partition *int32          `json:"partition,omitempty"`
}

// ProduceResponse carries one entry per submitted record, in input order.
type ProduceResponse struct {
	Offsets []ProduceResult `json:"offsets"`
}

// ProduceResult is either the metadata of an acknowledged record or the
// per-record error.
type ProduceResult struct {
	Partition *int32 `json:"partition,omitempty"`
	Offset    *int64 `json:"offset,omitempty"`
	ErrorCode *int   `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ConsumerRecord is one delivered record inside a poll response.
type ConsumerRecord struct {
	Topic     string          `json:"topic"`
	Key       json.RawMessage `json:"key"`
	Value     json.RawMessage `json:"value"`
	Partition int32           `json:"partition"`
	Offset    int64           `json:"offset"`
}

// CreateConsumerRequest is the body of POST /consumers/{group}. The Kafka
// config subset mirrors the original contract: values arrive as JSON strings.
type CreateConsumerRequest struct {
	Name             string `json:"name,omitempty"`
	Format           string `json:"format,omitempty"`
	AutoOffsetReset  string `json:"auto.offset.reset,omitempty"`
	EnableAutoCommit string `json:"enable.auto.commit,omitempty"`
	FetchMinBytes    string `json:"fetch.min.bytes,omitempty"`
	RequestTimeoutMs string `json:"consumer.request.timeout.ms,omitempty"`
}

// CreateConsumerResponse returns the instance id and the base URI all further
// requests for this instance should use.
type CreateConsumerResponse struct {
	InstanceID string `json:"instance_id"`
	BaseURI    string `json:"base_uri"`
}

// SubscriptionRequest is the body of POST .../subscription. Exactly one of
// Topics or TopicPattern must be present.
type SubscriptionRequest struct {
	Topics       []string `json:"topics,omitempty"`
	TopicPattern string   `json:"topic_pattern,omitempty"`
}

// AssignmentRequest is the body of POST .../assignments.
type AssignmentRequest struct {
	Partitions []PartitionOffset `json:"partitions"`
}

// PartitionOffset names a partition and, optionally, the position to start
// from.
type PartitionOffset struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Offset    *int64 `json:"offset,omitempty"`
}

// OffsetCommitRequest is the body of POST .../offsets.
type OffsetCommitRequest struct {
	Offsets []CommittedOffset `json:"offsets"`
}

// CommittedOffset is one committed position.
type CommittedOffset struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Offset    int64  `json:"offset"`
	Metadata  string `json:"metadata,omitempty"`
}

// SeekRequest is the body of POST .../positions.
type SeekRequest struct {
	Offsets []SeekOffset `json:"offsets"`
}

// SeekOffset is one absolute position to seek to.
type SeekOffset struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Offset    int64  `json:"offset"`
}

// PartitionsRequest is the body of POST .../positions/beginning and /end.
type PartitionsRequest struct {
	Partitions []TopicPartition `json:"partitions"`
}

// TopicPartition names a partition of a topic.
type TopicPartition struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
}
