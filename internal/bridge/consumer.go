package bridge

import (
	"context"
	"net/http"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kafbridge/kafbridge/internal/kafka"
)

type subscriptionState int

const (
	subscriptionNone subscriptionState = iota
	subscriptionTopicList
	subscriptionTopicPattern
	subscriptionManualAssign
)

// ConsumerSession is one live consumer instance: the Kafka consumer handle
// plus the per-instance state needed to serve further HTTP requests addressed
// to it. All operations are serialized on the session mutex because the
// underlying handle is not reentrant.
type ConsumerSession struct {
	mu sync.Mutex

	groupID string
	name    string
	format  EmbeddedFormat
	codec   MessageCodec

	consumer     kafka.Consumer
	subscription subscriptionState

	pollTimeout time.Duration
	maxBytes    int64

	lastActivity atomic.Int64
}

// NewConsumerSession wraps a consumer handle into a session. pollTimeout and
// maxBytes are the configured defaults; poll query parameters overwrite them
// for the rest of the session's life.
func NewConsumerSession(groupID, name string, format EmbeddedFormat, consumer kafka.Consumer, pollTimeout time.Duration, maxBytes int64) *ConsumerSession {
	s := &ConsumerSession{
		groupID:     groupID,
		name:        name,
		format:      format,
		codec:       NewCodec(format),
		consumer:    consumer,
		pollTimeout: pollTimeout,
		maxBytes:    maxBytes,
	}
	s.Touch()
	return s
}

// GroupID returns the consumer group the instance belongs to.
func (s *ConsumerSession) GroupID() string { return s.groupID }

// Name returns the instance name.
func (s *ConsumerSession) Name() string { return s.name }

// Format returns the embedded format fixed at creation.
func (s *ConsumerSession) Format() EmbeddedFormat { return s.format }

// Touch records activity, postponing idle expiry.
func (s *ConsumerSession) Touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// IdleSince reports how long ago the last successful operation happened.
func (s *ConsumerSession) IdleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastActivity.Load()))
}

// Subscribe establishes a topic-list or topic-pattern subscription. Exactly
// one of the two must be present in the request.
func (s *ConsumerSession) Subscribe(req SubscriptionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hasTopics := req.Topics != nil
	hasPattern := req.TopicPattern != ""
	if hasTopics && hasPattern {
		return NewError(http.StatusConflict,
			"Subscriptions to topics, partitions, and patterns are mutually exclusive.")
	}
	if !hasTopics && !hasPattern {
		return NewError(http.StatusUnprocessableEntity,
			"A list (of Topics type) or a topic_pattern must be specified.")
	}

	if hasTopics {
		if err := s.consumer.Subscribe(req.Topics); err != nil {
			return err
		}
		s.subscription = subscriptionTopicList
		return nil
	}

	pattern, err := regexp.Compile(req.TopicPattern)
	if err != nil {
		return NewError(http.StatusUnprocessableEntity, "topic_pattern is not a valid regex.")
	}
	if err := s.consumer.SubscribePattern(pattern); err != nil {
		return err
	}
	s.subscription = subscriptionTopicPattern
	return nil
}

// Assign establishes a manual assignment, replacing any subscription; the
// most recent subscribe or assign call wins.
func (s *ConsumerSession) Assign(req AssignmentRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	assignments := make([]kafka.Assignment, 0, len(req.Partitions))
	for _, p := range req.Partitions {
		assignments = append(assignments, kafka.Assignment{
			TopicPartition: kafka.TopicPartition{Topic: p.Topic, Partition: p.Partition},
			Offset:         p.Offset,
		})
	}
	if err := s.consumer.Assign(assignments); err != nil {
		return err
	}
	s.subscription = subscriptionManualAssign
	return nil
}

// Unsubscribe clears the subscription; subsequent polls fail until a new one
// is established.
func (s *ConsumerSession) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.consumer.Unsubscribe(); err != nil {
		return err
	}
	s.subscription = subscriptionNone
	return nil
}

// Poll fetches a batch of records and encodes it with the session codec.
// Non-nil timeout and maxBytes overwrite the session values before the poll,
// matching the contract that the session remembers the last observed
// parameters.
func (s *ConsumerSession) Poll(ctx context.Context, timeout *time.Duration, maxBytes *int64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timeout != nil {
		s.pollTimeout = *timeout
	}
	if maxBytes != nil {
		s.maxBytes = *maxBytes
	}

	if s.subscription == subscriptionNone {
		return nil, errors.New(kafka.ErrNotSubscribed)
	}

	msgs, err := s.consumer.Poll(ctx, s.pollTimeout)
	if err != nil {
		return nil, err
	}
	body, err := s.codec.EncodeRecords(msgs)
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > s.maxBytes {
		return nil, NewError(http.StatusUnprocessableEntity,
			"Response exceeds the maximum number of bytes the consumer can receive")
	}
	return body, nil
}

// Commit commits the given offsets, or the most recently delivered positions
// when the request is nil.
func (s *ConsumerSession) Commit(req *OffsetCommitRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var offsets map[kafka.TopicPartition]kafka.Offset
	if req != nil {
		offsets = make(map[kafka.TopicPartition]kafka.Offset, len(req.Offsets))
		for _, o := range req.Offsets {
			offsets[kafka.TopicPartition{Topic: o.Topic, Partition: o.Partition}] = kafka.Offset{
				Offset:   o.Offset,
				Metadata: o.Metadata,
			}
		}
	}
	return s.consumer.Commit(offsets)
}

// Seek issues the per-partition seeks in parallel and joins the results.
func (s *ConsumerSession) Seek(req SeekRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var g errgroup.Group
	for _, o := range req.Offsets {
		o := o
		g.Go(func() error {
			return s.consumer.Seek(kafka.TopicPartition{Topic: o.Topic, Partition: o.Partition}, o.Offset)
		})
	}
	return translateIllegalState(g.Wait())
}

// SeekToBeginning rewinds the given partitions to their earliest offset.
func (s *ConsumerSession) SeekToBeginning(req PartitionsRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return translateIllegalState(s.consumer.SeekToBeginning(toTopicPartitions(req.Partitions)))
}

// SeekToEnd fast-forwards the given partitions to their latest offset.
func (s *ConsumerSession) SeekToEnd(req PartitionsRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return translateIllegalState(s.consumer.SeekToEnd(toTopicPartitions(req.Partitions)))
}

// Close releases the Kafka consumer handle.
func (s *ConsumerSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.consumer.Close(); err != nil {
		zap.S().Warnf("Error closing consumer %s: %v", s.name, err)
		return err
	}
	return nil
}

func toTopicPartitions(parts []TopicPartition) []kafka.TopicPartition {
	out := make([]kafka.TopicPartition, 0, len(parts))
	for _, p := range parts {
		out = append(out, kafka.TopicPartition{Topic: p.Topic, Partition: p.Partition})
	}
	return out
}

// translateIllegalState maps the illegal-state condition of a seek against an
// unassigned partition to the not-found contract.
func translateIllegalState(err error) error {
	if err == nil {
		return nil
	}
	if errors.Cause(err) == kafka.ErrNotAssigned {
		return NewError(http.StatusNotFound, "%s", err.Error())
	}
	return err
}
