package bridge

import (
	"context"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/kafbridge/kafbridge/internal/kafka"
)

// fakeConsumer records what the session asked of its handle and plays back
// canned poll results.
type fakeConsumer struct {
	topics   []string
	pattern  *regexp.Regexp
	assigned []kafka.Assignment

	polled      []kafka.Message
	pollErr     error
	lastTimeout time.Duration

	committed       map[kafka.TopicPartition]kafka.Offset
	committedNoBody bool
	commitErr       error

	seekMu      sync.Mutex
	seeks       map[kafka.TopicPartition]int64
	notAssigned bool

	unsubscribed bool
	closed       atomic.Bool
}

func newFakeConsumer() *fakeConsumer {
	return &fakeConsumer{
		committed: make(map[kafka.TopicPartition]kafka.Offset),
		seeks:     make(map[kafka.TopicPartition]int64),
	}
}

func (f *fakeConsumer) Subscribe(topics []string) error {
	f.topics = topics
	return nil
}

func (f *fakeConsumer) SubscribePattern(pattern *regexp.Regexp) error {
	f.pattern = pattern
	return nil
}

func (f *fakeConsumer) Assign(assignments []kafka.Assignment) error {
	f.assigned = assignments
	return nil
}

func (f *fakeConsumer) Unsubscribe() error {
	f.unsubscribed = true
	f.topics = nil
	f.pattern = nil
	f.assigned = nil
	return nil
}

func (f *fakeConsumer) Poll(ctx context.Context, timeout time.Duration) ([]kafka.Message, error) {
	f.lastTimeout = timeout
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	msgs := f.polled
	f.polled = nil
	return msgs, nil
}

func (f *fakeConsumer) Commit(offsets map[kafka.TopicPartition]kafka.Offset) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	if offsets == nil {
		f.committedNoBody = true
		return nil
	}
	for tp, off := range offsets {
		f.committed[tp] = off
	}
	return nil
}

func (f *fakeConsumer) Seek(tp kafka.TopicPartition, offset int64) error {
	if f.notAssigned {
		return errors.Wrapf(kafka.ErrNotAssigned, "%s-%d", tp.Topic, tp.Partition)
	}
	f.seekMu.Lock()
	defer f.seekMu.Unlock()
	f.seeks[tp] = offset
	return nil
}

func (f *fakeConsumer) SeekToBeginning(tps []kafka.TopicPartition) error {
	return f.seekAll(tps, 0)
}

func (f *fakeConsumer) SeekToEnd(tps []kafka.TopicPartition) error {
	return f.seekAll(tps, -1)
}

func (f *fakeConsumer) seekAll(tps []kafka.TopicPartition, offset int64) error {
	for _, tp := range tps {
		if err := f.Seek(tp, offset); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeConsumer) Close() error {
	f.closed.Store(true)
	return nil
}

type sentRecord struct {
	topic     string
	partition *int32
	key       []byte
	value     []byte
}

// fakeProducer acknowledges sends with increasing offsets and can fail
// selected records.
type fakeProducer struct {
	sent       []sentRecord
	nextOffset int64
	failValues map[string]error
	closed     bool
}

func newFakeProducer() *fakeProducer {
	return &fakeProducer{failValues: make(map[string]error)}
}

func (f *fakeProducer) Send(topic string, partition *int32, key, value []byte) (int32, int64, error) {
	if err, ok := f.failValues[string(value)]; ok {
		return 0, 0, err
	}
	f.sent = append(f.sent, sentRecord{topic: topic, partition: partition, key: key, value: value})
	var p int32
	if partition != nil {
		p = *partition
	}
	offset := f.nextOffset
	f.nextOffset++
	return p, offset, nil
}

func (f *fakeProducer) SendAsync(topic string, partition *int32, key, value []byte) {
	f.sent = append(f.sent, sentRecord{topic: topic, partition: partition, key: key, value: value})
}

func (f *fakeProducer) Close() error {
	f.closed = true
	return nil
}
