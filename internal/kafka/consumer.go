package kafka

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrNotAssigned is the illegal-state condition raised by seeks against a
// partition that is not part of the current assignment.
var ErrNotAssigned = errors.New("No current assignment for partition")

// ConsumerConfig is the per-instance configuration the bridge supports.
type ConsumerConfig struct {
	Brokers          []string
	GroupID          string
	ClientID         string
	AutoOffsetReset  string // latest, earliest or none; empty means latest
	EnableAutoCommit bool
	FetchMinBytes    int32
	RequestTimeout   time.Duration
}

// ValidAutoOffsetReset reports whether s is an accepted auto.offset.reset
// value.
func ValidAutoOffsetReset(s string) bool {
	switch s {
	case "", "latest", "earliest", "none":
		return true
	}
	return false
}

func newConsumerConfig(cfg ConsumerConfig) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = cfg.ClientID
	config.Version = sarama.MaxVersion
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.AutoCommit.Enable = cfg.EnableAutoCommit
	if cfg.AutoOffsetReset == "earliest" {
		config.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		config.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	if cfg.FetchMinBytes > 0 {
		config.Consumer.Fetch.Min = cfg.FetchMinBytes
	}
	if cfg.RequestTimeout > 0 {
		config.Net.ReadTimeout = cfg.RequestTimeout
	}
	return config
}

// NewConsumer connects a consumer handle for one bridge instance. The handle
// owns its own Sarama client so that closing the instance releases every
// broker connection it holds.
func NewConsumer(cfg ConsumerConfig) (Consumer, error) {
	client, err := sarama.NewClient(cfg.Brokers, newConsumerConfig(cfg))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create kafka client")
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		client.Close()
		return nil, errors.Wrap(err, "failed to create consumer")
	}
	om, err := sarama.NewOffsetManagerFromClient(cfg.GroupID, client)
	if err != nil {
		consumer.Close()
		client.Close()
		return nil, errors.Wrap(err, "failed to create offset manager")
	}
	return &saramaConsumer{
		client:    client,
		consumer:  consumer,
		om:        om,
		initial:   newConsumerConfig(cfg).Consumer.Offsets.Initial,
		parts:     make(map[TopicPartition]*partitionReader),
		poms:      make(map[TopicPartition]sarama.PartitionOffsetManager),
		delivered: make(map[TopicPartition]int64),
		records:   make(chan Message, 256),
	}, nil
}

type partitionReader struct {
	pc   sarama.PartitionConsumer
	done chan struct{}
}

// saramaConsumer realizes the Consumer interface on top of partition
// consumers plus an offset manager, the same building blocks kafka-pixy
// assembles its proxy from. Sarama has no native seek; repositioning reopens
// the partition consumer at the requested offset.
type saramaConsumer struct {
	mu       sync.Mutex
	client   sarama.Client
	consumer sarama.Consumer
	om       sarama.OffsetManager
	initial  int64

	parts      map[TopicPartition]*partitionReader
	poms       map[TopicPartition]sarama.PartitionOffsetManager
	delivered  map[TopicPartition]int64
	records    chan Message
	readers    sync.WaitGroup
	subscribed bool
}

func (c *saramaConsumer) pom(tp TopicPartition) (sarama.PartitionOffsetManager, error) {
	if pom, ok := c.poms[tp]; ok {
		return pom, nil
	}
	pom, err := c.om.ManagePartition(tp.Topic, tp.Partition)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to manage offsets for %s-%d", tp.Topic, tp.Partition)
	}
	c.poms[tp] = pom
	return pom, nil
}

// openPartition starts a reader pumping records into the shared channel. A
// nil offset resumes from the committed position, falling back to the
// configured initial offset.
func (c *saramaConsumer) openPartition(tp TopicPartition, offset *int64) error {
	start := c.initial
	if offset != nil {
		start = *offset
	} else {
		pom, err := c.pom(tp)
		if err != nil {
			return err
		}
		if next, _ := pom.NextOffset(); next >= 0 {
			start = next
		}
	}

	pc, err := c.consumer.ConsumePartition(tp.Topic, tp.Partition, start)
	if err == sarama.ErrOffsetOutOfRange && offset != nil {
		pc, err = c.consumer.ConsumePartition(tp.Topic, tp.Partition, c.initial)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to consume %s-%d", tp.Topic, tp.Partition)
	}

	reader := &partitionReader{pc: pc, done: make(chan struct{})}
	c.parts[tp] = reader
	c.readers.Add(1)
	go func() {
		defer c.readers.Done()
		for {
			select {
			case m, ok := <-pc.Messages():
				if !ok {
					return
				}
				select {
				case c.records <- Message{Topic: m.Topic, Partition: m.Partition, Offset: m.Offset, Key: m.Key, Value: m.Value}:
				case <-reader.done:
					return
				}
			case err, ok := <-pc.Errors():
				if ok && err != nil {
					zap.S().Warnf("Consumer error on %s-%d: %v", tp.Topic, tp.Partition, err)
				}
			case <-reader.done:
				return
			}
		}
	}()
	return nil
}

func (c *saramaConsumer) closeReader(tp TopicPartition) {
	reader, ok := c.parts[tp]
	if !ok {
		return
	}
	close(reader.done)
	reader.pc.AsyncClose()
	delete(c.parts, tp)
}

func (c *saramaConsumer) closeAllReaders() {
	for tp := range c.parts {
		c.closeReader(tp)
	}
	c.readers.Wait()
	c.drain()
}

func (c *saramaConsumer) drain() {
	for {
		select {
		case <-c.records:
		default:
			return
		}
	}
}

func (c *saramaConsumer) Subscribe(topics []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeAllReaders()
	if err := c.client.RefreshMetadata(topics...); err != nil {
		return errors.Wrap(err, "failed to refresh metadata")
	}
	for _, topic := range topics {
		partitions, err := c.client.Partitions(topic)
		if err != nil {
			return errors.Wrapf(err, "failed to get partitions of %s", topic)
		}
		for _, p := range partitions {
			if err := c.openPartition(TopicPartition{Topic: topic, Partition: p}, nil); err != nil {
				return err
			}
		}
	}
	c.subscribed = true
	return nil
}

func (c *saramaConsumer) SubscribePattern(pattern *regexp.Regexp) error {
	if err := c.client.RefreshMetadata(); err != nil {
		return errors.Wrap(err, "failed to refresh metadata")
	}
	topics, err := c.client.Topics()
	if err != nil {
		return errors.Wrap(err, "failed to list topics")
	}
	matched := make([]string, 0, len(topics))
	for _, topic := range topics {
		if pattern.MatchString(topic) {
			matched = append(matched, topic)
		}
	}
	return c.Subscribe(matched)
}

func (c *saramaConsumer) Assign(assignments []Assignment) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeAllReaders()
	for _, a := range assignments {
		if err := c.client.RefreshMetadata(a.Topic); err != nil {
			return errors.Wrap(err, "failed to refresh metadata")
		}
		if err := c.openPartition(a.TopicPartition, a.Offset); err != nil {
			return err
		}
	}
	c.subscribed = true
	return nil
}

func (c *saramaConsumer) Unsubscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeAllReaders()
	c.delivered = make(map[TopicPartition]int64)
	c.subscribed = false
	return nil
}

func (c *saramaConsumer) Poll(ctx context.Context, timeout time.Duration) ([]Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.subscribed {
		return nil, errors.New(ErrNotSubscribed)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var out []Message
	select {
	case m := <-c.records:
		out = append(out, m)
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, nil
	}

	// First record arrived; take whatever else is already buffered.
	for {
		select {
		case m := <-c.records:
			out = append(out, m)
		default:
			c.markDelivered(out)
			return out, nil
		}
	}
}

// markDelivered records delivery positions so that a commit without an
// explicit offset list commits the most recently delivered records.
func (c *saramaConsumer) markDelivered(msgs []Message) {
	for _, m := range msgs {
		tp := TopicPartition{Topic: m.Topic, Partition: m.Partition}
		if next := m.Offset + 1; next > c.delivered[tp] {
			c.delivered[tp] = next
			if pom, err := c.pom(tp); err == nil {
				pom.MarkOffset(next, "")
			}
		}
	}
}

func (c *saramaConsumer) Commit(offsets map[TopicPartition]Offset) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for tp, off := range offsets {
		pom, err := c.pom(tp)
		if err != nil {
			return err
		}
		if next, _ := pom.NextOffset(); off.Offset < next {
			pom.ResetOffset(off.Offset, off.Metadata)
		} else {
			pom.MarkOffset(off.Offset, off.Metadata)
		}
	}
	c.om.Commit()
	return c.commitError()
}

// commitError collects broker failures the offset manager reported for the
// flush that just completed.
func (c *saramaConsumer) commitError() error {
	var err error
	for _, pom := range c.poms {
		for {
			select {
			case e, ok := <-pom.Errors():
				if ok && e != nil {
					err = multierr.Append(err, e.Err)
					continue
				}
			default:
			}
			break
		}
	}
	return err
}

func (c *saramaConsumer) Seek(tp TopicPartition, offset int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reopen(tp, offset)
}

func (c *saramaConsumer) reopen(tp TopicPartition, offset int64) error {
	if _, ok := c.parts[tp]; !ok {
		return errors.Wrapf(ErrNotAssigned, "%s-%d", tp.Topic, tp.Partition)
	}
	c.closeReader(tp)
	return c.openPartition(tp, &offset)
}

func (c *saramaConsumer) SeekToBeginning(tps []TopicPartition) error {
	return c.seekToBoundary(tps, sarama.OffsetOldest)
}

func (c *saramaConsumer) SeekToEnd(tps []TopicPartition) error {
	return c.seekToBoundary(tps, sarama.OffsetNewest)
}

func (c *saramaConsumer) seekToBoundary(tps []TopicPartition, boundary int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, tp := range tps {
		if _, ok := c.parts[tp]; !ok {
			return errors.Wrapf(ErrNotAssigned, "%s-%d", tp.Topic, tp.Partition)
		}
		offset, err := c.client.GetOffset(tp.Topic, tp.Partition, boundary)
		if err != nil {
			return errors.Wrapf(err, "failed to get %s-%d offset", tp.Topic, tp.Partition)
		}
		if err := c.reopen(tp, offset); err != nil {
			return err
		}
	}
	return nil
}

func (c *saramaConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeAllReaders()
	var err error
	for _, pom := range c.poms {
		err = multierr.Append(err, pom.Close())
	}
	err = multierr.Append(err, c.om.Close())
	err = multierr.Append(err, c.consumer.Close())
	err = multierr.Append(err, c.client.Close())
	return err
}
