package kafka

import (
	"sync"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ProducerConfig is the shared configuration of the two producer modes.
type ProducerConfig struct {
	Brokers     []string
	ClientID    string
	Compression string // none, gzip, snappy, lz4 or zstd
}

func compressionCodec(name string) sarama.CompressionCodec {
	switch name {
	case "gzip":
		return sarama.CompressionGZIP
	case "snappy":
		return sarama.CompressionSnappy
	case "lz4":
		return sarama.CompressionLZ4
	case "zstd":
		return sarama.CompressionZSTD
	}
	return sarama.CompressionNone
}

// NewProducer returns a dual-mode producer. The underlying Sarama producers
// are materialised lazily, on the first send of each mode, so that a
// connection that only ever produces with acks=all never opens the
// fire-and-forget producer.
func NewProducer(cfg ProducerConfig) Producer {
	return &saramaProducer{cfg: cfg}
}

type saramaProducer struct {
	mu  sync.Mutex
	cfg ProducerConfig
	sp  sarama.SyncProducer
	ap  sarama.AsyncProducer
}

// targetPartition is attached to ProducerMessage.Metadata when the record
// names an explicit partition; the bridge partitioner honours it and falls
// back to key hashing otherwise.
type targetPartition int32

type bridgePartitioner struct {
	hash sarama.Partitioner
}

// NewBridgePartitioner builds the partitioner used for produced records.
func NewBridgePartitioner(topic string) sarama.Partitioner {
	return &bridgePartitioner{hash: sarama.NewHashPartitioner(topic)}
}

func (p *bridgePartitioner) Partition(message *sarama.ProducerMessage, numPartitions int32) (int32, error) {
	if target, ok := message.Metadata.(targetPartition); ok {
		if int32(target) < 0 || int32(target) >= numPartitions {
			return 0, errors.Errorf("partition %d is out of range [0, %d)", target, numPartitions)
		}
		return int32(target), nil
	}
	return p.hash.Partition(message, numPartitions)
}

func (p *bridgePartitioner) RequiresConsistency() bool {
	return true
}

func (p *saramaProducer) producerConfig(acks sarama.RequiredAcks, returnSuccesses bool) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = p.cfg.ClientID
	config.Version = sarama.MaxVersion
	config.Producer.RequiredAcks = acks
	config.Producer.Compression = compressionCodec(p.cfg.Compression)
	config.Producer.Return.Successes = returnSuccesses
	config.Producer.Return.Errors = true
	config.Producer.Partitioner = NewBridgePartitioner
	return config
}

func (p *saramaProducer) syncProducer() (sarama.SyncProducer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sp != nil {
		return p.sp, nil
	}
	sp, err := sarama.NewSyncProducer(p.cfg.Brokers, p.producerConfig(sarama.WaitForAll, true))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create sync producer")
	}
	p.sp = sp
	return sp, nil
}

func (p *saramaProducer) asyncProducer() (sarama.AsyncProducer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ap != nil {
		return p.ap, nil
	}
	ap, err := sarama.NewAsyncProducer(p.cfg.Brokers, p.producerConfig(sarama.NoResponse, false))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create async producer")
	}
	go func() {
		for err := range ap.Errors() {
			zap.S().Warnf("Fire-and-forget produce failed: %v", err)
		}
	}()
	p.ap = ap
	return ap, nil
}

func message(topic string, partition *int32, key, value []byte) *sarama.ProducerMessage {
	msg := &sarama.ProducerMessage{Topic: topic}
	if partition != nil {
		msg.Metadata = targetPartition(*partition)
	}
	if key != nil {
		msg.Key = sarama.ByteEncoder(key)
	}
	if value != nil {
		msg.Value = sarama.ByteEncoder(value)
	}
	return msg
}

func (p *saramaProducer) Send(topic string, partition *int32, key, value []byte) (int32, int64, error) {
	sp, err := p.syncProducer()
	if err != nil {
		return 0, 0, err
	}
	return sp.SendMessage(message(topic, partition, key, value))
}

func (p *saramaProducer) SendAsync(topic string, partition *int32, key, value []byte) {
	ap, err := p.asyncProducer()
	if err != nil {
		zap.S().Warnf("Fire-and-forget producer unavailable: %v", err)
		return
	}
	ap.Input() <- message(topic, partition, key, value)
}

func (p *saramaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if p.sp != nil {
		err = multierr.Append(err, p.sp.Close())
		p.sp = nil
	}
	if p.ap != nil {
		err = multierr.Append(err, p.ap.Close())
		p.ap = nil
	}
	return err
}
