package kafka

import (
	"testing"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
)

func TestBridgePartitionerHonoursTarget(t *testing.T) {
	p := NewBridgePartitioner("orders")

	msg := &sarama.ProducerMessage{Topic: "orders", Metadata: targetPartition(3)}
	partition, err := p.Partition(msg, 5)
	if err != nil {
		t.Fatalf("Partition failed: %v", err)
	}
	if partition != 3 {
		t.Errorf("expected partition 3, got %d", partition)
	}
}

func TestBridgePartitionerRejectsOutOfRange(t *testing.T) {
	p := NewBridgePartitioner("orders")

	msg := &sarama.ProducerMessage{Topic: "orders", Metadata: targetPartition(7)}
	if _, err := p.Partition(msg, 5); err == nil {
		t.Error("expected out of range error")
	}
}

func TestBridgePartitionerFallsBackToKeyHash(t *testing.T) {
	p := NewBridgePartitioner("orders")

	msg := &sarama.ProducerMessage{Topic: "orders", Key: sarama.StringEncoder("user-1")}
	first, err := p.Partition(msg, 8)
	if err != nil {
		t.Fatalf("Partition failed: %v", err)
	}
	second, err := p.Partition(msg, 8)
	if err != nil {
		t.Fatalf("Partition failed: %v", err)
	}
	if first != second {
		t.Errorf("key hashing must be deterministic: %d != %d", first, second)
	}
}

func TestProducerMessageBuilder(t *testing.T) {
	partition := int32(2)
	msg := message("orders", &partition, []byte("k"), []byte("v"))
	if msg.Metadata != targetPartition(2) {
		t.Errorf("partition target not attached: %v", msg.Metadata)
	}

	msg = message("orders", nil, nil, []byte("v"))
	if msg.Metadata != nil {
		t.Errorf("no target expected: %v", msg.Metadata)
	}
	if msg.Key != nil {
		t.Error("absent key must stay nil for null-key semantics")
	}
}

func TestSendAgainstMockedSyncProducer(t *testing.T) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	mock := mocks.NewSyncProducer(t, config)
	mock.ExpectSendMessageAndSucceed()
	mock.ExpectSendMessageAndFail(sarama.ErrBrokerNotAvailable)

	p := &saramaProducer{sp: mock}
	if _, _, err := p.Send("orders", nil, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if _, _, err := p.Send("orders", nil, nil, []byte("v")); err == nil {
		t.Fatal("expected the broker error to surface")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestValidAutoOffsetReset(t *testing.T) {
	for _, ok := range []string{"", "latest", "earliest", "none"} {
		if !ValidAutoOffsetReset(ok) {
			t.Errorf("%q should be valid", ok)
		}
	}
	for _, bad := range []string{"sideways", "newest", "LATEST"} {
		if ValidAutoOffsetReset(bad) {
			t.Errorf("%q should be invalid", bad)
		}
	}
}

func TestNewConsumerConfig(t *testing.T) {
	cfg := newConsumerConfig(ConsumerConfig{
		ClientID:        "c1",
		AutoOffsetReset: "earliest",
		FetchMinBytes:   512,
	})
	if cfg.ClientID != "c1" {
		t.Errorf("client id not applied: %s", cfg.ClientID)
	}
	if cfg.Consumer.Offsets.Initial != sarama.OffsetOldest {
		t.Errorf("earliest must map to the oldest offset, got %d", cfg.Consumer.Offsets.Initial)
	}
	if cfg.Consumer.Fetch.Min != 512 {
		t.Errorf("fetch.min.bytes not applied: %d", cfg.Consumer.Fetch.Min)
	}
	if cfg.Consumer.Offsets.AutoCommit.Enable {
		t.Error("auto commit must follow the request")
	}

	cfg = newConsumerConfig(ConsumerConfig{AutoOffsetReset: "latest", EnableAutoCommit: true})
	if cfg.Consumer.Offsets.Initial != sarama.OffsetNewest {
		t.Errorf("latest must map to the newest offset, got %d", cfg.Consumer.Offsets.Initial)
	}
	if !cfg.Consumer.Offsets.AutoCommit.Enable {
		t.Error("auto commit must follow the request")
	}
}
