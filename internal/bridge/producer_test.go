package bridge

import (
	"encoding/base64"
	"testing"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

func binaryRecord(value string, partition *int32) ProduceRecord {
	encoded, _ := json.Marshal(base64.StdEncoding.EncodeToString([]byte(value)))
	return ProduceRecord{Value: encoded, Partition: partition}
}

func TestProducePreservesOrder(t *testing.T) {
	fake := newFakeProducer()
	sess := NewProducerSession(fake)

	req := ProduceRequest{Records: []ProduceRecord{
		binaryRecord("one", nil),
		binaryRecord("two", nil),
		binaryRecord("three", nil),
	}}
	resp, err := sess.Produce("orders", FormatBinary, req)
	if err != nil {
		t.Fatalf("Produce failed: %v", err)
	}
	if len(resp.Offsets) != 3 {
		t.Fatalf("expected 3 results, got %d", len(resp.Offsets))
	}
	for i, result := range resp.Offsets {
		if result.Offset == nil || *result.Offset != int64(i) {
			t.Errorf("result %d out of order: %+v", i, result)
		}
	}
	if string(fake.sent[0].value) != "one" || string(fake.sent[2].value) != "three" {
		t.Errorf("values decoded wrong: %q %q", fake.sent[0].value, fake.sent[2].value)
	}
}

func TestProduceNullKeyWhenAbsent(t *testing.T) {
	fake := newFakeProducer()
	sess := NewProducerSession(fake)

	_, err := sess.Produce("orders", FormatBinary, ProduceRequest{Records: []ProduceRecord{
		binaryRecord("v", nil),
	}})
	if err != nil {
		t.Fatalf("Produce failed: %v", err)
	}
	if fake.sent[0].key != nil {
		t.Errorf("expected null key, got %q", fake.sent[0].key)
	}
}

func TestProducePartitionHint(t *testing.T) {
	fake := newFakeProducer()
	sess := NewProducerSession(fake)

	partition := int32(3)
	resp, err := sess.Produce("orders", FormatBinary, ProduceRequest{Records: []ProduceRecord{
		binaryRecord("v", &partition),
		binaryRecord("w", nil),
	}})
	if err != nil {
		t.Fatalf("Produce failed: %v", err)
	}
	if fake.sent[0].partition == nil || *fake.sent[0].partition != 3 {
		t.Errorf("partition hint not forwarded: %+v", fake.sent[0])
	}
	if fake.sent[1].partition != nil {
		t.Errorf("absent partition must stay nil: %+v", fake.sent[1])
	}
	if resp.Offsets[0].Partition == nil || *resp.Offsets[0].Partition != 3 {
		t.Errorf("partition metadata missing: %+v", resp.Offsets[0])
	}
}

func TestProducePartialFailure(t *testing.T) {
	fake := newFakeProducer()
	fake.failValues["bad"] = errors.New("broker went away")
	sess := NewProducerSession(fake)

	resp, err := sess.Produce("orders", FormatBinary, ProduceRequest{Records: []ProduceRecord{
		binaryRecord("ok", nil),
		binaryRecord("bad", nil),
		binaryRecord("ok2", nil),
	}})
	if err != nil {
		t.Fatalf("a per-record failure must not fail the request: %v", err)
	}
	if len(resp.Offsets) != 3 {
		t.Fatalf("expected 3 results, got %d", len(resp.Offsets))
	}
	if resp.Offsets[0].ErrorCode != nil || resp.Offsets[2].ErrorCode != nil {
		t.Errorf("healthy records must not carry errors: %+v", resp.Offsets)
	}
	failed := resp.Offsets[1]
	if failed.ErrorCode == nil || *failed.ErrorCode != 500 || failed.Error != "broker went away" {
		t.Errorf("failed record not reported: %+v", failed)
	}
	if failed.Offset != nil {
		t.Errorf("failed record must not carry offset metadata: %+v", failed)
	}
}

func TestProduceEmptyRecords(t *testing.T) {
	sess := NewProducerSession(newFakeProducer())

	_, err := sess.Produce("orders", FormatBinary, ProduceRequest{})
	if StatusOf(err) != 422 {
		t.Errorf("expected 422 for empty payload, got %v", err)
	}
}

func TestProduceJSONFormat(t *testing.T) {
	fake := newFakeProducer()
	sess := NewProducerSession(fake)

	_, err := sess.Produce("orders", FormatJSON, ProduceRequest{Records: []ProduceRecord{
		{Key: json.RawMessage(`"user-1"`), Value: json.RawMessage(`{"qty":3}`)},
	}})
	if err != nil {
		t.Fatalf("Produce failed: %v", err)
	}
	if string(fake.sent[0].key) != `"user-1"` || string(fake.sent[0].value) != `{"qty":3}` {
		t.Errorf("json payloads must pass through verbatim: %+v", fake.sent[0])
	}
}

func TestProducerSessionClose(t *testing.T) {
	fake := newFakeProducer()
	sess := NewProducerSession(fake)
	if err := sess.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !fake.closed {
		t.Error("handle not closed")
	}
}
