package bridge

import (
	"encoding/base64"
	"net/http"

	"github.com/goccy/go-json"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/kafbridge/kafbridge/internal/kafka"
)

// MessageCodec converts between Kafka records and the JSON envelope of one
// embedded format.
type MessageCodec interface {
	// EncodeRecords renders delivered records as the poll response body.
	EncodeRecords(msgs []kafka.Message) ([]byte, error)
	// DecodeRecord extracts the raw key and value bytes of a record to
	// produce. Either may be nil when absent.
	DecodeRecord(rec ProduceRecord) (key, value []byte, err error)
}

// NewCodec returns the codec for the given embedded format.
func NewCodec(format EmbeddedFormat) MessageCodec {
	if format == FormatJSON {
		return jsonCodec{}
	}
	return binaryCodec{}
}

// binaryCodec carries keys and values as base64 strings.
type binaryCodec struct{}

func (binaryCodec) EncodeRecords(msgs []kafka.Message) ([]byte, error) {
	out := make([]ConsumerRecord, 0, len(msgs))
	for _, m := range msgs {
		rec := ConsumerRecord{Topic: m.Topic, Partition: m.Partition, Offset: m.Offset}
		if m.Key != nil {
			encoded, err := json.Marshal(base64.StdEncoding.EncodeToString(m.Key))
			if err != nil {
				return nil, err
			}
			rec.Key = encoded
		} else {
			rec.Key = json.RawMessage("null")
		}
		if m.Value != nil {
			encoded, err := json.Marshal(base64.StdEncoding.EncodeToString(m.Value))
			if err != nil {
				return nil, err
			}
			rec.Value = encoded
		} else {
			rec.Value = json.RawMessage("null")
		}
		out = append(out, rec)
	}
	return json.Marshal(out)
}

func (binaryCodec) DecodeRecord(rec ProduceRecord) ([]byte, []byte, error) {
	key, err := decodeBase64Field(rec.Key)
	if err != nil {
		return nil, nil, NewError(http.StatusUnprocessableEntity, "Failed to decode key: %s", err)
	}
	value, err := decodeBase64Field(rec.Value)
	if err != nil {
		return nil, nil, NewError(http.StatusUnprocessableEntity, "Failed to decode value: %s", err)
	}
	return key, value, nil
}

func decodeBase64Field(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, errors.New("not a base64 string")
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.New("not a base64 string")
	}
	return decoded, nil
}

// jsonCodec carries keys and values as arbitrary JSON.
type jsonCodec struct{}

func (jsonCodec) EncodeRecords(msgs []kafka.Message) ([]byte, error) {
	out := make([]ConsumerRecord, 0, len(msgs))
	for _, m := range msgs {
		rec := ConsumerRecord{Topic: m.Topic, Partition: m.Partition, Offset: m.Offset}
		key, err := decodedJSONField(m.Key)
		if err != nil {
			return nil, err
		}
		rec.Key = key
		value, err := decodedJSONField(m.Value)
		if err != nil {
			return nil, err
		}
		rec.Value = value
		out = append(out, rec)
	}
	return json.Marshal(out)
}

// decodedJSONField checks that delivered bytes really are JSON before they are
// embedded in the response. jsoniter tolerates the full range of values the
// producer side may have written.
func decodedJSONField(b []byte) (json.RawMessage, error) {
	if b == nil {
		return json.RawMessage("null"), nil
	}
	var v interface{}
	if err := jsoniter.Unmarshal(b, &v); err != nil {
		return nil, NewError(http.StatusNotAcceptable, "Failed to decode record as JSON")
	}
	return json.RawMessage(b), nil
}

func (jsonCodec) DecodeRecord(rec ProduceRecord) ([]byte, []byte, error) {
	var key, value []byte
	if len(rec.Key) > 0 && string(rec.Key) != "null" {
		key = []byte(rec.Key)
	}
	if len(rec.Value) > 0 && string(rec.Value) != "null" {
		value = []byte(rec.Value)
	}
	return key, value, nil
}
