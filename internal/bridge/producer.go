package bridge

import (
	"net/http"
	"sync"

	"github.com/kafbridge/kafbridge/internal/kafka"

	"go.uber.org/zap"
)

// ProducerSession is the producer endpoint bound to one HTTP connection. It
// lives as long as the connection does; the registry tears it down when the
// connection closes.
type ProducerSession struct {
	mu       sync.Mutex
	producer kafka.Producer
}

// NewProducerSession wraps a producer handle into a session.
func NewProducerSession(producer kafka.Producer) *ProducerSession {
	return &ProducerSession{producer: producer}
}

// Produce forwards the batch and returns one result per submitted record, in
// input order. A broker failure on one record does not fail the request; it
// is reported in that record's slot.
func (s *ProducerSession) Produce(topic string, format EmbeddedFormat, req ProduceRequest) (*ProduceResponse, error) {
	if len(req.Records) == 0 {
		return nil, NewError(http.StatusUnprocessableEntity, "Records list cannot be empty.")
	}

	codec := NewCodec(format)
	response := &ProduceResponse{Offsets: make([]ProduceResult, 0, len(req.Records))}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range req.Records {
		key, value, err := codec.DecodeRecord(rec)
		if err != nil {
			return nil, err
		}
		partition, offset, err := s.producer.Send(topic, rec.Partition, key, value)
		if err != nil {
			code := http.StatusInternalServerError
			response.Offsets = append(response.Offsets, ProduceResult{ErrorCode: &code, Error: err.Error()})
			continue
		}
		response.Offsets = append(response.Offsets, ProduceResult{Partition: &partition, Offset: &offset})
	}
	return response, nil
}

// ProduceAsync is the fire-and-forget path. No per-record metadata is
// produced; failures are only logged. It is not reachable from the HTTP
// contract and exists for internal senders.
func (s *ProducerSession) ProduceAsync(topic string, format EmbeddedFormat, req ProduceRequest) error {
	codec := NewCodec(format)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range req.Records {
		key, value, err := codec.DecodeRecord(rec)
		if err != nil {
			return err
		}
		s.producer.SendAsync(topic, rec.Partition, key, value)
	}
	return nil
}

// Close releases the producer handles.
func (s *ProducerSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.producer.Close(); err != nil {
		zap.S().Warnf("Error closing producer: %v", err)
		return err
	}
	return nil
}
