package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/kafbridge/kafbridge/internal/bridge"
	"github.com/kafbridge/kafbridge/internal/config"
	"github.com/kafbridge/kafbridge/internal/kafka"
)

// ConsumerFactory opens the Kafka consumer handle backing a new instance.
type ConsumerFactory func(cfg kafka.ConsumerConfig) (kafka.Consumer, error)

// ProducerFactory opens the producer handle backing an HTTP connection.
type ProducerFactory func(cfg kafka.ProducerConfig) kafka.Producer

// Server binds the session registry to the HTTP surface: it classifies each
// request, routes it to the right session, and emits the error envelopes.
type Server struct {
	cfg        *config.Config
	registry   *bridge.Registry
	classifier *Classifier
	httpServer *http.Server

	newConsumer ConsumerFactory
	newProducer ProducerFactory

	connKeys sync.Map // net.Conn -> connection key
	reqID    atomic.Uint64
}

// NewServer wires the frontend. The factories keep the Kafka client out of
// request handling, so tests can substitute fakes.
func NewServer(cfg *config.Config, registry *bridge.Registry, newConsumer ConsumerFactory, newProducer ProducerFactory) *Server {
	s := &Server{
		cfg:         cfg,
		registry:    registry,
		classifier:  NewClassifier(),
		newConsumer: newConsumer,
		newProducer: newProducer,
	}
	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:     s,
		ConnContext: s.connContext,
		ConnState:   s.connState,
	}
	return s
}

// ListenAndServe starts serving; it blocks until the server stops.
func (s *Server) ListenAndServe() error {
	zap.S().Infof("HTTP-Kafka bridge listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown closes every live session and empties the registry before
// releasing the HTTP server socket.
func (s *Server) Shutdown(ctx context.Context) error {
	zap.S().Info("Stopping HTTP-Kafka bridge")
	err := s.registry.Shutdown()
	return multierr.Append(err, s.httpServer.Shutdown(ctx))
}

// connContext tags every accepted connection with a key so producer sessions
// can be bound to, and torn down with, their connection.
func (s *Server) connContext(ctx context.Context, c net.Conn) context.Context {
	key, err := uuid.GenerateUUID()
	if err != nil {
		key = c.RemoteAddr().String()
	}
	s.connKeys.Store(c, key)
	return context.WithValue(ctx, connKeyContextKey{}, key)
}

func (s *Server) connState(c net.Conn, state http.ConnState) {
	if state != http.StateClosed && state != http.StateHijacked {
		return
	}
	if key, ok := s.connKeys.LoadAndDelete(c); ok {
		s.registry.ConnectionClosed(key.(string))
	}
}

type connKeyContextKey struct{}

func connKey(r *http.Request) string {
	if key, ok := r.Context().Value(connKeyContextKey{}).(string); ok {
		return key
	}
	return r.RemoteAddr
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	op, vars := s.classifier.Classify(r)
	reqID := s.reqID.Add(1)
	zap.S().Debugf("[%d] %s %s -> %s", reqID, r.Method, r.URL.Path, op)

	switch op {
	case OpCreateConsumer:
		s.handleCreateConsumer(w, r, vars)
	case OpDeleteConsumer:
		s.handleDeleteConsumer(w, r, vars)
	case OpSubscribe:
		s.handleSubscribe(w, r, vars)
	case OpUnsubscribe:
		s.handleUnsubscribe(w, r, vars)
	case OpAssign:
		s.handleAssign(w, r, vars)
	case OpPoll:
		s.handlePoll(w, r, vars)
	case OpCommit:
		s.handleCommit(w, r, vars)
	case OpSeek:
		s.handleSeek(w, r, vars)
	case OpSeekToBeginning, OpSeekToEnd:
		s.handleSeekTo(w, r, vars, op)
	case OpProduce:
		s.handleProduce(w, r, vars)
	case OpHealth:
		s.respondJSON(w, http.StatusOK, "application/json", map[string]string{"status": "ok"})
	case OpEmpty:
		s.respondError(w, bridge.NewError(http.StatusUnprocessableEntity, "The request cannot have empty payload"))
	case OpUnprocessable:
		s.respondError(w, bridge.NewError(http.StatusUnprocessableEntity, "Unprocessable request."))
	default:
		s.respondError(w, bridge.NewError(http.StatusBadRequest, "Invalid request"))
	}
}

// session resolves the consumer instance a request addresses, or reports the
// not-found contract.
func (s *Server) session(w http.ResponseWriter, vars map[string]string) *bridge.ConsumerSession {
	sess, err := s.registry.Consumer(vars[prmName])
	if err != nil {
		s.respondError(w, err)
		return nil
	}
	return sess
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, contentType string, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		zap.S().Errorf("Failed to encode response: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	s.respondRaw(w, status, contentType, body)
}

func (s *Server) respondRaw(w http.ResponseWriter, status int, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	w.Write(body)
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	s.respondJSON(w, bridge.StatusOf(err), bridge.ContentTypeKafkaJSON, bridge.EnvelopeOf(err))
}

func (s *Server) respondNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
