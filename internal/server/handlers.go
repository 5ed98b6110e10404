package server

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/kafbridge/kafbridge/internal/bridge"
	"github.com/kafbridge/kafbridge/internal/kafka"
)

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, bridge.NewError(http.StatusBadRequest, "Failed to read request body")
	}
	return bytes.TrimSpace(body), nil
}

// decodeBody unmarshals a request body into v. An empty body leaves v at its
// zero value.
func decodeBody(r *http.Request, v interface{}) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return bridge.NewError(http.StatusBadRequest, "Invalid JSON payload")
	}
	return nil
}

// createConsumerProperties is the accepted body schema of consumer creation;
// anything else fails validation, preserving the contract of the validating
// layer.
var createConsumerProperties = map[string]bool{
	"name":                        true,
	"format":                      true,
	"auto.offset.reset":           true,
	"enable.auto.commit":          true,
	"fetch.min.bytes":             true,
	"consumer.request.timeout.ms": true,
}

func parseCreateConsumerRequest(r *http.Request) (bridge.CreateConsumerRequest, error) {
	var req bridge.CreateConsumerRequest

	body, err := readBody(r)
	if err != nil {
		return req, err
	}
	if len(body) == 0 {
		return req, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return req, bridge.NewError(http.StatusBadRequest, "Invalid JSON payload")
	}
	for property := range raw {
		if !createConsumerProperties[property] {
			return req, bridge.NewError(http.StatusBadRequest,
				"Validation error on: property %q is not defined in the schema", property)
		}
	}

	req.Name = stringProperty(raw["name"])
	req.Format = stringProperty(raw["format"])
	req.AutoOffsetReset = stringProperty(raw["auto.offset.reset"])
	req.EnableAutoCommit = stringProperty(raw["enable.auto.commit"])
	req.FetchMinBytes = stringProperty(raw["fetch.min.bytes"])
	req.RequestTimeoutMs = stringProperty(raw["consumer.request.timeout.ms"])
	return req, nil
}

// stringProperty normalises a config property that may arrive as a JSON
// string or as a bare primitive.
func stringProperty(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func (s *Server) handleCreateConsumer(w http.ResponseWriter, r *http.Request, vars map[string]string) {
	group := vars[prmGroup]

	req, err := parseCreateConsumerRequest(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	format, err := bridge.ParseFormat(req.Format)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if !kafka.ValidAutoOffsetReset(req.AutoOffsetReset) {
		s.respondError(w, bridge.NewError(http.StatusUnprocessableEntity,
			"Invalid value %s for configuration auto.offset.reset: String must be one of: latest, earliest, none",
			req.AutoOffsetReset))
		return
	}

	enableAutoCommit := true
	if req.EnableAutoCommit != "" {
		enableAutoCommit, err = strconv.ParseBool(req.EnableAutoCommit)
		if err != nil {
			s.respondError(w, bridge.NewError(http.StatusUnprocessableEntity,
				"Invalid value %s for configuration enable.auto.commit: String must be one of: true, false",
				req.EnableAutoCommit))
			return
		}
	}
	var fetchMinBytes int
	if req.FetchMinBytes != "" {
		fetchMinBytes, err = strconv.Atoi(req.FetchMinBytes)
		if err != nil {
			s.respondError(w, bridge.NewError(http.StatusUnprocessableEntity,
				"Invalid value %s for configuration fetch.min.bytes", req.FetchMinBytes))
			return
		}
	}
	var requestTimeout time.Duration
	if req.RequestTimeoutMs != "" {
		ms, err := strconv.Atoi(req.RequestTimeoutMs)
		if err != nil {
			s.respondError(w, bridge.NewError(http.StatusUnprocessableEntity,
				"Invalid value %s for configuration consumer.request.timeout.ms", req.RequestTimeoutMs))
			return
		}
		requestTimeout = time.Duration(ms) * time.Millisecond
	}

	name := req.Name
	if name == "" {
		name, err = bridge.GenerateInstanceName(s.cfg.Bridge.ID)
		if err != nil {
			s.respondError(w, err)
			return
		}
	}
	if _, err := s.registry.Consumer(name); err == nil {
		s.respondError(w, bridge.ErrConsumerAlreadyExists())
		return
	}

	baseURI, err := consumerBaseURI(r, name)
	if err != nil {
		s.respondError(w, err)
		return
	}

	consumer, err := s.newConsumer(kafka.ConsumerConfig{
		Brokers:          s.cfg.Kafka.BootstrapServers,
		GroupID:          group,
		ClientID:         name,
		AutoOffsetReset:  req.AutoOffsetReset,
		EnableAutoCommit: enableAutoCommit,
		FetchMinBytes:    int32(fetchMinBytes),
		RequestTimeout:   requestTimeout,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}

	sess := bridge.NewConsumerSession(group, name, format, consumer,
		s.cfg.Consumer.PollTimeout, s.cfg.Consumer.MaxBytes)
	if err := s.registry.AddConsumer(sess); err != nil {
		consumer.Close()
		s.respondError(w, err)
		return
	}

	zap.S().Infof("Created consumer %s in group %s", name, group)
	s.respondJSON(w, http.StatusOK, bridge.ContentTypeKafkaJSON, bridge.CreateConsumerResponse{
		InstanceID: name,
		BaseURI:    baseURI,
	})
}

func (s *Server) handleDeleteConsumer(w http.ResponseWriter, r *http.Request, vars map[string]string) {
	sess, err := s.registry.RemoveConsumer(vars[prmName])
	if err != nil {
		s.respondError(w, err)
		return
	}
	sess.Close()
	zap.S().Infof("Deleted consumer %s from group %s", vars[prmName], vars[prmGroup])
	s.respondNoContent(w)
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request, vars map[string]string) {
	sess := s.session(w, vars)
	if sess == nil {
		return
	}
	var req bridge.SubscriptionRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if err := sess.Subscribe(req); err != nil {
		s.respondError(w, err)
		return
	}
	sess.Touch()
	s.respondNoContent(w)
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request, vars map[string]string) {
	sess := s.session(w, vars)
	if sess == nil {
		return
	}
	if err := sess.Unsubscribe(); err != nil {
		s.respondError(w, err)
		return
	}
	sess.Touch()
	s.respondNoContent(w)
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request, vars map[string]string) {
	sess := s.session(w, vars)
	if sess == nil {
		return
	}
	var req bridge.AssignmentRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if err := sess.Assign(req); err != nil {
		s.respondError(w, err)
		return
	}
	sess.Touch()
	s.respondNoContent(w)
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request, vars map[string]string) {
	sess := s.session(w, vars)
	if sess == nil {
		return
	}
	if err := bridge.CheckAccept(sess.Format(), r.Header.Get("Accept")); err != nil {
		s.respondError(w, err)
		return
	}

	var timeout *time.Duration
	if v := r.URL.Query().Get("timeout"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.respondError(w, bridge.NewError(http.StatusBadRequest, "Invalid value %s for parameter timeout", v))
			return
		}
		d := time.Duration(ms) * time.Millisecond
		timeout = &d
	}
	var maxBytes *int64
	if v := r.URL.Query().Get("max_bytes"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.respondError(w, bridge.NewError(http.StatusBadRequest, "Invalid value %s for parameter max_bytes", v))
			return
		}
		maxBytes = &n
	}

	body, err := sess.Poll(r.Context(), timeout, maxBytes)
	if err != nil {
		s.respondError(w, err)
		return
	}
	sess.Touch()
	s.respondRaw(w, http.StatusOK, sess.Format().ContentType(), body)
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request, vars map[string]string) {
	sess := s.session(w, vars)
	if sess == nil {
		return
	}
	body, err := readBody(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	var req *bridge.OffsetCommitRequest
	if len(body) > 0 {
		req = &bridge.OffsetCommitRequest{}
		if err := json.Unmarshal(body, req); err != nil {
			s.respondError(w, bridge.NewError(http.StatusBadRequest, "Invalid JSON payload"))
			return
		}
	}
	if err := sess.Commit(req); err != nil {
		s.respondError(w, err)
		return
	}
	sess.Touch()
	s.respondNoContent(w)
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request, vars map[string]string) {
	sess := s.session(w, vars)
	if sess == nil {
		return
	}
	var req bridge.SeekRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if err := sess.Seek(req); err != nil {
		s.respondError(w, err)
		return
	}
	sess.Touch()
	s.respondNoContent(w)
}

func (s *Server) handleSeekTo(w http.ResponseWriter, r *http.Request, vars map[string]string, op Operation) {
	sess := s.session(w, vars)
	if sess == nil {
		return
	}
	var req bridge.PartitionsRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	var err error
	if op == OpSeekToBeginning {
		err = sess.SeekToBeginning(req)
	} else {
		err = sess.SeekToEnd(req)
	}
	if err != nil {
		s.respondError(w, err)
		return
	}
	sess.Touch()
	s.respondNoContent(w)
}

func (s *Server) handleProduce(w http.ResponseWriter, r *http.Request, vars map[string]string) {
	format, err := bridge.FormatFromContentType(r.Header.Get("Content-Type"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	var req bridge.ProduceRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}

	sess := s.registry.ProducerFor(connKey(r), func() *bridge.ProducerSession {
		return bridge.NewProducerSession(s.newProducer(kafka.ProducerConfig{
			Brokers:     s.cfg.Kafka.BootstrapServers,
			ClientID:    s.cfg.Bridge.ID,
			Compression: s.cfg.Producer.Compression,
		}))
	})
	response, err := sess.Produce(vars[prmTopic], format, req)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, bridge.ContentTypeKafkaJSON, response)
}
