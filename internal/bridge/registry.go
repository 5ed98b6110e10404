package bridge

import (
	"sync"
	"time"

	"github.com/hashicorp/go-uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Registry is the process-wide directory of live sessions: consumer sessions
// keyed by instance name, producer sessions keyed by the originating HTTP
// connection. The maps never contain a closed session; mutation happens under
// a short critical section covering lookup plus insert or remove only, never
// a Kafka call.
type Registry struct {
	mu        sync.Mutex
	consumers map[string]*ConsumerSession
	producers map[string]*ProducerSession

	idleTimeout time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
	sweeper     sync.WaitGroup
}

// NewRegistry builds a registry. When idleTimeout is positive, a background
// sweeper closes consumer instances idle for longer than that, checking every
// sweepInterval.
func NewRegistry(idleTimeout, sweepInterval time.Duration) *Registry {
	r := &Registry{
		consumers:   make(map[string]*ConsumerSession),
		producers:   make(map[string]*ProducerSession),
		idleTimeout: idleTimeout,
		stop:        make(chan struct{}),
	}
	if idleTimeout > 0 {
		if sweepInterval <= 0 {
			sweepInterval = idleTimeout / 2
		}
		r.sweeper.Add(1)
		go r.sweepLoop(sweepInterval)
	}
	return r
}

// GenerateInstanceName builds a name for an instance created without one. The
// result always starts with the configured bridge id.
func GenerateInstanceName(bridgeID string) (string, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", err
	}
	return bridgeID + "-" + id, nil
}

// AddConsumer registers a session under its instance name, enforcing
// process-wide uniqueness.
func (r *Registry) AddConsumer(s *ConsumerSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.consumers[s.Name()]; exists {
		return ErrConsumerAlreadyExists()
	}
	r.consumers[s.Name()] = s
	return nil
}

// Consumer looks up a live instance by name.
func (r *Registry) Consumer(name string) (*ConsumerSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.consumers[name]
	if !ok {
		return nil, ErrConsumerNotFound()
	}
	return s, nil
}

// RemoveConsumer unregisters an instance and hands it back for closing. The
// Kafka close happens outside the registry lock.
func (r *Registry) RemoveConsumer(name string) (*ConsumerSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.consumers[name]
	if !ok {
		return nil, ErrConsumerNotFound()
	}
	delete(r.consumers, name)
	return s, nil
}

// ProducerFor returns the producer session of a connection, creating it on
// the first produce request the connection carries.
func (r *Registry) ProducerFor(connKey string, create func() *ProducerSession) *ProducerSession {
	r.mu.Lock()
	if s, ok := r.producers[connKey]; ok {
		r.mu.Unlock()
		return s
	}
	r.mu.Unlock()

	// Built outside the lock; connections serve one request at a time, so a
	// duplicate for the same key cannot appear concurrently.
	s := create()
	r.mu.Lock()
	r.producers[connKey] = s
	r.mu.Unlock()
	return s
}

// ConnectionClosed tears down the producer session of a closed connection,
// if one exists.
func (r *Registry) ConnectionClosed(connKey string) {
	r.mu.Lock()
	s, ok := r.producers[connKey]
	delete(r.producers, connKey)
	r.mu.Unlock()
	if ok {
		zap.S().Debugf("Closing producer of connection %s", connKey)
		s.Close()
	}
}

func (r *Registry) sweepLoop(interval time.Duration) {
	defer r.sweeper.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			r.sweep(now)
		case <-r.stop:
			return
		}
	}
}

// sweep closes and removes every consumer instance idle beyond the timeout.
// An expired instance behaves exactly like an explicitly deleted one: any
// further request gets 404.
func (r *Registry) sweep(now time.Time) {
	r.mu.Lock()
	var expired []*ConsumerSession
	for name, s := range r.consumers {
		if s.IdleSince(now) > r.idleTimeout {
			delete(r.consumers, name)
			expired = append(expired, s)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		zap.S().Infof("Deleted expired consumer %s from group %s", s.Name(), s.GroupID())
		s.Close()
	}
}

// Shutdown stops the sweeper and closes every live session, emptying both
// maps before returning.
func (r *Registry) Shutdown() error {
	r.stopOnce.Do(func() { close(r.stop) })
	r.sweeper.Wait()

	r.mu.Lock()
	consumers := make([]*ConsumerSession, 0, len(r.consumers))
	for _, s := range r.consumers {
		consumers = append(consumers, s)
	}
	producers := make([]*ProducerSession, 0, len(r.producers))
	for _, s := range r.producers {
		producers = append(producers, s)
	}
	r.consumers = make(map[string]*ConsumerSession)
	r.producers = make(map[string]*ProducerSession)
	r.mu.Unlock()

	var err error
	for _, s := range consumers {
		err = multierr.Append(err, s.Close())
	}
	for _, s := range producers {
		err = multierr.Append(err, s.Close())
	}
	return err
}
