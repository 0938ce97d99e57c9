package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNoSubscribers is returned by InMemoryQueue.Publish when nobody listens on the topic.
var ErrNoSubscribers = errors.New("no subscribers")

// Handler processes one message body. A non-nil error asks for a retry.
type Handler func(body []byte) error

// Queue interface
type Queue interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler Handler) error
}

// InMemoryQueue fans messages out to in-process subscribers with retry.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]Handler
	log      zerolog.Logger

	MaxRetries int
	Backoff    time.Duration
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(log zerolog.Logger) *InMemoryQueue {
	return &InMemoryQueue{
		handlers:   make(map[string][]Handler),
		log:        log.With().Str("component", "queue").Logger(),
		MaxRetries: 3,
		Backoff:    500 * time.Millisecond,
	}
}

// job wraps a message body with retry info
type job struct {
	ID         string
	Topic      string
	Body       []byte
	RetryCount int
}

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}

	q.mu.Lock()
	handlers := append([]Handler(nil), q.handlers[topic]...)
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("%w for topic %s", ErrNoSubscribers, topic)
	}

	for _, h := range handlers {
		go q.process(h, job{ID: uuid.NewString(), Topic: topic, Body: body})
	}
	return nil
}

// process handles retries and errors
func (q *InMemoryQueue) process(h Handler, j job) {
	for {
		err := h(j.Body)
		if err == nil {
			q.log.Debug().Str("job_id", j.ID).Str("topic", j.Topic).Msg("job processed")
			return
		}

		j.RetryCount++
		if j.RetryCount > q.MaxRetries {
			q.log.Error().Err(err).Str("job_id", j.ID).Str("topic", j.Topic).Int("attempts", j.RetryCount).Msg("job permanently failed")
			return
		}
		q.log.Warn().Err(err).Str("job_id", j.ID).Str("topic", j.Topic).Int("attempt", j.RetryCount).Msg("job failed, retrying")

		// linear backoff
		time.Sleep(time.Duration(j.RetryCount) * q.Backoff)
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

var _ Queue = (*InMemoryQueue)(nil)
