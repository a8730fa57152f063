package queue

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Queue interface. key partitions delivery: jobs sharing a key are
// processed in order by the same worker, so all work for one lead is
// serialized while unrelated leads run concurrently.
type Queue interface {
	Publish(topic string, key int, payload any) error
	Subscribe(topic string, handler func(payload any) error) error
}

// JobPayload wraps a message payload with retry info
type JobPayload struct {
	Topic      string
	Payload    any
	RetryCount int
	MaxRetries int
}

// PartitionedQueue is an in-memory queue backed by a fixed pool of
// workers, one per partition. Handler errors are retried in place with
// backoff, which keeps the partition's ordering intact.
type PartitionedQueue struct {
	mu         sync.Mutex
	handlers   map[string][]func(payload any) error
	partitions []chan JobPayload
	wg         sync.WaitGroup
	inflight   sync.WaitGroup
	closed     bool

	MaxRetries int
	Backoff    time.Duration
}

// NewPartitionedQueue creates a queue with n partition workers.
func NewPartitionedQueue(n int) *PartitionedQueue {
	if n < 1 {
		n = 1
	}
	q := &PartitionedQueue{
		handlers:   make(map[string][]func(payload any) error),
		partitions: make([]chan JobPayload, n),
		MaxRetries: 3,
		Backoff:    500 * time.Millisecond,
	}
	for i := range q.partitions {
		q.partitions[i] = make(chan JobPayload, 256)
	}
	return q
}

// Start launches one worker goroutine per partition.
func (q *PartitionedQueue) Start() {
	for _, ch := range q.partitions {
		q.wg.Add(1)
		go func(ch chan JobPayload) {
			defer q.wg.Done()
			for job := range ch {
				q.processJob(job)
			}
		}(ch)
	}
}

// Stop drains the partitions and waits for the workers to finish.
func (q *PartitionedQueue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	// No new publish passes the closed gate now; wait out the ones that
	// already did before closing their partitions.
	q.inflight.Wait()
	for _, ch := range q.partitions {
		close(ch)
	}
	q.wg.Wait()
}

// Publish routes a message onto the partition owning key.
func (q *PartitionedQueue) Publish(topic string, key int, payload any) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("queue is stopped")
	}
	if len(q.handlers[topic]) == 0 {
		q.mu.Unlock()
		return fmt.Errorf("no subscribers for topic %s", topic)
	}
	// Registered under the lock so Stop cannot close a partition while
	// this send is in flight.
	q.inflight.Add(1)
	q.mu.Unlock()
	defer q.inflight.Done()

	if key < 0 {
		key = -key
	}
	job := JobPayload{
		Topic:      topic,
		Payload:    payload,
		RetryCount: 0,
		MaxRetries: q.MaxRetries,
	}
	q.partitions[key%len(q.partitions)] <- job
	return nil
}

// processJob runs every subscribed handler with bounded in-place retry.
func (q *PartitionedQueue) processJob(job JobPayload) {
	q.mu.Lock()
	handlers := q.handlers[job.Topic]
	q.mu.Unlock()

	for _, handler := range handlers {
		attempt := job
		for {
			err := handler(attempt.Payload)
			if err == nil {
				break // ACK
			}

			attempt.RetryCount++
			log.Printf("job failed (attempt %d/%d) on %s: %v", attempt.RetryCount, attempt.MaxRetries, attempt.Topic, err)

			if attempt.RetryCount > attempt.MaxRetries {
				log.Printf("job permanently failed after %d attempts on %s: %+v", attempt.MaxRetries, attempt.Topic, attempt.Payload)
				break // no requeue
			}

			time.Sleep(time.Duration(attempt.RetryCount) * q.Backoff)
		}
	}
}

// Subscribe adds a handler for a topic
func (q *PartitionedQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

var _ Queue = (*PartitionedQueue)(nil)
