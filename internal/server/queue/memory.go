package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/pricealert/internal/common"
	"github.com/dmitrijs2005/pricealert/internal/server/models"
)

// MemoryTransport is an in-process FIFO of encoded payloads. It goes
// through the same codec as the brokers so malformed input behaves alike.
type MemoryTransport struct {
	name string

	mu      sync.Mutex
	backlog [][]byte
	closed  bool
}

func NewMemoryTransport(name string) *MemoryTransport {
	if name == "" {
		name = DefaultQueueName
	}
	return &MemoryTransport{name: name}
}

func (q *MemoryTransport) Publish(ctx context.Context, ev *models.PriceEvent) error {
	payload, err := Encode(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return q.PublishRaw(ctx, payload)
}

// PublishRaw enqueues an already encoded payload as is.
func (q *MemoryTransport) PublishRaw(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return transient("publish", errClosed)
	}
	q.backlog = append(q.backlog, append([]byte(nil), payload...))
	return nil
}

func (q *MemoryTransport) TryConsume(ctx context.Context) (*models.PriceEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, transient("consume", errClosed)
	}
	if len(q.backlog) == 0 {
		q.mu.Unlock()
		return nil, nil
	}
	payload := q.backlog[0]
	q.backlog[0] = nil
	q.backlog = q.backlog[1:]
	q.mu.Unlock()

	return Decode(payload)
}

func (q *MemoryTransport) QueueDepth(ctx context.Context, queueName string) (int64, error) {
	if queueName != q.name {
		return 0, fmt.Errorf("queue %q: %w", queueName, common.ErrorNotFound)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.backlog)), nil
}

func (q *MemoryTransport) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.backlog = nil
	return nil
}
