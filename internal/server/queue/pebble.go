package queue

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/dmitrijs2005/pricealert/internal/common"
	"github.com/dmitrijs2005/pricealert/internal/server/models"
)

// PebbleTransport is a durable single-node queue on a local pebble
// database. Keys are q/<queue>/<seq> with an 8 byte big-endian sequence,
// so key order is publish order. Every write is synced.
type PebbleTransport struct {
	db    *pebble.DB
	queue string
	owned bool

	mu   sync.Mutex
	next uint64
}

// OpenPebble opens (or creates) the queue database in dir.
func OpenPebble(dir, queue string, opts *pebble.Options) (*PebbleTransport, error) {
	if opts == nil {
		opts = &pebble.Options{}
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble queue: %w", err)
	}
	t, err := NewPebbleTransport(db, queue)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	t.owned = true
	return t, nil
}

// NewPebbleTransport uses an already opened database. The caller keeps
// ownership of db.
func NewPebbleTransport(db *pebble.DB, queue string) (*PebbleTransport, error) {
	if queue == "" {
		queue = DefaultQueueName
	}
	// a slash would let one queue's key range contain another's
	if strings.Contains(queue, "/") {
		return nil, fmt.Errorf("queue name %q must not contain '/': %w", queue, common.ErrorValidation)
	}
	t := &PebbleTransport{db: db, queue: queue}

	iter, err := t.newIter()
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	if iter.Last() {
		t.next = t.seqOf(iter.Key()) + 1
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("scan pebble queue: %w", err)
	}
	return t, nil
}

func (t *PebbleTransport) prefix() []byte {
	return []byte("q/" + t.queue + "/")
}

func (t *PebbleTransport) keyFor(seq uint64) []byte {
	p := t.prefix()
	key := make([]byte, len(p)+8)
	copy(key, p)
	binary.BigEndian.PutUint64(key[len(p):], seq)
	return key
}

func (t *PebbleTransport) seqOf(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(t.prefix()):])
}

func (t *PebbleTransport) newIter() (*pebble.Iterator, error) {
	lower := t.prefix()
	upper := append(t.prefix()[:len(lower)-1:len(lower)-1], '/'+1)
	iter, err := t.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("pebble iterator: %w", err)
	}
	return iter, nil
}

func (t *PebbleTransport) Publish(ctx context.Context, ev *models.PriceEvent) error {
	payload, err := Encode(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return t.PublishRaw(ctx, payload)
}

// PublishRaw appends an already encoded payload.
func (t *PebbleTransport) PublishRaw(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.db.Set(t.keyFor(t.next), payload, pebble.Sync); err != nil {
		return transient("publish", err)
	}
	t.next++
	return nil
}

func (t *PebbleTransport) TryConsume(ctx context.Context) (*models.PriceEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	iter, err := t.newIter()
	if err != nil {
		return nil, transient("consume", err)
	}
	if !iter.First() {
		err := iter.Error()
		_ = iter.Close()
		if err != nil {
			return nil, transient("consume", err)
		}
		return nil, nil
	}
	key := append([]byte(nil), iter.Key()...)
	payload := append([]byte(nil), iter.Value()...)
	if err := iter.Close(); err != nil {
		return nil, transient("consume", err)
	}

	b := t.db.NewBatch()
	defer b.Close()
	if err := b.Delete(key, nil); err != nil {
		return nil, transient("consume", err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return nil, transient("consume", err)
	}

	return Decode(payload)
}

func (t *PebbleTransport) QueueDepth(ctx context.Context, queueName string) (int64, error) {
	if queueName != t.queue {
		return 0, fmt.Errorf("queue %q: %w", queueName, common.ErrorNotFound)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	iter, err := t.newIter()
	if err != nil {
		return 0, err
	}
	var n int64
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	return n, errors.Join(iter.Error(), iter.Close())
}

func (t *PebbleTransport) Close() error {
	if !t.owned {
		return nil
	}
	return t.db.Close()
}
