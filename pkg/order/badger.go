package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/quiby-ai/ordersaga/pkg/events"
)

const (
	eventKeyPrefix    = "event:"
	txIndexPrefix     = "event:index:tx:"
	allIndexPrefix    = "event:index:all:"
	sequenceKey       = "event:seq"
	sequenceBandwidth = 100
)

// BadgerEventStore stores events under "event:data:{orderID}:{seq}" with
// secondary indexes by transaction and by arrival. seq is a zero padded
// Badger sequence so key order is arrival order. Ids containing ':' can share
// a prefix with another id, so decoded events are matched on the id again.
type BadgerEventStore struct {
	db  *badger.DB
	seq *badger.Sequence
}

var _ EventStore = (*BadgerEventStore)(nil)

func NewBadgerEventStore(db *badger.DB) (*BadgerEventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db cannot be nil")
	}
	seq, err := db.GetSequence([]byte(sequenceKey), sequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("open event sequence: %w", err)
	}
	return &BadgerEventStore{db: db, seq: seq}, nil
}

// OpenBadger opens a Badger database at path, in memory when path is empty
// or inMemory is set.
func OpenBadger(path string, inMemory bool) (*badger.DB, error) {
	opts := badger.DefaultOptions(path)
	if inMemory || path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil
	return badger.Open(opts)
}

// Close returns unused sequence leases. The db itself is owned by the caller.
func (s *BadgerEventStore) Close() error {
	return s.seq.Release()
}

func (s *BadgerEventStore) Save(ctx context.Context, e *events.Event) error {
	data, err := events.Marshal(e)
	if err != nil {
		return err
	}
	n, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("next event sequence: %w", err)
	}
	dataKey := []byte(eventDataKey(e.OrderID, n))

	return s.db.Update(func(txn *badger.Txn) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := txn.Set(dataKey, data); err != nil {
			return err
		}
		if err := txn.Set([]byte(txIndexKey(e.TransactionID, n)), dataKey); err != nil {
			return err
		}
		return txn.Set([]byte(allIndexKey(n)), dataKey)
	})
}

func (s *BadgerEventStore) FindLatestByOrderID(ctx context.Context, orderID string) (*events.Event, error) {
	var found *events.Event
	err := s.db.View(func(txn *badger.Txn) error {
		return scanNewestFirst(ctx, txn, []byte(eventDataPrefix(orderID)), func(item *badger.Item) (bool, error) {
			e, err := decodeItem(item)
			if err != nil {
				return false, err
			}
			if e.OrderID != orderID {
				return true, nil
			}
			found = e
			return false, nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (s *BadgerEventStore) FindLatestByTransactionID(ctx context.Context, transactionID string) (*events.Event, error) {
	var found *events.Event
	err := s.db.View(func(txn *badger.Txn) error {
		return scanNewestFirst(ctx, txn, []byte(txIndexPrefix+transactionID+":"), func(item *badger.Item) (bool, error) {
			e, err := resolveIndex(txn, item)
			if err != nil {
				return false, err
			}
			if e.TransactionID != transactionID {
				return true, nil
			}
			found = e
			return false, nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (s *BadgerEventStore) List(ctx context.Context, orderID string) ([]*events.Event, error) {
	out := make([]*events.Event, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		if orderID != "" {
			return scanNewestFirst(ctx, txn, []byte(eventDataPrefix(orderID)), func(item *badger.Item) (bool, error) {
				e, err := decodeItem(item)
				if err != nil {
					return false, err
				}
				if e.OrderID == orderID {
					out = append(out, e)
				}
				return true, nil
			})
		}
		return scanNewestFirst(ctx, txn, []byte(allIndexPrefix), func(item *badger.Item) (bool, error) {
			e, err := resolveIndex(txn, item)
			if err != nil {
				return false, err
			}
			out = append(out, e)
			return true, nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// scanNewestFirst walks prefix in reverse key order until fn returns false.
func scanNewestFirst(ctx context.Context, txn *badger.Txn, prefix []byte, fn func(*badger.Item) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	seek := append(append([]byte(nil), prefix...), 0xFF)
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		more, err := fn(it.Item())
		if err != nil || !more {
			return err
		}
	}
	return nil
}

func decodeItem(item *badger.Item) (*events.Event, error) {
	var e *events.Event
	err := item.Value(func(v []byte) error {
		var err error
		e, err = events.Unmarshal(v)
		return err
	})
	return e, err
}

func resolveIndex(txn *badger.Txn, item *badger.Item) (*events.Event, error) {
	dataKey, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	data, err := txn.Get(dataKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: dangling index %s", ErrNotFound, item.Key())
	}
	if err != nil {
		return nil, err
	}
	return decodeItem(data)
}

func eventDataPrefix(orderID string) string {
	return eventKeyPrefix + "data:" + orderID + ":"
}

func eventDataKey(orderID string, seq uint64) string {
	return fmt.Sprintf("%s%020d", eventDataPrefix(orderID), seq)
}

func txIndexKey(transactionID string, seq uint64) string {
	return fmt.Sprintf("%s%s:%020d", txIndexPrefix, transactionID, seq)
}

func allIndexKey(seq uint64) string {
	return fmt.Sprintf("%s%020d", allIndexPrefix, seq)
}
