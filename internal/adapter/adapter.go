// Package adapter applies records from the hosted backend to the local
// store.
//
// Hosted rows are loosely typed: keys are snake_case, amounts arrive as
// numbers or strings, and nested lists such as order items may be
// JSON-encoded strings. Each row is normalized into its model type before it
// is written, so invalid rows never reach the store. The hosted backend is
// just another writer; the last write for a key wins.
package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/roach88/posvault/internal/model"
	"github.com/roach88/posvault/internal/store"
)

var (
	// ErrInvalidRecord means a hosted row could not be normalized.
	ErrInvalidRecord = errors.New("invalid hosted record")

	// ErrUnsupported means the event names a collection or operation the
	// hosted feed may not change.
	ErrUnsupported = errors.New("unsupported hosted event")
)

// Op is the change an event carries.
type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// Event is one change from the hosted backend.
type Event struct {
	Op         Op              `json:"op"`
	Collection string          `json:"collection"`
	Key        string          `json:"key,omitempty"`
	Record     json.RawMessage `json:"record,omitempty"`
}

// write is a normalized event ready for the store.
type write struct {
	collection string
	key        string
	value      any
}

func (w write) isDelete() bool { return w.value == nil }

// Adapter applies hosted events to a store.
type Adapter struct {
	store  *store.Store
	logger *slog.Logger
}

// New creates an Adapter.
func New(s *store.Store, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{store: s, logger: logger}
}

// Apply normalizes and writes one event.
func (a *Adapter) Apply(ctx context.Context, ev Event) error {
	w, err := prepare(ev)
	if err != nil {
		return err
	}
	if w.isDelete() {
		err = a.store.Delete(ctx, w.collection, w.key)
	} else {
		err = a.store.Put(ctx, w.collection, w.value)
	}
	if err != nil {
		return fmt.Errorf("apply %s %s/%s: %w", ev.Op, w.collection, w.key, err)
	}
	a.logger.Debug("hosted event applied", "op", ev.Op, "collection", w.collection, "key", w.key)
	return nil
}

// ApplyBatch normalizes every event first and then writes them in one
// transaction, in order. If any event is invalid nothing is written.
func (a *Adapter) ApplyBatch(ctx context.Context, events []Event) (int, error) {
	writes := make([]write, 0, len(events))
	scope := map[string]bool{}
	for i, ev := range events {
		w, err := prepare(ev)
		if err != nil {
			return 0, fmt.Errorf("event %d: %w", i, err)
		}
		writes = append(writes, w)
		scope[w.collection] = true
	}
	if len(writes) == 0 {
		return 0, nil
	}

	collections := make([]string, 0, len(scope))
	for c := range scope {
		collections = append(collections, c)
	}
	sort.Strings(collections)

	err := a.store.RunTransaction(ctx, collections, store.ReadWrite, func(tx *store.Tx) error {
		for i, w := range writes {
			var err error
			if w.isDelete() {
				err = tx.Delete(ctx, w.collection, w.key)
			} else {
				err = tx.Put(ctx, w.collection, w.value)
			}
			if err != nil {
				return fmt.Errorf("event %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("apply batch: %w", err)
	}
	a.logger.Info("hosted events applied", "events", len(writes), "collections", collections)
	return len(writes), nil
}

// DecodeEvents reads a stream of JSON events, one object after another
// (JSON Lines or concatenated objects).
func DecodeEvents(r io.Reader) ([]Event, error) {
	dec := json.NewDecoder(r)
	var events []Event
	for {
		var ev Event
		err := dec.Decode(&ev)
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode event %d: %w", len(events), err)
		}
		events = append(events, ev)
	}
}

func prepare(ev Event) (write, error) {
	switch ev.Op {
	case OpUpsert:
		return prepareUpsert(ev)
	case OpDelete:
		return prepareDelete(ev)
	}
	return write{}, fmt.Errorf("%w: op %q", ErrUnsupported, ev.Op)
}

func prepareUpsert(ev Event) (write, error) {
	if len(ev.Record) == 0 {
		return write{}, fmt.Errorf("%w: upsert %s without record", ErrInvalidRecord, ev.Collection)
	}
	w := write{collection: ev.Collection}
	var err error
	switch ev.Collection {
	case model.CollectionProducts:
		var p model.Product
		p, err = NormalizeProduct(ev.Record)
		w.key, w.value = p.ID, p
	case model.CollectionCustomers:
		var c model.Customer
		c, err = NormalizeCustomer(ev.Record)
		w.key, w.value = c.ID, c
	case model.CollectionOrders:
		var o model.Order
		o, err = NormalizeOrder(ev.Record)
		w.key, w.value = o.ID, o
	case model.CollectionCategories:
		var c model.Category
		c, err = NormalizeCategory(ev.Record)
		w.key, w.value = c.ID, c
	case model.CollectionIngredients:
		var ing model.Ingredient
		ing, err = NormalizeIngredient(ev.Record)
		w.key, w.value = ing.ID, ing
	default:
		return write{}, fmt.Errorf("%w: collection %q", ErrUnsupported, ev.Collection)
	}
	if err != nil {
		return write{}, fmt.Errorf("upsert %s: %w", ev.Collection, err)
	}
	return w, nil
}

func prepareDelete(ev Event) (write, error) {
	switch ev.Collection {
	case model.CollectionProducts, model.CollectionOrders, model.CollectionCategories, model.CollectionIngredients:
	case model.CollectionCustomers:
		return write{}, fmt.Errorf("%w: customers are never deleted", ErrUnsupported)
	default:
		return write{}, fmt.Errorf("%w: collection %q", ErrUnsupported, ev.Collection)
	}
	if ev.Key == "" {
		return write{}, fmt.Errorf("%w: delete %s without key", ErrInvalidRecord, ev.Collection)
	}
	return write{collection: ev.Collection, key: ev.Key}, nil
}
