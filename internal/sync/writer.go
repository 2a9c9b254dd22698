package sync

import (
	"context"
	"errors"
	"fmt"
)

// WriteOutcome is the result of a deduplicating write
type WriteOutcome int

const (
	Inserted WriteOutcome = iota
	Skipped
)

func (o WriteOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// StoreWriter persists records that are not already stored
type StoreWriter struct {
	store MessageStore
}

// NewStoreWriter creates a writer over a message store
func NewStoreWriter(store MessageStore) *StoreWriter {
	return &StoreWriter{store: store}
}

// WriteIfAbsent inserts msg unless a record with the same id exists.
// Lookup and insert are not atomic; a duplicate reported by the store counts as Skipped.
func (w *StoreWriter) WriteIfAbsent(ctx context.Context, msg NormalizedMessage) (WriteOutcome, error) {
	existing, err := w.store.FindByID(ctx, msg.ID)
	if err != nil {
		return Skipped, fmt.Errorf("lookup message %s: %w", msg.ID, err)
	}
	if existing != nil {
		return Skipped, nil
	}

	if err := w.store.Insert(ctx, msg); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			return Skipped, nil
		}
		return Skipped, fmt.Errorf("insert message %s: %w", msg.ID, err)
	}
	return Inserted, nil
}
