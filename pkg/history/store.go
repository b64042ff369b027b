// Package history implements a bounded, newest-first log of generation
// entries on top of an interfaces.Persistence backend.
package history

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/m-mizutani/atelier/pkg/interfaces"
	"github.com/m-mizutani/atelier/pkg/model"
	"github.com/m-mizutani/atelier/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// Entry is a record that can be kept in a Store
type Entry interface {
	EntryID() string
	EntryTimestamp() int64
}

type validator interface {
	Validate() error
}

// Store is a history of entries of type R in one namespace, capped at
// limit entries. The backend is opened on first use.
type Store[R Entry] struct {
	opener    interfaces.Opener
	namespace string
	limit     int

	mu     sync.Mutex
	handle interfaces.Persistence
}

// New creates a Store. limit <= 0 disables eviction.
func New[R Entry](opener interfaces.Opener, namespace string, limit int) *Store[R] {
	return &Store[R]{
		opener:    opener,
		namespace: namespace,
		limit:     limit,
	}
}

func (s *Store[R]) Namespace() string { return s.namespace }
func (s *Store[R]) Limit() int        { return s.limit }

// Open returns the backend handle, opening it on the first call. A failed
// open is retried on the next call.
func (s *Store[R]) Open(ctx context.Context) (interfaces.Persistence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil {
		return s.handle, nil
	}

	handle, err := s.opener.Open(ctx, s.namespace)
	if err != nil {
		return nil, wrapStorage(err, "failed to open history", s.namespace)
	}
	s.handle = handle
	return handle, nil
}

// Insert saves entry, replacing an entry with the same ID, then evicts the
// oldest entries beyond the limit
func (s *Store[R]) Insert(ctx context.Context, entry R) error {
	if v, ok := any(entry).(validator); ok {
		if err := v.Validate(); err != nil {
			return goerr.Wrap(err, "refused to insert invalid entry", goerr.V("namespace", s.namespace))
		}
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal entry", goerr.T(model.TagStorage),
			goerr.V("namespace", s.namespace), goerr.V("id", entry.EntryID()))
	}

	handle, err := s.Open(ctx)
	if err != nil {
		return err
	}

	row := &model.Row{
		ID:        entry.EntryID(),
		Timestamp: entry.EntryTimestamp(),
		Payload:   payload,
	}
	if err := handle.Put(ctx, row); err != nil {
		return wrapStorage(err, "failed to put entry", s.namespace)
	}

	return s.evict(ctx, handle)
}

func (s *Store[R]) evict(ctx context.Context, handle interfaces.Persistence) error {
	if s.limit <= 0 {
		return nil
	}

	count, err := handle.Count(ctx)
	if err != nil {
		return wrapStorage(err, "failed to count entries", s.namespace)
	}
	if count <= s.limit {
		return nil
	}

	rows, err := handle.List(ctx)
	if err != nil {
		return wrapStorage(err, "failed to list entries for eviction", s.namespace)
	}
	if len(rows) <= s.limit {
		return nil
	}

	for _, row := range rows[s.limit:] {
		if err := handle.Delete(ctx, row.ID); err != nil {
			return wrapStorage(err, "failed to evict entry", s.namespace)
		}
		logging.From(ctx).Debug("evicted history entry", "namespace", s.namespace, "id", row.ID, "timestamp", row.Timestamp)
	}
	return nil
}

// GetAll returns every entry, newest first. Entries that can not be
// decoded are logged and left out; they do not fail the listing.
func (s *Store[R]) GetAll(ctx context.Context) ([]R, error) {
	handle, err := s.Open(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := handle.List(ctx)
	if err != nil {
		return nil, wrapStorage(err, "failed to list entries", s.namespace)
	}

	entries := make([]R, 0, len(rows))
	for _, row := range rows {
		entry, err := decode[R](row)
		if err != nil {
			logging.From(ctx).Warn("skipped unreadable history entry",
				"namespace", s.namespace, "id", row.ID, logging.ErrAttr(err))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Get returns one entry, or an error tagged model.TagNotFound
func (s *Store[R]) Get(ctx context.Context, id string) (R, error) {
	var zero R

	handle, err := s.Open(ctx)
	if err != nil {
		return zero, err
	}

	row, err := handle.Get(ctx, id)
	if err != nil {
		return zero, wrapStorage(err, "failed to get entry", s.namespace)
	}

	entry, err := decode[R](row)
	if err != nil {
		return zero, goerr.Wrap(err, "failed to decode entry", goerr.V("namespace", s.namespace))
	}
	return entry, nil
}

// DeleteOne removes the entry with id. A missing entry is not an error.
func (s *Store[R]) DeleteOne(ctx context.Context, id string) error {
	handle, err := s.Open(ctx)
	if err != nil {
		return err
	}
	if err := handle.Delete(ctx, id); err != nil {
		return wrapStorage(err, "failed to delete entry", s.namespace)
	}
	return nil
}

// Clear removes every entry of the namespace
func (s *Store[R]) Clear(ctx context.Context) error {
	handle, err := s.Open(ctx)
	if err != nil {
		return err
	}
	if err := handle.Clear(ctx); err != nil {
		return wrapStorage(err, "failed to clear history", s.namespace)
	}
	return nil
}

// Count returns the number of stored entries
func (s *Store[R]) Count(ctx context.Context) (int, error) {
	handle, err := s.Open(ctx)
	if err != nil {
		return 0, err
	}
	count, err := handle.Count(ctx)
	if err != nil {
		return 0, wrapStorage(err, "failed to count entries", s.namespace)
	}
	return count, nil
}

func decode[R Entry](row *model.Row) (R, error) {
	var entry R
	if err := json.Unmarshal(row.Payload, &entry); err != nil {
		return entry, goerr.Wrap(err, "failed to unmarshal entry", goerr.T(model.TagFormat), goerr.V("id", row.ID))
	}
	if v, ok := any(entry).(validator); ok {
		if err := v.Validate(); err != nil {
			return entry, goerr.Wrap(err, "stored entry is invalid", goerr.V("id", row.ID))
		}
	}
	return entry, nil
}

// wrapStorage keeps known error kinds and tags anything else as
// model.TagStorage
func wrapStorage(err error, msg, namespace string) error {
	if goerr.HasTag(err, model.TagStorage) || goerr.HasTag(err, model.TagNotFound) ||
		goerr.HasTag(err, model.TagUnsupported) || goerr.HasTag(err, model.TagValidation) {
		return goerr.Wrap(err, msg, goerr.V("namespace", namespace))
	}
	return goerr.Wrap(err, msg, goerr.T(model.TagStorage), goerr.V("namespace", namespace))
}
