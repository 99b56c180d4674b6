package pinboard

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/denismitr/pinboard/internal/storage"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var ErrEmptyKey = errors.New("store key must not be empty")
var ErrStoreClosed = errors.New("store already closed")
var ErrPersistFailed = errors.New("could not persist list")

// Store is one named list of records kept under a single storage key.
// Records older than the configured number of days are evicted once, when
// the store is opened. Writes made to the same key by other contexts of the
// storage area replace the in-memory list.
type Store struct {
	key string
	cfg Config
	st  storage.Storage
	log *slog.Logger

	// wmu serializes read-modify-write cycles, mu guards the list itself.
	// mu is never held while calling into storage.
	wmu sync.Mutex
	mu  sync.RWMutex

	docs        []*Document
	idx         *idIndex
	generation  uint64
	seq         uint64
	unsubscribe func()
	closed      bool
}

func Open(st storage.Storage, key string, opts ...Option) (*Store, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	cfg := newConfig(opts)
	s := &Store{
		key: key,
		cfg: cfg,
		st:  st,
		log: cfg.Logger.With(slog.String("key", key)),
		idx: buildIndex(nil),
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	s.unsubscribe = st.Subscribe(s.onStorageEvent)

	return s, nil
}

func (s *Store) load() error {
	raw, ok, err := s.st.Get(s.key)
	if err != nil {
		return errors.Wrapf(err, "could not read list %s", s.key)
	}

	if !ok {
		return nil
	}

	docs, err := decodeList(raw)
	if err != nil {
		s.log.Warn("discarding unreadable list", slog.String("error", err.Error()))
		return nil
	}

	if s.cfg.ExpireDays > 0 {
		valid, evicted := evictExpired(docs, s.cfg.Now().UnixMilli(), s.cfg.ExpireDays)
		if evicted > 0 {
			seq, err := s.st.Put(s.key, encodeList(valid))
			if err != nil {
				return errors.Wrapf(ErrPersistFailed, "eviction of %s: %s", s.key, err.Error())
			}
			s.seq = seq

			s.log.Debug("evicted expired records",
				slog.Int("evicted", evicted),
				slog.Int("expire_days", s.cfg.ExpireDays),
			)
		}
		docs = valid
	}

	s.replaceUnderLock(docs)

	return nil
}

func (s *Store) onStorageEvent(ev storage.Event) {
	if ev.Key != s.key {
		return
	}

	var docs []*Document
	if !ev.Removed {
		var err error
		docs, err = decodeList(ev.NewValue)
		if err != nil {
			s.log.Warn("external write is unreadable, treating as empty", slog.String("error", err.Error()))
			docs = nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || ev.Seq <= s.seq {
		return
	}

	s.seq = ev.Seq
	s.replaceUnderLock(docs)
	s.log.Debug("list refreshed from another context", slog.Int("len", len(docs)))
}

func (s *Store) replaceUnderLock(docs []*Document) {
	s.docs = docs
	s.idx = buildIndex(docs)
	s.generation++
}

func (s *Store) Key() string {
	return s.key
}

// List returns a snapshot of the records, newest first.
func (s *Store) List() []*Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]*Document, len(s.docs))
	copy(docs, s.docs)
	return docs
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func (s *Store) Get(id string) (*Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx.get(id)
}

// Add prepends a new record built from payload. Generated id, timestamp
// and an empty comment thread override payload fields of the same name.
func (s *Store) Add(payload interface{}) (*Document, error) {
	b, err := marshalObject(payload)
	if err != nil {
		return nil, err
	}

	now := s.cfg.Now().UnixMilli()

	if b, err = sjson.SetBytes(b, idField, s.cfg.NewID()); err != nil {
		return nil, errors.Wrap(err, "could not set id")
	}

	if b, err = sjson.SetBytes(b, timestampField, now); err != nil {
		return nil, errors.Wrap(err, "could not set timestamp")
	}

	if b, err = sjson.SetRawBytes(b, commentsField, []byte(`[]`)); err != nil {
		return nil, errors.Wrap(err, "could not set comments")
	}

	doc := newDocument(b)

	if err := s.mutate(func(docs []*Document) ([]*Document, bool, error) {
		next := make([]*Document, 0, len(docs)+1)
		next = append(next, doc)
		next = append(next, docs...)
		return next, true, nil
	}); err != nil {
		return nil, err
	}

	return doc, nil
}

// Delete removes every record with the given id. Unknown ids are ignored.
func (s *Store) Delete(id string) error {
	return s.mutate(func(docs []*Document) ([]*Document, bool, error) {
		next := make([]*Document, 0, len(docs))
		for _, d := range docs {
			if d.ID() != id {
				next = append(next, d)
			}
		}
		return next, len(next) != len(docs), nil
	})
}

// Update shallow merges patch into records with the given id.
// Unknown ids are ignored.
func (s *Store) Update(id string, patch interface{}) error {
	p, err := marshalObject(patch)
	if err != nil {
		return err
	}

	return s.rewrite(id, func(v []byte) ([]byte, error) {
		return mergeShallow(v, p)
	})
}

// UpdateFunc shallow merges the patch fn builds from the current record.
// fn runs under the store's write lock, so read-modify-write cycles such as
// counters do not lose updates. It reports whether a record had the id.
func (s *Store) UpdateFunc(id string, fn func(d *Document) (interface{}, error)) (bool, error) {
	found := false
	err := s.rewrite(id, func(v []byte) ([]byte, error) {
		found = true
		patch, err := fn(newDocument(v))
		if err != nil {
			return nil, err
		}

		p, err := marshalObject(patch)
		if err != nil {
			return nil, err
		}

		return mergeShallow(v, p)
	})

	return found, err
}

// AppendComment adds c to the end of the comment thread of the record.
func (s *Store) AppendComment(id string, c Comment) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "could not marshal comment")
	}

	return s.rewrite(id, func(v []byte) ([]byte, error) {
		if gjson.GetBytes(v, commentsField).IsArray() {
			return sjson.SetRawBytes(v, commentsField+".-1", raw)
		}

		return sjson.SetRawBytes(v, commentsField, append(append([]byte{'['}, raw...), ']'))
	})
}

func (s *Store) rewrite(id string, fn func(v []byte) ([]byte, error)) error {
	return s.mutate(func(docs []*Document) ([]*Document, bool, error) {
		next := make([]*Document, len(docs))
		changed := false
		for i, d := range docs {
			if d.ID() != id {
				next[i] = d
				continue
			}

			v, err := fn(d.Value())
			if err != nil {
				return nil, false, errors.Wrapf(err, "could not rewrite record %s", id)
			}

			next[i] = newDocument(v)
			changed = true
		}
		return next, changed, nil
	})
}

func (s *Store) mutate(fn func(docs []*Document) ([]*Document, bool, error)) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}

	prev := s.docs
	next, changed, err := fn(prev)
	if err != nil || !changed {
		s.mu.Unlock()
		return err
	}

	s.replaceUnderLock(next)
	gen := s.generation
	raw := encodeList(next)
	s.mu.Unlock()

	seq, err := s.st.Put(s.key, raw)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		if s.generation == gen {
			s.replaceUnderLock(prev)
		}
		return errors.Wrapf(ErrPersistFailed, "%s: %s", s.key, err.Error())
	}

	// an older external write may have been applied while this one was in flight
	if seq > s.seq {
		s.seq = seq
		if s.generation != gen {
			s.replaceUnderLock(next)
		}
	}

	return nil
}

// Close detaches the store from storage notifications.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	if s.unsubscribe != nil {
		s.unsubscribe()
	}

	return nil
}
