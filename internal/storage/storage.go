package storage

import (
	"bytes"
	"sync"

	"github.com/pkg/errors"
)

var ErrAreaClosed = errors.New("storage area closed")
var ErrDriverFailed = errors.New("storage driver failed")

// Storage is a durable key-value view shared by one or more execution contexts.
type Storage interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, v []byte) error
	// Put is Set that also reports the sequence number given to the write,
	// 0 when the value was already stored.
	Put(key string, v []byte) (uint64, error)
	Remove(key string) error
	Subscribe(l Listener) (unsubscribe func())
}

// Driver is the durable layer behind an Area.
type Driver interface {
	Load(key string) ([]byte, bool, error)
	Store(key string, v []byte) error
	Delete(key string) error
	Close() error
}

// Event describes a change made by some other context of the same Area.
// Seq grows with every write to the area, so a listener can drop events
// that arrive after a newer one.
type Event struct {
	Seq      uint64
	Key      string
	OldValue []byte
	NewValue []byte
	Removed  bool
}

type Listener func(ev Event)

type ValueCache interface {
	Get(key string) ([]byte, bool)
	Add(key string, v []byte) bool
	Remove(key string)
}

type AreaOption func(a *Area)

func WithCache(c ValueCache) AreaOption {
	return func(a *Area) {
		a.cache = c
	}
}

// Area is one storage origin. Every Context opened from it sees the same
// values and is notified about writes made by the others.
type Area struct {
	mu       sync.Mutex
	d        Driver
	cache    ValueCache
	contexts map[uint64]*Context
	nextID   uint64
	seq      uint64
	closed   bool
}

func NewArea(d Driver, opts ...AreaOption) *Area {
	a := &Area{
		d:        d,
		contexts: make(map[uint64]*Context),
	}

	for _, o := range opts {
		o(a)
	}

	return a
}

// Open returns a new context attached to the area.
func (a *Area) Open() *Context {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.nextID++
	c := &Context{
		id:        a.nextID,
		area:      a,
		listeners: make(map[uint64]Listener),
	}
	if !a.closed {
		a.contexts[c.id] = c
	}

	return c
}

func (a *Area) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrAreaClosed
	}

	a.closed = true
	a.contexts = nil

	if err := a.d.Close(); err != nil {
		return errors.Wrap(ErrDriverFailed, err.Error())
	}

	return nil
}

func (a *Area) detach(c *Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.contexts, c.id)
}

func (a *Area) loadUnderLock(key string) ([]byte, bool, error) {
	if a.cache != nil {
		if v, ok := a.cache.Get(key); ok {
			return v, true, nil
		}
	}

	v, ok, err := a.d.Load(key)
	if err != nil {
		return nil, false, errors.Wrapf(ErrDriverFailed, "load key %s: %s", key, err.Error())
	}

	if ok && a.cache != nil {
		a.cache.Add(key, v)
	}

	return v, ok, nil
}

func (a *Area) get(key string) ([]byte, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, false, ErrAreaClosed
	}

	v, ok, err := a.loadUnderLock(key)
	if err != nil || !ok {
		return nil, ok, err
	}

	return cloneBytes(v), true, nil
}

func (a *Area) write(from *Context, key string, v []byte, remove bool) (uint64, error) {
	a.mu.Lock()

	if a.closed {
		a.mu.Unlock()
		return 0, ErrAreaClosed
	}

	old, existed, err := a.loadUnderLock(key)
	if err != nil {
		a.mu.Unlock()
		return 0, err
	}

	if remove {
		if !existed {
			a.mu.Unlock()
			return 0, nil
		}

		if err := a.d.Delete(key); err != nil {
			a.mu.Unlock()
			return 0, errors.Wrapf(ErrDriverFailed, "delete key %s: %s", key, err.Error())
		}

		if a.cache != nil {
			a.cache.Remove(key)
		}
	} else {
		if existed && bytes.Equal(old, v) {
			a.mu.Unlock()
			return 0, nil
		}

		v = cloneBytes(v)
		if err := a.d.Store(key, v); err != nil {
			a.mu.Unlock()
			return 0, errors.Wrapf(ErrDriverFailed, "store key %s: %s", key, err.Error())
		}

		if a.cache != nil {
			a.cache.Add(key, v)
		}
	}

	a.seq++
	ev := Event{Seq: a.seq, Key: key, OldValue: cloneBytes(old), Removed: remove}
	if !remove {
		ev.NewValue = cloneBytes(v)
	}

	var targets []Listener
	for id, c := range a.contexts {
		if id == from.id {
			continue
		}
		targets = append(targets, c.snapshotListeners()...)
	}
	a.mu.Unlock()

	// listeners may write back into the area
	for _, l := range targets {
		l(ev)
	}

	return ev.Seq, nil
}

// Context is a single execution context (a "tab") of an Area.
type Context struct {
	id        uint64
	area      *Area
	mu        sync.Mutex
	listeners map[uint64]Listener
	nextID    uint64
}

var _ Storage = (*Context)(nil)

func (c *Context) Get(key string) ([]byte, bool, error) {
	return c.area.get(key)
}

func (c *Context) Set(key string, v []byte) error {
	_, err := c.area.write(c, key, v, false)
	return err
}

func (c *Context) Put(key string, v []byte) (uint64, error) {
	return c.area.write(c, key, v, false)
}

func (c *Context) Remove(key string) error {
	_, err := c.area.write(c, key, nil, true)
	return err
}

// Subscribe registers l for changes made by other contexts of the area.
func (c *Context) Subscribe(l Listener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.listeners[id] = l

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// Detach stops the context from receiving events. Values stay in the area.
func (c *Context) Detach() {
	c.area.detach(c)
}

func (c *Context) snapshotListeners() []Listener {
	c.mu.Lock()
	defer c.mu.Unlock()

	ls := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		ls = append(ls, l)
	}

	return ls
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}

	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}
