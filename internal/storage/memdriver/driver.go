package memdriver

import "sync"

// Driver keeps values in process memory. Nothing survives Close.
type Driver struct {
	mu sync.RWMutex
	m  map[string][]byte
}

func New() *Driver {
	return &Driver{m: make(map[string][]byte)}
}

func (d *Driver) Load(key string) ([]byte, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.m[key]
	return v, ok, nil
}

func (d *Driver) Store(key string, v []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m[key] = v
	return nil
}

func (d *Driver) Delete(key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.m, key)
	return nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m = make(map[string][]byte)
	return nil
}
