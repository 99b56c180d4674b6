package lru

type NullCache struct{}

func (NullCache) Add(key string, value []byte) bool { return false }

func (NullCache) Get(key string) ([]byte, bool) { return nil, false }

func (NullCache) Remove(key string) {}
