package jsonstorage

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

var ErrStorageClosed = errors.New("json storage closed")

func OpenOrCreate(path string) (*os.File, error) {
	var file *os.File
	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		file = f
	} else {
		f, err := os.OpenFile(path, os.O_RDWR, 0666)
		if err != nil {
			return nil, err
		}
		file = f
	}

	return file, nil
}

// JSONStorage keeps every key of an area in one JSON object on disk.
// Each write rewrites the whole file through a temp file and a rename.
type JSONStorage struct {
	mu     sync.Mutex
	f      *os.File
	values map[string]string
}

func Open(path string) (*JSONStorage, error) {
	f, err := OpenOrCreate(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open %s", path)
	}

	s := &JSONStorage{f: f, values: make(map[string]string)}
	if err := s.read(); err != nil {
		_ = f.Close()
		return nil, err
	}

	return s, nil
}

func (s *JSONStorage) Load(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return nil, false, ErrStorageClosed
	}

	v, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}

	return []byte(v), true, nil
}

func (s *JSONStorage) Store(key string, v []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return ErrStorageClosed
	}

	prev, existed := s.values[key]
	s.values[key] = string(v)

	if err := s.writeAndSwap(); err != nil {
		if existed {
			s.values[key] = prev
		} else {
			delete(s.values, key)
		}
		return err
	}

	return nil
}

func (s *JSONStorage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return ErrStorageClosed
	}

	prev, existed := s.values[key]
	if !existed {
		return nil
	}

	delete(s.values, key)
	if err := s.writeAndSwap(); err != nil {
		s.values[key] = prev
		return err
	}

	return nil
}

func (s *JSONStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return ErrStorageClosed
	}

	err := s.f.Close()
	s.f = nil
	s.values = nil

	if err != nil {
		return errors.Wrap(err, "could not close file")
	}

	return nil
}

func (s *JSONStorage) read() error {
	if _, err := s.f.Seek(0, 0); err != nil {
		return errors.Wrapf(err, "could not seek the beginning of the file %s", s.f.Name())
	}

	data, err := io.ReadAll(s.f)
	if err != nil {
		return errors.Wrapf(err, "could not read file %s", s.f.Name())
	}

	if len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, &s.values); err != nil {
		return errors.Wrapf(err, "could not unmarshal contents of %s", s.f.Name())
	}

	if s.values == nil {
		s.values = make(map[string]string)
	}

	return nil
}

func (s *JSONStorage) writeAndSwap() error {
	b, err := json.Marshal(s.values)
	if err != nil {
		return errors.Wrap(err, "could not marshal values")
	}

	oldName := s.f.Name()
	tmpF, err := os.CreateTemp(filepath.Dir(oldName), filepath.Base(oldName)+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "could not create temp file for %s", oldName)
	}

	tmpFName := tmpF.Name()
	defer func() {
		_ = tmpF.Close()
		_ = os.RemoveAll(tmpFName)
	}()

	n, err := tmpF.Write(b)
	if err != nil {
		return errors.Wrapf(err, "could not write into %s file", tmpFName)
	}

	if n != len(b) {
		return errors.Errorf("could not write all the data into %s file", tmpFName)
	}

	if err := tmpF.Sync(); err != nil {
		return errors.Wrapf(err, "could not sync file %s", tmpFName)
	}

	if err := s.f.Close(); err != nil {
		return errors.Wrapf(err, "could not close %s file to swap it", oldName)
	}

	if rnErr := os.Rename(tmpFName, oldName); rnErr != nil {
		resultErr := errors.Wrapf(rnErr, "could not swap %s file for %s", oldName, tmpFName)
		s.f, err = os.OpenFile(oldName, os.O_CREATE|os.O_RDWR, 0666)
		if err != nil {
			return errors.Wrapf(resultErr, "and could not reopen old file: %s", err.Error())
		}
		return resultErr
	}

	s.f, err = os.OpenFile(oldName, os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return errors.Wrapf(err, "could not reopen swapped file: %s", oldName)
	}

	return nil
}
