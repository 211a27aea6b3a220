// Package storagetest provides an in-memory AssetStore for tests.
package storagetest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"Melodex/storage"
)

// BaseURL is the prefix PublicURL puts in front of every key.
const BaseURL = "http://assets.test/melodex/"

// ErrInjected is returned by operations listed in Store.Fail.
var ErrInjected = errors.New("injected storage failure")

// Object is a stored blob.
type Object struct {
	Data        []byte
	ContentType string
}

// Store is a thread-safe in-memory AssetStore.
type Store struct {
	mu      sync.Mutex
	objects map[string]Object
	puts    int

	// Fail makes the named operation ("put", "delete", "exists") fail.
	Fail map[string]bool
}

// New returns an empty Store.
func New() *Store {
	return &Store{objects: make(map[string]Object), Fail: make(map[string]bool)}
}

func (s *Store) Put(_ context.Context, key string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail["put"] {
		return "", ErrInjected
	}
	s.puts++
	s.objects[key] = Object{Data: append([]byte(nil), data...), ContentType: contentType}
	return BaseURL + key, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail["delete"] {
		return ErrInjected
	}
	delete(s.objects, key)
	return nil
}

func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail["exists"] {
		return false, ErrInjected
	}
	_, ok := s.objects[key]
	return ok, nil
}

// Open implements storage.ObjectReader. It fails together with "exists".
func (s *Store) Open(_ context.Context, key string) (io.ReadCloser, storage.ObjectStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail["exists"] {
		return nil, storage.ObjectStat{}, ErrInjected
	}
	obj, ok := s.objects[key]
	if !ok {
		return nil, storage.ObjectStat{}, storage.ErrObjectNotFound
	}
	stat := storage.ObjectStat{Size: int64(len(obj.Data)), ContentType: obj.ContentType}
	return io.NopCloser(bytes.NewReader(obj.Data)), stat, nil
}

func (s *Store) PublicURL(key string) string {
	return BaseURL + key
}

// Get returns the object stored under key.
func (s *Store) Get(key string) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	return obj, ok
}

// Len is the number of stored objects.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// Puts is the number of successful Put calls.
func (s *Store) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

// SetFail toggles failure injection for op.
func (s *Store) SetFail(op string, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fail[op] = fail
}
