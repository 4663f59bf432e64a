package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
)

type memoryObject struct {
	data        []byte
	contentType string
}

// Memory keeps blobs in a map. Fail, when set, is returned by every Put.
type Memory struct {
	mu        sync.RWMutex
	objects   map[string]memoryObject
	publicURL string

	Fail error
}

// NewMemory returns an empty in-memory store.
func NewMemory(publicURL string) *Memory {
	if publicURL == "" {
		publicURL = "memory://"
	}
	return &Memory{objects: make(map[string]memoryObject), publicURL: publicURL}
}

func (m *Memory) Driver() Driver { return DriverMemory }

func (m *Memory) Put(_ context.Context, key string, r io.Reader, contentType string) error {
	if err := validKey(key); err != nil {
		return err
	}
	if m.Fail != nil {
		return m.Fail
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[key] = memoryObject{data: data, contentType: contentType}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (io.ReadCloser, string, error) {
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, "", ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), obj.contentType, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) URL(key string) string { return joinURL(m.publicURL, key) }

// Keys returns the stored keys.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	return keys
}

var errMemoryUnavailable = errors.New("memory blob store unavailable")

// Unavailable returns a store whose uploads always fail.
func Unavailable() *Memory {
	m := NewMemory("")
	m.Fail = errMemoryUnavailable
	return m
}
