package chatlog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/anhdng/ielts-pipeline/internal/task"
)

// memStore is an in-memory listStore used across the package tests.
type memStore struct {
	mu      sync.Mutex
	lists   map[string][]string
	ttls    map[string]time.Duration
	refresh map[string]int

	appendErr error
	trimErr   error
	deleteErr error
}

func newMemStore() *memStore {
	return &memStore{
		lists:   make(map[string][]string),
		ttls:    make(map[string]time.Duration),
		refresh: make(map[string]int),
	}
}

func (m *memStore) Append(_ context.Context, session, value string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return 0, m.appendErr
	}
	m.lists[session] = append(m.lists[session], value)
	return int64(len(m.lists[session])), nil
}

func (m *memStore) Refresh(_ context.Context, session string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ttls[session] = ttl
	m.refresh[session]++
	return nil
}

func (m *memStore) Entries(_ context.Context, session string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lists[session]...), nil
}

func (m *memStore) TrimFront(_ context.Context, session string, n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.trimErr != nil {
		return m.trimErr
	}
	list := m.lists[session]
	if int64(len(list)) <= n {
		m.lists[session] = nil
		return nil
	}
	m.lists[session] = list[n:]
	return nil
}

func (m *memStore) Delete(_ context.Context, session string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.lists, session)
	return nil
}

func (m *memStore) Sessions(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sessions []string
	for s := range m.lists {
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func (m *memStore) Length(_ context.Context, session string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.lists[session])), nil
}

func (m *memStore) has(session string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.lists[session]
	return ok
}

type fakePublisher struct {
	mu       sync.Mutex
	payloads map[task.Queue][][]byte
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, queue task.Queue, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.payloads == nil {
		f.payloads = make(map[task.Queue][][]byte)
	}
	f.payloads[queue] = append(f.payloads[queue], payload)
	return nil
}

func (f *fakePublisher) count(queue task.Queue) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads[queue])
}

type fakeObjectWriter struct {
	keys      []string
	encodings []string
	bodies    [][]byte
	err       error
}

func (f *fakeObjectWriter) Put(_ context.Context, key string, data []byte, _, contentEncoding string) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	f.encodings = append(f.encodings, contentEncoding)
	f.bodies = append(f.bodies, data)
	return nil
}

var errBoom = errors.New("boom")
