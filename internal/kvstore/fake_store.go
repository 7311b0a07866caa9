package kvstore

import (
	"context"
	"path"
	"sort"
	"sync"

	"github.com/taskhub/hub/internal/huberr"
)

// FakeStore is an in-memory Store for unit tests of components that
// depend on the kvstore.Store interface without needing a real or
// miniredis-backed connection.
type FakeStore struct {
	mu     sync.Mutex
	data   map[string]string
	sets   map[string]map[string]struct{}
	subs   map[string][]Handler
	closed bool
}

// NewFake returns a ready-to-use FakeStore in the Connected state.
func NewFake() *FakeStore {
	return &FakeStore{
		data: make(map[string]string),
		sets: make(map[string]map[string]struct{}),
		subs: make(map[string][]Handler),
	}
}

func (f *FakeStore) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return "", false, huberr.New(huberr.ErrKVDisconnected, "fake store closed")
	}
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *FakeStore) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return huberr.New(huberr.ErrKVDisconnected, "fake store closed")
	}
	f.data[key] = value
	return nil
}

func (f *FakeStore) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.data, k)
		delete(f.sets, k)
	}
	return nil
}

func (f *FakeStore) Expire(_ context.Context, _ string, _ int) error {
	return nil
}

func (f *FakeStore) SAdd(_ context.Context, key string, members ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.sets[key]
	if !ok {
		set = make(map[string]struct{})
		f.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

func (f *FakeStore) SMembers(_ context.Context, key string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := f.sets[key]
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (f *FakeStore) Scan(_ context.Context, pattern string) (<-chan string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(chan string, len(f.data))
	for k := range f.data {
		if matched, _ := path.Match(pattern, k); matched {
			out <- k
		}
	}
	close(out)
	return out, nil
}

func (f *FakeStore) Subscribe(_ context.Context, channel string, handler Handler) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[channel] = append(f.subs[channel], handler)
	idx := len(f.subs[channel]) - 1
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.subs[channel][idx] = nil
	}, nil
}

func (f *FakeStore) Publish(_ context.Context, channel string, payload string) error {
	f.mu.Lock()
	handlers := append([]Handler(nil), f.subs[channel]...)
	f.mu.Unlock()
	for _, h := range handlers {
		if h != nil {
			h(channel, payload)
		}
	}
	return nil
}

func (f *FakeStore) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return Closed
	}
	return Connected
}

func (f *FakeStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
