package remote

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"
)

// MockClient is an in-memory Client used by internal/cachefs's tests, in the
// same spirit as the teacher project's pkg/graph MockGraphClient: no network
// traffic, configurable latency/errors, and a call recorder.
type MockClient struct {
	mu sync.Mutex

	items   map[string]Metadata
	content map[string][]byte

	// Latency, if set, is slept before every GetItem/UploadSmall call.
	Latency time.Duration

	// FailGetItem/FailUpload, if set, are returned instead of a normal
	// response from the matching method.
	FailGetItem error
	FailUpload  error

	calls []string
}

// NewMockClient returns an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{
		items:   make(map[string]Metadata),
		content: make(map[string][]byte),
	}
}

// AddItem registers an item's metadata and content, and serves its
// DownloadURL from an internal httptest-free range server (see rangeTransport
// below) so Downloader can exercise a real Range/206 round trip against it.
func (m *MockClient) AddItem(meta Metadata, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta.DownloadURL = "mock://" + meta.ID
	m.items[meta.ID] = meta
	m.content[meta.ID] = content
}

// SetContent replaces the stored content for an already-added item, and bumps
// its CTag, simulating a remote-side content change (for sync/invalidation
// tests).
func (m *MockClient) SetContent(id string, content []byte, newCTag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta := m.items[id]
	meta.Size = uint64(len(content))
	meta.CTag = newCTag
	m.items[id] = meta
	m.content[id] = content
}

func (m *MockClient) recordCall(name string) {
	m.calls = append(m.calls, name)
}

// Calls returns the names of methods invoked so far, in order.
func (m *MockClient) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockClient) GetItem(ctx context.Context, id string) (Metadata, error) {
	m.mu.Lock()
	latency := m.Latency
	failErr := m.FailGetItem
	m.recordCall("GetItem")
	meta, ok := m.items[id]
	m.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return Metadata{}, ctx.Err()
		}
	}
	if failErr != nil {
		return Metadata{}, failErr
	}
	if !ok {
		return Metadata{}, &NotFoundError{ID: id}
	}
	return meta, nil
}

func (m *MockClient) UploadSmall(ctx context.Context, location string, data []byte) (Metadata, error) {
	m.mu.Lock()
	latency := m.Latency
	failErr := m.FailUpload
	m.recordCall("UploadSmall")
	m.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return Metadata{}, ctx.Err()
		}
	}
	if failErr != nil {
		return Metadata{}, failErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	meta, existed := m.items[location]
	if !existed {
		meta = Metadata{ID: location}
	}
	meta.Size = uint64(len(data))
	meta.CTag = nextCTag(meta.CTag)
	meta.ModTime = time.Now()
	m.items[location] = meta
	buf := make([]byte, len(data))
	copy(buf, data)
	m.content[location] = buf
	return meta, nil
}

func (m *MockClient) AuthenticatedHTTPClient() *http.Client {
	return &http.Client{Transport: &rangeTransport{m: m}}
}

func nextCTag(prev string) string {
	return prev + "'"
}

// NotFoundError is returned by MockClient.GetItem for an unknown id.
type NotFoundError struct{ ID string }

func (e *NotFoundError) Error() string { return "remote: item not found: " + e.ID }

// rangeTransport serves "mock://<id>" download URLs with real Range/206
// semantics so Downloader's retry-and-resume logic can be exercised without a
// live HTTP server.
type rangeTransport struct{ m *MockClient }

func (t *rangeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	id := req.URL.Opaque
	if id == "" {
		id = req.URL.Host + req.URL.Path
	}

	t.m.mu.Lock()
	content, ok := t.m.content[id]
	t.m.mu.Unlock()
	if !ok {
		return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(bytes.NewReader(nil))}, nil
	}

	start := uint64(0)
	if rng := req.Header.Get("Range"); rng != "" {
		start = parseRangeStart(rng)
	}
	if start > uint64(len(content)) {
		start = uint64(len(content))
	}
	body := io.NopCloser(bytes.NewReader(content[start:]))
	return &http.Response{
		StatusCode: http.StatusPartialContent,
		Body:       body,
		Header:     http.Header{},
	}, nil
}

func parseRangeStart(header string) uint64 {
	const prefix = "bytes="
	if len(header) <= len(prefix) {
		return 0
	}
	rest := header[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '-' {
			rest = rest[:i]
			break
		}
	}
	var v uint64
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		if c < '0' || c > '9' {
			return 0
		}
		v = v*10 + uint64(c-'0')
	}
	return v
}
