package integration

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// MockBackend is a configurable HTTP test server standing in for the
// federated server API. Responses are queued per "METHOD path" and every
// received request is recorded for later assertion.
type MockBackend struct {
	t      *testing.T
	server *httptest.Server

	mu        sync.Mutex
	responses map[string][]*mockResponse
	fallback  map[string]*mockResponse
	received  map[string][]*RecordedRequest
}

// RecordedRequest captures the details of a request received by the mock backend.
type RecordedRequest struct {
	Method      string
	Path        string
	ContentType string
	Headers     http.Header
	Body        map[string]any
	RawBody     []byte
	ReceivedAt  time.Time
}

type mockResponse struct {
	status int
	body   any
	delay  time.Duration
}

// RouteMock is a builder for configuring responses of one route.
type RouteMock struct {
	backend *MockBackend
	key     string
}

func newMockBackend(t *testing.T) *MockBackend {
	t.Helper()

	mb := &MockBackend{
		t:         t,
		responses: make(map[string][]*mockResponse),
		fallback:  make(map[string]*mockResponse),
		received:  make(map[string][]*RecordedRequest),
	}
	mb.server = httptest.NewServer(http.HandlerFunc(mb.handle))
	t.Cleanup(mb.server.Close)
	return mb
}

// URL returns the base URL of the mock backend server.
func (mb *MockBackend) URL() string {
	return mb.server.URL
}

// On returns a builder for the route "METHOD path".
func (mb *MockBackend) On(method, path string) *RouteMock {
	return &RouteMock{backend: mb, key: method + " " + path}
}

// RespondWith queues one response. Once the queue drains, the last response
// queued keeps being served.
func (rm *RouteMock) RespondWith(status int, body any) *RouteMock {
	return rm.add(&mockResponse{status: status, body: body})
}

// RespondWithError queues a backend error body.
func (rm *RouteMock) RespondWithError(status int, message string) *RouteMock {
	return rm.add(&mockResponse{status: status, body: map[string]any{"error": message}})
}

// RespondWithDelay queues a delayed response to simulate a slow backend.
func (rm *RouteMock) RespondWithDelay(delay time.Duration, status int, body any) *RouteMock {
	return rm.add(&mockResponse{status: status, body: body, delay: delay})
}

func (rm *RouteMock) add(resp *mockResponse) *RouteMock {
	rm.backend.mu.Lock()
	defer rm.backend.mu.Unlock()
	rm.backend.responses[rm.key] = append(rm.backend.responses[rm.key], resp)
	rm.backend.fallback[rm.key] = resp
	return rm
}

// Requests returns the requests received on "METHOD path".
func (mb *MockBackend) Requests(method, path string) []*RecordedRequest {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return append([]*RecordedRequest(nil), mb.received[method+" "+path]...)
}

// LastRequest returns the most recent request on "METHOD path", failing the
// test when none arrived.
func (mb *MockBackend) LastRequest(method, path string) *RecordedRequest {
	mb.t.Helper()
	reqs := mb.Requests(method, path)
	if len(reqs) == 0 {
		mb.t.Fatalf("mock backend: no request received on %s %s", method, path)
	}
	return reqs[len(reqs)-1]
}

func (mb *MockBackend) handle(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Path
	rec := &RecordedRequest{
		Method:     r.Method,
		Path:       r.URL.Path,
		Headers:    r.Header.Clone(),
		ReceivedAt: time.Now(),
	}
	rec.ContentType, _, _ = mime.ParseMediaType(r.Header.Get("Content-Type"))
	if r.Body != nil {
		rec.RawBody, _ = io.ReadAll(r.Body)
		if rec.ContentType == "application/json" && len(rec.RawBody) > 0 {
			_ = json.Unmarshal(rec.RawBody, &rec.Body)
		}
	}

	mb.mu.Lock()
	mb.received[key] = append(mb.received[key], rec)
	var resp *mockResponse
	if queue := mb.responses[key]; len(queue) > 0 {
		resp = queue[0]
		mb.responses[key] = queue[1:]
	} else {
		resp = mb.fallback[key]
	}
	mb.mu.Unlock()

	if resp == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Record not found"})
		return
	}
	if resp.delay > 0 {
		time.Sleep(resp.delay)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.status)
	if resp.body != nil {
		_ = json.NewEncoder(w).Encode(resp.body)
	}
}
