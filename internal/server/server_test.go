package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alexjbarnes/sheet-sync/internal/auth"
	syncerr "github.com/alexjbarnes/sheet-sync/internal/errors"
	"github.com/alexjbarnes/sheet-sync/internal/records"
	"github.com/alexjbarnes/sheet-sync/internal/scheduler"
	"github.com/alexjbarnes/sheet-sync/internal/schema"
	"github.com/alexjbarnes/sheet-sync/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var testSchema = schema.Schema{Key: "id", Fields: []string{"first_name", "email"}, Timestamp: "last_updated"}

type fakeSync struct {
	triggers atomic.Int32
}

func (f *fakeSync) Trigger() { f.triggers.Add(1) }

func (f *fakeSync) Status() scheduler.Status {
	return scheduler.Status{Passes: 3}
}

type fakeWatermarks struct {
	wm  state.Watermark
	err error
}

func (f fakeWatermarks) Watermark() (state.Watermark, error) { return f.wm, f.err }

type testServer struct {
	handler http.Handler
	store   *records.Store
	sync    *fakeSync
}

func newTestServer(t *testing.T, users auth.Users) *testServer {
	t.Helper()

	store, err := records.Open(filepath.Join(t.TempDir(), "records.db"), "data_table", 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.EnsureSchema(context.Background(), testSchema))

	fs := &fakeSync{}

	h := NewMux(MuxConfig{
		Records:    store,
		Sync:       fs,
		Watermarks: fakeWatermarks{wm: state.Watermark{PassID: "p-1", Passes: 3}},
		Schema:     testSchema,
		Users:      users,
		MCPHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) }),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	return &testServer{handler: h, store: store, sync: fs}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(method, path, r))

	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))

	return v
}

// --- CRUD ---

func TestCreate_AssignsKey(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/data", `{"first_name":"Alice","email":"a@x"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, map[string]string{"id": "1"}, decode[map[string]string](t, rec))
	assert.Equal(t, int32(1), s.sync.triggers.Load())

	got, err := s.store.Get(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Value("first_name"))
}

func TestCreate_ExplicitKeyAndScalars(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/data", `{"id": 42, "first_name": true, "email": null, "last_updated": "ignored"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	got, err := s.store.Get(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "true", got.Value("first_name"))
	assert.Equal(t, "", got.Value("email"))
}

func TestCreate_Duplicate(t *testing.T) {
	s := newTestServer(t, nil)

	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/data", `{"id":"7"}`).Code)

	rec := s.do(t, http.MethodPost, "/data", `{"id":"7"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, int32(1), s.sync.triggers.Load())
}

func TestCreate_BadBodies(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{nope`},
		{"array", `[1,2]`},
		{"nested object", `{"first_name":{"a":1}}`},
		{"nested array", `{"email":["a","b"]}`},
		{"unknown field", `{"salary":"1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/data", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decode[map[string]string](t, rec)["error"], "invalid record")
		})
	}

	assert.Equal(t, int32(0), s.sync.triggers.Load())
}

func TestList_And_Get(t *testing.T) {
	s := newTestServer(t, nil)

	s.do(t, http.MethodPost, "/data", `{"id":"1","first_name":"Alice"}`)
	s.do(t, http.MethodPost, "/data", `{"id":"2","first_name":"Bob"}`)

	rec := s.do(t, http.MethodGet, "/data", "")
	require.Equal(t, http.StatusOK, rec.Code)

	list := decode[[]map[string]string](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, "1", list[0]["id"])
	assert.Equal(t, "Bob", list[1]["first_name"])
	assert.NotEmpty(t, list[0]["last_updated"])

	rec = s.do(t, http.MethodGet, "/data/2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Bob", decode[map[string]string](t, rec)["first_name"])

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/data/99", "").Code)
}

func TestList_Empty(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/data", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestUpdate_Partial(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodPost, "/data", `{"id":"1","first_name":"Alice","email":"a@x"}`)

	rec := s.do(t, http.MethodPut, "/data/1", `{"email":"alice@x"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(2), s.sync.triggers.Load())

	got, err := s.store.Get(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Value("first_name"))
	assert.Equal(t, "alice@x", got.Value("email"))
}

func TestUpdate_Errors(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodPost, "/data", `{"id":"1"}`)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPut, "/data/9", `{"email":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPut, "/data/1", `{"id":"2"}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPut, "/data/1", `{"email":{"x":1}}`).Code)
}

func TestDelete(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodPost, "/data", `{"id":"1"}`)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, "/data/1", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/data/1", "").Code)
	assert.Equal(t, int32(2), s.sync.triggers.Load())
}

// --- sync ---

func TestSyncTrigger(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/sync", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, int32(1), s.sync.triggers.Load())
}

func TestSyncStatus(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/sync/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, int64(3), out.Scheduler.Passes)
	assert.Equal(t, "p-1", out.Watermark.PassID)
	assert.Equal(t, testSchema, out.Schema)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

// --- middleware ---

func TestRequestID(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/healthz", "")
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc")

	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestAuth_ProtectsMutations(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)

	s := newTestServer(t, auth.Users{"alice": string(hash)})

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodPost, "/data", `{"id":"1"}`).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodPost, "/sync", "").Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodPost, "/mcp", "").Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/data", "").Code)

	req := httptest.NewRequest(http.MethodPost, "/data", strings.NewReader(`{"id":"1"}`))
	req.SetBasicAuth("alice", "pw")

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.SetBasicAuth("alice", "pw")

	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("get: %w", syncerr.ErrNotFound), http.StatusNotFound},
		{syncerr.ErrConflict, http.StatusConflict},
		{syncerr.ErrInvalidRecord, http.StatusBadRequest},
		{fmt.Errorf("x: %w", syncerr.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{&http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestStatus_WatermarkError(t *testing.T) {
	h := NewMux(MuxConfig{
		Sync:       &fakeSync{},
		Watermarks: fakeWatermarks{err: errors.New("bolt closed")},
		Schema:     testSchema,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sync/status", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", decode[map[string]string](t, rec)["error"])
}
