package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	syncerr "github.com/alexjbarnes/sheet-sync/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

// fakeSheetsAPI serves the subset of the Sheets v4 REST API the store
// uses, backed by an in-memory grid.
type fakeSheetsAPI struct {
	mu         sync.Mutex
	grid       [][]interface{}
	title      string
	status     int
	lastRange  string
	lastInput  string
	lastRender string
	writes     int
}

func (f *fakeSheetsAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.status != 0 {
		w.WriteHeader(f.status)
		fmt.Fprintf(w, `{"error":{"code":%d,"message":%q}}`, f.status, http.StatusText(f.status))

		return
	}

	w.Header().Set("Content-Type", "application/json")

	idx := strings.Index(r.URL.Path, "/values/")
	if idx < 0 {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sheets": []any{map[string]any{"properties": map[string]any{"title": f.title}}},
		})

		return
	}

	f.lastRange = r.URL.Path[idx+len("/values/"):]

	switch r.Method {
	case http.MethodGet:
		f.lastRender = r.URL.Query().Get("valueRenderOption")
		_ = json.NewEncoder(w).Encode(map[string]any{"range": f.lastRange, "values": f.grid})
	case http.MethodPut:
		f.lastInput = r.URL.Query().Get("valueInputOption")

		var body struct {
			Values [][]interface{} `json:"values"`
		}

		_ = json.NewDecoder(r.Body).Decode(&body)
		f.grid = body.Values
		f.writes++
		_ = json.NewEncoder(w).Encode(map[string]any{"updatedRange": f.lastRange, "updatedRows": len(body.Values)})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type apiCall struct {
	rng, input, render string
	writes             int
}

func (f *fakeSheetsAPI) last() apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	return apiCall{rng: f.lastRange, input: f.lastInput, render: f.lastRender, writes: f.writes}
}

func newTestGoogleStore(t *testing.T, api *fakeSheetsAPI) *GoogleStore {
	t.Helper()

	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	g, err := NewGoogleStore(context.Background(), "sheet-123",
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)

	return g
}

func TestNewGoogleStore_RequiresID(t *testing.T) {
	_, err := NewGoogleStore(context.Background(), "", option.WithoutAuthentication())
	assert.Error(t, err)
}

func TestGoogleStore_ReadRange(t *testing.T) {
	api := &fakeSheetsAPI{grid: [][]interface{}{{"id", "name"}, {"1", "Alice"}, {"2"}}}
	g := newTestGoogleStore(t, api)

	rows, err := g.ReadRange(context.Background(), "Sheet1!A:Z")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"id", "name"}, {"1", "Alice"}, {"2"}}, rows)
	assert.Equal(t, "Sheet1!A:Z", api.last().rng)
	assert.Equal(t, "FORMATTED_VALUE", api.last().render)
}

func TestGoogleStore_ReadRange_NonStringCells(t *testing.T) {
	api := &fakeSheetsAPI{grid: [][]interface{}{{"id", "score"}, {1, 2.5}}}
	g := newTestGoogleStore(t, api)

	rows, err := g.ReadRange(context.Background(), "A:Z")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2.5"}, rows[1])
}

func TestGoogleStore_WriteRange_UsesRawInput(t *testing.T) {
	api := &fakeSheetsAPI{}
	g := newTestGoogleStore(t, api)

	grid := [][]string{{"id", "hire_date"}, {"1", "2024-01-02"}}
	require.NoError(t, g.WriteRange(context.Background(), "Sheet1!A:Z", grid))

	assert.Equal(t, "RAW", api.last().input)
	assert.Equal(t, 1, api.last().writes)

	rows, err := g.ReadRange(context.Background(), "Sheet1!A:Z")
	require.NoError(t, err)
	assert.Equal(t, grid, rows)
}

func TestGoogleStore_Header(t *testing.T) {
	api := &fakeSheetsAPI{grid: [][]interface{}{{"id", "name"}}}
	g := newTestGoogleStore(t, api)

	header, err := g.Header(context.Background(), "Sheet1!A:Z")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, header)
	assert.Equal(t, "Sheet1!A1:Z1", api.last().rng)
}

func TestGoogleStore_HeaderEmptySheet(t *testing.T) {
	g := newTestGoogleStore(t, &fakeSheetsAPI{})

	header, err := g.Header(context.Background(), "Sheet1!A:Z")
	require.NoError(t, err)
	assert.Nil(t, header)
}

func TestGoogleStore_FirstSheetTitle(t *testing.T) {
	g := newTestGoogleStore(t, &fakeSheetsAPI{title: "Employees"})

	title, err := g.FirstSheetTitle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Employees", title)
}

func TestGoogleStore_ServerErrorIsUnavailable(t *testing.T) {
	g := newTestGoogleStore(t, &fakeSheetsAPI{status: http.StatusServiceUnavailable})

	_, err := g.ReadRange(context.Background(), "A:Z")
	require.Error(t, err)
	assert.True(t, errors.Is(err, syncerr.ErrStoreUnavailable))
}

func TestGoogleStore_ClientErrorIsNotUnavailable(t *testing.T) {
	g := newTestGoogleStore(t, &fakeSheetsAPI{status: http.StatusForbidden})

	err := g.WriteRange(context.Background(), "A:Z", [][]string{{"id"}})
	require.Error(t, err)
	assert.False(t, errors.Is(err, syncerr.ErrStoreUnavailable))
}
