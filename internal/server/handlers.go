package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	syncerr "github.com/alexjbarnes/sheet-sync/internal/errors"
	"github.com/alexjbarnes/sheet-sync/internal/models"
	"github.com/alexjbarnes/sheet-sync/internal/scheduler"
	"github.com/alexjbarnes/sheet-sync/internal/schema"
	"github.com/alexjbarnes/sheet-sync/internal/state"
	"github.com/tidwall/gjson"
)

// maxBodyBytes caps request bodies on the record routes.
const maxBodyBytes = 1 << 20

type handlers struct {
	records    RecordStore
	sync       Syncer
	watermarks WatermarkSource
	schema     schema.Schema
	logger     *slog.Logger
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) list(w http.ResponseWriter, r *http.Request) {
	recs, err := h.records.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]map[string]string, 0, len(recs))
	for _, rec := range recs {
		out = append(out, h.flatten(rec))
	}

	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.records.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, h.flatten(rec))
}

func (h *handlers) create(w http.ResponseWriter, r *http.Request) {
	body, err := h.readBody(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	key, err := h.records.Create(r.Context(), models.Record{Key: body.key, Fields: body.fields})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.sync.Trigger()
	writeJSON(w, http.StatusCreated, map[string]string{"id": key})
}

func (h *handlers) update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	body, err := h.readBody(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if body.hasKey && body.key != schema.NormalizeKey(id) {
		h.writeError(w, r, fmt.Errorf("%w: body %s %q does not match path", syncerr.ErrInvalidRecord, h.schema.Key, body.key))
		return
	}

	key, err := h.records.Update(r.Context(), id, body.fields)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.sync.Trigger()
	writeJSON(w, http.StatusOK, map[string]string{"id": key})
}

func (h *handlers) remove(w http.ResponseWriter, r *http.Request) {
	key, err := h.records.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.sync.Trigger()
	writeJSON(w, http.StatusOK, map[string]string{"id": key})
}

func (h *handlers) triggerSync(w http.ResponseWriter, _ *http.Request) {
	h.sync.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sync scheduled"})
}

type statusResponse struct {
	Scheduler scheduler.Status `json:"scheduler"`
	Watermark state.Watermark  `json:"watermark"`
	Schema    schema.Schema    `json:"schema"`
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	wm, err := h.watermarks.Watermark()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Scheduler: h.sync.Status(),
		Watermark: wm,
		Schema:    h.schema,
	})
}

// flatten renders a record as one flat object keyed by column name.
func (h *handlers) flatten(rec models.Record) map[string]string {
	out := make(map[string]string, len(rec.Fields)+2)
	out[h.schema.Key] = rec.Key

	for _, f := range h.schema.Fields {
		out[f] = rec.Fields[f]
	}

	if h.schema.Timestamp != "" && !rec.Modified.IsZero() {
		out[h.schema.Timestamp] = rec.Modified.UTC().Format(time.RFC3339Nano)
	}

	return out
}

type recordBody struct {
	key    string
	hasKey bool
	fields map[string]string
}

func (h *handlers) readBody(w http.ResponseWriter, r *http.Request) (recordBody, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return recordBody{}, fmt.Errorf("%w: reading body: %w", syncerr.ErrInvalidRecord, err)
	}

	return parseBody(data, h.schema)
}

// parseBody reads a flat JSON object of column values. The key column is
// lifted out, the timestamp column is ignored, and every other member
// becomes a field. Nested objects and arrays are rejected.
func parseBody(data []byte, sc schema.Schema) (recordBody, error) {
	if !gjson.ValidBytes(data) {
		return recordBody{}, fmt.Errorf("%w: body is not valid JSON", syncerr.ErrInvalidRecord)
	}

	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return recordBody{}, fmt.Errorf("%w: body must be a JSON object", syncerr.ErrInvalidRecord)
	}

	body := recordBody{fields: make(map[string]string)}

	var err error

	doc.ForEach(func(k, v gjson.Result) bool {
		name := schema.NormalizeName(k.String())

		if v.IsObject() || v.IsArray() {
			err = fmt.Errorf("%w: field %q must be a scalar", syncerr.ErrInvalidRecord, name)
			return false
		}

		switch {
		case strings.EqualFold(name, sc.Key):
			body.key = schema.NormalizeKey(scalar(v))
			body.hasKey = true
		case sc.Timestamp != "" && strings.EqualFold(name, sc.Timestamp):
		default:
			body.fields[name] = scalar(v)
		}

		return true
	})

	if err != nil {
		return recordBody{}, err
	}

	return body, nil
}

func scalar(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return v.Str
	case gjson.Null:
		return ""
	default:
		return v.Raw
	}
}

func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Warn("request failed",
			slog.String("request_id", RequestID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)

		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	}

	writeJSON(w, status, map[string]string{"error": msg})
}

func statusFor(err error) int {
	var maxBytes *http.MaxBytesError

	switch {
	case errors.Is(err, syncerr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, syncerr.ErrConflict):
		return http.StatusConflict
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, syncerr.ErrInvalidRecord):
		return http.StatusBadRequest
	case errors.Is(err, syncerr.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
