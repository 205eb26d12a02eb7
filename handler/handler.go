// Package handler provides the HTTP handlers for the objectbox server.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"github.com/stevemurr/objectbox/box"
	"github.com/stevemurr/objectbox/store"
)

// Options configures a Handler.
type Options struct {
	Logger *logrus.Logger
	// Metrics, when set, is served on GET /metrics.
	Metrics http.Handler
}

// Handler holds the server dependencies and registers routes.
type Handler struct {
	// mu serializes requests; a box.Box is not safe for concurrent use.
	mu  sync.Mutex
	db  *store.DB
	box *box.Box
	log *logrus.Logger
	mux *http.ServeMux
}

// New creates a Handler and wires up all routes.
func New(db *store.DB, b *box.Box, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	h := &Handler{db: db, box: b, log: opts.Logger, mux: http.NewServeMux()}
	h.routes(opts.Metrics)
	return h
}

// ServeHTTP makes Handler an http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) routes(metrics http.Handler) {
	// Health / status
	h.mux.HandleFunc("GET /", h.root)
	h.mux.HandleFunc("GET /health", h.health)
	if metrics != nil {
		h.mux.Handle("GET /metrics", metrics)
	}

	h.mux.HandleFunc("GET /tables", h.listTables)
	h.mux.HandleFunc("POST /tables/{table}/records", h.insert)
	h.mux.HandleFunc("GET /tables/{table}/records", h.query)
	h.mux.HandleFunc("GET /tables/{table}/records/{id}", h.getFields)
	h.mux.HandleFunc("PATCH /tables/{table}/records/{id}", h.update)
	h.mux.HandleFunc("DELETE /tables/{table}/records/{id}", h.deleteRecord)
	h.mux.HandleFunc("GET /tables/{table}/records/{id}/fields/{field}", h.getField)
	h.mux.HandleFunc("PUT /tables/{table}/records/{id}/fields/{field}", h.setField)

	h.mux.HandleFunc("POST /cache/clear", h.clearCache)
}

// ---------- helpers ----------

// recordJSON is the wire form of a record tree.
type recordJSON struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// fail maps err to a status code and logs it.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	entry := h.log.WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path})
	if errors.Is(err, store.ErrNotFound) {
		entry.WithError(err).Warn("record not found")
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	entry.WithError(err).Error("request failed")
	writeError(w, http.StatusInternalServerError, err.Error())
}

// record resolves the {table} and {id} path values. It writes a 404 and
// returns nil when the record does not exist.
func (h *Handler) record(w http.ResponseWriter, r *http.Request) store.Record {
	rec, err := h.db.Table(r.PathValue("table")).Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, errors.Mark(err, box.ErrStorage))
		return nil
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "not found")
		return nil
	}
	return rec
}

func (h *Handler) respondRecord(w http.ResponseWriter, r *http.Request, status int, rec store.Record) {
	fields, err := h.box.GetFields(r.Context(), rec)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, status, recordJSON{ID: rec.ID(), Fields: fields})
}

// ---------- status endpoints ----------

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	// Only match exact root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "objectbox",
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) clearCache(w http.ResponseWriter, r *http.Request) {
	h.box.ClearCache()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// ---------- tables ----------

func (h *Handler) listTables(w http.ResponseWriter, r *http.Request) {
	names, err := h.db.TableNames(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

// ---------- records ----------

func (h *Handler) insert(w http.ResponseWriter, r *http.Request) {
	var value map[string]any
	if err := readJSON(r, &value); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	rec, err := h.box.Insert(r.Context(), h.db.Table(r.PathValue("table")), value)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondRecord(w, r, http.StatusCreated, rec)
}

// query treats every query parameter except depth as a field to match,
// with values read by ParseMatchValue.
func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	match := make(map[string]any, len(params))
	for name, values := range params {
		if name == box.DepthField {
			continue
		}
		match[name] = ParseMatchValue(values[0])
	}

	t := h.db.Table(r.PathValue("table"))
	var (
		records []store.Record
		err     error
	)
	if d := params.Get(box.DepthField); d != "" {
		depth, perr := strconv.Atoi(d)
		if perr != nil || depth < 0 {
			writeError(w, http.StatusBadRequest, "invalid depth: "+d)
			return
		}
		records, err = h.box.QueryDepth(r.Context(), t, match, depth)
	} else {
		records, err = h.box.Query(r.Context(), t, match)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	out := make([]recordJSON, 0, len(records))
	for _, rec := range records {
		fields, err := h.box.GetFields(r.Context(), rec)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		out = append(out, recordJSON{ID: rec.ID(), Fields: fields})
	}
	writeJSON(w, http.StatusOK, out)
}

// ParseMatchValue turns a textual match value into the value to compare
// against: s decoded as JSON when it is a JSON scalar, otherwise s itself.
func ParseMatchValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		switch v.(type) {
		case map[string]any, []any:
		default:
			return v
		}
	}
	return s
}

func (h *Handler) getFields(w http.ResponseWriter, r *http.Request) {
	rec := h.record(w, r)
	if rec == nil {
		return
	}
	h.respondRecord(w, r, http.StatusOK, rec)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var value map[string]any
	if err := readJSON(r, &value); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	rec := h.record(w, r)
	if rec == nil {
		return
	}
	rec, err := h.box.Update(r.Context(), rec, value)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondRecord(w, r, http.StatusOK, rec)
}

func (h *Handler) deleteRecord(w http.ResponseWriter, r *http.Request) {
	rec := h.record(w, r)
	if rec == nil {
		return
	}
	if err := h.box.DeleteRecord(r.Context(), rec); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": rec.ID()})
}

func (h *Handler) getField(w http.ResponseWriter, r *http.Request) {
	rec := h.record(w, r)
	if rec == nil {
		return
	}
	field := r.PathValue("field")
	v, err := h.box.Get(r.Context(), rec, field)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": rec.ID(), "field": field, "value": v})
}

func (h *Handler) setField(w http.ResponseWriter, r *http.Request) {
	var value any
	if err := readJSON(r, &value); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	rec := h.record(w, r)
	if rec == nil {
		return
	}
	rec, err := h.box.Set(r.Context(), rec, r.PathValue("field"), value)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondRecord(w, r, http.StatusOK, rec)
}
