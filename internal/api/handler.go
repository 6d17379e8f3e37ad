package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/murelay/internal/engine"
	"github.com/roach88/murelay/internal/ir"
	"github.com/roach88/murelay/internal/store"
)

// maxBodySize bounds inbound message bodies.
const maxBodySize = 1 << 20

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	proc    *engine.Processor
	cranker *engine.Cranker
	cache   Reader
}

// NewHandler creates a new Handler.
func NewHandler(proc *engine.Processor, cranker *engine.Cranker, cache Reader) *Handler {
	return &Handler{proc: proc, cranker: cranker, cache: cache}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Kind      engine.Kind `json:"kind"`
	Message   string      `json:"message"`
	MessageID string      `json:"messageId,omitempty"`
	ProcessID string      `json:"processId,omitempty"`
}

// Error sends err as an ErrorBody with the status its kind maps to.
func (h *Handler) Error(w http.ResponseWriter, err error) {
	body := ErrorBody{Kind: engine.Classify(err), Message: err.Error()}
	var pe *engine.Error
	if errors.As(err, &pe) {
		body.MessageID = pe.MessageID
		body.ProcessID = pe.ProcessID
	}
	h.JSON(w, StatusFor(body.Kind), body)
}

// badRequest reports a malformed request.
func (h *Handler) badRequest(w http.ResponseWriter, format string, args ...any) {
	h.JSON(w, http.StatusBadRequest, ErrorBody{
		Kind:    engine.KindInvalidMessage,
		Message: fmt.Sprintf(format, args...),
	})
}

// StatusFor maps an error kind onto an HTTP status.
func StatusFor(k engine.Kind) int {
	switch k {
	case engine.KindInvalidMessage:
		return http.StatusBadRequest
	case engine.KindNotFound:
		return http.StatusNotFound
	case engine.KindConflict:
		return http.StatusConflict
	case engine.KindRejected:
		return http.StatusUnprocessableEntity
	case engine.KindComputeError:
		return http.StatusBadGateway
	case engine.KindSequencerUnavailable, engine.KindComputeUnavailable, engine.KindNoNodeAvailable:
		return http.StatusServiceUnavailable
	case engine.KindCrankDepthExceeded:
		return http.StatusLoopDetected
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}

// OutcomeResponse is returned by POST /messages?crank=false.
type OutcomeResponse struct {
	Tx     ir.SequencedTx `json:"tx"`
	Outbox []ir.Message   `json:"outbox"`
	Cached bool           `json:"cached"`
}

// PostMessage handles POST /messages.
//
// The message is initiated and its cascade cranked. With ?crank=false
// only the message itself is processed.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var msg ir.Message
	if err := decodeBody(w, r, &msg); err != nil {
		h.badRequest(w, "invalid message body: %v", err)
		return
	}

	crank := true
	if v := r.URL.Query().Get("crank"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			h.badRequest(w, "crank must be a boolean, got %q", v)
			return
		}
		crank = b
	}

	if !crank {
		out, err := h.proc.Initiate(r.Context(), msg)
		if err != nil {
			h.Error(w, err)
			return
		}
		h.JSON(w, http.StatusOK, OutcomeResponse{Tx: out.Tx, Outbox: out.Outbox, Cached: out.Cached})
		return
	}

	res, err := h.cranker.Run(r.Context(), msg)
	if err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusOK, res)
}

// CrankRequest is the body of POST /crank.
type CrankRequest struct {
	MessageID string `json:"messageId"`
}

// PostCrank handles POST /crank, resuming a stored cascade.
func (h *Handler) PostCrank(w http.ResponseWriter, r *http.Request) {
	var req CrankRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.badRequest(w, "invalid crank body: %v", err)
		return
	}
	if req.MessageID == "" {
		h.badRequest(w, "messageId is required")
		return
	}

	res, err := h.cranker.Resume(r.Context(), req.MessageID)
	if err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusOK, res)
}

// GetMessage handles GET /messages/{id}.
func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.cache.FindMessage(r.Context(), id)
	if err != nil {
		h.Error(w, lookupError(err, id, ""))
		return
	}
	h.JSON(w, http.StatusOK, rec)
}

// PageResponse is one page of a process's records.
type PageResponse struct {
	Records []ir.CacheRecord `json:"records"`
	Next    int64            `json:"next,omitempty"` // Cursor for the next page; absent on the last
}

// ListMessages handles GET /processes/{pid}/messages?cursor=&limit=.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	pid := chi.URLParam(r, "pid")
	q := r.URL.Query()

	var cursor int64
	if v := q.Get("cursor"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			h.badRequest(w, "cursor must be a non-negative integer, got %q", v)
			return
		}
		cursor = n
	}

	limit := store.DefaultPageSize
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			h.badRequest(w, "limit must be between 1 and 500, got %q", v)
			return
		}
		limit = n
	}

	records, next, err := h.cache.FindLatestMessages(r.Context(), pid, cursor, limit)
	if err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusOK, PageResponse{Records: records, Next: next})
}

// GetLatestTx handles GET /processes/{pid}/latest-tx.
func (h *Handler) GetLatestTx(w http.ResponseWriter, r *http.Request) {
	pid := chi.URLParam(r, "pid")
	tx, err := h.cache.FindLatestTx(r.Context(), pid)
	if err != nil {
		h.Error(w, lookupError(err, "", pid))
		return
	}
	h.JSON(w, http.StatusOK, tx)
}

// lookupError turns a store miss into a NotFound pipeline error.
func lookupError(err error, messageID, processID string) error {
	kind := engine.KindInternal
	if errors.Is(err, store.ErrNotFound) {
		kind = engine.KindNotFound
	}
	return &engine.Error{
		Kind:      kind,
		MessageID: messageID,
		ProcessID: processID,
		Err:       err,
	}
}

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"` // "pass" or "fail"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string           `json:"status"` // "healthy" or "degraded"
	Version   string           `json:"version"`
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Version:   ir.RelayVersion,
		Checks:    make(map[string]Check),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	start := time.Now()
	if err := h.cache.Ping(ctx); err != nil {
		resp.Checks["cache"] = Check{Status: "fail", Message: "ping failed"}
		resp.Status = "degraded"
	} else {
		resp.Checks["cache"] = Check{Status: "pass", Latency: time.Since(start).String()}
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	h.JSON(w, status, resp)
}
