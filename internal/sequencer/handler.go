package sequencer

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/murelay/internal/ir"
)

// maxInteractionBody caps the size of a submitted interaction.
const maxInteractionBody = 1 << 20

// NewHandler serves l over the protocol Client speaks:
//
//	GET  /messages/{id}?process-id=P   tx for a message
//	GET  /processes/{pid}/latest       latest tx on a process
//	POST /                             submit a SignedInteraction
func NewHandler(l *Local) http.Handler {
	h := &handler{local: l}
	r := chi.NewRouter()
	r.Post("/", h.write)
	r.Get("/messages/{id}", h.findTx)
	r.Get("/processes/{pid}/latest", h.latest)
	return r
}

type handler struct {
	local *Local
}

func (h *handler) findTx(w http.ResponseWriter, r *http.Request) {
	pid := r.URL.Query().Get("process-id")
	if pid == "" {
		writeError(w, http.StatusBadRequest, "process-id query parameter is required")
		return
	}
	msg := ir.Message{ID: chi.URLParam(r, "id"), ProcessID: pid}

	tx, err := h.local.FindTx(r.Context(), msg)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "tx not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *handler) latest(w http.ResponseWriter, r *http.Request) {
	tx, err := h.local.Latest(chi.URLParam(r, "pid"))
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "process has no tx")
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *handler) write(w http.ResponseWriter, r *http.Request) {
	var si ir.SignedInteraction
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxInteractionBody)).Decode(&si); err != nil {
		writeError(w, http.StatusBadRequest, "invalid interaction body")
		return
	}

	tx, err := h.local.WriteInteraction(r.Context(), si)
	switch {
	case errors.Is(err, ErrRejected):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeJSON(w, http.StatusOK, tx)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
