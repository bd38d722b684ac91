package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"floodmon-gateway/internal/scheduler"
	"floodmon-gateway/internal/store"
)

// StatusSource is satisfied by *scheduler.Scheduler.
type StatusSource interface {
	Status() scheduler.Status
}

var streams = map[string]store.Path{
	"sensor":  store.PathLatest,
	"flow":    store.PathFlow,
	"weather": store.PathWeather,
}

type handlers struct {
	status StatusSource
	reader store.Reader
	now    func() time.Time
}

// handleHealthz reports 503 once the loop has stopped.
func (h *handlers) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	st := h.status.Status()
	if st.Phase == scheduler.PhaseStopped {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "stopped"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "phase": string(st.Phase)})
}

func (h *handlers) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.status.Status())
}

// handleLatest returns the newest stored record of a stream for ?date=
// (default today, local time).
func (h *handlers) handleLatest(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusNotImplemented, "store backend does not support reads")
		return
	}

	name := mux.Vars(r)["stream"]
	path, ok := streams[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown stream "+name)
		return
	}

	date := r.URL.Query().Get("date")
	if date == "" {
		date = h.now().Local().Format(store.DateLayout)
	} else if _, err := time.Parse(store.DateLayout, date); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	rec, found, err := h.reader.Latest(r.Context(), string(path), date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read store")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no records for "+name+" on "+date)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":   string(path),
		"date":   date,
		"record": rec,
	})
}
