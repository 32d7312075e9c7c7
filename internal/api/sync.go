package api

import (
	"net/http"
	"strconv"
)

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, badRequest("%s must be a non-negative integer", key)
	}
	return n, nil
}

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	st := h.Engine.Status(r.Context())
	writeData(w, http.StatusOK, map[string]any{
		"label":  st.Label(),
		"status": st,
	})
}

// TriggerSync hands the request to the running loop, or runs a pass inline
// when the engine is stopped.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if h.Engine.Trigger() {
		writeData(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}
	hist, err := h.Engine.SyncOnce(r.Context())
	if err != nil {
		writeJSON(w, statusFor(err), envelope{Data: hist, Error: classify(err)})
		return
	}
	writeData(w, http.StatusOK, hist)
}

func (h *Handler) StartSync(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.Start(h.BaseContext); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "started"})
}

func (h *Handler) StopSync(w http.ResponseWriter, r *http.Request) {
	h.Engine.Stop()
	writeData(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (h *Handler) GetSyncHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	hist, err := h.Store.GetSyncHistory(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, hist)
}

func (h *Handler) GetSyncTables(w http.ResponseWriter, r *http.Request) {
	states, err := h.Store.ListSyncStates(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, states)
}

func (h *Handler) GetDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, err)
		return
	}
	dl, err := h.Queue.DeadLetters(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, dl)
}
