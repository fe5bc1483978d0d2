package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/eblock12/HomeNet/internal/device"
)

// saveResponse reports the device database after a flush.
type saveResponse struct {
	State       string `json:"state"`
	Dirty       bool   `json:"dirty"`
	Devices     int    `json:"devices"`
	Saves       uint64 `json:"saves"`
	SaveErrors  uint64 `json:"save_errors"`
	LastSavedAt string `json:"last_saved_at,omitempty"`
}

// handleSave writes the device database now if it has unsaved changes.
// A failed write leaves dirty set; the response shows it rather than
// failing, and the autosave retries.
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	switch s.store.State() {
	case device.StateLoading:
		s.writeStoreError(w, device.ErrLoading)
		return
	case device.StateUnavailable:
		s.writeStoreError(w, device.ErrUnavailable)
		return
	}

	if err := s.store.Flush(r.Context()); err != nil {
		if errors.Is(err, device.ErrClosed) {
			writeUnavailable(w, "device database is shutting down")
			return
		}
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "save interrupted")
		return
	}

	st := s.store.Stats()
	resp := saveResponse{
		State:      st.State.String(),
		Dirty:      st.Dirty,
		Devices:    st.Devices,
		Saves:      st.Saves,
		SaveErrors: st.SaveErrors,
	}
	if !st.LastSavedAt.IsZero() {
		resp.LastSavedAt = st.LastSavedAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListNodes returns the driver's node table for debugging.
func (s *Server) handleListNodes(w http.ResponseWriter, _ *http.Request) {
	if s.driver == nil {
		writeUnavailable(w, msgNoDriver)
		return
	}
	nodes := s.driver.Nodes()
	writeJSON(w, http.StatusOK, map[string]any{
		"nodes": nodes,
		"count": len(nodes),
		"ready": s.driver.Ready(),
	})
}
