package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eblock12/HomeNet/internal/audit"
	"github.com/eblock12/HomeNet/internal/bridges/zwave"
)

// EventValueChanged is broadcast when a node value changes.
const EventValueChanged = "node.value_changed"

const msgNoDriver = "Z-Wave bridge is not running"

// handleGetValues returns every live value of the device's node by label.
func (s *Server) handleGetValues(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	if s.driver == nil {
		writeUnavailable(w, msgNoDriver)
		return
	}

	values, ok := s.driver.ReadValues(d.NodeID())
	if !ok {
		writeNotFound(w, "node not found")
		return
	}
	writeJSON(w, http.StatusOK, values)
}

// handleGetValue returns one live value of the device's node.
func (s *Server) handleGetValue(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	if s.driver == nil {
		writeUnavailable(w, msgNoDriver)
		return
	}

	value, ok := s.driver.ReadValue(d.NodeID(), chi.URLParam(r, "name"))
	if !ok {
		writeNotFound(w, "value not found")
		return
	}
	writeJSON(w, http.StatusOK, value)
}

// handleSetValue writes a value through the driver. The body must carry a
// "value" member; null is a legal value.
func (s *Server) handleSetValue(w http.ResponseWriter, r *http.Request) {
	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	raw, present := body["value"]
	if !present {
		writeBadRequest(w, "value is required")
		return
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		writeBadRequest(w, "invalid value")
		return
	}

	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	if s.driver == nil {
		writeUnavailable(w, msgNoDriver)
		return
	}

	name := chi.URLParam(r, "name")
	if _, ok := s.driver.ReadValue(d.NodeID(), name); !ok {
		writeNotFound(w, "value not found")
		return
	}

	err := s.driver.WriteValue(r.Context(), d.NodeID(), name, value)
	switch {
	case err == nil:
	case errors.Is(err, zwave.ErrNodeNotFound), errors.Is(err, zwave.ErrValueNotFound):
		writeNotFound(w, "value not found")
		return
	case errors.Is(err, zwave.ErrReadOnly):
		writeError(w, http.StatusConflict, ErrCodeConflict, "value is read-only")
		return
	default:
		s.logger.Error("failed to update the device value",
			"device_id", d.ID(), "node", d.NodeID(), "value", name, "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeDriverFailed, "failed to update the device value")
		return
	}

	s.auditLog(r, audit.ActionSetValue, d.ID(), map[string]any{
		"node":  d.NodeID(),
		"value": name,
		"to":    value,
	})
	w.WriteHeader(http.StatusCreated)
}

// BroadcastValueChange relays a node value change to WebSocket clients.
// Register it with the bridge's OnValueChange.
func (s *Server) BroadcastValueChange(c zwave.ValueChange) {
	s.hub.Broadcast(EventValueChanged, map[string]any{
		"node":          c.Node,
		"command_class": c.CommandClass,
		"index":         c.Index,
		"label":         c.Label,
		"previous":      c.Previous,
		"value":         c.Value,
		"units":         c.Units,
	})
}
