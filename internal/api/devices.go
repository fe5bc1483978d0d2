package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/eblock12/HomeNet/internal/audit"
	"github.com/eblock12/HomeNet/internal/device"
)

// WebSocket event channels for device changes.
const (
	EventDeviceCreated = "device.created"
	EventDeviceUpdated = "device.updated"
	EventDeviceDeleted = "device.deleted"
)

// deviceResponse is the JSON form of a device.
type deviceResponse struct {
	ID     int64         `json:"id"`
	Name   string        `json:"name"`
	NodeID device.NodeID `json:"nodeID"`
}

func toResponse(d device.Device) deviceResponse {
	return deviceResponse{ID: d.ID(), Name: d.Name(), NodeID: d.NodeID()}
}

type createDeviceRequest struct {
	Name   string         `json:"name"`
	NodeID *device.NodeID `json:"nodeID"`
}

type updateDeviceRequest struct {
	Name   *string        `json:"name"`
	NodeID *device.NodeID `json:"nodeID"`
}

// handleListDevices returns every device in insertion order.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices, err := s.store.ListDevices()
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	out := make([]deviceResponse, len(devices))
	for i, d := range devices {
		out[i] = toResponse(d)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": out,
		"count":   len(out),
	})
}

// handleCreateDevice adds a device. Both name and nodeID are required.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Name == "" || req.NodeID == nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "name and nodeID are required")
		return
	}
	if *req.NodeID <= 0 {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "nodeID must be positive")
		return
	}

	d, err := s.store.AddDevice(req.Name, *req.NodeID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	resp := toResponse(d)
	s.hub.Broadcast(EventDeviceCreated, resp)
	s.auditLog(r, audit.ActionCreate, d.ID(), map[string]any{"name": d.Name(), "nodeID": d.NodeID()})
	writeJSON(w, http.StatusCreated, resp)
}

// handleGetDevice returns one device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toResponse(d))
}

// handleUpdateDevice renames a device and/or points it at another node.
// Unchanged fields leave the device clean.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := parseDeviceID(w, r)
	if !ok {
		return
	}

	var req updateDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Name == nil && req.NodeID == nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "name or nodeID is required")
		return
	}
	if req.Name != nil && *req.Name == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "name must not be empty")
		return
	}
	if req.NodeID != nil && *req.NodeID <= 0 {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "nodeID must be positive")
		return
	}

	before, found, err := s.store.GetDevice(id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if !found {
		writeNotFound(w, "device not found")
		return
	}

	if req.Name != nil {
		if found, err = s.store.RenameDevice(id, *req.Name); err != nil || !found {
			s.writeUpdateFailure(w, found, err)
			return
		}
	}
	if req.NodeID != nil {
		if found, err = s.store.SetDeviceNodeID(id, *req.NodeID); err != nil || !found {
			s.writeUpdateFailure(w, found, err)
			return
		}
	}

	after, found, err := s.store.GetDevice(id)
	if err != nil || !found {
		s.writeUpdateFailure(w, found, err)
		return
	}

	resp := toResponse(after)
	if resp != toResponse(before) {
		s.hub.Broadcast(EventDeviceUpdated, resp)
		s.auditLog(r, audit.ActionUpdate, id, map[string]any{
			"from": toResponse(before),
			"to":   resp,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeUpdateFailure covers a device removed or a store failure between
// the steps of an update.
func (s *Server) writeUpdateFailure(w http.ResponseWriter, found bool, err error) {
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if !found {
		writeNotFound(w, "device not found")
	}
}

// handleDeleteDevice removes a device.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := parseDeviceID(w, r)
	if !ok {
		return
	}

	removed, err := s.store.RemoveDevice(id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if !removed {
		writeNotFound(w, "device not found")
		return
	}

	s.hub.Broadcast(EventDeviceDeleted, map[string]any{"id": id})
	s.auditLog(r, audit.ActionDelete, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// lookupDevice resolves the {id} URL parameter, writing the error
// response itself when ok is false.
func (s *Server) lookupDevice(w http.ResponseWriter, r *http.Request) (device.Device, bool) {
	id, ok := parseDeviceID(w, r)
	if !ok {
		return device.Device{}, false
	}
	d, found, err := s.store.GetDevice(id)
	if err != nil {
		s.writeStoreError(w, err)
		return device.Device{}, false
	}
	if !found {
		writeNotFound(w, "device not found")
		return device.Device{}, false
	}
	return d, true
}

func parseDeviceID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeBadRequest(w, "device id must be a positive integer")
		return 0, false
	}
	return id, true
}
