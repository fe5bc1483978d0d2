package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/eblock12/HomeNet/internal/audit"
)

// auditChanSize is the buffer size for the async audit log channel.
// Entries beyond this are dropped with a warning.
const auditChanSize = 256

// auditLog queues an audit entry for a device change made by request r.
// Recording never fails the request.
func (s *Server) auditLog(r *http.Request, action string, deviceID int64, details map[string]any) {
	if s.auditCh == nil {
		return
	}

	entry := &audit.Entry{
		Action:     action,
		EntityType: audit.EntityDevice,
		EntityID:   strconv.FormatInt(deviceID, 10),
		Source:     "api",
		UserID:     userFromContext(r.Context()),
		Details:    details,
	}

	select {
	case s.auditCh <- entry:
	default:
		s.logger.Warn("audit log channel full, dropping entry",
			"action", action,
			"device_id", deviceID,
		)
	}
}

// drainAuditLog writes queued entries one at a time until ctx is done,
// then flushes whatever is left.
func (s *Server) drainAuditLog(ctx context.Context) {
	defer s.auditWG.Done()

	write := func(entry *audit.Entry) {
		if err := s.auditRepo.Create(context.Background(), entry); err != nil {
			s.logger.Error("audit log write failed",
				"action", entry.Action,
				"entity_id", entry.EntityID,
				"error", err,
			)
		}
	}

	for {
		select {
		case entry := <-s.auditCh:
			write(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-s.auditCh:
					write(entry)
				default:
					return
				}
			}
		}
	}
}

// handleListAuditLogs returns audit entries, newest first.
//
// Query parameters:
//   - action: create, update, delete, set_value
//   - entity_id: device id
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeUnavailable(w, "audit log is disabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:   q.Get("action"),
		EntityID: q.Get("entity_id"),
	}
	if filter.EntityID != "" {
		filter.EntityType = audit.EntityDevice
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeBadRequest(w, name+" must be a non-negative integer")
				return
			}
			*dst = n
		}
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
