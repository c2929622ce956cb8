package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/multigate/internal/dispatcher"
	"github.com/nerrad567/multigate/internal/transport"
)

// deviceView is the JSON shape of one device session.
type deviceView struct {
	Device    string          `json:"device"`
	Online    bool            `json:"online"`
	Connected bool            `json:"connected"`
	Pending   int             `json:"pending"`
	Link      transport.Stats `json:"link"`
}

func (s *Server) deviceViews() []deviceView {
	online := s.gw.Availability()
	snapshots := s.gw.Snapshots()

	views := make([]deviceView, 0, len(snapshots))
	for _, snap := range snapshots {
		views = append(views, deviceView{
			Device:    snap.Device,
			Online:    online[snap.Device],
			Connected: snap.Connected,
			Pending:   snap.Pending,
			Link:      snap.Link,
		})
	}
	return views
}

// handleListDevices returns every device session with its link state.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	views := s.deviceViews()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": views,
		"count":   len(views),
	})
}

// handleGetDevice returns a single device session.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, view := range s.deviceViews() {
		if view.Device == id {
			writeJSON(w, http.StatusOK, view)
			return
		}
	}
	writeNotFound(w, "unknown device: "+id)
}

// handleDeviceReadAll queues a read of every readable command of the device.
func (s *Server) handleDeviceReadAll(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.gw.ReadAll(id); err != nil {
		if errors.Is(err, dispatcher.ErrUnknownDevice) {
			writeNotFound(w, "unknown device: "+id)
			return
		}
		writeBadRequest(w, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "queued",
		"device": id,
	})
}

// handleAvailabilityHistory returns recent link transitions for a device,
// newest first.
func (s *Server) handleAvailabilityHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "history store not configured")
		return
	}

	id := chi.URLParam(r, "id")
	if _, ok := s.gw.Availability()[id]; !ok {
		writeNotFound(w, "unknown device: "+id)
		return
	}

	entries, err := s.history.AvailabilityHistory(r.Context(), id, parseLimit(r))
	if err != nil {
		s.logger.Error("availability history query failed", "device", id, "error", err)
		writeInternalError(w, "history query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device":  id,
		"entries": entries,
		"count":   len(entries),
	})
}
