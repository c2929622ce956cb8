package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/multigate/internal/binding"
	"github.com/nerrad567/multigate/internal/dispatcher"
)

// itemView is the JSON shape of one item binding plus its cached value.
type itemView struct {
	Item         string  `json:"item"`
	Device       string  `json:"device"`
	Command      string  `json:"command,omitempty"`
	Read         bool    `json:"read"`
	Write        bool    `json:"write"`
	ReadInitial  bool    `json:"read_initial"`
	ReadAll      bool    `json:"read_all"`
	CycleSeconds float64 `json:"cycle_seconds,omitempty"`
	Value        any     `json:"value"`
	Known        bool    `json:"known"`
}

// setValueRequest is the body of PUT /items/{item}/value.
type setValueRequest struct {
	Value  any    `json:"value"`
	Source string `json:"source,omitempty"`
}

func (s *Server) itemView(b binding.Binding) itemView {
	v, known := s.gw.Value(b.Item)
	return itemView{
		Item:         b.Item,
		Device:       b.Device,
		Command:      b.Command,
		Read:         b.Read,
		Write:        b.Write,
		ReadInitial:  b.ReadInitial,
		ReadAll:      b.ReadAll,
		CycleSeconds: b.Cycle.Seconds(),
		Value:        v,
		Known:        known,
	}
}

// handleListItems returns every bound item with its last known value.
func (s *Server) handleListItems(w http.ResponseWriter, _ *http.Request) {
	bindings := s.gw.Registry().Bindings()
	items := make([]itemView, 0, len(bindings))
	for _, b := range bindings {
		items = append(items, s.itemView(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

// handleGetItem returns a single item binding and its last known value.
func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item := chi.URLParam(r, "item")
	b, ok := s.gw.Registry().Binding(item)
	if !ok {
		writeNotFound(w, "unknown item: "+item)
		return
	}
	writeJSON(w, http.StatusOK, s.itemView(b))
}

// handleSetItemValue routes a value change into the gateway, as if it had
// arrived on the item's set topic. The write is queued to the device; the
// resulting state update is published asynchronously.
func (s *Server) handleSetItemValue(w http.ResponseWriter, r *http.Request) {
	item := chi.URLParam(r, "item")

	var req setValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required")
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	if err := s.gw.SetItem(item, req.Value, req.Source); err != nil {
		if errors.Is(err, dispatcher.ErrUnknownItem) {
			writeNotFound(w, "unknown item: "+item)
			return
		}
		writeBadRequest(w, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "queued",
		"item":   item,
	})
}

// handleReadItem queues a read of the item's bound command.
func (s *Server) handleReadItem(w http.ResponseWriter, r *http.Request) {
	item := chi.URLParam(r, "item")

	if err := s.gw.RequestRead(item); err != nil {
		if errors.Is(err, dispatcher.ErrUnknownItem) {
			writeNotFound(w, "unknown item: "+item)
			return
		}
		writeBadRequest(w, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "queued",
		"item":   item,
	})
}

// handleItemHistory returns recent value history for an item, newest first.
func (s *Server) handleItemHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "history store not configured")
		return
	}

	item := chi.URLParam(r, "item")
	if _, ok := s.gw.Registry().Binding(item); !ok {
		writeNotFound(w, "unknown item: "+item)
		return
	}

	entries, err := s.history.ItemHistory(r.Context(), item, parseLimit(r))
	if err != nil {
		s.logger.Error("item history query failed", "item", item, "error", err)
		writeInternalError(w, "history query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"item":    item,
		"entries": entries,
		"count":   len(entries),
	})
}

// parseLimit reads the limit query parameter. Zero means store default.
func parseLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// timestamp formats an update time for JSON responses.
func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
