package api

import (
	"net/http"
	"runtime"
	"time"
)

// statusResponse is the JSON shape of GET /status.
type statusResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	StartedAt     string  `json:"started_at"`
	UptimeSeconds float64 `json:"uptime_seconds"`

	Items         int `json:"items"`
	Devices       int `json:"devices"`
	DevicesOnline int `json:"devices_online"`
	WSClients     int `json:"ws_clients"`

	Goroutines  int    `json:"goroutines"`
	HeapAllocMB uint64 `json:"heap_alloc_mb"`
}

// handleStatus returns a runtime summary: item and device counts, link
// state, WebSocket clients, and process stats.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	online := s.gw.Availability()
	onlineCount := 0
	for _, up := range online {
		if up {
			onlineCount++
		}
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	clients := 0
	if s.hub != nil {
		clients = s.hub.ClientCount()
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Status:        "ok",
		Version:       s.version,
		StartedAt:     timestamp(s.started),
		UptimeSeconds: time.Since(s.started).Seconds(),
		Items:         s.gw.Registry().Len(),
		Devices:       len(online),
		DevicesOnline: onlineCount,
		WSClients:     clients,
		Goroutines:    runtime.NumGoroutine(),
		HeapAllocMB:   mem.HeapAlloc / (1 << 20),
	})
}
