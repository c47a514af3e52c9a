package handlers

import (
	"net/http"

	"github.com/gourl/gourl/internal/counter"
)

// ErrorResponse is the JSON body returned for a failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// IncrementResponse is returned by a successful increment.
type IncrementResponse struct {
	PageID string `json:"page_id"`
	Status string `json:"status"`
}

// CountResponse is returned by a successful get.
type CountResponse struct {
	PageID string `json:"page_id"`
	Count  int64  `json:"count"`
	Source string `json:"source"`
}

// ResetResponse is returned by a successful reset.
type ResetResponse struct {
	PageID  string `json:"page_id"`
	Existed bool   `json:"existed"`
}

// StatusResponse mirrors counter.Status over the wire.
type StatusResponse struct {
	Healthy       bool            `json:"healthy"`
	Shards        int             `json:"shards"`
	HealthyShards int             `json:"healthy_shards"`
	Health        map[string]bool `json:"shard_health"`
	BufferSize    int             `json:"buffer_size"`
	CacheSize     int             `json:"cache_size"`
	LastFlushTime string          `json:"last_flush_time"`
}

// CounterHandler handles the visit-counter HTTP endpoints.
type CounterHandler struct {
	service *counter.Service
}

// NewCounterHandler creates a new CounterHandler.
func NewCounterHandler(service *counter.Service) *CounterHandler {
	return &CounterHandler{service: service}
}

// Increment handles POST /api/v1/counter/{pageID}.
func (h *CounterHandler) Increment(w http.ResponseWriter, r *http.Request, pageID string) {
	if err := h.service.Increment(r.Context(), pageID); err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "failed to increment counter",
			Code:  "INCREMENT_FAILED",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, IncrementResponse{PageID: pageID, Status: "accepted"})
}

// Get handles GET /api/v1/counter/{pageID}.
func (h *CounterHandler) Get(w http.ResponseWriter, r *http.Request, pageID string) {
	count, source, err := h.service.Get(r.Context(), pageID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "failed to get counter",
			Code:  "GET_FAILED",
		})
		return
	}

	writeJSON(w, http.StatusOK, CountResponse{
		PageID: pageID,
		Count:  count,
		Source: string(source),
	})
}

// Reset handles DELETE /api/v1/counter/{pageID}.
func (h *CounterHandler) Reset(w http.ResponseWriter, r *http.Request, pageID string) {
	existed, err := h.service.Reset(r.Context(), pageID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "failed to reset counter",
			Code:  "RESET_FAILED",
		})
		return
	}

	writeJSON(w, http.StatusOK, ResetResponse{PageID: pageID, Existed: existed})
}

// Status handles GET /api/v1/status.
func (h *CounterHandler) Status(w http.ResponseWriter, r *http.Request) {
	status := h.service.Status(r.Context())

	statusCode := http.StatusOK
	if !status.Healthy {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, StatusResponse{
		Healthy:       status.Healthy,
		Shards:        status.Shards.Shards,
		HealthyShards: status.Shards.HealthyShards,
		Health:        status.Shards.Health,
		BufferSize:    status.BufferSize,
		CacheSize:     status.CacheSize,
		LastFlushTime: status.LastFlushTime.UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
}
