package analytics_api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ms-fulfillment/internal/analytics"
	"ms-fulfillment/internal/logger"

	"github.com/go-chi/chi/v5"
)

const defaultWindowDays = 30

// Handler exposes read-only sales reporting endpoints.
type Handler struct {
	Service *analytics.Service
	Logger  *logger.Logger
}

func NewHandler(service *analytics.Service, log *logger.Logger) *Handler {
	return &Handler{
		Service: service,
		Logger:  log,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/analytics", func(r chi.Router) {
		r.Get("/sales", h.GetSalesSummary)
		r.Get("/vouchers", h.GetVoucherUsage)
		r.Get("/top-variants", h.GetTopVariants)
	})
}

func sendJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// since parses the ?days=N reporting window, defaulting to 30 days.
func since(r *http.Request) time.Time {
	days := defaultWindowDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			days = parsed
		}
	}
	return time.Now().AddDate(0, 0, -days)
}

func (h *Handler) GetSalesSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Service.GetSalesSummary(r.Context(), since(r))
	if err != nil {
		h.Logger.Error("ANALYTICS", fmt.Sprintf("Failed to build sales summary: %v", err))
		http.Error(w, "Failed to build sales summary", http.StatusInternalServerError)
		return
	}
	sendJSONResponse(w, http.StatusOK, summary)
}

func (h *Handler) GetVoucherUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.Service.GetVoucherUsage(r.Context(), since(r))
	if err != nil {
		h.Logger.Error("ANALYTICS", fmt.Sprintf("Failed to query voucher usage: %v", err))
		http.Error(w, "Failed to query voucher usage", http.StatusInternalServerError)
		return
	}
	sendJSONResponse(w, http.StatusOK, usage)
}

func (h *Handler) GetTopVariants(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	top, err := h.Service.GetTopVariants(r.Context(), since(r), limit)
	if err != nil {
		h.Logger.Error("ANALYTICS", fmt.Sprintf("Failed to query top variants: %v", err))
		http.Error(w, "Failed to query top variants", http.StatusInternalServerError)
		return
	}
	sendJSONResponse(w, http.StatusOK, top)
}
