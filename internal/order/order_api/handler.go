package order_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"ms-fulfillment/internal/auth"
	"ms-fulfillment/internal/errs"
	"ms-fulfillment/internal/logger"
	"ms-fulfillment/internal/models"
	"ms-fulfillment/internal/order"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	OrderService *order.OrderService
	Logger       *logger.Logger
}

func NewHandler(orderService *order.OrderService, log *logger.Logger) *Handler {
	return &Handler{
		OrderService: orderService,
		Logger:       log,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/orders", h.CreateOrder)
	r.Get("/orders/{orderId}", h.GetOrder)
	r.Delete("/orders/{orderId}", h.CancelOrder)
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req models.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateOrder: failed to decode request body: %v", err))
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	// Authenticated callers own their orders; the body cannot claim
	// someone else's id. Guests stay empty.
	if uid := auth.UserID(r.Context()); uid != "" {
		req.UserID = uid
	}

	response, err := h.OrderService.CreateOrder(r.Context(), req)
	if err != nil {
		h.writeError(w, "CreateOrder", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateOrder: failed to encode response: %v", err))
	}
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	h.Logger.Debug("API", fmt.Sprintf("GetOrder: orderId=%s", orderID))

	response, err := h.OrderService.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, "GetOrder", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetOrder: failed to encode response: %v", err))
	}
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	h.Logger.Info("API", fmt.Sprintf("CancelOrder: orderId=%s", orderID))

	if err := h.OrderService.CancelOrder(r.Context(), orderID); err != nil {
		h.writeError(w, "CancelOrder", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
	} else {
		h.Logger.Warn("API", fmt.Sprintf("%s: %v", op, err))
	}
	http.Error(w, err.Error(), status)
}

func statusFor(err error) int {
	var validation *errs.ValidationError
	var insufficient *errs.InsufficientStockError
	var illegal *errs.IllegalTransitionError
	var gateway *errs.GatewayUnavailableError

	switch {
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &insufficient), errors.As(err, &illegal):
		return http.StatusConflict
	case errors.As(err, &gateway):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
