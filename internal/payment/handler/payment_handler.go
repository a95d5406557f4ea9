package handler

import (
	"errors"
	"fmt"
	"net/http"

	"ms-fulfillment/internal/errs"
	"ms-fulfillment/internal/logger"
	"ms-fulfillment/internal/models"
	"ms-fulfillment/internal/payment"
	"ms-fulfillment/internal/payment/storage"
	"ms-fulfillment/internal/utils"

	"github.com/gin-gonic/gin"
)

type PaymentHandler struct {
	reconciler *payment.Reconciler
	store      storage.Store
	logger     *logger.Logger
}

func NewPaymentHandler(reconciler *payment.Reconciler, store storage.Store, log *logger.Logger) *PaymentHandler {
	return &PaymentHandler{
		reconciler: reconciler,
		store:      store,
		logger:     log,
	}
}

func (h *PaymentHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/payments/:orderId", h.GetPayment)
	r.POST("/payments/:orderId/gateway", h.OpenGatewayPayment)
	r.POST("/payments/:orderId/capture", h.ConfirmCapture)
	r.POST("/payments/:orderId/retry", h.RetryPayment)
}

func (h *PaymentHandler) GetPayment(c *gin.Context) {
	orderID := c.Param("orderId")

	record, err := h.store.GetByOrderID(c.Request.Context(), orderID)
	if err != nil {
		h.respondError(c, "GetPayment", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Payment retrieved", record))
}

// OpenGatewayPayment opens the remote payment for a pending order and
// hands back the approval link and its QR code.
func (h *PaymentHandler) OpenGatewayPayment(c *gin.Context) {
	orderID := c.Param("orderId")

	resp, err := h.reconciler.OpenGatewayPayment(c.Request.Context(), orderID)
	if err != nil {
		h.respondError(c, "OpenGatewayPayment", err)
		return
	}
	c.JSON(http.StatusCreated, utils.SuccessResponse("Gateway payment opened", resp))
}

// captureRequest optionally pins the capture to a specific intent.
// Capture is keyed by order id, so an omitted intent_id settles
// whatever intent is open for the order; a supplied one must match it.
type captureRequest struct {
	IntentID string `json:"intent_id"`
}

// ConfirmCapture settles the order's payment. Safe to call again after
// a gateway outage or a duplicate webhook; a finished payment replays
// the recorded outcome.
func (h *PaymentHandler) ConfirmCapture(c *gin.Context) {
	orderID := c.Param("orderId")

	var req captureRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", err.Error()))
			return
		}
	}

	result, err := h.reconciler.ConfirmCapture(c.Request.Context(), orderID, req.IntentID)
	if err != nil {
		h.respondError(c, "ConfirmCapture", err)
		return
	}

	message := "Capture confirmed"
	if result.Replayed {
		message = "Capture already settled"
	}
	c.JSON(http.StatusOK, utils.SuccessResponse(message, result))
}

type retryRequest struct {
	PaymentMethod models.PaymentMethod `json:"payment_method"`
}

func (h *PaymentHandler) RetryPayment(c *gin.Context) {
	orderID := c.Param("orderId")

	var req retryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", err.Error()))
		return
	}

	fresh, err := h.reconciler.RetryPayment(c.Request.Context(), orderID, req.PaymentMethod)
	if err != nil {
		h.respondError(c, "RetryPayment", err)
		return
	}
	c.JSON(http.StatusCreated, utils.SuccessResponse("Payment retry opened", fresh))
}

func (h *PaymentHandler) respondError(c *gin.Context, op string, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("API", fmt.Sprintf("%s: %v", op, err))
	} else {
		h.logger.Warn("API", fmt.Sprintf("%s: %v", op, err))
	}
	c.JSON(status, utils.ErrorResponse(message, err.Error()))
}

func statusFor(err error) (int, string) {
	var validation *errs.ValidationError
	var illegal *errs.IllegalTransitionError
	var gateway *errs.GatewayUnavailableError

	switch {
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, errs.ErrCaptureInProgress):
		return http.StatusConflict, "Capture already in progress"
	case errors.As(err, &validation):
		return http.StatusBadRequest, "Invalid request"
	case errors.As(err, &illegal):
		return http.StatusConflict, "Conflict with order state"
	case errors.As(err, &gateway):
		return http.StatusBadGateway, "Payment gateway unavailable"
	}
	return http.StatusInternalServerError, "Internal error"
}
