package payment

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"

	errors "github.com/idanlevi/captionflow/internal"
	"github.com/idanlevi/captionflow/internal/transport"
)

type CheckoutHandler struct {
	*transport.BaseHandler
	service ServiceAPI
}

func NewCheckoutHandler(baseHandler *transport.BaseHandler, service ServiceAPI) *CheckoutHandler {
	return &CheckoutHandler{
		BaseHandler: baseHandler,
		service:     service,
	}
}

// Checkout creates a pending payment and returns the signed gateway page URL
// the client should redirect the buyer to.
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("failed to decode checkout request", "error", err)
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.service.Checkout(r.Context(), &req)
	if err != nil {
		h.Logger.Error("checkout failed", "error", err, "pack_id", req.PackID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, resp)
}

// Invoice resolves the downloadable invoice URL for a settled order.
func (h *CheckoutHandler) Invoice(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if orderID == "" {
		h.HandleError(w, errors.NewValidationError("order ID is required", errors.ErrCodeInvalidOrderID))
		return
	}

	invoiceURL, err := h.service.InvoiceURL(r.Context(), orderID)
	if err != nil {
		if appErr, ok := errors.IsAppError(err); ok {
			h.HandleError(w, appErr)
			return
		}
		h.Logger.Error("failed to resolve invoice", "error", err, "order_id", orderID)
		h.WriteError(w, http.StatusInternalServerError, "failed to resolve invoice")
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]string{
		"order_id": orderID,
		"url":      invoiceURL,
	})
}
