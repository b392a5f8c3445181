package payment

import (
	"net/http"
	"net/url"

	errors "github.com/idanlevi/captionflow/internal"
	"github.com/idanlevi/captionflow/internal/hypay"
	"github.com/idanlevi/captionflow/internal/observability"
	"github.com/idanlevi/captionflow/internal/transport"
)

// CallbackHandler terminates the gateway's redirect callbacks. End users are
// always redirected to a result page; raw error payloads never reach them.
// Infrastructure failures are answered with a 500 so the gateway redelivers,
// which the idempotency layer makes safe.
type CallbackHandler struct {
	*transport.BaseHandler
	service        ServiceAPI
	metrics        *observability.Metrics
	successPageURL string
	failurePageURL string
}

func NewCallbackHandler(baseHandler *transport.BaseHandler, service ServiceAPI, metrics *observability.Metrics, successPageURL, failurePageURL string) *CallbackHandler {
	return &CallbackHandler{
		BaseHandler:    baseHandler,
		service:        service,
		metrics:        metrics,
		successPageURL: successPageURL,
		failurePageURL: failurePageURL,
	}
}

func (h *CallbackHandler) HandleSuccess(w http.ResponseWriter, r *http.Request) {
	params := callbackParams(r)
	cb := &SuccessCallback{
		OrderID:    params["Order"],
		TxnID:      params["Id"],
		Amount:     params["Amount"],
		CCode:      params["CCode"],
		InvoiceRef: params["Hesh"],
		Sign:       params["Sign"],
		Params:     params,
	}

	if cb.OrderID == "" || cb.TxnID == "" || cb.Amount == "" || cb.CCode == "" {
		h.metrics.CallbackProcessed("success", "malformed")
		h.Logger.Error("success callback missing required parameters",
			"order_id", cb.OrderID,
			"gateway_txn_id", cb.TxnID,
			"ccode", cb.CCode)
		h.redirectFailure(w, r, cb.CCode, "missing required payment parameters", cb.TxnID)
		return
	}

	if !hypay.IsSuccess(cb.CCode) {
		h.metrics.CallbackProcessed("success", "rejected")
		h.Logger.Error("success callback carried non-success code",
			"order_id", cb.OrderID, "ccode", cb.CCode)
		h.redirectFailure(w, r, cb.CCode, hypay.UserMessage(cb.CCode), cb.TxnID)
		return
	}

	outcome, err := h.service.HandleSuccessCallback(r.Context(), cb)
	if err != nil {
		appErr, ok := errors.IsAppError(err)
		switch {
		case ok && appErr.Code == errors.ErrCodeVerificationFailed:
			h.metrics.CallbackProcessed("success", "unverified")
			h.redirectFailure(w, r, hypay.CodeAuthFailure, hypay.UserMessage(hypay.CodeAuthFailure), cb.TxnID)
		case ok && appErr.Type == errors.ErrorTypeValidation:
			h.metrics.CallbackProcessed("success", "malformed")
			h.redirectFailure(w, r, cb.CCode, appErr.GetDetailedMessage(), cb.TxnID)
		case ok && appErr.Code == errors.ErrCodeIdempotencyConflict:
			// key reuse with different content is rejected outright, never
			// resolved to a redirect that could mask the mismatch
			h.metrics.CallbackProcessed("success", "conflict")
			h.HandleError(w, appErr)
		default:
			h.metrics.CallbackProcessed("success", "error")
			h.Logger.Error("failed to process success callback",
				"error", err, "order_id", cb.OrderID)
			h.WriteError(w, http.StatusInternalServerError, "failed to process payment callback")
		}
		return
	}

	if outcome.Applied {
		h.metrics.CallbackProcessed("success", "applied")
	} else {
		h.metrics.CallbackProcessed("success", "noop")
	}

	h.redirectSuccess(w, r, params)
}

func (h *CallbackHandler) HandleFailure(w http.ResponseWriter, r *http.Request) {
	params := callbackParams(r)
	cb := &FailureCallback{
		OrderID: params["Order"],
		TxnID:   params["Id"],
		CCode:   params["CCode"],
		ErrMsg:  params["ErrMsg"],
		Sign:    params["Sign"],
		Params:  params,
	}

	if cb.OrderID == "" || cb.CCode == "" {
		h.metrics.CallbackProcessed("failure", "malformed")
		h.Logger.Error("failure callback missing required parameters",
			"order_id", cb.OrderID, "ccode", cb.CCode)
		h.redirectFailure(w, r, cb.CCode, cb.ErrMsg, cb.TxnID)
		return
	}

	if err := h.service.HandleFailureCallback(r.Context(), cb); err != nil {
		if appErr, ok := errors.IsAppError(err); ok && appErr.Type == errors.ErrorTypeValidation {
			h.metrics.CallbackProcessed("failure", "malformed")
			h.redirectFailure(w, r, cb.CCode, appErr.GetDetailedMessage(), cb.TxnID)
			return
		}
		h.metrics.CallbackProcessed("failure", "error")
		h.Logger.Error("failed to process failure callback",
			"error", err, "order_id", cb.OrderID)
		h.WriteError(w, http.StatusInternalServerError, "failed to process payment callback")
		return
	}

	h.metrics.CallbackProcessed("failure", "applied")
	h.redirectFailure(w, r, cb.CCode, cb.ErrMsg, cb.TxnID)
}

func (h *CallbackHandler) redirectSuccess(w http.ResponseWriter, r *http.Request, params map[string]string) {
	query := url.Values{}
	for k, v := range params {
		query.Set(k, v)
	}
	http.Redirect(w, r, h.successPageURL+"?"+query.Encode(), http.StatusSeeOther)
}

func (h *CallbackHandler) redirectFailure(w http.ResponseWriter, r *http.Request, ccode, message, txnID string) {
	query := url.Values{}
	if ccode != "" {
		query.Set("CCode", ccode)
	}
	if message != "" {
		query.Set("ErrMsg", message)
	}
	if txnID != "" {
		query.Set("Id", txnID)
	}

	target := h.failurePageURL
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// callbackParams merges query and form parameters; the gateway sends GET for
// browser redirects and POST for server-to-server redelivery.
func callbackParams(r *http.Request) map[string]string {
	_ = r.ParseForm()
	params := make(map[string]string, len(r.Form))
	for k, vs := range r.Form {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}
	return params
}
