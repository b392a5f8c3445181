package payment

import (
	"crypto/subtle"
	"net/http"

	errors "github.com/idanlevi/captionflow/internal"
	"github.com/idanlevi/captionflow/internal/transport"
)

type AdminHandler struct {
	*transport.BaseHandler
	service      ServiceAPI
	cleanupToken string
}

func NewAdminHandler(baseHandler *transport.BaseHandler, service ServiceAPI, cleanupToken string) *AdminHandler {
	return &AdminHandler{
		BaseHandler:  baseHandler,
		service:      service,
		cleanupToken: cleanupToken,
	}
}

// CleanupIdempotency purges expired idempotency records. The token check
// happens before any store access so an unauthorized call has no side effects.
func (h *AdminHandler) CleanupIdempotency(w http.ResponseWriter, r *http.Request) {
	token := h.ExtractTokenFromHeader(r)
	if !h.tokenValid(token) {
		h.Logger.Error("idempotency cleanup rejected: invalid admin token")
		h.HandleError(w, errors.ErrAdminTokenInvalid)
		return
	}

	deleted, err := h.service.CleanupIdempotency(r.Context())
	if err != nil {
		h.Logger.Error("idempotency cleanup failed", "error", err)
		h.WriteError(w, http.StatusInternalServerError, "cleanup failed")
		return
	}

	h.Logger.Info("idempotency cleanup completed", "deleted", deleted)
	h.WriteJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (h *AdminHandler) tokenValid(token string) bool {
	if h.cleanupToken == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.cleanupToken)) == 1
}
