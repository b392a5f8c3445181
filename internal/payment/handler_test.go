package payment_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	errors "github.com/idanlevi/captionflow/internal"
	paymentPkg "github.com/idanlevi/captionflow/internal/payment"
	"github.com/idanlevi/captionflow/internal/transport"
)

type mockService struct {
	checkoutResp   *paymentPkg.CheckoutResponse
	checkoutErr    error
	successOutcome *paymentPkg.SuccessOutcome
	successErr     error
	successCalls   int
	lastSuccess    *paymentPkg.SuccessCallback
	failureErr     error
	failureCalls   int
	lastFailure    *paymentPkg.FailureCallback
	invoiceURL     string
	invoiceErr     error
	cleanupDeleted int64
	cleanupErr     error
	cleanupCalls   int
}

func (m *mockService) Checkout(_ context.Context, req *paymentPkg.CheckoutRequest) (*paymentPkg.CheckoutResponse, error) {
	if m.checkoutErr != nil {
		return nil, m.checkoutErr
	}
	return m.checkoutResp, nil
}

func (m *mockService) HandleSuccessCallback(_ context.Context, cb *paymentPkg.SuccessCallback) (*paymentPkg.SuccessOutcome, error) {
	m.successCalls++
	m.lastSuccess = cb
	if m.successErr != nil {
		return nil, m.successErr
	}
	return m.successOutcome, nil
}

func (m *mockService) HandleFailureCallback(_ context.Context, cb *paymentPkg.FailureCallback) error {
	m.failureCalls++
	m.lastFailure = cb
	return m.failureErr
}

func (m *mockService) InvoiceURL(_ context.Context, _ string) (string, error) {
	if m.invoiceErr != nil {
		return "", m.invoiceErr
	}
	return m.invoiceURL, nil
}

func (m *mockService) CleanupIdempotency(_ context.Context) (int64, error) {
	m.cleanupCalls++
	if m.cleanupErr != nil {
		return 0, m.cleanupErr
	}
	return m.cleanupDeleted, nil
}

var _ = Describe("CallbackHandler", func() {
	const (
		successPage = "https://app.example/billing/success"
		failurePage = "https://app.example/billing/failure"
	)

	var (
		service *mockService
		handler *paymentPkg.CallbackHandler
	)

	BeforeEach(func() {
		service = &mockService{
			successOutcome: &paymentPkg.SuccessOutcome{Applied: true, OrderID: "order-1", Credits: 60},
		}
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		base := &transport.BaseHandler{Logger: logger}
		handler = paymentPkg.NewCallbackHandler(base, service, nil, successPage, failurePage)
	})

	successQuery := func() url.Values {
		q := url.Values{}
		q.Set("Order", "order-1")
		q.Set("Id", "10290483")
		q.Set("Amount", "39.90")
		q.Set("CCode", "0")
		q.Set("Sign", "abc123")
		return q
	}

	redirectTarget := func(rec *httptest.ResponseRecorder) *url.URL {
		Expect(rec.Code).To(Equal(http.StatusSeeOther))
		target, err := url.Parse(rec.Header().Get("Location"))
		Expect(err).NotTo(HaveOccurred())
		return target
	}

	Describe("HandleSuccess", func() {
		It("redirects to the success page forwarding the gateway parameters", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/callback/success?"+successQuery().Encode(), nil)
			rec := httptest.NewRecorder()

			handler.HandleSuccess(rec, req)

			target := redirectTarget(rec)
			Expect(target.String()).To(HavePrefix(successPage))
			Expect(target.Query().Get("Order")).To(Equal("order-1"))
			Expect(target.Query().Get("Id")).To(Equal("10290483"))
			Expect(service.successCalls).To(Equal(1))
			Expect(service.lastSuccess.Params["Sign"]).To(Equal("abc123"))
		})

		It("accepts POST form redelivery", func() {
			body := strings.NewReader(successQuery().Encode())
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback/success", body)
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := httptest.NewRecorder()

			handler.HandleSuccess(rec, req)

			Expect(rec.Code).To(Equal(http.StatusSeeOther))
			Expect(service.successCalls).To(Equal(1))
		})

		It("redirects to the failure page without invoking the service when parameters are missing", func() {
			q := successQuery()
			q.Del("Amount")
			req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/callback/success?"+q.Encode(), nil)
			rec := httptest.NewRecorder()

			handler.HandleSuccess(rec, req)

			target := redirectTarget(rec)
			Expect(target.String()).To(HavePrefix(failurePage))
			Expect(service.successCalls).To(BeZero())
		})

		It("redirects to the failure page when the code is not success", func() {
			q := successQuery()
			q.Set("CCode", "1")
			req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/callback/success?"+q.Encode(), nil)
			rec := httptest.NewRecorder()

			handler.HandleSuccess(rec, req)

			target := redirectTarget(rec)
			Expect(target.String()).To(HavePrefix(failurePage))
			Expect(target.Query().Get("CCode")).To(Equal("1"))
			Expect(service.successCalls).To(BeZero())
		})

		It("redirects with the authentication failure code when verification fails", func() {
			service.successErr = errors.ErrVerificationFailed
			req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/callback/success?"+successQuery().Encode(), nil)
			rec := httptest.NewRecorder()

			handler.HandleSuccess(rec, req)

			target := redirectTarget(rec)
			Expect(target.String()).To(HavePrefix(failurePage))
			Expect(target.Query().Get("CCode")).To(Equal("902"))
		})

		It("answers a conflicting redelivery with 409", func() {
			service.successErr = errors.ErrIdempotencyConflict
			req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/callback/success?"+successQuery().Encode(), nil)
			rec := httptest.NewRecorder()

			handler.HandleSuccess(rec, req)

			Expect(rec.Code).To(Equal(http.StatusConflict))
		})

		It("answers infrastructure failures with 500 so the gateway retries", func() {
			service.successErr = errors.NewUnavailableError("idempotency store unavailable", errors.ErrCodeIdempotencyStoreDown)
			req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/callback/success?"+successQuery().Encode(), nil)
			rec := httptest.NewRecorder()

			handler.HandleSuccess(rec, req)

			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("HandleFailure", func() {
		failureQuery := func() url.Values {
			q := url.Values{}
			q.Set("Order", "order-1")
			q.Set("Id", "10290483")
			q.Set("CCode", "6")
			q.Set("ErrMsg", "card expired")
			return q
		}

		It("processes the callback and redirects to the failure page", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/callback/failure?"+failureQuery().Encode(), nil)
			rec := httptest.NewRecorder()

			handler.HandleFailure(rec, req)

			target := redirectTarget(rec)
			Expect(target.String()).To(HavePrefix(failurePage))
			Expect(target.Query().Get("CCode")).To(Equal("6"))
			Expect(target.Query().Get("ErrMsg")).To(Equal("card expired"))
			Expect(service.failureCalls).To(Equal(1))
			Expect(service.lastFailure.OrderID).To(Equal("order-1"))
		})

		It("redirects with partial info without invoking the service when parameters are missing", func() {
			q := failureQuery()
			q.Del("Order")
			req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/callback/failure?"+q.Encode(), nil)
			rec := httptest.NewRecorder()

			handler.HandleFailure(rec, req)

			target := redirectTarget(rec)
			Expect(target.String()).To(HavePrefix(failurePage))
			Expect(service.failureCalls).To(BeZero())
		})

		It("answers processing failures with 500", func() {
			service.failureErr = errors.NewInternalError("db down", nil)
			req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/callback/failure?"+failureQuery().Encode(), nil)
			rec := httptest.NewRecorder()

			handler.HandleFailure(rec, req)

			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		})
	})
})

var _ = Describe("CheckoutHandler", func() {
	var (
		service *mockService
		handler *paymentPkg.CheckoutHandler
	)

	BeforeEach(func() {
		service = &mockService{
			checkoutResp: &paymentPkg.CheckoutResponse{
				OrderID:     "order-1",
				RedirectURL: "https://pay.example/p/?Order=order-1",
			},
		}
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		handler = paymentPkg.NewCheckoutHandler(&transport.BaseHandler{Logger: logger}, service)
	})

	It("returns the redirect URL for a valid request", func() {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/checkout",
			strings.NewReader(`{"user_id":7,"pack_id":"starter"}`))
		rec := httptest.NewRecorder()

		handler.Checkout(rec, req)

		Expect(rec.Code).To(Equal(http.StatusCreated))
		Expect(rec.Body.String()).To(ContainSubstring("order-1"))
	})

	It("rejects malformed JSON", func() {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/checkout",
			strings.NewReader(`{not json`))
		rec := httptest.NewRecorder()

		handler.Checkout(rec, req)

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("maps an unknown pack to a validation response", func() {
		service.checkoutErr = errors.ErrUnknownPack
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/checkout",
			strings.NewReader(`{"user_id":7,"pack_id":"mega"}`))
		rec := httptest.NewRecorder()

		handler.Checkout(rec, req)

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	Describe("Invoice", func() {
		It("returns the invoice URL for a settled order", func() {
			service.invoiceURL = "https://docs.example/inv-77"

			router := chi.NewRouter()
			router.Get("/api/v1/payments/{orderID}/invoice", handler.Invoice)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/order-1/invoice", nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring("https://docs.example/inv-77"))
			Expect(rec.Body.String()).To(ContainSubstring("order-1"))
		})

		It("rejects a request without an order id", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/payments//invoice", nil)
			rec := httptest.NewRecorder()

			handler.Invoice(rec, req)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(ContainSubstring("INVALID_ORDER_ID"))
		})

		It("maps a missing invoice to not found", func() {
			service.invoiceErr = errors.ErrInvoiceMissing

			router := chi.NewRouter()
			router.Get("/api/v1/payments/{orderID}/invoice", handler.Invoice)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/order-1/invoice", nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})
})

var _ = Describe("AdminHandler", func() {
	var (
		service *mockService
		handler *paymentPkg.AdminHandler
	)

	BeforeEach(func() {
		service = &mockService{cleanupDeleted: 17}
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		handler = paymentPkg.NewAdminHandler(&transport.BaseHandler{Logger: logger}, service, "sekrit")
	})

	request := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/idempotency/cleanup", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		handler.CleanupIdempotency(rec, req)
		return rec
	}

	It("runs the cleanup with a valid token", func() {
		rec := request("sekrit")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"deleted":17`))
		Expect(service.cleanupCalls).To(Equal(1))
	})

	It("rejects a wrong token without touching the store", func() {
		rec := request("wrong")
		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		Expect(rec.Body.String()).To(ContainSubstring("ADMIN_TOKEN_INVALID"))
		Expect(service.cleanupCalls).To(BeZero())
	})

	It("rejects a missing token", func() {
		rec := request("")
		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		Expect(service.cleanupCalls).To(BeZero())
	})

	It("rejects everything when no token is configured", func() {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		open := paymentPkg.NewAdminHandler(&transport.BaseHandler{Logger: logger}, service, "")

		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/idempotency/cleanup", nil)
		req.Header.Set("Authorization", "Bearer anything")
		rec := httptest.NewRecorder()
		open.CleanupIdempotency(rec, req)

		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
	})
})
