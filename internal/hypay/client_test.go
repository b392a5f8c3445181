package hypay_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	errors "github.com/idanlevi/captionflow/internal"
	"github.com/idanlevi/captionflow/internal/hypay"
)

var _ = Describe("Client", func() {
	var (
		server      *httptest.Server
		client      *hypay.Client
		lastRequest url.Values
		respond     func(w http.ResponseWriter, r *http.Request)
		testLogger  *slog.Logger
	)

	newClient := func(baseURL string, timeout time.Duration) *hypay.Client {
		return hypay.NewClient(hypay.Config{
			TerminalID: "0010000001",
			APIKey:     "test-api-key",
			Passphrase: "test-passphrase",
			BaseURL:    baseURL,
			Timeout:    timeout,
		}, testLogger)
	}

	BeforeEach(func() {
		testLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		lastRequest = nil
		respond = func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("CCode=0"))
		}
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lastRequest = r.URL.Query()
			respond(w, r)
		}))
		client = newClient(server.URL, 5*time.Second)
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("SignRequest", func() {
		It("sends credentials, parameters and a locally computed signature", func() {
			respond = func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("Order=order-1&Sign=gatewaysig&CCode=0"))
			}

			params := map[string]string{"Order": "order-1", "Amount": "39.90"}
			values, err := client.SignRequest(context.Background(), params)
			Expect(err).NotTo(HaveOccurred())

			Expect(lastRequest.Get("action")).To(Equal("APISign"))
			Expect(lastRequest.Get("What")).To(Equal("SIGN"))
			Expect(lastRequest.Get("Masof")).To(Equal("0010000001"))
			Expect(lastRequest.Get("KEY")).To(Equal("test-api-key"))
			Expect(lastRequest.Get("PassP")).To(Equal("test-passphrase"))
			Expect(lastRequest.Get("Order")).To(Equal("order-1"))
			Expect(lastRequest.Get("signature")).To(Equal(
				hypay.ComputeSignature(params, "test-passphrase")))

			Expect(values.Get("Sign")).To(Equal("gatewaysig"))
		})

		It("surfaces a gateway rejection as a gateway error", func() {
			respond = func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("CCode=902"))
			}

			_, err := client.SignRequest(context.Background(), map[string]string{"Order": "o"})
			Expect(err).To(HaveOccurred())
			appErr, ok := errors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(errors.ErrCodeGatewayRejected))
		})

		It("wraps transport failures as unreachable", func() {
			down := newClient("http://127.0.0.1:1", 200*time.Millisecond)
			_, err := down.SignRequest(context.Background(), map[string]string{"Order": "o"})
			Expect(err).To(HaveOccurred())
			appErr, ok := errors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(errors.ErrCodeGatewayUnreachable))
		})
	})

	Describe("PaymentPageURL", func() {
		It("carries the signed parameters plus the pay action", func() {
			signed := url.Values{}
			signed.Set("Order", "order-1")
			signed.Set("Sign", "gatewaysig")

			pageURL := client.PaymentPageURL(signed)
			parsed, err := url.Parse(pageURL)
			Expect(err).NotTo(HaveOccurred())

			query := parsed.Query()
			Expect(query.Get("action")).To(Equal("pay"))
			Expect(query.Get("Order")).To(Equal("order-1"))
			Expect(query.Get("Sign")).To(Equal("gatewaysig"))
		})
	})

	Describe("VerifyCallback", func() {
		It("reports valid when the gateway vouches", func() {
			result := client.VerifyCallback(context.Background(), map[string]string{"Order": "o1"})
			Expect(result.Valid).To(BeTrue())
			Expect(result.CCode).To(Equal("0"))
			Expect(lastRequest.Get("What")).To(Equal("VERIFY"))
		})

		It("reports invalid when the gateway returns a failure code", func() {
			respond = func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("CCode=902"))
			}

			result := client.VerifyCallback(context.Background(), map[string]string{"Order": "o1"})
			Expect(result.Valid).To(BeFalse())
			Expect(result.CCode).To(Equal("902"))
		})

		It("fails closed without a Go error when the gateway is unreachable", func() {
			down := newClient("http://127.0.0.1:1", 200*time.Millisecond)
			result := down.VerifyCallback(context.Background(), map[string]string{"Order": "o1"})
			Expect(result.Valid).To(BeFalse())
			Expect(result.Err).NotTo(BeEmpty())
		})

		It("fails closed on timeout", func() {
			respond = func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(300 * time.Millisecond)
				w.Write([]byte("CCode=0"))
			}
			slow := newClient(server.URL, 50*time.Millisecond)

			result := slow.VerifyCallback(context.Background(), map[string]string{"Order": "o1"})
			Expect(result.Valid).To(BeFalse())
			Expect(result.Err).NotTo(BeEmpty())
		})

		It("fails closed on a non-2xx response", func() {
			respond = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			}

			result := client.VerifyCallback(context.Background(), map[string]string{"Order": "o1"})
			Expect(result.Valid).To(BeFalse())
			Expect(result.Err).To(ContainSubstring("502"))
		})
	})

	Describe("FetchInvoice", func() {
		It("requests the invoice with the fixed-format signature", func() {
			respond = func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("CCode=0&url=" + url.QueryEscape("https://ezcount.example/invoice/123.pdf")))
			}

			invoiceURL, err := client.FetchInvoice(context.Background(), "10290483")
			Expect(err).NotTo(HaveOccurred())
			Expect(invoiceURL).To(Equal("https://ezcount.example/invoice/123.pdf"))

			Expect(lastRequest.Get("action")).To(Equal("PrintHesh"))
			Expect(lastRequest.Get("TransId")).To(Equal("10290483"))
			Expect(lastRequest.Get("type")).To(Equal("EZCOUNT"))
			Expect(lastRequest.Get("signH")).To(Equal(
				hypay.InvoiceSignature("0010000001", "10290483", "test-api-key")))
		})

		It("returns the missing-invoice sentinel when the gateway has no document", func() {
			respond = func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("CCode=0"))
			}

			_, err := client.FetchInvoice(context.Background(), "10290483")
			Expect(err).To(MatchError(errors.ErrInvoiceMissing))
		})

		It("surfaces gateway rejections", func() {
			respond = func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("CCode=1"))
			}

			_, err := client.FetchInvoice(context.Background(), "10290483")
			appErr, ok := errors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(errors.ErrCodeGatewayRejected))
		})
	})
})
