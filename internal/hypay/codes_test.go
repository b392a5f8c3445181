package hypay_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/idanlevi/captionflow/internal/hypay"
)

var _ = Describe("LookupCode", func() {
	It("maps the success code to the approved category", func() {
		info := hypay.LookupCode("0")
		Expect(info.Category).To(Equal(hypay.CategoryApproved))
		Expect(info.Severity).To(Equal(hypay.SeverityInfo))
	})

	It("maps card declines", func() {
		info := hypay.LookupCode("1")
		Expect(info.Category).To(Equal(hypay.CategoryCardDeclined))
		Expect(info.Retryable).To(BeFalse())
	})

	It("maps authentication failures", func() {
		info := hypay.LookupCode(hypay.CodeAuthFailure)
		Expect(info.Category).To(Equal(hypay.CategoryAuthentication))
	})

	It("falls back to an unknown-code entry carrying the original code", func() {
		info := hypay.LookupCode("31337")
		Expect(info.Category).To(Equal(hypay.CategoryUnknown))
		Expect(info.Code).To(Equal("31337"))
		Expect(info.UserMessage).NotTo(BeEmpty())
	})

	It("provides a user message for every mapped code", func() {
		for _, code := range []string{"0", "1", "2", "3", "4", "6", "26", "36", "39", "101", "107", "902", "999"} {
			info := hypay.LookupCode(code)
			Expect(info.UserMessage).NotTo(BeEmpty(), "code %s", code)
			Expect(info.TechnicalMessage).NotTo(BeEmpty(), "code %s", code)
		}
	})
})

var _ = Describe("IsSuccess", func() {
	It("accepts only the zero code", func() {
		Expect(hypay.IsSuccess("0")).To(BeTrue())
		Expect(hypay.IsSuccess("1")).To(BeFalse())
		Expect(hypay.IsSuccess("902")).To(BeFalse())
		Expect(hypay.IsSuccess("")).To(BeFalse())
		Expect(hypay.IsSuccess("00")).To(BeFalse())
	})
})

var _ = Describe("UserMessage", func() {
	It("never leaks technical detail for unknown codes", func() {
		msg := hypay.UserMessage("31337")
		Expect(msg).To(ContainSubstring("contact support"))
	})
})
