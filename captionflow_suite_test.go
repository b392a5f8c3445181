package main_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestCaptionFlow(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "CaptionFlow Suite")
}
