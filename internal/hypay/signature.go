package hypay

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strings"
)

// ComputeSignature builds the gateway's parameter signature: keys sorted
// lexicographically, joined as k=v with '&', secret appended, SHA-256 hex.
// Any existing signature parameter is excluded from the input first.
func ComputeSignature(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if isSignatureKey(k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
	}
	sb.WriteString(secret)

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// VerifySignature recomputes and compares in constant time.
func VerifySignature(params map[string]string, expected, secret string) bool {
	if expected == "" {
		return false
	}
	computed := ComputeSignature(params, secret)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(expected)) == 1
}

// InvoiceSignature signs the out-of-band invoice fetch request. The gateway
// expects this exact concatenation; it shares nothing with the parameterized
// scheme above and must not be confused with it.
func InvoiceSignature(terminalID, txnID, apiKey string) string {
	sum := sha256.Sum256([]byte("PrintHesh" + terminalID + txnID + "EZCOUNT" + apiKey))
	return hex.EncodeToString(sum[:])
}

func isSignatureKey(k string) bool {
	switch strings.ToLower(k) {
	case "sign", "signature":
		return true
	}
	return false
}
