package usecase

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"payment_reconciliation/internal/domain"
	"payment_reconciliation/internal/money"
)

// paymentContent renders the text a storefront encodes into its QR code or
// prints as bank transfer instructions. It uses the EMV merchant-presented
// layout (two-digit tag, two-digit length, value) so wallet apps prefill the
// amount and carry the verification code through to the payee's statement.
// Tags the merchant cannot fill (unknown currency, no country) are omitted.
func paymentContent(payee, country string, t domain.PendingTransaction) string {
	var b strings.Builder
	b.WriteString(tlv("00", "01"))
	b.WriteString(tlv("01", "12"))
	b.WriteString(tlv("26", tlv("00", truncate(payee, 25))))
	if code := money.NumericCode(t.Currency); code != "" {
		b.WriteString(tlv("53", code))
	}
	b.WriteString(tlv("54", money.FormatMinor(t.ExpectedAmount, t.Currency)))
	if len(country) == 2 {
		b.WriteString(tlv("58", strings.ToUpper(country)))
	}
	b.WriteString(tlv("62", tlv("01", truncate(t.OrderRef, 25))+tlv("05", t.VerificationCode)))
	return b.String()
}

// tlv counts length in characters, not bytes.
func tlv(tag, value string) string {
	return fmt.Sprintf("%s%02d%s", tag, utf8.RuneCountInString(value), value)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
