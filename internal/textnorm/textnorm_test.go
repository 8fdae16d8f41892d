package textnorm

import "testing"

func TestFold(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "ascii untouched", input: "CK 150,000 VND DH42", expected: "CK 150,000 VND DH42"},
		{name: "vietnamese diacritics", input: "Chuyển khoản đơn hàng", expected: "Chuyen khoan don hang"},
		{name: "capital d with stroke", input: "ĐH42", expected: "DH42"},
		{name: "full-width digits", input: "１５０.０００", expected: "150.000"},
		{name: "empty", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Fold(tt.input); got != tt.expected {
				t.Errorf("Fold(%q) = %q; want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestKey(t *testing.T) {
	if got := Key("thanh toan dh42"); got != "THANH TOAN DH42" {
		t.Errorf("Key() = %q; want %q", got, "THANH TOAN DH42")
	}
}
