package sqlutil

import "testing"

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"orders", `"orders"`},
		{"order_items", `"order_items"`},
		{"select", `"select"`},             // reserved word
		{"first name", `"first name"`},     // space in name
		{`order"data`, `"order""data"`},    // quote in name
		{`a"b"c`, `"a""b""c"`},             // multiple quotes
		{"", `""`},                         // empty string
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := QuoteIdentifier(tt.input)
			if result != tt.expected {
				t.Errorf("QuoteIdentifier(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestQuoteQualified(t *testing.T) {
	if got := QuoteQualified("m0", "total"); got != `m0."total"` {
		t.Errorf("QuoteQualified(m0, total) = %q", got)
	}
	if got := QuoteQualified("", "total"); got != `"total"` {
		t.Errorf("QuoteQualified(empty, total) = %q", got)
	}
}

func TestQuoteString(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello", "'hello'"},
		{"it's", "'it''s'"},              // single quote
		{"a'b'c", "'a''b''c'"},           // multiple quotes
		{"hello world", "'hello world'"}, // space
		{"", "''"},                       // empty string
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := QuoteString(tt.input)
			if result != tt.expected {
				t.Errorf("QuoteString(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
