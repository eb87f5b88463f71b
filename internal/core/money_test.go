package core

import (
	"encoding/json"
	"testing"
)

func TestParseDecimalToCents(t *testing.T) {
	cases := []struct {
		in  string
		out int64
		ok  bool
	}{
		{"1", 100, true},
		{"1.0", 100, true},
		{"1.23", 123, true},
		{"1,23", 123, true},
		{"0.01", 1, true},
		{"0", 0, true}, // zero balances are legal
		{"1.005", 101, true}, // half-up rounding
		{" 2.50 ", 250, true},
		{"-1", 0, false},
		{"abc", 0, false},
		{"1.2.3", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseDecimalToCents(tc.in)
		if tc.ok {
			if err != nil || got != tc.out {
				t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got, err)
			}
		} else {
			if err == nil {
				t.Fatalf("%q expected error", tc.in)
			}
		}
	}
}

func TestMoneyHelpers(t *testing.T) {
	if got := (Money{Cents: 500}).Sub(Money{Cents: 700}); got.Cents != 0 {
		t.Fatalf("Sub must floor at zero, got %d", got.Cents)
	}
	if got := (Money{Cents: 500}).Sub(Money{Cents: 200}); got.Cents != 300 {
		t.Fatalf("Sub = %d, want 300", got.Cents)
	}
	if got := (Money{Cents: 500}).Min(Money{Cents: 200}); got.Cents != 200 {
		t.Fatalf("Min = %d, want 200", got.Cents)
	}
	if err := (Money{Cents: -1}).Validate(); err == nil {
		t.Fatalf("expected error for negative amount")
	}
	if err := (Money{Cents: 0}).Validate(); err != nil {
		t.Fatalf("zero must be valid, got %v", err)
	}
}

func TestMoneyJSONIsBareCents(t *testing.T) {
	b, err := json.Marshal(struct {
		Amount Money `json:"amount_cents"`
	}{Amount: Money{Cents: 1234}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"amount_cents":1234}` {
		t.Fatalf("marshal = %s", b)
	}

	var m Money
	if err := json.Unmarshal([]byte("567"), &m); err != nil || m.Cents != 567 {
		t.Fatalf("unmarshal = %d, %v", m.Cents, err)
	}
	if err := json.Unmarshal([]byte(`"1,23"`), &m); err == nil {
		t.Fatalf("expected error for non-integer payload")
	}
}
