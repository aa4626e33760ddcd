package core

import "testing"

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
		{"1.005", 101, true}, // half-up rounding
		{"10.005", 1001, true},
		{" 2.50 ", 250, true},
		{"0", 0, true}, // extraction default "0.00" must parse
		{"0.00", 0, true},
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

func TestMoneyString(t *testing.T) {
	cases := []struct {
		cents int64
		want  string
	}{
		{0, "0.00"},
		{1, "0.01"},
		{3001, "30.01"},
		{123456, "1234.56"},
		{-250, "-2.50"},
	}
	for _, tc := range cases {
		if got := (Money{Cents: tc.cents}).String(); got != tc.want {
			t.Fatalf("%d cents: expected %q, got %q", tc.cents, tc.want, got)
		}
	}
}

func TestFormatYuan(t *testing.T) {
	if got := FormatYuan(3001); got != "￥30.01" {
		t.Fatalf("expected ￥30.01, got %q", got)
	}
}

func TestClaimValidate(t *testing.T) {
	if err := (Claim{EmployeeName: "  "}).Validate(); err != ErrEmployeeNameRequired {
		t.Fatalf("expected ErrEmployeeNameRequired, got %v", err)
	}
	if err := (Claim{EmployeeName: "张三"}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
