package payment

import (
	"math/big"
	"testing"
	"time"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    int64
		wantErr bool
	}{
		{"whole", "1", 1_000_000, false},
		{"whole and fraction", "2.5", 2_500_000, false},
		{"full precision", "0.000001", 1, false},
		{"six decimals", "0.001000", 1_000, false},
		{"large", "1000.000000", 1_000_000_000_000, false},
		{"zero", "0", 0, false},
		{"empty", "", 0, true},
		{"too many decimals", "0.0000001", 0, true},
		{"no whole part", ".5", 0, true},
		{"trailing dot", "5.", 0, true},
		{"negative", "-1", 0, true},
		{"exponent", "1e6", 0, true},
		{"spaces", " 1", 0, true},
		{"hex", "0x10", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseAmount(%q) = %v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount(%q): %v", tt.in, err)
			}
			if got.Int64() != tt.want {
				t.Errorf("ParseAmount(%q) = %d, want %d", tt.in, got.Int64(), tt.want)
			}
		})
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		units int64
		want  string
	}{
		{1_000, "0.001000"},
		{1_000_000, "1.000000"},
		{2_500_000, "2.500000"},
		{1, "0.000001"},
		{0, "0.000000"},
		{1_234_567_890, "1234.567890"},
	}

	for _, tt := range tests {
		got := FormatAmount(big.NewInt(tt.units))
		if got != tt.want {
			t.Errorf("FormatAmount(%d) = %q, want %q", tt.units, got, tt.want)
		}
	}
}

func TestAmountRoundTrip(t *testing.T) {
	for _, s := range []string{"0.000001", "0.001000", "1.000000", "999.999999"} {
		units, err := ParseAmount(s)
		if err != nil {
			t.Fatalf("ParseAmount(%q): %v", s, err)
		}
		if got := FormatAmount(units); got != s {
			t.Errorf("round trip %q = %q", s, got)
		}
	}
}

func TestToBaseUnits(t *testing.T) {
	if got := ToBaseUnits(0.001); got.Int64() != 1_000 {
		t.Errorf("ToBaseUnits(0.001) = %d, want 1000", got.Int64())
	}
	if got := ToBaseUnits(0.0001); got.Int64() != 100 {
		t.Errorf("ToBaseUnits(0.0001) = %d, want 100", got.Int64())
	}
}

func TestDirectiveString(t *testing.T) {
	d := NewDirective(0.001, "0x2222222222222222222222222222222222222222")
	want := "USDC 0.001000 0x2222222222222222222222222222222222222222"
	if d.String() != want {
		t.Errorf("directive = %q, want %q", d.String(), want)
	}
}

func TestParseDirective(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Directive
		wantErr bool
	}{
		{
			name: "valid",
			in:   "USDC 0.001000 0x2222222222222222222222222222222222222222",
			want: Directive{Token: "USDC", Amount: "0.001000", Recipient: "0x2222222222222222222222222222222222222222"},
		},
		{name: "empty", in: "", wantErr: true},
		{name: "two fields", in: "USDC 0.001000", wantErr: true},
		{name: "four fields", in: "USDC 0.001000 0xabc extra", wantErr: true},
		{name: "bad amount", in: "USDC one 0xabc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDirective(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseDirective(%q) = %+v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDirective(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseDirective(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestProofHeaderRoundTrip(t *testing.T) {
	p := &Proof{
		Type:      ProofType,
		Chain:     ChainBase,
		Token:     TokenUSDC,
		Amount:    "0.001000",
		Recipient: "0x2222222222222222222222222222222222222222",
		SignedTx:  "0xab12345678901234567890123456789012345678901234567890123456789012",
		Payer:     "0x1111111111111111111111111111111111111111",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	header, err := EncodeProofHeader(p)
	if err != nil {
		t.Fatalf("EncodeProofHeader: %v", err)
	}

	got, err := DecodeProofHeader(header)
	if err != nil {
		t.Fatalf("DecodeProofHeader: %v", err)
	}
	if *got != *p {
		t.Errorf("round trip = %+v, want %+v", got, p)
	}
}

func TestDecodeProofHeaderRejectsGarbage(t *testing.T) {
	for _, in := range []string{"not base64!!!", "aGVsbG8", "e30=garbage"} {
		if _, err := DecodeProofHeader(in); err == nil {
			t.Errorf("DecodeProofHeader(%q) succeeded, want error", in)
		}
	}
}
