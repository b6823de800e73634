package aml

import (
	"errors"
	"testing"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Address
		wantErr bool
	}{
		{"lowercase", "0x1f9090aae28b8a3dceadf281b0f12828e676c326", "0x1f9090aae28b8a3dceadf281b0f12828e676c326", false},
		{"checksummed", "0x1f9090aaE28b8a3dCeaDf281B0F12828e676c326", "0x1f9090aae28b8a3dceadf281b0f12828e676c326", false},
		{"upper prefix", "0X8576ACC5C05D6CE88F4E49BF65BDF0C62F91353C", "0x8576acc5c05d6ce88f4e49bf65bdf0c62f91353c", false},
		{"surrounding whitespace", "  0x1da5821544e25c636c1417ba96ade4cf6d2f9b5a\n", "0x1da5821544e25c636c1417ba96ade4cf6d2f9b5a", false},
		{"no prefix", "1da5821544e25c636c1417ba96ade4cf6d2f9b5a", "", true},
		{"too short", "0x1da5821544e25c636c1417ba96ade4cf6d2f9b", "", true},
		{"non hex", "0xzza5821544e25c636c1417ba96ade4cf6d2f9b5a", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAddress(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAddress) {
					t.Errorf("ParseAddress(%q): got err %v, want ErrInvalidAddress", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAddress(%q): unexpected error %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseAddress(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestAddressShort(t *testing.T) {
	a := MustParseAddress("0x1f9090aae28b8a3dceadf281b0f12828e676c326")
	if got := a.Short(); got != "0x1f90…c326" {
		t.Errorf("Short() = %s", got)
	}
}

func TestParseRiskLevel(t *testing.T) {
	for _, in := range []string{"critical", "CRITICAL", "Critical"} {
		if l, ok := ParseRiskLevel(in); !ok || l != RiskCritical {
			t.Errorf("ParseRiskLevel(%q) = %s, %v", in, l, ok)
		}
	}
	if _, ok := ParseRiskLevel("severe"); ok {
		t.Error("ParseRiskLevel(severe) should fail")
	}
	if RiskHigh.Rank() <= RiskMedium.Rank() {
		t.Error("High must rank above Medium")
	}
}
