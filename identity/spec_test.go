package identity

import (
	"testing"

	"car_scrooper/models"
)

func TestNormalizePrice(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1 000", "1000"},
		{"12.500 €", "12.500€"},
		{"\t7 990 €\n", "7990€"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizePrice(tt.in); got != tt.want {
			t.Fatalf("NormalizePrice(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if !PriceEqual("1000", "1 000") {
		t.Fatalf("expected formatting-insensitive equality")
	}
	if PriceEqual("1000", "1001") {
		t.Fatalf("expected different prices to differ")
	}
}

func TestNormalizeLabel_Composition(t *testing.T) {
	precomposed := "Mjenja\u010d"
	decomposed := "Mjenjac\u030c"
	if NormalizeLabel(precomposed) != NormalizeLabel(decomposed) {
		t.Fatalf("expected NFC normalization to unify labels")
	}
	if got := NormalizeLabel("  Radni   obujam \n"); got != "Radni obujam" {
		t.Fatalf("unexpected label %q", got)
	}
}

func TestSpecFingerprint(t *testing.T) {
	a := models.SpecKey{Make: "Volkswagen", Model: "Golf", Year: 2018, EngineDisplacement: 1968}
	b := models.SpecKey{Make: " VOLKSWAGEN", Model: "golf ", Year: 2018, EngineDisplacement: 1968}
	if SpecFingerprint(a) != SpecFingerprint(b) {
		t.Fatalf("expected case and spacing to be ignored")
	}

	c := a
	c.EngineDisplacement = 1598
	if SpecFingerprint(a) == SpecFingerprint(c) {
		t.Fatalf("expected different engine to change the fingerprint")
	}

	d := a
	d.Year = 2019
	if SpecFingerprint(a) == SpecFingerprint(d) {
		t.Fatalf("expected different year to change the fingerprint")
	}

	if len(SpecFingerprint(a)) != 32 {
		t.Fatalf("expected 32 hex chars, got %d", len(SpecFingerprint(a)))
	}
}
