package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"car_scrooper/models"
)

var multiSpaceRegex = regexp.MustCompile(`\s+`)

// NormalizeLabel puts site text into a comparable form: NFC, trimmed, single spaces.
// Labels like "Mjenjač" arrive both precomposed and decomposed depending on the page.
func NormalizeLabel(s string) string {
	s = norm.NFC.String(s)
	s = multiSpaceRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// NormalizePrice removes every whitespace rune, so "1 000 €" and "1000€" compare equal
func NormalizePrice(s string) string {
	return strings.Join(strings.Fields(s), "")
}

// PriceEqual compares two prices after whitespace normalization
func PriceEqual(a, b string) bool {
	return NormalizePrice(a) == NormalizePrice(b)
}

// NormalizeSpecKey folds case and spacing of the textual key parts
func NormalizeSpecKey(key models.SpecKey) models.SpecKey {
	return models.SpecKey{
		Make:               foldText(key.Make),
		Model:              foldText(key.Model),
		Year:               key.Year,
		EngineDisplacement: key.EngineDisplacement,
	}
}

// SpecFingerprint is the stored content address of a VehicleSpec
func SpecFingerprint(key models.SpecKey) string {
	k := NormalizeSpecKey(key)
	input := fmt.Sprintf("%s|%s|%d|%d", k.Make, k.Model, k.Year, k.EngineDisplacement)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:16])
}

func foldText(s string) string {
	return cases.Fold().String(NormalizeLabel(s))
}
