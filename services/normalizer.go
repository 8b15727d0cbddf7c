package services

import (
	"regexp"
	"strings"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	whitespaceRE = regexp.MustCompile(`[\s\x{00A0}]+`)
	ligatures    = strings.NewReplacer(
		"ﬁ", "fi",
		"ﬂ", "fl",
		"ﬀ", "ff",
		"ﬃ", "ffi",
		"ﬄ", "ffl",
	)
)

// NormalizeLabel bringt Freitext-Labels (Terme, Indikationen, Titel) in eine vergleichbare Form:
// NFC-Normalisierung, Ligaturen aufgelöst, Whitespace zusammengefasst und getrimmt.
// Groß-/Kleinschreibung bleibt erhalten, weil die Registry sie bedeutungstragend verwendet.
func NormalizeLabel(s string) string {
	if s == "" {
		return ""
	}
	s = ligatures.Replace(s)
	normalized, _, err := transform.String(norm.NFC, s)
	if err == nil {
		s = normalized
	}
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(s, " "))
}

// NormalizeIdentifier entfernt Whitespace und vereinheitlicht Registry-IDs auf Großbuchstaben ("nct0123" -> "NCT0123").
func NormalizeIdentifier(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}
