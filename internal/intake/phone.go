package intake

import "strings"

// PhoneNormalizer canonicalizes a raw phone entry to E.164. Validation of
// phone inputs requires a successful normalization, not a regex shape.
type PhoneNormalizer interface {
	Normalize(raw string) (string, bool)
}

// NANPNormalizer is the default normalizer: North American ten-digit
// numbers get the +1 prefix, numbers already carrying a country code pass
// through digit-checked.
type NANPNormalizer struct{}

func (NANPNormalizer) Normalize(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	plus := strings.HasPrefix(raw, "+")
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
			continue
		}
		switch r {
		case ' ', '-', '.', '(', ')', '+':
		default:
			return "", false
		}
	}
	d := digits.String()
	switch {
	case plus:
		if len(d) < 8 || len(d) > 15 {
			return "", false
		}
		return "+" + d, true
	case len(d) == 10:
		if d[0] == '0' || d[0] == '1' {
			return "", false
		}
		return "+1" + d, true
	case len(d) == 11 && d[0] == '1':
		if d[1] == '0' || d[1] == '1' {
			return "", false
		}
		return "+" + d, true
	}
	return "", false
}
