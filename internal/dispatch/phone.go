package dispatch

import (
	"strings"

	pkgerrors "github.com/bkouassi/marchefrais-backend/pkg/errors"
)

// NormalizePhone canonicalizes phone numbers for the dispatch gateway.
// Formatting characters are stripped, the 00225 international form and bare
// ten-digit local numbers are rewritten to +225 followed by the national
// number. A number that already carries a + prefix is passed through as-is,
// whatever its country code.
func NormalizePhone(raw string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	if strings.HasPrefix(cleaned, "+") {
		if !digitsOnly(cleaned[1:]) {
			return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid phone number").
				WithDetails(map[string]any{"phone": raw})
		}
		return cleaned, nil
	}

	switch {
	case strings.HasPrefix(cleaned, "00225"):
		cleaned = cleaned[len("00225"):]
	case strings.HasPrefix(cleaned, "225") && len(cleaned) == 13:
		cleaned = cleaned[len("225"):]
	}

	if len(cleaned) != 10 || !digitsOnly(cleaned) {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid ivorian phone number").
			WithDetails(map[string]any{"phone": raw})
	}
	return "+225" + cleaned, nil
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
