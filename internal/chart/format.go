package chart

import (
	"strings"
	"time"

	"github.com/starford/arvore/internal/models"
	"github.com/starford/arvore/internal/records"
)

// SplitName returns the first and last whitespace-separated tokens of name.
// last is empty for single-token names.
func SplitName(name string) (first, last string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	}
	return parts[0], parts[len(parts)-1]
}

// ConvertDate turns a DD/MM/YYYY source date into YYYY-MM-DD. Already
// normalized dates pass through. Missing or unparseable dates yield "".
func ConvertDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, records.MissingDate) {
		return ""
	}
	if t, err := time.Parse("02/01/2006", s); err == nil {
		return t.Format(time.DateOnly)
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.Format(time.DateOnly)
	}
	return ""
}

// ConvertGender maps a source sex code to a Gender.
func ConvertGender(code string) models.Gender {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "F", "FEMININO", "FEMALE":
		return models.GenderFemale
	case "M", "MASCULINO", "MALE":
		return models.GenderMale
	}
	return models.GenderUnknown
}
