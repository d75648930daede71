package services

import (
	"crypto/md5"
	"encoding/hex"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"car-listings-toolkit/models"
	"car-listings-toolkit/utils"
)

var (
	// numericRegexp is what a cleaned numeric value must look like
	numericRegexp = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

	// valueSymbols are removed wherever they appear.
	valueSymbols = []string{"€", "/ Mes", "/100", "CO₂", ":", "(", ")"}
	// valueUnits are removed only as whole tokens or as suffixes of a number,
	// so words such as "Automático" keep their letters.
	valueUnits = []string{"km/h", "seg", "Km", "CV", "KW", "Kg", "m", "L"}

	accentFolder = strings.NewReplacer(
		"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u",
		"Á", "A", "É", "E", "Í", "I", "Ó", "O", "Ú", "U",
		"ñ", "n", "Ñ", "N",
	)
)

// Cleaner drops unusable scraped records and removes duplicates.
type Cleaner struct {
	logger *utils.Logger
}

// NewCleaner creates a Cleaner with the given logger.
func NewCleaner(logger *utils.Logger) *Cleaner {
	return &Cleaner{logger: logger}
}

// Clean keeps one record per GUID, dropping records without a source URL.
// Failed scrapes are kept so the CSV still shows the error column.
func (c *Cleaner) Clean(raw []*models.RawListing) []*models.RawListing {
	seen := make(map[string]struct{})
	result := make([]*models.RawListing, 0, len(raw))

	for _, r := range raw {
		url := strings.TrimSpace(r.OriginalURL)
		if url == "" {
			c.logger.Warn("[cleaner] Dropping listing with empty URL")
			continue
		}
		if r.GUID == "" {
			r.GUID = GUIDFromURL(url)
		}
		if _, dup := seen[r.GUID]; dup {
			c.logger.Debug("[cleaner] Duplicate listing skipped: %s", url)
			continue
		}
		seen[r.GUID] = struct{}{}

		for k, v := range r.Fields {
			v = normaliseText(v)
			if v == "" || v == models.NotAvailable {
				delete(r.Fields, k)
				continue
			}
			r.Fields[k] = v
		}
		r.OriginalURL = url
		result = append(result, r)
	}

	c.logger.Info("[cleaner] Cleaned %d → %d listings (dropped %d)",
		len(raw), len(result), len(raw)-len(result))
	return result
}

// GUIDFromURL derives the stable listing identifier: the hex MD5 of the URL.
func GUIDFromURL(url string) string {
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}

// CleanValue strips units, currency symbols and punctuation from an extracted
// value and collapses whitespace. Periods are kept as decimal separators.
func CleanValue(text string) string {
	for _, sym := range valueSymbols {
		text = strings.ReplaceAll(text, sym, " ")
	}

	tokens := strings.Fields(text)
	kept := tokens[:0]
	for _, tok := range tokens {
		if tok = stripUnit(tok); tok != "" {
			kept = append(kept, tok)
		}
	}
	return strings.Join(kept, " ")
}

func stripUnit(tok string) string {
	for _, unit := range valueUnits {
		if tok == unit {
			return ""
		}
		if rest, ok := strings.CutSuffix(tok, unit); ok && rest != "" && unicode.IsDigit(rune(rest[len(rest)-1])) {
			return rest
		}
	}
	return tok
}

// CleanLabel folds accents, lower-cases and removes spaces so labels such as
// "Matriculación" and "matriculacion" compare equal.
func CleanLabel(text string) string {
	text = accentFolder.Replace(text)
	text = strings.ToLower(strings.TrimSpace(text))
	return strings.ReplaceAll(text, " ", "")
}

// ParseNumber converts a price/mileage style value into a float. It accepts
// European formats ("1.234,56"), euro signs and thousand separators, and
// reports false for "N/A", empty or non-numeric input.
func ParseNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case nil:
		return 0, false
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		return parseNumericString(v)
	default:
		return 0, false
	}
}

// ParseInt is ParseNumber truncated to an integer. Text with a fractional
// part ("2018,5") is rejected; decoded JSON numbers are truncated.
func ParseInt(value any) (int64, bool) {
	f, ok := ParseNumber(value)
	if !ok {
		return 0, false
	}
	if _, isText := value.(string); isText && f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

func parseNumericString(s string) (float64, bool) {
	trimmed := strings.ToUpper(strings.TrimSpace(s))
	if trimmed == models.NotAvailable || trimmed == "" {
		return 0, false
	}

	cleaned := strings.TrimSpace(strings.ReplaceAll(s, "€", ""))
	switch {
	case strings.Contains(cleaned, ",") && strings.Contains(cleaned, ".") &&
		strings.LastIndex(cleaned, ",") > strings.LastIndex(cleaned, "."):
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	case strings.Contains(cleaned, ","):
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	default:
		cleaned = strings.ReplaceAll(cleaned, ".", "")
	}

	if !numericRegexp.MatchString(cleaned) {
		return 0, false
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// IsBlank reports whether a text value is empty or the N/A placeholder.
func IsBlank(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || strings.EqualFold(s, models.NotAvailable)
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	s = strings.TrimSpace(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}
