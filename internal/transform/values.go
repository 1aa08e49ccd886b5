package transform

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"2006/01/02",
	"01-02-2006",
	"1-2-2006",
	"1/2/06",
	"01/02/06",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"1/2/2006 15:04",
	"1/2/2006 3:04 PM",
	"Jan 2, 2006",
	"January 2, 2006",
	"2-Jan-2006",
	"02-Jan-06",
}

// ParseDate accepts the date shapes found in CRM and spreadsheet exports and
// returns the calendar day at UTC midnight. US month/day order wins for
// ambiguous slash dates.
func ParseDate(value string) (time.Time, bool) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if parsed, ok := parseDateLayout(raw, layout); ok {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func parseDateLayout(value, layout string) (time.Time, bool) {
	parsed, err := time.Parse(layout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC), true
}

// ParseMoney strips currency formatting and rounds to cents. Values in
// parentheses are negative, as accounting exports write them.
func ParseMoney(value string) (decimal.Decimal, bool) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return decimal.Zero, false
	}
	negative := strings.HasPrefix(raw, "(") && strings.HasSuffix(raw, ")")
	cleaned := strings.NewReplacer("$", "", ",", "", " ", "", "(", "", ")", "", "USD", "").Replace(raw)
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false
	}
	if negative {
		amount = amount.Neg()
	}
	return amount.Round(2), true
}

// AsString renders a transformed value back to text for fields that are
// stored as plain strings.
func AsString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case time.Time:
		return v.Format("2006-01-02")
	case decimal.Decimal:
		return v.StringFixed(2)
	case []string:
		return strings.Join(v, ", ")
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return decimal.NewFromFloat(v).String()
	case map[string]any:
		return addressLine(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// addressLine renders split_address parts as "Street Unit, City, ST Zip".
// Maps without address parts are rendered as JSON.
func addressLine(parts map[string]any) string {
	part := func(key string) string { return AsString(parts[key]) }
	street := strings.TrimSpace(part("street") + " " + part("unit"))
	region := strings.TrimSpace(part("state") + " " + part("zip"))
	line := make([]string, 0, 3)
	for _, piece := range []string{street, part("city"), region} {
		if piece != "" {
			line = append(line, piece)
		}
	}
	if len(line) > 0 {
		return strings.Join(line, ", ")
	}
	if len(parts) == 0 {
		return ""
	}
	encoded, err := json.Marshal(parts)
	if err != nil {
		return ""
	}
	return string(encoded)
}

// AsDate coerces a transformed value into a date.
func AsDate(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, !v.IsZero()
	case string:
		return ParseDate(v)
	}
	return time.Time{}, false
}

// AsMoney coerces a transformed value into a decimal amount.
func AsMoney(value any) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case decimal.Decimal:
		return v, true
	case float64:
		return decimal.NewFromFloat(v).Round(2), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case string:
		return ParseMoney(v)
	}
	return decimal.Zero, false
}

// AsBool coerces a transformed value into a boolean.
func AsBool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		return ParseBool(v)
	case float64:
		return v != 0, true
	}
	return false, false
}

// AsInt coerces a transformed value into a whole number.
func AsInt(value any) (int, bool) {
	switch v := value.(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case decimal.Decimal:
		return int(v.IntPart()), true
	case string:
		n, ok := ParseNumber(v)
		return int(n), ok
	}
	return 0, false
}
