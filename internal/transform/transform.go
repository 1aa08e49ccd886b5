// Package transform converts raw spreadsheet cells into normalized values.
//
// Every function here is pure. Apply never panics and returns nil when a
// cell carries no usable value, so callers can treat nil as "not provided".
package transform

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	xtransform "golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/moveops-platform/apps/migrator/internal/address"
)

type Kind string

const (
	KindNone          Kind = "none"
	KindTrim          Kind = "trim"
	KindUppercase     Kind = "uppercase"
	KindLowercase     Kind = "lowercase"
	KindTitlecase     Kind = "titlecase"
	KindNumber        Kind = "toNumber"
	KindMoney         Kind = "money"
	KindBoolean       Kind = "toBoolean"
	KindDate          Kind = "toDate"
	KindExtractDomain Kind = "extract_domain"
	KindSplitAddress  Kind = "split_address"
	KindHash          Kind = "hash"
	KindPhone         Kind = "phone"
	KindSplitList     Kind = "split_list"
	KindMap           Kind = "map"
)

var kindAliases = map[string]Kind{
	"":                KindNone,
	"none":            KindNone,
	"trim":            KindTrim,
	"upper":           KindUppercase,
	"uppercase":       KindUppercase,
	"lower":           KindLowercase,
	"lowercase":       KindLowercase,
	"title":           KindTitlecase,
	"titlecase":       KindTitlecase,
	"tonumber":        KindNumber,
	"number":          KindNumber,
	"money":           KindMoney,
	"currency":        KindMoney,
	"toboolean":       KindBoolean,
	"boolean":         KindBoolean,
	"bool":            KindBoolean,
	"todate":          KindDate,
	"date":            KindDate,
	"date_parse":      KindDate,
	"extract_domain":  KindExtractDomain,
	"extractdomain":   KindExtractDomain,
	"domain":          KindExtractDomain,
	"split_address":   KindSplitAddress,
	"address_split":   KindSplitAddress,
	"hash":            KindHash,
	"phone":           KindPhone,
	"split_list":      KindSplitList,
	"splitformsarray": KindSplitList,
	"map":             KindMap,
}

// ParseKind resolves a kind name case-insensitively. Unknown names fall back
// to KindNone with ok=false.
func ParseKind(name string) (Kind, bool) {
	kind, ok := kindAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return KindNone, false
	}
	return kind, true
}

func Apply(raw string, kind Kind, params map[string]any) any {
	if resolved, ok := ParseKind(string(kind)); ok {
		kind = resolved
	}
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil
	}

	switch kind {
	case KindTrim:
		return value
	case KindUppercase:
		return strings.ToUpper(value)
	case KindLowercase:
		return strings.ToLower(value)
	case KindTitlecase:
		return cases.Title(language.English).String(strings.ToLower(value))
	case KindNumber:
		if n, ok := ParseNumber(value); ok {
			return n
		}
		return nil
	case KindMoney:
		if amount, ok := ParseMoney(value); ok {
			return amount
		}
		return nil
	case KindBoolean:
		if b, ok := ParseBool(value); ok {
			return b
		}
		return nil
	case KindDate:
		if layout := paramString(params, "format"); layout != "" {
			if parsed, ok := parseDateLayout(value, layout); ok {
				return parsed
			}
		}
		if parsed, ok := ParseDate(value); ok {
			return parsed
		}
		return nil
	case KindExtractDomain:
		return nilIfEmpty(ExtractDomain(value))
	case KindSplitAddress:
		return splitAddress(value, paramString(params, "part"))
	case KindHash:
		return ShortHash(value, paramInt(params, "size"))
	case KindPhone:
		return nilIfEmpty(NormalizePhone(value))
	case KindSplitList:
		return splitList(value, paramString(params, "separator"))
	case KindMap:
		return mapValue(value, params)
	default:
		return raw
	}
}

// ExtractDomain returns the lower-cased host of an email address or URL.
func ExtractDomain(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return ""
	}
	if at := strings.LastIndex(v, "@"); at >= 0 {
		return strings.Trim(v[at+1:], " .>")
	}
	if idx := strings.Index(v, "://"); idx >= 0 {
		v = v[idx+3:]
	}
	if idx := strings.IndexAny(v, "/?#"); idx >= 0 {
		v = v[:idx]
	}
	if idx := strings.LastIndex(v, ":"); idx >= 0 {
		v = v[:idx]
	}
	v = strings.TrimPrefix(v, "www.")
	if !strings.Contains(v, ".") {
		return ""
	}
	return v
}

// CompanyKey folds a company name for equality matching. Case, accents,
// punctuation and whitespace are ignored.
func CompanyKey(name string) string {
	t := xtransform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := xtransform.String(t, name)
	if err != nil {
		folded = name
	}
	var b strings.Builder
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func NormalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func NormalizePhone(value string) string {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return ""
	}
	digits := make([]rune, 0, len(raw))
	for _, char := range raw {
		if char >= '0' && char <= '9' {
			digits = append(digits, char)
		}
	}
	return string(digits)
}

func ShortHash(value string, size int) string {
	sum := sha256.Sum256([]byte(value))
	encoded := hex.EncodeToString(sum[:])
	if size <= 0 || size >= len(encoded) {
		return encoded
	}
	return encoded[:size]
}

func ParseNumber(value string) (float64, bool) {
	cleaned := strings.NewReplacer("$", "", ",", "", " ", "", "%", "").Replace(strings.TrimSpace(value))
	if cleaned == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func ParseBool(value string) (bool, bool) {
	v := strings.ToLower(strings.TrimSpace(value))
	switch v {
	case "true", "t", "yes", "y", "1", "x", "checked", "on":
		return true, true
	case "false", "f", "no", "n", "0", "unchecked", "off":
		return false, true
	}
	switch {
	case strings.HasPrefix(v, "yes"):
		return true, true
	case strings.HasPrefix(v, "no"):
		return false, true
	}
	return false, false
}

func splitAddress(value, part string) any {
	parts, ok := address.Parse(value)
	if !ok {
		if part == "" || part == "street" {
			return value
		}
		return nil
	}
	street, unit := address.ExtractUnit(parts.Street)
	switch strings.ToLower(part) {
	case "city":
		return nilIfEmpty(parts.City)
	case "state":
		return nilIfEmpty(parts.State)
	case "zip":
		return nilIfEmpty(parts.Zip)
	case "unit":
		return nilIfEmpty(unit)
	case "full":
		return map[string]any{"street": street, "unit": unit, "city": parts.City, "state": parts.State, "zip": parts.Zip}
	default:
		return nilIfEmpty(street)
	}
}

func splitList(value, separator string) any {
	if separator == "" {
		separator = ","
	}
	items := strings.Split(value, separator)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// mapValue prefers an exact key, then the first key in sorted order that
// matches ignoring case and surrounding whitespace.
func mapValue(value string, params map[string]any) any {
	table, _ := params["values"].(map[string]any)
	if mapped, ok := table[value]; ok {
		return mapped
	}
	needle := strings.ToLower(value)
	for _, key := range slices.Sorted(maps.Keys(table)) {
		if strings.ToLower(strings.TrimSpace(key)) == needle {
			return table[key]
		}
	}
	if fallback, ok := params["default"]; ok {
		return fallback
	}
	return value
}

func paramString(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	switch v := params[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func paramInt(params map[string]any, key string) int {
	if params == nil {
		return 0
	}
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

func nilIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
