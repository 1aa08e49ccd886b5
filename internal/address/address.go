// Package address splits free-text US addresses and decides unit identity.
package address

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

type Parts struct {
	Street string `json:"street"`
	City   string `json:"city"`
	State  string `json:"state"`
	Zip    string `json:"zip"`
}

// Complete reports whether every component needed for a building key is set.
func (p Parts) Complete() bool {
	return p.Street != "" && p.City != "" && p.State != "" && p.Zip != ""
}

var (
	commaPattern   = regexp.MustCompile(`(?i)^(.+?),\s*(.+?),\s*([A-Z]{2})\s*,?\s*(\d{5}(?:-\d{4})?)$`)
	compactPattern = regexp.MustCompile(`(?i)^(.+?)\s+([A-Z]{2})\s+(\d{5}(?:-\d{4})?)$`)
	unitPattern    = regexp.MustCompile(`(?i)\s+((?:apt|apartment|unit|ste|suite)(?:\.\s*|\s+)|#\s*)([a-z0-9\-]+)$`)
	unitPrefix     = regexp.MustCompile(`^(?:APARTMENT|APT|UNIT|SUITE|STE|NUMBER|NO)(?:\.\s*|\s+)|^#\s*`)
	unitJunk       = regexp.MustCompile(`[^A-Z0-9\-]+`)
	spaces         = regexp.MustCompile(`\s+`)
)

var multiUnitTypes = map[string]struct{}{
	"condo":        {},
	"multi_family": {},
	"townhouse":    {},
}

// Parse splits "Street, City, ST 12345" and falls back to the comma-less
// "Street City ST 12345" form, taking the last word before the state as the
// city.
func Parse(text string) (Parts, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Parts{}, false
	}
	if m := commaPattern.FindStringSubmatch(trimmed); m != nil {
		return Parts{
			Street: strings.TrimSpace(m[1]),
			City:   strings.TrimSpace(m[2]),
			State:  strings.ToUpper(m[3]),
			Zip:    strings.TrimSpace(m[4]),
		}, true
	}
	if m := compactPattern.FindStringSubmatch(trimmed); m != nil {
		words := strings.Fields(m[1])
		if len(words) < 2 {
			return Parts{}, false
		}
		return Parts{
			Street: strings.Join(words[:len(words)-1], " "),
			City:   words[len(words)-1],
			State:  strings.ToUpper(m[2]),
			Zip:    strings.TrimSpace(m[3]),
		}, true
	}
	return Parts{}, false
}

// ExtractUnit removes a trailing unit designator from a street line and
// returns the building street plus the unit label as written ("Apt 4B").
func ExtractUnit(street string) (string, string) {
	trimmed := strings.TrimSpace(street)
	loc := unitPattern.FindStringSubmatchIndex(trimmed)
	if loc == nil {
		return trimmed, ""
	}
	building := strings.TrimRight(strings.TrimSpace(trimmed[:loc[0]]), ",")
	designator := strings.TrimSpace(trimmed[loc[2]:loc[3]])
	id := trimmed[loc[4]:loc[5]]
	if designator == "#" {
		return building, "#" + id
	}
	return building, strings.TrimSpace(designator + " " + id)
}

// NormalizeUnit reduces a unit label to its identity form: designators are
// dropped and only letters, digits and dashes remain. "Apt 4B" becomes "4B".
func NormalizeUnit(label string) string {
	v := strings.ToUpper(strings.TrimSpace(label))
	v = unitPrefix.ReplaceAllString(v, "")
	v = unitJunk.ReplaceAllString(v, "")
	return strings.Trim(v, "-")
}

// ShouldCreateUnit decides whether a unit record is genuine. Stray fragments
// on single-family addresses never qualify.
func ShouldCreateUnit(unitNorm, propertyType string, hasUnits bool) bool {
	if len(unitNorm) < 2 {
		return false
	}
	if hasUnits {
		return true
	}
	_, ok := multiUnitTypes[strings.ToLower(strings.TrimSpace(propertyType))]
	return ok
}

// Key builds the canonical building key STREET|CITY|ST|ZIP5.
func Key(p Parts) string {
	street, _ := ExtractUnit(p.Street)
	zip := strings.TrimSpace(p.Zip)
	if len(zip) > 5 {
		zip = zip[:5]
	}
	return strings.ToUpper(strings.Join([]string{
		collapse(street),
		collapse(p.City),
		collapse(p.State),
		zip,
	}, "|"))
}

// Hash fingerprints Key for the (owner, addr_hash) unique index.
func Hash(p Parts) string {
	sum := sha256.Sum256([]byte(Key(p)))
	return hex.EncodeToString(sum[:])
}

// Zip5 returns the five digit ZIP and the +4 extension if present.
func Zip5(zip string) (string, string) {
	zip = strings.TrimSpace(zip)
	if idx := strings.Index(zip, "-"); idx >= 0 {
		return zip[:idx], zip[idx+1:]
	}
	if len(zip) == 9 {
		return zip[:5], zip[5:]
	}
	return zip, ""
}

func collapse(value string) string {
	return spaces.ReplaceAllString(strings.TrimSpace(value), " ")
}
