// Package addressval standardizes US addresses through an external
// validation service.
package addressval

import (
	"context"
	"strings"

	"github.com/moveops-platform/apps/migrator/internal/address"
)

const (
	SourceGoogle = "google"
	SourceMock   = "mock"
)

// Standardized is the postal form of an address as returned by the service.
type Standardized struct {
	Street    string   `json:"street"`
	City      string   `json:"city"`
	State     string   `json:"state"`
	Zip       string   `json:"zip"`
	Zip4      string   `json:"zip4,omitempty"`
	County    string   `json:"county,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

func (s Standardized) Parts() address.Parts {
	return address.Parts{Street: s.Street, City: s.City, State: s.State, Zip: s.Zip}
}

type Result struct {
	Valid        bool          `json:"valid"`
	Confidence   float64       `json:"confidence"`
	Standardized *Standardized `json:"standardized,omitempty"`
	DPVCode      string        `json:"dpvCode,omitempty"`
	Source       string        `json:"source"`
}

// Validator checks an address. Implementations return an error on transport
// failure; callers degrade to the address as typed.
type Validator interface {
	Validate(ctx context.Context, parts address.Parts) (Result, error)
}

// Mock accepts any address whose components look plausibly complete and
// echoes it back upper-cased. It is meant for development and tests.
type Mock struct{}

func (Mock) Validate(ctx context.Context, parts address.Parts) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	valid := len(strings.TrimSpace(parts.Street)) > 5 &&
		len(strings.TrimSpace(parts.City)) > 2 &&
		len(strings.TrimSpace(parts.State)) >= 2 &&
		len(strings.TrimSpace(parts.Zip)) >= 5
	if !valid {
		return Result{Valid: false, Confidence: 0.2, Source: SourceMock}, nil
	}
	zip, zip4 := address.Zip5(parts.Zip)
	return Result{
		Valid:      true,
		Confidence: 0.85,
		Standardized: &Standardized{
			Street: strings.ToUpper(strings.TrimSpace(parts.Street)),
			City:   strings.ToUpper(strings.TrimSpace(parts.City)),
			State:  strings.ToUpper(strings.TrimSpace(parts.State)),
			Zip:    zip,
			Zip4:   zip4,
		},
		DPVCode: "Y",
		Source:  SourceMock,
	}, nil
}
