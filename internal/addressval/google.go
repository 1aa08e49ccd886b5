package addressval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/moveops-platform/apps/migrator/internal/address"
)

const defaultGoogleEndpoint = "https://addressvalidation.googleapis.com/v1:validateAddress"

// Google calls the Address Validation API with USPS CASS enabled.
type Google struct {
	apiKey   string
	endpoint string
	client   HTTPDoer
}

func NewGoogle(apiKey string, client HTTPDoer) (*Google, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("google address validation requires an API key")
	}
	if client == nil {
		client = NewRetryClient(nil, 2, nil)
	}
	return &Google{apiKey: apiKey, endpoint: defaultGoogleEndpoint, client: client}, nil
}

// WithEndpoint points the client at another host, e.g. a test server.
func (g *Google) WithEndpoint(endpoint string) *Google {
	g.endpoint = endpoint
	return g
}

type googleRequest struct {
	Address        googlePostalAddress `json:"address"`
	EnableUspsCass bool                `json:"enableUspsCass"`
}

type googlePostalAddress struct {
	RegionCode         string   `json:"regionCode,omitempty"`
	AddressLines       []string `json:"addressLines,omitempty"`
	Locality           string   `json:"locality,omitempty"`
	AdministrativeArea string   `json:"administrativeArea,omitempty"`
	PostalCode         string   `json:"postalCode,omitempty"`
}

type googleResponse struct {
	Result struct {
		Verdict struct {
			AddressComplete          bool `json:"addressComplete"`
			HasInferredComponents    bool `json:"hasInferredComponents"`
			HasUnconfirmedComponents bool `json:"hasUnconfirmedComponents"`
		} `json:"verdict"`
		Address struct {
			PostalAddress googlePostalAddress `json:"postalAddress"`
		} `json:"address"`
		Geocode struct {
			Location *struct {
				Latitude  float64 `json:"latitude"`
				Longitude float64 `json:"longitude"`
			} `json:"location"`
		} `json:"geocode"`
		UspsData struct {
			County          string `json:"county"`
			DpvConfirmation string `json:"dpvConfirmation"`
		} `json:"uspsData"`
	} `json:"result"`
}

func (g *Google) Validate(ctx context.Context, parts address.Parts) (Result, error) {
	body, err := json.Marshal(googleRequest{
		Address: googlePostalAddress{
			RegionCode:         "US",
			AddressLines:       []string{parts.Street},
			Locality:           parts.City,
			AdministrativeArea: parts.State,
			PostalCode:         parts.Zip,
		},
		EnableUspsCass: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	reqURL := g.endpoint + "?key=" + url.QueryEscape(g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("address validation request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("address validation API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded googleResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	return g.result(parts, decoded), nil
}

func (g *Google) result(parts address.Parts, resp googleResponse) Result {
	verdict := resp.Result.Verdict
	confidence := Confidence(verdict.AddressComplete, verdict.HasInferredComponents, verdict.HasUnconfirmedComponents)

	postal := resp.Result.Address.PostalAddress
	std := Standardized{
		Street: parts.Street,
		City:   firstNonEmpty(postal.Locality, parts.City),
		State:  firstNonEmpty(postal.AdministrativeArea, parts.State),
		County: resp.Result.UspsData.County,
	}
	if len(postal.AddressLines) > 0 && postal.AddressLines[0] != "" {
		std.Street = postal.AddressLines[0]
	}
	std.Zip, std.Zip4 = address.Zip5(firstNonEmpty(postal.PostalCode, parts.Zip))
	if loc := resp.Result.Geocode.Location; loc != nil {
		lat, lng := loc.Latitude, loc.Longitude
		std.Latitude, std.Longitude = &lat, &lng
	}

	return Result{
		Valid:        confidence >= 0.5,
		Confidence:   confidence,
		Standardized: &std,
		DPVCode:      resp.Result.UspsData.DpvConfirmation,
		Source:       SourceGoogle,
	}
}

// Confidence scores a validation verdict between 0 and 1.
func Confidence(complete, inferred, unconfirmed bool) float64 {
	switch {
	case complete && !inferred && !unconfirmed:
		return 1.0
	case complete && !unconfirmed:
		return 0.85
	case complete:
		return 0.6
	case inferred:
		return 0.4
	default:
		return 0.2
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
